// Package store defines the persistence contract the ingestion
// pipeline writes through, with a Firestore implementation for
// production and an in-memory one for tests and local runs.
package store

import (
	"context"
	"errors"

	"github.com/mvanrijn/playbookflow/internal/models"
)

var (
	// ErrNotFound is returned when no playbook exists for a slug or id.
	ErrNotFound = errors.New("store: playbook not found")
	// ErrAlreadyExists is returned by CreatePlaybook when the slug is
	// already registered. Callers treat it as "reuse the existing row",
	// which turns a concurrent create race into a benign conflict.
	ErrAlreadyExists = errors.New("store: playbook already exists")
)

// PlaybookStore is the store contract for the playbook aggregate and
// its three row sets. Implementations must enforce uniqueness on the
// playbook slug and on each row set's (playbook, phase, step) key, so
// that upserts by natural key are idempotent.
type PlaybookStore interface {
	// GetPlaybook looks up a playbook by its slug natural key.
	GetPlaybook(ctx context.Context, slug string) (*models.Playbook, error)

	// CreatePlaybook registers a new playbook keyed by pb.Name and
	// returns its id. Returns ErrAlreadyExists on a slug conflict.
	CreatePlaybook(ctx context.Context, pb *models.Playbook) (string, error)

	// MergePhases unions the given phases into the stored phase map.
	// Existing phases are never removed.
	MergePhases(ctx context.Context, id string, phases map[string]models.Phase) error

	// SetStatus records the pipeline status and error details. An empty
	// errDetails clears any previously recorded error text.
	SetStatus(ctx context.Context, id, status, errDetails string) error

	// SetPageCount records source-document page metadata.
	SetPageCount(ctx context.Context, id string, pages int) error

	// Upserts by (playbook, phase, step): update in place if the key
	// exists, insert otherwise.
	UpsertStep(ctx context.Context, id string, step models.ProcessStep) error
	UpsertRaci(ctx context.Context, id string, row models.RaciRow) error
	UpsertMapNode(ctx context.Context, id string, node models.ProcessMapNode) error

	// DeletePhaseRows clears all three row sets for one phase. Used by
	// the maintenance reset path before regenerating a chapter.
	DeletePhaseRows(ctx context.Context, id, phaseID string) error

	// CountRows returns the row counts for one playbook.
	CountRows(ctx context.Context, id string) (steps, raci, nodes int, err error)
}
