package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvanrijn/playbookflow/internal/models"
	"github.com/mvanrijn/playbookflow/internal/store"
)

// Persister writes a structured document's phases and row sets into
// the store, keyed by (playbook, phase, step) so reprocessing the same
// source converges instead of duplicating rows.
type Persister struct {
	store store.PlaybookStore
}

// NewPersister wires the store.
func NewPersister(st store.PlaybookStore) *Persister {
	return &Persister{store: st}
}

// PersistResult summarises one persist call.
type PersistResult struct {
	PlaybookID  string
	Created     bool
	StepRows    int
	RaciRows    int
	MapNodeRows int
	OrphanRows  int
}

// Persist creates or reuses the playbook registered under slug, merges
// the document's phases into it, and upserts the three row sets. All
// three sets are attempted even when one fails; the joined error is
// returned after the loop and the playbook is marked FAILED. Rows
// whose phase id is not in the merged phase map are skipped and
// counted, never written.
func (p *Persister) Persist(ctx context.Context, slug, filePath string, doc *models.StructuredDocument) (*PersistResult, error) {
	logCtx := slog.With("playbookSlug", slug)

	mergedPhases := make(map[string]models.Phase, len(doc.Phases))
	for id, ph := range doc.Phases {
		mergedPhases[id] = ph
	}

	result := &PersistResult{}

	existing, err := p.store.GetPlaybook(ctx, slug)
	switch {
	case err == nil:
		result.PlaybookID = existing.ID
		for id, ph := range existing.Phases {
			mergedPhases[id] = ph
		}
		if err := p.store.MergePhases(ctx, existing.ID, doc.Phases); err != nil {
			return nil, fmt.Errorf("failed to merge phases into playbook %q: %w", slug, err)
		}
	case errors.Is(err, store.ErrNotFound):
		id, createErr := p.store.CreatePlaybook(ctx, &models.Playbook{
			Name:        slug,
			Title:       doc.Title,
			Description: doc.Description,
			Phases:      doc.Phases,
			FilePath:    filePath,
			Status:      models.StatusStructuring,
		})
		if errors.Is(createErr, store.ErrAlreadyExists) {
			// Lost a create race; the natural key constraint turned it
			// into a conflict. Reuse the winner's row.
			winner, getErr := p.store.GetPlaybook(ctx, slug)
			if getErr != nil {
				return nil, fmt.Errorf("playbook %q exists but could not be read: %w", slug, getErr)
			}
			id = winner.ID
			for phID, ph := range winner.Phases {
				mergedPhases[phID] = ph
			}
			if err := p.store.MergePhases(ctx, id, doc.Phases); err != nil {
				return nil, fmt.Errorf("failed to merge phases into playbook %q: %w", slug, err)
			}
		} else if createErr != nil {
			return nil, fmt.Errorf("failed to create playbook %q: %w", slug, createErr)
		} else {
			result.Created = true
		}
		result.PlaybookID = id
	default:
		return nil, fmt.Errorf("failed to look up playbook %q: %w", slug, err)
	}

	var writeErrs []error
	id := result.PlaybookID

	for _, step := range doc.ProcessSteps {
		if _, ok := mergedPhases[step.PhaseID]; !ok {
			logCtx.Warn("Skipping process step referencing unknown phase.", "phaseId", step.PhaseID, "stepId", step.StepID)
			result.OrphanRows++
			continue
		}
		if err := withRetry(ctx, func() error { return p.store.UpsertStep(ctx, id, step) }); err != nil {
			writeErrs = append(writeErrs, err)
			continue
		}
		result.StepRows++
	}

	for _, row := range doc.RaciEntries {
		if _, ok := mergedPhases[row.PhaseID]; !ok {
			logCtx.Warn("Skipping raci row referencing unknown phase.", "phaseId", row.PhaseID, "stepId", row.StepID)
			result.OrphanRows++
			continue
		}
		if err := withRetry(ctx, func() error { return p.store.UpsertRaci(ctx, id, row) }); err != nil {
			writeErrs = append(writeErrs, err)
			continue
		}
		result.RaciRows++
	}

	for _, node := range doc.ProcessMapNodes {
		if _, ok := mergedPhases[node.PhaseID]; !ok {
			logCtx.Warn("Skipping process map node referencing unknown phase.", "phaseId", node.PhaseID, "stepId", node.StepID)
			result.OrphanRows++
			continue
		}
		if err := withRetry(ctx, func() error { return p.store.UpsertMapNode(ctx, id, node) }); err != nil {
			writeErrs = append(writeErrs, err)
			continue
		}
		result.MapNodeRows++
	}

	if len(writeErrs) > 0 {
		joined := errors.Join(writeErrs...)
		logCtx.Error("Row writes failed after retries.", "error", joined, "failedRows", len(writeErrs))
		if err := p.store.SetStatus(ctx, id, models.StatusFailed, joined.Error()); err != nil {
			logCtx.Error("CRITICAL: Failed to record FAILED status after write errors.", "updateError", err)
		}
		return result, fmt.Errorf("playbook %q: %d row writes failed: %w", slug, len(writeErrs), joined)
	}

	return result, nil
}

// ResetPhase clears all stored rows for one phase. The maintenance
// path uses it before regenerating a known, hand-authored chapter so
// stale rows from prior partial runs don't survive.
func (p *Persister) ResetPhase(ctx context.Context, playbookID, phaseID string) error {
	slog.Info("Resetting phase rows.", "playbookId", playbookID, "phaseId", phaseID)
	if err := p.store.DeletePhaseRows(ctx, playbookID, phaseID); err != nil {
		return fmt.Errorf("failed to reset phase %q of playbook %q: %w", phaseID, playbookID, err)
	}
	return nil
}

// withRetry runs fn up to three times with doubling backoff,
// respecting context cancellation between attempts.
func withRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	backoff := 500 * time.Millisecond
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == maxRetries-1 {
			break
		}
		slog.Warn("Store write failed, will retry.", "attempt", i+1, "maxRetries", maxRetries, "backoff", backoff.String(), "error", lastErr)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
