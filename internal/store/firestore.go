package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mvanrijn/playbookflow/internal/models"
)

// Collection names for the playbook registry and its row sets.
const (
	CollectionPlaybooks = "playbooks"
	CollectionSteps     = "processSteps"
	CollectionRaci      = "raciEntries"
	CollectionMapNodes  = "processMapNodes"
)

// Firestore implements PlaybookStore on Cloud Firestore. The playbook
// slug is the document ID, so a concurrent double-create surfaces as
// an AlreadyExists conflict instead of a duplicate row. Row documents
// use the composite natural key as their ID, which makes Set an
// idempotent upsert.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore wraps an explicitly constructed Firestore client.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

type stepDoc struct {
	PlaybookID string `firestore:"playbookId"`
	models.ProcessStep
}

type raciDoc struct {
	PlaybookID string `firestore:"playbookId"`
	models.RaciRow
}

type mapNodeDoc struct {
	PlaybookID string `firestore:"playbookId"`
	models.ProcessMapNode
}

func rowDocID(playbookID, phaseID, stepID string) string {
	return fmt.Sprintf("%s__%s__%s", playbookID, phaseID, stepID)
}

func (s *Firestore) GetPlaybook(ctx context.Context, slug string) (*models.Playbook, error) {
	snap, err := s.client.Collection(CollectionPlaybooks).Doc(slug).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get playbook %q: %w", slug, err)
	}
	var pb models.Playbook
	if err := snap.DataTo(&pb); err != nil {
		return nil, fmt.Errorf("decode playbook %q: %w", slug, err)
	}
	pb.ID = snap.Ref.ID
	return &pb, nil
}

func (s *Firestore) CreatePlaybook(ctx context.Context, pb *models.Playbook) (string, error) {
	if pb.Name == "" {
		return "", fmt.Errorf("store: playbook name must not be empty")
	}
	doc := *pb
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.UpdatedAt = doc.CreatedAt
	_, err := s.client.Collection(CollectionPlaybooks).Doc(pb.Name).Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return "", ErrAlreadyExists
	}
	if err != nil {
		return "", fmt.Errorf("create playbook %q: %w", pb.Name, err)
	}
	return pb.Name, nil
}

func (s *Firestore) MergePhases(ctx context.Context, id string, phases map[string]models.Phase) error {
	ref := s.client.Collection(CollectionPlaybooks).Doc(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var pb models.Playbook
		if err := snap.DataTo(&pb); err != nil {
			return err
		}
		if pb.Phases == nil {
			pb.Phases = make(map[string]models.Phase)
		}
		for k, v := range phases {
			if _, exists := pb.Phases[k]; !exists {
				pb.Phases[k] = v
			}
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "phases", Value: pb.Phases},
			{Path: "updatedAt", Value: time.Now()},
		})
	})
}

func (s *Firestore) SetStatus(ctx context.Context, id, statusVal, errDetails string) error {
	// errorDetails is always written so a successful run clears any
	// stale error text from a prior FAILED run.
	updates := []firestore.Update{
		{Path: "status", Value: statusVal},
		{Path: "errorDetails", Value: errDetails},
		{Path: "updatedAt", Value: time.Now()},
	}
	_, err := s.client.Collection(CollectionPlaybooks).Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (s *Firestore) SetPageCount(ctx context.Context, id string, pages int) error {
	_, err := s.client.Collection(CollectionPlaybooks).Doc(id).Update(ctx, []firestore.Update{
		{Path: "pageCount", Value: pages},
	})
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (s *Firestore) UpsertStep(ctx context.Context, id string, step models.ProcessStep) error {
	ref := s.client.Collection(CollectionSteps).Doc(rowDocID(id, step.PhaseID, step.StepID))
	_, err := ref.Set(ctx, stepDoc{PlaybookID: id, ProcessStep: step})
	if err != nil {
		return fmt.Errorf("upsert step %s/%s: %w", step.PhaseID, step.StepID, err)
	}
	return nil
}

func (s *Firestore) UpsertRaci(ctx context.Context, id string, row models.RaciRow) error {
	ref := s.client.Collection(CollectionRaci).Doc(rowDocID(id, row.PhaseID, row.StepID))
	_, err := ref.Set(ctx, raciDoc{PlaybookID: id, RaciRow: row})
	if err != nil {
		return fmt.Errorf("upsert raci row %s/%s: %w", row.PhaseID, row.StepID, err)
	}
	return nil
}

func (s *Firestore) UpsertMapNode(ctx context.Context, id string, node models.ProcessMapNode) error {
	ref := s.client.Collection(CollectionMapNodes).Doc(rowDocID(id, node.PhaseID, node.StepID))
	_, err := ref.Set(ctx, mapNodeDoc{PlaybookID: id, ProcessMapNode: node})
	if err != nil {
		return fmt.Errorf("upsert map node %s/%s: %w", node.PhaseID, node.StepID, err)
	}
	return nil
}

func (s *Firestore) DeletePhaseRows(ctx context.Context, id, phaseID string) error {
	bw := s.client.BulkWriter(ctx)
	for _, coll := range []string{CollectionSteps, CollectionRaci, CollectionMapNodes} {
		it := s.client.Collection(coll).
			Where("playbookId", "==", id).
			Where("phaseId", "==", phaseID).
			Documents(ctx)
		for {
			snap, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				bw.End()
				return fmt.Errorf("list %s rows for phase %s: %w", coll, phaseID, err)
			}
			if _, err := bw.Delete(snap.Ref); err != nil {
				bw.End()
				return fmt.Errorf("delete %s row %s: %w", coll, snap.Ref.ID, err)
			}
		}
	}
	bw.End()
	return nil
}

func (s *Firestore) CountRows(ctx context.Context, id string) (int, int, int, error) {
	var counts [3]int
	for i, coll := range []string{CollectionSteps, CollectionRaci, CollectionMapNodes} {
		docs, err := s.client.Collection(coll).Where("playbookId", "==", id).Documents(ctx).GetAll()
		if err != nil {
			return 0, 0, 0, fmt.Errorf("count %s rows: %w", coll, err)
		}
		counts[i] = len(docs)
	}
	return counts[0], counts[1], counts[2], nil
}
