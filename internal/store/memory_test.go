package store

import (
	"context"
	"errors"
	"testing"

	"github.com/mvanrijn/playbookflow/internal/models"
)

func newRegisteredMemory(t *testing.T, slug string) *Memory {
	t.Helper()
	m := NewMemory()
	_, err := m.CreatePlaybook(context.Background(), &models.Playbook{
		Name:   slug,
		Title:  "Test Playbook",
		Status: models.StatusPending,
		Phases: map[string]models.Phase{
			"chapter-1": {Name: "Preparation", Order: 1},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCreatePlaybookConflict(t *testing.T) {
	ctx := context.Background()
	m := newRegisteredMemory(t, "alpha")

	_, err := m.CreatePlaybook(ctx, &models.Playbook{Name: "alpha"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if _, err := m.CreatePlaybook(ctx, &models.Playbook{}); err == nil {
		t.Fatal("empty name must be rejected")
	}
}

func TestGetPlaybookNotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.GetPlaybook(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPlaybookReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := newRegisteredMemory(t, "alpha")

	pb, err := m.GetPlaybook(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	pb.Phases["chapter-9"] = models.Phase{Name: "Injected"}

	again, _ := m.GetPlaybook(ctx, "alpha")
	if _, ok := again.Phases["chapter-9"]; ok {
		t.Fatal("mutating a returned playbook must not affect the store")
	}
}

func TestMergePhasesNeverRemovesOrOverwrites(t *testing.T) {
	ctx := context.Background()
	m := newRegisteredMemory(t, "alpha")

	err := m.MergePhases(ctx, "alpha", map[string]models.Phase{
		"chapter-1": {Name: "Renamed", Order: 9},
		"chapter-2": {Name: "Execution", Order: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	pb, _ := m.GetPlaybook(ctx, "alpha")
	if len(pb.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(pb.Phases))
	}
	if pb.Phases["chapter-1"].Name != "Preparation" {
		t.Errorf("existing phase was overwritten: %+v", pb.Phases["chapter-1"])
	}
	if pb.Phases["chapter-2"].Name != "Execution" {
		t.Errorf("new phase not merged: %+v", pb.Phases["chapter-2"])
	}
}

func TestUpsertRowsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newRegisteredMemory(t, "alpha")

	step := models.ProcessStep{PhaseID: "chapter-1", StepID: "step-1", Activity: "Do the thing"}
	if err := m.UpsertStep(ctx, "alpha", step); err != nil {
		t.Fatal(err)
	}
	step.Activity = "Do the thing properly"
	if err := m.UpsertStep(ctx, "alpha", step); err != nil {
		t.Fatal(err)
	}

	if err := m.UpsertRaci(ctx, "alpha", models.RaciRow{PhaseID: "chapter-1", StepID: "step-1", Task: "Review"}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpsertMapNode(ctx, "alpha", models.ProcessMapNode{PhaseID: "chapter-1", StepID: "step-1", StepType: models.StepTypeProcess, Title: "Do", OrderIndex: 1}); err != nil {
		t.Fatal(err)
	}

	steps, raci, nodes, err := m.CountRows(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if steps != 1 || raci != 1 || nodes != 1 {
		t.Fatalf("counts = %d/%d/%d, want 1/1/1", steps, raci, nodes)
	}
	if got := m.Steps("alpha")[0].Activity; got != "Do the thing properly" {
		t.Errorf("upsert did not replace the row: %q", got)
	}
}

func TestUpsertRequiresPlaybook(t *testing.T) {
	m := NewMemory()
	err := m.UpsertStep(context.Background(), "ghost", models.ProcessStep{PhaseID: "chapter-1", StepID: "step-1"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeletePhaseRows(t *testing.T) {
	ctx := context.Background()
	m := newRegisteredMemory(t, "alpha")

	for _, phase := range []string{"chapter-1", "chapter-2"} {
		if err := m.UpsertStep(ctx, "alpha", models.ProcessStep{PhaseID: phase, StepID: "step-1"}); err != nil {
			t.Fatal(err)
		}
		if err := m.UpsertRaci(ctx, "alpha", models.RaciRow{PhaseID: phase, StepID: "step-1"}); err != nil {
			t.Fatal(err)
		}
		if err := m.UpsertMapNode(ctx, "alpha", models.ProcessMapNode{PhaseID: phase, StepID: "step-1", StepType: models.StepTypeProcess, OrderIndex: 1}); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.DeletePhaseRows(ctx, "alpha", "chapter-1"); err != nil {
		t.Fatal(err)
	}

	steps, raci, nodes, _ := m.CountRows(ctx, "alpha")
	if steps != 1 || raci != 1 || nodes != 1 {
		t.Fatalf("counts after delete = %d/%d/%d, want 1/1/1", steps, raci, nodes)
	}
	for _, s := range m.Steps("alpha") {
		if s.PhaseID == "chapter-1" {
			t.Errorf("row for deleted phase survived: %+v", s)
		}
	}
}

func TestSetStatusAndPageCount(t *testing.T) {
	ctx := context.Background()
	m := newRegisteredMemory(t, "alpha")

	if err := m.SetStatus(ctx, "alpha", models.StatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPageCount(ctx, "alpha", 42); err != nil {
		t.Fatal(err)
	}

	pb, _ := m.GetPlaybook(ctx, "alpha")
	if pb.Status != models.StatusFailed || pb.ErrorDetails != "boom" {
		t.Errorf("status not recorded: %+v", pb)
	}
	if pb.PageCount != 42 {
		t.Errorf("page count = %d, want 42", pb.PageCount)
	}

	// A later successful run clears the stale error text.
	if err := m.SetStatus(ctx, "alpha", models.StatusComplete, ""); err != nil {
		t.Fatal(err)
	}
	pb, _ = m.GetPlaybook(ctx, "alpha")
	if pb.Status != models.StatusComplete || pb.ErrorDetails != "" {
		t.Errorf("error details not cleared: %+v", pb)
	}

	if err := m.SetStatus(ctx, "ghost", models.StatusFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
