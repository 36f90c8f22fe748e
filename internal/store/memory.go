package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mvanrijn/playbookflow/internal/models"
)

// Memory is an in-process PlaybookStore. It backs the service tests
// and doubles as a local development target; the maps are guarded by a
// single mutex, which is plenty at the pipeline's concurrency levels.
type Memory struct {
	mu        sync.Mutex
	playbooks map[string]*models.Playbook
	steps     map[string]map[string]models.ProcessStep
	raci      map[string]map[string]models.RaciRow
	nodes     map[string]map[string]models.ProcessMapNode
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		playbooks: make(map[string]*models.Playbook),
		steps:     make(map[string]map[string]models.ProcessStep),
		raci:      make(map[string]map[string]models.RaciRow),
		nodes:     make(map[string]map[string]models.ProcessMapNode),
	}
}

func rowKey(phaseID, stepID string) string {
	return phaseID + "__" + stepID
}

func (m *Memory) GetPlaybook(ctx context.Context, slug string) (*models.Playbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pb, ok := m.playbooks[slug]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pb
	cp.Phases = copyPhases(pb.Phases)
	return &cp, nil
}

func (m *Memory) CreatePlaybook(ctx context.Context, pb *models.Playbook) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pb.Name == "" {
		return "", fmt.Errorf("store: playbook name must not be empty")
	}
	if _, ok := m.playbooks[pb.Name]; ok {
		return "", ErrAlreadyExists
	}
	cp := *pb
	cp.ID = pb.Name
	cp.Phases = copyPhases(pb.Phases)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.playbooks[pb.Name] = &cp
	return cp.ID, nil
}

func (m *Memory) MergePhases(ctx context.Context, id string, phases map[string]models.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pb, ok := m.playbooks[id]
	if !ok {
		return ErrNotFound
	}
	if pb.Phases == nil {
		pb.Phases = make(map[string]models.Phase)
	}
	for k, v := range phases {
		if _, exists := pb.Phases[k]; !exists {
			pb.Phases[k] = v
		}
	}
	pb.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetStatus(ctx context.Context, id, status, errDetails string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pb, ok := m.playbooks[id]
	if !ok {
		return ErrNotFound
	}
	pb.Status = status
	pb.ErrorDetails = errDetails
	pb.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetPageCount(ctx context.Context, id string, pages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pb, ok := m.playbooks[id]
	if !ok {
		return ErrNotFound
	}
	pb.PageCount = pages
	return nil
}

func (m *Memory) UpsertStep(ctx context.Context, id string, step models.ProcessStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playbooks[id]; !ok {
		return ErrNotFound
	}
	if m.steps[id] == nil {
		m.steps[id] = make(map[string]models.ProcessStep)
	}
	m.steps[id][rowKey(step.PhaseID, step.StepID)] = step
	return nil
}

func (m *Memory) UpsertRaci(ctx context.Context, id string, row models.RaciRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playbooks[id]; !ok {
		return ErrNotFound
	}
	if m.raci[id] == nil {
		m.raci[id] = make(map[string]models.RaciRow)
	}
	m.raci[id][rowKey(row.PhaseID, row.StepID)] = row
	return nil
}

func (m *Memory) UpsertMapNode(ctx context.Context, id string, node models.ProcessMapNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playbooks[id]; !ok {
		return ErrNotFound
	}
	if m.nodes[id] == nil {
		m.nodes[id] = make(map[string]models.ProcessMapNode)
	}
	m.nodes[id][rowKey(node.PhaseID, node.StepID)] = node
	return nil
}

func (m *Memory) DeletePhaseRows(ctx context.Context, id, phaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playbooks[id]; !ok {
		return ErrNotFound
	}
	for k, s := range m.steps[id] {
		if s.PhaseID == phaseID {
			delete(m.steps[id], k)
		}
	}
	for k, r := range m.raci[id] {
		if r.PhaseID == phaseID {
			delete(m.raci[id], k)
		}
	}
	for k, n := range m.nodes[id] {
		if n.PhaseID == phaseID {
			delete(m.nodes[id], k)
		}
	}
	return nil
}

func (m *Memory) CountRows(ctx context.Context, id string) (int, int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playbooks[id]; !ok {
		return 0, 0, 0, ErrNotFound
	}
	return len(m.steps[id]), len(m.raci[id]), len(m.nodes[id]), nil
}

// Steps returns a copy of a playbook's step rows, used by tests to
// inspect stored content.
func (m *Memory) Steps(id string) []models.ProcessStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ProcessStep, 0, len(m.steps[id]))
	for _, s := range m.steps[id] {
		out = append(out, s)
	}
	return out
}

// MapNodes returns a copy of a playbook's process map rows.
func (m *Memory) MapNodes(id string) []models.ProcessMapNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ProcessMapNode, 0, len(m.nodes[id]))
	for _, n := range m.nodes[id] {
		out = append(out, n)
	}
	return out
}

func copyPhases(in map[string]models.Phase) map[string]models.Phase {
	out := make(map[string]models.Phase, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
