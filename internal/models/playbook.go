package models

import (
	"fmt"
	"time"
)

// Playbook status values recorded on the registry as a document moves
// through the ingestion pipeline.
const (
	StatusPending     = "PENDING"
	StatusStructuring = "STRUCTURING"
	StatusComplete    = "COMPLETE"
	StatusFallback    = "FALLBACK"
	StatusFailed      = "FAILED"
)

// StepType classifies a node in a phase's process map.
type StepType string

const (
	StepTypeStart     StepType = "start"
	StepTypeProcess   StepType = "process"
	StepTypeDecision  StepType = "decision"
	StepTypeApproval  StepType = "approval"
	StepTypeMilestone StepType = "milestone"
	StepTypeEnd       StepType = "end"
)

// Valid reports whether s is one of the known step types.
func (s StepType) Valid() bool {
	switch s {
	case StepTypeStart, StepTypeProcess, StepTypeDecision, StepTypeApproval, StepTypeMilestone, StepTypeEnd:
		return true
	}
	return false
}

// Phase is a chapter or section of a playbook. A non-empty Parent
// nests the phase one level below another phase.
type Phase struct {
	Name        string `json:"name" firestore:"name"`
	Description string `json:"description,omitempty" firestore:"description,omitempty"`
	Parent      string `json:"parent,omitempty" firestore:"parent,omitempty"`
	Order       int    `json:"order,omitempty" firestore:"order,omitempty"`
}

// PhaseHint names a phase the structuring model must map activities
// onto, used when the target playbook's taxonomy is already known.
type PhaseHint struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProcessStep is one activity within a phase. (PhaseID, StepID) is the
// natural key within a playbook.
type ProcessStep struct {
	PhaseID     string   `json:"phaseId" firestore:"phaseId"`
	StepID      string   `json:"stepId" firestore:"stepId"`
	Activity    string   `json:"activity" firestore:"activity"`
	Inputs      []string `json:"inputs,omitempty" firestore:"inputs,omitempty"`
	Outputs     []string `json:"outputs,omitempty" firestore:"outputs,omitempty"`
	Timeline    string   `json:"timeline,omitempty" firestore:"timeline,omitempty"`
	Responsible string   `json:"responsible,omitempty" firestore:"responsible,omitempty"`
	Comments    string   `json:"comments,omitempty" firestore:"comments,omitempty"`
}

// RaciRow assigns roles to one task. The role fields are free-text
// role names, not references to a role entity.
type RaciRow struct {
	PhaseID     string `json:"phaseId" firestore:"phaseId"`
	StepID      string `json:"stepId" firestore:"stepId"`
	Task        string `json:"task" firestore:"task"`
	Responsible string `json:"responsible,omitempty" firestore:"responsible,omitempty"`
	Accountable string `json:"accountable,omitempty" firestore:"accountable,omitempty"`
	Consulted   string `json:"consulted,omitempty" firestore:"consulted,omitempty"`
	Informed    string `json:"informed,omitempty" firestore:"informed,omitempty"`
}

// ProcessMapNode is one node of a phase's flow diagram. OrderIndex
// defines the draw order and must be unique within the phase.
type ProcessMapNode struct {
	PhaseID     string   `json:"phaseId" firestore:"phaseId"`
	StepID      string   `json:"stepId" firestore:"stepId"`
	StepType    StepType `json:"stepType" firestore:"stepType"`
	Title       string   `json:"title" firestore:"title"`
	Description string   `json:"description,omitempty" firestore:"description,omitempty"`
	OrderIndex  int      `json:"orderIndex" firestore:"orderIndex"`
}

// StructuredDocument is the pipeline's central work product: the
// structured content recovered from one source document. The JSON tags
// match the schema the structuring model is instructed to produce, so
// a model response unmarshals into it unmodified.
type StructuredDocument struct {
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Phases          map[string]Phase `json:"phases"`
	ProcessSteps    []ProcessStep    `json:"processSteps"`
	RaciEntries     []RaciRow        `json:"raciMatrix"`
	ProcessMapNodes []ProcessMapNode `json:"processMap"`
}

// Validate checks the structural invariants: a non-empty phase map,
// every row referencing a known phase, known step types, and unique
// order indices per phase.
func (d *StructuredDocument) Validate() error {
	if len(d.Phases) == 0 {
		return fmt.Errorf("document %q has no phases", d.Title)
	}
	for _, s := range d.ProcessSteps {
		if _, ok := d.Phases[s.PhaseID]; !ok {
			return fmt.Errorf("process step %s/%s references unknown phase", s.PhaseID, s.StepID)
		}
	}
	for _, r := range d.RaciEntries {
		if _, ok := d.Phases[r.PhaseID]; !ok {
			return fmt.Errorf("raci row %s/%s references unknown phase", r.PhaseID, r.StepID)
		}
	}
	seen := make(map[string]map[int]bool)
	for _, n := range d.ProcessMapNodes {
		if _, ok := d.Phases[n.PhaseID]; !ok {
			return fmt.Errorf("process map node %s/%s references unknown phase", n.PhaseID, n.StepID)
		}
		if !n.StepType.Valid() {
			return fmt.Errorf("process map node %s/%s has unknown step type %q", n.PhaseID, n.StepID, n.StepType)
		}
		if seen[n.PhaseID] == nil {
			seen[n.PhaseID] = make(map[int]bool)
		}
		if seen[n.PhaseID][n.OrderIndex] {
			return fmt.Errorf("duplicate order index %d in phase %s", n.OrderIndex, n.PhaseID)
		}
		seen[n.PhaseID][n.OrderIndex] = true
	}
	return nil
}

// Playbook is the persisted aggregate root for one ingested document.
// Name is the slug natural key; the row sets hang off it in their own
// collections keyed by (playbook, phase, step).
type Playbook struct {
	ID           string           `firestore:"-"`
	Name         string           `firestore:"name,omitempty"`
	Title        string           `firestore:"title,omitempty"`
	Description  string           `firestore:"description,omitempty"`
	Phases       map[string]Phase `firestore:"phases,omitempty"`
	FilePath     string           `firestore:"filePath,omitempty"`
	PageCount    int              `firestore:"pageCount,omitempty"`
	Status       string           `firestore:"status,omitempty"`
	ErrorDetails string           `firestore:"errorDetails,omitempty"`
	CreatedAt    time.Time        `firestore:"createdAt,omitempty"`
	UpdatedAt    time.Time        `firestore:"updatedAt,omitempty"`
}
