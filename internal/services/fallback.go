package services

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mvanrijn/playbookflow/internal/models"
)

// The fallback generator trades content fidelity for total
// availability: when extraction or structuring fails, the pipeline
// still persists a deterministic, schema-valid playbook skeleton that
// a subject-matter expert can fill in. This is the documented behavior
// for unusable sources, not an error path.

// roleSet holds the RACI role names for one document type.
type roleSet struct {
	Responsible string
	Accountable string
	Consulted   string
	Informed    string
}

// docTypeKeywords maps filename keywords to a document type, checked
// in order. Unmatched filenames classify as "procedure".
var docTypeKeywords = []struct {
	keyword string
	docType string
}{
	{"commissioning", "commissioning"},
	{"installation", "installation"},
	{"install", "installation"},
	{"maintenance", "maintenance"},
	{"testing", "testing"},
	{"test", "testing"},
}

var fallbackRoles = map[string]roleSet{
	"commissioning": {
		Responsible: "Commissioning Engineer",
		Accountable: "Project Manager",
		Consulted:   "Design Engineer",
		Informed:    "Client Representative",
	},
	"installation": {
		Responsible: "Installation Supervisor",
		Accountable: "Site Manager",
		Consulted:   "Design Engineer",
		Informed:    "QA Inspector",
	},
	"maintenance": {
		Responsible: "Maintenance Technician",
		Accountable: "Maintenance Manager",
		Consulted:   "Reliability Engineer",
		Informed:    "Operations Team",
	},
	"testing": {
		Responsible: "Test Engineer",
		Accountable: "QA Manager",
		Consulted:   "Design Engineer",
		Informed:    "Project Manager",
	},
	"procedure": {
		Responsible: "Process Owner",
		Accountable: "Department Manager",
		Consulted:   "Subject Matter Expert",
		Informed:    "Stakeholders",
	},
}

// defaultPhases is the generic chapter skeleton used when no phase
// taxonomy is known for the document.
var defaultPhases = []models.PhaseHint{
	{ID: "chapter-1", Name: "Preparation"},
	{ID: "chapter-2", Name: "Execution"},
	{ID: "chapter-3", Name: "Review and Close-out"},
}

// ClassifyDocument maps a filename onto the fallback document-type
// vocabulary.
func ClassifyDocument(filename string) string {
	lower := strings.ToLower(filename)
	for _, kw := range docTypeKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.docType
		}
	}
	return "procedure"
}

// FallbackDocument deterministically synthesises a schema-valid
// structured document for the given source filename. When known is
// non-empty it reuses that phase taxonomy; otherwise it emits the
// generic chapter skeleton. Pure function, no I/O, never fails.
func FallbackDocument(filename string, known []models.PhaseHint) models.StructuredDocument {
	docType := ClassifyDocument(filename)
	roles := fallbackRoles[docType]
	title := titleFromFilename(filename)

	hints := known
	if len(hints) == 0 {
		hints = defaultPhases
	}

	doc := models.StructuredDocument{
		Title:       title,
		Description: fmt.Sprintf("Generated %s playbook skeleton for %s. Content could not be extracted from the source document; review and complete each phase.", docType, title),
		Phases:      make(map[string]models.Phase, len(hints)),
	}

	for i, hint := range hints {
		doc.Phases[hint.ID] = models.Phase{Name: hint.Name, Order: i + 1}

		activity := fmt.Sprintf("Carry out the %s activities for %s", strings.ToLower(hint.Name), strings.ToLower(docType))
		doc.ProcessSteps = append(doc.ProcessSteps, models.ProcessStep{
			PhaseID:     hint.ID,
			StepID:      "step-1",
			Activity:    activity,
			Inputs:      []string{"Source document", "Applicable standards"},
			Outputs:     []string{"Completed checklist", "Sign-off record"},
			Timeline:    "To be determined",
			Responsible: roles.Responsible,
			Comments:    "Auto-generated placeholder; replace with extracted content.",
		})
		doc.RaciEntries = append(doc.RaciEntries, models.RaciRow{
			PhaseID:     hint.ID,
			StepID:      "step-1",
			Task:        activity,
			Responsible: roles.Responsible,
			Accountable: roles.Accountable,
			Consulted:   roles.Consulted,
			Informed:    roles.Informed,
		})

		doc.ProcessMapNodes = append(doc.ProcessMapNodes,
			models.ProcessMapNode{
				PhaseID:    hint.ID,
				StepID:     "start",
				StepType:   models.StepTypeStart,
				Title:      fmt.Sprintf("Start %s", hint.Name),
				OrderIndex: 1,
			},
			models.ProcessMapNode{
				PhaseID:     hint.ID,
				StepID:      "step-1",
				StepType:    models.StepTypeProcess,
				Title:       activity,
				Description: "Placeholder process step.",
				OrderIndex:  2,
			},
			models.ProcessMapNode{
				PhaseID:    hint.ID,
				StepID:     "end",
				StepType:   models.StepTypeEnd,
				Title:      fmt.Sprintf("Complete %s", hint.Name),
				OrderIndex: 3,
			},
		)
	}

	return doc
}

// PhaseHints converts a stored phase map into the ordered hint slice
// the structurer and fallback take as a known taxonomy. Phases sort by
// their stored order, then by id for stability.
func PhaseHints(phases map[string]models.Phase) []models.PhaseHint {
	hints := make([]models.PhaseHint, 0, len(phases))
	for id, p := range phases {
		hints = append(hints, models.PhaseHint{ID: id, Name: p.Name})
	}
	order := func(id string) int {
		return phases[id].Order
	}
	sort.Slice(hints, func(i, j int) bool {
		if order(hints[i].ID) != order(hints[j].ID) {
			return order(hints[i].ID) < order(hints[j].ID)
		}
		return hints[i].ID < hints[j].ID
	})
	return hints
}

// titleFromFilename turns "commissioning_procedure.pdf" into
// "Commissioning Procedure".
func titleFromFilename(filename string) string {
	base := path.Base(filename)
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)
	words := strings.Fields(base)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	if len(words) == 0 {
		return "Untitled Playbook"
	}
	return strings.Join(words, " ")
}
