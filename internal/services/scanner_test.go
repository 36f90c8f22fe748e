package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mvanrijn/playbookflow/internal/gcp"
	"github.com/mvanrijn/playbookflow/internal/models"
	"github.com/mvanrijn/playbookflow/internal/store"
)

// fakeObjects is an in-memory ObjectStore.
type fakeObjects struct {
	objects  []gcp.ObjectInfo
	data     map[string][]byte
	listErr  error
	readErr  map[string]error
	archived []string
}

func (f *fakeObjects) List(ctx context.Context, prefix string) ([]gcp.ObjectInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.objects, nil
}

func (f *fakeObjects) Read(ctx context.Context, name string) ([]byte, error) {
	if err := f.readErr[name]; err != nil {
		return nil, err
	}
	return f.data[name], nil
}

func (f *fakeObjects) Archive(ctx context.Context, name string) error {
	f.archived = append(f.archived, name)
	return nil
}

// fakeStructurer scripts the structuring step and records the phase
// hints it was called with.
type fakeStructurer struct {
	fn    func(text string, hints []models.PhaseHint) (*models.StructuredDocument, error)
	hints [][]models.PhaseHint
}

func (f *fakeStructurer) Structure(ctx context.Context, text string, hints []models.PhaseHint) (*models.StructuredDocument, error) {
	f.hints = append(f.hints, hints)
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(text, hints)
}

func newFakeObjects(names ...string) *fakeObjects {
	f := &fakeObjects{data: make(map[string][]byte), readErr: make(map[string]error)}
	for _, n := range names {
		f.objects = append(f.objects, gcp.ObjectInfo{Name: n, Size: 4})
		// Short unparseable bytes: extraction yields the placeholder,
		// which names the source file, so the fake structurer can key
		// off the document identity.
		f.data[n] = []byte("%!")
	}
	return f
}

func newTestScanner(objects ObjectStore, structurer DocumentStructurer, mem *store.Memory) *Scanner {
	return NewScanner(objects, structurer, NewPersister(mem), mem, nil, ScannerConfig{})
}

func structuredDocFor(title string) *models.StructuredDocument {
	doc := sampleDoc()
	doc.Title = title
	return doc
}

func TestScanProcessesNewDocuments(t *testing.T) {
	objects := newFakeObjects("alpha_procedure.pdf", "beta_manual.pdf")
	structurer := &fakeStructurer{fn: func(text string, hints []models.PhaseHint) (*models.StructuredDocument, error) {
		return structuredDocFor("Structured"), nil
	}}
	mem := store.NewMemory()

	result, err := newTestScanner(objects, structurer, mem).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 2 || result.Skipped != 0 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.PlaybookIDs) != 2 {
		t.Fatalf("expected 2 playbook ids, got %v", result.PlaybookIDs)
	}

	pb, err := mem.GetPlaybook(context.Background(), "alpha_procedure")
	if err != nil {
		t.Fatal(err)
	}
	if pb.Status != models.StatusComplete {
		t.Errorf("status = %q, want %q", pb.Status, models.StatusComplete)
	}
	if len(objects.archived) != 2 {
		t.Errorf("expected both sources archived, got %v", objects.archived)
	}
}

func TestScanReusesRegisteredPlaybooks(t *testing.T) {
	objects := newFakeObjects("alpha_procedure.pdf", "beta_manual.pdf")
	structurer := &fakeStructurer{}
	mem := store.NewMemory()
	scanner := newTestScanner(objects, structurer, mem)

	first, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if second.Processed != 0 || second.Skipped != 2 {
		t.Fatalf("second scan should skip both documents: %+v", second)
	}
	if len(second.PlaybookIDs) != 2 {
		t.Fatalf("skipped documents must still report their ids: %v", second.PlaybookIDs)
	}
	for _, id := range second.PlaybookIDs {
		var found bool
		for _, firstID := range first.PlaybookIDs {
			if id == firstID {
				found = true
			}
		}
		if !found {
			t.Errorf("second scan returned unknown playbook id %q", id)
		}
	}
}

func TestScanDuplicateNaturalKeyInBatch(t *testing.T) {
	// Two source files slugifying to the same natural key must not
	// create two playbooks.
	objects := newFakeObjects("report.pdf", "report.docx")
	mem := store.NewMemory()

	result, err := newTestScanner(objects, &fakeStructurer{}, mem).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected 1 processed document, got %+v", result)
	}
	if _, err := mem.GetPlaybook(context.Background(), "report"); err != nil {
		t.Fatal(err)
	}
}

func TestScanPartialFailureIsolation(t *testing.T) {
	objects := newFakeObjects("doc_one.pdf", "doc_two.pdf", "doc_three.pdf")
	structurer := &fakeStructurer{fn: func(text string, hints []models.PhaseHint) (*models.StructuredDocument, error) {
		if strings.Contains(text, "doc_two") {
			return nil, errors.New("completion endpoint exploded")
		}
		return structuredDocFor("Structured"), nil
	}}
	mem := store.NewMemory()

	result, err := newTestScanner(objects, structurer, mem).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 3 || result.Failed != 0 {
		t.Fatalf("structuring failure must fall back, not fail the document: %+v", result)
	}

	// Documents one and three took the structured path.
	one, _ := mem.GetPlaybook(context.Background(), "doc_one")
	if one.Status != models.StatusComplete {
		t.Errorf("doc_one status = %q, want %q", one.Status, models.StatusComplete)
	}

	// Document two took the fallback path.
	two, _ := mem.GetPlaybook(context.Background(), "doc_two")
	if two.Status != models.StatusFallback {
		t.Errorf("doc_two status = %q, want %q", two.Status, models.StatusFallback)
	}
	steps := mem.Steps(two.ID)
	if len(steps) == 0 {
		t.Fatal("fallback document produced no step rows")
	}
	for _, s := range steps {
		if s.Responsible != "Process Owner" {
			t.Errorf("fallback step responsible = %q, want Process Owner", s.Responsible)
		}
	}
}

func TestScanFiltersUnsupportedExtensions(t *testing.T) {
	objects := newFakeObjects("procedure.pdf", "notes.txt", "diagram.png")
	mem := store.NewMemory()

	result, err := newTestScanner(objects, &fakeStructurer{}, mem).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 1 {
		t.Fatalf("only the pdf should be processed: %+v", result)
	}
	if _, err := mem.GetPlaybook(context.Background(), "notes"); !errors.Is(err, store.ErrNotFound) {
		t.Error("unsupported source was registered")
	}
}

func TestScanListFailureAborts(t *testing.T) {
	objects := &fakeObjects{listErr: errors.New("bucket unreachable")}
	mem := store.NewMemory()

	if _, err := newTestScanner(objects, &fakeStructurer{}, mem).Scan(context.Background()); err == nil {
		t.Fatal("listing failure must abort the scan")
	}
}

func TestScanUnreadableSourceIsIsolated(t *testing.T) {
	objects := newFakeObjects("good.pdf", "bad.pdf")
	objects.readErr["bad.pdf"] = errors.New("object corrupted")
	mem := store.NewMemory()

	result, err := newTestScanner(objects, &fakeStructurer{}, mem).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Status != "partial" {
		t.Errorf("status = %q, want partial", result.Status)
	}
}

func TestScanCancelledBetweenDocuments(t *testing.T) {
	objects := newFakeObjects("one.pdf", "two.pdf")
	mem := store.NewMemory()
	scanner := newTestScanner(objects, &fakeStructurer{}, mem)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, _ := scanner.Scan(ctx)
	if result != nil && result.Processed != 0 {
		t.Fatalf("cancelled scan must not process documents: %+v", result)
	}
}

func TestProcessObjectUsesStoredTaxonomy(t *testing.T) {
	objects := newFakeObjects("ops_manual.pdf")
	structurer := &fakeStructurer{}
	mem := store.NewMemory()
	scanner := newTestScanner(objects, structurer, mem)

	// First pass registers the playbook via the fallback skeleton.
	if _, err := scanner.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(structurer.hints) != 1 || structurer.hints[0] != nil {
		t.Fatalf("first-time intake must infer the taxonomy, got %v", structurer.hints)
	}

	pb, _ := mem.GetPlaybook(context.Background(), "ops_manual")
	stepsBefore := len(mem.Steps(pb.ID))
	if stepsBefore == 0 {
		t.Fatal("expected fallback rows from the first pass")
	}

	// Reprocess with a phase reset: the stored taxonomy is passed as
	// the fixed phase context and the reset phase is rebuilt.
	id, err := scanner.ProcessObject(context.Background(), "ops_manual.pdf", []string{"chapter-1"})
	if err != nil {
		t.Fatal(err)
	}
	if id != pb.ID {
		t.Fatalf("reprocess returned %q, want %q", id, pb.ID)
	}

	last := structurer.hints[len(structurer.hints)-1]
	if len(last) != len(pb.Phases) {
		t.Fatalf("expected %d phase hints, got %d", len(pb.Phases), len(last))
	}
	if len(mem.Steps(pb.ID)) != stepsBefore {
		t.Errorf("reset and regenerate should converge to the same rows")
	}
}

func TestProcessObjectRejectsUnsupported(t *testing.T) {
	scanner := newTestScanner(newFakeObjects(), &fakeStructurer{}, store.NewMemory())
	if _, err := scanner.ProcessObject(context.Background(), "notes.txt", nil); err == nil {
		t.Fatal("expected error for unsupported source")
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Commissioning Procedure.PDF", "commissioning_procedure"},
		{"uploads/My File (v2).pdf", "my_file_v2"},
		{"already_slugged.docx", "already_slugged"},
		{"___weird---name___.pdf", "weird_name"},
		{strings.Repeat("a", 150) + ".pdf", strings.Repeat("a", 100)},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
