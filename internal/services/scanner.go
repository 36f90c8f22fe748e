package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"golang.org/x/sync/errgroup"

	"github.com/mvanrijn/playbookflow/internal/gcp"
	"github.com/mvanrijn/playbookflow/internal/models"
	"github.com/mvanrijn/playbookflow/internal/store"
)

// ObjectStore is the object-storage surface the scanner needs.
// gcp.Bucket implements it; tests use an in-memory fake.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]gcp.ObjectInfo, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Archive(ctx context.Context, name string) error
}

// supportedExtensions is the source-document allow-list.
var supportedExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
}

// ScannerConfig holds configuration for the intake scanner.
type ScannerConfig struct {
	// Prefix limits the bucket listing to one folder.
	Prefix string
	// Concurrency bounds parallel document processing. The reference
	// behavior is sequential; anything higher is safe because the
	// playbook create is conflict-detecting.
	Concurrency int
	// Workflow hand-off after a scan that processed new documents.
	// Disabled when WorkflowID is empty.
	WorkflowProject  string
	WorkflowLocation string
	WorkflowID       string
}

func (c *ScannerConfig) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
}

// Scanner enumerates unprocessed source documents and drives each one
// through extract → structure → fallback → persist, isolating
// per-document failures so one bad file never poisons the batch.
type Scanner struct {
	objects          ObjectStore
	structurer       DocumentStructurer
	persister        *Persister
	store            store.PlaybookStore
	executionsClient *executions.Client
	config           ScannerConfig
}

// NewScanner wires the scanner's collaborators. executionsClient may
// be nil when no downstream workflow is configured.
func NewScanner(objects ObjectStore, structurer DocumentStructurer, persister *Persister, st store.PlaybookStore, executionsClient *executions.Client, config ScannerConfig) *Scanner {
	config.defaults()
	return &Scanner{
		objects:          objects,
		structurer:       structurer,
		persister:        persister,
		store:            st,
		executionsClient: executionsClient,
		config:           config,
	}
}

type candidate struct {
	object gcp.ObjectInfo
	slug   string
}

// Scan lists the source bucket, skips documents whose natural key is
// already registered, and processes the rest. It always attempts every
// candidate and reports aggregate counts; only a failed listing aborts
// the scan.
func (s *Scanner) Scan(ctx context.Context) (*models.ScanResult, error) {
	objects, err := s.objects.List(ctx, s.config.Prefix)
	if err != nil {
		return nil, fmt.Errorf("intake listing failed: %w", err)
	}
	slog.Info("Intake scan started.", "objectCount", len(objects), "prefix", s.config.Prefix)

	result := &models.ScanResult{}
	seen := make(map[string]bool)
	var fresh []candidate

	for _, obj := range objects {
		if !supportedSource(obj.Name) {
			continue
		}
		slug := Slugify(obj.Name)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true

		pb, err := s.store.GetPlaybook(ctx, slug)
		switch {
		case err == nil:
			result.Skipped++
			result.PlaybookIDs = append(result.PlaybookIDs, pb.ID)
		case errors.Is(err, store.ErrNotFound):
			fresh = append(fresh, candidate{object: obj, slug: slug})
		default:
			slog.Error("Registry lookup failed for document.", "gcsObject", obj.Name, "error", err)
			result.Failed++
		}
	}

	ids := make([]string, len(fresh))
	outcomes := make([]error, len(fresh))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.Concurrency)
	for i, cand := range fresh {
		// Cooperative checkpoint: stop dispatching once cancelled.
		if gctx.Err() != nil {
			outcomes[i] = gctx.Err()
			continue
		}
		eg.Go(func() error {
			id, _, err := s.processDocument(gctx, cand.object.Name, cand.slug, nil)
			ids[i], outcomes[i] = id, err
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return result, err
	}

	for i := range fresh {
		if outcomes[i] != nil {
			slog.Error("Document processing failed; continuing scan.", "gcsObject", fresh[i].object.Name, "error", outcomes[i])
			result.Failed++
			continue
		}
		result.Processed++
		result.PlaybookIDs = append(result.PlaybookIDs, ids[i])
	}

	result.Status = "success"
	if result.Failed > 0 {
		result.Status = "partial"
	}
	slog.Info("Intake scan complete.", "processed", result.Processed, "skipped", result.Skipped, "failed", result.Failed)

	s.triggerWorkflow(ctx, result)
	return result, nil
}

// ProcessObject forces one source document through the pipeline. When
// the playbook already exists its stored taxonomy is passed to the
// structurer as the fixed phase context, and any named phases are
// reset before new rows land.
func (s *Scanner) ProcessObject(ctx context.Context, objectName string, resetPhases []string) (string, error) {
	if !supportedSource(objectName) {
		return "", fmt.Errorf("unsupported source document %q", objectName)
	}
	slug := Slugify(objectName)

	var hints []models.PhaseHint
	pb, err := s.store.GetPlaybook(ctx, slug)
	switch {
	case err == nil:
		hints = PhaseHints(pb.Phases)
		for _, phaseID := range resetPhases {
			if err := s.persister.ResetPhase(ctx, pb.ID, phaseID); err != nil {
				return "", err
			}
		}
	case errors.Is(err, store.ErrNotFound):
		// First sight of this document; taxonomy will be inferred.
	default:
		return "", fmt.Errorf("failed to look up playbook %q: %w", slug, err)
	}

	id, _, err := s.processDocument(ctx, objectName, slug, hints)
	return id, err
}

// processDocument runs one document through the full pipeline:
// read bytes → extract text → structure → fallback → persist →
// metadata, status, archival. Returns the playbook id and whether the
// fallback template was used.
func (s *Scanner) processDocument(ctx context.Context, objectName, slug string, hints []models.PhaseHint) (string, bool, error) {
	logCtx := slog.With("gcsObject", objectName, "playbookSlug", slug)
	logCtx.Info("Processing source document.")

	data, err := s.objects.Read(ctx, objectName)
	if err != nil {
		return "", false, fmt.Errorf("unreadable source %q: %w", objectName, err)
	}

	text := ExtractText(data, objectName)

	doc, err := s.structurer.Structure(ctx, text, hints)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, err
		}
		logCtx.Warn("Structuring failed; using fallback template.", "error", err)
		doc = nil
	}

	usedFallback := false
	if doc == nil || len(doc.ProcessSteps) == 0 {
		fallback := FallbackDocument(objectName, hints)
		doc = &fallback
		usedFallback = true
	}

	res, err := s.persister.Persist(ctx, slug, objectName, doc)
	if err != nil {
		return "", usedFallback, err
	}

	if IsPDF(objectName) {
		if pages, err := PDFPageCount(data); err == nil {
			if err := s.store.SetPageCount(ctx, res.PlaybookID, pages); err != nil {
				logCtx.Warn("Could not record page count.", "error", err)
			}
		} else {
			logCtx.Warn("Could not determine PDF page count.", "error", err)
		}
	}

	status := models.StatusComplete
	if usedFallback {
		status = models.StatusFallback
	}
	if err := s.store.SetStatus(ctx, res.PlaybookID, status, ""); err != nil {
		logCtx.Warn("Could not record playbook status.", "status", status, "error", err)
	}

	if err := s.objects.Archive(ctx, objectName); err != nil {
		logCtx.Warn("Archive copy failed; source remains in intake.", "error", err)
	}

	logCtx.Info("Document processed.",
		"playbookId", res.PlaybookID,
		"created", res.Created,
		"fallback", usedFallback,
		"stepRows", res.StepRows,
		"raciRows", res.RaciRows,
		"mapNodeRows", res.MapNodeRows,
		"orphanRows", res.OrphanRows,
	)
	return res.PlaybookID, usedFallback, nil
}

// triggerWorkflow hands the scan summary to the downstream workflow,
// if one is configured. A trigger failure is logged but does not fail
// the scan; the workflow can be started manually from the summary.
func (s *Scanner) triggerWorkflow(ctx context.Context, result *models.ScanResult) {
	if s.executionsClient == nil || s.config.WorkflowID == "" || result.Processed == 0 {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("Failed to marshal workflow payload.", "error", err)
		return
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", s.config.WorkflowProject, s.config.WorkflowLocation, s.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	if _, err := s.executionsClient.CreateExecution(ctx, req); err != nil {
		slog.Error("Failed to trigger downstream workflow.", "workflowId", s.config.WorkflowID, "error", err)
		return
	}
	slog.Info("Downstream workflow triggered.", "workflowId", s.config.WorkflowID)
}

func supportedSource(name string) bool {
	return supportedExtensions[strings.ToLower(path.Ext(name))]
}

// nonAlphanumericRegex is a compiled regex for efficiency.
var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts an object name into the playbook natural key:
// base name without extension, lowercased, with runs of
// non-alphanumeric characters collapsed to single underscores.
func Slugify(objectName string) string {
	base := path.Base(objectName)
	base = strings.TrimSuffix(base, path.Ext(base))
	lower := strings.ToLower(base)
	slug := nonAlphanumericRegex.ReplaceAllString(lower, "_")
	slug = strings.Trim(slug, "_")

	const maxLength = 100
	if len(slug) > maxLength {
		slug = slug[:maxLength]
		slug = strings.Trim(slug, "_")
	}
	return slug
}
