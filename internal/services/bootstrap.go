package services

import (
	"context"
	"fmt"
	"strconv"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/mvanrijn/playbookflow/internal/gcp"
	"github.com/mvanrijn/playbookflow/internal/store"
)

// PipelineConfig holds all configuration for the ingestion pipeline.
type PipelineConfig struct {
	ProjectID        string
	VertexAIRegion   string
	SourceBucket     string
	SourcePrefix     string
	ArchivePrefix    string
	Concurrency      int
	WorkflowID       string
	WorkflowLocation string
}

// loadPipelineConfig loads and validates the environment variables for
// the pipeline functions.
func loadPipelineConfig() (*PipelineConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	sourceBucket := gcp.GetEnv("SOURCE_DOCUMENTS_BUCKET", "")
	if sourceBucket == "" {
		return nil, fmt.Errorf("SOURCE_DOCUMENTS_BUCKET environment variable must be set")
	}

	concurrency, err := strconv.Atoi(gcp.GetEnv("SCAN_CONCURRENCY", "1"))
	if err != nil || concurrency < 1 {
		return nil, fmt.Errorf("SCAN_CONCURRENCY must be a positive integer")
	}

	return &PipelineConfig{
		ProjectID:        projectID,
		VertexAIRegion:   gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		SourceBucket:     sourceBucket,
		SourcePrefix:     gcp.GetEnv("SOURCE_PREFIX", ""),
		ArchivePrefix:    gcp.GetEnv("ARCHIVE_PREFIX", "processed/"),
		Concurrency:      concurrency,
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}, nil
}

// NewScannerFromEnv constructs the full pipeline from environment
// configuration: GCS bucket, Firestore store, Vertex structurer and,
// when configured, the downstream workflow client. All clients are
// built here and injected; nothing holds them globally.
func NewScannerFromEnv(ctx context.Context) (*Scanner, error) {
	config, err := loadPipelineConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	bucket := gcp.NewBucket(storageClient, config.SourceBucket, config.ArchivePrefix)

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	playbookStore := store.NewFirestore(firestoreClient)

	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	structurer := NewStructurer(vertexClient, StructurerConfig{})

	var executionsClient *executions.Client
	if config.WorkflowID != "" {
		executionsClient, err = gcp.NewExecutionsClient(ctx)
		if err != nil {
			return nil, err
		}
	}

	return NewScanner(bucket, structurer, NewPersister(playbookStore), playbookStore, executionsClient, ScannerConfig{
		Prefix:           config.SourcePrefix,
		Concurrency:      config.Concurrency,
		WorkflowProject:  config.ProjectID,
		WorkflowLocation: config.WorkflowLocation,
		WorkflowID:       config.WorkflowID,
	}), nil
}
