package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/mvanrijn/playbookflow/internal/models"
	"github.com/mvanrijn/playbookflow/internal/services"
)

var (
	scannerInstance *services.Scanner
	once            sync.Once
	initErr         error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The framework routes GCS
	// object-finalize events here.
	functions.CloudEvent("WatchSourceDocument", watchSourceDocument)
}

// main is required by the Go Functions Framework.
func main() {}

// watchSourceDocument processes a newly uploaded source document as
// soon as its object is finalized, without waiting for the next scan.
func watchSourceDocument(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		scannerInstance, initErr = services.NewScannerFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	playbookID, err := scannerInstance.ProcessObject(ctx, gcsEvent.Name, nil)
	if err != nil {
		// The error is already logged with context inside the pipeline.
		// Returning it marks the function invocation as failed.
		return err
	}

	slog.Info("Uploaded document ingested.", "gcsObject", gcsEvent.Name, "playbookId", playbookID)
	return nil
}
