package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
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

	// Register the HTTP function with the framework.
	// "HandleIntakeScan" is the entry point name configured in GCP.
	functions.HTTP("HandleIntakeScan", handleIntakeScan)
}

// main is required by the Go Functions Framework.
func main() {}

// handleIntakeScan is the HTTP handler driving a full intake scan,
// triggered by the portal's "reprocess all" action or a schedule.
func handleIntakeScan(w http.ResponseWriter, r *http.Request) {
	// Use sync.Once for robust, one-time initialization of clients.
	once.Do(func() {
		scannerInstance, initErr = services.NewScannerFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: intake scanner initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	result, err := scannerInstance.Scan(r.Context())
	if err != nil {
		// The specific error is already logged inside Scan.
		http.Error(w, "Internal Server Error: scan failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("Failed to write scan response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
