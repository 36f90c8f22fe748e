package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
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

	functions.HTTP("HandleReprocess", handleReprocess)
}

// main is required by the Go Functions Framework.
func main() {}

// handleReprocess forces one source document back through the
// pipeline, optionally clearing named phases first. This backs the
// portal's per-document "reprocess" button.
func handleReprocess(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		scannerInstance, initErr = services.NewScannerFromEnv(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: reprocessor initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ReprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.ObjectName == "" {
		http.Error(w, "Bad Request: objectName is required", http.StatusBadRequest)
		return
	}

	playbookID, err := scannerInstance.ProcessObject(r.Context(), req.ObjectName, req.ResetPhases)
	if err != nil {
		slog.Error("Reprocessing failed", "objectName", req.ObjectName, "error", err)
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	res := models.ReprocessResponse{Status: "success", PlaybookID: playbookID}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "objectName", req.ObjectName)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
	}
}
