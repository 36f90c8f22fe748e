package models

// These structs define the JSON payloads for HTTP requests and
// responses between the UI triggers and the pipeline functions.

// ScanResult is the aggregate outcome of one intake scan.
type ScanResult struct {
	Status      string   `json:"status"`
	Processed   int      `json:"processed"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	PlaybookIDs []string `json:"playbookIds"`
}

// ReprocessRequest is the input for the playbook-reprocessor function.
// ObjectName forces a single source document back through the
// pipeline; ResetPhases clears the named phases' rows first so a
// regenerated chapter does not keep stale rows from a prior run.
type ReprocessRequest struct {
	ObjectName  string   `json:"objectName"`
	ResetPhases []string `json:"resetPhases,omitempty"`
}

// ReprocessResponse is the output of the playbook-reprocessor function.
type ReprocessResponse struct {
	Status     string `json:"status"`
	PlaybookID string `json:"playbookId"`
}

// GCSEvent is the payload of a GCS object-finalize CloudEvent.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}
