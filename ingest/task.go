// Package ingest implements the background ingestion job manager (spec.md
// §4.8): accept an uploaded file, assign a task id, run the extractor,
// chunker, and vector-index upsert on a dedicated worker goroutine, and
// expose progress until the caller deletes the task.
package ingest

import "time"

// State is a task's position in its lifecycle state machine.
type State string

const (
	StateUploaded   State = "uploaded"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Result is the summary recorded on successful completion (spec.md §4.8
// step 5): `{document_id, chunks_created, file_name, document_type}`.
type Result struct {
	DocumentID    int64  `json:"document_id"`
	ChunksCreated int    `json:"chunks_created"`
	FileName      string `json:"file_name"`
	DocumentType  string `json:"document_type"`
}

// Task is one submitted ingestion job. Only the owning worker goroutine
// mutates a Task's fields after creation; callers only ever see copies
// returned by Manager.Status/Manager.List (spec.md §5's "readers obtain a
// snapshot").
type Task struct {
	ID       string            `json:"id"`
	State    State             `json:"state"`
	Progress int               `json:"progress"`
	Message  string            `json:"message,omitempty"`
	FileName string            `json:"file_name"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// DocumentType, Jurisdiction, and LawStatus are the uploader-supplied
	// fields the worker annotates onto each chunk's metadata (spec.md
	// §4.8 step 3).
	DocumentType string `json:"document_type,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	LawStatus    string `json:"law_status,omitempty"`

	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
