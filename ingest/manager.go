package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tiendc/go-deepcopy"

	"github.com/brunobiangulo/goreason"
)

// ErrTaskNotFound is returned by Status/Cancel for an unknown task id.
var ErrTaskNotFound = fmt.Errorf("goreason/ingest: task not found")

// ErrTaskNotCancelable is returned by Cancel once a task has already
// reached a terminal state.
var ErrTaskNotCancelable = fmt.Errorf("goreason/ingest: task already in a terminal state")

// entry wraps a Task with the mutex that serializes the owning worker's
// writes against concurrent Status/List snapshot reads (spec.md §5:
// "only the owning worker writes mutable fields; readers obtain a
// snapshot").
type entry struct {
	mu   sync.Mutex
	task Task
}

// Manager dispatches one worker goroutine per submitted task and tracks
// them in a concurrent map, per spec.md §4.8/§5. It wraps the existing
// parser/chunker/vector-index pipeline inside goreason.Engine.Ingest
// rather than reimplementing it.
type Manager struct {
	engine  goreason.Engine
	tempDir string

	tasks sync.Map // string -> *entry

	// cancel holds a cancel func per in-flight task id, invoked by Cancel.
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewManager creates an ingestion manager that stages uploaded bytes under
// tempDir before dispatching workers against engine.
func NewManager(engine goreason.Engine, tempDir string) *Manager {
	return &Manager{
		engine:  engine,
		tempDir: tempDir,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit writes data to a temporary path named with the task id, records
// an `uploaded` task, and dispatches a worker (spec.md §4.8).
func (m *Manager) Submit(ctx context.Context, fileName string, data []byte, metadata map[string]string, documentType, jurisdiction, lawStatus string) (string, error) {
	id := uuid.New().String()
	now := time.Now()

	tmpPath := filepath.Join(m.tempDir, id+filepath.Ext(fileName))
	if err := os.MkdirAll(m.tempDir, 0755); err != nil {
		return "", fmt.Errorf("goreason/ingest: create temp dir: %w", err)
	}
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("goreason/ingest: write upload: %w", err)
	}

	e := &entry{task: Task{
		ID:           id,
		State:        StateUploaded,
		Progress:     0,
		FileName:     fileName,
		Metadata:     metadata,
		DocumentType: documentType,
		Jurisdiction: jurisdiction,
		LawStatus:    lawStatus,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	m.tasks.Store(id, e)

	workerCtx, cancel := context.WithCancel(context.Background())
	m.cancelMu.Lock()
	m.cancels[id] = cancel
	m.cancelMu.Unlock()

	go m.run(workerCtx, e, tmpPath)

	return id, nil
}

// run is the per-task worker: spec.md §4.8's six numbered steps.
func (m *Manager) run(ctx context.Context, e *entry, tmpPath string) {
	defer func() {
		// Step 6: unconditionally delete the temporary file on exit.
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("ingest: failed to remove temp upload", "path", tmpPath, "error", err)
		}
		m.cancelMu.Lock()
		delete(m.cancels, e.task.ID)
		m.cancelMu.Unlock()
	}()

	// Step 1: uploaded -> processing, progress 10.
	e.mu.Lock()
	e.task.State = StateProcessing
	e.task.Progress = 10
	e.task.Message = "parsing document"
	e.task.UpdatedAt = time.Now()
	docType, jurisdiction, lawStatus, metadata, fileName := e.task.DocumentType, e.task.Jurisdiction, e.task.LawStatus, e.task.Metadata, e.task.FileName
	e.mu.Unlock()

	opts := []goreason.IngestOption{}
	if len(metadata) > 0 {
		opts = append(opts, goreason.WithMetadata(metadata))
	}
	if docType != "" {
		opts = append(opts, goreason.WithDocumentType(docType))
	}
	if jurisdiction != "" {
		opts = append(opts, goreason.WithJurisdiction(jurisdiction))
	}
	if lawStatus != "" {
		opts = append(opts, goreason.WithLawStatus(lawStatus))
	}

	// Steps 2-4: extractor, chunker (with metadata annotation via the
	// IngestOptions above), batch embedding, and vector-index upsert all
	// happen inside Engine.Ingest, run on a background goroutine so this
	// worker can react to cancellation as soon as the caller signals it
	// rather than blocking until Ingest itself notices ctx. Cancel only
	// ever calls the context's cancel func; this goroutine is the sole
	// writer of task state (spec.md §5), whichever select branch fires.
	type ingestOutcome struct {
		docID int64
		err   error
	}
	done := make(chan ingestOutcome, 1)
	go func() {
		docID, err := m.engine.Ingest(ctx, tmpPath, opts...)
		done <- ingestOutcome{docID, err}
	}()

	var docID int64
	select {
	case <-ctx.Done():
		e.mu.Lock()
		e.task.State = StateFailed
		e.task.Error = "cancelled"
		e.task.Message = "cancelled by caller"
		e.task.UpdatedAt = time.Now()
		e.mu.Unlock()
		return
	case out := <-done:
		if out.err != nil {
			e.mu.Lock()
			e.task.State = StateFailed
			e.task.Error = out.err.Error()
			e.task.Message = "extraction or ingestion failed"
			if ctx.Err() != nil {
				// Ingest returned because of the cancellation itself.
				e.task.Error = "cancelled"
				e.task.Message = "cancelled by caller"
			}
			e.task.UpdatedAt = time.Now()
			e.mu.Unlock()
			return
		}
		docID = out.docID
	}

	e.mu.Lock()
	e.task.Progress = 90
	e.task.Message = "finalizing"
	e.task.UpdatedAt = time.Now()
	e.mu.Unlock()

	resolvedName, resolvedType, chunkCount, err := m.summarize(ctx, docID, fileName, docType)
	if err != nil {
		slog.Warn("ingest: result summary lookup failed (non-fatal)", "document_id", docID, "error", err)
	}

	// Step 5: mark completed with a result summary.
	e.mu.Lock()
	e.task.State = StateCompleted
	e.task.Progress = 100
	e.task.Message = "completed"
	e.task.Result = &Result{
		DocumentID:    docID,
		ChunksCreated: chunkCount,
		FileName:      resolvedName,
		DocumentType:  resolvedType,
	}
	e.task.UpdatedAt = time.Now()
	e.mu.Unlock()
}

// summarize fetches the document's final filename/document type and chunk
// count for the completion result summary.
func (m *Manager) summarize(ctx context.Context, docID int64, fallbackName, fallbackType string) (string, string, int, error) {
	st := m.engine.Store()
	doc, err := st.GetDocument(ctx, docID)
	if err != nil {
		return fallbackName, fallbackType, 0, err
	}
	chunks, err := st.GetChunksByDocument(ctx, docID)
	if err != nil {
		return doc.Filename, doc.DocumentType, 0, err
	}
	docType := doc.DocumentType
	if docType == "" {
		docType = fallbackType
	}
	return doc.Filename, docType, len(chunks), nil
}

// Status returns a point-in-time snapshot of a task, deep-copied so the
// caller cannot mutate internal state.
func (m *Manager) Status(id string) (*Task, error) {
	v, ok := m.tasks.Load(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	e := v.(*entry)

	e.mu.Lock()
	defer e.mu.Unlock()

	var snapshot Task
	if err := deepcopy.Copy(&snapshot, &e.task); err != nil {
		return nil, fmt.Errorf("goreason/ingest: snapshot task: %w", err)
	}
	return &snapshot, nil
}

// List returns snapshots of every tracked task, most recently created
// first. Tasks remain listed after a terminal state until the caller
// deletes them (spec.md §4.8: "not auto-reaped").
func (m *Manager) List() []*Task {
	var out []*Task
	m.tasks.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		var snapshot Task
		_ = deepcopy.Copy(&snapshot, &e.task)
		e.mu.Unlock()
		out = append(out, &snapshot)
		return true
	})
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Cancel requests cancellation of an in-flight task's worker context. It
// only ever signals the context; the owning worker goroutine (run) is the
// one that observes ctx.Done() and performs the StateFailed transition
// itself, so there is no window where Cancel could race run's own
// completion write and flip an already-finished task back to failed
// (spec.md §5: only the owning worker writes mutable fields). Returns
// ErrTaskNotCancelable if the task has already reached a terminal state.
func (m *Manager) Cancel(id string) error {
	v, ok := m.tasks.Load(id)
	if !ok {
		return ErrTaskNotFound
	}
	e := v.(*entry)

	e.mu.Lock()
	state := e.task.State
	e.mu.Unlock()
	if state == StateCompleted || state == StateFailed {
		return ErrTaskNotCancelable
	}

	m.cancelMu.Lock()
	cancel, ok := m.cancels[id]
	m.cancelMu.Unlock()
	if !ok {
		return ErrTaskNotCancelable
	}
	cancel()

	return nil
}

// Delete removes a task from the tracked set.
func (m *Manager) Delete(id string) error {
	if _, ok := m.tasks.Load(id); !ok {
		return ErrTaskNotFound
	}
	m.tasks.Delete(id)
	return nil
}
