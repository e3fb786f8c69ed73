//go:build cgo

package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brunobiangulo/goreason"
	"github.com/brunobiangulo/goreason/store"
)

// stubEngine is a minimal goreason.Engine that records Ingest calls and
// writes a document + chunk directly to a real store, so Manager's
// result-summary lookups (GetDocument/GetChunksByDocument) have something
// real to read without exercising the full parser/chunker/embedding
// pipeline.
type stubEngine struct {
	goreason.Engine // nil embed: panics if an unstubbed method is called

	st      *store.Store
	failErr error

	// block, when non-nil, makes Ingest wait on ctx.Done() or the channel
	// being closed before proceeding — used to exercise mid-flight Cancel.
	block chan struct{}
}

func newStubEngine(t *testing.T) *stubEngine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &stubEngine{st: s}
}

func (e *stubEngine) Ingest(ctx context.Context, path string, opts ...goreason.IngestOption) (int64, error) {
	if e.block != nil {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-e.block:
		}
	}
	if e.failErr != nil {
		return 0, e.failErr
	}
	docID, err := e.st.UpsertDocument(ctx, store.Document{
		Path:         path,
		Filename:     filepath.Base(path),
		Format:       "txt",
		ContentHash:  "hash",
		ParseMethod:  "native",
		Status:       "ready",
		DocumentType: "policy",
	})
	if err != nil {
		return 0, err
	}
	if _, err := e.st.InsertChunks(ctx, []store.Chunk{
		{DocumentID: docID, Content: "chunk one", ChunkType: "policy_section"},
		{DocumentID: docID, Content: "chunk two", ChunkType: "policy_section"},
	}); err != nil {
		return 0, err
	}
	return docID, nil
}

func (e *stubEngine) Store() *store.Store { return e.st }

func TestManagerSubmitCompletes(t *testing.T) {
	eng := newStubEngine(t)
	m := NewManager(eng, t.TempDir())

	id, err := m.Submit(context.Background(), "policy.txt", []byte("hello world"), nil, "", "", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	task := waitForTerminal(t, m, id)
	if task.State != StateCompleted {
		t.Fatalf("expected completed, got %s (error=%s)", task.State, task.Error)
	}
	if task.Result == nil {
		t.Fatal("expected a result summary")
	}
	if task.Result.ChunksCreated != 2 {
		t.Errorf("expected 2 chunks created, got %d", task.Result.ChunksCreated)
	}
	if task.Progress != 100 {
		t.Errorf("expected progress 100, got %d", task.Progress)
	}
}

func TestManagerSubmitFails(t *testing.T) {
	eng := newStubEngine(t)
	eng.failErr = errors.New("extractor blew up")
	m := NewManager(eng, t.TempDir())

	id, err := m.Submit(context.Background(), "broken.txt", []byte("x"), nil, "", "", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	task := waitForTerminal(t, m, id)
	if task.State != StateFailed {
		t.Fatalf("expected failed, got %s", task.State)
	}
	if task.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestManagerStatusUnknownTask(t *testing.T) {
	m := NewManager(newStubEngine(t), t.TempDir())
	if _, err := m.Status("does-not-exist"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestManagerListOrdersMostRecentFirst(t *testing.T) {
	eng := newStubEngine(t)
	m := NewManager(eng, t.TempDir())

	id1, _ := m.Submit(context.Background(), "a.txt", []byte("a"), nil, "", "", "")
	waitForTerminal(t, m, id1)
	id2, _ := m.Submit(context.Background(), "b.txt", []byte("b"), nil, "", "", "")
	waitForTerminal(t, m, id2)

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(list))
	}
	if list[0].ID != id2 {
		t.Errorf("expected most recently created task first, got %s", list[0].ID)
	}
}

func TestManagerCancelTerminalTaskErrors(t *testing.T) {
	eng := newStubEngine(t)
	m := NewManager(eng, t.TempDir())

	id, _ := m.Submit(context.Background(), "c.txt", []byte("c"), nil, "", "", "")
	waitForTerminal(t, m, id)

	if err := m.Cancel(id); !errors.Is(err, ErrTaskNotCancelable) {
		t.Fatalf("expected ErrTaskNotCancelable, got %v", err)
	}
}

// TestManagerCancelInFlightTaskTransitionsToFailed exercises the
// single-writer cancellation path: Cancel only signals the worker's
// context; run observes ctx.Done() and performs the StateFailed
// transition itself, so a task that was genuinely still in flight when
// cancelled ends up failed, not silently completed.
func TestManagerCancelInFlightTaskTransitionsToFailed(t *testing.T) {
	eng := newStubEngine(t)
	eng.block = make(chan struct{})
	m := NewManager(eng, t.TempDir())

	id, err := m.Submit(context.Background(), "c.txt", []byte("c"), nil, "", "", "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := m.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	waitForTerminal(t, m, id)

	task, err := m.Status(id)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if task.State != StateFailed {
		t.Errorf("expected StateFailed after cancellation, got %v", task.State)
	}
	if task.Error != "cancelled" {
		t.Errorf("expected error %q, got %q", "cancelled", task.Error)
	}
}

func TestManagerDeleteRemovesTask(t *testing.T) {
	eng := newStubEngine(t)
	m := NewManager(eng, t.TempDir())

	id, _ := m.Submit(context.Background(), "d.txt", []byte("d"), nil, "", "", "")
	waitForTerminal(t, m, id)

	if err := m.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Status(id); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected task gone after delete, got %v", err)
	}
}

// slowStubEngine delays Ingest slightly so a poller has a real chance to
// observe the intermediate StateProcessing state before completion.
type slowStubEngine struct {
	*stubEngine
	delay time.Duration
}

func (e *slowStubEngine) Ingest(ctx context.Context, path string, opts ...goreason.IngestOption) (int64, error) {
	time.Sleep(e.delay)
	return e.stubEngine.Ingest(ctx, path, opts...)
}

// TestIngestion_ProcessingThenCompletedTempFileRemoved is scenario S6: a
// submitted task is observed passing through StateProcessing before
// reaching StateCompleted, and the staged temp upload file no longer
// exists once the task is terminal.
func TestIngestion_ProcessingThenCompletedTempFileRemoved(t *testing.T) {
	tempDir := t.TempDir()
	eng := &slowStubEngine{stubEngine: newStubEngine(t), delay: 50 * time.Millisecond}
	m := NewManager(eng, tempDir)

	id, err := m.Submit(context.Background(), "slow.txt", []byte("hello world"), nil, "", "", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tmpPath := filepath.Join(tempDir, id+".txt")

	if _, err := os.Stat(tmpPath); err != nil {
		t.Fatalf("expected staged temp file to exist while task is in flight: %v", err)
	}

	sawProcessing := false
	deadline := time.Now().Add(2 * time.Second)
	var task *Task
	for time.Now().Before(deadline) {
		task, err = m.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if task.State == StateProcessing {
			sawProcessing = true
		}
		if task.State == StateCompleted || task.State == StateFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if task == nil || (task.State != StateCompleted && task.State != StateFailed) {
		t.Fatalf("task %s did not reach a terminal state in time", id)
	}
	if !sawProcessing {
		t.Error("expected to observe the task in StateProcessing before it completed")
	}
	if task.State != StateCompleted {
		t.Fatalf("expected completed, got %s (error=%s)", task.State, task.Error)
	}

	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("expected staged temp file to be removed after completion, stat err=%v", err)
	}
}

func waitForTerminal(t *testing.T, m *Manager, id string) *Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := m.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if task.State == StateCompleted || task.State == StateFailed {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state in time", id)
	return nil
}
