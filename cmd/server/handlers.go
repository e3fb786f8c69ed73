package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/goreason"
	"github.com/brunobiangulo/goreason/ingest"
)

type handler struct {
	engine  goreason.Engine
	ingestM *ingest.Manager
}

func newHandler(e goreason.Engine, m *ingest.Manager) *handler {
	return &handler{engine: e, ingestM: m}
}

// POST /ingest
// Accepts multipart file upload or JSON with file path.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)

			tmpDir := os.TempDir()
			tmpPath := filepath.Join(tmpDir, safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()
			defer os.Remove(tmpPath)

			docID, err := h.engine.Ingest(ctx, tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "ingestion failed")
				slog.Error("ingest error", "error", err)
				return
			}

			writeJSON(w, http.StatusOK, map[string]interface{}{
				"document_id": docID,
				"filename":    safeName,
			})
			return
		}
	}

	// Try JSON body with path
	var req struct {
		Path    string            `json:"path"`
		Options map[string]string `json:"options,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}

	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	// Validate that path is a real file (prevents directory traversal probing).
	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	var opts []goreason.IngestOption
	if req.Options != nil {
		if _, ok := req.Options["force"]; ok {
			opts = append(opts, goreason.WithForceReparse())
		}
		if method, ok := req.Options["parse_method"]; ok {
			opts = append(opts, goreason.WithParseMethod(method))
		}
	}

	docID, err := h.engine.Ingest(ctx, absPath, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		slog.Error("ingest error", "path", absPath, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": docID,
		"path":        absPath,
	})
}

// POST /query
func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question    string  `json:"question"`
		MaxResults  int     `json:"max_results,omitempty"`
		MaxRounds   int     `json:"max_rounds,omitempty"`
		WeightVec   float64 `json:"weight_vector,omitempty"`
		WeightFTS   float64 `json:"weight_fts,omitempty"`
		WeightGraph float64 `json:"weight_graph,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	// Bound parameters.
	if req.MaxResults < 0 || req.MaxResults > 100 {
		req.MaxResults = 0 // use default
	}
	if req.MaxRounds < 0 || req.MaxRounds > 10 {
		req.MaxRounds = 0 // use default
	}

	var opts []goreason.QueryOption
	if req.MaxResults > 0 {
		opts = append(opts, goreason.WithMaxResults(req.MaxResults))
	}
	if req.MaxRounds > 0 {
		opts = append(opts, goreason.WithMaxRounds(req.MaxRounds))
	}
	if req.WeightVec > 0 || req.WeightFTS > 0 || req.WeightGraph > 0 {
		opts = append(opts, goreason.WithWeights(req.WeightVec, req.WeightFTS, req.WeightGraph))
	}

	answer, err := h.engine.Query(ctx, req.Question, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		slog.Error("query error", "question", req.Question, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// POST /update
func (h *handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	changed, err := h.engine.Update(ctx, req.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		slog.Error("update error", "path", req.Path, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    req.Path,
		"changed": changed,
	})
}

// POST /update-all
func (h *handler) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	results, err := h.engine.UpdateAll(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "update-all failed")
		slog.Error("update-all error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"components": map[string]string{
			"chatbot":   "ok",
			"processor": "ok",
			"vector":    "ok",
		},
	})
}

// POST /api/chat (spec.md §6)
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question        string `json:"question"`
		Jurisdiction     string `json:"jurisdiction,omitempty"`
		IncludeMetadata  bool   `json:"include_metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	var opts []goreason.QueryOption
	if req.Jurisdiction != "" {
		opts = append(opts, goreason.WithJurisdictionPreference(req.Jurisdiction))
	}
	if req.IncludeMetadata {
		opts = append(opts, goreason.WithIncludeMetadata(true))
	}

	answer, err := h.engine.Query(ctx, req.Question, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chat failed")
		slog.Error("chat error", "question", req.Question, "error", err)
		return
	}

	resp := map[string]interface{}{
		"answer":          answer.Text,
		"confidence_score": answer.Confidence,
		"safety_warnings":  safetyWarnings(answer.Flags),
	}
	if req.IncludeMetadata {
		resp["metadata"] = map[string]interface{}{
			"sources":             answer.Sources,
			"citation_chain":      answer.CitationChain,
			"relevance_breakdown": answer.RelevanceBreakdown,
			"enhanced_query":      answer.EnhancedQuery,
			"retrieval_trace":     answer.RetrievalTrace,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// safetyWarnings renders the safety evaluator's boolean flags as a list
// of human-readable strings for the /api/chat response.
func safetyWarnings(flags goreason.SafetyFlags) []string {
	var warnings []string
	if flags.UseOfForce {
		warnings = append(warnings, "use_of_force")
	}
	if flags.JurisdictionSpecific {
		warnings = append(warnings, "jurisdiction_specific")
	}
	if flags.PotentiallyOutdated {
		warnings = append(warnings, "potentially_outdated")
	}
	if flags.LowConfidence {
		warnings = append(warnings, "low_confidence")
	}
	return warnings
}

// POST /api/chat/stream (spec.md §6): text/event-stream of
// `data: {type:content|complete|error, ...}`.
func (h *handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question       string `json:"question"`
		Jurisdiction   string `json:"jurisdiction,omitempty"`
		IncludeMetadata bool  `json:"include_metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var opts []goreason.QueryOption
	if req.Jurisdiction != "" {
		opts = append(opts, goreason.WithJurisdictionPreference(req.Jurisdiction))
	}
	if req.IncludeMetadata {
		opts = append(opts, goreason.WithIncludeMetadata(true))
	}

	events, err := h.engine.QueryStream(r.Context(), req.Question, opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "chat stream failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(bw, "data: %s\n\n", data)
		bw.Flush()
		flusher.Flush()
	}
}

// POST /api/documents/upload (spec.md §6)
func (h *handler) handleDocumentsUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with 'file'")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing 'file' field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	metadata := map[string]string{}
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			metadata[k] = v[0]
		}
	}
	docType := metadata["document_type"]
	jurisdiction := metadata["jurisdiction"]
	lawStatus := metadata["law_status"]

	taskID, err := h.ingestM.Submit(r.Context(), filepath.Base(header.Filename), data, metadata, docType, jurisdiction, lawStatus)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upload failed")
		slog.Error("upload error", "filename", header.Filename, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id":  taskID,
		"status":   string(ingest.StateUploaded),
		"metadata": metadata,
	})
}

// GET /api/tasks/{id} (spec.md §6)
func (h *handler) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := h.ingestM.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id":  task.ID,
		"status":   task.State,
		"progress": task.Progress,
		"message":  task.Message,
		"result":   task.Result,
		"error":    task.Error,
	})
}

// GET /api/tasks (spec.md §6)
func (h *handler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.ingestM.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":       tasks,
		"total_tasks": len(tasks),
	})
}

// DELETE /api/tasks/{id} (spec.md §6)
func (h *handler) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, err := h.ingestM.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err := h.ingestM.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"task_id":   id,
		"file_name": task.FileName,
	})
}

// POST /api/documents/search (spec.md §6)
func (h *handler) handleDocumentsSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req struct {
		Query        string `json:"query"`
		MaxResults   int    `json:"max_results,omitempty"`
		Jurisdiction string `json:"jurisdiction,omitempty"`
		DocumentType string `json:"document_type,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.engine.Search(ctx, req.Query, req.MaxResults, req.Jurisdiction, req.DocumentType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "query", req.Query, "error", err)
		return
	}

	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		out[i] = map[string]interface{}{
			"id":      r.ChunkID,
			"score":   r.Score,
			"content": r.Content,
			"metadata": map[string]interface{}{
				"document_id":   r.DocumentID,
				"filename":      r.Filename,
				"document_type": r.DocumentType,
				"jurisdiction":  r.Jurisdiction,
			},
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":         req.Query,
		"results":       out,
		"total_results": len(out),
	})
}

// GET /api/documents/list (spec.md §6)
func (h *handler) handleDocumentsList(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents":       docs,
		"total_documents": len(docs),
	})
}

// DELETE /api/documents/{id} (spec.md §6)
func (h *handler) handleDocumentsDelete(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		slog.Error("delete error", "document_id", id, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"document_id": id})
}

// GET /api/chat/history, DELETE /api/chat/history (spec.md §6). Chat-
// session persistence is explicitly out of scope (spec.md §1): history is
// a caller-supplied, caller-owned FIFO (goreason.WithHistory), not kept by
// this engine. These handlers are interface stubs only, matching the
// spec's "interfaces only" framing for out-of-scope surfaces.
func (h *handler) handleChatHistoryGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": []interface{}{}})
}

func (h *handler) handleChatHistoryDelete(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
