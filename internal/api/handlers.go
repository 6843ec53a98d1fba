package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fablecore/chronicle/internal/analyzer"
	"github.com/fablecore/chronicle/internal/embedding"
	"github.com/fablecore/chronicle/internal/store"
	"github.com/fablecore/chronicle/internal/types"
	"github.com/fablecore/chronicle/internal/validation"
	"github.com/fablecore/chronicle/internal/vector"
)

// Analyzer extracts maintenance intentions from a turn.
type Analyzer interface {
	Analyze(ctx context.Context, req types.TurnRequest) (*types.TurnAnalysis, error)
}

// Dispatcher enqueues intentions into the task queues.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, worldID string, analysis types.TurnAnalysis) (*types.TurnResponse, error)
}

// Handler implements the API handlers
type Handler struct {
	store      store.Store
	analyzer   Analyzer
	dispatcher Dispatcher
	embedder   embedding.Embedder
	index      vector.Index
	apiKey     string
	version    string
}

// NewHandler creates a new Handler.
func NewHandler(
	s store.Store,
	a Analyzer,
	d Dispatcher,
	e embedding.Embedder,
	idx vector.Index,
	apiKey, version string,
) *Handler {
	return &Handler{
		store:      s,
		analyzer:   a,
		dispatcher: d,
		embedder:   e,
		index:      idx,
		apiKey:     apiKey,
		version:    version,
	}
}

// Health returns the health status, including queue depths.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountEntries(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	noteStats, err := h.store.NoteUpdateQueueStats(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	creationStats, err := h.store.EntityCreationQueueStats(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	resp := types.HealthResponse{
		Status:         "healthy",
		Version:        h.version,
		EmbeddingModel: h.embedder.ModelName(),
		EntryCount:     count,
		NoteUpdates:    *noteStats,
		Creations:      *creationStats,
	}

	writeJSON(w, http.StatusOK, resp)
}

// SubmitTurn handles POST /api/v1/turns. It analyzes the turn (unless the
// caller supplied pre-analyzed intentions), enqueues the resulting tasks,
// and returns 202 before any of them run.
func (h *Handler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	var req types.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.ValidateTurnRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	analysis := req.Analysis
	if analysis == nil {
		result, err := h.analyzer.Analyze(r.Context(), req)
		if err != nil {
			if errors.Is(err, analyzer.ErrMalformedAnalysis) {
				// Fail closed: no tasks for a turn we could not analyze.
				WriteProblem(w, r, http.StatusBadGateway, "Turn analysis produced unusable output")
				return
			}
			slog.Error("turn analysis failed", "session_id", req.SessionID, "error", err)
			WriteProblem(w, r, http.StatusBadGateway, "Turn analysis unavailable")
			return
		}
		analysis = result
	}

	resp, err := h.dispatcher.Dispatch(r.Context(), req.SessionID, req.WorldID, *analysis)
	if err != nil {
		slog.Error("dispatch failed", "session_id", req.SessionID, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Failed to enqueue maintenance tasks")
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// Recall handles POST /api/v1/recall: a similarity query over the
// composite-document index.
func (h *Handler) Recall(w http.ResponseWriter, r *http.Request) {
	var req types.RecallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if errs := validation.ValidateRecallRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	k := req.K
	if k == 0 {
		k = 10
	}

	vec, err := h.embedder.Embed(r.Context(), req.Text)
	if err != nil {
		slog.Error("recall embedding failed", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Embedding service unavailable")
		return
	}

	matches, err := h.index.Query(r.Context(), vec, k)
	if err != nil {
		slog.Error("recall query failed", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	resp := types.RecallResponse{}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, types.RecallMatch{
			LoreEntryID: m.LoreEntryID,
			Similarity:  m.Similarity,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetEntry handles GET /api/v1/entries/{id}.
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.GetLoreEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GetEntryNote handles GET /api/v1/entries/{id}/note?session_id=...
func (h *Handler) GetEntryNote(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		WriteProblem(w, r, http.StatusBadRequest, "session_id query parameter is required")
		return
	}

	note, err := h.store.GetSessionNote(r.Context(), sessionID, chi.URLParam(r, "id"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// ListNoteUpdateTasks handles GET /api/v1/tasks/note-updates.
func (h *Handler) ListNoteUpdateTasks(w http.ResponseWriter, r *http.Request) {
	status, ok := taskStatusFilter(w, r)
	if !ok {
		return
	}

	tasks, err := h.store.ListNoteUpdateTasks(r.Context(), r.URL.Query().Get("session_id"), status)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]types.NoteUpdateTask{"tasks": tasks})
}

// GetNoteUpdateTask handles GET /api/v1/tasks/note-updates/{id}.
func (h *Handler) GetNoteUpdateTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetNoteUpdateTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// RetryNoteUpdateTask handles POST /api/v1/tasks/note-updates/{id}/retry.
// Only failed tasks can be retried; anything else is a conflict.
func (h *Handler) RetryNoteUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.RetryNoteUpdateTask(r.Context(), id); err != nil {
		MapStoreError(w, r, err)
		return
	}

	task, err := h.store.GetNoteUpdateTask(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListEntityCreationTasks handles GET /api/v1/tasks/entity-creations.
func (h *Handler) ListEntityCreationTasks(w http.ResponseWriter, r *http.Request) {
	status, ok := taskStatusFilter(w, r)
	if !ok {
		return
	}

	tasks, err := h.store.ListEntityCreationTasks(r.Context(), r.URL.Query().Get("session_id"), status)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]types.EntityCreationTask{"tasks": tasks})
}

// GetEntityCreationTask handles GET /api/v1/tasks/entity-creations/{id}.
func (h *Handler) GetEntityCreationTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetEntityCreationTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// RetryEntityCreationTask handles POST /api/v1/tasks/entity-creations/{id}/retry.
func (h *Handler) RetryEntityCreationTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.RetryEntityCreationTask(r.Context(), id); err != nil {
		MapStoreError(w, r, err)
		return
	}

	task, err := h.store.GetEntityCreationTask(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// taskStatusFilter parses the optional status query parameter. Reports
// false after writing a problem response for an unknown status.
func taskStatusFilter(w http.ResponseWriter, r *http.Request) (types.TaskStatus, bool) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return "", true
	}

	status := types.TaskStatus(raw)
	switch status {
	case types.TaskPending, types.TaskInProgress, types.TaskSucceeded, types.TaskFailed:
		return status, true
	}
	WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Unknown task status %q", raw))
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
