package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/retailpulse/diagnose/internal/models"
	"github.com/retailpulse/diagnose/internal/store"
)

// defaultTenant is used when the caller sends no X-Tenant-ID header.
const defaultTenant = "default"

// DiagnosisAPI is the service surface the handlers depend on.
type DiagnosisAPI interface {
	Start(ctx context.Context, tenantID, query, signalID string) (models.Session, error)
	Get(ctx context.Context, tenantID, id string) (models.Session, error)
	Subscribe(ctx context.Context, tenantID, id string) (replay []models.StepEvent, live <-chan models.StepEvent, cancel func(), err error)
	List(ctx context.Context, tenantID string, limit int) ([]models.Session, error)
	Rename(ctx context.Context, tenantID, id, query string) error
	Delete(ctx context.Context, tenantID, id string) error
}

// Handler implements the HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service DiagnosisAPI
}

// NewHandler constructs the handler set.
func NewHandler(logger *slog.Logger, service DiagnosisAPI) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func tenantID(r *http.Request) string {
	if t := strings.TrimSpace(r.Header.Get("X-Tenant-ID")); t != "" {
		return t
	}
	return defaultTenant
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	Query    string `json:"query"`
	SignalID string `json:"signalId"`
}

// Start launches a diagnosis session and returns its id immediately.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	session, err := h.service.Start(r.Context(), tenantID(r), req.Query, req.SignalID)
	if err != nil {
		h.logger.Error("start diagnosis", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to start analysis")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"analysisId": session.ID,
		"status":     string(session.Status),
	})
}

type streamEvent struct {
	Type   string             `json:"type"`
	Step   *models.StepEvent  `json:"step,omitempty"`
	Result *models.ResultData `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// Stream sends session progress as server-sent events: one progress event per
// step transition, then a single complete or error event.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tenant := tenantID(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	replay, live, cancel, err := h.service.Subscribe(r.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		h.logger.Error("subscribe", slog.String("session_id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to open stream")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	seen := make(map[string]bool)
	emit := func(ev models.StepEvent) {
		// Replay and live delivery can overlap at the boundary; suppress
		// exact duplicates.
		key := strconv.Itoa(ev.Stage) + "/" + string(ev.Status) + "/" + ev.At.String()
		if seen[key] {
			return
		}
		seen[key] = true
		writeSSE(w, streamEvent{Type: "progress", Step: &ev})
		flusher.Flush()
	}

	for _, ev := range replay {
		emit(ev)
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				h.finishStream(w, flusher, tenant, id)
				return
			}
			emit(ev)
		}
	}
}

// finishStream emits the terminal SSE event from the persisted session state.
func (h *Handler) finishStream(w http.ResponseWriter, flusher http.Flusher, tenant, id string) {
	session, err := h.service.Get(context.Background(), tenant, id)
	if err != nil {
		writeSSE(w, streamEvent{Type: "error", Error: "analysis state unavailable"})
		flusher.Flush()
		return
	}
	switch session.Status {
	case models.SessionCompleted:
		writeSSE(w, streamEvent{Type: "complete", Result: session.Result})
	case models.SessionFailed:
		writeSSE(w, streamEvent{Type: "error", Error: session.ErrorMessage})
	default:
		writeSSE(w, streamEvent{Type: "error", Error: "analysis interrupted"})
	}
	flusher.Flush()
}

// Result returns the full session, including the result payload once the run
// completes.
func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		h.logger.Error("get session", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ListSessions returns recent sessions for the tenant.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	sessions, err := h.service.List(r.Context(), tenantID(r), limit)
	if err != nil {
		h.logger.Error("list sessions", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type renameRequest struct {
	Query string `json:"query"`
}

// RenameSession updates the query text shown in history.
func (h *Handler) RenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	err := h.service.Rename(r.Context(), tenantID(r), chi.URLParam(r, "id"), req.Query)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		h.logger.Error("rename session", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to rename session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteSession removes a session and its history.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), tenantID(r), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "analysis not found")
			return
		}
		h.logger.Error("delete session", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeSSE(w http.ResponseWriter, ev streamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}
