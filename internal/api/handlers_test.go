package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/retailpulse/diagnose/internal/config"
	"github.com/retailpulse/diagnose/internal/models"
	"github.com/retailpulse/diagnose/internal/store"
)

type fakeService struct {
	sessions map[string]models.Session
	replay   []models.StepEvent

	startedTenant string
	startedQuery  string
	renamed       string
	deleted       string
}

func newFakeService() *fakeService {
	return &fakeService{sessions: make(map[string]models.Session)}
}

func (f *fakeService) Start(_ context.Context, tenantID, query, _ string) (models.Session, error) {
	f.startedTenant = tenantID
	f.startedQuery = query
	session := models.Session{ID: "sess-1", TenantID: tenantID, Query: query, Status: models.SessionPending}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeService) Get(_ context.Context, tenantID, id string) (models.Session, error) {
	session, ok := f.sessions[id]
	if !ok || session.TenantID != tenantID {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeService) Subscribe(_ context.Context, tenantID, id string) ([]models.StepEvent, <-chan models.StepEvent, func(), error) {
	if _, ok := f.sessions[id]; !ok {
		return nil, nil, nil, store.ErrSessionNotFound
	}
	_ = tenantID
	live := make(chan models.StepEvent)
	close(live)
	return f.replay, live, func() {}, nil
}

func (f *fakeService) List(_ context.Context, tenantID string, _ int) ([]models.Session, error) {
	var out []models.Session
	for _, s := range f.sessions {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeService) Rename(_ context.Context, _, id, query string) error {
	if _, ok := f.sessions[id]; !ok {
		return store.ErrSessionNotFound
	}
	f.renamed = query
	return nil
}

func (f *fakeService) Delete(_ context.Context, _, id string) error {
	if _, ok := f.sessions[id]; !ok {
		return store.ErrSessionNotFound
	}
	f.deleted = id
	return nil
}

func newTestRouter(svc DiagnosisAPI) http.Handler {
	h := NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Get("/healthz", h.Health)
	r.Route("/api/analysis", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Get("/stream/{id}", h.Stream)
		r.Get("/result/{id}", h.Result)
		r.Get("/sessions", h.ListSessions)
		r.Patch("/sessions/{id}", h.RenameSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
	})
	return r
}

func TestStartEndpoint(t *testing.T) {
	svc := newFakeService()
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/start", strings.NewReader(`{"query":"why did revenue drop"}`))
	req.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "sess-1", body["analysisId"])
	require.Equal(t, "pending", body["status"])
	require.Equal(t, "acme", svc.startedTenant)
	require.Equal(t, "why did revenue drop", svc.startedQuery)
}

func TestStartRequiresQuery(t *testing.T) {
	router := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/start", strings.NewReader(`{"query":"  "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartDefaultsTenant(t *testing.T) {
	svc := newFakeService()
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/start", strings.NewReader(`{"query":"q"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, defaultTenant, svc.startedTenant)
}

func TestResultEndpoint(t *testing.T) {
	svc := newFakeService()
	svc.sessions["sess-1"] = models.Session{
		ID: "sess-1", TenantID: "acme", Query: "q", Status: models.SessionCompleted,
		Result: &models.ResultData{
			RootCauses: []models.RootCause{{ID: "rc-H1-0", Title: "Stockout blocking demand"}},
		},
	}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/result/sess-1", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var session models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.Equal(t, "acme", session.TenantID)
	require.Len(t, session.Result.RootCauses, 1)
}

func TestResultNotFound(t *testing.T) {
	router := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/result/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamEndpoint(t *testing.T) {
	svc := newFakeService()
	now := time.Now().UTC()
	svc.sessions["sess-1"] = models.Session{
		ID: "sess-1", TenantID: defaultTenant, Status: models.SessionCompleted,
		Result: &models.ResultData{MemoMarkdown: "# Diagnosis Memo"},
	}
	svc.replay = []models.StepEvent{
		{SessionID: "sess-1", Stage: 1, Label: "Querying data sources", Status: models.StepRunning, At: now},
		{SessionID: "sess-1", Stage: 1, Label: "Querying data sources", Status: models.StepCompleted, At: now.Add(time.Second)},
	}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/stream/sess-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	require.Equal(t, 3, strings.Count(body, "data: "), "two progress events plus the terminal event")
	require.Contains(t, body, `"type":"progress"`)
	require.Contains(t, body, `"type":"complete"`)
	require.Contains(t, body, "# Diagnosis Memo")
}

func TestStreamFailedSession(t *testing.T) {
	svc := newFakeService()
	svc.sessions["sess-1"] = models.Session{
		ID: "sess-1", TenantID: defaultTenant, Status: models.SessionFailed, ErrorMessage: "stage 2 timed out",
	}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/stream/sess-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Contains(t, rec.Body.String(), `"type":"error"`)
	require.Contains(t, rec.Body.String(), "stage 2 timed out")
}

func TestStreamNotFound(t *testing.T) {
	router := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/stream/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionManagementEndpoints(t *testing.T) {
	svc := newFakeService()
	svc.sessions["sess-1"] = models.Session{ID: "sess-1", TenantID: defaultTenant, Query: "q"}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var listBody struct {
		Sessions []models.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listBody))
	require.Len(t, listBody.Sessions, 1)

	req = httptest.NewRequest(http.MethodPatch, "/api/analysis/sessions/sess-1", strings.NewReader(`{"query":"renamed"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "renamed", svc.renamed)

	req = httptest.NewRequest(http.MethodDelete, "/api/analysis/sessions/sess-1", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "sess-1", svc.deleted)

	req = httptest.NewRequest(http.MethodDelete, "/api/analysis/sessions/missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(newFakeService())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestNewServerRoutes(t *testing.T) {
	srv := NewServer(nil, config.ServerConfig{Address: ":0", AllowedOrigins: []string{"*"}}, NewHandler(nil, newFakeService()))
	require.NotNil(t, srv)
}
