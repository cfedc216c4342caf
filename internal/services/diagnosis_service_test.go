package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retailpulse/diagnose/internal/models"
	"github.com/retailpulse/diagnose/internal/pubsub"
	"github.com/retailpulse/diagnose/internal/store"
)

type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	events   map[string][]models.StepEvent
	deleted  []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[string]models.Session),
		events:   make(map[string][]models.StepEvent),
	}
}

func (f *fakeRepo) CreateSession(_ context.Context, tenantID, query, signalID string) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := models.Session{
		ID: "sess-1", TenantID: tenantID, Query: query, SignalID: signalID,
		Status: models.SessionPending, StartedAt: time.Now().UTC(),
	}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeRepo) GetSession(_ context.Context, tenantID, id string) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.TenantID != tenantID {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeRepo) SessionEvents(_ context.Context, sessionID string) ([]models.StepEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.StepEvent(nil), f.events[sessionID]...), nil
}

func (f *fakeRepo) ListSessions(_ context.Context, tenantID string, _ int) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Session
	for _, s := range f.sessions {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRepo) RenameSession(_ context.Context, tenantID, id, query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.TenantID != tenantID {
		return store.ErrSessionNotFound
	}
	session.Query = query
	f.sessions[id] = session
	return nil
}

func (f *fakeRepo) DeleteSession(_ context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.TenantID != tenantID {
		return store.ErrSessionNotFound
	}
	delete(f.sessions, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRepo) setStatus(id string, status models.SessionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := f.sessions[id]
	session.Status = status
	f.sessions[id] = session
}

type fakePipeline struct {
	run func(ctx context.Context, session models.Session) error
}

func (f *fakePipeline) Run(ctx context.Context, session models.Session) error {
	if f.run == nil {
		return nil
	}
	return f.run(ctx, session)
}

func TestStartRunsPipelineAndClosesStream(t *testing.T) {
	repo := newFakeRepo()
	broker := pubsub.NewBroker()

	ran := make(chan string, 1)
	pipeline := &fakePipeline{run: func(_ context.Context, session models.Session) error {
		broker.Publish(models.StepEvent{SessionID: session.ID, Stage: 1, Status: models.StepCompleted, At: time.Now().UTC()})
		repo.setStatus(session.ID, models.SessionCompleted)
		ran <- session.ID
		return nil
	}}

	svc := NewDiagnosisService(nil, repo, pipeline, broker)

	session, err := svc.Start(context.Background(), "acme", "why did revenue drop", "")
	require.NoError(t, err)
	require.Equal(t, models.SessionPending, session.Status)

	select {
	case id := <-ran:
		require.Equal(t, session.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never ran")
	}
	svc.Wait()

	// The run is terminal, so a new subscription must close promptly.
	_, live, cancel, err := svc.Subscribe(context.Background(), "acme", session.ID)
	require.NoError(t, err)
	defer cancel()

	select {
	case _, open := <-live:
		require.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after terminal session")
	}
}

func TestSubscribeReplaysPersistedEvents(t *testing.T) {
	repo := newFakeRepo()
	broker := pubsub.NewBroker()
	svc := NewDiagnosisService(nil, repo, &fakePipeline{run: func(context.Context, models.Session) error {
		// Keep the session running so the live channel stays open.
		return nil
	}}, broker)

	session, err := svc.Start(context.Background(), "acme", "q", "")
	require.NoError(t, err)
	svc.Wait()

	repo.mu.Lock()
	repo.events[session.ID] = []models.StepEvent{
		{SessionID: session.ID, Stage: 1, Status: models.StepRunning},
		{SessionID: session.ID, Stage: 1, Status: models.StepCompleted},
	}
	repo.mu.Unlock()

	replay, _, cancel, err := svc.Subscribe(context.Background(), "acme", session.ID)
	require.NoError(t, err)
	defer cancel()
	require.Len(t, replay, 2)
}

func TestSubscribeUnknownSession(t *testing.T) {
	svc := NewDiagnosisService(nil, newFakeRepo(), &fakePipeline{}, pubsub.NewBroker())

	_, _, _, err := svc.Subscribe(context.Background(), "acme", "missing")
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestDeleteClosesLiveStreams(t *testing.T) {
	repo := newFakeRepo()
	broker := pubsub.NewBroker()
	svc := NewDiagnosisService(nil, repo, &fakePipeline{}, broker)

	session, err := svc.Start(context.Background(), "acme", "q", "")
	require.NoError(t, err)
	svc.Wait()
	repo.setStatus(session.ID, models.SessionRunning)

	_, live, cancel, err := svc.Subscribe(context.Background(), "acme", session.ID)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, svc.Delete(context.Background(), "acme", session.ID))
	require.Equal(t, []string{session.ID}, repo.deleted)

	select {
	case _, open := <-live:
		require.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close when the session was deleted")
	}

	_, err = svc.Get(context.Background(), "acme", session.ID)
	require.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestRenameAndList(t *testing.T) {
	repo := newFakeRepo()
	svc := NewDiagnosisService(nil, repo, &fakePipeline{}, pubsub.NewBroker())

	session, err := svc.Start(context.Background(), "acme", "original", "")
	require.NoError(t, err)
	svc.Wait()

	require.NoError(t, svc.Rename(context.Background(), "acme", session.ID, "renamed"))
	got, err := svc.Get(context.Background(), "acme", session.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Query)

	sessions, err := svc.List(context.Background(), "acme", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.ErrorIs(t, svc.Rename(context.Background(), "other", session.ID, "x"), store.ErrSessionNotFound)
}
