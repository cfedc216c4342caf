package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/retailpulse/diagnose/internal/metrics"
	"github.com/retailpulse/diagnose/internal/models"
	"github.com/retailpulse/diagnose/internal/pubsub"
	"github.com/retailpulse/diagnose/internal/utils"
)

// SessionRepo defines the storage operations the service needs for session
// lifecycle and history.
type SessionRepo interface {
	CreateSession(ctx context.Context, tenantID, query, signalID string) (models.Session, error)
	GetSession(ctx context.Context, tenantID, id string) (models.Session, error)
	SessionEvents(ctx context.Context, sessionID string) ([]models.StepEvent, error)
	ListSessions(ctx context.Context, tenantID string, limit int) ([]models.Session, error)
	RenameSession(ctx context.Context, tenantID, id, query string) error
	DeleteSession(ctx context.Context, tenantID, id string) error
}

// PipelineRunner executes one diagnosis run end to end.
type PipelineRunner interface {
	Run(ctx context.Context, session models.Session) error
}

// DiagnosisService owns session lifecycle: it starts pipeline runs, exposes
// progress subscriptions, and serves session history.
type DiagnosisService struct {
	logger    *slog.Logger
	repo      SessionRepo
	pipeline  PipelineRunner
	broker    *pubsub.Broker
	latencies *utils.LatencyTracker

	wg sync.WaitGroup
}

// NewDiagnosisService constructs the service facade.
func NewDiagnosisService(logger *slog.Logger, repo SessionRepo, pipeline PipelineRunner, broker *pubsub.Broker) *DiagnosisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosisService{
		logger:    logger,
		repo:      repo,
		pipeline:  pipeline,
		broker:    broker,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Start creates a session and launches its diagnosis pipeline in the
// background. The returned session is in the pending state; progress flows
// through the event log and the broker.
func (s *DiagnosisService) Start(ctx context.Context, tenantID, query, signalID string) (models.Session, error) {
	if s.pipeline == nil {
		return models.Session{}, utils.NewAppError("diagnosis.start", "pipeline not configured", nil)
	}

	session, err := s.repo.CreateSession(ctx, tenantID, query, signalID)
	if err != nil {
		return models.Session{}, fmt.Errorf("start diagnosis: %w", err)
	}

	s.logger.Info("diagnosis started",
		slog.String("session_id", session.ID), slog.String("tenant_id", tenantID))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The run owns its own lifetime; per-stage deadlines bound it.
		runCtx := context.WithoutCancel(ctx)
		start := time.Now()
		err := s.pipeline.Run(runCtx, session)
		duration := time.Since(start)
		s.broker.Close(session.ID)

		if err != nil {
			metrics.ObserveDiagnosis(duration, metrics.OutcomeError)
			s.logger.Error("diagnosis failed",
				slog.String("session_id", session.ID), slog.Any("error", err))
			return
		}
		s.latencies.Observe(duration)
		metrics.ObserveDiagnosis(duration, metrics.OutcomeSuccess)
		if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
			s.logger.Info("diagnosis latency",
				slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
		}
	}()

	return session, nil
}

// Get returns a session with its current step state and result, if any.
func (s *DiagnosisService) Get(ctx context.Context, tenantID, id string) (models.Session, error) {
	return s.repo.GetSession(ctx, tenantID, id)
}

// Subscribe returns the session's persisted events so far plus a live channel
// for subsequent ones. The channel closes when the session reaches a terminal
// state. Replay and subscription are ordered so no event is lost between
// them; an event appearing in both is possible and harmless because folding
// is idempotent.
func (s *DiagnosisService) Subscribe(ctx context.Context, tenantID, id string) (replay []models.StepEvent, live <-chan models.StepEvent, cancel func(), err error) {
	// Subscribe before reading the status: the pipeline records the terminal
	// status before its stream closes, so a non-terminal read here guarantees
	// the close has not yet passed this subscription by.
	live, cancel = s.broker.Subscribe(id)

	session, err := s.repo.GetSession(ctx, tenantID, id)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	replay, err = s.repo.SessionEvents(ctx, id)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}

	// Already terminal: close the stream now so the subscriber sees the
	// replayed events followed by an immediate end.
	if session.Status == models.SessionCompleted || session.Status == models.SessionFailed {
		s.broker.Close(id)
	}
	return replay, live, cancel, nil
}

// List returns the tenant's recent sessions, newest first.
func (s *DiagnosisService) List(ctx context.Context, tenantID string, limit int) ([]models.Session, error) {
	return s.repo.ListSessions(ctx, tenantID, limit)
}

// Rename updates the query text shown in session history.
func (s *DiagnosisService) Rename(ctx context.Context, tenantID, id, query string) error {
	return s.repo.RenameSession(ctx, tenantID, id, query)
}

// Delete removes a session and its event log, closing any live streams.
func (s *DiagnosisService) Delete(ctx context.Context, tenantID, id string) error {
	if err := s.repo.DeleteSession(ctx, tenantID, id); err != nil {
		return err
	}
	s.broker.Close(id)
	return nil
}

// Wait blocks until all in-flight pipeline runs finish. Used during graceful
// shutdown.
func (s *DiagnosisService) Wait() {
	s.wg.Wait()
}
