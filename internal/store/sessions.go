package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/retailpulse/diagnose/internal/models"
)

// CreateSession persists a new pending diagnosis session and returns it.
func (s *Store) CreateSession(ctx context.Context, tenantID, query, signalID string) (models.Session, error) {
	session := models.Session{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Query:     query,
		SignalID:  signalID,
		Status:    models.SessionPending,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, query, signal_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.TenantID, session.Query, session.SignalID,
		string(session.Status), session.StartedAt,
	)
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession loads a session with its steps folded from the event log.
func (s *Store) GetSession(ctx context.Context, tenantID, id string) (models.Session, error) {
	var (
		session     models.Session
		status      string
		resultJSON  sql.NullString
		completedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, query, signal_id, status, result, error_message, started_at, completed_at
		FROM sessions WHERE id = ? AND tenant_id = ?`, id, tenantID,
	).Scan(&session.ID, &session.TenantID, &session.Query, &session.SignalID,
		&status, &resultJSON, &session.ErrorMessage, &session.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session: %w", err)
	}

	session.Status = models.SessionStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		session.CompletedAt = &t
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result models.ResultData
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return models.Session{}, fmt.Errorf("decode session result: %w", err)
		}
		session.Result = &result
	}

	events, err := s.SessionEvents(ctx, id)
	if err != nil {
		return models.Session{}, err
	}
	session.Steps = models.FoldSteps(events)
	return session, nil
}

// SessionEvents returns the append-only progress log for a session in order.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]models.StepEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, label, status, detail, at
		FROM session_events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session events: %w", err)
	}
	defer rows.Close()

	var events []models.StepEvent
	for rows.Next() {
		ev := models.StepEvent{SessionID: sessionID}
		var status string
		if err := rows.Scan(&ev.Stage, &ev.Label, &status, &ev.Detail, &ev.At); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		ev.Status = models.StepStatus(status)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AppendStepEvent records one progress event. The pipeline goroutine owning
// the session is the only writer.
func (s *Store) AppendStepEvent(ctx context.Context, ev models.StepEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, stage, label, status, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Stage, ev.Label, string(ev.Status), ev.Detail, ev.At,
	)
	if err != nil {
		return fmt.Errorf("append step event: %w", err)
	}
	return nil
}

// SetSessionStatus transitions a session's status, recording an error message
// for failed sessions.
func (s *Store) SetSessionStatus(ctx context.Context, id string, status models.SessionStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET status = ?, error_message = ? WHERE id = ?",
		string(status), errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return checkSessionAffected(res)
}

// CompleteSession stores the result payload and marks the session completed.
func (s *Store) CompleteSession(ctx context.Context, id string, result *models.ResultData) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode session result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		string(models.SessionCompleted), string(payload), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return checkSessionAffected(res)
}

// ListSessions returns the tenant's most recent sessions, newest first,
// without result payloads or steps.
func (s *Store) ListSessions(ctx context.Context, tenantID string, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, status, started_at, completed_at
		FROM sessions WHERE tenant_id = ?
		ORDER BY started_at DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session := models.Session{TenantID: tenantID}
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&session.ID, &session.Query, &status, &session.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.Status = models.SessionStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			session.CompletedAt = &t
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// RenameSession updates the stored query text shown in session history.
func (s *Store) RenameSession(ctx context.Context, tenantID, id, query string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET query = ? WHERE id = ? AND tenant_id = ?",
		query, id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return checkSessionAffected(res)
}

// DeleteSession removes a session and its event log.
func (s *Store) DeleteSession(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE id = ? AND tenant_id = ?", id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return checkSessionAffected(res)
}

func checkSessionAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}
