package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrSessionNotFound signals that a diagnosis session id is unknown for the
// tenant. Surfaced to clients as a not-found outcome, never as a failure.
var ErrSessionNotFound = errors.New("analysis session not found")

// Store wraps the SQLite database holding the canonical fact tables, the
// anomaly audit log, and diagnosis sessions. Fact tables are written by the
// ingestion collaborator; the pipeline only reads them.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and configures WAL mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS retail_records (
	id         TEXT PRIMARY KEY,
	source_id  TEXT NOT NULL DEFAULT '',
	tenant_id  TEXT NOT NULL,
	date       TEXT NOT NULL,
	sku        TEXT NOT NULL,
	revenue    REAL NOT NULL DEFAULT 0,
	units      REAL NOT NULL DEFAULT 0,
	traffic    REAL NOT NULL DEFAULT 0,
	inventory  REAL NOT NULL DEFAULT 0,
	returns    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS order_records (
	id        TEXT PRIMARY KEY,
	source_id TEXT NOT NULL DEFAULT '',
	tenant_id TEXT NOT NULL,
	order_id  TEXT NOT NULL,
	sku       TEXT NOT NULL,
	quantity  REAL NOT NULL DEFAULT 0,
	revenue   REAL NOT NULL DEFAULT 0,
	date      TEXT NOT NULL,
	region    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS inventory_records (
	id            TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL DEFAULT '',
	tenant_id     TEXT NOT NULL,
	sku           TEXT NOT NULL,
	location      TEXT NOT NULL,
	available_qty REAL NOT NULL DEFAULT 0,
	date          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fulfilment_records (
	id            TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL DEFAULT '',
	tenant_id     TEXT NOT NULL,
	order_id      TEXT NOT NULL,
	sku           TEXT NOT NULL DEFAULT '',
	dispatch_date TEXT NOT NULL,
	delivery_date TEXT,
	delay_days    REAL NOT NULL DEFAULT 0,
	carrier       TEXT NOT NULL DEFAULT '',
	warehouse     TEXT NOT NULL DEFAULT '',
	region        TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'dispatched'
);

CREATE TABLE IF NOT EXISTS traffic_records (
	id          TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL DEFAULT '',
	tenant_id   TEXT NOT NULL,
	date        TEXT NOT NULL,
	channel     TEXT NOT NULL,
	sku         TEXT NOT NULL DEFAULT '',
	sessions    REAL NOT NULL DEFAULT 0,
	impressions REAL NOT NULL DEFAULT 0,
	clicks      REAL NOT NULL DEFAULT 0,
	spend       REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS weather_records (
	id          TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL DEFAULT '',
	tenant_id   TEXT NOT NULL,
	date        TEXT NOT NULL,
	region      TEXT NOT NULL,
	temp_min    REAL NOT NULL DEFAULT 0,
	temp_max    REAL NOT NULL DEFAULT 0,
	rainfall_mm REAL NOT NULL DEFAULT 0,
	humidity    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS anomalies (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	kpi_name          TEXT NOT NULL,
	severity          TEXT NOT NULL,
	current_value     REAL NOT NULL,
	expected_value    REAL NOT NULL,
	deviation_percent REAL NOT NULL,
	dimensions        TEXT NOT NULL DEFAULT '{}',
	detected_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	query         TEXT NOT NULL,
	signal_id     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	result        TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME
);

CREATE TABLE IF NOT EXISTS session_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	stage      INTEGER NOT NULL,
	label      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retail_tenant_date ON retail_records(tenant_id, date);
CREATE INDEX IF NOT EXISTS idx_retail_tenant_sku ON retail_records(tenant_id, sku);
CREATE INDEX IF NOT EXISTS idx_orders_tenant_date ON order_records(tenant_id, date);
CREATE INDEX IF NOT EXISTS idx_inventory_tenant ON inventory_records(tenant_id, sku, location, date);
CREATE INDEX IF NOT EXISTS idx_fulfilment_tenant ON fulfilment_records(tenant_id);
CREATE INDEX IF NOT EXISTS idx_traffic_tenant ON traffic_records(tenant_id, channel);
CREATE INDEX IF NOT EXISTS idx_weather_tenant_date ON weather_records(tenant_id, date);
CREATE INDEX IF NOT EXISTS idx_anomalies_tenant ON anomalies(tenant_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant_id, started_at);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id, seq);
`

// Migrate creates the schema when it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
