// Package storage provides SQLite-backed persistence for raw evidence, event proposals,
// events, predictions with their attributions, resolutions, and agent run records.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNotPending          = errors.New("proposal is not pending")
	ErrProposalNotAccepted = errors.New("proposal is not accepted")
	ErrMissingEvidence     = errors.New("attributed raw item does not exist")
	ErrInvalidTransition   = errors.New("invalid event state transition")
	ErrInvalidRanks        = errors.New("attribution ranks must be unique and contiguous from 1")
	ErrEventNotLocked      = errors.New("event is not locked")
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db      *sql.DB
	timeout time.Duration
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/eventoracle/data.db.
// A positive timeout bounds every storage call.
func New(dbPath string, timeout time.Duration) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "eventoracle", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, timeout: timeout}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raw_items (
			id            TEXT PRIMARY KEY,
			source_type   TEXT NOT NULL,
			source_name   TEXT NOT NULL,
			url           TEXT,
			title         TEXT NOT NULL,
			snippet       TEXT,
			fingerprint   TEXT NOT NULL UNIQUE,
			canonical_key TEXT NOT NULL,
			published_at  INTEGER NOT NULL,
			first_seen_at INTEGER NOT NULL,
			fetched_at    INTEGER NOT NULL,
			metadata      TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_items_key ON raw_items(canonical_key)`,
		`CREATE TABLE IF NOT EXISTS event_proposals (
			id            TEXT PRIMARY KEY,
			canonical_key TEXT NOT NULL,
			title         TEXT NOT NULL,
			description   TEXT,
			proposed_by   TEXT NOT NULL,
			status        TEXT NOT NULL CHECK (status IN ('pending','accepted','rejected')),
			judgment      TEXT,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			CHECK ((status = 'pending') = (judgment IS NULL))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_proposals_pending_key
			ON event_proposals(canonical_key) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_proposals_status ON event_proposals(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS proposal_evidence (
			proposal_id TEXT NOT NULL REFERENCES event_proposals(id) ON DELETE CASCADE,
			raw_item_id TEXT NOT NULL REFERENCES raw_items(id),
			added_at    INTEGER NOT NULL,
			PRIMARY KEY (proposal_id, raw_item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			proposal_id TEXT NOT NULL UNIQUE REFERENCES event_proposals(id),
			key         TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT,
			state       TEXT NOT NULL,
			primary_tag TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_state ON events(state, created_at)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id            TEXT PRIMARY KEY,
			event_id      TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			run_id        TEXT,
			p             REAL NOT NULL CHECK (p >= 0 AND p <= 1),
			ttc_hours     REAL NOT NULL CHECK (ttc_hours >= 0),
			rationale     TEXT,
			superseded_by TEXT REFERENCES predictions(id),
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_event ON predictions(event_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS prediction_evidence (
			prediction_id TEXT NOT NULL REFERENCES predictions(id) ON DELETE CASCADE,
			raw_item_id   TEXT NOT NULL REFERENCES raw_items(id),
			rank          INTEGER NOT NULL CHECK (rank >= 1),
			PRIMARY KEY (prediction_id, rank),
			UNIQUE (prediction_id, raw_item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_runs (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			subject_id   TEXT NOT NULL,
			attempt      INTEGER NOT NULL,
			status       TEXT NOT NULL,
			failure_kind TEXT,
			model        TEXT,
			input        TEXT,
			output       TEXT,
			raw_response TEXT,
			error        TEXT,
			tokens_in    INTEGER NOT NULL DEFAULT 0,
			tokens_out   INTEGER NOT NULL DEFAULT 0,
			cost_usd     REAL NOT NULL DEFAULT 0,
			latency_ms   INTEGER NOT NULL DEFAULT 0,
			started_at   INTEGER NOT NULL,
			ended_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_runs_subject ON agent_runs(subject_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS resolutions (
			id                TEXT PRIMARY KEY,
			event_id          TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
			run_id            TEXT,
			status            TEXT NOT NULL CHECK (status IN ('resolved','open','contradicted')),
			outcome           TEXT,
			confidence        REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
			confirming        INTEGER NOT NULL,
			contradicting     INTEGER NOT NULL,
			sources_checked   INTEGER NOT NULL,
			summary           TEXT,
			confirming_ids    TEXT NOT NULL DEFAULT '[]',
			contradicting_ids TEXT NOT NULL DEFAULT '[]',
			created_at        INTEGER NOT NULL,
			CHECK ((status = 'resolved') = (outcome IS NOT NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resolutions_event ON resolutions(event_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// query runs a squirrel builder against the database.
func (s *Storage) query(ctx context.Context, b sq.SelectBuilder) (*sql.Rows, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.db.QueryContext(ctx, q, args...)
}

func toNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
