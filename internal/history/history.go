// Package history persists managed-process lifecycle events to a local
// SQLite database (modernc.org/sqlite driver, CGO-free) so restarts and
// crashes remain inspectable after the agent itself restarts.
package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded by the supervisor.
const (
	KindStarted   = "started"
	KindRestarted = "restarted"
	KindExited    = "exited"
)

// Event is one lifecycle observation of the managed process.
type Event struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	PID        int       `json:"pid"`
	Version    string    `json:"version"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Store is a SQLite-backed event log. Use ":memory:" for tests.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &Store{db: d}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lifecycle_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			pid INTEGER NOT NULL,
			version TEXT NOT NULL,
			detail TEXT NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_events_kind ON lifecycle_events(kind);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record appends one event. OccurredAt defaults to now when zero.
func (s *Store) Record(ctx context.Context, e Event) error {
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var detail sql.NullString
	if e.Detail != "" {
		detail = sql.NullString{String: e.Detail, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events(kind, pid, version, detail, occurred_at)
		VALUES(?, ?, ?, ?, ?);`,
		e.Kind, e.PID, e.Version, detail, at.UTC())
	return err
}

// Recent returns the most recent events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, pid, version, detail, occurred_at
		FROM lifecycle_events ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var e Event
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.PID, &e.Version, &detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}
