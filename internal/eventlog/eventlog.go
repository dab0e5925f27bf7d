// Package eventlog persists acquisition lifecycle diagnostics (session
// starts, connection losses, decode errors, degraded transitions) to a
// local sqlite database. Scan data itself is never stored here; only the
// single in-memory slot holds scans.
package eventlog

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite handle for the events table.
type Store struct {
	*sql.DB
}

// Event is one recorded diagnostic.
type Event struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Open opens (creating if needed) the event database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id        TEXT NOT NULL,
			kind              TEXT NOT NULL,
			detail            TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db}, nil
}

// Record inserts one event.
func (s *Store) Record(sessionID, kind, detail string) error {
	_, err := s.Exec(
		`INSERT INTO events (session_id, kind, detail) VALUES (?, ?, ?)`,
		sessionID, kind, detail,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RecordEvent satisfies the driver's EventSink. Persistence failures are
// logged, never propagated: diagnostics must not take down acquisition.
func (s *Store) RecordEvent(sessionID, kind, detail string) {
	if err := s.Record(sessionID, kind, detail); err != nil {
		log.Printf("event log write failed (%s): %v", kind, err)
	}
}

// Recent returns the newest events, most recent first.
func (s *Store) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Query(`
		SELECT event_id, session_id, kind, COALESCE(detail, ''), timestamp
		FROM events
		ORDER BY event_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events rows: %w", err)
	}
	return events, nil
}

// CountBySession returns per-kind event counts for a session, for the
// status endpoint.
func (s *Store) CountBySession(sessionID string) (map[string]int64, error) {
	rows, err := s.Query(`
		SELECT kind, COUNT(*)
		FROM events
		WHERE session_id = ?
		GROUP BY kind
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count events rows: %w", err)
	}
	return counts, nil
}
