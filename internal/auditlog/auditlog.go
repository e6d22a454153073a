// Package auditlog persists a provisioning session trail to SQLite:
// every connect attempt and its outcome, and every bring-up state
// transition, for post-hoc diagnosis when bring-up stalls (the source's
// only diagnostic was the debug-log trace of the state variable).
package auditlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ConnectAttempt records one WriteValue on the connect characteristic.
type ConnectAttempt struct {
	ID        int
	SSID      string
	Security  uint8
	Requested time.Time
	Outcome   string // "connecting", "up", "failed"
}

// StateTransition records one bring-up state machine transition.
type StateTransition struct {
	ID        int
	From      string
	To        string
	Timestamp time.Time
}

// Log wraps the sqlite connection and schema.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures schema.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("auditlog: ping: %w", err)
	}
	l := &Log{db: db}
	if err := l.createTables(); err != nil {
		return nil, fmt.Errorf("auditlog: create tables: %w", err)
	}
	return l, nil
}

func (l *Log) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS connect_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ssid TEXT NOT NULL,
		security INTEGER NOT NULL,
		requested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		outcome TEXT NOT NULL DEFAULT 'connecting'
	);

	CREATE TABLE IF NOT EXISTS state_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		occurred_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_connect_attempts_requested ON connect_attempts(requested_at);
	CREATE INDEX IF NOT EXISTS idx_state_transitions_occurred ON state_transitions(occurred_at);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// RecordConnectAttempt inserts a new connect attempt and returns its ID.
func (l *Log) RecordConnectAttempt(ssid string, security uint8) (int64, error) {
	res, err := l.db.Exec(
		`INSERT INTO connect_attempts (ssid, security) VALUES (?, ?)`,
		ssid, security,
	)
	if err != nil {
		return 0, fmt.Errorf("auditlog: insert connect attempt: %w", err)
	}
	return res.LastInsertId()
}

// UpdateConnectOutcome sets the outcome of a previously recorded attempt.
func (l *Log) UpdateConnectOutcome(id int64, outcome string) error {
	_, err := l.db.Exec(`UPDATE connect_attempts SET outcome = ? WHERE id = ?`, outcome, id)
	if err != nil {
		return fmt.Errorf("auditlog: update connect outcome: %w", err)
	}
	return nil
}

// RecordStateTransition inserts a bring-up state transition row.
func (l *Log) RecordStateTransition(from, to string) error {
	_, err := l.db.Exec(
		`INSERT INTO state_transitions (from_state, to_state) VALUES (?, ?)`,
		from, to,
	)
	if err != nil {
		return fmt.Errorf("auditlog: insert state transition: %w", err)
	}
	return nil
}

// RecentTransitions returns the most recent state transitions, newest first.
func (l *Log) RecentTransitions(limit int) ([]StateTransition, error) {
	rows, err := l.db.Query(
		`SELECT id, from_state, to_state, occurred_at FROM state_transitions ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query transitions: %w", err)
	}
	defer rows.Close()

	var out []StateTransition
	for rows.Next() {
		var t StateTransition
		if err := rows.Scan(&t.ID, &t.From, &t.To, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("auditlog: scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentConnectAttempts returns the most recent connect attempts, newest first.
func (l *Log) RecentConnectAttempts(limit int) ([]ConnectAttempt, error) {
	rows, err := l.db.Query(
		`SELECT id, ssid, security, requested_at, outcome FROM connect_attempts ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query connect attempts: %w", err)
	}
	defer rows.Close()

	var out []ConnectAttempt
	for rows.Next() {
		var a ConnectAttempt
		if err := rows.Scan(&a.ID, &a.SSID, &a.Security, &a.Requested, &a.Outcome); err != nil {
			return nil, fmt.Errorf("auditlog: scan connect attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
