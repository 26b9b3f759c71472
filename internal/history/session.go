package history

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionStatus represents the status of a supervisor session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session represents one supervisor run.
type Session struct {
	ID              string        `json:"id"`
	StartedAt       time.Time     `json:"started_at"`
	MaxCallsPerHour int           `json:"max_calls_per_hour"`
	Status          SessionStatus `json:"status"`
	ExitReason      string        `json:"exit_reason"`
	EndedAt         *time.Time    `json:"ended_at"`
}

// Iteration is one recorded loop iteration.
type Iteration struct {
	SessionID       string    `json:"session_id"`
	LoopNumber      int       `json:"loop_number"`
	StartedAt       time.Time `json:"started_at"`
	Duration        time.Duration
	LastAction      string `json:"last_action"`
	ExitSignal      bool   `json:"exit_signal"`
	FilesModified   int    `json:"files_modified"`
	ConfidenceScore int    `json:"confidence_score"`
}

// CreateSession creates a new session record.
func (db *DB) CreateSession(s *Session) error {
	_, err := db.exec(`
		INSERT INTO sessions (id, started_at, max_calls_per_hour, status)
		VALUES (?, ?, ?, ?)
	`, s.ID, formatTime(s.StartedAt), s.MaxCallsPerHour, string(s.Status))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// EndSession marks a session finished with the given status and reason.
func (db *DB) EndSession(id string, status SessionStatus, exitReason string) error {
	_, err := db.exec(`
		UPDATE sessions SET status = ?, exit_reason = ?, ended_at = ? WHERE id = ?
	`, string(status), exitReason, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns nil when not found.
func (db *DB) GetSession(id string) (*Session, error) {
	row := db.queryRow(`
		SELECT id, started_at, max_calls_per_hour, status, COALESCE(exit_reason, ''), ended_at
		FROM sessions WHERE id = ?
	`, id)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// LatestSession returns the most recently started session, or nil when
// none have been recorded.
func (db *DB) LatestSession() (*Session, error) {
	row := db.queryRow(`
		SELECT id, started_at, max_calls_per_hour, status, COALESCE(exit_reason, ''), ended_at
		FROM sessions ORDER BY started_at DESC LIMIT 1
	`)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest session: %w", err)
	}
	return s, nil
}

// RecordIteration stores one loop iteration.
func (db *DB) RecordIteration(it *Iteration) error {
	exitSignal := 0
	if it.ExitSignal {
		exitSignal = 1
	}
	_, err := db.exec(`
		INSERT OR REPLACE INTO iterations
			(session_id, loop_number, started_at, duration_ms, last_action, exit_signal, files_modified, confidence_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, it.SessionID, it.LoopNumber, formatTime(it.StartedAt), it.Duration.Milliseconds(),
		it.LastAction, exitSignal, it.FilesModified, it.ConfidenceScore)
	if err != nil {
		return fmt.Errorf("record iteration: %w", err)
	}
	return nil
}

// RecentIterations returns up to limit iterations for a session, newest
// first.
func (db *DB) RecentIterations(sessionID string, limit int) ([]Iteration, error) {
	rows, err := db.query(`
		SELECT session_id, loop_number, started_at, duration_ms, last_action, exit_signal, files_modified, confidence_score
		FROM iterations WHERE session_id = ?
		ORDER BY loop_number DESC LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var it Iteration
		var startedAt string
		var durationMS int64
		var exitSignal int
		if err := rows.Scan(&it.SessionID, &it.LoopNumber, &startedAt, &durationMS,
			&it.LastAction, &exitSignal, &it.FilesModified, &it.ConfidenceScore); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		if ts, err := parseTime(startedAt); err == nil {
			it.StartedAt = ts
		}
		it.Duration = time.Duration(durationMS) * time.Millisecond
		it.ExitSignal = exitSignal != 0
		out = append(out, it)
	}
	return out, rows.Err()
}

// scanSession scans one session row.
func scanSession(row *sql.Row) (*Session, error) {
	var s Session
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&s.ID, &startedAt, &s.MaxCallsPerHour, &s.Status, &s.ExitReason, &endedAt); err != nil {
		return nil, err
	}
	if ts, err := parseTime(startedAt); err == nil {
		s.StartedAt = ts
	}
	if endedAt.Valid {
		if ts, err := parseTime(endedAt.String); err == nil {
			s.EndedAt = &ts
		}
	}
	return &s, nil
}

// exec executes a query that doesn't return rows.
func (db *DB) exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// query executes a query that returns rows.
func (db *DB) query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// queryRow executes a query that returns at most one row.
func (db *DB) queryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}
