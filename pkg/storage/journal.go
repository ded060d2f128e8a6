package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Outcome of a fired acquisition event.
const (
	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeSuppressed = "suppressed"
)

// Entry is one fired acquisition event.
type Entry struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Action    string    `json:"action"`
	BoundTime time.Time `json:"bound_time"`
	FiredAt   time.Time `json:"fired_at"`
	Outcome   string    `json:"outcome"`
	Pid       int       `json:"pid"`
	Detail    string    `json:"detail,omitempty"`
}

// Summary counts journal entries by outcome.
type Summary struct {
	Since      time.Time `json:"since"`
	Total      int       `json:"total"`
	OK         int       `json:"ok"`
	Failed     int       `json:"failed"`
	Suppressed int       `json:"suppressed"`
}

// Journal is a SQLite log of every fired acquisition event
type Journal struct {
	db   *sql.DB
	path string
}

// OpenJournal opens or creates the journal at dbPath
func OpenJournal(dbPath string) (*Journal, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	journal := &Journal{
		db:   db,
		path: dbPath,
	}

	if err := journal.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return journal, nil
}

// initSchema creates the journal tables
func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS acquisitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		bound_time INTEGER NOT NULL,
		fired_at INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		pid INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_acquisitions_fired_at ON acquisitions(fired_at);
	CREATE INDEX IF NOT EXISTS idx_acquisitions_outcome ON acquisitions(outcome);
	`

	_, err := j.db.Exec(schema)
	return err
}

// Path returns the database file path
func (j *Journal) Path() string {
	return j.path
}

// Record appends an entry
func (j *Journal) Record(entry Entry) error {
	query := `
	INSERT INTO acquisitions (run_id, action, bound_time, fired_at, outcome, pid, detail)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query,
		entry.RunID, entry.Action, entry.BoundTime.Unix(), entry.FiredAt.UnixNano(),
		entry.Outcome, entry.Pid, entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", entry.Action, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (j *Journal) Recent(limit int) ([]Entry, error) {
	query := `
	SELECT id, run_id, action, bound_time, fired_at, outcome, pid, detail
	FROM acquisitions
	ORDER BY fired_at DESC, id DESC
	LIMIT ?`

	rows, err := j.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var bound, fired int64
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.Action, &bound, &fired,
			&entry.Outcome, &entry.Pid, &entry.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.BoundTime = time.Unix(bound, 0)
		entry.FiredAt = time.Unix(0, fired)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Summary counts entries fired at or after since
func (j *Journal) Summary(since time.Time) (Summary, error) {
	query := `
	SELECT outcome, COUNT(*)
	FROM acquisitions
	WHERE fired_at >= ?
	GROUP BY outcome`

	summary := Summary{Since: since}
	rows, err := j.db.Query(query, since.UnixNano())
	if err != nil {
		return summary, fmt.Errorf("failed to summarize journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return summary, fmt.Errorf("failed to scan journal summary: %w", err)
		}
		summary.Total += count
		switch outcome {
		case OutcomeOK:
			summary.OK = count
		case OutcomeFailed:
			summary.Failed = count
		case OutcomeSuppressed:
			summary.Suppressed = count
		}
	}
	return summary, rows.Err()
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.db.Close()
}
