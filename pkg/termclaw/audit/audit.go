// Package audit provides the append-only injection audit log, backed by
// SQLite. Every successfully delivered command is recorded; a failed write
// warns and the injection continues. The log is evidence, not a gate.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded injection.
type Entry struct {
	ID        string
	Timestamp time.Time
	Session   string
	Command   string
	PID       int
}

// Log writes injection records to the injections table.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS injections (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	session    TEXT NOT NULL,
	command    TEXT NOT NULL,
	pid        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_injections_created_at ON injections(created_at);
`

// Open creates or opens the audit database at path.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &Log{db: db, logger: logger.With("component", "audit")}, nil
}

// Close releases the database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// RecordInjection appends one entry. Ids and timestamps are filled in when
// absent.
func (l *Log) RecordInjection(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	command := e.Command
	if len(command) > 2000 {
		command = command[:2000] + "...[truncated]"
	}
	_, err := l.db.Exec(
		`INSERT INTO injections (id, created_at, session, command, pid) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Session, command, e.PID,
	)
	if err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest n entries, most recent first.
func (l *Log) Recent(n int) ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT id, created_at, session, command, pid FROM injections ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Session, &e.Command, &e.PID); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes entries older than age and returns the count.
func (l *Log) PruneOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UTC().Format(time.RFC3339Nano)
	res, err := l.db.Exec(`DELETE FROM injections WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning audit entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
