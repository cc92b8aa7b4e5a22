// Package statslog persists RequestLogEntry rows for the external "stats
// collaborator" to consume: an append-only, 7-day-retention audit trail
// with one row per request the fallback executor handles, written when a
// credential serves it or when every candidate is exhausted. Individual
// failed attempts are not written here; the executor reports them only
// through its slog logger. The collaborator itself is out of scope; this
// package only owns the data it reads.
package statslog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultRetention matches original_source's TTL_LOGS (7 days).
const DefaultRetention = 7 * 24 * time.Hour

// Entry is one RequestLogEntry row.
type Entry struct {
	ID         string
	Timestamp  time.Time
	Handle     string // credential handle that ultimately served the request
	Model      string
	Attempts   int // number of credentials tried before success/exhaustion
	StatusCode int
	ErrorClass string // "" on success, "exhausted" when every candidate failed
	LatencyMs  int64
	RequestID  string
}

// Log is the sqlite-backed append-only request log, grounded on the
// teacher's store/sqlite.go request_logs table and LogRequest/PruneOldLogs
// methods, narrowed to exactly the RequestLogEntry shape spec.md defines.
type Log struct {
	db *sql.DB
}

// Open opens or creates a sqlite database at dsn and runs its migration.
func Open(ctx context.Context, dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("statslog: open: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statslog: pragmas: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	l := &Log{db: db}
	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS request_logs (
		id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		handle TEXT NOT NULL,
		model TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		status_code INTEGER NOT NULL DEFAULT 0,
		error_class TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		request_id TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return fmt.Errorf("statslog: migrate: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp)`)
	if err != nil {
		return fmt.Errorf("statslog: migrate index: %w", err)
	}
	return nil
}

// Append writes one RequestLogEntry. ID and Timestamp are assigned if unset.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `INSERT INTO request_logs
		(id, timestamp, handle, model, attempts, status_code, error_class, latency_ms, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp, e.Handle, e.Model, e.Attempts, e.StatusCode, e.ErrorClass, e.LatencyMs, e.RequestID,
	)
	if err != nil {
		return fmt.Errorf("statslog: append: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first, bounded by limit/offset.
func (l *Log) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, timestamp, handle, model, attempts, status_code, error_class, latency_ms, request_id
		FROM request_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("statslog: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Handle, &e.Model, &e.Attempts,
			&e.StatusCode, &e.ErrorClass, &e.LatencyMs, &e.RequestID); err != nil {
			return nil, fmt.Errorf("statslog: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than retention, returning the count removed.
func (l *Log) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := l.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("statslog: prune: %w", err)
	}
	return res.RowsAffected()
}

func (l *Log) Close() error {
	return l.db.Close()
}
