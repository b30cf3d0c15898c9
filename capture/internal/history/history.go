// Package history keeps a SQLite log of finished capture sessions.
//
// Records are queued and written in batches by a background goroutine;
// Close drains the queue.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Schema is the DDL for the capture log.
const Schema = `
CREATE TABLE IF NOT EXISTS capture_log (
    session_id   TEXT PRIMARY KEY,
    timestamp    INTEGER NOT NULL,
    page_id      TEXT NOT NULL,
    page_url     TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    aspect_ratio TEXT NOT NULL,
    percentage   INTEGER NOT NULL,
    start_offset REAL NOT NULL DEFAULT 0,
    filename     TEXT NOT NULL DEFAULT '',
    entries      INTEGER NOT NULL DEFAULT 0,
    bytes        INTEGER NOT NULL DEFAULT 0,
    delivered    INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    duration_ms  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_capture_log_timestamp ON capture_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_capture_log_status ON capture_log(status);
`

// Status values of a Record.
const (
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Record is one finished session.
type Record struct {
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	PageID      string    `json:"page_id"`
	PageURL     string    `json:"page_url"`
	Title       string    `json:"title,omitempty"`
	AspectRatio string    `json:"aspect_ratio"`
	Percentage  int       `json:"percentage"`
	StartOffset float64   `json:"start_offset"`
	Filename    string    `json:"filename,omitempty"`
	Entries     int       `json:"entries"`
	Bytes       int       `json:"bytes"`
	Delivered   bool      `json:"delivered"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
}

// Filter narrows a Query. Zero values mean no constraint.
type Filter struct {
	Status string    `json:"status,omitempty"`
	Since  time.Time `json:"since,omitzero"`
	Limit  int       `json:"limit,omitempty"` // default 50, max 500
	Offset int       `json:"offset,omitempty"`
}

const (
	batchSize     = 50
	flushInterval = 2 * time.Second
)

// Log persists Records asynchronously.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
	ch     chan Record
	stop   chan struct{}
	done   chan struct{}

	flushReq chan chan struct{}
}

// Init applies Schema to db.
func Init(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("history: schema: %w", err)
	}
	return nil
}

// New applies the schema and starts the writer. bufferSize bounds the
// queue; a full queue falls back to a synchronous insert.
func New(db *sql.DB, logger *slog.Logger, bufferSize int) (*Log, error) {
	if err := Init(db); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 256
	}
	l := &Log{
		db:     db,
		logger: logger,
		ch:     make(chan Record, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),

		flushReq: make(chan chan struct{}),
	}
	go l.flushLoop()
	return l, nil
}

// Add queues r for persistence.
func (l *Log) Add(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	select {
	case l.ch <- r:
	default:
		l.logger.Warn("history: buffer full, sync fallback", "session", r.SessionID)
		if err := l.insert(context.Background(), l.db, r); err != nil {
			l.logger.Error("history: sync fallback failed", "session", r.SessionID, "error", err)
		}
	}
}

// Query returns records matching f, newest first.
func (l *Log) Query(ctx context.Context, f Filter) ([]Record, error) {
	q := `SELECT session_id, timestamp, page_id, page_url, title, aspect_ratio,
		percentage, start_offset, filename, entries, bytes, delivered,
		status, error, duration_ms
		FROM capture_log WHERE 1=1`
	var args []any

	if f.Status != "" {
		switch f.Status {
		case StatusDone, StatusFailed, StatusCancelled:
		default:
			return nil, fmt.Errorf("history: invalid status %q", f.Status)
		}
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}

	limit := 50
	if f.Limit > 0 {
		limit = min(f.Limit, 500)
	}
	q += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts int64
		var delivered int
		if err := rows.Scan(
			&r.SessionID, &ts, &r.PageID, &r.PageURL, &r.Title, &r.AspectRatio,
			&r.Percentage, &r.StartOffset, &r.Filename, &r.Entries, &r.Bytes, &delivered,
			&r.Status, &r.Error, &r.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts)
		r.Delivered = delivered != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes records older than retention.
func (l *Log) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, "DELETE FROM capture_log WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("history: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Flush blocks until every record queued before the call is written.
func (l *Log) Flush() {
	ack := make(chan struct{})
	select {
	case l.flushReq <- ack:
		<-ack
	case <-l.done:
	}
}

// Close drains the queue and stops the writer.
func (l *Log) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const insertSQL = `INSERT OR REPLACE INTO capture_log
	(session_id, timestamp, page_id, page_url, title, aspect_ratio,
	 percentage, start_offset, filename, entries, bytes, delivered,
	 status, error, duration_ms)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func (l *Log) insert(ctx context.Context, db execer, r Record) error {
	delivered := 0
	if r.Delivered {
		delivered = 1
	}
	_, err := db.ExecContext(ctx, insertSQL,
		r.SessionID, r.Timestamp.UnixMilli(), r.PageID, r.PageURL, r.Title, r.AspectRatio,
		r.Percentage, r.StartOffset, r.Filename, r.Entries, r.Bytes, delivered,
		r.Status, r.Error, r.DurationMs)
	return err
}

func (l *Log) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	batch := make([]Record, 0, batchSize)

	drain := func() {
		for {
			select {
			case r := <-l.ch:
				batch = append(batch, r)
			default:
				return
			}
		}
	}
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			l.logger.Error("history: begin tx", "error", err)
			return
		}
		for _, r := range batch {
			if err := l.insert(ctx, tx, r); err != nil {
				l.logger.Error("history: insert", "session", r.SessionID, "error", err)
			}
		}
		if err := tx.Commit(); err != nil {
			l.logger.Error("history: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			drain()
			flush()
			return
		case ack := <-l.flushReq:
			drain()
			flush()
			close(ack)
		case r := <-l.ch:
			batch = append(batch, r)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
