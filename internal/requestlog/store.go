// Package requestlog persists one access-log entry per completed gateway
// request, queryable through the admin API. SQLite is the default backend;
// Postgres is supported for shared deployments.
package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Entry is a single persisted access-log record.
type Entry struct {
	ID         int64     `json:"id"`
	TraceID    string    `json:"trace_id"`
	ClientKey  string    `json:"client_key"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Capability string    `json:"capability"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	ErrorCode  string    `json:"error_code,omitempty"`
	CacheHit   bool      `json:"cache_hit"`
	CreatedAt  time.Time `json:"created_at"`
}

// Writer persists access-log entries.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// Query filters and pages a log listing.
type Query struct {
	Capability string
	Status     int // 0 = any
	Limit      int
	Offset     int
}

// ListResult is one page of entries plus the unpaged total.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
}

// Reader lists persisted entries for the admin API.
type Reader interface {
	List(ctx context.Context, q Query) (*ListResult, error)
}

// Maintainer supports destructive log maintenance.
type Maintainer interface {
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// NoopWriter ignores all log writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLStore persists entries to SQLite/Postgres and serves reads.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteStore opens (or creates) a SQLite-backed store at dsn.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "cartgw-requests.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite request log store: %w", err)
	}
	s := &SQLStore{db: db, dialect: "sqlite"}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens a Postgres-backed store at dsn.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres request log store: %w", err)
	}
	s := &SQLStore{db: db, dialect: "postgres"}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s request log store: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS request_logs (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	client_key TEXT,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	capability TEXT,
	status INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error_code TEXT,
	cache_hit INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);`

	if s.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS request_logs (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	client_key TEXT,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	capability TEXT,
	status INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	error_code TEXT,
	cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize request log schema: %w", err)
	}
	return nil
}

// Write inserts one entry.
func (s *SQLStore) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO request_logs
(trace_id, client_key, method, path, capability, status, duration_ms, error_code, cache_hit, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if s.dialect == "postgres" {
		query = `INSERT INTO request_logs
(trace_id, client_key, method, path, capability, status, duration_ms, error_code, cache_hit, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.TraceID, entry.ClientKey, entry.Method, entry.Path, entry.Capability,
		entry.Status, entry.DurationMs, entry.ErrorCode, entry.CacheHit, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("write request log entry: %w", err)
	}
	return nil
}

// List returns one page of entries, newest first, plus the unpaged total.
func (s *SQLStore) List(ctx context.Context, q Query) (*ListResult, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		if s.dialect == "postgres" {
			conds = append(conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(args))))
		} else {
			conds = append(conds, fmt.Sprintf(cond, "?"))
		}
	}
	if q.Capability != "" {
		add("capability = %s", q.Capability)
	}
	if q.Status != 0 {
		add("status = %s", q.Status)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count request log entries: %w", err)
	}

	limitClause := fmt.Sprintf(" ORDER BY id DESC LIMIT %d OFFSET %d", q.Limit, q.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, client_key, method, path, capability, status, duration_ms, error_code, cache_hit, created_at
FROM request_logs`+where+limitClause, args...)
	if err != nil {
		return nil, fmt.Errorf("list request log entries: %w", err)
	}
	defer rows.Close()

	result := &ListResult{Total: total, Entries: []Entry{}}
	for rows.Next() {
		var e Entry
		var errCode sql.NullString
		if err := rows.Scan(&e.ID, &e.TraceID, &e.ClientKey, &e.Method, &e.Path,
			&e.Capability, &e.Status, &e.DurationMs, &errCode, &e.CacheHit, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request log entry: %w", err)
		}
		e.ErrorCode = errCode.String
		result.Entries = append(result.Entries, e)
	}
	return result, rows.Err()
}

// Purge deletes entries created before olderThan, returning the count.
func (s *SQLStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	query := "DELETE FROM request_logs WHERE created_at < ?"
	if s.dialect == "postgres" {
		query = "DELETE FROM request_logs WHERE created_at < $1"
	}
	res, err := s.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge request log entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
