package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"hookflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
// Timestamps are stored as unix nanoseconds so range predicates compare
// numerically at full precision.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL,
  method TEXT NOT NULL,
  payload TEXT,
  headers TEXT,
  timeout INTEGER NOT NULL DEFAULT 60,
  max_retries INTEGER NOT NULL DEFAULT 3,
  retry_interval INTEGER NOT NULL DEFAULT 5,
  retry_count INTEGER NOT NULL DEFAULT 0,
  recurrence_type TEXT NOT NULL DEFAULT 'None',
  recurrence_interval INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1,
  schedule_at INTEGER NOT NULL,
  next_execution_at INTEGER,
  last_execution_at INTEGER,
  last_response TEXT,
  last_response_code INTEGER,
  status TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(active, schedule_at);
`
	_, err := db.Exec(schema)
	return err
}

type SQLite struct{ db *sql.DB }

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (r *SQLite) Close() error { return r.db.Close() }

const taskColumns = `id,name,url,method,payload,headers,timeout,max_retries,retry_interval,retry_count,
recurrence_type,recurrence_interval,active,schedule_at,next_execution_at,last_execution_at,
last_response,last_response_code,status,created_at,updated_at`

func (r *SQLite) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	t = prepareNew(t, time.Now().UTC())
	headers, err := encodeHeaders(t.Headers)
	if err != nil {
		return domain.Task{}, err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
`, t.ID, t.Name, t.URL, t.Method, nullString(t.Payload), headers, t.Timeout, t.MaxRetries, t.RetryInterval, t.RetryCount,
		string(t.RecurrenceType), t.RecurrenceInterval, t.Active, nanos(t.ScheduleAt), nullNanos(t.NextExecutionAt), nullNanos(t.LastExecutionAt),
		nullString(t.LastResponse), nullInt(t.LastResponseCode), t.Status, nanos(t.CreatedAt), nanos(t.UpdatedAt))
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (r *SQLite) Save(ctx context.Context, t domain.Task) error {
	t.UpdatedAt = time.Now().UTC()
	headers, err := encodeHeaders(t.Headers)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE tasks SET name=?,url=?,method=?,payload=?,headers=?,timeout=?,max_retries=?,retry_interval=?,retry_count=?,
  recurrence_type=?,recurrence_interval=?,active=?,schedule_at=?,next_execution_at=?,last_execution_at=?,
  last_response=?,last_response_code=?,status=?,updated_at=?
WHERE id=?`,
		t.Name, t.URL, t.Method, nullString(t.Payload), headers, t.Timeout, t.MaxRetries, t.RetryInterval, t.RetryCount,
		string(t.RecurrenceType), t.RecurrenceInterval, t.Active, nanos(t.ScheduleAt), nullNanos(t.NextExecutionAt), nullNanos(t.LastExecutionAt),
		nullString(t.LastResponse), nullInt(t.LastResponseCode), t.Status, nanos(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLite) Get(ctx context.Context, id string) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func (r *SQLite) List(ctx context.Context) ([]domain.Task, error) {
	return r.query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
}

func (r *SQLite) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLite) Due(ctx context.Context, now time.Time) ([]domain.Task, error) {
	return r.query(ctx, `
SELECT `+taskColumns+`
FROM tasks WHERE active=1 AND schedule_at <= ? ORDER BY schedule_at, id`, nanos(now))
}

func (r *SQLite) query(ctx context.Context, q string, args ...any) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var payload, headers, lastResp, status sql.NullString
	var nextExec, lastExec, lastCode sql.NullInt64
	var scheduleAt, createdAt, updatedAt int64
	var recurrence string
	err := s.Scan(&t.ID, &t.Name, &t.URL, &t.Method, &payload, &headers, &t.Timeout, &t.MaxRetries, &t.RetryInterval, &t.RetryCount,
		&recurrence, &t.RecurrenceInterval, &t.Active, &scheduleAt, &nextExec, &lastExec,
		&lastResp, &lastCode, &status, &createdAt, &updatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	t.RecurrenceType = domain.Recurrence(recurrence)
	t.ScheduleAt = fromNanos(scheduleAt)
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	t.Status = status.String
	if payload.Valid {
		t.Payload = &payload.String
	}
	if lastResp.Valid {
		t.LastResponse = &lastResp.String
	}
	if lastCode.Valid {
		code := int(lastCode.Int64)
		t.LastResponseCode = &code
	}
	if nextExec.Valid {
		ts := fromNanos(nextExec.Int64)
		t.NextExecutionAt = &ts
	}
	if lastExec.Valid {
		ts := fromNanos(lastExec.Int64)
		t.LastExecutionAt = &ts
	}
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &t.Headers); err != nil {
			return domain.Task{}, fmt.Errorf("decode headers of task %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func encodeHeaders(h map[string]string) (sql.NullString, error) {
	if h == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode headers: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// The zero time lies outside the int64 nanosecond range; it is stored as
// math.MinInt64 so it still sorts first and reads back as zero.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == math.MinInt64 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
