// Package recorder persists cached responses to sqlite so they survive
// restarts and can be replayed. It is the durable sink behind the cache's
// write-behind pool.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/switchboard/cache"
	"github.com/aschepis/backscratcher/switchboard/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const table = "recordings"

// ErrNotFound is returned by Load for unknown keys.
var ErrNotFound = errors.New("recording not found")

// Recording is one persisted response.
type Recording struct {
	Key            string
	Provider       string
	Endpoint       string
	RequestSummary string
	Value          json.RawMessage
	CapturedAt     time.Time
}

// Decode unmarshals the recorded value into v.
func (r Recording) Decode(v any) error {
	return json.Unmarshal(r.Value, v)
}

// Recorder stores responses in a sqlite database.
type Recorder struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open recorder database: %w", err)
	}
	// one writer keeps sqlite from returning SQLITE_BUSY under the write-behind pool
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect recorder database: %w", err)
	}
	if err := migrations.RunMigrations(db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Recorder{
		db:     db,
		logger: logger.With().Str("component", "recorder").Logger(),
	}, nil
}

// Store upserts value under key. It implements cache.Sink.
func (r *Recorder) Store(ctx context.Context, key string, value any, meta cache.Metadata) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal recording %s: %w", key, err)
	}
	captured := meta.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}

	query := sq.Insert(table).
		Options("OR REPLACE").
		Columns("key", "provider", "endpoint", "request_summary", "value", "captured_at").
		Values(key, meta.Provider, meta.Endpoint, meta.RequestSummary, string(body), captured.UnixMilli())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("store recording %s: %w", key, err)
	}
	return nil
}

var columns = []string{"key", "provider", "endpoint", "request_summary", "value", "captured_at"}

func scan(row sq.RowScanner) (Recording, error) {
	var (
		rec      Recording
		value    string
		captured int64
	)
	if err := row.Scan(&rec.Key, &rec.Provider, &rec.Endpoint, &rec.RequestSummary, &value, &captured); err != nil {
		return Recording{}, err
	}
	rec.Value = json.RawMessage(value)
	rec.CapturedAt = time.UnixMilli(captured)
	return rec, nil
}

// Load returns the recording stored under key.
func (r *Recorder) Load(ctx context.Context, key string) (Recording, error) {
	queryStr, args, err := sq.Select(columns...).From(table).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return Recording{}, fmt.Errorf("build query: %w", err)
	}

	rec, err := scan(r.db.QueryRowContext(ctx, queryStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, ErrNotFound
	}
	if err != nil {
		return Recording{}, fmt.Errorf("load recording %s: %w", key, err)
	}
	return rec, nil
}

// List returns the most recent recordings, newest first. An empty provider
// matches all providers; limit 0 means no limit.
func (r *Recorder) List(ctx context.Context, provider string, limit uint64) ([]Recording, error) {
	query := sq.Select(columns...).From(table).OrderBy("captured_at DESC", "key")
	if provider != "" {
		query = query.Where(sq.Eq{"provider": provider})
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Recording
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored recordings.
func (r *Recorder) Count(ctx context.Context) (int, error) {
	queryStr, args, err := sq.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int
	if err := r.db.QueryRowContext(ctx, queryStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count recordings: %w", err)
	}
	return n, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *Recorder) Delete(ctx context.Context, key string) error {
	queryStr, args, err := sq.Delete(table).Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("delete recording %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
