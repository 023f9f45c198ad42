// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/review-harvester/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "entity_runs"

// Config controls the Postgres connection pool used for entity run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// EntityRunStore implements store.EntityRunRepository on Postgres.
type EntityRunStore struct {
	pool  pool
	table string
}

var _ store.EntityRunRepository = (*EntityRunStore)(nil)

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config) (*EntityRunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("progress.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*EntityRunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &EntityRunStore{pool: p, table: table}, nil
}

// Close releases the underlying pool.
func (s *EntityRunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the table when it does not exist yet.
func (s *EntityRunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        uuid        NOT NULL,
	slug          text        NOT NULL,
	restaurant    text        NOT NULL DEFAULT '',
	place_id      text        NOT NULL DEFAULT '',
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text        NOT NULL,
	records       bigint      NOT NULL DEFAULT 0,
	error_message text,
	PRIMARY KEY (run_id, slug)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StartEntity inserts the running row, resetting it if the slug repeats.
func (s *EntityRunStore) StartEntity(ctx context.Context, run store.EntityRun) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, slug, restaurant, place_id, started_at, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, slug) DO UPDATE
SET started_at = EXCLUDED.started_at, status = EXCLUDED.status, finished_at = NULL, error_message = NULL`, s.table)
	_, err := s.pool.Exec(ctx, query,
		run.RunID, run.Slug, run.Restaurant, run.PlaceID, run.StartedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("upsert entity start: %w", err)
	}
	return nil
}

// CompleteEntity records the final status. A recovery persist for a slug that
// never started (include-in-flight off, earlier run) inserts the row.
func (s *EntityRunStore) CompleteEntity(
	ctx context.Context,
	runID uuid.UUID,
	slug string,
	finishedAt time.Time,
	status store.RunStatus,
	records int64,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, slug, started_at, finished_at, status, records, error_message)
VALUES ($1, $2, $3, $3, $4, $5, $6)
ON CONFLICT (run_id, slug) DO UPDATE
SET finished_at = EXCLUDED.finished_at, status = EXCLUDED.status,
	records = EXCLUDED.records, error_message = EXCLUDED.error_message`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, slug, finishedAt, status, records, errMsg); err != nil {
		return fmt.Errorf("complete entity: %w", err)
	}
	return nil
}

// GetEntity loads one row.
func (s *EntityRunStore) GetEntity(ctx context.Context, runID uuid.UUID, slug string) (store.EntityRun, error) {
	query := fmt.Sprintf(`
SELECT slug, restaurant, place_id, started_at, finished_at, status, records, error_message
FROM %s WHERE run_id = $1 AND slug = $2`, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.EntityRun{}, store.ErrNotFound
		}
		return store.EntityRun{}, fmt.Errorf("get entity run: %w", err)
	}
	run.RunID = runID
	return run, nil
}

// ListRun returns every row of runID ordered by start time.
func (s *EntityRunStore) ListRun(ctx context.Context, runID uuid.UUID) ([]store.EntityRun, error) {
	query := fmt.Sprintf(`
SELECT slug, restaurant, place_id, started_at, finished_at, status, records, error_message
FROM %s WHERE run_id = $1 ORDER BY started_at, slug`, s.table)
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list entity runs: %w", err)
	}
	defer rows.Close()

	var runs []store.EntityRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity run: %w", err)
		}
		run.RunID = runID
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.EntityRun, error) {
	var (
		run    store.EntityRun
		status string
	)
	err := row.Scan(
		&run.Slug,
		&run.Restaurant,
		&run.PlaceID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Records,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.EntityRun{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
