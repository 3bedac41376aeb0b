// Package history persists one row per ingestion run into Postgres, so
// operators can see when each date was last loaded and how it went.
package history

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
)

// ErrNotFound signals that no run has been recorded for the date.
var ErrNotFound = errors.New("run record not found")

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunRecord is one completed (or aborted) ingestion run.
type RunRecord struct {
	ID             uuid.UUID
	RunDate        string
	Outcome        string
	ItemsPlanned   int
	ItemsSucceeded int
	ItemsFailed    int
	MissingAfter   int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore writes run rows into Postgres.
type RunStore struct {
	pool  pgxPool
	table string
}

// NewRunStore creates a Postgres-backed RunStore using the provided config.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewRunStoreWithPool(pool, cfg.Table)
}

// NewRunStoreWithPool wires a RunStore to an existing pool. Used by tests.
func NewRunStoreWithPool(pool pgxPool, table string) (*RunStore, error) {
	if table == "" {
		table = "ingest_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// RecordRun inserts one run row.
func (s *RunStore) RecordRun(ctx context.Context, rec RunRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, run_date, outcome, items_planned, items_succeeded,
			items_failed, missing_after, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`, s.table)

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.RunDate,
		rec.Outcome,
		rec.ItemsPlanned,
		rec.ItemsSucceeded,
		rec.ItemsFailed,
		rec.MissingAfter,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// LastRun returns the most recent run recorded for the date.
func (s *RunStore) LastRun(ctx context.Context, runDate string) (RunRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, run_date, outcome, items_planned, items_succeeded,
			items_failed, missing_after, started_at, finished_at
		FROM %s
		WHERE run_date = $1
		ORDER BY finished_at DESC
		LIMIT 1;
	`, s.table)

	var rec RunRecord
	err := s.pool.QueryRow(ctx, query, runDate).Scan(
		&rec.ID,
		&rec.RunDate,
		&rec.Outcome,
		&rec.ItemsPlanned,
		&rec.ItemsSucceeded,
		&rec.ItemsFailed,
		&rec.MissingAfter,
		&rec.StartedAt,
		&rec.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("query last run: %w", err)
	}
	return rec, nil
}
