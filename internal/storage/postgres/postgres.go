// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements the job store, report store and school directory over a
// Postgres pool.
type Store struct {
	pool  pool
	clock scrape.Clock
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config, clock scrape.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, clock: clock}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, clock scrape.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id                TEXT PRIMARY KEY,
			school_id         BIGINT NOT NULL,
			teacher_id        BIGINT NOT NULL,
			period_code       TEXT NOT NULL,
			lang              TEXT NOT NULL,
			item_limit        INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL,
			progress_percent  INTEGER NOT NULL DEFAULT 0,
			progress_message  TEXT NOT NULL DEFAULT '',
			total_reports     INTEGER,
			processed_reports INTEGER NOT NULL DEFAULT 0,
			output_dir        TEXT NOT NULL DEFAULT '',
			error_text        TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL,
			started_at        TIMESTAMPTZ,
			finished_at       TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id          BIGSERIAL PRIMARY KEY,
			school_id   BIGINT NOT NULL,
			teacher_id  BIGINT NOT NULL,
			period_code TEXT NOT NULL,
			class_name  TEXT NOT NULL,
			subject     TEXT NOT NULL,
			excel_path  TEXT NOT NULL DEFAULT '',
			word_path   TEXT NOT NULL DEFAULT '',
			updated_at  TIMESTAMPTZ NOT NULL,
			UNIQUE (teacher_id, class_name, subject, period_code)
		)`,
		`CREATE TABLE IF NOT EXISTS schools (
			id                      BIGINT PRIMARY KEY,
			name                    TEXT NOT NULL,
			allow_cross_org_reports BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
