// Package sqlite provides SQLite-backed persistence for single-node
// deployments where running Postgres is not worth the trouble.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/aselbek/mektep-reports/internal/scrape"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	school_id         INTEGER NOT NULL,
	teacher_id        INTEGER NOT NULL,
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
	created_at        INTEGER NOT NULL,
	started_at        INTEGER,
	finished_at       INTEGER
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS reports (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	school_id   INTEGER NOT NULL,
	teacher_id  INTEGER NOT NULL,
	period_code TEXT NOT NULL,
	class_name  TEXT NOT NULL,
	subject     TEXT NOT NULL,
	excel_path  TEXT NOT NULL DEFAULT '',
	word_path   TEXT NOT NULL DEFAULT '',
	updated_at  INTEGER NOT NULL,
	UNIQUE (teacher_id, class_name, subject, period_code)
);

CREATE INDEX IF NOT EXISTS idx_reports_teacher_period ON reports(teacher_id, period_code);

CREATE TABLE IF NOT EXISTS schools (
	id                      INTEGER PRIMARY KEY,
	name                    TEXT NOT NULL,
	allow_cross_org_reports INTEGER NOT NULL DEFAULT 0
);
`

// Store implements the job store, report store and school directory over a
// single SQLite file.
type Store struct {
	db     *sql.DB
	clock  scrape.Clock
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and bootstraps the
// schema. modernc.org/sqlite registers the driver under "sqlite".
func Open(path string, clock scrape.Clock, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer keeps lock contention away from the supervisor's
	// progress mirroring.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	logger.Info("sqlite store initialized", zap.String("path", path))
	return &Store{db: db, clock: clock, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
