// Package postgres provides Postgres-backed persistence for jobs and
// profiles.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the stores use; pgxmock
// implements it for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Connect builds a pgx pool from the config.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	priority    TEXT NOT NULL,
	total       INT NOT NULL,
	processed   INT NOT NULL DEFAULT 0,
	failed      INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS job_items (
	id               TEXT PRIMARY KEY,
	job_id           TEXT NOT NULL REFERENCES jobs(id),
	url              TEXT NOT NULL,
	status           TEXT NOT NULL,
	attempts         INT NOT NULL DEFAULT 0,
	last_status_code INT NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS job_items_job_id_idx ON job_items (job_id);

CREATE TABLE IF NOT EXISTS profiles (
	source_url        TEXT PRIMARY KEY,
	username          TEXT NOT NULL DEFAULT '',
	display_name      TEXT NOT NULL DEFAULT '',
	bio               TEXT NOT NULL DEFAULT '',
	avatar_url        TEXT NOT NULL DEFAULT '',
	cover_url         TEXT NOT NULL DEFAULT '',
	public_stats      JSONB,
	links             JSONB,
	raw_html_checksum TEXT NOT NULL,
	scraped_at        TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the tables when they do not exist yet.
func EnsureSchema(ctx context.Context, pool Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
