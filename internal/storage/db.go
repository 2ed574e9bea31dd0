package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func NewDB(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}

// EnsureSchema creates the tables on startup; statements are idempotent.
func (d *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chapters (
  chapter_id  TEXT NOT NULL,
  timeline    TEXT NOT NULL DEFAULT 'mainline',
  status      TEXT NOT NULL DEFAULT 'pending',
  provenance  TEXT,
  fail_reason TEXT,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  PRIMARY KEY (chapter_id, timeline)
)`,
		`CREATE TABLE IF NOT EXISTS branches (
  branch_id   TEXT PRIMARY KEY,
  anchor_id   TEXT NOT NULL,
  chapter_id  TEXT NOT NULL,
  branch_type TEXT NOT NULL,
  status      TEXT NOT NULL DEFAULT 'pending',
  created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
		`CREATE TABLE IF NOT EXISTS generation_calls (
  call_id       UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  operation     TEXT NOT NULL,
  chapter_id    TEXT,
  timeline      TEXT,
  provider_name TEXT NOT NULL,
  model         TEXT NOT NULL,
  attempts      INT NOT NULL DEFAULT 1,
  status        TEXT NOT NULL,
  error_type    TEXT,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
