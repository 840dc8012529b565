// Package db stores run history in Postgres.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to the database at url and verifies the connection.
func Open(ctx context.Context, url string) (*DB, error) {
	if url == "" {
		return nil, errors.New("database url is empty")
	}
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool returns the underlying pool for advanced queries.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
    id             TEXT PRIMARY KEY,
    contract       TEXT NOT NULL,
    targets        TEXT[] NOT NULL DEFAULT '{}',
    max_iterations INTEGER NOT NULL,
    policy         TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'running'
                   CHECK (status IN ('running','accepted','exhausted','stuck','escalated')),
    final_digest   TEXT,
    started_at     TIMESTAMPTZ NOT NULL,
    finished_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_runs_contract ON runs(contract, started_at DESC);

CREATE TABLE IF NOT EXISTS iterations (
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    attempt     INTEGER NOT NULL,
    action      TEXT NOT NULL CHECK (action IN ('accept','correct','exhaust','escalate','stuck')),
    passed      BOOLEAN NOT NULL,
    errors      INTEGER NOT NULL,
    warnings    INTEGER NOT NULL,
    issues      INTEGER NOT NULL,
    digest      TEXT NOT NULL,
    diagnostic  TEXT,
    feedback    JSONB NOT NULL DEFAULT '[]',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, attempt)
);

CREATE TABLE IF NOT EXISTS stage_results (
    run_id      TEXT NOT NULL,
    attempt     INTEGER NOT NULL,
    position    INTEGER NOT NULL,
    stage       TEXT NOT NULL,
    critical    BOOLEAN NOT NULL,
    passed      BOOLEAN NOT NULL,
    errors      INTEGER NOT NULL,
    warnings    INTEGER NOT NULL,
    duration_ms BIGINT NOT NULL,
    diagnostics JSONB NOT NULL DEFAULT '[]',
    PRIMARY KEY (run_id, attempt, stage),
    FOREIGN KEY (run_id, attempt) REFERENCES iterations(run_id, attempt) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_stage_results_stage ON stage_results(stage, passed);
`

// Migrate applies the database schema.
func (d *DB) Migrate(ctx context.Context) error {
	var count int
	err := d.pool.QueryRow(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit(ctx)
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset(ctx context.Context) error {
	tables := []string{"stage_results", "iterations", "runs", "schema_version"}
	for _, t := range tables {
		if _, err := d.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{t}.Sanitize()+" CASCADE"); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate(ctx)
}
