package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wordai/api/internal/config"
)

// NewPool initializes a pgx connection pool from config.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate creates the artifact and ledger tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS artifact_scopes (
    owner_id            TEXT NOT NULL,
    kind                TEXT NOT NULL,
    subject_id          TEXT NOT NULL,
    language            TEXT NOT NULL,
    last_version        INTEGER NOT NULL DEFAULT 0,
    default_artifact_id UUID,
    PRIMARY KEY (owner_id, kind, subject_id, language)
);

CREATE TABLE IF NOT EXISTS artifacts (
    id                 UUID PRIMARY KEY,
    owner_id           TEXT NOT NULL,
    kind               TEXT NOT NULL,
    subject_id         TEXT NOT NULL,
    language           TEXT NOT NULL,
    version            INTEGER NOT NULL,
    content            JSONB,
    object_key         TEXT NOT NULL DEFAULT '',
    url                TEXT NOT NULL DEFAULT '',
    source_job_id      TEXT NOT NULL DEFAULT '',
    source_artifact_id UUID,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (owner_id, kind, subject_id, language, version)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_source ON artifacts(source_artifact_id) WHERE source_artifact_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS ledger_entries (
    id           UUID PRIMARY KEY,
    owner_id     TEXT NOT NULL,
    amount       BIGINT NOT NULL,
    kind         TEXT NOT NULL,
    reason       TEXT NOT NULL,
    reference_id TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (reference_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_ledger_owner_created ON ledger_entries(owner_id, created_at DESC);
`
