package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridate/faceseek/internal/config"
)

// Connect creates a connection pool to PostgreSQL.
func Connect(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("DATABASE_URL not set")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Migrate runs database migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS provider_configs (
			id                   UUID PRIMARY KEY,
			provider_type        VARCHAR(32) NOT NULL,
			active               BOOLEAN NOT NULL DEFAULT FALSE,
			enabled              BOOLEAN NOT NULL DEFAULT TRUE,
			credentials          JSONB NOT NULL DEFAULT '{}',
			similarity_threshold DOUBLE PRECISION NOT NULL,
			max_results          INTEGER NOT NULL,
			created_at           TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create provider_configs table: %w", err)
	}

	// At most one config may be both active and enabled.
	_, err = pool.Exec(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS provider_configs_single_active_idx
		ON provider_configs (active) WHERE active AND enabled
	`)
	if err != nil {
		return fmt.Errorf("failed to create single-active index: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS descriptors (
			entity_id        VARCHAR(64) PRIMARY KEY,
			descriptor_id    TEXT,
			provider_type    VARCHAR(32) NOT NULL,
			source_photo_url TEXT NOT NULL,
			status           VARCHAR(16) NOT NULL,
			updated_at       TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create descriptors table: %w", err)
	}

	// The batch job finds retryable entities with a single status query.
	_, err = pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS descriptors_status_idx ON descriptors(status)
	`)
	if err != nil {
		return fmt.Errorf("failed to create descriptors status index: %w", err)
	}

	return nil
}
