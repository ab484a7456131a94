package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridate/faceseek/internal/config"
	"github.com/veridate/faceseek/internal/corpus"
	"github.com/veridate/faceseek/internal/database"
	"github.com/veridate/faceseek/internal/match"
	"github.com/veridate/faceseek/internal/registry"
)

// app bundles the wired services every command runs on.
type app struct {
	cfg  *config.Config
	pool *pgxpool.Pool

	corpus      *corpus.Pool
	registry    *registry.Registry
	providers   *database.ProviderRepository
	descriptors *database.DescriptorRepository
	searcher    *match.Searcher
}

// initApp connects to both databases and wires the services.
func initApp(ctx context.Context) (*app, error) {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if cfg.Corpus.DatabaseDSN == "" {
		return nil, errors.New("CORPUS_DATABASE_DSN environment variable is required")
	}

	pool, err := database.Connect(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	corpusPool, err := corpus.NewPool(cfg.Corpus.DatabaseDSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to corpus database: %w", err)
	}

	providers := database.NewProviderRepository(pool)
	descriptors := database.NewDescriptorRepository(pool)
	reg := registry.New(providers, registry.DefaultTTL)

	return &app{
		cfg:         cfg,
		pool:        pool,
		corpus:      corpusPool,
		registry:    reg,
		providers:   providers,
		descriptors: descriptors,
		searcher:    match.NewSearcher(reg, corpusPool, descriptors),
	}, nil
}

// newRegenerationJob builds a fresh corpus regeneration run.
func (a *app) newRegenerationJob() *match.RegenerationJob {
	return match.NewRegenerationJob(a.registry, a.corpus, a.descriptors,
		a.cfg.Defaults.Batch.Size, a.cfg.Defaults.Batch.Delay())
}

// Close releases both database pools.
func (a *app) Close() {
	if a.corpus != nil {
		_ = a.corpus.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
