package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridate/faceseek/internal/recognition"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

// ProviderRepository persists recognition provider configurations.
type ProviderRepository struct {
	pool *pgxpool.Pool
}

func NewProviderRepository(pool *pgxpool.Pool) *ProviderRepository {
	return &ProviderRepository{pool: pool}
}

const providerColumns = `id, provider_type, active, enabled, credentials, similarity_threshold, max_results, created_at, updated_at`

func scanProvider(row pgx.Row) (*recognition.ProviderConfig, error) {
	var cfg recognition.ProviderConfig
	var credsJSON []byte
	err := row.Scan(
		&cfg.ID,
		&cfg.Type,
		&cfg.Active,
		&cfg.Enabled,
		&credsJSON,
		&cfg.SimilarityThreshold,
		&cfg.MaxResults,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(credsJSON, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials for config %s: %w", cfg.ID, err)
	}
	return &cfg, nil
}

// ActiveProvider returns the config that is both active and enabled, or
// (nil, nil) when none qualifies. A partial unique index guarantees at most
// one row matches.
func (r *ProviderRepository) ActiveProvider(ctx context.Context) (*recognition.ProviderConfig, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+providerColumns+`
		FROM provider_configs
		WHERE active AND enabled
	`)
	cfg, err := scanProvider(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active provider: %w", err)
	}
	return cfg, nil
}

// List returns all provider configs, newest first.
func (r *ProviderRepository) List(ctx context.Context) ([]*recognition.ProviderConfig, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM provider_configs
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider configs: %w", err)
	}
	defer rows.Close()

	var configs []*recognition.ProviderConfig
	for rows.Next() {
		cfg, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// Get returns the config with the given id or ErrNotFound.
func (r *ProviderRepository) Get(ctx context.Context, id string) (*recognition.ProviderConfig, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+providerColumns+`
		FROM provider_configs
		WHERE id = $1
	`, id)
	cfg, err := scanProvider(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query provider config: %w", err)
	}
	return cfg, nil
}

// Create inserts a new config. New configs start inactive; activation is a
// separate explicit step.
func (r *ProviderRepository) Create(ctx context.Context, cfg *recognition.ProviderConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	credsJSON, err := json.Marshal(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO provider_configs (id, provider_type, active, enabled, credentials, similarity_threshold, max_results)
		VALUES ($1, $2, FALSE, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, cfg.ID, cfg.Type, cfg.Enabled, credsJSON, cfg.SimilarityThreshold, cfg.MaxResults).
		Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert provider config: %w", err)
	}
	cfg.Active = false
	return nil
}

// Activate makes the config with the given id the single active provider.
// The deactivate and activate statements run in one transaction so the
// partial unique index never sees two active rows.
func (r *ProviderRepository) Activate(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE provider_configs SET active = FALSE, updated_at = NOW() WHERE active
	`)
	if err != nil {
		return fmt.Errorf("failed to deactivate providers: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE provider_configs SET active = TRUE, updated_at = NOW()
		WHERE id = $1 AND enabled
	`, id)
	if err != nil {
		return fmt.Errorf("failed to activate provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no enabled provider config with id %s", ErrNotFound, id)
	}

	return tx.Commit(ctx)
}

// SetEnabled flips the enabled flag. Disabling the active config also clears
// its active flag so the registry stops resolving it.
func (r *ProviderRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE provider_configs
		SET enabled = $2, active = active AND $2, updated_at = NOW()
		WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update provider config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the config with the given id.
func (r *ProviderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM provider_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
