package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridate/faceseek/internal/recognition"
)

// Descriptor extraction status. "extracted" records carry a usable descriptor
// id, "pending" records failed extraction and should be retried, "none" means
// the backend answered but found no face in the photo.
const (
	StatusExtracted = "extracted"
	StatusPending   = "pending"
	StatusNone      = "none"
)

// DescriptorRecord is a cached extraction result for one corpus entity.
type DescriptorRecord struct {
	EntityID       string
	DescriptorID   string
	ProviderType   recognition.ProviderType
	SourcePhotoURL string
	Status         string
	UpdatedAt      time.Time
}

// DescriptorRepository persists descriptor records keyed by entity id.
type DescriptorRepository struct {
	pool *pgxpool.Pool
}

func NewDescriptorRepository(pool *pgxpool.Pool) *DescriptorRepository {
	return &DescriptorRepository{pool: pool}
}

// Upsert writes the record, replacing any previous one for the same entity.
// Each entity holds a single record, so switching providers naturally
// overwrites descriptors from the old backend.
func (r *DescriptorRepository) Upsert(ctx context.Context, rec *DescriptorRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO descriptors (entity_id, descriptor_id, provider_type, source_photo_url, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (entity_id) DO UPDATE SET
			descriptor_id    = EXCLUDED.descriptor_id,
			provider_type    = EXCLUDED.provider_type,
			source_photo_url = EXCLUDED.source_photo_url,
			status           = EXCLUDED.status,
			updated_at       = NOW()
	`, rec.EntityID, rec.DescriptorID, rec.ProviderType, rec.SourcePhotoURL, rec.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert descriptor for entity %s: %w", rec.EntityID, err)
	}
	return nil
}

// Get returns the record for an entity, or (nil, nil) when none exists.
func (r *DescriptorRepository) Get(ctx context.Context, entityID string) (*DescriptorRecord, error) {
	var rec DescriptorRecord
	err := r.pool.QueryRow(ctx, `
		SELECT entity_id, COALESCE(descriptor_id, ''), provider_type, source_photo_url, status, updated_at
		FROM descriptors
		WHERE entity_id = $1
	`, entityID).Scan(&rec.EntityID, &rec.DescriptorID, &rec.ProviderType, &rec.SourcePhotoURL, &rec.Status, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query descriptor: %w", err)
	}
	return &rec, nil
}

// GetAll returns every stored record keyed by entity id, letting the search
// path resolve a whole candidate set with one query.
func (r *DescriptorRepository) GetAll(ctx context.Context) (map[string]*DescriptorRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entity_id, COALESCE(descriptor_id, ''), provider_type, source_photo_url, status, updated_at
		FROM descriptors
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query descriptors: %w", err)
	}
	defer rows.Close()

	records := make(map[string]*DescriptorRecord)
	for rows.Next() {
		var rec DescriptorRecord
		if err := rows.Scan(&rec.EntityID, &rec.DescriptorID, &rec.ProviderType, &rec.SourcePhotoURL, &rec.Status, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan descriptor: %w", err)
		}
		records[rec.EntityID] = &rec
	}
	return records, rows.Err()
}

// ListNeedingDescriptor returns the entity ids whose record did not reach
// extracted status — the work list for batch reprocessing. Entities with no
// record at all are not listed here; callers combine this with the corpus.
func (r *DescriptorRepository) ListNeedingDescriptor(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entity_id FROM descriptors WHERE status <> $1 ORDER BY entity_id
	`, StatusExtracted)
	if err != nil {
		return nil, fmt.Errorf("failed to query descriptors needing work: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the record for an entity. Deleting a missing record is not
// an error.
func (r *DescriptorRepository) Delete(ctx context.Context, entityID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM descriptors WHERE entity_id = $1`, entityID)
	if err != nil {
		return fmt.Errorf("failed to delete descriptor: %w", err)
	}
	return nil
}

// Count returns per-status record counts for the health endpoint.
func (r *DescriptorRepository) Count(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM descriptors GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count descriptors: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan descriptor count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
