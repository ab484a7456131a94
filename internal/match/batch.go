package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/veridate/faceseek/internal/corpus"
	"github.com/veridate/faceseek/internal/database"
	"github.com/veridate/faceseek/internal/recognition"
)

const (
	// DefaultBatchSize is how many entities are extracted concurrently.
	DefaultBatchSize = 5
	// DefaultBatchDelay is the pause between consecutive batches. External
	// backends throttle on sustained request rate, so the delay applies even
	// when a batch finishes instantly.
	DefaultBatchDelay = 2 * time.Second
)

// Report summarizes one regeneration run. Success counts entities whose
// photo was processed to a definite outcome (descriptor stored, or cleanly
// no face); Failed counts retryable extraction failures. Success+Failed
// always equals Total.
type Report struct {
	Total   int      `json:"total"`
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// RegenerationJob rebuilds the descriptor cache for the whole corpus,
// typically after switching the active provider.
type RegenerationJob struct {
	providers     ProviderSource
	corpus        corpus.Source
	store         DescriptorStore
	newRecognizer RecognizerFactory

	batchSize int
	delay     time.Duration

	// wait pauses between batches; injectable so tests don't sleep.
	wait func(ctx context.Context, d time.Duration) error

	// OnProgress, when set, is called after every processed batch.
	OnProgress func(processed, total int)

	// RetryOnly restricts the run to entities that still need work: no stored
	// record, a record that never reached extracted status, a record from a
	// different backend, or one past the backend's descriptor TTL. Entities
	// with a fresh descriptor are left alone.
	RetryOnly bool
}

func NewRegenerationJob(providers ProviderSource, src corpus.Source, store DescriptorStore, batchSize int, delay time.Duration) *RegenerationJob {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if delay <= 0 {
		delay = DefaultBatchDelay
	}
	return &RegenerationJob{
		providers:     providers,
		corpus:        src,
		store:         store,
		newRecognizer: recognition.New,
		batchSize:     batchSize,
		delay:         delay,
		wait:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type entityOutcome struct {
	failed bool
	errMsg string // deduplication key, empty on success
}

// Run regenerates descriptors for every registered entity. Entities are
// processed in fixed-size batches: concurrent within a batch, strictly
// sequential across batches with a delay in between. Cancellation is honored
// between batches; a batch that has started runs to completion so its
// outcomes are persisted.
func (j *RegenerationJob) Run(ctx context.Context) (*Report, error) {
	cfg, err := j.providers.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider: %w", err)
	}
	if cfg == nil {
		return nil, ErrNoProvider
	}

	rec, err := j.newRecognizer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", cfg.Type, err)
	}

	entities, err := j.corpus.ListRegistered(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list corpus: %w", err)
	}
	if j.RetryOnly {
		entities, err = j.filterNeedingWork(ctx, rec, entities)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{Total: len(entities)}
	seenErrors := make(map[string]struct{})
	processed := 0

	for start := 0; start < len(entities); start += j.batchSize {
		if start > 0 {
			if err := j.wait(ctx, j.delay); err != nil {
				return report, err
			}
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		end := start + j.batchSize
		if end > len(entities) {
			end = len(entities)
		}
		batch := entities[start:end]

		outcomes := make([]entityOutcome, len(batch))
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(idx int, entity corpus.Entity) {
				defer wg.Done()
				outcomes[idx] = j.regenerate(ctx, rec, entity)
			}(i, batch[i])
		}
		wg.Wait()

		for _, o := range outcomes {
			if o.failed {
				report.Failed++
			} else {
				report.Success++
			}
			if o.errMsg != "" {
				if _, seen := seenErrors[o.errMsg]; !seen {
					seenErrors[o.errMsg] = struct{}{}
					report.Errors = append(report.Errors, o.errMsg)
				}
			}
		}

		processed += len(batch)
		if j.OnProgress != nil {
			j.OnProgress(processed, report.Total)
		}
	}

	return report, nil
}

// filterNeedingWork narrows the corpus to entities without a usable stored
// descriptor for the current backend. Records that never reached extracted
// status come from the dedicated work-list query; entities with no record at
// all, records from another backend, and expired records are caught against
// the full record set.
func (j *RegenerationJob) filterNeedingWork(ctx context.Context, rec recognition.Recognizer, entities []corpus.Entity) ([]corpus.Entity, error) {
	needing, err := j.store.ListNeedingDescriptor(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list descriptors needing work: %w", err)
	}
	needSet := make(map[string]struct{}, len(needing))
	for _, id := range needing {
		needSet[id] = struct{}{}
	}

	records, err := j.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored descriptors: %w", err)
	}

	ttl := rec.DescriptorTTL()
	filtered := make([]corpus.Entity, 0, len(entities))
	for _, entity := range entities {
		record := records[entity.ID]
		if _, retry := needSet[entity.ID]; retry ||
			record == nil ||
			record.ProviderType != rec.Type() ||
			expired(record.UpdatedAt, ttl) {
			filtered = append(filtered, entity)
		}
	}
	return filtered, nil
}

// regenerate extracts one entity's descriptor and persists the outcome.
func (j *RegenerationJob) regenerate(ctx context.Context, rec recognition.Recognizer, entity corpus.Entity) entityOutcome {
	img := recognition.ImageFromURL(entity.PhotoURL)

	descriptor, err := rec.Extract(ctx, img)
	if err != nil {
		j.persist(ctx, entity, rec.Type(), "", database.StatusPending)
		return entityOutcome{failed: true, errMsg: categorize(err)}
	}

	status := database.StatusExtracted
	if descriptor == "" {
		status = database.StatusNone
	}
	if err := j.persist(ctx, entity, rec.Type(), descriptor, status); err != nil {
		return entityOutcome{failed: true, errMsg: categorize(err)}
	}
	return entityOutcome{}
}

func (j *RegenerationJob) persist(ctx context.Context, entity corpus.Entity, providerType recognition.ProviderType, descriptor, status string) error {
	return j.store.Upsert(ctx, &database.DescriptorRecord{
		EntityID:       entity.ID,
		DescriptorID:   descriptor,
		ProviderType:   providerType,
		SourcePhotoURL: entity.PhotoURL,
		Status:         status,
	})
}

// categorize collapses per-entity failures into report-level advisories.
// Authorization refusals hit every entity identically, so thousands of them
// fold into one actionable line instead of drowning the report.
func categorize(err error) string {
	if errors.Is(err, recognition.ErrAuthorizationRequired) {
		return "provider authorization required: enable the face recognition feature with the vendor, then re-run"
	}
	return err.Error()
}
