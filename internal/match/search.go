// Package match implements similarity search of a query photo against the
// registered corpus, and the batch job that regenerates stored descriptors.
package match

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/veridate/faceseek/internal/corpus"
	"github.com/veridate/faceseek/internal/database"
	"github.com/veridate/faceseek/internal/recognition"
)

// defaultFanOut bounds concurrent per-candidate backend calls.
const defaultFanOut = 5

// ProviderSource resolves the active provider config.
type ProviderSource interface {
	Active(ctx context.Context) (*recognition.ProviderConfig, error)
}

// DescriptorStore is the persistence layer for extraction results.
type DescriptorStore interface {
	GetAll(ctx context.Context) (map[string]*database.DescriptorRecord, error)
	Upsert(ctx context.Context, rec *database.DescriptorRecord) error
	// ListNeedingDescriptor returns entity ids whose stored record never
	// reached extracted status.
	ListNeedingDescriptor(ctx context.Context) ([]string, error)
}

// RecognizerFactory builds the backend client for a config. Injectable so
// tests can substitute a fake backend.
type RecognizerFactory func(ctx context.Context, cfg *recognition.ProviderConfig) (recognition.Recognizer, error)

// Result is one corpus entity that scored at or above the threshold.
type Result struct {
	EntityID   string  `json:"entity_id"`
	Name       string  `json:"name"`
	Phone      string  `json:"phone,omitempty"`
	Status     string  `json:"status"`
	PhotoURL   string  `json:"photo_url"`
	Similarity float64 `json:"similarity"`
}

// Searcher runs similarity searches against the corpus.
type Searcher struct {
	providers     ProviderSource
	corpus        corpus.Source
	store         DescriptorStore
	newRecognizer RecognizerFactory
	fanOut        int
}

func NewSearcher(providers ProviderSource, src corpus.Source, store DescriptorStore) *Searcher {
	return &Searcher{
		providers:     providers,
		corpus:        src,
		store:         store,
		newRecognizer: recognition.New,
		fanOut:        defaultFanOut,
	}
}

type candidateScore struct {
	index int
	score float64
}

// Search matches the query image against every registered entity with a
// photo.
//
// With no active provider it returns an empty slice and no error: matching is
// simply unavailable, which is not the caller's fault. An unusable query
// photo returns ErrNoFaceDetected before any candidate work happens.
//
// thresholdOverride, when non-nil, replaces the provider's configured
// similarity threshold for this one search. Results come back sorted by
// similarity descending; candidates with equal scores keep corpus order. At
// most the provider's max_results rows are returned.
func (s *Searcher) Search(ctx context.Context, queryImage *recognition.Image, thresholdOverride *float64) ([]Result, error) {
	cfg, err := s.providers.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider: %w", err)
	}
	if cfg == nil {
		return []Result{}, nil
	}

	rec, err := s.newRecognizer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", cfg.Type, err)
	}

	queryDescriptor, err := rec.Extract(ctx, queryImage)
	if err != nil {
		return nil, fmt.Errorf("query extraction failed: %w", err)
	}
	if queryDescriptor == "" {
		return nil, ErrNoFaceDetected
	}

	candidates, err := s.corpus.ListRegistered(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list corpus: %w", err)
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	// Stored descriptors are a cache; failing to read them degrades to
	// re-extraction, not to a failed search.
	stored, err := s.store.GetAll(ctx)
	if err != nil {
		log.Printf("could not load stored descriptors, re-extracting all candidates: %v", err)
		stored = nil
	}

	threshold := cfg.SimilarityThreshold
	if thresholdOverride != nil {
		threshold = *thresholdOverride
	}

	scores := make(chan candidateScore, len(candidates))
	semaphore := make(chan struct{}, s.fanOut)
	var wg sync.WaitGroup

	for i := range candidates {
		wg.Add(1)
		go func(idx int, entity corpus.Entity) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				return
			}

			candidateImage := recognition.ImageFromURL(entity.PhotoURL)
			descriptor, ok := s.candidateDescriptor(ctx, rec, entity, stored[entity.ID], candidateImage)
			if !ok {
				return
			}

			score := rec.Compare(ctx, queryDescriptor, descriptor, candidateImage)
			if score >= threshold {
				scores <- candidateScore{index: idx, score: score}
			}
		}(i, candidates[i])
	}

	wg.Wait()
	close(scores)

	matched := make([]candidateScore, 0, len(candidates))
	for cs := range scores {
		matched = append(matched, cs)
	}

	// Restore corpus order first so the similarity sort breaks ties
	// deterministically.
	sort.Slice(matched, func(i, j int) bool { return matched[i].index < matched[j].index })
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].score > matched[j].score })

	if cfg.MaxResults > 0 && len(matched) > cfg.MaxResults {
		matched = matched[:cfg.MaxResults]
	}

	results := make([]Result, 0, len(matched))
	for _, cs := range matched {
		entity := candidates[cs.index]
		results = append(results, Result{
			EntityID:   entity.ID,
			Name:       entity.Name,
			Phone:      entity.Phone,
			Status:     entity.Status,
			PhotoURL:   entity.PhotoURL,
			Similarity: cs.score,
		})
	}
	return results, nil
}

// candidateDescriptor resolves the descriptor to compare against for one
// candidate. A stored descriptor is reused only when it came from the same
// backend type, extraction succeeded, and it has not outlived the backend's
// descriptor TTL. Otherwise the candidate photo is re-extracted on the spot
// and the outcome cached for the next search.
func (s *Searcher) candidateDescriptor(ctx context.Context, rec recognition.Recognizer, entity corpus.Entity, record *database.DescriptorRecord, img *recognition.Image) (string, bool) {
	if record != nil &&
		record.ProviderType == rec.Type() &&
		record.Status == database.StatusExtracted &&
		record.DescriptorID != "" &&
		!expired(record.UpdatedAt, rec.DescriptorTTL()) {
		return record.DescriptorID, true
	}

	descriptor, err := rec.Extract(ctx, img)
	if err != nil {
		// Retryable failure; the candidate sits this search out.
		s.persist(ctx, entity, rec.Type(), "", database.StatusPending)
		return "", false
	}
	if descriptor == "" {
		s.persist(ctx, entity, rec.Type(), "", database.StatusNone)
		return "", false
	}

	s.persist(ctx, entity, rec.Type(), descriptor, database.StatusExtracted)
	return descriptor, true
}

// persist writes the extraction outcome as cache fill. Persistence failures
// never fail the search.
func (s *Searcher) persist(ctx context.Context, entity corpus.Entity, providerType recognition.ProviderType, descriptor, status string) {
	err := s.store.Upsert(ctx, &database.DescriptorRecord{
		EntityID:       entity.ID,
		DescriptorID:   descriptor,
		ProviderType:   providerType,
		SourcePhotoURL: entity.PhotoURL,
		Status:         status,
	})
	if err != nil {
		log.Printf("failed to persist descriptor for entity %s: %v", entity.ID, err)
	}
}

func expired(updatedAt time.Time, ttl time.Duration) bool {
	return ttl > 0 && time.Since(updatedAt) > ttl
}
