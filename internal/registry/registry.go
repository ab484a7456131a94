// Package registry resolves the single active recognition provider
// configuration, caching it with a fixed TTL so hot paths never hit the
// backing store per request.
package registry

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/veridate/faceseek/internal/recognition"
)

// DefaultTTL is how long a resolved config (or a resolved "none") is served
// from cache before the backing store is consulted again.
const DefaultTTL = 5 * time.Minute

const activeKey = "active-provider"

// ConfigStore is the backing store for provider configurations.
type ConfigStore interface {
	// ActiveProvider returns the config that is both active and enabled, or
	// (nil, nil) when no config qualifies.
	ActiveProvider(ctx context.Context) (*recognition.ProviderConfig, error)
}

// Registry caches the active provider config. The cached value is an
// immutable snapshot: refresh races are benign because every writer derives
// the same value from the store, so last-write-wins is acceptable.
type Registry struct {
	store ConfigStore
	cache *gocache.Cache
}

// cachedEntry wraps the config so "no active provider" is cacheable too —
// without it every request during an outage would hammer the store.
type cachedEntry struct {
	cfg *recognition.ProviderConfig
}

// New builds a registry around store. ttl <= 0 selects DefaultTTL.
func New(store ConfigStore, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Active returns the active and enabled provider config, or (nil, nil) when
// none qualifies. Callers must treat nil as "feature unavailable", not as an
// error. Store failures are returned as-is and are never cached.
func (r *Registry) Active(ctx context.Context) (*recognition.ProviderConfig, error) {
	if v, ok := r.cache.Get(activeKey); ok {
		return v.(cachedEntry).cfg, nil
	}

	cfg, err := r.store.ActiveProvider(ctx)
	if err != nil {
		return nil, err
	}

	r.cache.Set(activeKey, cachedEntry{cfg: cfg}, gocache.DefaultExpiration)
	return cfg, nil
}

// Invalidate drops the cached config. Called after provider activation
// writes so the change is visible before the TTL runs out.
func (r *Registry) Invalidate() {
	r.cache.Delete(activeKey)
}
