package store

import (
	"context"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/prom"
	st "github.com/AustralianCyberSecurityCentre/azul-dedup.git/settings"
	"github.com/allegro/bigcache/v3"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/metrics"
	"github.com/eko/gocache/lib/v4/store"
	bigcache_store "github.com/eko/gocache/store/bigcache/v4"
	"github.com/prometheus/client_golang/prometheus"
)

/* Adds a memory cache on to another backend.

Generation units are immutable once written, so a cached copy is valid until the unit is deleted.
Puts and deletes through this backend invalidate the cached copy.
*/
type CachedBackend struct {
	inner       Backend
	manager     cache.CacheInterface[[]byte]
	itemTTL     time.Duration
	maxItemSize int // bigcache rejects entries larger than a shard
	// Registry holds the gocache collectors, kept apart from the default registry
	Registry *prometheus.Registry
}

func NewCachedBackend(inner Backend, sizeBytes int, shards int, ttl time.Duration) (*CachedBackend, error) {
	if shards <= 0 {
		shards = 32
	}
	c := bigcache.DefaultConfig(ttl)
	c.HardMaxCacheSize = max(1, sizeBytes/1048576) // in MB
	c.Verbose = false
	c.Shards = shards
	maxItemSize := (sizeBytes / c.Shards) - 1
	client, err := bigcache.New(context.Background(), c)
	if err != nil {
		return nil, err
	}
	cacheClient := bigcache_store.NewBigcache(client)
	stores := []cache.SetterCacheInterface[[]byte]{cache.New[[]byte](cacheClient)}
	customRegistry := prometheus.NewRegistry()
	promMetrics := metrics.NewPrometheus("dedup", metrics.WithRegisterer(customRegistry))
	manager := cache.NewMetric(promMetrics, cache.NewChain(stores...))
	return &CachedBackend{
		inner:       inner,
		manager:     manager,
		itemTTL:     ttl,
		maxItemSize: maxItemSize,
		Registry:    customRegistry,
	}, nil
}

func (c *CachedBackend) Name() string { return c.inner.Name() }

func (c *CachedBackend) Put(ctx context.Context, name string, data []byte) error {
	c.invalidate(ctx, name)
	return c.inner.Put(ctx, name, data)
}

func (c *CachedBackend) Get(ctx context.Context, name string) ([]byte, error) {
	prom.CacheLookups.Inc()
	if ent, err := c.manager.Get(ctx, name); err == nil && len(ent) > 0 {
		prom.CacheHits.Inc()
		return ent, nil
	}
	data, err := c.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 && len(data) <= c.maxItemSize {
		// failing to cache is not terminal
		if err := c.manager.Set(ctx, name, data, store.WithExpiration(c.itemTTL)); err != nil {
			st.Logger.Debug().Err(err).Str("name", name).Int("size", len(data)).Msg("ignoring generation cache fail")
		}
	}
	return data, nil
}

func (c *CachedBackend) Exists(ctx context.Context, name string) (bool, error) {
	return c.inner.Exists(ctx, name)
}

func (c *CachedBackend) List(ctx context.Context, prefix string) ([]string, error) {
	return c.inner.List(ctx, prefix)
}

func (c *CachedBackend) Delete(ctx context.Context, name string) error {
	c.invalidate(ctx, name)
	return c.inner.Delete(ctx, name)
}

func (c *CachedBackend) invalidate(ctx context.Context, name string) {
	if _, err := c.manager.Get(ctx, name); err == nil {
		if err := c.manager.Delete(ctx, name); err != nil {
			st.Logger.Warn().Err(err).Str("name", name).Msg("failed to delete from generation cache")
		}
	}
}

func (c *CachedBackend) Close() error {
	return c.inner.Close()
}
