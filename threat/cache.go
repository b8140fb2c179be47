package threat

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"threatlens/core"
)

// EnrichmentCache stores enrichment verdicts keyed by indicator key. A cached
// entry older than the coordinator's TTL is treated as a miss by the caller,
// so implementations only need best-effort expiry.
type EnrichmentCache interface {
	Get(ctx context.Context, key string) (*core.Enrichment, bool)
	Set(ctx context.Context, key string, enrichment *core.Enrichment, ttl time.Duration)
}

// MemoryEnrichmentCache is an in-process LRU with TTL expiry. It is the hot
// layer in front of the store and the default when Redis is not configured.
type MemoryEnrichmentCache struct {
	lru *expirable.LRU[string, *core.Enrichment]
}

// NewMemoryEnrichmentCache creates an LRU holding up to size entries that
// expire after ttl
func NewMemoryEnrichmentCache(size int, ttl time.Duration) *MemoryEnrichmentCache {
	if size <= 0 {
		size = 4096
	}
	return &MemoryEnrichmentCache{
		lru: expirable.NewLRU[string, *core.Enrichment](size, nil, ttl),
	}
}

func (c *MemoryEnrichmentCache) Get(_ context.Context, key string) (*core.Enrichment, bool) {
	return c.lru.Get(key)
}

// Set stores the enrichment. The LRU's TTL is fixed at construction, so the
// per-call ttl is ignored here; the Redis cache honors it.
func (c *MemoryEnrichmentCache) Set(_ context.Context, key string, enrichment *core.Enrichment, _ time.Duration) {
	c.lru.Add(key, enrichment)
}

// Len returns the number of live entries
func (c *MemoryEnrichmentCache) Len() int {
	return c.lru.Len()
}

// Purge drops all entries
func (c *MemoryEnrichmentCache) Purge() {
	c.lru.Purge()
}
