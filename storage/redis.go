package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"threatlens/core"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisEnrichmentCache is a Redis-backed enrichment cache for deployments
// running several pipeline replicas against a shared cache. It satisfies the
// coordinator's cache contract; a miss or a Redis failure is reported as not
// found so the caller falls back to the store or to provider fan-out.
type RedisEnrichmentCache struct {
	client *redis.Client
	prefix string
	logger *zap.SugaredLogger
}

// maxCachedEnrichmentBytes rejects pathological payloads rather than letting
// one indicator evict the working set
const maxCachedEnrichmentBytes = 1 << 20

// NewRedisEnrichmentCache creates a Redis cache instance
func NewRedisEnrichmentCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisEnrichmentCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return &RedisEnrichmentCache{
		client: client,
		prefix: "threatlens:enrichment:",
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisEnrichmentCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisEnrichmentCache) Close() error {
	return rc.client.Close()
}

// Get retrieves a cached enrichment by indicator key
func (rc *RedisEnrichmentCache) Get(ctx context.Context, key string) (*core.Enrichment, bool) {
	data, err := rc.client.Get(ctx, rc.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		rc.logger.Warnw("Redis enrichment cache read failed", "key", key, "error", err)
		return nil, false
	}

	var enr core.Enrichment
	if err := json.Unmarshal(data, &enr); err != nil {
		rc.logger.Warnw("Failed to decode cached enrichment", "key", key, "error", err)
		return nil, false
	}
	return &enr, true
}

// Set stores an enrichment with expiration
func (rc *RedisEnrichmentCache) Set(ctx context.Context, key string, enrichment *core.Enrichment, ttl time.Duration) {
	data, err := json.Marshal(enrichment)
	if err != nil {
		rc.logger.Errorw("Failed to encode enrichment for cache", "key", key, "error", err)
		return
	}
	if len(data) > maxCachedEnrichmentBytes {
		rc.logger.Warnw("Enrichment exceeds cache size limit, skipping",
			"key", key, "bytes", len(data))
		return
	}

	if err := rc.client.Set(ctx, rc.prefix+key, data, ttl).Err(); err != nil {
		rc.logger.Warnw("Redis enrichment cache write failed", "key", key, "error", err)
	}
}

// Delete removes a cached enrichment (used when an enrichment is superseded
// out of band)
func (rc *RedisEnrichmentCache) Delete(ctx context.Context, key string) {
	if err := rc.client.Del(ctx, rc.prefix+key).Err(); err != nil {
		rc.logger.Warnw("Redis enrichment cache delete failed", "key", key, "error", err)
	}
}

// Stats returns basic connection pool statistics for diagnostics
func (rc *RedisEnrichmentCache) Stats() string {
	s := rc.client.PoolStats()
	return fmt.Sprintf("hits=%d misses=%d timeouts=%d conns=%d", s.Hits, s.Misses, s.Timeouts, s.TotalConns)
}
