package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/core"
)

func TestMemoryStoreUpsertAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	indicator := testIndicator(t, core.IndicatorTypeHash, "d41d8cd98f00b204e9800998ecf8427e")
	stored, err := store.UpsertIndicator(ctx, indicator)
	require.NoError(t, err)
	assert.Equal(t, indicator.ID, stored.ID)

	duplicate := testIndicator(t, core.IndicatorTypeHash, "d41d8cd98f00b204e9800998ecf8427e")
	stored2, err := store.UpsertIndicator(ctx, duplicate)
	require.NoError(t, err)
	assert.Equal(t, indicator.ID, stored2.ID)

	_, err = store.GetIndicator(ctx, "hash:ffffffffffffffffffffffffffffffff")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	indicator := testIndicator(t, core.IndicatorTypeIP, "203.0.113.7")
	_, err := store.UpsertIndicator(ctx, indicator)
	require.NoError(t, err)

	got, err := store.GetIndicator(ctx, indicator.Key())
	require.NoError(t, err)
	got.Sightings = 99

	again, err := store.GetIndicator(ctx, indicator.Key())
	require.NoError(t, err)
	assert.NotEqual(t, int64(99), again.Sightings, "callers must not mutate stored state")
}

func TestMemoryStoreRecordSighting(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	indicator := testIndicator(t, core.IndicatorTypeDomain, "evil.test")
	_, err := store.UpsertIndicator(ctx, indicator)
	require.NoError(t, err)

	recorded, err := store.RecordSighting(ctx, indicator.Key(), "article-1")
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = store.RecordSighting(ctx, indicator.Key(), "article-1")
	require.NoError(t, err)
	assert.False(t, recorded)

	got, err := store.GetIndicator(ctx, indicator.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Sightings)
	assert.WithinDuration(t, time.Now(), got.LastSeen, time.Minute)
}

func TestMemoryStoreEnrichment(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	key := "ip:198.51.100.4"
	_, err := store.GetEnrichment(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	enrichment := &core.Enrichment{IndicatorKey: key, RiskScore: 40, RiskLevel: core.RiskLevelMedium, GeneratedAt: time.Now()}
	require.NoError(t, store.PutEnrichment(ctx, key, enrichment))

	got, err := store.GetEnrichment(ctx, key)
	require.NoError(t, err)
	assert.InDelta(t, 40, got.RiskScore, 0.001)
}
