package storage

import (
	"context"
	"sync"
	"time"

	"threatlens/core"
)

// MemoryStore is an in-process Store used in tests and in deployments that
// run without a persistent ledger.
type MemoryStore struct {
	mu          sync.RWMutex
	indicators  map[string]*core.Indicator
	enrichments map[string]*core.Enrichment
	sightings   map[string]map[string]time.Time // key -> articleID -> discovered
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		indicators:  make(map[string]*core.Indicator),
		enrichments: make(map[string]*core.Enrichment),
		sightings:   make(map[string]map[string]time.Time),
	}
}

// UpsertIndicator creates the indicator if new and returns the current record
func (m *MemoryStore) UpsertIndicator(ctx context.Context, indicator *core.Indicator) (*core.Indicator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := indicator.Key()
	if existing, ok := m.indicators[key]; ok {
		copied := *existing
		return &copied, nil
	}
	copied := *indicator
	m.indicators[key] = &copied
	out := copied
	return &out, nil
}

// GetIndicator returns the indicator for a key, or ErrNotFound
func (m *MemoryStore) GetIndicator(ctx context.Context, key string) (*core.Indicator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ind, ok := m.indicators[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *ind
	return &copied, nil
}

// GetEnrichment returns the current enrichment for a key, or ErrNotFound
func (m *MemoryStore) GetEnrichment(ctx context.Context, key string) (*core.Enrichment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	enr, ok := m.enrichments[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *enr
	return &copied, nil
}

// PutEnrichment replaces the current enrichment for a key
func (m *MemoryStore) PutEnrichment(ctx context.Context, key string, enrichment *core.Enrichment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *enrichment
	m.enrichments[key] = &copied
	return nil
}

// RecordSighting attributes articleID to the indicator, at most once per pair
func (m *MemoryStore) RecordSighting(ctx context.Context, key, articleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byArticle, ok := m.sightings[key]
	if !ok {
		byArticle = make(map[string]time.Time)
		m.sightings[key] = byArticle
	}
	if _, seen := byArticle[articleID]; seen {
		return false, nil
	}
	now := time.Now().UTC()
	byArticle[articleID] = now

	if ind, ok := m.indicators[key]; ok {
		ind.Sightings++
		ind.LastSeen = now
		ind.UpdatedAt = now
	}
	return true, nil
}
