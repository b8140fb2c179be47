package storage

import (
	"context"

	"threatlens/core"
)

// Store is the persistence contract the pipeline core depends on. The
// storage technology behind it is a collaborator's concern; the core only
// needs the indicator ledger, the current enrichment per indicator, and
// at-most-once sighting attribution.
type Store interface {
	// UpsertIndicator creates the indicator if its (type, value) identity is
	// new and returns the current record either way.
	UpsertIndicator(ctx context.Context, indicator *core.Indicator) (*core.Indicator, error)

	// GetIndicator returns the indicator for a key, or ErrNotFound.
	GetIndicator(ctx context.Context, key string) (*core.Indicator, error)

	// GetEnrichment returns the current enrichment for a key, or ErrNotFound
	// when the indicator has never been enriched.
	GetEnrichment(ctx context.Context, key string) (*core.Enrichment, error)

	// PutEnrichment replaces the current enrichment for a key.
	PutEnrichment(ctx context.Context, key string, enrichment *core.Enrichment) error

	// RecordSighting attributes an article to an indicator. The
	// (indicator, article) pair is inserted at most once; the boolean reports
	// whether this call recorded a new sighting. Only new sightings increment
	// the indicator's sighting count.
	RecordSighting(ctx context.Context, key, articleID string) (bool, error)
}
