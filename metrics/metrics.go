// Package metrics defines the Prometheus instrumentation for the threat
// processing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ArticlesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatlens_articles_processed_total",
			Help: "Total number of articles run through the pipeline",
		},
		[]string{"outcome"},
	)

	IndicatorsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatlens_indicators_extracted_total",
			Help: "Total number of indicators extracted from articles",
		},
		[]string{"type"},
	)

	ProviderLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatlens_provider_lookups_total",
			Help: "Total number of provider lookups by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "threatlens_provider_lookup_duration_seconds",
			Help:    "Time taken for a single provider lookup including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatlens_circuit_breaker_trips_total",
			Help: "Total number of lookups short-circuited by an open breaker",
		},
		[]string{"provider"},
	)

	EnrichmentCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatlens_enrichment_cache_hits_total",
			Help: "Enrichment cache hits by cache layer",
		},
		[]string{"layer"},
	)

	EnrichmentCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatlens_enrichment_cache_misses_total",
			Help: "Enrichment lookups that required provider fan-out",
		},
	)

	CollapsedLookups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatlens_collapsed_lookups_total",
			Help: "Enrichment requests that joined an already in-flight lookup",
		},
	)

	EnrichmentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "threatlens_enrichment_duration_seconds",
			Help:    "Time taken to produce one indicator enrichment",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnrichmentsDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threatlens_enrichments_degraded_total",
			Help: "Enrichments produced with one or more required providers missing",
		},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threatlens_store_errors_total",
			Help: "Storage layer failures by operation",
		},
		[]string{"operation"},
	)
)
