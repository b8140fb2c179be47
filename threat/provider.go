// Package threat implements the enrichment side of the pipeline: provider
// gateways, the enrichment coordinator with request collapsing, the risk
// scorer, and the enrichment caches.
package threat

import (
	"context"

	"threatlens/core"
)

// Provider is the capability interface wrapping one external threat-intel
// source. Implementations translate the provider's native payload into a
// normalized ProviderResult and its failure modes into typed
// core.ProviderError values; they do not rate limit or retry themselves —
// that is the Gateway's job.
type Provider interface {
	// Name identifies the provider in results, metrics, and logs
	Name() string

	// Supports reports whether the provider can look up this indicator type
	Supports(indicatorType core.IndicatorType) bool

	// Lookup queries the provider for one indicator. A successful call that
	// finds no intelligence returns a result with zero score and zero
	// confidence, which is distinct from an error.
	Lookup(ctx context.Context, indicatorType core.IndicatorType, value string) (*core.ProviderResult, error)
}
