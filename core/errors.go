package core

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

var (
	// ErrUnsupportedType is returned for indicator types the system does not
	// handle. Unlike provider errors this is a programmer-error input and is
	// surfaced as a hard failure.
	ErrUnsupportedType = errors.New("unsupported indicator type")

	// ErrCircuitOpen is returned when a provider circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ProviderErrorKind classifies provider lookup failures for retry and
// circuit-breaker decisions
type ProviderErrorKind string

const (
	// ProviderErrRateLimited means the provider rejected the call due to
	// quota; retryable after backoff
	ProviderErrRateLimited ProviderErrorKind = "rate_limited"
	// ProviderErrTimeout means the call did not complete in time; retryable
	ProviderErrTimeout ProviderErrorKind = "timeout"
	// ProviderErrInvalidIndicator means the provider does not support this
	// indicator type or value; not retryable
	ProviderErrInvalidIndicator ProviderErrorKind = "invalid_indicator"
	// ProviderErrUnavailable means the provider is degraded or unreachable;
	// retryable and a circuit-breaker candidate
	ProviderErrUnavailable ProviderErrorKind = "unavailable"
)

// ProviderError is a typed failure from a threat-intel provider lookup
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	RetryAfter time.Duration // Optional hint from the provider (rate limiting)
	Err        error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
}

// Unwrap supports errors.Is/errors.As chains
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a bounded retry with backoff may succeed
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ProviderErrRateLimited, ProviderErrTimeout, ProviderErrUnavailable:
		return true
	default:
		return false
	}
}

// TripsBreaker reports whether this failure should count toward opening the
// provider's circuit breaker
func (e *ProviderError) TripsBreaker() bool {
	return e.Kind == ProviderErrUnavailable || e.Kind == ProviderErrTimeout
}

// NewProviderError builds a typed provider error
func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// AsProviderError extracts a ProviderError from an error chain
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
