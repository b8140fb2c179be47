package threat

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"threatlens/core"
	"threatlens/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryConfig bounds the retry behavior for transient provider failures
type RetryConfig struct {
	// MaxAttempts is the total number of tries including the first
	MaxAttempts int
	// BaseDelay is the delay before the first retry; subsequent retries
	// double it
	BaseDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
	// Jitter randomizes each delay by ±Jitter fraction to avoid retry storms
	Jitter float64
}

// DefaultRetryConfig returns the retry policy used for provider lookups
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// GatewayConfig configures the protective wrapping around one provider
type GatewayConfig struct {
	// RatePerSecond and Burst size the outbound token bucket to the
	// provider's published quota
	RatePerSecond float64
	Burst         int
	// Required marks providers whose absence flags the enrichment degraded
	Required bool
	// Breaker configures the per-provider circuit breaker
	Breaker core.CircuitBreakerConfig
	// Retry bounds backoff for retryable failures
	Retry RetryConfig
}

// DefaultGatewayConfig returns a conservative gateway configuration
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		RatePerSecond: 4,
		Burst:         4,
		Required:      false,
		Breaker:       core.DefaultCircuitBreakerConfig(),
		Retry:         DefaultRetryConfig(),
	}
}

// Gateway wraps a Provider with the provider's own outbound token bucket, a
// circuit breaker, and bounded retries with exponential backoff and jitter.
// Each gateway limits independently of the others; the coordinator adds the
// global concurrency cap on top.
type Gateway struct {
	provider Provider
	config   GatewayConfig
	limiter  *rate.Limiter
	breaker  *core.CircuitBreaker
	logger   *zap.SugaredLogger
}

// NewGateway wraps a provider with rate limiting, breaker, and retry
func NewGateway(provider Provider, config GatewayConfig, logger *zap.SugaredLogger) (*Gateway, error) {
	breaker, err := core.NewCircuitBreaker(config.Breaker)
	if err != nil {
		return nil, err
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 1
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryConfig()
	}
	return &Gateway{
		provider: provider,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		breaker:  breaker,
		logger:   logger,
	}, nil
}

// Name returns the wrapped provider's name
func (g *Gateway) Name() string { return g.provider.Name() }

// Required reports whether this provider's absence degrades an enrichment
func (g *Gateway) Required() bool { return g.config.Required }

// Supports reports whether the wrapped provider handles this indicator type
func (g *Gateway) Supports(indicatorType core.IndicatorType) bool {
	return g.provider.Supports(indicatorType)
}

// BreakerState exposes the circuit breaker state for diagnostics
func (g *Gateway) BreakerState() core.CircuitBreakerState {
	return g.breaker.State()
}

// Lookup queries the provider for one indicator, enforcing the token bucket
// and circuit breaker and retrying transient failures with backoff.
// Non-retryable failures and exhausted retries surface as a typed
// core.ProviderError.
func (g *Gateway) Lookup(ctx context.Context, indicatorType core.IndicatorType, value string) (*core.ProviderResult, error) {
	name := g.provider.Name()

	if !g.provider.Supports(indicatorType) {
		metrics.ProviderLookups.WithLabelValues(name, "unsupported").Inc()
		return nil, core.NewProviderError(name, core.ProviderErrInvalidIndicator,
			errors.New("indicator type not supported"))
	}

	start := time.Now()
	defer func() {
		metrics.ProviderLookupDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	var lastErr *core.ProviderError
	for attempt := 0; attempt < g.config.Retry.MaxAttempts; attempt++ {
		if err := g.breaker.Allow(); err != nil {
			metrics.CircuitBreakerTrips.WithLabelValues(name).Inc()
			metrics.ProviderLookups.WithLabelValues(name, "short_circuited").Inc()
			return nil, core.NewProviderError(name, core.ProviderErrUnavailable, err)
		}

		if err := g.limiter.Wait(ctx); err != nil {
			// Cancelled or deadline hit while waiting for a token
			return nil, core.NewProviderError(name, core.ProviderErrTimeout, err)
		}

		result, err := g.provider.Lookup(ctx, indicatorType, value)
		if err == nil {
			g.breaker.RecordSuccess()
			metrics.ProviderLookups.WithLabelValues(name, "success").Inc()
			return result, nil
		}

		lastErr = g.classify(name, err)
		metrics.ProviderLookups.WithLabelValues(name, string(lastErr.Kind)).Inc()

		if lastErr.TripsBreaker() {
			g.breaker.RecordFailure()
		} else {
			// Rate limiting and invalid input say nothing about provider health
			g.breaker.RecordSuccess()
		}

		if !lastErr.Retryable() || attempt == g.config.Retry.MaxAttempts-1 {
			break
		}

		delay := g.backoffDelay(attempt, lastErr)
		g.logger.Debugw("Retrying provider lookup",
			"provider", name,
			"attempt", attempt+1,
			"kind", lastErr.Kind,
			"delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, core.NewProviderError(name, core.ProviderErrTimeout, ctx.Err())
		}
	}

	return nil, lastErr
}

// classify coerces arbitrary provider failures into the typed taxonomy
func (g *Gateway) classify(name string, err error) *core.ProviderError {
	if pe, ok := core.AsProviderError(err); ok {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewProviderError(name, core.ProviderErrTimeout, err)
	}
	return core.NewProviderError(name, core.ProviderErrUnavailable, err)
}

// backoffDelay computes exponential backoff with jitter, honoring a
// provider-supplied retry-after hint when present
func (g *Gateway) backoffDelay(attempt int, pe *core.ProviderError) time.Duration {
	delay := g.config.Retry.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > g.config.Retry.MaxDelay {
		delay = g.config.Retry.MaxDelay
	}
	if pe.RetryAfter > delay {
		delay = pe.RetryAfter
	}
	if g.config.Retry.Jitter > 0 {
		jitterDelta := (rand.Float64()*2 - 1) * g.config.Retry.Jitter * float64(delay)
		delay += time.Duration(jitterDelta)
		if delay < 0 {
			delay = g.config.Retry.BaseDelay
		}
	}
	return delay
}
