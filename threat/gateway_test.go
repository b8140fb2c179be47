package threat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"threatlens/core"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      0,
	}
}

func testGateway(t *testing.T, provider Provider, cfg GatewayConfig) *Gateway {
	t.Helper()
	gw, err := NewGateway(provider, cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return gw
}

func TestGatewayUnsupportedType(t *testing.T) {
	mock := NewMockProvider("ip-only", core.IndicatorTypeIP)
	gw := testGateway(t, mock, DefaultGatewayConfig())

	_, err := gw.Lookup(context.Background(), core.IndicatorTypeDomain, "evil.test")

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrInvalidIndicator, pe.Kind)
	assert.Zero(t, mock.Calls(), "provider must not be queried for unsupported types")
}

func TestGatewayRetriesTransientFailures(t *testing.T) {
	mock := NewMockProvider("flaky").
		RespondError(core.ProviderErrUnavailable).
		RespondError(core.ProviderErrUnavailable).
		RespondScore(60, 0.8)

	cfg := DefaultGatewayConfig()
	cfg.RatePerSecond = 1000
	cfg.Burst = 10
	cfg.Retry = fastRetry(3)
	gw := testGateway(t, mock, cfg)

	result, err := gw.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")

	require.NoError(t, err)
	assert.InDelta(t, 60, result.Score, 0.001)
	assert.Equal(t, int64(3), mock.Calls())
}

func TestGatewayDoesNotRetryInvalidIndicator(t *testing.T) {
	mock := NewMockProvider("strict").RespondError(core.ProviderErrInvalidIndicator)

	cfg := DefaultGatewayConfig()
	cfg.Retry = fastRetry(3)
	gw := testGateway(t, mock, cfg)

	_, err := gw.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrInvalidIndicator, pe.Kind)
	assert.Equal(t, int64(1), mock.Calls())
}

func TestGatewayExhaustedRetriesSurfaceLastError(t *testing.T) {
	mock := NewMockProvider("down").RespondError(core.ProviderErrUnavailable)

	cfg := DefaultGatewayConfig()
	cfg.RatePerSecond = 1000
	cfg.Burst = 10
	cfg.Retry = fastRetry(2)
	gw := testGateway(t, mock, cfg)

	_, err := gw.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrUnavailable, pe.Kind)
	assert.Equal(t, int64(2), mock.Calls())
}

func TestGatewayBreakerOpensAndShortCircuits(t *testing.T) {
	mock := NewMockProvider("dead").RespondError(core.ProviderErrUnavailable)

	cfg := DefaultGatewayConfig()
	cfg.RatePerSecond = 1000
	cfg.Burst = 10
	cfg.Retry = fastRetry(1)
	cfg.Breaker = core.CircuitBreakerConfig{
		MaxFailures:         2,
		CoolDown:            time.Minute,
		MaxHalfOpenRequests: 1,
	}
	gw := testGateway(t, mock, cfg)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := gw.Lookup(ctx, core.IndicatorTypeIP, "203.0.113.7")
		require.Error(t, err)
	}
	require.Equal(t, core.CircuitBreakerStateOpen, gw.BreakerState())

	// Open circuit fails fast without touching the provider
	_, err := gw.Lookup(ctx, core.IndicatorTypeIP, "203.0.113.7")
	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrUnavailable, pe.Kind)
	assert.Equal(t, int64(2), mock.Calls())
}

func TestGatewayRateLimitDoesNotTripBreaker(t *testing.T) {
	mock := NewMockProvider("throttled").RespondError(core.ProviderErrRateLimited)

	cfg := DefaultGatewayConfig()
	cfg.RatePerSecond = 1000
	cfg.Burst = 10
	cfg.Retry = fastRetry(1)
	cfg.Breaker = core.CircuitBreakerConfig{
		MaxFailures:         1,
		CoolDown:            time.Minute,
		MaxHalfOpenRequests: 1,
	}
	gw := testGateway(t, mock, cfg)

	for i := 0; i < 5; i++ {
		_, err := gw.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")
		require.Error(t, err)
	}

	assert.Equal(t, core.CircuitBreakerStateClosed, gw.BreakerState())
	assert.Equal(t, int64(5), mock.Calls())
}

func TestGatewayHonorsCancellation(t *testing.T) {
	mock := NewMockProvider("slow")
	release := mock.Block()
	defer release()

	cfg := DefaultGatewayConfig()
	cfg.Retry = fastRetry(1)
	gw := testGateway(t, mock, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := gw.Lookup(ctx, core.IndicatorTypeIP, "203.0.113.7")

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrTimeout, pe.Kind)
}

func TestGatewayBackoffHonorsRetryAfterHint(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, Jitter: 0}
	gw := testGateway(t, NewMockProvider("any"), cfg)

	pe := &core.ProviderError{Provider: "any", Kind: core.ProviderErrRateLimited, RetryAfter: 250 * time.Millisecond}
	delay := gw.backoffDelay(0, pe)

	assert.Equal(t, 250*time.Millisecond, delay)
}

func TestGatewayBackoffGrowsAndCaps(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 10, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Jitter: 0}
	gw := testGateway(t, NewMockProvider("any"), cfg)

	pe := core.NewProviderError("any", core.ProviderErrUnavailable, nil)
	assert.Equal(t, 10*time.Millisecond, gw.backoffDelay(0, pe))
	assert.Equal(t, 20*time.Millisecond, gw.backoffDelay(1, pe))
	assert.Equal(t, 40*time.Millisecond, gw.backoffDelay(2, pe))
	assert.Equal(t, 50*time.Millisecond, gw.backoffDelay(3, pe))
	assert.Equal(t, 50*time.Millisecond, gw.backoffDelay(5, pe))
}

func TestGatewayRateLimiterBlocksBurstOverflow(t *testing.T) {
	mock := NewMockProvider("slow-lane").RespondScore(10, 0.5)

	cfg := DefaultGatewayConfig()
	cfg.RatePerSecond = 1
	cfg.Burst = 2
	cfg.Retry = fastRetry(1)
	gw := testGateway(t, mock, cfg)

	ctx := context.Background()
	started := time.Now()
	for i := 0; i < 2; i++ {
		_, err := gw.Lookup(ctx, core.IndicatorTypeIP, "203.0.113.7")
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(started), 500*time.Millisecond, "burst capacity must not block")

	// The call past the burst waits for a token
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := gw.Lookup(shortCtx, core.IndicatorTypeIP, "203.0.113.7")
	require.Error(t, err)
	assert.Equal(t, int64(2), mock.Calls())
}
