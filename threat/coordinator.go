package threat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"threatlens/core"
	"threatlens/metrics"
	"threatlens/storage"
	"threatlens/util/goroutine"
)

// CoordinatorConfig tunes caching and fan-out behavior
type CoordinatorConfig struct {
	// CacheTTL is how long an enrichment stays fresh across cache and store
	CacheTTL time.Duration
	// MaxConcurrentLookups caps in-flight provider lookups across all
	// indicators, not per indicator
	MaxConcurrentLookups int64
	// LookupTimeout bounds a single enrichment flight end to end
	LookupTimeout time.Duration
}

// DefaultCoordinatorConfig returns sane production defaults
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		CacheTTL:             24 * time.Hour,
		MaxConcurrentLookups: 16,
		LookupTimeout:        45 * time.Second,
	}
}

// Validate checks the configuration
func (c *CoordinatorConfig) Validate() error {
	if c.CacheTTL <= 0 {
		return errors.New("CacheTTL must be greater than 0")
	}
	if c.MaxConcurrentLookups <= 0 {
		return errors.New("MaxConcurrentLookups must be greater than 0")
	}
	if c.LookupTimeout <= 0 {
		return errors.New("LookupTimeout must be greater than 0")
	}
	return nil
}

// flight is one in-progress enrichment shared by every concurrent caller
// asking for the same indicator key.
type flight struct {
	done    chan struct{}
	cancel  context.CancelFunc
	waiters int

	enrichment *core.Enrichment
	err        error
}

// Coordinator answers enrichment requests. It consults the hot cache, then
// the store, and only then fans out to the provider gateways, collapsing
// concurrent requests for the same indicator into a single flight.
type Coordinator struct {
	gateways []*Gateway
	store    storage.Store
	cache    EnrichmentCache
	scorer   *Scorer
	config   CoordinatorConfig
	sem      *semaphore.Weighted
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	inflight map[string]*flight

	// now is swappable for tests
	now func() time.Time
}

// NewCoordinator wires the enrichment path together
func NewCoordinator(gateways []*Gateway, store storage.Store, cache EnrichmentCache, scorer *Scorer, config CoordinatorConfig, logger *zap.SugaredLogger) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if scorer == nil {
		return nil, errors.New("scorer is required")
	}
	if cache == nil {
		cache = NewMemoryEnrichmentCache(4096, config.CacheTTL)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Coordinator{
		gateways: gateways,
		store:    store,
		cache:    cache,
		scorer:   scorer,
		config:   config,
		sem:      semaphore.NewWeighted(config.MaxConcurrentLookups),
		logger:   logger,
		inflight: make(map[string]*flight),
		now:      time.Now,
	}, nil
}

// Enrich returns the enrichment verdict for one indicator. Fresh cached
// verdicts are served without provider traffic; otherwise concurrent callers
// for the same key share a single provider fan-out. The returned error is
// non-nil only for caller cancellation, never for provider failures, which
// are folded into the verdict as degraded or unavailable.
func (c *Coordinator) Enrich(ctx context.Context, indicator *core.Indicator) (*core.Enrichment, error) {
	key := indicator.Key()
	now := c.now()

	if cached, ok := c.cache.Get(ctx, key); ok && cached.Fresh(now, c.config.CacheTTL) {
		metrics.EnrichmentCacheHits.WithLabelValues("memory").Inc()
		return c.rescored(cached, indicator, now), nil
	}
	metrics.EnrichmentCacheMisses.Inc()

	if stored, err := c.store.GetEnrichment(ctx, key); err == nil && stored.Fresh(now, c.config.CacheTTL) {
		metrics.EnrichmentCacheHits.WithLabelValues("store").Inc()
		c.cache.Set(ctx, key, stored, c.config.CacheTTL)
		return c.rescored(stored, indicator, now), nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.logger.Warnw("Enrichment store read failed, continuing to providers", "key", key, "error", err)
	}

	return c.collapse(ctx, key, indicator)
}

// rescored folds the indicator's current sighting count into a cached
// verdict. Provider data is reused; only the sightings-driven part of the
// score moves.
func (c *Coordinator) rescored(cached *core.Enrichment, indicator *core.Indicator, now time.Time) *core.Enrichment {
	if cached.Sightings == indicator.Sightings || cached.Unavailable {
		return cached
	}
	out := *cached
	out.Sightings = indicator.Sightings
	out.LastSeen = indicator.LastSeen
	out.RiskScore, out.RiskLevel = c.scorer.Score(indicator.Type, out.Providers, indicator.Sightings, indicator.LastSeen, now)
	return &out
}

// collapse ensures at most one provider fan-out per indicator key. The first
// caller becomes the leader and runs the flight on a context detached from
// its own, so the flight survives individual caller cancellation; the flight
// is aborted only when every waiter has gone away.
func (c *Coordinator) collapse(ctx context.Context, key string, indicator *core.Indicator) (*core.Enrichment, error) {
	c.mu.Lock()
	f, ok := c.inflight[key]
	if ok {
		f.waiters++
		c.mu.Unlock()
		metrics.CollapsedLookups.Inc()
		return c.await(ctx, key, f)
	}

	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.LookupTimeout)
	f = &flight{done: make(chan struct{}), cancel: cancel, waiters: 1}
	c.inflight[key] = f
	c.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			if f.enrichment == nil && f.err == nil {
				f.err = errors.New("enrichment flight panicked")
			}
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
			close(f.done)
		}()
		defer goroutine.Recover("enrichment-flight", c.logger)
		f.enrichment, f.err = c.fanOut(flightCtx, indicator)
	}()

	return c.await(ctx, key, f)
}

// await blocks until the flight finishes or the caller gives up. A departing
// caller decrements the waiter count; the last one out cancels the flight.
func (c *Coordinator) await(ctx context.Context, key string, f *flight) (*core.Enrichment, error) {
	select {
	case <-f.done:
		return f.enrichment, f.err
	case <-ctx.Done():
		c.mu.Lock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
		}
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// fanOut queries every gateway supporting the indicator type, aggregates the
// results into a verdict, and writes it back to store and cache.
func (c *Coordinator) fanOut(ctx context.Context, indicator *core.Indicator) (*core.Enrichment, error) {
	started := c.now()
	key := indicator.Key()

	var eligible []*Gateway
	for _, gw := range c.gateways {
		if gw.Supports(indicator.Type) {
			eligible = append(eligible, gw)
		}
	}

	type outcome struct {
		gateway *Gateway
		result  *core.ProviderResult
		err     error
	}
	outcomes := make([]outcome, len(eligible))

	var wg sync.WaitGroup
	for i, gw := range eligible {
		wg.Add(1)
		go func(i int, gw *Gateway) {
			defer wg.Done()
			if err := c.sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = outcome{gateway: gw, err: core.NewProviderError(gw.Name(), core.ProviderErrTimeout, err)}
				return
			}
			defer c.sem.Release(1)
			result, err := gw.Lookup(ctx, indicator.Type, indicator.Value)
			outcomes[i] = outcome{gateway: gw, result: result, err: err}
		}(i, gw)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	enrichment := &core.Enrichment{
		IndicatorKey: key,
		Sightings:    indicator.Sightings,
		LastSeen:     indicator.LastSeen,
		GeneratedAt:  c.now(),
	}

	tagSet := make(map[string]struct{})
	var confidenceSum float64
	attempted := 0
	for _, o := range outcomes {
		attempted++
		if o.err != nil {
			c.logger.Warnw("Provider lookup failed", "provider", o.gateway.Name(), "indicator", key, "error", o.err)
			if o.gateway.Required() {
				enrichment.Degraded = true
			}
			continue
		}
		enrichment.Providers = append(enrichment.Providers, *o.result)
		confidenceSum += o.result.Confidence
		for _, t := range o.result.Tags {
			tagSet[t] = struct{}{}
		}
	}

	contributed := len(enrichment.Providers)
	switch {
	case attempted == 0 || contributed == 0:
		// Nothing answered: a zero here means "we do not know", never
		// "confirmed benign".
		enrichment.RiskScore = 0
		enrichment.RiskLevel = core.RiskLevelLow
		enrichment.Confidence = 0
		enrichment.Unavailable = true
		enrichment.Degraded = true
	default:
		enrichment.Confidence = confidenceSum / float64(contributed)
		enrichment.RiskScore, enrichment.RiskLevel = c.scorer.Score(indicator.Type, enrichment.Providers, indicator.Sightings, indicator.LastSeen, c.now())
	}

	for t := range tagSet {
		enrichment.Tags = append(enrichment.Tags, t)
	}
	sort.Strings(enrichment.Tags)

	if enrichment.Degraded {
		metrics.EnrichmentsDegraded.Inc()
	}
	metrics.EnrichmentDuration.Observe(c.now().Sub(started).Seconds())

	c.writeBack(ctx, key, enrichment)
	return enrichment, nil
}

// writeBack persists the verdict. An unavailable verdict is never written
// anywhere: it carries no provider data, so the next request must retry the
// providers instead of being served a cached unknown. Persistence failures
// degrade cache behavior, never the verdict itself.
func (c *Coordinator) writeBack(ctx context.Context, key string, enrichment *core.Enrichment) {
	if enrichment.Unavailable {
		return
	}
	if err := c.store.PutEnrichment(ctx, key, enrichment); err != nil {
		c.logger.Warnw("Persisting enrichment failed", "key", key, "error", err)
	}
	c.cache.Set(ctx, key, enrichment, c.config.CacheTTL)
}

// BreakerStates reports the circuit breaker state per provider name
func (c *Coordinator) BreakerStates() map[string]core.CircuitBreakerState {
	states := make(map[string]core.CircuitBreakerState, len(c.gateways))
	for _, gw := range c.gateways {
		states[gw.Name()] = gw.BreakerState()
	}
	return states
}
