package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"threatlens/config"
	"threatlens/core"
	"threatlens/extract"
	"threatlens/pipeline"
	"threatlens/storage"
	"threatlens/threat"
	"threatlens/util/goroutine"
)

// App holds the wired ThreatLens components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Store       storage.Store
	SQLite      *storage.SQLite
	RedisCache  *storage.RedisEnrichmentCache
	Extractor   *extract.Extractor
	Gateways    []*threat.Gateway
	Coordinator *threat.Coordinator
	Processor   *pipeline.Processor

	metricsServer *http.Server
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	cfg, err := InitConfig()
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	logger, sugar, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Infow("ThreatLens starting",
		"providers", cfg.EnabledProviders(),
		"sqlite_path", cfg.GetSQLitePath(),
		"cache_ttl", cfg.Cache.TTL)

	if err := app.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := app.initPipeline(); err != nil {
		return nil, err
	}

	return app, nil
}

// initStorage opens the SQLite store and, when configured, the Redis cache
func (a *App) initStorage(ctx context.Context) error {
	db, err := storage.NewSQLite(a.Config.GetSQLitePath(), a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to open sqlite: %w", err)
	}
	a.SQLite = db

	store, err := storage.NewSQLiteStore(db, a.Sugar)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	a.Store = store

	if a.Config.Cache.Redis.Enabled {
		rc := storage.NewRedisEnrichmentCache(
			a.Config.Cache.Redis.Addr,
			a.Config.Cache.Redis.Password,
			a.Config.Cache.Redis.DB,
			a.Config.Cache.Redis.PoolSize,
			a.Sugar)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			if !a.Config.IsGracefulMode() {
				return fmt.Errorf("redis unreachable: %w", err)
			}
			a.Sugar.Warnw("Redis unreachable, falling back to in-memory cache", "error", err)
		} else {
			a.RedisCache = rc
		}
	}
	return nil
}

// initPipeline builds the extractor, gateways, coordinator and processor
func (a *App) initPipeline() error {
	cfg := a.Config

	var opts []extract.Option
	if len(cfg.Extractor.SuppressedDomains) > 0 {
		opts = append(opts, extract.WithSuppressedDomains(cfg.Extractor.SuppressedDomains))
	}
	if !cfg.Extractor.SuppressPrivateIPs {
		opts = append(opts, extract.WithPrivateIPs())
	}
	a.Extractor = extract.NewExtractor(opts...)

	gateways, err := a.buildGateways()
	if err != nil {
		return err
	}
	a.Gateways = gateways
	if len(gateways) == 0 {
		a.Sugar.Warn("No providers enabled, every enrichment will be unavailable")
	}

	scorer, err := threat.NewScorer(a.scorerConfig())
	if err != nil {
		return fmt.Errorf("invalid scorer config: %w", err)
	}

	var cache threat.EnrichmentCache
	if a.RedisCache != nil {
		cache = a.RedisCache
	} else {
		cache = threat.NewMemoryEnrichmentCache(cfg.Cache.MemorySize, cfg.Cache.TTL)
	}

	coordinator, err := threat.NewCoordinator(gateways, a.Store, cache, scorer, threat.CoordinatorConfig{
		CacheTTL:             cfg.Cache.TTL,
		MaxConcurrentLookups: int64(cfg.Enrichment.MaxConcurrentLookups),
		LookupTimeout:        cfg.Enrichment.LookupTimeout,
	}, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to build coordinator: %w", err)
	}
	a.Coordinator = coordinator

	processor, err := pipeline.NewProcessor(a.Extractor, a.Store, coordinator, pipeline.ProcessorConfig{
		MaxConcurrentEnrichments: cfg.Pipeline.MaxConcurrentEnrichments,
	}, a.Sugar)
	if err != nil {
		return fmt.Errorf("failed to build processor: %w", err)
	}
	a.Processor = processor
	return nil
}

// buildGateways wraps each enabled provider in its rate-limited gateway
func (a *App) buildGateways() ([]*threat.Gateway, error) {
	cfg := a.Config

	breakerCfg := core.CircuitBreakerConfig{
		MaxFailures:         uint32(cfg.CircuitBreaker.MaxFailures),
		CoolDown:            time.Duration(cfg.CircuitBreaker.TimeoutSeconds) * time.Second,
		MaxHalfOpenRequests: uint32(cfg.CircuitBreaker.MaxHalfOpenRequests),
	}
	retryCfg := threat.RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}

	type candidate struct {
		cfg      config.ProviderConfig
		provider threat.Provider
	}
	candidates := []candidate{
		{cfg.Providers.VirusTotal, threat.NewVirusTotalProvider(cfg.Providers.VirusTotal.APIKey)},
		{cfg.Providers.AbuseIPDB, threat.NewAbuseIPDBProvider(cfg.Providers.AbuseIPDB.APIKey)},
		{cfg.Providers.OTX, threat.NewAlienVaultOTXProvider(cfg.Providers.OTX.APIKey)},
	}

	var gateways []*threat.Gateway
	for _, c := range candidates {
		if !c.cfg.Enabled {
			continue
		}
		gw, err := threat.NewGateway(c.provider, threat.GatewayConfig{
			RatePerSecond: c.cfg.RatePerSecond,
			Burst:         c.cfg.Burst,
			Required:      c.cfg.Required,
			Breaker:       breakerCfg,
			Retry:         retryCfg,
		}, a.Sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s gateway: %w", c.provider.Name(), err)
		}
		gateways = append(gateways, gw)
	}
	return gateways, nil
}

func (a *App) scorerConfig() threat.ScorerConfig {
	sc := threat.DefaultScorerConfig()
	sc.AmplifierMax = a.Config.Scorer.AmplifierMax
	sc.AmplifierScale = a.Config.Scorer.AmplifierScale
	sc.FreshnessWindow = a.Config.Scorer.FreshnessWindow
	sc.DecayHalfLife = a.Config.Scorer.DecayHalfLife
	return sc
}

// StartMetrics serves the Prometheus endpoint when metrics are enabled
func (a *App) StartMetrics() {
	if !a.Config.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	goroutine.Go("metrics-server", a.Sugar, func() {
		a.Sugar.Infow("Metrics endpoint listening", "port", a.Config.Metrics.Port)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("Metrics server failed", "error", err)
		}
	})
}

// Shutdown releases every resource the app holds
func (a *App) Shutdown() {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.metricsServer.Shutdown(ctx)
		cancel()
	}
	if a.RedisCache != nil {
		if err := a.RedisCache.Close(); err != nil {
			a.Sugar.Warnw("Redis close failed", "error", err)
		}
	}
	if a.SQLite != nil {
		a.SQLite.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
