package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StartupMode defines how ThreatLens handles initialization failures
type StartupMode string

const (
	// StartupModeStrict fails fast on any initialization error (default)
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful starts with degraded functionality, logging warnings
	StartupModeGraceful StartupMode = "graceful"
)

// ProviderConfig holds per-provider settings
type ProviderConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	APIKey        string  `mapstructure:"api_key"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
	// Required marks a provider whose failure degrades the whole verdict
	Required bool `mapstructure:"required"`
}

// DataPaths holds data directory and file path configuration
type DataPaths struct {
	// DataDir is the base data directory (THREATLENS_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (THREATLENS_SQLITE_PATH, default: ${DataDir}/threatlens.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config holds all configuration for the ThreatLens service
type Config struct {
	// StartupMode controls how initialization failures are handled
	StartupMode StartupMode `mapstructure:"startup_mode"`

	DataPaths DataPaths `mapstructure:"data_paths"`

	Logging struct {
		Level  string `mapstructure:"level"`  // debug, info, warn, error
		Format string `mapstructure:"format"` // json, console
	} `mapstructure:"logging"`

	Providers struct {
		VirusTotal ProviderConfig `mapstructure:"virustotal"`
		AbuseIPDB  ProviderConfig `mapstructure:"abuseipdb"`
		OTX        ProviderConfig `mapstructure:"otx"`
	} `mapstructure:"providers"`

	Retry struct {
		MaxAttempts int           `mapstructure:"max_attempts"`
		BaseDelay   time.Duration `mapstructure:"base_delay"`
		MaxDelay    time.Duration `mapstructure:"max_delay"`
		Jitter      float64       `mapstructure:"jitter"`
	} `mapstructure:"retry"`

	CircuitBreaker struct {
		MaxFailures         int `mapstructure:"max_failures"`           // Failures before opening circuit
		TimeoutSeconds      int `mapstructure:"timeout_seconds"`        // Time to wait before attempting half-open
		MaxHalfOpenRequests int `mapstructure:"max_half_open_requests"` // Probes allowed in half-open
	} `mapstructure:"circuit_breaker"`

	Cache struct {
		TTL        time.Duration `mapstructure:"ttl"`
		MemorySize int           `mapstructure:"memory_size"`
		Redis      struct {
			Enabled  bool   `mapstructure:"enabled"`
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			PoolSize int    `mapstructure:"pool_size"`
		} `mapstructure:"redis"`
	} `mapstructure:"cache"`

	Enrichment struct {
		MaxConcurrentLookups int           `mapstructure:"max_concurrent_lookups"`
		LookupTimeout        time.Duration `mapstructure:"lookup_timeout"`
	} `mapstructure:"enrichment"`

	Pipeline struct {
		MaxConcurrentEnrichments int `mapstructure:"max_concurrent_enrichments"`
	} `mapstructure:"pipeline"`

	Scorer struct {
		AmplifierMax    float64       `mapstructure:"amplifier_max"`
		AmplifierScale  float64       `mapstructure:"amplifier_scale"`
		FreshnessWindow time.Duration `mapstructure:"freshness_window"`
		DecayHalfLife   time.Duration `mapstructure:"decay_half_life"`
	} `mapstructure:"scorer"`

	Extractor struct {
		SuppressPrivateIPs bool     `mapstructure:"suppress_private_ips"`
		SuppressedDomains  []string `mapstructure:"suppressed_domains"`
	} `mapstructure:"extractor"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("startup_mode", string(StartupModeStrict))

	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	for _, p := range []string{"virustotal", "abuseipdb", "otx"} {
		viper.SetDefault("providers."+p+".enabled", false)
		viper.SetDefault("providers."+p+".api_key", "")
		viper.SetDefault("providers."+p+".rate_per_second", 4.0)
		viper.SetDefault("providers."+p+".burst", 4)
		viper.SetDefault("providers."+p+".required", false)
	}

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.base_delay", 500*time.Millisecond)
	viper.SetDefault("retry.max_delay", 30*time.Second)
	viper.SetDefault("retry.jitter", 0.2)

	viper.SetDefault("circuit_breaker.max_failures", 5)
	viper.SetDefault("circuit_breaker.timeout_seconds", 60)
	viper.SetDefault("circuit_breaker.max_half_open_requests", 1)

	viper.SetDefault("cache.ttl", 24*time.Hour)
	viper.SetDefault("cache.memory_size", 4096)
	viper.SetDefault("cache.redis.enabled", false)
	viper.SetDefault("cache.redis.addr", "localhost:6379")
	viper.SetDefault("cache.redis.password", "")
	viper.SetDefault("cache.redis.db", 0)
	viper.SetDefault("cache.redis.pool_size", 10)

	viper.SetDefault("enrichment.max_concurrent_lookups", 16)
	viper.SetDefault("enrichment.lookup_timeout", 45*time.Second)

	viper.SetDefault("pipeline.max_concurrent_enrichments", 8)

	viper.SetDefault("scorer.amplifier_max", 15.0)
	viper.SetDefault("scorer.amplifier_scale", 5.0)
	viper.SetDefault("scorer.freshness_window", 30*24*time.Hour)
	viper.SetDefault("scorer.decay_half_life", 30*24*time.Hour)

	viper.SetDefault("extractor.suppress_private_ips", true)
	viper.SetDefault("extractor.suppressed_domains", []string{})

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9109)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("THREATLENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicit bindings for the settings operators set most often
	_ = viper.BindEnv("startup_mode", "THREATLENS_STARTUP_MODE")
	_ = viper.BindEnv("data_paths.data_dir", "THREATLENS_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "THREATLENS_SQLITE_PATH")
	_ = viper.BindEnv("providers.virustotal.api_key", "THREATLENS_VT_API_KEY")
	_ = viper.BindEnv("providers.abuseipdb.api_key", "THREATLENS_ABUSEIPDB_API_KEY")
	_ = viper.BindEnv("providers.otx.api_key", "THREATLENS_OTX_API_KEY")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()

	return &config, nil
}

// ResolveDataPaths resolves data paths, deriving from DataDir if not
// explicitly set
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "threatlens.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	c.DataPaths.DataDir = dataDir
}

// GetSQLitePath returns the resolved SQLite database path
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		return filepath.Join(c.DataPaths.DataDir, "threatlens.db")
	}
	return c.DataPaths.SQLitePath
}

// IsGracefulMode returns true if the startup mode is graceful
func (c *Config) IsGracefulMode() bool {
	return c.StartupMode == StartupModeGraceful
}

// EnabledProviders returns the names of all enabled providers
func (c *Config) EnabledProviders() []string {
	var names []string
	if c.Providers.VirusTotal.Enabled {
		names = append(names, "virustotal")
	}
	if c.Providers.AbuseIPDB.Enabled {
		names = append(names, "abuseipdb")
	}
	if c.Providers.OTX.Enabled {
		names = append(names, "otx")
	}
	return names
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	switch config.StartupMode {
	case StartupModeStrict, StartupModeGraceful:
	default:
		return fmt.Errorf("invalid startup_mode: %s (must be strict or graceful)", config.StartupMode)
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", config.Logging.Level)
	}
	switch config.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be json or console)", config.Logging.Format)
	}

	providers := []struct {
		name string
		cfg  ProviderConfig
	}{
		{"virustotal", config.Providers.VirusTotal},
		{"abuseipdb", config.Providers.AbuseIPDB},
		{"otx", config.Providers.OTX},
	}
	for _, p := range providers {
		if !p.cfg.Enabled {
			continue
		}
		if p.cfg.APIKey == "" {
			return fmt.Errorf("providers.%s.api_key cannot be empty when the provider is enabled", p.name)
		}
		if p.cfg.RatePerSecond <= 0 {
			return fmt.Errorf("providers.%s.rate_per_second must be positive, got %v", p.name, p.cfg.RatePerSecond)
		}
		if p.cfg.Burst < 1 {
			return fmt.Errorf("providers.%s.burst must be at least 1, got %d", p.name, p.cfg.Burst)
		}
	}

	if config.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", config.Retry.MaxAttempts)
	}
	if config.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive, got %v", config.Retry.BaseDelay)
	}
	if config.Retry.MaxDelay < config.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be at least base_delay, got %v", config.Retry.MaxDelay)
	}
	if config.Retry.Jitter < 0 || config.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be between 0 and 1, got %v", config.Retry.Jitter)
	}

	if config.CircuitBreaker.MaxFailures <= 0 {
		return fmt.Errorf("circuit_breaker.max_failures must be positive, got %d", config.CircuitBreaker.MaxFailures)
	}
	if config.CircuitBreaker.TimeoutSeconds <= 0 {
		return fmt.Errorf("circuit_breaker.timeout_seconds must be positive, got %d", config.CircuitBreaker.TimeoutSeconds)
	}
	if config.CircuitBreaker.MaxHalfOpenRequests <= 0 {
		return fmt.Errorf("circuit_breaker.max_half_open_requests must be positive, got %d", config.CircuitBreaker.MaxHalfOpenRequests)
	}

	if config.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %v", config.Cache.TTL)
	}
	if config.Cache.MemorySize < 1 {
		return fmt.Errorf("cache.memory_size must be at least 1, got %d", config.Cache.MemorySize)
	}

	if config.Enrichment.MaxConcurrentLookups < 1 {
		return fmt.Errorf("enrichment.max_concurrent_lookups must be at least 1, got %d", config.Enrichment.MaxConcurrentLookups)
	}
	if config.Enrichment.LookupTimeout <= 0 {
		return fmt.Errorf("enrichment.lookup_timeout must be positive, got %v", config.Enrichment.LookupTimeout)
	}

	if config.Pipeline.MaxConcurrentEnrichments < 1 {
		return fmt.Errorf("pipeline.max_concurrent_enrichments must be at least 1, got %d", config.Pipeline.MaxConcurrentEnrichments)
	}

	if config.Scorer.AmplifierMax < 0 || config.Scorer.AmplifierMax > 100 {
		return fmt.Errorf("scorer.amplifier_max must be between 0 and 100, got %v", config.Scorer.AmplifierMax)
	}
	if config.Scorer.AmplifierScale <= 0 {
		return fmt.Errorf("scorer.amplifier_scale must be positive, got %v", config.Scorer.AmplifierScale)
	}
	if config.Scorer.FreshnessWindow <= 0 {
		return fmt.Errorf("scorer.freshness_window must be positive, got %v", config.Scorer.FreshnessWindow)
	}
	if config.Scorer.DecayHalfLife <= 0 {
		return fmt.Errorf("scorer.decay_half_life must be positive, got %v", config.Scorer.DecayHalfLife)
	}

	if config.Metrics.Enabled {
		if config.Metrics.Port < 1 || config.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d (must be 1-65535)", config.Metrics.Port)
		}
	}

	return nil
}
