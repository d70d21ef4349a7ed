package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure choices
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Aggregator settings
	Aggregator AggregatorConfig `json:"aggregator"`

	// Chain analyzer settings
	Chain ChainConfig `json:"chain"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// AggregatorConfig tunes the signal aggregator.
type AggregatorConfig struct {
	// LookbackDays bounds the rolling mean/stddev history.
	LookbackDays int `json:"lookbackDays"`

	// MinSamples is the sample count below which the snapshot carries an
	// insufficient-history marker.
	MinSamples int `json:"minSamples"`

	// MaxRetries bounds retry attempts on transient data-access errors.
	MaxRetries int `json:"maxRetries"`

	// SnapshotTTL caches completed snapshots briefly. Zero disables caching.
	SnapshotTTL time.Duration `json:"snapshotTTL"`
}

// ChainConfig tunes the chain analyzer.
type ChainConfig struct {
	// Window bounds chain analysis; chains spanning exactly the window are
	// excluded.
	Window time.Duration `json:"window"`

	// SmallAmountThreshold: amounts below this are "small" for structuring
	// detection.
	SmallAmountThreshold float64 `json:"smallAmountThreshold"`

	// RapidWindow: credit/reversal pairs within this are "rapid".
	RapidWindow time.Duration `json:"rapidWindow"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the single-node tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the distributed tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Aggregator: AggregatorConfig{
			LookbackDays: 90,
			MinSamples:   3,
			MaxRetries:   3,
			SnapshotTTL:  0,
		},
		Chain: ChainConfig{
			Window:               72 * time.Hour,
			SmallAmountThreshold: 100,
			RapidWindow:          6 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
