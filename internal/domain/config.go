package domain

import "time"

// Config holds the complete PesaGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Scoring engine settings
	Scoring ScoringConfig `json:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ScoringConfig holds the engine's fixed policy knobs.
type ScoringConfig struct {
	// VelocityWindow is the trailing window for the rapid-succession
	// signal.
	VelocityWindow time.Duration `json:"velocityWindow"`

	// RoundAmounts are the amounts treated as "round" by the
	// round-number repetition signal.
	RoundAmounts []float64 `json:"roundAmounts"`

	// LargeAmountThreshold triggers the large-amount signal.
	LargeAmountThreshold float64 `json:"largeAmountThreshold"`

	// SuspiciousPrefixes correlate with fraud reports; the prefix
	// signal only ever corroborates other factors.
	SuspiciousPrefixes []string `json:"suspiciousPrefixes"`

	// Ensemble blend between the rule score and the secondary
	// predictor's score.
	EnsembleRuleWeight  float64 `json:"ensembleRuleWeight"`
	EnsembleModelWeight float64 `json:"ensembleModelWeight"`

	// HistoryTimeout bounds the statistics reads of a single scoring
	// call.
	HistoryTimeout time.Duration `json:"historyTimeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
}

// DefaultScoringConfig returns the documented scoring policy.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		VelocityWindow:       5 * time.Minute,
		RoundAmounts:         []float64{1000, 5000, 10000, 50000, 100000},
		LargeAmountThreshold: 50000,
		SuspiciousPrefixes:   []string{"0700", "0701", "+2547", "+2540"},
		EnsembleRuleWeight:   0.6,
		EnsembleModelWeight:  0.4,
		HistoryTimeout:       5 * time.Second,
	}
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// LRU cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Scoring: DefaultScoringConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./pesaguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "pesaguard",
		},
	}
}

// ProductionConfig returns a multi-node configuration: PostgreSQL,
// two-phase Redis cache, NATS bus.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "pesaguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
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
