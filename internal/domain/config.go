package domain

import "time"

// Config holds the complete creditsight configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Rule engine settings
	Rules     RulesConfig     `json:"rules"`
	Evaluator EvaluatorConfig `json:"evaluator"`
	Report    ReportConfig    `json:"report"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Worker     WorkerConfig     `json:"worker"`

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

// RulesConfig selects where the rule definitions come from.
type RulesConfig struct {
	// Source is "file" (Path, or the embedded set when empty) or "database".
	Source string `json:"source"`
	Path   string `json:"path"`
}

// EvaluatorConfig bounds condition evaluation.
type EvaluatorConfig struct {
	Timeout   time.Duration `json:"timeout"`
	CostLimit uint64        `json:"costLimit"`
	// CacheSize caps the number of compiled conditions kept in memory.
	CacheSize int           `json:"cacheSize"`
}

// ReportConfig holds presentation settings used when rendering insights.
type ReportConfig struct {
	CurrencyPrefix string `json:"currencyPrefix"`
	IncludeRecords bool   `json:"includeRecords"`
}

// WorkerConfig controls the asynchronous submission consumer.
type WorkerConfig struct {
	Enabled     bool     `json:"enabled"`
	Concurrency int      `json:"concurrency"`
	Tenants     []string `json:"tenants"` // empty = global subscription
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

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Rules: RulesConfig{
			Source: "file",
		},
		Evaluator: EvaluatorConfig{
			Timeout:   100 * time.Millisecond,
			CostLimit: 100000,
			CacheSize: 1024,
		},
		Report: ReportConfig{
			CurrencyPrefix: "RM",
			IncludeRecords: true,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./creditsight.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ReportTTL:    time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:     true,
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "creditsight",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "creditsight",
	}
	cfg.Cache = CacheConfig{
		Type:               "redis",
		RedisAddr:          "localhost:6379",
		EnableTwoPhase:     true,
		LocalMaxSize:       1000,
		LocalTTL:           time.Minute,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 30 * time.Second,
		ReportTTL:          24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "creditsight-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}
