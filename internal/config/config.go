// Package config loads the service configuration from defaults, an
// optional config file and CREDITSIGHT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/creditsight/internal/domain"
)

// EnvPrefix is the prefix for environment overrides, e.g. CREDITSIGHT_SERVER_PORT.
const EnvPrefix = "CREDITSIGHT"

// Load reads configuration using the standard search paths.
func Load() (*domain.Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/creditsight")
	return load(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*domain.Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults + env
	}

	// The tier picks the base defaults, so it is resolved first.
	base := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	cfg := decode(v)
	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *domain.Config) {
	// Server defaults
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("tier", string(c.Tier))
	v.SetDefault("debug", false)

	// Rules and evaluation
	v.SetDefault("rules.source", c.Rules.Source)
	v.SetDefault("rules.path", c.Rules.Path)
	v.SetDefault("evaluator.timeout", c.Evaluator.Timeout)
	v.SetDefault("evaluator.cost_limit", c.Evaluator.CostLimit)
	v.SetDefault("evaluator.cache_size", c.Evaluator.CacheSize)
	v.SetDefault("report.currency_prefix", c.Report.CurrencyPrefix)
	v.SetDefault("report.include_records", c.Report.IncludeRecords)

	// Repository defaults
	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres.host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres.port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres.user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres.password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres.db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres.ssl_mode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	// Cache defaults
	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.two_phase", c.Cache.EnableTwoPhase)
	v.SetDefault("cache.breaker_max_failures", c.Cache.BreakerMaxFailures)
	v.SetDefault("cache.breaker_open_timeout", c.Cache.BreakerOpenTimeout)
	v.SetDefault("cache.report_ttl", c.Cache.ReportTTL)

	// Event bus defaults
	v.SetDefault("event_bus.type", c.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)
	v.SetDefault("event_bus.nats_queue_group", c.EventBus.NATSQueueGroup)

	// Worker defaults
	v.SetDefault("worker.enabled", c.Worker.Enabled)
	v.SetDefault("worker.concurrency", c.Worker.Concurrency)
	v.SetDefault("worker.tenants", c.Worker.Tenants)

	// Observability defaults
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
	v.SetDefault("tracing.exporter_type", c.Tracing.ExporterType)
	v.SetDefault("tracing.endpoint", c.Tracing.Endpoint)
}

func decode(v *viper.Viper) *domain.Config {
	return &domain.Config{
		Server: domain.ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetInt("server.read_timeout"),
			WriteTimeout: v.GetInt("server.write_timeout"),
		},
		Tier: domain.Tier(v.GetString("tier")),
		Rules: domain.RulesConfig{
			Source: v.GetString("rules.source"),
			Path:   v.GetString("rules.path"),
		},
		Evaluator: domain.EvaluatorConfig{
			Timeout:   v.GetDuration("evaluator.timeout"),
			CostLimit: v.GetUint64("evaluator.cost_limit"),
			CacheSize: v.GetInt("evaluator.cache_size"),
		},
		Report: domain.ReportConfig{
			CurrencyPrefix: v.GetString("report.currency_prefix"),
			IncludeRecords: v.GetBool("report.include_records"),
		},
		Repository: domain.RepositoryConfig{
			Driver:           v.GetString("repository.driver"),
			SQLitePath:       v.GetString("repository.sqlite_path"),
			PostgresHost:     v.GetString("repository.postgres.host"),
			PostgresPort:     v.GetInt("repository.postgres.port"),
			PostgresUser:     v.GetString("repository.postgres.user"),
			PostgresPassword: v.GetString("repository.postgres.password"),
			PostgresDB:       v.GetString("repository.postgres.db"),
			PostgresSSLMode:  v.GetString("repository.postgres.ssl_mode"),
			MaxOpenConns:     v.GetInt("repository.max_open_conns"),
			MaxIdleConns:     v.GetInt("repository.max_idle_conns"),
			ConnMaxLifetime:  v.GetDuration("repository.conn_max_lifetime"),
		},
		Cache: domain.CacheConfig{
			Type:               v.GetString("cache.type"),
			LocalMaxSize:       v.GetInt("cache.local_max_size"),
			LocalTTL:           v.GetDuration("cache.local_ttl"),
			RedisAddr:          v.GetString("cache.redis_addr"),
			RedisPassword:      v.GetString("cache.redis_password"),
			RedisDB:            v.GetInt("cache.redis_db"),
			EnableTwoPhase:     v.GetBool("cache.two_phase"),
			BreakerMaxFailures: v.GetUint32("cache.breaker_max_failures"),
			BreakerOpenTimeout: v.GetDuration("cache.breaker_open_timeout"),
			ReportTTL:          v.GetDuration("cache.report_ttl"),
		},
		EventBus: domain.EventBusConfig{
			Type:              v.GetString("event_bus.type"),
			ChannelBufferSize: v.GetInt("event_bus.channel_buffer_size"),
			NATSUrl:           v.GetString("event_bus.nats_url"),
			NATSToken:         v.GetString("event_bus.nats_token"),
			NATSMaxReconnects: v.GetInt("event_bus.nats_max_reconnects"),
			NATSReconnectWait: v.GetInt("event_bus.nats_reconnect_wait"),
			NATSQueueGroup:    v.GetString("event_bus.nats_queue_group"),
		},
		Worker: domain.WorkerConfig{
			Enabled:     v.GetBool("worker.enabled"),
			Concurrency: v.GetInt("worker.concurrency"),
			Tenants:     tenants(v.GetStringSlice("worker.tenants")),
		},
		Logging: domain.LoggingConfig{
			Level:  strings.ToLower(v.GetString("logging.level")),
			Format: strings.ToLower(v.GetString("logging.format")),
		},
		Tracing: domain.TracingConfig{
			Enabled:      v.GetBool("tracing.enabled"),
			ServiceName:  v.GetString("tracing.service_name"),
			ExporterType: v.GetString("tracing.exporter_type"),
			Endpoint:     v.GetString("tracing.endpoint"),
		},
	}
}

// tenants accepts both a YAML list and a comma-separated env value.
func tenants(in []string) []string {
	var out []string
	for _, item := range in {
		for _, t := range strings.Split(item, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// Validate rejects settings the service cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		return fmt.Errorf("unsupported tier: %q", cfg.Tier)
	}
	switch cfg.Rules.Source {
	case "file", "database":
	default:
		return fmt.Errorf("unsupported rules source: %q", cfg.Rules.Source)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Evaluator.Timeout < 0 {
		return fmt.Errorf("evaluator timeout must not be negative")
	}
	if cfg.Worker.Concurrency < 0 {
		return fmt.Errorf("worker concurrency must not be negative")
	}
	return nil
}
