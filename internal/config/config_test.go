package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/creditsight/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	def := domain.DefaultConfig()
	assert.Equal(t, def.Tier, cfg.Tier)
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, 100*time.Millisecond, cfg.Evaluator.Timeout)
	assert.Equal(t, 1024, cfg.Evaluator.CacheSize)
	assert.Equal(t, "RM", cfg.Report.CurrencyPrefix)
	assert.Equal(t, "file", cfg.Rules.Source)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
rules:
  path: /etc/creditsight/rules.yaml
evaluator:
  timeout: 250ms
report:
  currency_prefix: SGD
cache:
  report_ttl: 2h
worker:
  concurrency: 8
  tenants: [alpha, beta]
logging:
  format: TEXT
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/etc/creditsight/rules.yaml", cfg.Rules.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Evaluator.Timeout)
	assert.Equal(t, "SGD", cfg.Report.CurrencyPrefix)
	assert.Equal(t, 2*time.Hour, cfg.Cache.ReportTTL)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Worker.Tenants)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30, cfg.Server.ReadTimeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CREDITSIGHT_SERVER_PORT", "7070")
	t.Setenv("CREDITSIGHT_DEBUG", "true")
	t.Setenv("CREDITSIGHT_WORKER_TENANTS", "t1,t2")
	t.Setenv("CREDITSIGHT_REPORT_INCLUDE_RECORDS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"t1", "t2"}, cfg.Worker.Tenants)
	assert.False(t, cfg.Report.IncludeRecords)
}

func TestProTierDefaults(t *testing.T) {
	t.Setenv("CREDITSIGHT_TIER", "pro")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, uint32(5), cfg.Cache.BreakerMaxFailures)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.Equal(t, "creditsight-workers", cfg.EventBus.NATSQueueGroup)
}

func TestLoadErrors(t *testing.T) {
	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("MalformedFile", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, "server: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("UnknownTier", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, "tier: enterprise\n"))
		assert.ErrorContains(t, err, "unsupported tier")
	})

	t.Run("UnknownRulesSource", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, "rules:\n  source: s3\n"))
		assert.ErrorContains(t, err, "unsupported rules source")
	})

	t.Run("BadPort", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, "server:\n  port: 70000\n"))
		assert.ErrorContains(t, err, "invalid server port")
	})
}
