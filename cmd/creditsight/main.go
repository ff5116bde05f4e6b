// CreditSight - Credit bureau insights from declarative rules.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/creditsight/internal/analysis"
	"github.com/opensource-finance/creditsight/internal/api"
	"github.com/opensource-finance/creditsight/internal/bus"
	"github.com/opensource-finance/creditsight/internal/cache"
	"github.com/opensource-finance/creditsight/internal/condition"
	"github.com/opensource-finance/creditsight/internal/config"
	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/metrics"
	"github.com/opensource-finance/creditsight/internal/normalize"
	"github.com/opensource-finance/creditsight/internal/repository"
	"github.com/opensource-finance/creditsight/internal/rules"
	"github.com/opensource-finance/creditsight/internal/schema"
	"github.com/opensource-finance/creditsight/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./configs/config.yaml or /etc/creditsight/config.yaml)")
	flag.Parse()

	// Load configuration
	var (
		cfg *domain.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(newLogger(cfg.Logging))

	// Log startup
	slog.Info("starting creditsight",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rules_source", cfg.Rules.Source,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Metrics
	m := metrics.New()

	// Initialize Condition Evaluator
	s := schema.Default()
	evaluator, err := condition.New(s, cfg.Evaluator)
	if err != nil {
		slog.Error("failed to initialize condition evaluator", "error", err)
		os.Exit(1)
	}
	evaluator.SetObserver(m.EvaluationObserver())

	// Load rules; a broken rule set is fatal
	ruleSet, err := loadRules(ctx, cfg.Rules, repo)
	if err != nil {
		var cerr *domain.ConfigurationError
		if errors.As(err, &cerr) {
			slog.Error("invalid rule set", "source", cerr.Source, "error", cerr.Err)
		} else {
			slog.Error("failed to load rules", "error", err)
		}
		os.Exit(1)
	}

	// Initialize Rule Engine
	engine, err := rules.NewEngine(s, evaluator, ruleSet, rules.Options{
		CurrencyPrefix: cfg.Report.CurrencyPrefix,
		IncludeRecords: cfg.Report.IncludeRecords,
		Observer:       m,
	})
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Analysis Service
	svc := analysis.NewService(engine, normalize.New(s), repo, cacheImpl, busImpl, analysis.Config{
		ReportTTL: cfg.Cache.ReportTTL,
		Observer:  m,
	})

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)

		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.Tenants,
			Concurrency: cfg.Worker.Concurrency,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(workerCfg.TenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, busImpl, m.Handler(), Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("creditsight is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("creditsight shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadRules resolves the startup rule set. The database source seeds the
// embedded rules on first start so POST /rules/reload has something to load.
func loadRules(ctx context.Context, cfg domain.RulesConfig, repo domain.Repository) ([]domain.Rule, error) {
	if cfg.Source == "database" {
		set, err := repo.GetLatestRuleSet(ctx, domain.GlobalTenantID)
		if err == nil {
			slog.Info("loading rules from database", "count", len(set.Rules), "version", set.Version)
			return set.Rules, rules.Validate(set.Rules)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}

		builtin, err := rules.BuiltinRules()
		if err != nil {
			return nil, err
		}
		seed := &domain.RuleSet{
			ID:        uuid.New().String(),
			TenantID:  domain.GlobalTenantID,
			Version:   "builtin",
			Rules:     builtin,
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.SaveRuleSet(ctx, domain.GlobalTenantID, seed); err != nil {
			slog.Warn("failed to seed rule set", "error", err)
		}
		slog.Info("no rules in database - seeded embedded defaults", "count", len(builtin))
		return builtin, nil
	}

	if cfg.Path != "" {
		slog.Info("loading rules from file", "path", cfg.Path)
		return rules.LoadFile(cfg.Path)
	}

	slog.Info("loading embedded default rules")
	return rules.BuiltinRules()
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               CREDITSIGHT                 ║")
	fmt.Println("  ║      Credit Bureau Insight Engine         ║")
	fmt.Println("  ║        Every record, every rule.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze           - Analyze a normalized report")
	fmt.Println("    POST /submit            - Queue a report for async analysis")
	fmt.Println("    GET  /reports           - List stored reports")
	fmt.Println("    GET  /reports/{id}      - Get report by ID")
	fmt.Println("    GET  /rules             - List loaded rules")
	fmt.Println("    GET  /rules/{id}        - Get rule by ID")
	fmt.Println("    PUT  /rules             - Replace the rule set")
	fmt.Println("    POST /rules/reload      - Hot-reload rules from database")
	fmt.Println("    POST /conditions/test   - Explain a condition")
	fmt.Println("    GET  /stats             - Evaluator statistics")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println()
}
