// Kestrel - Post-transaction fraud risk scoring for deposit accounts.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openrisk/kestrel/internal/api"
	"github.com/openrisk/kestrel/internal/bus"
	"github.com/openrisk/kestrel/internal/cache"
	"github.com/openrisk/kestrel/internal/chain"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/pipeline"
	"github.com/openrisk/kestrel/internal/repository"
	"github.com/openrisk/kestrel/internal/rules"
	"github.com/openrisk/kestrel/internal/signal"
	"github.com/openrisk/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// .env is optional; real deployments set environment directly.
	_ = godotenv.Load()

	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := loadConfig()
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	ruleSet, err := loadRuleSet(ctx, repo)
	if err != nil {
		slog.Error("failed to load rule set", "error", err)
		os.Exit(1)
	}
	slog.Info("rule set loaded",
		"version", ruleSet.Version,
		"rules", len(ruleSet.Rules),
		"total_weight", ruleSet.TotalWeight(),
	)

	aggregator := signal.NewAggregator(repo, cacheImpl, cfg.Aggregator)
	analyzer := chain.NewAnalyzer(repo, cfg.Chain, cfg.Aggregator.MaxRetries, logger)

	pipe, err := pipeline.New(aggregator, analyzer, ruleSet, nil, repo, busImpl, cfg.Aggregator.MaxRetries, logger)
	if err != nil {
		slog.Error("failed to build evaluation pipeline", "error", err)
		os.Exit(1)
	}

	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, pipe, cacheImpl, logger)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	handler := api.NewHandler(pipe, repo, cacheImpl, busImpl, logger, Version)
	srv := api.NewServer(handler, logger)

	go func() {
		if err := srv.Start(cfg.Server.Host, cfg.Server.Port, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	<-ctx.Done()
	slog.Info("shutting down...")

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

	slog.Info("kestrel shutdown complete")
}

// loadConfig builds the runtime configuration from tier defaults plus
// environment overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
	}

	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_DB_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	return cfg
}

// loadRuleSet returns the active rule set from the database, seeding the
// defaults on first boot so the service always starts with a usable catalog.
func loadRuleSet(ctx context.Context, repo domain.Repository) (*domain.RuleSet, error) {
	rs, err := repo.GetActiveRuleSet(ctx)
	if err == nil {
		return rs, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	rs = rules.DefaultRuleSet()
	slog.Info("no active rule set, seeding defaults", "version", rs.Version)
	if err := repo.SaveRuleSet(ctx, rs); err != nil {
		return nil, err
	}
	return rs, nil
}
