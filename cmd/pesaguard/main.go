// PesaGuard is a real-time fraud risk scoring service for mobile-money
// payments.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pesaguard/pesaguard/internal/api"
	"github.com/pesaguard/pesaguard/internal/bus"
	"github.com/pesaguard/pesaguard/internal/cache"
	"github.com/pesaguard/pesaguard/internal/domain"
	"github.com/pesaguard/pesaguard/internal/history"
	"github.com/pesaguard/pesaguard/internal/repository"
	"github.com/pesaguard/pesaguard/internal/scoring"
	"github.com/pesaguard/pesaguard/internal/worker"
)

const banner = `
  ____                 ____                     _
 |  _ \ ___  ___  __ _/ ___|_   _  __ _ _ __ __| |
 | |_) / _ \/ __|/ _` + "`" + ` | |  _| | | |/ _` + "`" + ` | '__/ _` + "`" + ` |
 |  __/  __/\__ \ (_| | |_| | |_| | (_| | | | (_| |
 |_|   \___||___/\__,_|\____|\__,_|\__,_|_|  \__,_|

 mobile-money fraud risk scoring
`

func main() {
	// Missing .env is fine; environment variables win either way.
	_ = godotenv.Load()

	cfg := loadConfig()

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	fmt.Print(banner)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *domain.Config, logger *slog.Logger) error {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	logger.Info("repository ready", "driver", cfg.Repository.Driver)

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer c.Close()
	logger.Info("cache ready", "type", cfg.Cache.Type)

	b, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer b.Close()
	logger.Info("event bus ready", "type", cfg.EventBus.Type)

	engine, err := scoring.NewEngine(cfg.Scoring, scoring.LinearPredictor{})
	if err != nil {
		return fmt.Errorf("failed to initialize scoring engine: %w", err)
	}

	agg := history.NewAggregator(repo, cfg.Scoring)
	svc := scoring.NewService(repo, c, b, agg, engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.ReloadPatterns(ctx); err != nil {
		return fmt.Errorf("failed to load pattern catalog: %w", err)
	}
	if builtin, custom := engine.PatternCount(); builtin+custom == 0 {
		logger.Warn("pattern catalog is empty; every transaction will score zero. Configure patterns via POST /api/v1/patterns")
	}

	async := envBool("PESAGUARD_ASYNC_SCORING", false)
	if async {
		w := worker.New(repo, c, b, svc, logger)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	handler := api.NewHandler(repo, svc, b, logger, async)
	server := api.NewServer(cfg.Server, handler, logger, cfg.Tracing.Enabled)

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadConfig builds the configuration from the deployment tier and
// PESAGUARD_* environment overrides.
func loadConfig() *domain.Config {
	var cfg *domain.Config
	if os.Getenv("PESAGUARD_TIER") == "production" {
		cfg = domain.ProductionConfig()
	} else {
		cfg = domain.DefaultConfig()
	}

	if v := os.Getenv("PESAGUARD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := envInt("PESAGUARD_PORT", 0); v != 0 {
		cfg.Server.Port = v
	}

	if v := os.Getenv("PESAGUARD_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("PESAGUARD_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("PESAGUARD_PG_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := envInt("PESAGUARD_PG_PORT", 0); v != 0 {
		cfg.Repository.PostgresPort = v
	}
	if v := os.Getenv("PESAGUARD_PG_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("PESAGUARD_PG_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("PESAGUARD_PG_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}

	if v := os.Getenv("PESAGUARD_CACHE_TYPE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("PESAGUARD_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("PESAGUARD_REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}

	if v := os.Getenv("PESAGUARD_BUS_TYPE"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := os.Getenv("PESAGUARD_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("PESAGUARD_NATS_TOKEN"); v != "" {
		cfg.EventBus.NATSToken = v
	}

	if v := os.Getenv("PESAGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PESAGUARD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	cfg.Tracing.Enabled = envBool("PESAGUARD_TRACING", cfg.Tracing.Enabled)

	return cfg
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
