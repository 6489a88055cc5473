// Command relayqd runs a relayq worker node with the admin HTTP API.
//
// Handlers are registered in code; relayqd on its own processes no
// queues, but serves as the reference wiring for embedding relayq in a
// service. Configuration comes from RELAYQ_* environment variables, see
// config.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/api"
	"github.com/IT-For-Youth-Ghana/relayq/engine"
	"github.com/IT-For-Youth-Ghana/relayq/observability"
	"github.com/IT-For-Youth-Ghana/relayq/store"
	"github.com/IT-For-Youth-Ghana/relayq/store/memory"
	"github.com/IT-For-Youth-Ghana/relayq/store/postgres"
	"github.com/IT-For-Youth-Ghana/relayq/store/redis"
	"github.com/IT-For-Youth-Ghana/relayq/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relayqd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	broker, err := relayq.New(
		relayq.WithStore(st),
		relayq.WithLogger(logger),
		relayq.WithConfig(relayq.Config{
			Queues:               cfg.Queues,
			DefaultConcurrency:   cfg.Concurrency,
			PollInterval:         cfg.PollInterval,
			PromoteInterval:      cfg.PromoteInterval,
			ShutdownTimeout:      cfg.ShutdownTimeout,
			StaleActiveThreshold: cfg.StaleThreshold,
			DefaultMaxAttempts:   cfg.MaxAttempts,
		}),
	)
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}

	eng, err := engine.Build(broker,
		engine.WithThresholds(observability.Thresholds{
			MaxFailed:  cfg.HealthMaxFailed,
			MaxWaiting: cfg.HealthMaxWaiting,
		}),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.New(eng.Admin(), logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting worker pool",
			"store", cfg.Store,
			"queues", strings.Join(cfg.Queues, ","),
			"concurrency", cfg.Concurrency,
		)
		return eng.Start(gctx)
	})

	g.Go(func() error {
		logger.Info("admin API listening", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin API: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "grace", cfg.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin API shutdown", "error", err)
		}
		return eng.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, errors.New("RELAYQ_POSTGRES_DSN is required for the postgres store")
		}
		return postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
	case "sqlite":
		return sqlite.New(cfg.SQLitePath, sqlite.WithLogger(logger))
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		return redis.New(client, redis.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
