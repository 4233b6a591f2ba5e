package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/workbridge/escrow/internal/config"
	"github.com/workbridge/escrow/internal/infra"
	"github.com/workbridge/escrow/internal/logging"
	"github.com/workbridge/escrow/internal/notification"
	"github.com/workbridge/escrow/internal/routes"
	"github.com/workbridge/escrow/internal/server"
	"github.com/workbridge/escrow/internal/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel).With("app", cfg.AppName, "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("escrow api stopped", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

// run owns every backend connection, so returning closes them in reverse order.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := store.ConnectAndMigrate(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		db = pool
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer closeWith(logger, "redis", client.Close)
		cache = client
	}

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeWith(logger, "notifier", closeNotifier)

	srv, err := server.New(routes.Deps{Cfg: cfg, DB: db, Cache: cache, Notifier: notifier, Logger: logger})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	listenErr := make(chan error, 1)
	go func() { listenErr <- srv.Listen() }()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newNotifier publishes to Kafka when brokers are configured and logs otherwise.
func newNotifier(cfg config.Config, logger *slog.Logger) (notification.Notifier, func() error, error) {
	if cfg.KafkaBrokers == "" {
		return notification.NewLoggerNotifier(logger), func() error { return nil }, nil
	}
	writer, err := infra.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, nil, fmt.Errorf("configure kafka: %w", err)
	}
	n := notification.NewKafkaNotifier(writer, logger)
	return n, n.Close, nil
}

func closeWith(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("close "+name, "error", err)
	}
}
