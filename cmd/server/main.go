/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the POS ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then environment)
  2. Initialize logging
  3. Open the SQL store (SQLite or PostgreSQL)
  4. Pick the account locker (Redis when REDIS_URL is set)
  5. Pick the event publisher (Kafka when KAFKA_BROKERS is set)
  6. Build the core ledger, the domain ledgers and the engine
  7. Start the low-stock watch
  8. Start the HTTP server with graceful shutdown

ENVIRONMENT:
  PORT, ENV, LOG_LEVEL
  DATABASE_DRIVER   sqlite3 | postgres
  DATABASE_URL      file path, ":memory:" or a postgres DSN
  REDIS_URL         enables cross-process account locks
  KAFKA_BROKERS     comma separated; enables event publishing
  KAFKA_TOPIC
  EVENT_PUBLISH_TIMEOUT per publish call (default 5s)
  ALLOWED_ORIGINS   comma separated CORS origins
  LOYALTY_*, VARIANCE_*, LOW_STOCK_INTERVAL: see config/config.go

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the stock watch and flush pending events
  4. Close database and Redis connections

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/pos-ledger/api"
	"github.com/warp/pos-ledger/cash"
	"github.com/warp/pos-ledger/config"
	"github.com/warp/pos-ledger/inventory"
	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/locker"
	"github.com/warp/pos-ledger/logging"
	"github.com/warp/pos-ledger/loyalty"
	"github.com/warp/pos-ledger/metrics"
	"github.com/warp/pos-ledger/notify"
	"github.com/warp/pos-ledger/reconcile"
	"github.com/warp/pos-ledger/store/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx := context.Background()

	// Store
	if cfg.DatabaseDriver == sqlstore.DriverSQLite && cfg.DatabaseURL != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, sqlstore.WithLogger(logging.Component("store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("store opened")

	// Metrics
	recorder := metrics.New(metrics.DefaultConfig())

	// Events
	var publisher notify.Publisher = notify.LogPublisher{Logger: logging.Component("events")}
	if cfg.UseKafka() {
		publisher = notify.NewKafkaPublisher(notify.DefaultKafkaConfig(cfg.KafkaBrokers, cfg.KafkaTopic), logging.Component("kafka"))
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	}
	dispatcher := notify.NewDispatcher(publisher,
		notify.WithDispatchLogger(logging.Component("dispatcher")),
		notify.WithPublishTimeout(cfg.EventPublishTimeout),
		notify.WithDropFunc(func(_ notify.Event, reason string) { recorder.EventDropped(reason) }),
	)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to flush events")
		}
	}()

	// Ledger
	opts := []ledger.Option{
		ledger.WithLogger(logging.Component("ledger")),
		ledger.WithListener(recorder, dispatcher),
	}
	if cfg.UseRedisLocks() {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		opts = append(opts, ledger.WithLocker(locker.NewRedis(rdb, locker.WithLogger(logging.Component("locker")))))
		logger.Info().Msg("using redis account locks")
	}
	core := ledger.New(store, opts...)

	registers := cash.New(core, cfg.Variance)
	stock := inventory.New(core)
	members := loyalty.New(core, cfg.Loyalty)
	engine := reconcile.NewEngine(core, registers, stock, members,
		reconcile.WithEmitter(dispatcher),
		reconcile.WithObserver(recorder),
		reconcile.WithLogger(logging.Component("reconcile")),
	)

	// Background jobs
	watch := reconcile.NewStockWatch(engine, cfg.LowStockInterval, logging.Component("stockwatch"))
	watch.Start()
	defer watch.Stop()

	// HTTP
	handler := api.NewHandler(core, registers, stock, members, engine)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        recorder.Handler(),
		Logger:         logging.Component("http"),
		Ping:           store.DB().PingContext,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info().Msg("server stopped")
	return nil
}
