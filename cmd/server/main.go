/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the collection engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, YAML file, environment)
  2. Build the logger
  3. Open the SQLite store (migrations run on open)
  4. Connect event publishers (Redis, AMQP), if configured
  5. Wire lending service, loan factory, summary engine
  6. Start the summary scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -config  YAML config path (default: $CONFIG_PATH, else none)
  -addr    Overrides server.addr
  -db      Overrides database.path; ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the summary scheduler
  2. Stop accepting new connections, wait for active requests
  3. Wait for in-flight summary broadcasts
  4. Close publishers and the database

EXAMPLES:
  # Local run with defaults
  ./server

  # Production-like
  CONFIG_PATH=/etc/collections/config.yaml ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/smartmoney/collection-engine/api"
	"github.com/smartmoney/collection-engine/collection"
	"github.com/smartmoney/collection-engine/config"
	"github.com/smartmoney/collection-engine/factory"
	"github.com/smartmoney/collection-engine/lending"
	"github.com/smartmoney/collection-engine/logging"
	"github.com/smartmoney/collection-engine/notify"
	"github.com/smartmoney/collection-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML config path")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stdout})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	appLog := logging.WithComponent(logger, logging.ComponentApp)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return err
	}
	threshold, err := cfg.TerminationThreshold()
	if err != nil {
		return err
	}

	// Initialize store
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	publisher, closers, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				appLog.Warn("close publisher", logging.Err(err))
			}
		}
	}()

	// Services
	lend := lending.NewService(store, publisher, logging.WithComponent(logger, logging.ComponentLending))
	lend.TerminationThreshold = threshold
	lend.Calendar, lend.Location = cal, loc

	engine := collection.NewOrchestrator(cal, loc, publisher, logging.WithComponent(logger, logging.ComponentCollection))
	if cfg.Collection.PublishTimeout > 0 {
		engine.PublishTimeout = cfg.Collection.PublishTimeout
	}
	coll := collection.NewService(store, engine)
	loans := factory.NewLoanFactory(cal, loc)

	handler := api.NewHandler(store, lend, coll, loans, logger)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	scheduler := api.NewSummaryScheduler(coll, scopes(cfg.Scheduler.Scopes), cfg.Scheduler.Interval, logger)
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		appLog.Info("server starting", "addr", cfg.Server.Addr, "timezone", loc.String(), "db", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		if err != nil {
			scheduler.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	appLog.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server forced to shutdown", logging.Err(err))
	}
	engine.Wait()

	appLog.Info("server stopped")
	return nil
}

// buildPublisher connects every configured transport. With none configured
// events are only logged.
func buildPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Publisher, []io.Closer, error) {
	log := logging.WithComponent(logger, logging.ComponentNotify)
	var (
		pubs    notify.Multi
		closers []io.Closer
	)

	if cfg.Redis.Addr != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rp, err := notify.NewRedisPublisher(connectCtx, notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, nil)
		if err != nil {
			return nil, closers, fmt.Errorf("connect redis: %w", err)
		}
		pubs = append(pubs, rp)
		closers = append(closers, rp)
		log.Info("redis publisher ready", "addr", cfg.Redis.Addr)
	}

	if cfg.AMQP.URL != "" {
		ap, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, fmt.Errorf("connect amqp: %w", err)
		}
		pubs = append(pubs, ap)
		closers = append(closers, ap)
		log.Info("amqp publisher ready", "exchange", cfg.AMQP.Exchange)
	}

	var next notify.Publisher = pubs
	if len(pubs) == 0 {
		next = notify.Nop{}
	}
	return notify.Logging{Next: next, Logger: log}, closers, nil
}

func scopes(raw [][]string) []lending.Scope {
	out := make([]lending.Scope, 0, len(raw))
	for _, ops := range raw {
		var scope lending.Scope
		for _, op := range ops {
			scope = append(scope, lending.OperatorID(op))
		}
		out = append(out, scope)
	}
	return out
}
