/*
main.go - Application entry point

PURPOSE:
  Starts the attendance and payroll closing server. Handles
  configuration, dependency injection, the closing scheduler and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load config from the environment, then apply command-line flags
  2. Configure slog and OpenTelemetry tracing
  3. Open the store (sqlite, postgres or memory)
  4. Build sequencer, ledgers and closing engine
  5. Start the closing scheduler
  6. Serve the router wrapped in otelhttp

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides APP_PORT)
  -driver  Store driver: sqlite, postgres, memory (overrides STORE_DRIVER)
  -db      SQLite path or PostgreSQL URL, depending on -driver

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running check)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Flush traces and close the store

EXAMPLES:
  ./server -db="./data/attendance.db"
  ./server -driver=memory -port=3000
  STORE_DRIVER=postgres DATABASE_URL=postgres://... ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
*/
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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/closing"
	"github.com/warp/attendance-engine/config"
	"github.com/warp/attendance-engine/store/memory"
	"github.com/warp/attendance-engine/store/postgres"
	"github.com/warp/attendance-engine/store/sqlite"
	"github.com/warp/attendance-engine/telemetry"
	"github.com/warp/attendance-engine/timeclock"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	driver := flag.String("driver", cfg.StoreDriver, "Store driver: sqlite, postgres or memory")
	db := flag.String("db", "", "SQLite path or PostgreSQL URL (defaults from environment)")
	flag.Parse()

	cfg.Port = *port
	cfg.StoreDriver = *driver
	if *db != "" {
		if cfg.StoreDriver == config.DriverPostgres {
			cfg.DatabaseURL = *db
		} else {
			cfg.SQLitePath = *db
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	shutdownTracing := telemetry.Setup(ctx, cfg.ServiceName, logger)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "err", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()

	loc := cfg.Location()
	clock := timeclock.SystemClock{}

	seq := timeclock.NewSequencer(store,
		timeclock.WithClock(clock),
		timeclock.WithLocation(loc),
		timeclock.WithAttemptLog(store),
		timeclock.WithLogger(logger.With("component", "sequencer")),
	)
	engine := closing.NewEngine(closing.Deps{
		Roster:     store,
		Punches:    store,
		Exceptions: store,
		Payments:   store,
		Closings:   store,
	},
		closing.WithClock(clock),
		closing.WithLocation(loc),
		closing.WithConcurrency(cfg.ClosingWorkers),
		closing.WithLogger(logger.With("component", "closing")),
	)

	scheduler := closing.NewScheduler(engine, store)
	scheduler.Clock = clock
	scheduler.Location = loc
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Logger = logger.With("component", "scheduler")
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(store, seq, engine, clock, logger)
	handler.Scheduler = scheduler

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORSOrigins,
		Timeout:        cfg.RequestTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      otelhttp.NewHandler(router, "attendance-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", server.Addr, "driver", cfg.StoreDriver, "timezone", loc.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-quit:
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore returns the configured store and its close func.
func openStore(ctx context.Context, cfg config.Config) (api.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns))
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case config.DriverMemory:
		return memory.New(), func() {}, nil
	default:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
}
