/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the clinic engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Build the logger
  3. Open the store (sqlite, postgres or memory)
  4. Resolve the transition table (preset or JSON file)
  5. Wire services, metrics, router and low-stock monitor
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for an in-memory database
  -driver  Store driver: sqlite, postgres or memory (overrides STORE_DRIVER)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the low-stock monitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/clinic.db"

  # Run against PostgreSQL
  DATABASE_URL=postgres://localhost/clinic ./server -driver=postgres

  # Run with strict transitions
  TRANSITION_POLICY=strict ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/api"
	"github.com/warp/clinic-engine/clinic"
	memstore "github.com/warp/clinic-engine/clinic/store"
	"github.com/warp/clinic-engine/config"
	"github.com/warp/clinic-engine/factory"
	"github.com/warp/clinic-engine/logging"
	"github.com/warp/clinic-engine/metrics"
	"github.com/warp/clinic-engine/store/postgres"
	"github.com/warp/clinic-engine/store/sqlite"
)

// backend is a store plus the catalog the demo scenarios seed.
type backend interface {
	clinic.TxStore
	clinic.CatalogStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the environment
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	driver := flag.String("driver", cfg.StoreDriver, "Store driver: sqlite, postgres or memory")
	flag.Parse()
	cfg.Port, cfg.SQLitePath, cfg.StoreDriver = *port, *dbPath, *driver

	logger := logging.New("clinic-engine", cfg.Env, cfg.LogLevel)
	logging.SetGlobal(logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to initialize store")
	}
	defer closeStore()

	transitions, err := loadTransitions(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load transition table")
	}
	loc, _ := cfg.Location()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewClinicMetrics(reg)

	services := clinic.NewServices(store, clinic.Options{
		Transitions:  transitions,
		TaxRate:      decimal.NewNullDecimal(cfg.TaxRate),
		Location:     loc,
		StockRetries: retryOption(cfg.StockRetryLimit),
		Logger:       &logger,
		Observer:     m,
	})

	handler := api.NewHandler(services, store)
	handler.Metrics = m
	handler.Logger = logger

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Gatherer:       reg,
	})

	monitor := api.NewLowStockMonitor(services.Inventory, m, logger)
	monitor.CheckInterval = cfg.LowStockInterval
	monitor.Start()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("driver", cfg.StoreDriver).
			Str("transitions", transitions.Name()).
			Str("tax_rate", cfg.TaxRate.String()).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (backend, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverMemory:
		return memstore.NewTxMemory(), func() {}, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

func loadTransitions(cfg *config.Config) (clinic.TransitionTable, error) {
	f := factory.NewTransitionFactory()
	if cfg.TransitionsFile != "" {
		return f.LoadFile(cfg.TransitionsFile)
	}
	return f.Preset(cfg.TransitionPolicy)
}

// retryOption maps STOCK_RETRY_LIMIT onto clinic.Options, where zero
// selects the default and a negative value disables retries.
func retryOption(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
