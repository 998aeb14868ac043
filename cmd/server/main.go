/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the pricing and billing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize the zap logger
  3. Load the catalog (YAML/JSON file or built-in presets)
  4. Initialize SQLite store
  5. Wire calculator, planner, orchestrator and payment ledger
  6. Configure HTTP router and the due-payment scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -db            SQLite database path (default: billing.db)
                 Use ":memory:" for in-memory database
  -catalog       Catalog file (.yaml, .yml or .json); empty uses presets
  -log-level     debug, info, warn or error (default: info)
  -log-json      JSON log output
  -due-schedule  Cron spec for the due-payment run; "off" disables it

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the due-payment scheduler (waits for a running batch)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection and flush logs

EXAMPLES:
  # Run with file database and a custom catalog
  ./server -db="./data/billing.db" -catalog="./catalog.yaml"

  # Run with in-memory database, debug logs, no scheduler
  ./server -db=":memory:" -log-level=debug -due-schedule=off

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Due-payment scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/huntred/billing-engine/api"
	"github.com/huntred/billing-engine/billing"
	"github.com/huntred/billing-engine/catalog"
	"github.com/huntred/billing-engine/factory"
	"github.com/huntred/billing-engine/logger"
	"github.com/huntred/billing-engine/payments"
	"github.com/huntred/billing-engine/pricing"
	"github.com/huntred/billing-engine/proposal"
	"github.com/huntred/billing-engine/store/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "billing.db", "SQLite database path")
	catalogPath := flag.String("catalog", "", "Catalog file (.yaml or .json); empty uses built-in presets")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "Emit JSON logs")
	dueSchedule := flag.String("due-schedule", api.DefaultDueSchedule, `Cron spec for due-payment runs ("off" disables)`)
	flag.Parse()

	log, err := logger.Init(logger.Config{Level: *logLevel, JSON: *logJSON})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(log, *port, *dbPath, *catalogPath, *dueSchedule); err != nil {
		log.Error("server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(log *zap.Logger, port int, dbPath, catalogPath, dueSchedule string) error {
	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	log.Info("catalog loaded",
		zap.String("source", catalogSource(catalogPath)),
		zap.Int("business_units", len(cat.BusinessUnits)),
		zap.Int("bundles", len(cat.Bundles)),
	)

	// Initialize store
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Domain components
	calc := pricing.NewCalculator(cat, nil)
	planner := billing.NewPlanner(cat, store, nil, log)
	addons, err := proposal.NewAddonRegistry(proposal.DefaultAddons(calc)...)
	if err != nil {
		return fmt.Errorf("failed to register addons: %w", err)
	}
	orchestrator := proposal.NewOrchestrator(proposal.Config{
		Calculator:    calc,
		Planner:       planner,
		Addons:        addons,
		Loyalty:       proposal.HistoryLoyalty{Store: store, Steps: proposal.DefaultLoyaltySteps},
		Strategy:      proposal.NoStrategy{},
		Opportunities: store,
		Logger:        log,
	})
	ledger := payments.NewLedger(store, payments.LogNotifier{Log: log.Named("notify")}, nil, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := api.NewMetrics(registry)

	handler := api.NewHandler(api.Services{
		Calculator:   calc,
		Planner:      planner,
		Orchestrator: orchestrator,
		Ledger:       ledger,
		Metrics:      metrics,
		Logger:       log,
		Database:     store,
	})
	router := api.NewRouter(handler)

	// Due-payment scheduler
	var scheduler *api.DueScheduler
	if dueSchedule != "off" {
		scheduler, err = api.NewDueScheduler(ledger, api.SchedulerConfig{Spec: dueSchedule}, metrics, log)
		if err != nil {
			return fmt.Errorf("invalid -due-schedule %q: %w", dueSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("db", dbPath),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		cat := catalog.Default()
		if err := cat.Validate(); err != nil {
			return nil, err
		}
		return cat, nil
	}
	return factory.LoadCatalogFile(path)
}

func catalogSource(path string) string {
	if path == "" {
		return "presets"
	}
	return path
}
