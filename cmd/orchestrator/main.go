package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/edvin/fulfillment/internal/config"
	"github.com/edvin/fulfillment/internal/core"
	"github.com/edvin/fulfillment/internal/db"
	"github.com/edvin/fulfillment/internal/logging"
	"github.com/edvin/fulfillment/internal/metrics"
	"github.com/edvin/fulfillment/internal/model"
	"github.com/edvin/fulfillment/migrations"
)

// The orchestrator daemon owns the dependency graph and sweeps pending
// workflows on SWEEP_INTERVAL. Run a single instance per database: the graph
// is flushed whole, so concurrent instances overwrite each other's state.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("orchestrator"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := migrate(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	var ready atomic.Bool
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterOrchestratorMetrics(reg)
	metrics.RegisterPgxPoolMetrics(reg, "fulfillment", pool)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, reg, ready.Load)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load dependency catalog")
	}
	orch, trackerDone, err := core.StartPostgresOrchestrator(ctx, pool, core.PostgresOptions{
		Catalog:     catalog,
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start orchestrator")
	}

	sweeper, err := core.NewSweeper(cfg.SweepInterval, orch, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create sweeper")
	}
	sweeper.Start(ctx)
	ready.Store(true)
	logger.Info().
		Dur("interval", cfg.SweepInterval).
		Time("next_sweep", sweeper.NextRun()).
		Msg("orchestrator started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down orchestrator")
	ready.Store(false)
	cancel()
	<-sweeper.Done()
	<-trackerDone

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
}

func migrate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	var fsys fs.FS = migrations.FS
	if cfg.MigrationsDir != "" {
		fsys = os.DirFS(cfg.MigrationsDir)
	}
	n, err := db.RunMigrations(ctx, cfg.DatabaseURL, fsys, logger)
	if err != nil {
		return err
	}
	logger.Info().Int("applied", n).Msg("database migrations complete")
	return nil
}

// loadCatalog reads DEPENDENCY_CATALOG when it is set.
func loadCatalog(cfg *config.Config) ([]model.SpecDependency, error) {
	if cfg.DependencyCatalog == "" {
		return nil, nil
	}
	return config.LoadDependencyCatalog(cfg.DependencyCatalog)
}
