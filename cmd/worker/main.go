package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/fulfillment/internal/activity"
	"github.com/edvin/fulfillment/internal/config"
	"github.com/edvin/fulfillment/internal/core"
	"github.com/edvin/fulfillment/internal/db"
	"github.com/edvin/fulfillment/internal/logging"
	"github.com/edvin/fulfillment/internal/metrics"
	"github.com/edvin/fulfillment/internal/model"
	"github.com/edvin/fulfillment/internal/workflow"
	"github.com/edvin/fulfillment/migrations"
)

// The worker hosts the orchestrator behind Temporal: orders arrive through
// FulfillServiceOrderWorkflow and pending workflows are swept on a Temporal
// cron schedule. It owns the dependency graph, so it must not run alongside
// cmd/orchestrator against the same database.
func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *migrateFlag {
		var fsys fs.FS = migrations.FS
		if cfg.MigrationsDir != "" {
			fsys = os.DirFS(cfg.MigrationsDir)
		}
		n, err := db.RunMigrations(ctx, cfg.DatabaseURL, fsys, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Int("applied", n).Msg("database migrations complete")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	var catalog []model.SpecDependency
	if cfg.DependencyCatalog != "" {
		catalog, err = config.LoadDependencyCatalog(cfg.DependencyCatalog)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load dependency catalog")
		}
	}
	orch, trackerDone, err := core.StartPostgresOrchestrator(ctx, pool, core.PostgresOptions{
		Catalog:     catalog,
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start orchestrator")
	}

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	w := worker.New(tc, cfg.TemporalTaskQueue, worker.Options{})

	w.RegisterActivity(activity.NewFulfillment(orch))

	w.RegisterWorkflow(workflow.FulfillServiceOrderWorkflow)
	w.RegisterWorkflow(workflow.SweepPendingWorkflowsWorkflow)
	w.RegisterWorkflow(workflow.RetryFailedOrderWorkflow)

	var ready atomic.Bool
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics.RegisterOrchestratorMetrics(reg)
		metrics.RegisterPgxPoolMetrics(reg, "fulfillment", pool)

		metricsSrv := metrics.NewServer(cfg.MetricsAddr, reg, ready.Load)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", cfg.TemporalTaskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()
	ready.Store(true)

	// Errors for already-existing schedules are ignored so that re-deploys
	// do not fail.
	registerCronSchedules(ctx, tc, cfg, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	ready.Store(false)
	cancel()
	<-trackerDone
}

type cronSchedule struct {
	id       string
	cron     string
	workflow interface{}
}

func registerCronSchedules(ctx context.Context, tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) {
	schedules := []cronSchedule{
		{
			id:       "fulfillment-sweep-cron",
			cron:     cfg.TemporalSweepCron,
			workflow: workflow.SweepPendingWorkflowsWorkflow,
		},
	}

	scheduleClient := tc.ScheduleClient()

	for _, s := range schedules {
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{s.cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				TaskQueue: cfg.TemporalTaskQueue,
			},
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
				logger.Info().Str("id", s.id).Msg("cron schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create cron schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Str("cron", s.cron).Msg("created cron schedule")
		}
	}
}
