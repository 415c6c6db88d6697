package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/edvin/fulfillment/internal/dependency"
	"github.com/edvin/fulfillment/internal/model"
)

// PostgresOptions configures StartPostgresOrchestrator.
type PostgresOptions struct {
	// Catalog is upserted into service_dependencies before the graph is
	// loaded. Nil skips seeding.
	Catalog     []model.SpecDependency
	BatchSize   int
	Concurrency int
}

// StartPostgresOrchestrator wires an Orchestrator over the pgx-backed stores,
// starts the goroutine owning the dependency graph and loads the persisted
// graph. The returned channel is closed once that goroutine has exited after
// ctx is cancelled.
func StartPostgresOrchestrator(ctx context.Context, db TxDB, opts PostgresOptions, logger zerolog.Logger) (*Orchestrator, <-chan struct{}, error) {
	specDeps := NewSpecDependencyService(db)

	if opts.Catalog != nil {
		n, err := specDeps.SeedCatalog(ctx, opts.Catalog)
		if err != nil {
			return nil, nil, dbError("seed dependency catalog", err)
		}
		logger.Info().Int("dependencies", n).Msg("seeded dependency catalog")
	}

	tracker := dependency.NewTracker(dependency.NewGraph(), specDeps, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.Run(ctx)
	}()

	orch := NewOrchestrator(OrchestratorParams{
		Contexts:     NewWorkflowContextService(db),
		OrderItems:   NewOrderItemService(db),
		Dependencies: specDeps,
		Tracker:      tracker,
		Activations:  NewActivationRecordService(db),
		Inventory:    NewInventoryRecordService(db),
		BatchSize:    opts.BatchSize,
		Concurrency:  opts.Concurrency,
	}, logger)

	if err := orch.Initialize(ctx); err != nil {
		return nil, done, err
	}
	return orch, done, nil
}
