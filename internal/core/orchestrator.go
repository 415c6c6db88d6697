package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/fulfillment/internal/fulfillment"
	"github.com/edvin/fulfillment/internal/metrics"
	"github.com/edvin/fulfillment/internal/model"
)

const (
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

// ContextStore persists workflow contexts. *WorkflowContextService satisfies
// it.
type ContextStore interface {
	SaveContext(ctx context.Context, wf *model.ServiceWorkflowContext) error
	LoadContext(ctx context.Context, orderID uuid.UUID) (*model.ServiceWorkflowContext, error)
	ListPending(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// OrderItemLoader returns the persisted items of an order.
type OrderItemLoader interface {
	LoadOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItemRef, error)
}

// DependencyLoader returns the declared dependencies of a specification.
type DependencyLoader interface {
	LoadSpecDependencies(ctx context.Context, specID uuid.UUID) ([]model.SpecDependency, error)
}

// OrchestratorParams wires the collaborators of an Orchestrator.
type OrchestratorParams struct {
	Contexts     ContextStore
	OrderItems   OrderItemLoader
	Dependencies DependencyLoader
	Tracker      GraphTracker
	Activations  ActivationRecorder
	Inventory    InventoryRecorder
	// BatchSize bounds how many contexts one sweep picks up.
	BatchSize int
	// Concurrency bounds how many orders one sweep processes at once.
	Concurrency int
}

// Orchestrator drives service order workflows from acceptance to completion.
// ProcessWorkflow is safe to call concurrently: calls for the same order are
// serialized and calls for different orders run in parallel.
type Orchestrator struct {
	contexts    ContextStore
	orderItems  OrderItemLoader
	deps        DependencyLoader
	tracker     GraphTracker
	driver      *ActivationDriver
	validate    *validator.Validate
	logger      zerolog.Logger
	batchSize   int
	concurrency int
	locks       orderLocks
}

func NewOrchestrator(p OrchestratorParams, logger zerolog.Logger) *Orchestrator {
	if p.BatchSize <= 0 {
		p.BatchSize = defaultBatchSize
	}
	if p.Concurrency <= 0 {
		p.Concurrency = defaultConcurrency
	}
	return &Orchestrator{
		contexts:    p.Contexts,
		orderItems:  p.OrderItems,
		deps:        p.Dependencies,
		tracker:     p.Tracker,
		driver:      NewActivationDriver(p.Tracker, p.Activations, p.Inventory, p.Contexts, logger),
		validate:    validator.New(),
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		batchSize:   p.BatchSize,
		concurrency: p.Concurrency,
		locks:       orderLocks{held: make(map[uuid.UUID]*orderLock)},
	}
}

// Initialize rehydrates the dependency graph from its store.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.tracker.Load(ctx); err != nil {
		return dbError("load dependency graph", err)
	}
	return nil
}

// Orchestrate accepts an order: it registers the dependencies of every
// specification the order references, persists a fresh workflow context and
// runs the first tick. Re-submitting an order that already has a context
// only runs a tick.
func (o *Orchestrator) Orchestrate(ctx context.Context, order *model.ServiceOrder) (uuid.UUID, error) {
	if order == nil || order.ID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: missing order id", ErrInvalidOrder)
	}
	if err := o.validate.Struct(order); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	_, err := o.contexts.LoadContext(ctx, order.ID)
	switch {
	case err == nil:
		o.logger.Info().Str("order_id", order.ID.String()).Msg("order already accepted, processing existing workflow")
		return order.ID, o.ProcessWorkflow(ctx, order.ID)
	case !errors.Is(err, ErrContextNotFound):
		return uuid.Nil, dbError("load workflow context", err)
	}

	var items []model.OrderItemRef
	if order.Items != nil {
		items = order.ItemRefs()
	} else {
		items, err = o.orderItems.LoadOrderItems(ctx, order.ID)
		if err != nil {
			return uuid.Nil, dbError("load order items", err)
		}
	}
	items = uniqueItems(items)

	deps := make(map[uuid.UUID][]model.SpecDependency, len(items))
	for _, item := range items {
		specDeps, err := o.deps.LoadSpecDependencies(ctx, item.SpecID)
		if err != nil {
			return uuid.Nil, dbError("load specification dependencies", err)
		}
		deps[item.SpecID] = specDeps
	}
	if err := o.tracker.AddSpecs(ctx, deps); err != nil {
		return uuid.Nil, dbError("save dependency graph", err)
	}

	wf := fulfillment.CreateWorkflow(order.ID, items)
	if err := o.contexts.SaveContext(ctx, wf); err != nil {
		return uuid.Nil, dbError("save workflow context", err)
	}
	o.logger.Info().
		Str("order_id", order.ID.String()).
		Int("specifications", len(items)).
		Msg("service order accepted")

	if err := o.ProcessWorkflow(ctx, order.ID); err != nil {
		return order.ID, err
	}
	return order.ID, nil
}

// ProcessWorkflow runs one tick of the order's workflow: it advances and
// dispatches ready tasks in template order until nothing more completes,
// then persists the context. Failures of the side effects are recorded on
// the context and not returned; only store errors and ErrContextNotFound
// are. Terminal workflows are left untouched.
func (o *Orchestrator) ProcessWorkflow(ctx context.Context, orderID uuid.UUID) error {
	unlock := o.locks.lock(orderID)
	defer unlock()

	wf, err := o.load(ctx, orderID)
	if err != nil {
		metrics.WorkflowTicks.WithLabelValues("error").Inc()
		return err
	}
	if wf.State.IsTerminal() {
		metrics.WorkflowTicks.WithLabelValues("noop").Inc()
		return nil
	}

	for {
		if err := fulfillment.AdvanceWorkflow(wf); err != nil {
			metrics.WorkflowTicks.WithLabelValues("error").Inc()
			return fmt.Errorf("advance workflow %s: %w", orderID, err)
		}
		progressed, err := o.dispatch(ctx, wf)
		if err != nil {
			metrics.WorkflowTicks.WithLabelValues("error").Inc()
			return err
		}
		if !progressed || wf.State.IsTerminal() {
			break
		}
	}

	wf.UpdatedAt = time.Now().UTC()
	if err := o.contexts.SaveContext(ctx, wf); err != nil {
		metrics.WorkflowTicks.WithLabelValues("error").Inc()
		return dbError("save workflow context", err)
	}

	metrics.WorkflowTicks.WithLabelValues("ok").Inc()
	if wf.State.IsTerminal() {
		metrics.WorkflowsFinished.WithLabelValues(string(wf.State)).Inc()
		event := o.logger.Info()
		if wf.Error != nil {
			event = o.logger.Warn().Str("error", *wf.Error)
		}
		event.Str("order_id", orderID.String()).Str("state", string(wf.State)).Msg("workflow finished")
	}
	return nil
}

// dispatch runs the side effect of every ready task and reports whether any
// task completed.
func (o *Orchestrator) dispatch(ctx context.Context, wf *model.ServiceWorkflowContext) (bool, error) {
	ready, err := fulfillment.ReadyTasks(wf)
	if err != nil {
		return false, fmt.Errorf("dispatch workflow %s: %w", wf.OrderID, err)
	}

	progressed := false
	for _, id := range ready {
		task := wf.Task(id)
		var done bool
		switch task.Type {
		case model.TaskValidateOrder, model.TaskExecuteActivation, model.TaskUpdateInventory:
			done = true
		case model.TaskCheckDependencies:
			done, err = o.runCheckDependencies(ctx, wf, task)
		case model.TaskCreateActivation:
			done, err = o.runCreateActivation(ctx, wf, task)
		case model.TaskCreateInventory:
			done, err = o.runCreateInventory(ctx, wf, task)
		default:
			o.failTask(wf, task, fmt.Sprintf("unknown task type %q", task.Type))
		}
		if err != nil {
			return progressed, err
		}
		if done {
			o.setTaskState(wf, task, model.TaskCompleted)
			progressed = true
		}
		fulfillment.Summarize(wf)
		if task.Type == model.TaskCreateInventory && done {
			fulfillment.CompleteWorkflow(wf)
		}
		if wf.State.IsTerminal() {
			break
		}
	}
	return progressed, nil
}

func (o *Orchestrator) runCheckDependencies(ctx context.Context, wf *model.ServiceWorkflowContext, task *model.ServiceWorkflowTask) (bool, error) {
	err := o.checkDependencies(ctx, wf)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrDependenciesNotMet):
		o.setTaskState(wf, task, model.TaskWaitingForDependencies)
		o.logger.Debug().Str("order_id", wf.OrderID.String()).Err(err).Msg("waiting for dependencies")
		return false, nil
	case isStoreError(err):
		return false, err
	}
	o.failTask(wf, task, err.Error())
	return false, nil
}

func (o *Orchestrator) runCreateActivation(ctx context.Context, wf *model.ServiceWorkflowContext, task *model.ServiceWorkflowTask) (bool, error) {
	items, err := o.itemsOf(ctx, wf)
	if err != nil {
		return false, err
	}
	for _, item := range items {
		_, err := o.driver.AutoActivate(ctx, wf, item.SpecID)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrDependenciesNotMet):
			o.setTaskState(wf, task, model.TaskWaitingForDependencies)
			o.logger.Debug().Str("order_id", wf.OrderID.String()).Err(err).Msg("activation waiting for dependencies")
			return false, nil
		case isStoreError(err):
			return false, err
		}
		o.failTask(wf, task, err.Error())
		return false, nil
	}
	return true, nil
}

func (o *Orchestrator) runCreateInventory(ctx context.Context, wf *model.ServiceWorkflowContext, task *model.ServiceWorkflowTask) (bool, error) {
	items, err := o.itemsOf(ctx, wf)
	if err != nil {
		return false, err
	}
	activationTask := wf.TaskByType(model.TaskCreateActivation)
	for _, item := range items {
		var activationID *uuid.UUID
		if activationTask != nil {
			if p := activationTask.Progress(item.SpecID); p != nil {
				activationID = p.ActivationID
			}
		}
		if activationID == nil {
			o.failTask(wf, task, fmt.Sprintf("no activation recorded for specification %s", item.SpecID))
			return false, nil
		}

		_, err := o.driver.CreateInventory(ctx, wf, item.SpecID, *activationID)
		if err == nil {
			continue
		}
		if isStoreError(err) {
			return false, err
		}
		o.failTask(wf, task, err.Error())
		return false, nil
	}
	return true, nil
}

// CheckDependencies reports ErrDependenciesNotMet when any specification of
// the order cannot be provisioned yet.
func (o *Orchestrator) CheckDependencies(ctx context.Context, orderID uuid.UUID) error {
	wf, err := o.load(ctx, orderID)
	if err != nil {
		return err
	}
	return o.checkDependencies(ctx, wf)
}

func (o *Orchestrator) checkDependencies(ctx context.Context, wf *model.ServiceWorkflowContext) error {
	items, err := o.itemsOf(ctx, wf)
	if err != nil {
		return err
	}
	specIDs := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		specIDs = append(specIDs, item.SpecID)
	}
	ok, blocked, err := o.tracker.CanProvisionAll(ctx, specIDs)
	if err != nil {
		return fmt.Errorf("check dependencies of order %s: %w", wf.OrderID, err)
	}
	if !ok {
		return fmt.Errorf("specification %s: %w", blocked, ErrDependenciesNotMet)
	}
	return nil
}

// GetContext returns the persisted workflow context of orderID.
func (o *Orchestrator) GetContext(ctx context.Context, orderID uuid.UUID) (*model.ServiceWorkflowContext, error) {
	return o.load(ctx, orderID)
}

// ProcessPendingWorkflows runs one tick for each of up to BatchSize
// non-terminal workflows, least recently updated first, and returns how many
// ticks succeeded. A failing order is logged and skipped.
func (o *Orchestrator) ProcessPendingWorkflows(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	orderIDs, err := o.contexts.ListPending(ctx, o.batchSize)
	if err != nil {
		return 0, dbError("list pending workflow contexts", err)
	}

	var processed atomic.Int64
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for _, orderID := range orderIDs {
		g.Go(func() error {
			if err := o.ProcessWorkflow(ctx, orderID); err != nil {
				metrics.SweepOrders.WithLabelValues("error").Inc()
				o.logger.Error().Err(err).Str("order_id", orderID.String()).Msg("failed to process pending workflow")
				return nil
			}
			metrics.SweepOrders.WithLabelValues("ok").Inc()
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	n := int(processed.Load())
	if len(orderIDs) > 0 {
		o.logger.Info().Int("pending", len(orderIDs)).Int("processed", n).Msg("processed pending workflows")
	}
	return n, nil
}

// RetryWorkflow re-opens a failed workflow by resetting its failed tasks and
// runs a tick.
func (o *Orchestrator) RetryWorkflow(ctx context.Context, orderID uuid.UUID) error {
	err := o.withContext(ctx, orderID, func(wf *model.ServiceWorkflowContext) error {
		if wf.State != model.ContextFailed {
			return fmt.Errorf("retry %s workflow %s: %w", wf.State, orderID, ErrInvalidStateTransition)
		}
		fulfillment.RetryFailedTasks(wf)
		return nil
	})
	if err != nil {
		return err
	}
	o.logger.Info().Str("order_id", orderID.String()).Msg("retrying failed workflow")
	return o.ProcessWorkflow(ctx, orderID)
}

// CancelWorkflow cancels a workflow that has not finished. Side effects that
// already happened are not undone.
func (o *Orchestrator) CancelWorkflow(ctx context.Context, orderID uuid.UUID) error {
	err := o.withContext(ctx, orderID, func(wf *model.ServiceWorkflowContext) error {
		if err := fulfillment.CancelWorkflow(wf); err != nil {
			return fmt.Errorf("cancel workflow %s: %w", orderID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.WorkflowsFinished.WithLabelValues(string(model.ContextCancelled)).Inc()
	o.logger.Info().Str("order_id", orderID.String()).Msg("workflow cancelled")
	return nil
}

// withContext loads the context of orderID under its lock, applies fn and
// saves the result.
func (o *Orchestrator) withContext(ctx context.Context, orderID uuid.UUID, fn func(wf *model.ServiceWorkflowContext) error) error {
	unlock := o.locks.lock(orderID)
	defer unlock()

	wf, err := o.load(ctx, orderID)
	if err != nil {
		return err
	}
	if err := fn(wf); err != nil {
		return err
	}
	if err := o.contexts.SaveContext(ctx, wf); err != nil {
		return dbError("save workflow context", err)
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, orderID uuid.UUID) (*model.ServiceWorkflowContext, error) {
	wf, err := o.contexts.LoadContext(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrContextNotFound) {
			return nil, err
		}
		return nil, dbError("load workflow context", err)
	}
	return wf, nil
}

// itemsOf returns the specifications of the order, loading them from the
// order items when the context did not capture any.
func (o *Orchestrator) itemsOf(ctx context.Context, wf *model.ServiceWorkflowContext) ([]model.OrderItemRef, error) {
	if len(wf.Items) > 0 {
		return uniqueItems(wf.Items), nil
	}
	items, err := o.orderItems.LoadOrderItems(ctx, wf.OrderID)
	if err != nil {
		return nil, dbError("load order items", err)
	}
	wf.Items = uniqueItems(items)
	return wf.Items, nil
}

func (o *Orchestrator) setTaskState(wf *model.ServiceWorkflowContext, task *model.ServiceWorkflowTask, state model.TaskState) {
	if err := fulfillment.SetTaskState(wf, task.ID, state); err != nil {
		return
	}
	metrics.TaskTransitions.WithLabelValues(string(task.Type), string(state)).Inc()
}

func (o *Orchestrator) failTask(wf *model.ServiceWorkflowContext, task *model.ServiceWorkflowTask, reason string) {
	if err := fulfillment.FailTask(wf, task.ID, reason); err != nil {
		return
	}
	metrics.TaskTransitions.WithLabelValues(string(task.Type), string(model.TaskFailed)).Inc()
	fulfillment.FailWorkflow(wf, reason)
	o.logger.Warn().
		Str("order_id", wf.OrderID.String()).
		Str("task_type", string(task.Type)).
		Str("error", reason).
		Msg("workflow task failed")
}

func isStoreError(err error) bool {
	var actErr *ActivationError
	if errors.As(err, &actErr) {
		return false
	}
	var dbErr *DatabaseError
	return errors.As(err, &dbErr)
}

func uniqueItems(items []model.OrderItemRef) []model.OrderItemRef {
	seen := make(map[uuid.UUID]bool, len(items))
	out := make([]model.OrderItemRef, 0, len(items))
	for _, item := range items {
		if item.SpecID == uuid.Nil || seen[item.SpecID] {
			continue
		}
		seen[item.SpecID] = true
		out = append(out, item)
	}
	return out
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

// orderLocks hands out one mutex per order id and drops it when no caller
// holds or waits for it.
type orderLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]*orderLock
}

func (l *orderLocks) lock(orderID uuid.UUID) func() {
	l.mu.Lock()
	ol, ok := l.held[orderID]
	if !ok {
		ol = &orderLock{}
		l.held[orderID] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.mu.Lock()
	return func() {
		ol.mu.Unlock()
		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.held, orderID)
		}
		l.mu.Unlock()
	}
}
