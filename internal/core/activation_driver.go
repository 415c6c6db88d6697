package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edvin/fulfillment/internal/model"
)

// GraphTracker is the view of the dependency tracker used by the
// orchestrator. *dependency.Tracker satisfies it.
type GraphTracker interface {
	Load(ctx context.Context) error
	AddSpecs(ctx context.Context, deps map[uuid.UUID][]model.SpecDependency) error
	CanProvisionAll(ctx context.Context, specIDs []uuid.UUID) (bool, uuid.UUID, error)
	BeginProvisioning(ctx context.Context, specID uuid.UUID, serviceID *uuid.UUID) (bool, error)
	MarkActive(ctx context.Context, specID uuid.UUID) error
}

// ActivationRecorder creates and runs activation records.
type ActivationRecorder interface {
	CreateActivationRecord(ctx context.Context, orderID, specID uuid.UUID) (uuid.UUID, error)
	RunActivation(ctx context.Context, activationID uuid.UUID) error
}

// InventoryRecorder creates inventory records.
type InventoryRecorder interface {
	CreateInventoryRecord(ctx context.Context, rec InventoryRecord) (uuid.UUID, error)
}

// ActivationDriver performs the two side effects of fulfilling a
// specification: activation, then inventory. Neither is transactional with
// the other, so after each one the workflow context is checkpointed with the
// step reached. A later call for the same specification resumes from the
// checkpoint instead of repeating finished work.
type ActivationDriver struct {
	tracker     GraphTracker
	activations ActivationRecorder
	inventory   InventoryRecorder
	contexts    ContextStore
	logger      zerolog.Logger
}

func NewActivationDriver(tracker GraphTracker, activations ActivationRecorder, inventory InventoryRecorder, contexts ContextStore, logger zerolog.Logger) *ActivationDriver {
	return &ActivationDriver{
		tracker:     tracker,
		activations: activations,
		inventory:   inventory,
		contexts:    contexts,
		logger:      logger.With().Str("component", "activation-driver").Logger(),
	}
}

// AutoActivate provisions specID for the order of wf and returns the
// activation id. It fails with ErrDependenciesNotMet when the tracker refuses
// to start provisioning.
func (d *ActivationDriver) AutoActivate(ctx context.Context, wf *model.ServiceWorkflowContext, specID uuid.UUID) (uuid.UUID, error) {
	task := wf.TaskByType(model.TaskCreateActivation)
	if task == nil {
		return uuid.Nil, fmt.Errorf("order %s has no %s task: %w", wf.OrderID, model.TaskCreateActivation, ErrInvalidStateTransition)
	}
	p := task.EnsureProgress(specID, serviceIDFor(wf, specID))

	switch {
	case p.Step == model.SpecStepPending || p.ActivationID == nil:
		ok, err := d.tracker.BeginProvisioning(ctx, specID, p.ServiceID)
		if err != nil {
			return uuid.Nil, dbError("dependency graph", err)
		}
		if !ok {
			return uuid.Nil, fmt.Errorf("specification %s: %w", specID, ErrDependenciesNotMet)
		}

		id, err := d.activations.CreateActivationRecord(ctx, wf.OrderID, specID)
		if err != nil {
			return uuid.Nil, &ActivationError{SpecID: specID, Op: "create activation", Err: err}
		}
		p.ActivationID = &id
		p.Step = model.SpecStepActivationCreated
		task.ActivationID = &id
		if err := d.checkpoint(ctx, wf); err != nil {
			return uuid.Nil, err
		}
		fallthrough

	case p.Step == model.SpecStepActivationCreated:
		id := *p.ActivationID
		if err := d.activations.RunActivation(ctx, id); err != nil {
			return uuid.Nil, &ActivationError{SpecID: specID, Op: "run activation", Err: err}
		}
		p.Step = model.SpecStepActivated

		if exec := wf.TaskByType(model.TaskExecuteActivation); exec != nil {
			ep := exec.EnsureProgress(specID, p.ServiceID)
			ep.ActivationID = &id
			ep.Step = model.SpecStepActivated
			exec.ActivationID = &id
		}
		if err := d.checkpoint(ctx, wf); err != nil {
			return uuid.Nil, err
		}
		d.logger.Debug().
			Str("order_id", wf.OrderID.String()).
			Str("spec_id", specID.String()).
			Str("activation_id", id.String()).
			Msg("specification activated")
		return id, nil
	}

	return *p.ActivationID, nil
}

// CreateInventory records the activated specID in inventory and marks it
// active in the dependency graph. When the inventory record already exists
// only the graph update is repeated.
func (d *ActivationDriver) CreateInventory(ctx context.Context, wf *model.ServiceWorkflowContext, specID, activationID uuid.UUID) (uuid.UUID, error) {
	task := wf.TaskByType(model.TaskCreateInventory)
	if task == nil {
		return uuid.Nil, fmt.Errorf("order %s has no %s task: %w", wf.OrderID, model.TaskCreateInventory, ErrInvalidStateTransition)
	}
	p := task.EnsureProgress(specID, serviceIDFor(wf, specID))

	if p.Step != model.SpecStepInventoryCreated || p.InventoryID == nil {
		id, err := d.inventory.CreateInventoryRecord(ctx, InventoryRecord{
			OrderID:      wf.OrderID,
			SpecID:       specID,
			ActivationID: activationID,
		})
		if err != nil {
			return uuid.Nil, &ActivationError{SpecID: specID, Op: "create inventory", Err: err}
		}
		p.ActivationID = &activationID
		p.InventoryID = &id
		p.Step = model.SpecStepInventoryCreated
		task.InventoryID = &id
		if err := d.checkpoint(ctx, wf); err != nil {
			return uuid.Nil, err
		}
	}

	if err := d.tracker.MarkActive(ctx, specID); err != nil {
		return uuid.Nil, dbError(fmt.Sprintf("mark %s active", specID), err)
	}
	return *p.InventoryID, nil
}

func (d *ActivationDriver) checkpoint(ctx context.Context, wf *model.ServiceWorkflowContext) error {
	if err := d.contexts.SaveContext(ctx, wf); err != nil {
		return dbError("checkpoint workflow context", err)
	}
	return nil
}

func serviceIDFor(wf *model.ServiceWorkflowContext, specID uuid.UUID) *uuid.UUID {
	for _, item := range wf.Items {
		if item.SpecID == specID {
			return item.ServiceID
		}
	}
	return nil
}
