package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/fulfillment/internal/core"
	"github.com/edvin/fulfillment/internal/model"
)

// Orchestrator is the part of core.Orchestrator driven from Temporal.
type Orchestrator interface {
	Orchestrate(ctx context.Context, order *model.ServiceOrder) (uuid.UUID, error)
	GetContext(ctx context.Context, orderID uuid.UUID) (*model.ServiceWorkflowContext, error)
	ProcessPendingWorkflows(ctx context.Context) (int, error)
	RetryWorkflow(ctx context.Context, orderID uuid.UUID) error
}

// Fulfillment contains activities that drive service order workflows.
type Fulfillment struct {
	orch Orchestrator
}

// NewFulfillment creates a new Fulfillment activity struct.
func NewFulfillment(orch Orchestrator) *Fulfillment {
	return &Fulfillment{orch: orch}
}

// AcceptOrderResult reports the workflow state after the first tick.
type AcceptOrderResult struct {
	OrderID string             `json:"order_id"`
	State   model.ContextState `json:"state"`
}

// AcceptOrder hands an accepted service order to the orchestrator. Invalid
// orders are returned as non-retryable errors.
func (a *Fulfillment) AcceptOrder(ctx context.Context, order model.ServiceOrder) (*AcceptOrderResult, error) {
	orderID, err := a.orch.Orchestrate(ctx, &order)
	if err != nil {
		if errors.Is(err, core.ErrInvalidOrder) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidOrder", err)
		}
		return nil, fmt.Errorf("accept order %s: %w", order.ID, err)
	}

	wf, err := a.orch.GetContext(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("read workflow of order %s: %w", orderID, err)
	}
	activity.GetLogger(ctx).Info("service order accepted", "order_id", orderID.String(), "state", string(wf.State))
	return &AcceptOrderResult{OrderID: orderID.String(), State: wf.State}, nil
}

// SweepResult reports how many pending workflows a sweep advanced.
type SweepResult struct {
	Processed int `json:"processed"`
}

// SweepPendingWorkflows runs one tick for a batch of pending workflows.
func (a *Fulfillment) SweepPendingWorkflows(ctx context.Context) (*SweepResult, error) {
	n, err := a.orch.ProcessPendingWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep pending workflows: %w", err)
	}
	activity.GetLogger(ctx).Info("swept pending workflows", "processed", n)
	return &SweepResult{Processed: n}, nil
}

// RetryWorkflowParams holds the parameters for RetryFailedWorkflow.
type RetryWorkflowParams struct {
	OrderID string `json:"order_id"`
}

// RetryFailedWorkflow re-opens a failed workflow. Requests that can never
// succeed are returned as non-retryable errors.
func (a *Fulfillment) RetryFailedWorkflow(ctx context.Context, params RetryWorkflowParams) error {
	orderID, err := uuid.Parse(params.OrderID)
	if err != nil {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid order id %q", params.OrderID), "InvalidOrderID", err)
	}

	err = a.orch.RetryWorkflow(ctx, orderID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, core.ErrContextNotFound), errors.Is(err, core.ErrInvalidStateTransition):
		return temporal.NewNonRetryableApplicationError(err.Error(), "RetryRejected", err)
	}
	return fmt.Errorf("retry workflow %s: %w", orderID, err)
}
