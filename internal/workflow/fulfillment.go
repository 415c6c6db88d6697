package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/fulfillment/internal/activity"
	"github.com/edvin/fulfillment/internal/model"
)

// FulfillServiceOrderWorkflow accepts a service order and runs its first
// tick. Orders that have to wait for dependencies are picked up by the
// sweep.
func FulfillServiceOrderWorkflow(ctx workflow.Context, order model.ServiceOrder) (*activity.AcceptOrderResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result activity.AcceptOrderResult
	err := workflow.ExecuteActivity(ctx, "AcceptOrder", order).Get(ctx, &result)
	if err != nil {
		return nil, fmt.Errorf("accept order %s: %w", order.ID, err)
	}
	return &result, nil
}

// SweepPendingWorkflowsWorkflow runs on a cron schedule and advances every
// service order workflow that has not finished yet.
func SweepPendingWorkflowsWorkflow(ctx workflow.Context) (int, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result activity.SweepResult
	err := workflow.ExecuteActivity(ctx, "SweepPendingWorkflows").Get(ctx, &result)
	if err != nil {
		return 0, fmt.Errorf("sweep pending workflows: %w", err)
	}

	if result.Processed > 0 {
		workflow.GetLogger(ctx).Info("advanced pending service order workflows", "processed", result.Processed)
	}
	return result.Processed, nil
}

// RetryFailedOrderWorkflow re-opens a failed service order workflow and runs
// one tick of it.
func RetryFailedOrderWorkflow(ctx workflow.Context, orderID string) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	err := workflow.ExecuteActivity(ctx, "RetryFailedWorkflow", activity.RetryWorkflowParams{
		OrderID: orderID,
	}).Get(ctx, nil)
	if err != nil {
		return fmt.Errorf("retry order %s: %w", orderID, err)
	}
	return nil
}
