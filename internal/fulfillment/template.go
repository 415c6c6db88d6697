// Package fulfillment builds the fixed task chain of a service order workflow
// and computes its state transitions. Nothing in this package performs I/O:
// it proposes the next state of each task and leaves the matching side effect
// to the orchestrator.
package fulfillment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edvin/fulfillment/internal/model"
)

var (
	// ErrTaskNotFound is returned when a task references a dependency that is
	// not part of the workflow.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidStateTransition is returned when a transition is requested on
	// a workflow or task that cannot make it.
	ErrInvalidStateTransition = errors.New("invalid workflow state transition")
)

// Chain is the fixed task template. Each task depends only on its
// predecessor.
var Chain = []model.TaskType{
	model.TaskValidateOrder,
	model.TaskCheckDependencies,
	model.TaskCreateActivation,
	model.TaskExecuteActivation,
	model.TaskCreateInventory,
}

// workingState is the state a ready task moves to when it is advanced, keyed
// by task type. The states it is advanced from are listed in advanceFrom.
var workingState = map[model.TaskType]model.TaskState{
	model.TaskValidateOrder:     model.TaskValidating,
	model.TaskCheckDependencies: model.TaskCheckingDependencies,
	model.TaskCreateActivation:  model.TaskReadyForActivation,
	model.TaskExecuteActivation: model.TaskActivating,
	model.TaskCreateInventory:   model.TaskActivated,
	model.TaskUpdateInventory:   model.TaskActivated,
}

var advanceFrom = map[model.TaskType][]model.TaskState{
	model.TaskValidateOrder:     {model.TaskPending},
	model.TaskCheckDependencies: {model.TaskPending, model.TaskWaitingForDependencies},
	model.TaskCreateActivation:  {model.TaskPending, model.TaskWaitingForDependencies},
	model.TaskExecuteActivation: {model.TaskPending},
	model.TaskCreateInventory:   {model.TaskPending},
	model.TaskUpdateInventory:   {model.TaskPending},
}

// retryState is the state a failed task is reset to by RetryFailedTasks.
var retryState = map[model.TaskType]model.TaskState{
	model.TaskValidateOrder:     model.TaskPending,
	model.TaskCheckDependencies: model.TaskPending,
	model.TaskCreateActivation:  model.TaskWaitingForDependencies,
	model.TaskExecuteActivation: model.TaskPending,
	model.TaskCreateInventory:   model.TaskActivated,
	model.TaskUpdateInventory:   model.TaskActivated,
}

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// CreateWorkflow builds the initial context for an order: the five-task
// linear chain, every task pending.
func CreateWorkflow(orderID uuid.UUID, items []model.OrderItemRef) *model.ServiceWorkflowContext {
	ts := now()
	wf := &model.ServiceWorkflowContext{
		OrderID:   orderID,
		State:     model.ContextOrderReceived,
		Items:     items,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	var prev *uuid.UUID
	for _, taskType := range Chain {
		task := model.ServiceWorkflowTask{
			ID:           uuid.New(),
			OrderID:      orderID,
			Type:         taskType,
			State:        model.TaskPending,
			Dependencies: []model.TaskDependency{},
			CreatedAt:    ts,
			UpdatedAt:    ts,
		}
		if prev != nil {
			task.Dependencies = append(task.Dependencies, model.TaskDependency{TaskID: *prev})
		}
		id := task.ID
		prev = &id
		wf.Tasks = append(wf.Tasks, task)
	}
	return wf
}

// ReadyTasks returns the ids of tasks whose dependencies are all completed
// and that are not themselves completed or failed, in template order.
func ReadyTasks(wf *model.ServiceWorkflowContext) ([]uuid.UUID, error) {
	var ready []uuid.UUID
	for i := range wf.Tasks {
		task := &wf.Tasks[i]
		if task.State.IsTerminal() {
			continue
		}
		met := true
		for _, dep := range task.Dependencies {
			other := wf.Task(dep.TaskID)
			if other == nil {
				return nil, fmt.Errorf("task %s depends on %s: %w", task.ID, dep.TaskID, ErrTaskNotFound)
			}
			if other.State != model.TaskCompleted {
				met = false
				break
			}
		}
		if met {
			ready = append(ready, task.ID)
		}
	}
	return ready, nil
}

// AdvanceWorkflow moves every ready task into the working state of its type
// and refreshes the context summary. It is deterministic: the same task list
// always yields the same next states.
func AdvanceWorkflow(wf *model.ServiceWorkflowContext) error {
	if wf.State.IsTerminal() {
		return fmt.Errorf("advance %s workflow: %w", wf.State, ErrInvalidStateTransition)
	}

	ready, err := ReadyTasks(wf)
	if err != nil {
		return err
	}
	for _, id := range ready {
		task := wf.Task(id)
		for _, from := range advanceFrom[task.Type] {
			if task.State == from {
				_ = SetTaskState(wf, id, workingState[task.Type])
				break
			}
		}
	}
	Summarize(wf)
	return nil
}

// SetTaskState sets the state of a task, stamping completion time on
// completed and failed tasks.
func SetTaskState(wf *model.ServiceWorkflowContext, taskID uuid.UUID, state model.TaskState) error {
	task := wf.Task(taskID)
	if task == nil {
		return fmt.Errorf("set state of %s: %w", taskID, ErrTaskNotFound)
	}
	ts := now()
	task.State = state
	task.UpdatedAt = ts
	if state.IsTerminal() {
		task.CompletedAt = &ts
	}
	wf.UpdatedAt = ts
	return nil
}

// FailTask marks a task failed with reason and records the reason on the
// context.
func FailTask(wf *model.ServiceWorkflowContext, taskID uuid.UUID, reason string) error {
	if err := SetTaskState(wf, taskID, model.TaskFailed); err != nil {
		return err
	}
	task := wf.Task(taskID)
	task.Error = &reason
	ctxReason := reason
	wf.Error = &ctxReason
	return nil
}

// Summarize derives the context state from the first task of the chain that
// has not completed. Terminal contexts are left untouched.
func Summarize(wf *model.ServiceWorkflowContext) {
	if wf.State.IsTerminal() {
		return
	}
	for i := range wf.Tasks {
		task := &wf.Tasks[i]
		if task.State != model.TaskCompleted {
			wf.State = model.ContextStateFor(task.Type, task.State)
			return
		}
	}
	if len(wf.Tasks) > 0 {
		wf.State = model.ContextInventoryCreated
	}
}

// RetryFailedTasks resets every failed task that recorded an error to the
// state preceding its failure, clears the errors, and re-opens the context.
func RetryFailedTasks(wf *model.ServiceWorkflowContext) {
	ts := now()
	for i := range wf.Tasks {
		task := &wf.Tasks[i]
		if task.State != model.TaskFailed || task.Error == nil {
			continue
		}
		task.State = retryState[task.Type]
		task.Error = nil
		task.CompletedAt = nil
		task.UpdatedAt = ts
	}
	wf.Error = nil
	wf.CompletedAt = nil
	if wf.State == model.ContextFailed {
		wf.State = model.ContextOrderReceived
	}
	Summarize(wf)
	wf.UpdatedAt = ts
}

// CompleteWorkflow marks the workflow completed.
func CompleteWorkflow(wf *model.ServiceWorkflowContext) {
	ts := now()
	wf.State = model.ContextCompleted
	wf.CompletedAt = &ts
	wf.UpdatedAt = ts
}

// FailWorkflow marks the workflow failed with reason.
func FailWorkflow(wf *model.ServiceWorkflowContext, reason string) {
	ts := now()
	wf.State = model.ContextFailed
	wf.Error = &reason
	wf.CompletedAt = &ts
	wf.UpdatedAt = ts
}

// CancelWorkflow marks a workflow that has not finished as cancelled.
func CancelWorkflow(wf *model.ServiceWorkflowContext) error {
	if wf.State.IsTerminal() {
		return fmt.Errorf("cancel %s workflow: %w", wf.State, ErrInvalidStateTransition)
	}
	ts := now()
	wf.State = model.ContextCancelled
	wf.CompletedAt = &ts
	wf.UpdatedAt = ts
	return nil
}
