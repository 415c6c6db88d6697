package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskType identifies a step of the fulfillment pipeline.
type TaskType string

const (
	TaskValidateOrder     TaskType = "VALIDATE_ORDER"
	TaskCheckDependencies TaskType = "CHECK_DEPENDENCIES"
	TaskCreateActivation  TaskType = "CREATE_ACTIVATION"
	TaskExecuteActivation TaskType = "EXECUTE_ACTIVATION"
	TaskCreateInventory   TaskType = "CREATE_INVENTORY"
	TaskUpdateInventory   TaskType = "UPDATE_INVENTORY"
)

// TaskState is the progress of a single task.
type TaskState string

const (
	TaskPending                TaskState = "pending"
	TaskValidating             TaskState = "validating"
	TaskCheckingDependencies   TaskState = "checking_dependencies"
	TaskWaitingForDependencies TaskState = "waiting_for_dependencies"
	TaskReadyForActivation     TaskState = "ready_for_activation"
	TaskActivating             TaskState = "activating"
	// TaskActivated marks a task whose activation side effect is done and whose
	// inventory side effect is still outstanding.
	TaskActivated TaskState = "activated"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// IsTerminal reports whether the task can no longer be advanced.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// ContextState is the progress summary of a whole workflow.
type ContextState string

const (
	ContextOrderReceived          ContextState = "order_received"
	ContextValidating             ContextState = "validating"
	ContextCheckingDependencies   ContextState = "checking_dependencies"
	ContextWaitingForDependencies ContextState = "waiting_for_dependencies"
	ContextReadyForActivation     ContextState = "ready_for_activation"
	ContextActivating             ContextState = "activating"
	ContextActivated              ContextState = "activated"
	ContextInventoryCreated       ContextState = "inventory_created"
	ContextCompleted              ContextState = "completed"
	ContextFailed                 ContextState = "failed"
	ContextCancelled              ContextState = "cancelled"
)

// TerminalContextStates lists the states after which a context is immutable.
var TerminalContextStates = []ContextState{ContextCompleted, ContextFailed, ContextCancelled}

// IsTerminal reports whether the workflow has finished.
func (s ContextState) IsTerminal() bool {
	for _, t := range TerminalContextStates {
		if s == t {
			return true
		}
	}
	return false
}

// ContextStateFor maps the state of the task currently at the head of the
// chain to the context-level summary.
func ContextStateFor(taskType TaskType, state TaskState) ContextState {
	if state == TaskFailed {
		return ContextFailed
	}
	switch taskType {
	case TaskValidateOrder:
		if state == TaskPending {
			return ContextOrderReceived
		}
		return ContextValidating
	case TaskCheckDependencies:
		if state == TaskWaitingForDependencies {
			return ContextWaitingForDependencies
		}
		return ContextCheckingDependencies
	case TaskCreateActivation:
		if state == TaskWaitingForDependencies {
			return ContextWaitingForDependencies
		}
		return ContextReadyForActivation
	case TaskExecuteActivation:
		return ContextActivating
	case TaskCreateInventory:
		return ContextActivated
	case TaskUpdateInventory:
		return ContextInventoryCreated
	}
	return ContextOrderReceived
}

// TaskDependency references another task of the same workflow that must be
// completed first. It is unrelated to SpecDependency.
type TaskDependency struct {
	TaskID uuid.UUID `json:"task_id"`
}

// SpecStep is the saga checkpoint of one specification within an order.
type SpecStep string

const (
	SpecStepPending           SpecStep = "pending"
	SpecStepActivationCreated SpecStep = "activation_created"
	SpecStepActivated         SpecStep = "activated"
	SpecStepInventoryCreated  SpecStep = "inventory_created"
)

// SpecProgress records how far the activation/inventory side effects have
// gone for one specification, so a restarted tick resumes instead of
// repeating them.
type SpecProgress struct {
	SpecID       uuid.UUID  `json:"service_specification_id"`
	ServiceID    *uuid.UUID `json:"service_id,omitempty"`
	Step         SpecStep   `json:"step"`
	ActivationID *uuid.UUID `json:"activation_id,omitempty"`
	InventoryID  *uuid.UUID `json:"inventory_id,omitempty"`
}

type ServiceWorkflowTask struct {
	ID           uuid.UUID        `json:"id"`
	OrderID      uuid.UUID        `json:"service_order_id"`
	Type         TaskType         `json:"task_type"`
	State        TaskState        `json:"state"`
	Dependencies []TaskDependency `json:"dependencies"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Error        *string          `json:"error,omitempty"`
	ServiceID    *uuid.UUID       `json:"service_id,omitempty"`
	ActivationID *uuid.UUID       `json:"activation_id,omitempty"`
	InventoryID  *uuid.UUID       `json:"inventory_id,omitempty"`
	Specs        []SpecProgress   `json:"specs,omitempty"`
}

// Progress returns the checkpoint for specID, or nil.
func (t *ServiceWorkflowTask) Progress(specID uuid.UUID) *SpecProgress {
	for i := range t.Specs {
		if t.Specs[i].SpecID == specID {
			return &t.Specs[i]
		}
	}
	return nil
}

// EnsureProgress returns the checkpoint for specID, creating a pending one if
// none exists.
func (t *ServiceWorkflowTask) EnsureProgress(specID uuid.UUID, serviceID *uuid.UUID) *SpecProgress {
	if p := t.Progress(specID); p != nil {
		return p
	}
	t.Specs = append(t.Specs, SpecProgress{SpecID: specID, ServiceID: serviceID, Step: SpecStepPending})
	return &t.Specs[len(t.Specs)-1]
}

// ServiceWorkflowContext is the persisted state of one order's fulfillment.
type ServiceWorkflowContext struct {
	OrderID     uuid.UUID             `json:"service_order_id"`
	State       ContextState          `json:"state"`
	Items       []OrderItemRef        `json:"items,omitempty"`
	Tasks       []ServiceWorkflowTask `json:"tasks"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Error       *string               `json:"error,omitempty"`
}

// Task returns the task with the given id, or nil.
func (c *ServiceWorkflowContext) Task(id uuid.UUID) *ServiceWorkflowTask {
	for i := range c.Tasks {
		if c.Tasks[i].ID == id {
			return &c.Tasks[i]
		}
	}
	return nil
}

// TaskByType returns the first task of the given type, or nil.
func (c *ServiceWorkflowContext) TaskByType(taskType TaskType) *ServiceWorkflowTask {
	for i := range c.Tasks {
		if c.Tasks[i].Type == taskType {
			return &c.Tasks[i]
		}
	}
	return nil
}
