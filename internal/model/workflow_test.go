package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextStateFor(t *testing.T) {
	tests := []struct {
		task  TaskType
		state TaskState
		want  ContextState
	}{
		{TaskValidateOrder, TaskPending, ContextOrderReceived},
		{TaskValidateOrder, TaskValidating, ContextValidating},
		{TaskCheckDependencies, TaskPending, ContextCheckingDependencies},
		{TaskCheckDependencies, TaskWaitingForDependencies, ContextWaitingForDependencies},
		{TaskCreateActivation, TaskReadyForActivation, ContextReadyForActivation},
		{TaskCreateActivation, TaskWaitingForDependencies, ContextWaitingForDependencies},
		{TaskExecuteActivation, TaskActivating, ContextActivating},
		{TaskCreateInventory, TaskActivated, ContextActivated},
		{TaskUpdateInventory, TaskPending, ContextInventoryCreated},
		{TaskCreateInventory, TaskFailed, ContextFailed},
		{TaskValidateOrder, TaskFailed, ContextFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.task)+"/"+string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, ContextStateFor(tt.task, tt.state))
		})
	}
}

func TestStateTerminality(t *testing.T) {
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
	assert.False(t, TaskWaitingForDependencies.IsTerminal())

	for _, s := range TerminalContextStates {
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, ContextInventoryCreated.IsTerminal())
	assert.False(t, ContextWaitingForDependencies.IsTerminal())
}

func TestEnsureProgress(t *testing.T) {
	task := &ServiceWorkflowTask{Type: TaskCreateActivation}
	spec, service := uuid.New(), uuid.New()

	assert.Nil(t, task.Progress(spec))

	p := task.EnsureProgress(spec, &service)
	require.NotNil(t, p)
	assert.Equal(t, SpecStepPending, p.Step)
	assert.Equal(t, &service, p.ServiceID)

	p.Step = SpecStepActivated
	again := task.EnsureProgress(spec, nil)
	assert.Equal(t, SpecStepActivated, again.Step)
	assert.Len(t, task.Specs, 1)
}

func TestWorkflowContext_TaskLookup(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	wf := &ServiceWorkflowContext{Tasks: []ServiceWorkflowTask{
		{ID: first, Type: TaskValidateOrder},
		{ID: second, Type: TaskCheckDependencies},
	}}

	assert.Equal(t, TaskCheckDependencies, wf.Task(second).Type)
	assert.Nil(t, wf.Task(uuid.New()))
	assert.Equal(t, first, wf.TaskByType(TaskValidateOrder).ID)
	assert.Nil(t, wf.TaskByType(TaskUpdateInventory))

	// Lookups return pointers into the slice.
	wf.TaskByType(TaskValidateOrder).State = TaskCompleted
	assert.Equal(t, TaskCompleted, wf.Tasks[0].State)
}
