package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// WorkflowTicks counts ProcessWorkflow invocations by outcome: ok, noop
	// for terminal workflows, or error.
	WorkflowTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_workflow_ticks_total",
		Help: "Number of workflow ticks by outcome",
	}, []string{"outcome"})

	// TaskTransitions counts task state changes by task type and new state.
	TaskTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_task_transitions_total",
		Help: "Number of task state transitions by task type and resulting state",
	}, []string{"task_type", "state"})

	// WorkflowsFinished counts workflows reaching a terminal state.
	WorkflowsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_workflows_finished_total",
		Help: "Number of workflows that reached a terminal state",
	}, []string{"state"})

	// SweepOrders counts orders visited by the background sweep by result.
	SweepOrders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_sweep_orders_total",
		Help: "Number of orders processed by the background sweep",
	}, []string{"result"})

	// SweepDuration observes how long one sweep batch takes.
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_sweep_duration_seconds",
		Help:    "Duration of background sweep batches",
		Buckets: prometheus.DefBuckets,
	})

	// GraphFlushes counts dependency graph persistence flushes by result.
	GraphFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_dependency_graph_flushes_total",
		Help: "Number of full dependency graph flushes to the store",
	}, []string{"result"})
)

// RegisterOrchestratorMetrics registers the orchestration collectors with reg.
func RegisterOrchestratorMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		WorkflowTicks,
		TaskTransitions,
		WorkflowsFinished,
		SweepOrders,
		SweepDuration,
		GraphFlushes,
	)
}
