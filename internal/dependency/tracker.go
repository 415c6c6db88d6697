package dependency

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edvin/fulfillment/internal/metrics"
	"github.com/edvin/fulfillment/internal/model"
)

// ErrTrackerStopped is returned for requests made after Run has returned.
var ErrTrackerStopped = errors.New("dependency tracker stopped")

type request struct {
	ctx    context.Context
	fn     func(g *Graph) (mutated bool, err error)
	result chan error
}

// Tracker owns a Graph on a single goroutine and serves requests over a
// channel. Every request runs to completion before the next one starts, so
// check-then-mutate sequences such as BeginProvisioning are atomic. Requests
// that mutate the graph are followed by a full Save to the store before the
// caller is answered. A failed Save leaves the tracker dirty: every following
// request saves again and reports the error until a Save succeeds.
type Tracker struct {
	graph    *Graph
	store    Store
	logger   zerolog.Logger
	requests chan request
	done     chan struct{}
	dirty    bool
}

// NewTracker creates a Tracker around graph. Run must be started before any
// other method is called.
func NewTracker(graph *Graph, store Store, logger zerolog.Logger) *Tracker {
	if graph == nil {
		graph = NewGraph()
	}
	return &Tracker{
		graph:    graph,
		store:    store,
		logger:   logger.With().Str("component", "dependency-tracker").Logger(),
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Run serves requests until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	defer close(t.done)
	t.logger.Debug().Int("nodes", t.graph.Len()).Msg("dependency tracker started")
	for {
		select {
		case <-ctx.Done():
			t.logger.Debug().Msg("dependency tracker stopped")
			return
		case req := <-t.requests:
			req.result <- t.serve(req)
		}
	}
}

func (t *Tracker) serve(req request) error {
	mutated, err := req.fn(t.graph)
	if err != nil {
		return err
	}
	if t.store == nil || !(mutated || t.dirty) {
		return nil
	}
	if err := t.graph.Save(req.ctx, t.store); err != nil {
		t.dirty = true
		metrics.GraphFlushes.WithLabelValues("error").Inc()
		t.logger.Error().Err(err).Bool("mutated", mutated).Msg("failed to flush dependency graph")
		return err
	}
	if t.dirty {
		t.logger.Info().Msg("dependency graph flushed after earlier failure")
	}
	t.dirty = false
	metrics.GraphFlushes.WithLabelValues("ok").Inc()
	return nil
}

func (t *Tracker) do(ctx context.Context, fn func(g *Graph) (bool, error)) error {
	req := request{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case t.requests <- req:
	case <-t.done:
		return ErrTrackerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) read(ctx context.Context, fn func(g *Graph)) error {
	return t.do(ctx, func(g *Graph) (bool, error) {
		fn(g)
		return false, nil
	})
}

func (t *Tracker) write(ctx context.Context, fn func(g *Graph)) error {
	return t.do(ctx, func(g *Graph) (bool, error) {
		fn(g)
		return true, nil
	})
}

// Load replaces the owned graph with the store's snapshot, discarding any
// unsaved changes.
func (t *Tracker) Load(ctx context.Context) error {
	return t.do(ctx, func(g *Graph) (bool, error) {
		if t.store == nil {
			return false, nil
		}
		if err := g.Load(ctx, t.store); err != nil {
			return false, err
		}
		t.dirty = false
		return false, nil
	})
}

// AddSpecs merges the dependency lists of several specifications and flushes
// the graph once.
func (t *Tracker) AddSpecs(ctx context.Context, deps map[uuid.UUID][]model.SpecDependency) error {
	return t.write(ctx, func(g *Graph) {
		for specID, edges := range deps {
			g.AddSpecDependencies(specID, edges)
		}
	})
}

// CanProvision reports whether specID may start provisioning.
func (t *Tracker) CanProvision(ctx context.Context, specID uuid.UUID) (bool, error) {
	var ok bool
	err := t.read(ctx, func(g *Graph) { ok = g.CanProvision(specID) })
	return ok, err
}

// CanProvisionAll reports whether every one of specIDs may start
// provisioning, returning the first that may not.
func (t *Tracker) CanProvisionAll(ctx context.Context, specIDs []uuid.UUID) (bool, uuid.UUID, error) {
	ok, blocked := true, uuid.Nil
	err := t.read(ctx, func(g *Graph) {
		for _, id := range specIDs {
			if !g.CanProvision(id) {
				ok, blocked = false, id
				return
			}
		}
	})
	return ok, blocked, err
}

// ReadySpecs returns the current provisioning frontier.
func (t *Tracker) ReadySpecs(ctx context.Context) ([]uuid.UUID, error) {
	var ready []uuid.UUID
	err := t.read(ctx, func(g *Graph) { ready = g.ReadySpecs() })
	return ready, err
}

// State returns the provisioning state of specID.
func (t *Tracker) State(ctx context.Context, specID uuid.UUID) (model.NodeState, bool, error) {
	var (
		state model.NodeState
		ok    bool
	)
	err := t.read(ctx, func(g *Graph) { state, ok = g.State(specID) })
	return state, ok, err
}

// Snapshot returns a copy of the owned graph in durable form.
func (t *Tracker) Snapshot(ctx context.Context) (*model.GraphSnapshot, error) {
	var snap *model.GraphSnapshot
	err := t.read(ctx, func(g *Graph) { snap = g.Snapshot() })
	return snap, err
}

// BeginProvisioning atomically checks CanProvision for specID and, if it
// holds, moves a NOT_PROVISIONED or INACTIVE node to PROVISIONING. Nodes that
// are already provisioning or active keep their state. It returns false when
// the dependencies are not met.
func (t *Tracker) BeginProvisioning(ctx context.Context, specID uuid.UUID, serviceID *uuid.UUID) (bool, error) {
	var ok bool
	err := t.do(ctx, func(g *Graph) (bool, error) {
		if !g.CanProvision(specID) {
			return false, nil
		}
		ok = true
		state, _ := g.State(specID)
		if state == model.NodeNotProvisioned || state == model.NodeInactive {
			g.MarkProvisioning(specID, serviceID)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return false, fmt.Errorf("begin provisioning %s: %w", specID, err)
	}
	return ok, nil
}

// MarkProvisioning moves specID to PROVISIONING and flushes the graph.
func (t *Tracker) MarkProvisioning(ctx context.Context, specID uuid.UUID, serviceID *uuid.UUID) error {
	return t.write(ctx, func(g *Graph) { g.MarkProvisioning(specID, serviceID) })
}

// MarkActive moves specID to ACTIVE and flushes the graph.
func (t *Tracker) MarkActive(ctx context.Context, specID uuid.UUID) error {
	return t.write(ctx, func(g *Graph) { g.MarkActive(specID) })
}

// MarkInactive moves specID to INACTIVE and flushes the graph.
func (t *Tracker) MarkInactive(ctx context.Context, specID uuid.UUID) error {
	return t.write(ctx, func(g *Graph) { g.MarkInactive(specID) })
}
