// Package dependency tracks which service specifications depend on which, and
// which of them are eligible for provisioning.
package dependency

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/edvin/fulfillment/internal/model"
)

// Store persists graph snapshots.
type Store interface {
	LoadGraph(ctx context.Context) (*model.GraphSnapshot, error)
	SaveGraph(ctx context.Context, snapshot *model.GraphSnapshot) error
}

// Node is one service specification in the graph.
type Node struct {
	SpecID       uuid.UUID
	ServiceID    *uuid.UUID
	Dependencies []model.SpecDependency
	Dependents   []uuid.UUID
	State        model.NodeState
	UpdatedAt    time.Time
}

// Graph is the in-memory specification dependency graph. It is not safe for
// concurrent use; Tracker serializes access to it.
type Graph struct {
	nodes map[uuid.UUID]*Node
	now   func() time.Time
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[uuid.UUID]*Node), now: time.Now}
}

// Len returns the number of known specifications.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// AddSpec upserts specID with REQUIRES_ACTIVE edges to deps.
func (g *Graph) AddSpec(specID uuid.UUID, deps []uuid.UUID) {
	edges := make([]model.SpecDependency, 0, len(deps))
	for _, dep := range deps {
		edges = append(edges, model.SpecDependency{
			SpecID:          specID,
			DependsOnSpecID: dep,
			Type:            model.DependencyRequiresActive,
			Required:        true,
		})
	}
	g.AddSpecDependencies(specID, edges)
}

// AddSpecDependencies upserts specID and replaces its dependency list.
// Referenced specifications become NOT_PROVISIONED nodes if unknown, and
// their reverse edges are kept in sync. Re-adding the same list is a no-op.
func (g *Graph) AddSpecDependencies(specID uuid.UUID, deps []model.SpecDependency) {
	node := g.ensure(specID)

	for _, old := range node.Dependencies {
		if dep, ok := g.nodes[old.DependsOnSpecID]; ok {
			dep.Dependents = removeID(dep.Dependents, specID)
		}
	}

	node.Dependencies = make([]model.SpecDependency, 0, len(deps))
	seen := make(map[uuid.UUID]bool, len(deps))
	for _, d := range deps {
		if d.DependsOnSpecID == uuid.Nil || seen[d.DependsOnSpecID] {
			continue
		}
		seen[d.DependsOnSpecID] = true
		d.SpecID = specID
		if d.Type == "" {
			d.Type = model.DependencyRequiresActive
		}
		dep := g.ensure(d.DependsOnSpecID)
		node.Dependencies = append(node.Dependencies, d)
		dep.Dependents = appendID(dep.Dependents, specID)
	}
}

func (g *Graph) ensure(specID uuid.UUID) *Node {
	if node, ok := g.nodes[specID]; ok {
		return node
	}
	node := &Node{SpecID: specID, State: model.NodeNotProvisioned, UpdatedAt: g.now()}
	// Pick up reverse edges from nodes that were added before this one.
	for _, other := range g.nodes {
		for _, d := range other.Dependencies {
			if d.DependsOnSpecID == specID {
				node.Dependents = appendID(node.Dependents, other.SpecID)
			}
		}
	}
	g.nodes[specID] = node
	return node
}

// CanProvision reports whether every dependency of specID is a known, active
// node. Unknown specifications cannot be provisioned.
func (g *Graph) CanProvision(specID uuid.UUID) bool {
	node, ok := g.nodes[specID]
	if !ok {
		return false
	}
	for _, d := range node.Dependencies {
		dep, ok := g.nodes[d.DependsOnSpecID]
		if !ok || dep.State != model.NodeActive {
			return false
		}
	}
	return true
}

// ReadySpecs returns the provisioning frontier: not-yet-provisioned nodes
// whose dependencies are all active, sorted by id.
func (g *Graph) ReadySpecs() []uuid.UUID {
	var ready []uuid.UUID
	for id, node := range g.nodes {
		if node.State == model.NodeNotProvisioned && g.CanProvision(id) {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)
	return ready
}

// MarkProvisioning binds serviceID (when non-nil) and moves the node to
// PROVISIONING. Unknown specifications are ignored.
func (g *Graph) MarkProvisioning(specID uuid.UUID, serviceID *uuid.UUID) {
	node, ok := g.nodes[specID]
	if !ok {
		return
	}
	if serviceID != nil {
		id := *serviceID
		node.ServiceID = &id
	}
	g.setState(node, model.NodeProvisioning)
}

// MarkActive moves the node to ACTIVE. Unknown specifications are ignored.
func (g *Graph) MarkActive(specID uuid.UUID) {
	if node, ok := g.nodes[specID]; ok {
		g.setState(node, model.NodeActive)
	}
}

// MarkInactive moves the node to INACTIVE. Unknown specifications are ignored.
func (g *Graph) MarkInactive(specID uuid.UUID) {
	if node, ok := g.nodes[specID]; ok {
		g.setState(node, model.NodeInactive)
	}
}

func (g *Graph) setState(node *Node, state model.NodeState) {
	node.State = state
	node.UpdatedAt = g.now()
}

// Dependencies returns the specifications specID depends on.
func (g *Graph) Dependencies(specID uuid.UUID) []uuid.UUID {
	node, ok := g.nodes[specID]
	if !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(node.Dependencies))
	for _, d := range node.Dependencies {
		ids = append(ids, d.DependsOnSpecID)
	}
	return ids
}

// Dependents returns the specifications that depend on specID.
func (g *Graph) Dependents(specID uuid.UUID) []uuid.UUID {
	node, ok := g.nodes[specID]
	if !ok {
		return nil
	}
	ids := append([]uuid.UUID(nil), node.Dependents...)
	sortIDs(ids)
	return ids
}

// State returns the provisioning state of specID.
func (g *Graph) State(specID uuid.UUID) (model.NodeState, bool) {
	node, ok := g.nodes[specID]
	if !ok {
		return "", false
	}
	return node.State, true
}

// Snapshot returns the durable form of the graph, sorted by specification id.
func (g *Graph) Snapshot() *model.GraphSnapshot {
	ids := make([]uuid.UUID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)

	snap := &model.GraphSnapshot{}
	for _, id := range ids {
		node := g.nodes[id]
		snap.Edges = append(snap.Edges, node.Dependencies...)
		snap.States = append(snap.States, model.SpecState{
			SpecID:    node.SpecID,
			ServiceID: node.ServiceID,
			State:     node.State,
			UpdatedAt: node.UpdatedAt,
		})
	}
	return snap
}

// Restore replaces the graph contents with snap. Specifications that only
// appear as edge targets or only have a state row become nodes too.
func (g *Graph) Restore(snap *model.GraphSnapshot) {
	g.nodes = make(map[uuid.UUID]*Node)
	if snap == nil {
		return
	}

	bySpec := make(map[uuid.UUID][]model.SpecDependency)
	var order []uuid.UUID
	for _, e := range snap.Edges {
		if _, ok := bySpec[e.SpecID]; !ok {
			order = append(order, e.SpecID)
		}
		bySpec[e.SpecID] = append(bySpec[e.SpecID], e)
	}
	for _, st := range snap.States {
		g.ensure(st.SpecID)
	}
	for _, specID := range order {
		g.AddSpecDependencies(specID, bySpec[specID])
	}
	for _, st := range snap.States {
		node := g.nodes[st.SpecID]
		node.ServiceID = st.ServiceID
		node.State = model.ParseNodeState(string(st.State))
		if !st.UpdatedAt.IsZero() {
			node.UpdatedAt = st.UpdatedAt
		}
	}
}

// Load replaces the graph with the snapshot held by store.
func (g *Graph) Load(ctx context.Context, store Store) error {
	snap, err := store.LoadGraph(ctx)
	if err != nil {
		return fmt.Errorf("load dependency graph: %w", err)
	}
	g.Restore(snap)
	return nil
}

// Save writes the whole graph to store. The last writer wins.
func (g *Graph) Save(ctx context.Context, store Store) error {
	if err := store.SaveGraph(ctx, g.Snapshot()); err != nil {
		return fmt.Errorf("save dependency graph: %w", err)
	}
	return nil
}

func appendID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
