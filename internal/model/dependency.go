package model

import (
	"time"

	"github.com/google/uuid"
)

// DependencyType tags a specification dependency edge. Only
// DependencyRequiresActive is evaluated today: every edge gates provisioning
// until its target is active, whatever its tag.
type DependencyType string

const (
	DependencyRequiresActive      DependencyType = "REQUIRES_ACTIVE"
	DependencyRequiresProvisioned DependencyType = "REQUIRES_PROVISIONED"
	DependencyRequiresConfigured  DependencyType = "REQUIRES_CONFIGURED"
	DependencyOptionalEnhancement DependencyType = "OPTIONAL_ENHANCEMENT"
)

// Valid reports whether t is one of the known dependency types.
func (t DependencyType) Valid() bool {
	switch t {
	case DependencyRequiresActive, DependencyRequiresProvisioned,
		DependencyRequiresConfigured, DependencyOptionalEnhancement:
		return true
	}
	return false
}

// SpecDependency is a "depends on" edge between two service specifications.
type SpecDependency struct {
	SpecID          uuid.UUID      `json:"service_specification_id" db:"service_specification_id" yaml:"spec"`
	DependsOnSpecID uuid.UUID      `json:"depends_on_specification_id" db:"depends_on_specification_id" yaml:"depends_on"`
	Type            DependencyType `json:"dependency_type" db:"dependency_type" yaml:"type"`
	Required        bool           `json:"required" db:"required" yaml:"required"`
}

// NodeState is the provisioning state of a service specification.
type NodeState string

const (
	NodeNotProvisioned NodeState = "NOT_PROVISIONED"
	NodeProvisioning   NodeState = "PROVISIONING"
	NodeActive         NodeState = "ACTIVE"
	NodeInactive       NodeState = "INACTIVE"
)

// ParseNodeState maps a stored state to a NodeState. Unknown values fall back
// to NodeNotProvisioned.
func ParseNodeState(s string) NodeState {
	switch NodeState(s) {
	case NodeProvisioning, NodeActive, NodeInactive:
		return NodeState(s)
	}
	return NodeNotProvisioned
}

// SpecState is the persisted provisioning state row of a specification.
type SpecState struct {
	SpecID    uuid.UUID  `json:"service_specification_id" db:"service_specification_id"`
	ServiceID *uuid.UUID `json:"service_id,omitempty" db:"service_id"`
	State     NodeState  `json:"state" db:"state"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// GraphSnapshot is the durable form of the dependency graph.
type GraphSnapshot struct {
	Edges  []SpecDependency
	States []SpecState
}
