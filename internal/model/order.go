package model

import "github.com/google/uuid"

// Service order item actions.
const (
	OrderActionAdd      = "add"
	OrderActionModify   = "modify"
	OrderActionDelete   = "delete"
	OrderActionNoChange = "noChange"
)

// ServiceOrder is an accepted service order handed to the orchestrator by the
// order-acceptance handler. A nil Items slice means the items were not part of
// the payload and are loaded from the order items store instead.
type ServiceOrder struct {
	ID    uuid.UUID          `json:"id"`
	Items []ServiceOrderItem `json:"order_item,omitempty" validate:"omitempty,dive"`
}

type ServiceOrderItem struct {
	ID              uuid.UUID  `json:"id"`
	Action          string     `json:"action" validate:"omitempty,oneof=add modify delete noChange"`
	SpecificationID *uuid.UUID `json:"service_specification_id,omitempty"`
	ServiceID       *uuid.UUID `json:"service_id,omitempty"`
}

// OrderItemRef is the (specification, service) pair the orchestrator needs
// from an order item.
type OrderItemRef struct {
	SpecID    uuid.UUID  `json:"service_specification_id" db:"service_specification_id"`
	ServiceID *uuid.UUID `json:"service_id,omitempty" db:"service_id"`
}

// ItemRefs extracts the specification references from the order payload,
// skipping items without a specification.
func (o *ServiceOrder) ItemRefs() []OrderItemRef {
	refs := make([]OrderItemRef, 0, len(o.Items))
	for _, item := range o.Items {
		if item.SpecificationID == nil || *item.SpecificationID == uuid.Nil {
			continue
		}
		refs = append(refs, OrderItemRef{SpecID: *item.SpecificationID, ServiceID: item.ServiceID})
	}
	return refs
}
