package model

// Activation record states, stored in service_activations.state.
const (
	ActivationPending    = "PENDING"
	ActivationInProgress = "IN_PROGRESS"
	ActivationCompleted  = "COMPLETED"
	ActivationFailed     = "FAILED"
	ActivationCancelled  = "CANCELLED"
)

// Inventory record states, stored in service_inventories.state.
const (
	InventoryActive   = "ACTIVE"
	InventoryInactive = "INACTIVE"
)
