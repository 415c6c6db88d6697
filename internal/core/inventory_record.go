package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/edvin/fulfillment/internal/model"
)

// InventoryRecord describes the service instance to put into inventory.
type InventoryRecord struct {
	OrderID      uuid.UUID
	SpecID       uuid.UUID
	ActivationID uuid.UUID
	Name         string
}

type InventoryRecordService struct {
	db DB
}

func NewInventoryRecordService(db DB) *InventoryRecordService {
	return &InventoryRecordService{db: db}
}

// CreateInventoryRecord inserts an ACTIVE inventory row and returns its id.
func (s *InventoryRecordService) CreateInventoryRecord(ctx context.Context, rec InventoryRecord) (uuid.UUID, error) {
	name := rec.Name
	if name == "" {
		name = "service-" + rec.SpecID.String()
	}
	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO service_inventories (id, service_order_id, service_specification_id, activation_id, name, state, activation_date)
		 VALUES ($1, $2, $3, $4, $5, $6, now())`,
		id, rec.OrderID, rec.SpecID, rec.ActivationID, name, model.InventoryActive,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create inventory for %s: %w", rec.SpecID, err)
	}
	return id, nil
}
