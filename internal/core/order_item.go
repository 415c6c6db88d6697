package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/edvin/fulfillment/internal/model"
)

type OrderItemService struct {
	db DB
}

func NewOrderItemService(db DB) *OrderItemService {
	return &OrderItemService{db: db}
}

// LoadOrderItems returns the specification references of the persisted items
// of orderID. Items without a specification are skipped.
func (s *OrderItemService) LoadOrderItems(ctx context.Context, orderID uuid.UUID) ([]model.OrderItemRef, error) {
	rows, err := s.db.Query(ctx,
		`SELECT service_specification_id, service_id
		 FROM service_order_items
		 WHERE order_id = $1 AND service_specification_id IS NOT NULL
		 ORDER BY id`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("load items of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var items []model.OrderItemRef
	for rows.Next() {
		var ref model.OrderItemRef
		if err := rows.Scan(&ref.SpecID, &ref.ServiceID); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}
