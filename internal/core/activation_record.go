package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/edvin/fulfillment/internal/model"
)

// ActivationRecordService writes service_activations rows. Running an
// activation only walks the row through its states; no network provisioning
// happens here.
type ActivationRecordService struct {
	db DB
}

func NewActivationRecordService(db DB) *ActivationRecordService {
	return &ActivationRecordService{db: db}
}

// CreateActivationRecord inserts a PENDING activation of specID for orderID.
func (s *ActivationRecordService) CreateActivationRecord(ctx context.Context, orderID, specID uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.Exec(ctx,
		`INSERT INTO service_activations (id, service_order_id, service_specification_id, name, state, activation_date)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		id, orderID, specID, "activation-"+specID.String(), model.ActivationPending,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create activation for %s: %w", specID, err)
	}
	return id, nil
}

// RunActivation moves the activation to IN_PROGRESS and then COMPLETED.
func (s *ActivationRecordService) RunActivation(ctx context.Context, activationID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE service_activations SET state = $1 WHERE id = $2",
		model.ActivationInProgress, activationID,
	)
	if err != nil {
		return fmt.Errorf("start activation %s: %w", activationID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("start activation %s: not found", activationID)
	}

	_, err = s.db.Exec(ctx,
		"UPDATE service_activations SET state = $1, completion_date = now() WHERE id = $2",
		model.ActivationCompleted, activationID,
	)
	if err != nil {
		return fmt.Errorf("complete activation %s: %w", activationID, err)
	}
	return nil
}
