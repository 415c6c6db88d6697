package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edvin/fulfillment/internal/model"
)

// WorkflowContextService persists one serialized ServiceWorkflowContext per
// order in service_workflow_contexts.
type WorkflowContextService struct {
	db DB
}

func NewWorkflowContextService(db DB) *WorkflowContextService {
	return &WorkflowContextService{db: db}
}

// SaveContext upserts the context keyed by its order id.
func (s *WorkflowContextService) SaveContext(ctx context.Context, wf *model.ServiceWorkflowContext) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow context %s: %w", wf.OrderID, err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO service_workflow_contexts (service_order_id, state, context_data, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (service_order_id) DO UPDATE
		 SET state = EXCLUDED.state, context_data = EXCLUDED.context_data,
		     updated_at = EXCLUDED.updated_at, completed_at = EXCLUDED.completed_at`,
		wf.OrderID, string(wf.State), data, wf.CreatedAt, wf.UpdatedAt, wf.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save workflow context %s: %w", wf.OrderID, err)
	}
	return nil
}

// LoadContext returns the context of orderID, or an error wrapping
// ErrContextNotFound.
func (s *WorkflowContextService) LoadContext(ctx context.Context, orderID uuid.UUID) (*model.ServiceWorkflowContext, error) {
	var data []byte
	err := s.db.QueryRow(ctx,
		"SELECT context_data FROM service_workflow_contexts WHERE service_order_id = $1", orderID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrContextNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow context %s: %w", orderID, err)
	}

	var wf model.ServiceWorkflowContext
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow context %s: %w", orderID, err)
	}
	return &wf, nil
}

// ListPending returns up to limit orders whose context is not terminal,
// least recently updated first.
func (s *WorkflowContextService) ListPending(ctx context.Context, limit int) ([]uuid.UUID, error) {
	terminal := make([]string, 0, len(model.TerminalContextStates))
	for _, st := range model.TerminalContextStates {
		terminal = append(terminal, string(st))
	}

	rows, err := s.db.Query(ctx,
		`SELECT service_order_id FROM service_workflow_contexts
		 WHERE state <> ALL($1)
		 ORDER BY updated_at
		 LIMIT $2`,
		terminal, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending workflow contexts: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan workflow context id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow contexts: %w", err)
	}
	return ids, nil
}
