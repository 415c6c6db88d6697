package core

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/fulfillment/internal/model"
)

// ---------- OrderItemService ----------

func TestOrderItemService_LoadOrderItems(t *testing.T) {
	db := &mockDB{}
	svc := NewOrderItemService(db)
	ctx := context.Background()

	orderID, spec, service := uuid.New(), uuid.New(), uuid.New()
	rows := newMockRows(func(dest ...any) error {
		*(dest[0].(*uuid.UUID)) = spec
		*(dest[1].(**uuid.UUID)) = &service
		return nil
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{orderID}).Return(rows, nil)

	items, err := svc.LoadOrderItems(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, []model.OrderItemRef{{SpecID: spec, ServiceID: &service}}, items)
	db.AssertExpectations(t)
}

func TestOrderItemService_LoadOrderItems_ScanError(t *testing.T) {
	db := &mockDB{}
	svc := NewOrderItemService(db)
	ctx := context.Background()

	rows := newMockRows(func(dest ...any) error { return errors.New("bad uuid") })
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := svc.LoadOrderItems(ctx, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan order item")
}

// ---------- ActivationRecordService ----------

func TestActivationRecordService_CreateActivationRecord(t *testing.T) {
	db := &mockDB{}
	svc := NewActivationRecordService(db)
	ctx := context.Background()

	orderID, spec := uuid.New(), uuid.New()
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 5 && args[1] == orderID && args[2] == spec && args[4] == model.ActivationPending
	})).Return(pgconn.CommandTag{}, nil)

	id, err := svc.CreateActivationRecord(ctx, orderID, spec)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	db.AssertExpectations(t)
}

func TestActivationRecordService_RunActivation(t *testing.T) {
	db := &mockDB{}
	svc := NewActivationRecordService(db)
	ctx := context.Background()

	id := uuid.New()
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{model.ActivationInProgress, id}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{model.ActivationCompleted, id}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()

	require.NoError(t, svc.RunActivation(ctx, id))
	db.AssertExpectations(t)
}

func TestActivationRecordService_RunActivation_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewActivationRecordService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	err := svc.RunActivation(ctx, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	db.AssertExpectations(t)
}

// ---------- InventoryRecordService ----------

func TestInventoryRecordService_CreateInventoryRecord(t *testing.T) {
	db := &mockDB{}
	svc := NewInventoryRecordService(db)
	ctx := context.Background()

	rec := InventoryRecord{OrderID: uuid.New(), SpecID: uuid.New(), ActivationID: uuid.New()}
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 6 &&
			args[3] == rec.ActivationID &&
			args[4] == "service-"+rec.SpecID.String() &&
			args[5] == model.InventoryActive
	})).Return(pgconn.CommandTag{}, nil)

	id, err := svc.CreateInventoryRecord(ctx, rec)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	db.AssertExpectations(t)
}

func TestInventoryRecordService_CreateInventoryRecord_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewInventoryRecordService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("disk full"))

	_, err := svc.CreateInventoryRecord(ctx, InventoryRecord{SpecID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create inventory for")
}
