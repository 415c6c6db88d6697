package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/fulfillment/internal/fulfillment"
	"github.com/edvin/fulfillment/internal/model"
)

func TestNewWorkflowContextService(t *testing.T) {
	db := &mockDB{}
	svc := NewWorkflowContextService(db)

	require.NotNil(t, svc)
	assert.Equal(t, db, svc.db)
}

// ---------- SaveContext ----------

func TestWorkflowContextService_SaveContext_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewWorkflowContextService(db)
	ctx := context.Background()

	wf := fulfillment.CreateWorkflow(uuid.New(), nil)

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		if len(args) != 6 || args[0] != wf.OrderID || args[1] != string(model.ContextOrderReceived) {
			return false
		}
		var decoded model.ServiceWorkflowContext
		return json.Unmarshal(args[2].([]byte), &decoded) == nil && len(decoded.Tasks) == 5
	})).Return(pgconn.CommandTag{}, nil)

	require.NoError(t, svc.SaveContext(ctx, wf))
	db.AssertExpectations(t)
}

func TestWorkflowContextService_SaveContext_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewWorkflowContextService(db)
	ctx := context.Background()

	wf := fulfillment.CreateWorkflow(uuid.New(), nil)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("connection reset"))

	err := svc.SaveContext(ctx, wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save workflow context")
	db.AssertExpectations(t)
}

// ---------- LoadContext ----------

func TestWorkflowContextService_LoadContext_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewWorkflowContextService(db)
	ctx := context.Background()

	want := fulfillment.CreateWorkflow(uuid.New(), []model.OrderItemRef{{SpecID: uuid.New()}})
	data, err := json.Marshal(want)
	require.NoError(t, err)

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*[]byte)) = data
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{want.OrderID}).Return(row)

	got, err := svc.LoadContext(ctx, want.OrderID)
	require.NoError(t, err)
	assert.Equal(t, want.OrderID, got.OrderID)
	assert.Equal(t, want.Items, got.Items)
	require.Len(t, got.Tasks, 5)
	assert.Equal(t, want.Tasks[1].Dependencies, got.Tasks[1].Dependencies)
	db.AssertExpectations(t)
}

func TestWorkflowContextService_LoadContext_NotFound(t *testing.T) {
	db := &mockDB{}
	svc := NewWorkflowContextService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := svc.LoadContext(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrContextNotFound)
}

func TestWorkflowContextService_LoadContext_CorruptData(t *testing.T) {
	db := &mockDB{}
	svc := NewWorkflowContextService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*[]byte)) = []byte("{not json")
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := svc.LoadContext(ctx, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal workflow context")
	assert.NotErrorIs(t, err, ErrContextNotFound)
}

// ---------- ListPending ----------

func TestWorkflowContextService_ListPending(t *testing.T) {
	db := &mockDB{}
	svc := NewWorkflowContextService(db)
	ctx := context.Background()

	id1, id2 := uuid.New(), uuid.New()
	rows := newMockRows(
		func(dest ...any) error { *(dest[0].(*uuid.UUID)) = id1; return nil },
		func(dest ...any) error { *(dest[0].(*uuid.UUID)) = id2; return nil },
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{
		[]string{"completed", "failed", "cancelled"}, 50,
	}).Return(rows, nil)

	ids, err := svc.ListPending(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id1, id2}, ids)
	db.AssertExpectations(t)
}

func TestWorkflowContextService_ListPending_QueryError(t *testing.T) {
	db := &mockDB{}
	svc := NewWorkflowContextService(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(nil, errors.New("timeout"))

	_, err := svc.ListPending(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list pending workflow contexts")
}

func TestWorkflowContextService_ListPending_IterError(t *testing.T) {
	db := &mockDB{}
	svc := NewWorkflowContextService(db)
	ctx := context.Background()

	rows := newEmptyMockRows()
	rows.err = errors.New("conn closed")
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := svc.ListPending(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iterate workflow contexts")
}
