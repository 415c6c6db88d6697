package core

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/edvin/fulfillment/internal/model"
)

// ---------- Mock DB ----------

// mockDB implements the TxDB interface for testing.
type mockDB struct {
	mock.Mock
}

func (m *mockDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDB) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Rows), args.Error(1)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

// ---------- Mock Tx ----------

// mockTx implements the parts of pgx.Tx used by pgx.BeginFunc. Calling any
// other method panics on the nil embedded interface.
type mockTx struct {
	pgx.Tx
	mu         sync.Mutex
	execs      []string
	execErr    error
	failAfter  int
	committed  bool
	rolledBack bool
}

func (m *mockTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, sql)
	if m.execErr != nil && len(m.execs) > m.failAfter {
		return pgconn.CommandTag{}, m.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (m *mockTx) Commit(context.Context) error {
	m.committed = true
	return nil
}

func (m *mockTx) Rollback(context.Context) error {
	if !m.committed {
		m.rolledBack = true
	}
	return nil
}

// ---------- Mock Row ----------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	return m.scanFunc(dest...)
}

// ---------- Mock Rows ----------

// mockRows implements pgx.Rows for testing.
// It iterates through a list of scan functions, one per row.
type mockRows struct {
	callIndex int
	scanFuncs []func(dest ...any) error
	err       error
}

func newMockRows(scanFuncs ...func(dest ...any) error) *mockRows {
	return &mockRows{scanFuncs: scanFuncs}
}

// newEmptyMockRows returns a mockRows that yields zero rows.
func newEmptyMockRows() *mockRows {
	return &mockRows{}
}

func (m *mockRows) Next() bool {
	return m.callIndex < len(m.scanFuncs)
}

func (m *mockRows) Scan(dest ...any) error {
	if m.callIndex < len(m.scanFuncs) {
		fn := m.scanFuncs[m.callIndex]
		m.callIndex++
		return fn(dest...)
	}
	return nil
}

func (m *mockRows) Err() error                                   { return m.err }
func (m *mockRows) Close()                                       {}
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) RawValues() [][]byte                          { return nil }
func (m *mockRows) Values() ([]any, error)                       { return nil, nil }
func (m *mockRows) Conn() *pgx.Conn                              { return nil }

// ---------- In-memory collaborators ----------

// memContexts is a ContextStore that keeps JSON copies, so callers never
// share memory with what is "persisted".
type memContexts struct {
	mu      sync.Mutex
	data    map[uuid.UUID][]byte
	saves   int
	saveErr error
	loadErr error
}

func newMemContexts() *memContexts {
	return &memContexts{data: make(map[uuid.UUID][]byte)}
}

func (m *memContexts) SaveContext(_ context.Context, wf *model.ServiceWorkflowContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	b, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	m.data[wf.OrderID] = b
	m.saves++
	return nil
}

func (m *memContexts) LoadContext(_ context.Context, orderID uuid.UUID) (*model.ServiceWorkflowContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	b, ok := m.data[orderID]
	if !ok {
		return nil, ErrContextNotFound
	}
	var wf model.ServiceWorkflowContext
	if err := json.Unmarshal(b, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (m *memContexts) ListPending(_ context.Context, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	type entry struct {
		id uuid.UUID
		wf model.ServiceWorkflowContext
	}
	var pending []entry
	for id, b := range m.data {
		var wf model.ServiceWorkflowContext
		if err := json.Unmarshal(b, &wf); err != nil {
			return nil, err
		}
		if !wf.State.IsTerminal() {
			pending = append(pending, entry{id: id, wf: wf})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].wf.UpdatedAt.Before(pending[j].wf.UpdatedAt) })
	var ids []uuid.UUID
	for i, e := range pending {
		if i == limit {
			break
		}
		ids = append(ids, e.id)
	}
	return ids, nil
}

func (m *memContexts) raw(orderID uuid.UUID) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data[orderID]...)
}

func (m *memContexts) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memOrderItems struct {
	items map[uuid.UUID][]model.OrderItemRef
	err   error
}

func (m *memOrderItems) LoadOrderItems(_ context.Context, orderID uuid.UUID) ([]model.OrderItemRef, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.items[orderID], nil
}

type memCatalog struct {
	deps map[uuid.UUID][]model.SpecDependency
	err  error
}

func (m *memCatalog) LoadSpecDependencies(_ context.Context, specID uuid.UUID) ([]model.SpecDependency, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.deps[specID], nil
}

// memGraphStore is a dependency.Store held in memory.
type memGraphStore struct {
	mu    sync.Mutex
	snap  *model.GraphSnapshot
	saves int
	// failOn makes the failOn-th SaveGraph call (1-based) and every later one
	// return saveErr until failOn is reset.
	failOn  int
	saveErr error
}

func (m *memGraphStore) LoadGraph(context.Context) (*model.GraphSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}

func (m *memGraphStore) SaveGraph(_ context.Context, snap *model.GraphSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failOn > 0 && m.saves >= m.failOn {
		return m.saveErr
	}
	m.snap = snap
	return nil
}

func (m *memGraphStore) failFrom(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn, m.saveErr = n, err
}

func (m *memGraphStore) heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn, m.saveErr = 0, nil
}

func (m *memGraphStore) persistedState(specID uuid.UUID) (model.NodeState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return "", false
	}
	for _, s := range m.snap.States {
		if s.SpecID == specID {
			return s.State, true
		}
	}
	return "", false
}

// fakeRecords records activation and inventory side effects.
type fakeRecords struct {
	mu           sync.Mutex
	activations  map[uuid.UUID]string
	inventories  []InventoryRecord
	createErr    error
	runErr       error
	inventoryErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{activations: make(map[uuid.UUID]string)}
}

func (f *fakeRecords) CreateActivationRecord(_ context.Context, _, _ uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return uuid.Nil, f.createErr
	}
	id := uuid.New()
	f.activations[id] = model.ActivationPending
	return id, nil
}

func (f *fakeRecords) RunActivation(_ context.Context, activationID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return f.runErr
	}
	if _, ok := f.activations[activationID]; !ok {
		return errors.New("activation not found")
	}
	f.activations[activationID] = model.ActivationCompleted
	return nil
}

func (f *fakeRecords) CreateInventoryRecord(_ context.Context, rec InventoryRecord) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inventoryErr != nil {
		return uuid.Nil, f.inventoryErr
	}
	f.inventories = append(f.inventories, rec)
	return uuid.New(), nil
}

func (f *fakeRecords) counts() (activations, inventories int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.activations), len(f.inventories)
}
