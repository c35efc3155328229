package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peterkariuk1/jobawu-gateway/internal/domain"
	"github.com/peterkariuk1/jobawu-gateway/internal/port"
)

// --- Mocks ---

type mockQueue struct {
	mu      sync.Mutex
	pending map[string]domain.Transaction
	synced  map[string]domain.Transaction
	refs    map[string]struct{}
	saveErr error
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		pending: make(map[string]domain.Transaction),
		synced:  make(map[string]domain.Transaction),
		refs:    make(map[string]struct{}),
	}
}

func (m *mockQueue) SavePending(tx *domain.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return false, m.saveErr
	}
	if _, dup := m.refs[tx.ExternalRef]; dup {
		return false, nil
	}
	m.refs[tx.ExternalRef] = struct{}{}
	m.pending[tx.ID] = *tx
	return true, nil
}

func (m *mockQueue) ListPending() ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Transaction, 0, len(m.pending))
	for _, tx := range m.pending {
		out = append(out, tx)
	}
	return out, nil
}

func (m *mockQueue) ListSynced() ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Transaction, 0, len(m.synced))
	for _, tx := range m.synced {
		out = append(out, tx)
	}
	return out, nil
}

func (m *mockQueue) MarkSynced(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.pending[id]
	if !ok {
		return false, nil
	}
	delete(m.pending, id)
	m.synced[id] = tx
	return true, nil
}

func (m *mockQueue) Counts() (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), len(m.synced), nil
}

var _ port.TransactionQueue = (*mockQueue)(nil)

type mockLedger struct {
	mu sync.Mutex

	pingErr error

	plots    []domain.Plot
	plotsErr error

	bills         map[string]*domain.Bill
	getBillErr    error
	upsertBillErr error

	upsertedTxs []domain.Transaction
	upsertTxErr error

	reconciled   map[string]bool
	markErr      error
	unreconciled []domain.Transaction
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		bills:      make(map[string]*domain.Bill),
		reconciled: make(map[string]bool),
	}
}

func billKey(plot, unit string, month, year int) string {
	return fmt.Sprintf("%s|%s|%d|%d", plot, unit, month, year)
}

func (m *mockLedger) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *mockLedger) GetBill(_ context.Context, plot, unit string, month, year int) (*domain.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getBillErr != nil {
		return nil, m.getBillErr
	}
	b, ok := m.bills[billKey(plot, unit, month, year)]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "bill", ID: billKey(plot, unit, month, year)}
	}
	cp := *b
	return &cp, nil
}

func (m *mockLedger) UpsertBill(_ context.Context, bill *domain.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertBillErr != nil {
		return m.upsertBillErr
	}
	cp := *bill
	m.bills[billKey(bill.Plot, bill.Unit, bill.Month, bill.Year)] = &cp
	return nil
}

func (m *mockLedger) QueryBillsByPhoneAndPeriod(_ context.Context, phone string, month, year int) ([]domain.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Bill
	for _, b := range m.bills {
		if b.TenantPhone == phone && b.Month == month && b.Year == year {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockLedger) GetAllPlotsWithUnits(_ context.Context) ([]domain.Plot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.plotsErr != nil {
		return nil, m.plotsErr
	}
	return m.plots, nil
}

func (m *mockLedger) UpsertTransaction(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertTxErr != nil {
		return m.upsertTxErr
	}
	m.upsertedTxs = append(m.upsertedTxs, *tx)
	return nil
}

func (m *mockLedger) MarkTransactionReconciled(_ context.Context, txID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.reconciled[txID] = true
	return nil
}

func (m *mockLedger) QueryUnreconciledTransactions(_ context.Context) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unreconciled, nil
}

func (m *mockLedger) bill(plot, unit string, month, year int) *domain.Bill {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bills[billKey(plot, unit, month, year)]
}

func (m *mockLedger) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.upsertedTxs)
}

var _ port.LedgerStore = (*mockLedger)(nil)

// mockChannel lets tests push deliveries through the subscribed handler.
type mockChannel struct {
	mu      sync.Mutex
	handler port.MessageHandler
	closed  bool
}

func (m *mockChannel) Subscribe(_ context.Context, handler port.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	return nil
}

func (m *mockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockChannel) deliver(msg domain.InboundMessage) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(context.Background(), msg)
	}
}

var _ port.MessageChannel = (*mockChannel)(nil)
