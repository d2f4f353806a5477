package ledger

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Transactions are serialized by a single
// mutex and staged until fn returns without error.
type MemoryStore struct {
	mu       sync.Mutex
	txs      []Transaction
	txByID   map[string]int
	balances map[string]Balance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txByID: map[string]int{}, balances: map[string]Balance{}}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := &memTx{store: m, balances: map[string]Balance{}}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	for _, tx := range staged.txs {
		m.txByID[tx.ID] = len(m.txs)
		m.txs = append(m.txs, tx)
	}
	for key, bal := range staged.balances {
		m.balances[key] = bal
	}
	return nil
}

func (m *MemoryStore) GetBalance(_ context.Context, employeeID, leaveTypeID string) (Balance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[balanceKey(employeeID, leaveTypeID)]
	return bal, ok, nil
}

func (m *MemoryStore) ListBalances(_ context.Context, employeeID string) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Balance
	for _, bal := range m.balances {
		if bal.EmployeeID == employeeID {
			out = append(out, bal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaveTypeID < out[j].LeaveTypeID })
	return out, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, filter Filter) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterTransactions(m.txs, filter), nil
}

// PutBalance overwrites a projection row directly, bypassing the ledger.
// Tests use it to simulate a drifted cache.
func (m *MemoryStore) PutBalance(b Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey(b.EmployeeID, b.LeaveTypeID)] = b
}

type memTx struct {
	store    *MemoryStore
	txs      []Transaction
	balances map[string]Balance
}

func (t *memTx) GetBalance(_ context.Context, employeeID, leaveTypeID string) (Balance, bool, error) {
	key := balanceKey(employeeID, leaveTypeID)
	if bal, ok := t.balances[key]; ok {
		return bal, true, nil
	}
	bal, ok := t.store.balances[key]
	return bal, ok, nil
}

func (t *memTx) FindTransaction(_ context.Context, id string) (Transaction, bool, error) {
	if idx, ok := t.store.txByID[id]; ok {
		return t.store.txs[idx], true, nil
	}
	for _, tx := range t.txs {
		if tx.ID == id {
			return tx, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tx Transaction) (bool, error) {
	if _, found, _ := t.FindTransaction(ctx, tx.ID); found {
		return false, nil
	}
	t.txs = append(t.txs, tx)
	return true, nil
}

func (t *memTx) SaveBalance(ctx context.Context, b Balance, expectedVersion int64) (bool, error) {
	current, found, _ := t.GetBalance(ctx, b.EmployeeID, b.LeaveTypeID)
	if expectedVersion == 0 && found && current.Version != 0 {
		return false, nil
	}
	if expectedVersion != 0 && (!found || current.Version != expectedVersion) {
		return false, nil
	}
	t.balances[balanceKey(b.EmployeeID, b.LeaveTypeID)] = b
	return true, nil
}

func (t *memTx) ListTransactions(_ context.Context, filter Filter) ([]Transaction, error) {
	all := append(slices.Clone(t.store.txs), t.txs...)
	return filterTransactions(all, filter), nil
}

func filterTransactions(all []Transaction, filter Filter) []Transaction {
	var out []Transaction
	for _, tx := range all {
		if filter.EmployeeID != "" && tx.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.LeaveTypeID != "" && tx.LeaveTypeID != filter.LeaveTypeID {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, tx.Type) {
			continue
		}
		if !filter.From.IsZero() && tx.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !tx.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, tx)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}
