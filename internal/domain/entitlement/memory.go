package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/apperr"
)

// MemoryStore keeps rules and carry-forward lots in process. It backs tests
// and local runs without a database.
type MemoryStore struct {
	mu    sync.Mutex
	rules []Rule
	lots  []Lot
}

func NewMemoryStore(rules ...Rule) *MemoryStore {
	return &MemoryStore{rules: append([]Rule(nil), rules...)}
}

func (m *MemoryStore) ListRules(context.Context) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Rule(nil), m.rules...), nil
}

func (m *MemoryStore) GetRule(_ context.Context, id string) (Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return Rule{}, apperr.NotFound("entitlement_rule_not_found", "entitlement rule not found")
}

func (m *MemoryStore) CreateRule(_ context.Context, rule Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
	return nil
}

// CreateLot reports false when the employee already has a lot for the
// leave type and year.
func (m *MemoryStore) CreateLot(_ context.Context, lot Lot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lots {
		if l.EmployeeID == lot.EmployeeID && l.LeaveTypeID == lot.LeaveTypeID && l.Year == lot.Year {
			return false, nil
		}
	}
	m.lots = append(m.lots, lot)
	return true, nil
}

func (m *MemoryStore) DueLots(_ context.Context, asOf time.Time) ([]Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lot
	for _, l := range m.lots {
		if l.ProcessedAt == nil && !l.ExpiresOn.After(asOf) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkLotProcessed(_ context.Context, id string, expired decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lots {
		if m.lots[i].ID == id {
			m.lots[i].ProcessedAt = &at
			m.lots[i].ExpiredDays = expired
		}
	}
	return nil
}
