package payroll

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"hrpay/internal/domain/apperr"
)

// MemoryStore keeps payroll configuration and runs in process. It backs tests
// and local runs without a database.
type MemoryStore struct {
	mu          sync.Mutex
	tax         []TaxBracket
	insurance   []InsuranceBracket
	settings    *Settings
	adjustments []Adjustment
	runs        map[string]Run
	payslips    map[string][]Payslip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: map[string]Run{}, payslips: map[string][]Payslip{}}
}

func (m *MemoryStore) TaxBrackets(context.Context) ([]TaxBracket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TaxBracket{}, m.tax...), nil
}

func (m *MemoryStore) ReplaceTaxBrackets(_ context.Context, brackets []TaxBracket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tax = append([]TaxBracket{}, brackets...)
	return nil
}

func (m *MemoryStore) InsuranceBrackets(context.Context) ([]InsuranceBracket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InsuranceBracket{}, m.insurance...), nil
}

func (m *MemoryStore) ReplaceInsuranceBrackets(_ context.Context, brackets []InsuranceBracket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insurance = append([]InsuranceBracket{}, brackets...)
	return nil
}

func (m *MemoryStore) Settings(context.Context) (Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		return Settings{}, false, nil
	}
	return *m.settings, true, nil
}

func (m *MemoryStore) SaveSettings(_ context.Context, settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &settings
	return nil
}

func (m *MemoryStore) CreateAdjustment(_ context.Context, adj Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustments = append(m.adjustments, adj)
	return nil
}

func (m *MemoryStore) ListAdjustments(_ context.Context, employeeID, period string) ([]Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Adjustment
	for _, adj := range m.adjustments {
		if adj.EmployeeID == employeeID && adj.Period == period {
			out = append(out, adj)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateRun(_ context.Context, run Run, payslips []Payslip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.runs {
		if existing.Period == run.Period {
			return apperr.Conflict("payroll_run_exists", fmt.Sprintf("a payroll run for %s already exists", run.Period))
		}
	}
	seen := make(map[string]bool, len(payslips))
	for _, slip := range payslips {
		if seen[slip.EmployeeID] {
			return apperr.Conflict("duplicate_payslip", "a payslip already exists for this run and employee").
				WithDetail("employeeId", slip.EmployeeID)
		}
		seen[slip.EmployeeID] = true
	}
	m.runs[run.ID] = run
	m.payslips[run.ID] = append([]Payslip{}, payslips...)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, apperr.NotFound("payroll_run_not_found", "payroll run not found")
	}
	return run, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]Run, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Run
	for _, run := range m.runs {
		if filter.Status == "" || run.Status == filter.Status {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	total := len(out)
	if filter.Offset >= total {
		return nil, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (m *MemoryStore) UpdateRun(_ context.Context, run Run, expected RunStatus, move *PayslipMove) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[run.ID].Status != expected {
		return false, nil
	}
	run.ApprovalHistory = nil
	m.runs[run.ID] = run
	if move != nil {
		for i, slip := range m.payslips[run.ID] {
			if slip.Status == move.From {
				m.payslips[run.ID][i].Status = move.To
			}
		}
	}
	return true, nil
}

func (m *MemoryStore) ListPayslips(_ context.Context, runID string) ([]Payslip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Payslip{}, m.payslips[runID]...), nil
}

func (m *MemoryStore) SavePayslip(_ context.Context, slip Payslip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.payslips[slip.RunID] {
		if existing.EmployeeID == slip.EmployeeID {
			m.payslips[slip.RunID][i] = slip
			return nil
		}
	}
	return apperr.NotFound("payslip_not_found", "payslip not found")
}
