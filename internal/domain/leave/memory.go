package leave

import (
	"context"
	"sort"
	"sync"
	"time"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/calendar"
)

// MemoryStore keeps leave types, holidays and requests in process. It backs
// tests and local runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	types    map[string]LeaveType
	holidays []Holiday
	requests map[string]Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{types: map[string]LeaveType{}, requests: map[string]Request{}}
}

func (m *MemoryStore) ListTypes(context.Context) ([]LeaveType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LeaveType, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetType(_ context.Context, id string) (LeaveType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[id]
	if !ok {
		return LeaveType{}, apperr.NotFound("leave_type_not_found", "leave type not found")
	}
	return t, nil
}

func (m *MemoryStore) CreateType(_ context.Context, payload LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.types {
		if t.Code == payload.Code {
			return apperr.Conflict("leave_type_exists", "a leave type with this code already exists")
		}
	}
	m.types[payload.ID] = payload
	return nil
}

func (m *MemoryStore) ListHolidays(_ context.Context, from, to time.Time) ([]Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	span := calendar.Range{Start: from, End: to}
	var out []Holiday
	for _, h := range m.holidays {
		if span.Contains(h.Date) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) HolidayDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	holidays, err := m.ListHolidays(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(holidays))
	for _, h := range holidays {
		out = append(out, h.Date)
	}
	return out, nil
}

func (m *MemoryStore) CreateHoliday(_ context.Context, holiday Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.holidays {
		if h.Date.Equal(holiday.Date) {
			return apperr.Conflict("holiday_exists", "a holiday already exists on this date")
		}
	}
	m.holidays = append(m.holidays, holiday)
	return nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return Request{}, apperr.NotFound("leave_request_not_found", "leave request not found")
	}
	return req, nil
}

// ListRequests returns the newest requests first.
func (m *MemoryStore) ListRequests(_ context.Context, filter Filter) ([]Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, req := range m.requests {
		if (filter.EmployeeID == "" || req.EmployeeID == filter.EmployeeID) && (filter.Status == "" || req.Status == filter.Status) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
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

func (m *MemoryStore) CountOverlapping(_ context.Context, employeeID string, start, end time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, req := range m.requests {
		active := req.Status == StatusPending || req.Status == StatusApproved
		if active && req.EmployeeID == employeeID && !req.StartDate.After(end) && !req.EndDate.Before(start) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, from, to Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = to
	req.DecidedAt = &at
	m.requests[id] = req
	return true, nil
}

func (m *MemoryStore) ApprovedUnpaid(_ context.Context, employeeID string, from, to time.Time) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, req := range m.requests {
		if req.EmployeeID == employeeID && req.Status == StatusApproved && !req.Paid && !req.StartDate.After(to) && !req.EndDate.Before(from) {
			out = append(out, req)
		}
	}
	return out, nil
}
