package directory

import (
	"context"
	"sort"
	"time"

	"hrpay/internal/domain/apperr"
)

// Roster is a fixed employee and position list. It stands in for the
// directory tables in tests and local runs.
type Roster struct {
	Employees []Employee
	Positions []Position
}

func (r Roster) ListActiveEmployees(_ context.Context, from, to time.Time) ([]Employee, error) {
	var out []Employee
	for _, e := range r.Employees {
		if e.HireDate.After(to) {
			continue
		}
		if e.TerminationDate != nil && e.TerminationDate.Before(from) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r Roster) GetEmployee(_ context.Context, id string) (Employee, error) {
	for _, e := range r.Employees {
		if e.ID == id {
			return e, nil
		}
	}
	return Employee{}, apperr.NotFound("employee_not_found", "employee not found")
}

// NextHigherRole mirrors Store.NextHigherRole over the in-memory positions.
func (r Roster) NextHigherRole(_ context.Context, role string) (string, error) {
	byCode := make(map[string]Position, len(r.Positions))
	for _, p := range r.Positions {
		byCode[p.Code] = p
	}
	held := make([]Position, 0, len(r.Positions))
	for _, p := range r.Positions {
		if p.Role == role {
			held = append(held, p)
		}
	}
	sort.Slice(held, func(i, j int) bool { return held[i].Code < held[j].Code })
	for _, p := range held {
		parent, ok := byCode[p.ReportsTo]
		if ok && parent.Role != role {
			return parent.Role, nil
		}
	}
	return "", nil
}
