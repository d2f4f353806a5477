// Package attendance reads the Time Management collaborator: penalties,
// overtime and permission hours recorded against an employee.
package attendance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/platform/querier"
)

type Penalty struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type Overtime struct {
	Date           time.Time       `json:"date"`
	Hours          decimal.Decimal `json:"hours"`
	RateMultiplier decimal.Decimal `json:"rateMultiplier"`
}

type Permission struct {
	Date  time.Time       `json:"date"`
	Hours decimal.Decimal `json:"hours"`
}

// Impact is everything Time Management reports for one employee and period.
type Impact struct {
	Penalties   []Penalty    `json:"penalties"`
	Overtime    []Overtime   `json:"overtime"`
	Permissions []Permission `json:"permissions"`
}

func (i Impact) TotalPenalties() decimal.Decimal {
	total := decimal.Zero
	for _, p := range i.Penalties {
		total = total.Add(p.Amount)
	}
	return total
}

func (i Impact) PermissionHours() decimal.Decimal {
	total := decimal.Zero
	for _, p := range i.Permissions {
		total = total.Add(p.Hours)
	}
	return total
}

type Store struct {
	DB querier.Querier
}

func NewStore(q querier.Querier) *Store {
	return &Store{DB: q}
}

// Impact loads entries dated within [start, end].
func (s *Store) Impact(ctx context.Context, employeeID string, start, end time.Time) (Impact, error) {
	var out Impact

	rows, err := s.DB.Query(ctx, `
    SELECT entry_date, amount, reason FROM attendance_penalties
    WHERE employee_id = $1 AND entry_date BETWEEN $2 AND $3 ORDER BY entry_date
  `, employeeID, start, end)
	if err != nil {
		return Impact{}, err
	}
	for rows.Next() {
		var p Penalty
		if err := rows.Scan(&p.Date, &p.Amount, &p.Reason); err != nil {
			rows.Close()
			return Impact{}, err
		}
		out.Penalties = append(out.Penalties, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Impact{}, err
	}

	rows, err = s.DB.Query(ctx, `
    SELECT entry_date, hours, rate_multiplier FROM attendance_overtime
    WHERE employee_id = $1 AND entry_date BETWEEN $2 AND $3 ORDER BY entry_date
  `, employeeID, start, end)
	if err != nil {
		return Impact{}, err
	}
	for rows.Next() {
		var o Overtime
		if err := rows.Scan(&o.Date, &o.Hours, &o.RateMultiplier); err != nil {
			rows.Close()
			return Impact{}, err
		}
		out.Overtime = append(out.Overtime, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Impact{}, err
	}

	rows, err = s.DB.Query(ctx, `
    SELECT entry_date, hours FROM attendance_permissions
    WHERE employee_id = $1 AND entry_date BETWEEN $2 AND $3 ORDER BY entry_date
  `, employeeID, start, end)
	if err != nil {
		return Impact{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Date, &p.Hours); err != nil {
			return Impact{}, err
		}
		out.Permissions = append(out.Permissions, p)
	}
	return out, rows.Err()
}
