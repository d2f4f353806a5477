package directory

import (
	"context"
	"fmt"
	"time"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/platform/crypto"
	"hrpay/internal/platform/db"
	"hrpay/internal/platform/querier"
)

// Store reads the directory tables. Bank accounts are stored sealed and
// opened with Cipher on read.
type Store struct {
	DB     querier.Querier
	Cipher *crypto.FieldCipher
}

func NewStore(q querier.Querier, cipher *crypto.FieldCipher) *Store {
	return &Store{DB: q, Cipher: cipher}
}

const employeeColumns = `id, full_name, employment_type, hire_date, termination_date, department,
  COALESCE(position_code, ''), base_salary, currency, bank_account_enc, status`

// ListActiveEmployees returns employees on staff at any point between from
// and to, both days included.
func (s *Store) ListActiveEmployees(ctx context.Context, from, to time.Time) ([]Employee, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+employeeColumns+`
    FROM employees
    WHERE hire_date <= $2
      AND (termination_date IS NULL OR termination_date >= $1)
    ORDER BY id
  `, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		emp, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, emp)
	}
	return out, rows.Err()
}

func (s *Store) GetEmployee(ctx context.Context, id string) (Employee, error) {
	emp, err := s.scan(s.DB.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return Employee{}, apperr.NotFound("employee_not_found", "employee not found")
	}
	return emp, err
}

type row interface {
	Scan(dest ...any) error
}

func (s *Store) scan(r row) (Employee, error) {
	var emp Employee
	var sealed []byte
	if err := r.Scan(&emp.ID, &emp.FullName, &emp.EmploymentType, &emp.HireDate, &emp.TerminationDate, &emp.Department,
		&emp.PositionCode, &emp.BaseSalary, &emp.Currency, &sealed, &emp.Status); err != nil {
		return Employee{}, err
	}
	account, err := s.Cipher.Open(sealed)
	if err != nil {
		return Employee{}, fmt.Errorf("employee %s bank account: %w", emp.ID, err)
	}
	emp.BankAccount = account
	return emp, nil
}

// NextHigherRole walks one level up the position hierarchy from any position
// held by role. An empty result means role is already at the top.
func (s *Store) NextHigherRole(ctx context.Context, role string) (string, error) {
	var next string
	err := s.DB.QueryRow(ctx, `
    SELECT parent.role
    FROM positions p
    JOIN positions parent ON parent.code = p.reports_to
    WHERE p.role = $1 AND parent.role <> $1
    ORDER BY p.code
    LIMIT 1
  `, role).Scan(&next)
	if db.IsNoRows(err) {
		return "", nil
	}
	return next, err
}
