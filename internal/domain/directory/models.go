// Package directory reads employees and positions owned by the Employee and
// Organization service. This service never writes them.
package directory

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusActive     = "active"
	StatusTerminated = "terminated"
)

type Employee struct {
	ID              string          `json:"id"`
	FullName        string          `json:"fullName"`
	EmploymentType  string          `json:"employmentType"`
	HireDate        time.Time       `json:"hireDate"`
	TerminationDate *time.Time      `json:"terminationDate,omitempty"`
	Department      string          `json:"department"`
	PositionCode    string          `json:"positionCode"`
	BaseSalary      decimal.Decimal `json:"baseSalary"`
	Currency        string          `json:"currency"`
	BankAccount     string          `json:"bankAccount,omitempty"`
	Status          string          `json:"status"`
}

// EmployedOn reports whether the employee was on staff on day.
func (e Employee) EmployedOn(day time.Time) bool {
	if day.Before(e.HireDate) {
		return false
	}
	return e.TerminationDate == nil || !day.After(*e.TerminationDate)
}

// TenureMonths counts whole months between the hire date and asOf.
func (e Employee) TenureMonths(asOf time.Time) int {
	if asOf.Before(e.HireDate) {
		return 0
	}
	months := (asOf.Year()-e.HireDate.Year())*12 + int(asOf.Month()) - int(e.HireDate.Month())
	if asOf.Day() < e.HireDate.Day() {
		months--
	}
	return max(months, 0)
}

type Position struct {
	Code      string `json:"code"`
	Title     string `json:"title"`
	Role      string `json:"role"`
	ReportsTo string `json:"reportsTo,omitempty"`
}
