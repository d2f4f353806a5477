package entitlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/directory"
	"hrpay/internal/domain/ledger"
)

type Store interface {
	ListRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id string) (Rule, error)
	CreateRule(ctx context.Context, rule Rule) error
	// CreateLot is a no-op returning false when a lot already exists for the
	// same employee, leave type and year.
	CreateLot(ctx context.Context, lot Lot) (bool, error)
	DueLots(ctx context.Context, asOf time.Time) ([]Lot, error)
	MarkLotProcessed(ctx context.Context, id string, expired decimal.Decimal, at time.Time) error
}

type EmployeeSource interface {
	ListActiveEmployees(ctx context.Context, from, to time.Time) ([]directory.Employee, error)
}

type Ledger interface {
	Apply(ctx context.Context, entry ledger.Entry) (ledger.Result, error)
	Find(ctx context.Context, transactionID string) (ledger.Transaction, bool, error)
	Balance(ctx context.Context, employeeID, leaveTypeID string) (ledger.Balance, error)
	ConfigureCaps(ctx context.Context, employeeID, leaveTypeID string, maxCap, carryForwardCap decimal.Decimal) (ledger.Balance, error)
	Transactions(ctx context.Context, filter ledger.Filter) ([]ledger.Transaction, error)
}
