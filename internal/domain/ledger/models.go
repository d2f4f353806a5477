// Package ledger is the append-only leave balance ledger. Every balance change
// is a transaction row; the leave_balances row is a projection of them that
// can be rebuilt at any time.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeAccrual        TransactionType = "accrual"
	TypeTake           TransactionType = "take"
	TypeAdjustment     TransactionType = "adjustment"
	TypeEncashment     TransactionType = "encashment"
	TypeRetro          TransactionType = "retro"
	TypeExpiry         TransactionType = "expiry"
	TypeReserveRelease TransactionType = "reserve_release"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeAccrual, TypeTake, TypeAdjustment, TypeEncashment, TypeRetro, TypeExpiry, TypeReserveRelease:
		return true
	}
	return false
}

// Consumes reports types that draw down the balance and are balance checked.
func (t TransactionType) Consumes() bool {
	return t == TypeTake || t == TypeEncashment
}

type Transaction struct {
	ID          string          `json:"transactionId"`
	EmployeeID  string          `json:"employeeId"`
	LeaveTypeID string          `json:"leaveTypeId"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"transactionType"`
	RequestID   string          `json:"requestId,omitempty"`
	PerformedBy string          `json:"performedBy"`
	Reason      string          `json:"reason"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Entry is a request to append one transaction.
type Entry struct {
	ID          string
	EmployeeID  string
	LeaveTypeID string
	Amount      decimal.Decimal
	Type        TransactionType
	RequestID   string
	PerformedBy string
	Reason      string
	// Override skips the sufficiency check. Callers must have authorized it.
	Override bool
}

type Result struct {
	TransactionID string      `json:"transactionId"`
	Replayed      bool        `json:"replayed"`
	Transaction   Transaction `json:"transaction"`
	Balance       Balance     `json:"balance"`
}

type Filter struct {
	EmployeeID  string
	LeaveTypeID string
	Types       []TransactionType
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

type Drift struct {
	Projected Balance `json:"projected"`
	Folded    Balance `json:"folded"`
	InSync    bool    `json:"inSync"`
}
