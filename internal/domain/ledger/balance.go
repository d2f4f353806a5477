package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type Balance struct {
	EmployeeID       string          `json:"employeeId"`
	LeaveTypeID      string          `json:"leaveTypeId"`
	EntitledDays     decimal.Decimal `json:"entitledDays"`
	AccruedDays      decimal.Decimal `json:"accruedDays"`
	TakenDays        decimal.Decimal `json:"takenDays"`
	ReservedDays     decimal.Decimal `json:"reservedDays"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	MaxBalanceCap    decimal.Decimal `json:"maxBalanceCap"`
	CarryForwardCap  decimal.Decimal `json:"carryForwardCap"`
	Version          int64           `json:"version"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func NewBalance(employeeID, leaveTypeID string) Balance {
	return Balance{EmployeeID: employeeID, LeaveTypeID: leaveTypeID}
}

// Raw is the unclamped balance: entitled + accrued - taken - reserved.
func (b Balance) Raw() decimal.Decimal {
	return b.EntitledDays.Add(b.AccruedDays).Sub(b.TakenDays).Sub(b.ReservedDays)
}

// Headroom is how much more can be credited before the cap is reached.
// Uncapped balances report ok=false.
func (b Balance) Headroom() (decimal.Decimal, bool) {
	if !b.MaxBalanceCap.IsPositive() {
		return decimal.Zero, false
	}
	room := b.MaxBalanceCap.Sub(b.Raw())
	if room.IsNegative() {
		return decimal.Zero, true
	}
	return room, true
}

// apply projects one transaction onto the balance components.
func (b *Balance) apply(tx Transaction) {
	switch tx.Type {
	case TypeAccrual:
		b.AccruedDays = b.AccruedDays.Add(tx.Amount)
	case TypeAdjustment, TypeRetro, TypeExpiry:
		b.EntitledDays = b.EntitledDays.Add(tx.Amount)
	case TypeTake, TypeEncashment:
		b.TakenDays = b.TakenDays.Sub(tx.Amount)
	case TypeReserveRelease:
		b.ReservedDays = b.ReservedDays.Sub(tx.Amount)
	}
	b.recompute()
}

// recompute clamps Raw into [0, MaxBalanceCap]; a zero cap means uncapped.
func (b *Balance) recompute() {
	available := b.Raw()
	if available.IsNegative() {
		available = decimal.Zero
	}
	if b.MaxBalanceCap.IsPositive() && available.GreaterThan(b.MaxBalanceCap) {
		available = b.MaxBalanceCap
	}
	b.AvailableBalance = available
}

func (b Balance) sameComponents(other Balance) bool {
	return b.EntitledDays.Equal(other.EntitledDays) &&
		b.AccruedDays.Equal(other.AccruedDays) &&
		b.TakenDays.Equal(other.TakenDays) &&
		b.ReservedDays.Equal(other.ReservedDays) &&
		b.AvailableBalance.Equal(other.AvailableBalance)
}

// Fold rebuilds a balance from its full transaction history. Caps are taken
// from base; its components are ignored.
func Fold(base Balance, txs []Transaction) Balance {
	out := NewBalance(base.EmployeeID, base.LeaveTypeID)
	out.MaxBalanceCap = base.MaxBalanceCap
	out.CarryForwardCap = base.CarryForwardCap
	out.Version = base.Version
	out.UpdatedAt = base.UpdatedAt
	for _, tx := range txs {
		out.apply(tx)
	}
	out.recompute()
	return out
}

func balanceKey(employeeID, leaveTypeID string) string {
	return employeeID + ":" + leaveTypeID
}
