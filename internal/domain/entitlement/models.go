// Package entitlement holds entitlement rules and the accrual, year-end and
// carry-forward expiry jobs that turn them into ledger transactions.
package entitlement

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"hrpay/internal/domain/apperr"
)

type CarryForwardPolicy string

const (
	CarryForwardNone      CarryForwardPolicy = "none"
	CarryForwardLimited   CarryForwardPolicy = "limited"
	CarryForwardUnlimited CarryForwardPolicy = "unlimited"
)

type AccrualFrequency string

const (
	AccrualMonthly   AccrualFrequency = "monthly"
	AccrualQuarterly AccrualFrequency = "quarterly"
	AccrualAnnual    AccrualFrequency = "annual"
)

// periods returns accrual periods per year and months per period.
func (f AccrualFrequency) periods() (perYear int64, spanMonths int) {
	switch f {
	case AccrualQuarterly:
		return 4, 3
	case AccrualAnnual:
		return 1, 12
	default:
		return 12, 1
	}
}

// accruesIn reports whether an accrual period starts in month.
func (f AccrualFrequency) accruesIn(month time.Month) bool {
	_, span := f.periods()
	return (int(month)-1)%span == 0
}

type Rule struct {
	ID                       string             `json:"ruleId"`
	Name                     string             `json:"name" validate:"required"`
	LeaveTypeID              string             `json:"leaveTypeId" validate:"required"`
	EligibleEmploymentTypes  []string           `json:"eligibleEmploymentTypes"`
	MinTenureMonths          int                `json:"minTenureMonths" validate:"gte=0"`
	DefaultEntitlementDays   decimal.Decimal    `json:"defaultEntitlementDays"`
	AccrualFrequency         AccrualFrequency   `json:"accrualFrequency" validate:"omitempty,oneof=monthly quarterly annual"`
	IsProrated               bool               `json:"isProrated"`
	ExpiryMonths             int                `json:"expiryMonths" validate:"gte=0"`
	CarryForwardPolicy       CarryForwardPolicy `json:"carryForwardPolicy" validate:"omitempty,oneof=none limited unlimited"`
	CarryForwardMaxDays      decimal.Decimal    `json:"carryForwardMaxDays"`
	CarryForwardExpiryMonths int                `json:"carryForwardExpiryMonths" validate:"gte=0"`
	MaxBalanceCap            decimal.Decimal    `json:"maxBalanceCap"`
	CreatedAt                time.Time          `json:"createdAt"`
}

// Matches is true when the rule applies to employmentType. An empty
// eligibility list matches everyone.
func (r Rule) Matches(employmentType string) bool {
	if len(r.EligibleEmploymentTypes) == 0 {
		return true
	}
	return slices.ContainsFunc(r.EligibleEmploymentTypes, func(t string) bool {
		return strings.EqualFold(t, employmentType)
	})
}

// CarryAmount is how much of an unused balance survives year end.
func (r Rule) CarryAmount(unused decimal.Decimal) decimal.Decimal {
	if !unused.IsPositive() {
		return decimal.Zero
	}
	switch r.CarryForwardPolicy {
	case CarryForwardUnlimited:
		return unused
	case CarryForwardLimited:
		return decimal.Min(unused, r.CarryForwardMaxDays)
	default:
		return decimal.Zero
	}
}

func (r Rule) carryForwardCap() decimal.Decimal {
	if r.CarryForwardPolicy == CarryForwardLimited {
		return r.CarryForwardMaxDays
	}
	return decimal.Zero
}

// carryExpiryMonths falls back to ExpiryMonths when the carry-forward
// specific value is unset. Zero means carried days never expire.
func (r Rule) carryExpiryMonths() int {
	if r.CarryForwardExpiryMonths > 0 {
		return r.CarryForwardExpiryMonths
	}
	return r.ExpiryMonths
}

// Normalize fills defaults and checks the fields tags cannot express.
func (r *Rule) Normalize() error {
	if r.AccrualFrequency == "" {
		r.AccrualFrequency = AccrualMonthly
	}
	if r.CarryForwardPolicy == "" {
		r.CarryForwardPolicy = CarryForwardNone
	}
	switch {
	case strings.TrimSpace(r.Name) == "":
		return apperr.Validation("name_required", "name is required")
	case strings.TrimSpace(r.LeaveTypeID) == "":
		return apperr.Validation("leave_type_required", "leaveTypeId is required")
	case r.DefaultEntitlementDays.IsNegative():
		return apperr.Validation("invalid_entitlement", "defaultEntitlementDays must not be negative")
	case r.MaxBalanceCap.IsNegative() || r.CarryForwardMaxDays.IsNegative():
		return apperr.Validation("invalid_cap", "caps must not be negative")
	case r.MinTenureMonths < 0 || r.ExpiryMonths < 0 || r.CarryForwardExpiryMonths < 0:
		return apperr.Validation("invalid_months", "month values must not be negative")
	case r.CarryForwardPolicy == CarryForwardLimited && !r.CarryForwardMaxDays.IsPositive():
		return apperr.Validation("carry_forward_max_required", "carryForwardMaxDays is required for a limited policy")
	}
	switch r.AccrualFrequency {
	case AccrualMonthly, AccrualQuarterly, AccrualAnnual:
	default:
		return apperr.Validation("invalid_frequency", "accrualFrequency must be monthly, quarterly or annual")
	}
	switch r.CarryForwardPolicy {
	case CarryForwardNone, CarryForwardLimited, CarryForwardUnlimited:
	default:
		return apperr.Validation("invalid_carry_forward_policy", "carryForwardPolicy must be none, limited or unlimited")
	}
	return nil
}

// Lot is a carried-forward amount waiting for its expiry date.
type Lot struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employeeId"`
	LeaveTypeID string          `json:"leaveTypeId"`
	RuleID      string          `json:"ruleId"`
	Year        int             `json:"year"`
	CarriedDays decimal.Decimal `json:"carriedDays"`
	ExpiresOn   time.Time       `json:"expiresOn"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
	ExpiredDays decimal.Decimal `json:"expiredDays"`
}
