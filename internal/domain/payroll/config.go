package payroll

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/calendar"
)

var hundred = decimal.NewFromInt(100)

// DefaultSettings apply until the company settings row is first saved.
func DefaultSettings() Settings {
	return Settings{
		Currency:                  "EGP",
		PayCalendar:               CalendarDays,
		StandardHoursPerDay:       decimal.NewFromInt(8),
		OvertimeDefaultMultiplier: decimal.RequireFromString("1.5"),
	}
}

func (s *Settings) Normalize() error {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(s.Currency)))
	if err != nil {
		return apperr.Validation("invalid_currency", fmt.Sprintf("currency %q is not an ISO 4217 code", s.Currency))
	}
	s.Currency = unit.String()
	switch s.PayCalendar {
	case CalendarDays, CalendarFixed30, CalendarWorking:
	default:
		return apperr.Validation("invalid_pay_calendar", fmt.Sprintf("payCalendar must be %s, %s or %s", CalendarDays, CalendarFixed30, CalendarWorking))
	}
	if s.MinimumWage.IsNegative() {
		return apperr.Validation("invalid_minimum_wage", "minimumWage must not be negative")
	}
	if !s.StandardHoursPerDay.IsPositive() {
		return apperr.Validation("invalid_standard_hours", "standardHoursPerDay must be positive")
	}
	if s.OvertimeDefaultMultiplier.LessThan(decimal.NewFromInt(1)) {
		return apperr.Validation("invalid_overtime_multiplier", "overtimeDefaultMultiplier must be at least 1")
	}
	return nil
}

// DaysInPeriod is the divisor that turns a monthly salary into a daily rate.
func (s Settings) DaysInPeriod(period calendar.Range) decimal.Decimal {
	switch s.PayCalendar {
	case CalendarFixed30:
		return decimal.NewFromInt(30)
	case CalendarWorking:
		return decimal.NewFromInt(int64(period.WorkingDays()))
	default:
		return decimal.NewFromInt(int64(period.Days()))
	}
}

// NormalizeTaxBrackets sorts brackets by lower bound. Only the last bracket
// may be open ended and no two may overlap.
func NormalizeTaxBrackets(brackets []TaxBracket) error {
	sort.SliceStable(brackets, func(i, j int) bool { return brackets[i].MinIncome.LessThan(brackets[j].MinIncome) })
	bounds := make([]bound, len(brackets))
	for i, b := range brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThan(hundred) {
			return apperr.Validation("invalid_tax_rate", fmt.Sprintf("tax bracket %d rate must be between 0 and 100", i+1))
		}
		bounds[i] = bound{min: b.MinIncome, max: b.MaxIncome}
	}
	return checkBounds("tax", bounds)
}

func NormalizeInsuranceBrackets(brackets []InsuranceBracket) error {
	sort.SliceStable(brackets, func(i, j int) bool { return brackets[i].MinSalary.LessThan(brackets[j].MinSalary) })
	bounds := make([]bound, len(brackets))
	for i, b := range brackets {
		for _, rate := range []decimal.Decimal{b.EmployeeRate, b.EmployerRate} {
			if rate.IsNegative() || rate.GreaterThan(hundred) {
				return apperr.Validation("invalid_insurance_rate", fmt.Sprintf("insurance bracket %d rates must be between 0 and 100", i+1))
			}
		}
		bounds[i] = bound{min: b.MinSalary, max: b.MaxSalary}
	}
	return checkBounds("insurance", bounds)
}

type bound struct {
	min decimal.Decimal
	max *decimal.Decimal
}

func checkBounds(kind string, bounds []bound) error {
	for i, b := range bounds {
		if b.min.IsNegative() {
			return apperr.Validation("invalid_"+kind+"_brackets", fmt.Sprintf("%s bracket %d starts below zero", kind, i+1))
		}
		if b.max != nil && !b.max.GreaterThan(b.min) {
			return apperr.Validation("invalid_"+kind+"_brackets", fmt.Sprintf("%s bracket %d must end above its start", kind, i+1))
		}
		if i == len(bounds)-1 {
			break
		}
		if b.max == nil {
			return apperr.Validation("invalid_"+kind+"_brackets", fmt.Sprintf("only the last %s bracket may be open ended", kind))
		}
		if bounds[i+1].min.LessThan(*b.max) {
			return apperr.Validation("overlapping_"+kind+"_brackets", fmt.Sprintf("%s brackets %d and %d overlap", kind, i+1, i+2))
		}
	}
	return nil
}
