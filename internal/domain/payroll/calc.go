package payroll

import (
	"github.com/shopspring/decimal"

	"hrpay/internal/domain/attendance"
	"hrpay/internal/domain/calendar"
	"hrpay/internal/domain/directory"
)

// LeaveImpact is what the leave side reports for one employee and period.
type LeaveImpact struct {
	UnpaidDays   decimal.Decimal `json:"unpaidDays"`
	EncashedDays decimal.Decimal `json:"encashedDays"`
}

// Input is everything a payslip depends on. TaxBrackets and
// InsuranceBrackets must already be normalized.
type Input struct {
	Employee          directory.Employee
	Period            calendar.Range
	Settings          Settings
	TaxBrackets       []TaxBracket
	InsuranceBrackets []InsuranceBracket
	Adjustments       []Adjustment
	Time              attendance.Impact
	Leave             LeaveImpact
}

// ComputePayslip is a pure function of its input. The result carries the
// money figures and status only; callers assign identity.
func ComputePayslip(in Input) Payslip {
	base := in.Employee.BaseSalary
	dailyRate := decimal.Zero
	if days := in.Settings.DaysInPeriod(in.Period); days.IsPositive() {
		dailyRate = base.Div(days)
	}
	hourlyRate := decimal.Zero
	if in.Settings.StandardHoursPerDay.IsPositive() {
		hourlyRate = dailyRate.Div(in.Settings.StandardHoursPerDay)
	}

	overtime := decimal.Zero
	for _, entry := range in.Time.Overtime {
		multiplier := entry.RateMultiplier
		if !multiplier.IsPositive() {
			multiplier = in.Settings.OvertimeDefaultMultiplier
		}
		overtime = overtime.Add(hourlyRate.Mul(entry.Hours).Mul(multiplier))
	}

	allowances, bonus, refunds := decimal.Zero, decimal.Zero, decimal.Zero
	for _, adj := range in.Adjustments {
		switch adj.Kind {
		case AdjustmentAllowance:
			allowances = allowances.Add(adj.Amount)
		case AdjustmentSigningBonus:
			bonus = bonus.Add(adj.Amount)
		case AdjustmentRefund:
			refunds = refunds.Add(adj.Amount)
		}
	}
	if refunds.IsNegative() {
		refunds = decimal.Zero
	}

	slip := Payslip{
		EmployeeID:      in.Employee.ID,
		Currency:        in.Employee.Currency,
		BaseSalary:      round(base),
		Allowances:      round(allowances),
		OvertimePay:     round(overtime),
		SigningBonus:    round(bonus),
		LeaveEncashment: round(dailyRate.Mul(in.Leave.EncashedDays)),
		Refunds:         round(refunds),
		UnpaidDays:      in.Leave.UnpaidDays,
		LeaveDeductions: round(dailyRate.Mul(in.Leave.UnpaidDays)),
		TimePenalties:   round(in.Time.TotalPenalties()),
		Status:          PayslipCalculated,
	}
	if slip.Currency == "" {
		slip.Currency = in.Settings.Currency
	}
	slip.GrossSalary = slip.BaseSalary.Add(slip.Allowances).Add(slip.OvertimePay).
		Add(slip.SigningBonus).Add(slip.LeaveEncashment).Add(slip.Refunds)

	slip.TaxDeduction, slip.AppliedTaxBrackets = computeTax(slip.GrossSalary, in.TaxBrackets)
	slip.InsuranceDeduction, slip.EmployerInsurance, slip.InsuranceBracket = computeInsurance(base, in.InsuranceBrackets)

	slip.TotalDeductions = slip.TaxDeduction.Add(slip.InsuranceDeduction).Add(slip.LeaveDeductions).Add(slip.TimePenalties)
	slip.NetSalary = slip.GrossSalary.Sub(slip.TotalDeductions)
	slip.MinimumWageAlert = in.Settings.MinimumWage.IsPositive() && slip.NetSalary.LessThan(in.Settings.MinimumWage)
	return slip
}

// computeTax accumulates tax marginally: each bracket taxes the part of gross
// that falls inside it.
func computeTax(gross decimal.Decimal, brackets []TaxBracket) (decimal.Decimal, []AppliedBracket) {
	total := decimal.Zero
	applied := []AppliedBracket{}
	for _, b := range brackets {
		if !gross.GreaterThan(b.MinIncome) {
			break
		}
		upper := gross
		if b.MaxIncome != nil && b.MaxIncome.LessThan(gross) {
			upper = *b.MaxIncome
		}
		taxable := upper.Sub(b.MinIncome)
		tax := round(taxable.Mul(b.Rate).Div(hundred))
		total = total.Add(tax)
		applied = append(applied, AppliedBracket{
			MinIncome:     b.MinIncome,
			MaxIncome:     b.MaxIncome,
			Rate:          b.Rate,
			TaxableAmount: round(taxable),
			Tax:           tax,
		})
	}
	return total, applied
}

// computeInsurance applies the bracket containing the base salary. A salary
// above the top bracket is insured at that bracket's ceiling.
func computeInsurance(base decimal.Decimal, brackets []InsuranceBracket) (employee, employer decimal.Decimal, used *InsuranceBracket) {
	if len(brackets) == 0 || base.LessThan(brackets[0].MinSalary) {
		return decimal.Zero, decimal.Zero, nil
	}
	insurable := base
	for i := range brackets {
		b := brackets[i]
		if !base.LessThan(b.MinSalary) && (b.MaxSalary == nil || !base.GreaterThan(*b.MaxSalary)) {
			used = &b
			break
		}
	}
	if used == nil {
		top := brackets[len(brackets)-1]
		if top.MaxSalary == nil || base.LessThan(*top.MaxSalary) {
			// falls in a gap between brackets
			return decimal.Zero, decimal.Zero, nil
		}
		insurable = *top.MaxSalary
		used = &top
	}
	employee = round(insurable.Mul(used.EmployeeRate).Div(hundred))
	employer = round(insurable.Mul(used.EmployerRate).Div(hundred))
	return employee, employer, used
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
