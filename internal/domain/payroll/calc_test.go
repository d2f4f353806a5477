package payroll

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/attendance"
	"hrpay/internal/domain/calendar"
	"hrpay/internal/domain/directory"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func ptr(value string) *decimal.Decimal {
	v := d(value)
	return &v
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func egyptTax() []TaxBracket {
	return []TaxBracket{
		{MinIncome: d("0"), MaxIncome: ptr("15000"), Rate: d("0")},
		{MinIncome: d("15000"), MaxIncome: ptr("30000"), Rate: d("10")},
		{MinIncome: d("30000"), MaxIncome: ptr("45000"), Rate: d("15")},
		{MinIncome: d("45000"), Rate: d("20")},
	}
}

func egyptInsurance() []InsuranceBracket {
	return []InsuranceBracket{
		{MinSalary: d("2000"), MaxSalary: ptr("12600"), EmployeeRate: d("11"), EmployerRate: d("18.75")},
	}
}

func june(t *testing.T) calendar.Range {
	t.Helper()
	period, err := calendar.ParseMonth("2025-06")
	require.NoError(t, err)
	return period
}

func baseInput(t *testing.T, salary string) Input {
	return Input{
		Employee: directory.Employee{
			ID:         "emp-1",
			BaseSalary: d(salary),
			Currency:   "EGP",
			HireDate:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Period:            june(t),
		Settings:          DefaultSettings(),
		TaxBrackets:       egyptTax(),
		InsuranceBrackets: egyptInsurance(),
	}
}

func TestComputePayslip(t *testing.T) {
	in := baseInput(t, "15000")
	in.Adjustments = []Adjustment{
		{Kind: AdjustmentAllowance, Amount: d("1000")},
		{Kind: AdjustmentRefund, Amount: d("300")},
	}
	in.Time = attendance.Impact{
		Overtime:  []attendance.Overtime{{Hours: d("4")}},
		Penalties: []attendance.Penalty{{Amount: d("100"), Reason: "late arrival"}},
	}
	in.Leave = LeaveImpact{UnpaidDays: d("1.5"), EncashedDays: d("2")}

	slip := ComputePayslip(in)

	assert.Equal(t, PayslipCalculated, slip.Status)
	assertMoney(t, "375", slip.OvertimePay)
	assertMoney(t, "1000", slip.LeaveEncashment)
	assertMoney(t, "17675", slip.GrossSalary)
	assertMoney(t, "267.5", slip.TaxDeduction)
	require.Len(t, slip.AppliedTaxBrackets, 2)
	assertMoney(t, "2675", slip.AppliedTaxBrackets[1].TaxableAmount)
	// above the top insurance bracket the ceiling is insured
	assertMoney(t, "1386", slip.InsuranceDeduction)
	assertMoney(t, "2362.5", slip.EmployerInsurance)
	assertMoney(t, "750", slip.LeaveDeductions)
	assertMoney(t, "100", slip.TimePenalties)
	assertMoney(t, "2503.5", slip.TotalDeductions)
	assertMoney(t, "15171.5", slip.NetSalary)
	assert.False(t, slip.MinimumWageAlert)
}

func TestComputePayslipIgnoresNegativeRefunds(t *testing.T) {
	in := baseInput(t, "10000")
	in.Adjustments = []Adjustment{
		{Kind: AdjustmentRefund, Amount: d("200")},
		{Kind: AdjustmentRefund, Amount: d("-500")},
	}

	slip := ComputePayslip(in)

	assertMoney(t, "0", slip.Refunds)
	assertMoney(t, "10000", slip.GrossSalary)
}

func TestTaxIsMonotonic(t *testing.T) {
	low := ComputePayslip(baseInput(t, "15000"))
	high := ComputePayslip(baseInput(t, "30000"))

	assertMoney(t, "0", low.TaxDeduction)
	assertMoney(t, "1500", high.TaxDeduction)

	previous := decimal.Zero
	for salary := int64(0); salary <= 80000; salary += 2500 {
		tax, _ := computeTax(decimal.NewFromInt(salary), egyptTax())
		if tax.LessThan(previous) {
			t.Fatalf("tax dropped from %s to %s at gross %d", previous, tax, salary)
		}
		previous = tax
	}
}

func TestComputePayslipIsDeterministic(t *testing.T) {
	in := baseInput(t, "18250.75")
	in.Time = attendance.Impact{Overtime: []attendance.Overtime{{Hours: d("3.5"), RateMultiplier: d("2")}}}
	in.Leave = LeaveImpact{UnpaidDays: d("0.5")}

	assert.Equal(t, ComputePayslip(in), ComputePayslip(in))
}

func TestMinimumWageAlertKeepsNet(t *testing.T) {
	in := baseInput(t, "3000")
	in.Settings.MinimumWage = d("6000")

	slip := ComputePayslip(in)

	assert.True(t, slip.MinimumWageAlert)
	assertMoney(t, "330", slip.InsuranceDeduction)
	assertMoney(t, "2670", slip.NetSalary)
}

func TestInsuranceBelowFirstBracket(t *testing.T) {
	slip := ComputePayslip(baseInput(t, "1500"))

	assert.Nil(t, slip.InsuranceBracket)
	assertMoney(t, "0", slip.InsuranceDeduction)
}

func TestLeaveDeductionFollowsPayCalendar(t *testing.T) {
	cases := []struct {
		calendar PayCalendar
		want     string
	}{
		{calendar: CalendarDays, want: "700"},
		{calendar: CalendarFixed30, want: "700"},
		{calendar: CalendarWorking, want: "1000"},
	}
	for _, tc := range cases {
		t.Run(string(tc.calendar), func(t *testing.T) {
			in := baseInput(t, "21000")
			in.Settings.PayCalendar = tc.calendar
			in.Leave = LeaveImpact{UnpaidDays: d("1")}

			assertMoney(t, tc.want, ComputePayslip(in).LeaveDeductions)
		})
	}
}

func TestNormalizeTaxBrackets(t *testing.T) {
	brackets := []TaxBracket{
		{MinIncome: d("15000"), Rate: d("10")},
		{MinIncome: d("0"), MaxIncome: ptr("15000"), Rate: d("0")},
	}
	require.NoError(t, NormalizeTaxBrackets(brackets))
	assertMoney(t, "0", brackets[0].MinIncome)

	overlapping := []TaxBracket{
		{MinIncome: d("0"), MaxIncome: ptr("20000"), Rate: d("0")},
		{MinIncome: d("15000"), Rate: d("10")},
	}
	assert.ErrorIs(t, NormalizeTaxBrackets(overlapping), apperr.Validation("overlapping_tax_brackets", ""))

	openMiddle := []TaxBracket{
		{MinIncome: d("0"), Rate: d("0")},
		{MinIncome: d("15000"), Rate: d("10")},
	}
	assert.ErrorIs(t, NormalizeTaxBrackets(openMiddle), apperr.ErrValidation)

	badRate := []TaxBracket{{MinIncome: d("0"), Rate: d("120")}}
	assert.ErrorIs(t, NormalizeTaxBrackets(badRate), apperr.Validation("invalid_tax_rate", ""))
}

func TestSettingsNormalize(t *testing.T) {
	settings := DefaultSettings()
	settings.Currency = " usd "
	require.NoError(t, settings.Normalize())
	assert.Equal(t, "USD", settings.Currency)

	settings.PayCalendar = "lunar"
	assert.ErrorIs(t, settings.Normalize(), apperr.Validation("invalid_pay_calendar", ""))
}

func TestSettingsRejectUnknownCurrency(t *testing.T) {
	settings := DefaultSettings()
	settings.Currency = "ZZQ"
	assert.ErrorIs(t, settings.Normalize(), apperr.Validation("invalid_currency", ""))
}
