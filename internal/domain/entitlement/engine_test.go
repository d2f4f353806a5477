package entitlement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/directory"
	"hrpay/internal/domain/ledger"
	"hrpay/internal/platform/events"
	"hrpay/internal/platform/jobs"
)

type staticEmployees []directory.Employee

func (s staticEmployees) ListActiveEmployees(_ context.Context, from, to time.Time) ([]directory.Employee, error) {
	var out []directory.Employee
	for _, e := range s {
		if e.HireDate.After(to) {
			continue
		}
		if e.TerminationDate != nil && e.TerminationDate.Before(from) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type fixture struct {
	engine   *Engine
	ledger   *ledger.Service
	store    *MemoryStore
	recorder *events.Recorder
	clock    *time.Time
}

func newFixture(t *testing.T, employees []directory.Employee, rules ...Rule) fixture {
	t.Helper()
	clock := time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)
	ledgerSvc := ledger.NewService(ledger.NewMemoryStore(), ledger.WithClock(func() time.Time { return clock }))
	store := NewMemoryStore(rules...)
	recorder := &events.Recorder{}
	engine := NewEngine(store, staticEmployees(employees), ledgerSvc, jobs.NewRunner(jobs.NewMemoryStore()), recorder)
	engine.now = func() time.Time { return clock }
	return fixture{engine: engine, ledger: ledgerSvc, store: store, recorder: recorder, clock: &clock}
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func date(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func annualRule() Rule {
	return Rule{
		ID:                      "rule-annual",
		Name:                    "Annual leave",
		LeaveTypeID:             "annual",
		EligibleEmploymentTypes: []string{"full_time"},
		DefaultEntitlementDays:  d("21"),
		AccrualFrequency:        AccrualMonthly,
		CarryForwardPolicy:      CarryForwardLimited,
		CarryForwardMaxDays:     d("5"),
		ExpiryMonths:            3,
	}
}

func balanceOf(t *testing.T, f fixture, emp string) ledger.Balance {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), emp, "annual")
	require.NoError(t, err)
	return bal
}

func TestMonthlyAccrualPartialBatch(t *testing.T) {
	var employees []directory.Employee
	for i := 1; i <= 9; i++ {
		employees = append(employees, directory.Employee{ID: fmt.Sprintf("emp-%d", i), EmploymentType: "full_time", HireDate: date(2020, 1, 1)})
	}
	employees = append(employees, directory.Employee{ID: "emp-10", EmploymentType: "contractor", HireDate: date(2020, 1, 1)})
	f := newFixture(t, employees, annualRule())

	run, err := f.engine.RunAccrual(context.Background(), jobs.JobLeaveAccrual, "2025-03", "hr-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPartial, run.Status)
	assert.Equal(t, 9, run.Summary.Processed)
	assert.Equal(t, 1, run.Summary.Failed)
	require.Len(t, run.Summary.Failures, 1)
	assert.Equal(t, "emp-10", run.Summary.Failures[0].Subject)

	for i := 1; i <= 9; i++ {
		assert.True(t, d("1.75").Equal(balanceOf(t, f, fmt.Sprintf("emp-%d", i)).AvailableBalance))
	}
	assert.Len(t, f.recorder.OfType(events.AccrualJobCompleted), 1)
}

func TestAccrualRerunIsIdempotent(t *testing.T) {
	f := newFixture(t, []directory.Employee{{ID: "emp-1", EmploymentType: "full_time", HireDate: date(2020, 1, 1)}}, annualRule())
	ctx := context.Background()

	for range 2 {
		run, err := f.engine.RunAccrual(ctx, jobs.JobLeaveAccrual, "2025-03", "hr-1")
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusSuccess, run.Status)
	}

	bal := balanceOf(t, f, "emp-1")
	if !bal.AccruedDays.Equal(d("1.75")) {
		t.Fatalf("expected a single accrual of 1.75, got %s", bal.AccruedDays)
	}
}

func TestAccrualUsesFirstMatchingRulePerLeaveType(t *testing.T) {
	catchAll := Rule{
		ID:                     "rule-annual-default",
		Name:                   "Annual leave default",
		LeaveTypeID:            "annual",
		DefaultEntitlementDays: d("12"),
		AccrualFrequency:       AccrualMonthly,
	}
	employees := []directory.Employee{
		{ID: "emp-1", EmploymentType: "full_time", HireDate: date(2020, 1, 1)},
		{ID: "emp-2", EmploymentType: "contractor", HireDate: date(2020, 1, 1)},
	}
	f := newFixture(t, employees, annualRule(), catchAll)
	ctx := context.Background()

	rule, err := f.engine.RuleFor(ctx, "full_time", "annual")
	require.NoError(t, err)
	assert.Equal(t, "rule-annual", rule.ID)

	run, err := f.engine.RunAccrual(ctx, jobs.JobLeaveAccrual, "2025-03", "hr-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSuccess, run.Status)
	assert.Equal(t, 2, run.Summary.Processed)

	assert.True(t, d("1.75").Equal(balanceOf(t, f, "emp-1").AccruedDays), "full time accrues under its own rule only")
	assert.True(t, d("1").Equal(balanceOf(t, f, "emp-2").AccruedDays), "other types fall back to the catch-all rule")
}

func TestAccrualProratesPartialMonth(t *testing.T) {
	rule := annualRule()
	rule.IsProrated = true
	f := newFixture(t, []directory.Employee{{ID: "emp-1", EmploymentType: "full_time", HireDate: date(2025, 3, 16)}}, rule)

	_, err := f.engine.RunAccrual(context.Background(), jobs.JobLeaveAccrual, "2025-03", "hr-1")
	require.NoError(t, err)

	// 1.75 * 16/31 days employed
	assert.Equal(t, "0.9", balanceOf(t, f, "emp-1").AccruedDays.String())
}

func TestAccrualSkipsUntilTenureMet(t *testing.T) {
	rule := annualRule()
	rule.MinTenureMonths = 3
	f := newFixture(t, []directory.Employee{{ID: "emp-1", EmploymentType: "full_time", HireDate: date(2025, 2, 1)}}, rule)

	run, err := f.engine.RunAccrual(context.Background(), jobs.JobLeaveAccrual, "2025-03", "hr-1")
	require.NoError(t, err)
	assert.Equal(t, 0, run.Summary.Processed)
	assert.Equal(t, 1, run.Summary.Skipped)
	assert.True(t, balanceOf(t, f, "emp-1").AvailableBalance.IsZero())
}

func TestAccrualStopsAtCap(t *testing.T) {
	rule := annualRule()
	rule.MaxBalanceCap = d("2")
	f := newFixture(t, []directory.Employee{{ID: "emp-1", EmploymentType: "full_time", HireDate: date(2020, 1, 1)}}, rule)
	ctx := context.Background()

	_, err := f.engine.RunAccrual(ctx, jobs.JobLeaveAccrual, "2025-03", "hr-1")
	require.NoError(t, err)
	_, err = f.engine.RunAccrual(ctx, jobs.JobLeaveAccrual, "2025-04", "hr-1")
	require.NoError(t, err)
	run, err := f.engine.RunAccrual(ctx, jobs.JobLeaveAccrual, "2025-05", "hr-1")
	require.NoError(t, err)

	bal := balanceOf(t, f, "emp-1")
	assert.Equal(t, "2", bal.AvailableBalance.String())
	assert.Equal(t, "2", bal.AccruedDays.String())
	assert.Equal(t, 1, run.Summary.Skipped)
}

func TestQuarterlyAccrualOnlyAtQuarterStart(t *testing.T) {
	rule := annualRule()
	rule.AccrualFrequency = AccrualQuarterly
	f := newFixture(t, []directory.Employee{{ID: "emp-1", EmploymentType: "full_time", HireDate: date(2020, 1, 1)}}, rule)
	ctx := context.Background()

	_, err := f.engine.RunAccrual(ctx, jobs.JobLeaveAccrual, "2025-03", "hr-1")
	require.NoError(t, err)
	assert.True(t, balanceOf(t, f, "emp-1").AccruedDays.IsZero())

	_, err = f.engine.RunAccrual(ctx, jobs.JobLeaveAccrual, "2025-04", "hr-1")
	require.NoError(t, err)
	assert.Equal(t, "5.25", balanceOf(t, f, "emp-1").AccruedDays.String())
}

func TestYearEndCarriesLimitedAndExpiresRest(t *testing.T) {
	f := newFixture(t, []directory.Employee{{ID: "emp-1", EmploymentType: "full_time", HireDate: date(2020, 1, 1)}}, annualRule())
	ctx := context.Background()

	_, err := f.ledger.Apply(ctx, ledger.Entry{ID: "grant", EmployeeID: "emp-1", LeaveTypeID: "annual", Amount: d("8"), Type: ledger.TypeAdjustment, PerformedBy: "hr-1"})
	require.NoError(t, err)

	run, err := f.engine.RunAccrual(ctx, jobs.JobYearEnd, "2025", "hr-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSuccess, run.Status)

	assert.Equal(t, "5", balanceOf(t, f, "emp-1").AvailableBalance.String())
	expiry, found, err := f.ledger.Find(ctx, "year_end:rule-annual:emp-1:2025")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "-3", expiry.Amount.String())
	assert.Equal(t, ledger.TypeExpiry, expiry.Type)

	require.Len(t, f.store.lots, 1)
	assert.Equal(t, "5", f.store.lots[0].CarriedDays.String())
	assert.Equal(t, date(2026, 4, 1), f.store.lots[0].ExpiresOn)

	// a second run neither forfeits again nor creates a second lot
	_, err = f.engine.RunAccrual(ctx, jobs.JobYearEnd, "2025", "hr-1")
	require.NoError(t, err)
	assert.Equal(t, "5", balanceOf(t, f, "emp-1").AvailableBalance.String())
	assert.Len(t, f.store.lots, 1)
}

func TestCarryForwardExpiryCountsTakesFirst(t *testing.T) {
	f := newFixture(t, []directory.Employee{{ID: "emp-1", EmploymentType: "full_time", HireDate: date(2020, 1, 1)}}, annualRule())
	ctx := context.Background()

	*f.clock = date(2025, 12, 31)
	_, err := f.ledger.Apply(ctx, ledger.Entry{ID: "grant", EmployeeID: "emp-1", LeaveTypeID: "annual", Amount: d("8"), Type: ledger.TypeAdjustment, PerformedBy: "hr-1"})
	require.NoError(t, err)
	_, err = f.engine.RunAccrual(ctx, jobs.JobYearEnd, "2025", "hr-1")
	require.NoError(t, err)

	*f.clock = date(2026, 2, 10)
	_, err = f.ledger.Apply(ctx, ledger.Entry{ID: "take-feb", EmployeeID: "emp-1", LeaveTypeID: "annual", Amount: d("-2"), Type: ledger.TypeTake, PerformedBy: "emp-1"})
	require.NoError(t, err)
	_, err = f.ledger.Apply(ctx, ledger.Entry{ID: "grant-2026", EmployeeID: "emp-1", LeaveTypeID: "annual", Amount: d("4"), Type: ledger.TypeAdjustment, PerformedBy: "hr-1"})
	require.NoError(t, err)

	// not yet due in March
	*f.clock = date(2026, 3, 31)
	run, err := f.engine.RunAccrual(ctx, jobs.JobCarryForwardExpiry, "2026-03", "system")
	require.NoError(t, err)
	assert.Equal(t, 0, run.Summary.Processed)

	*f.clock = date(2026, 4, 30)
	run, err = f.engine.RunAccrual(ctx, jobs.JobCarryForwardExpiry, "2026-04", "system")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Summary.Processed)

	// 5 carried, 2 taken from them, 3 expire; the 4 granted in 2026 stay
	assert.Equal(t, "4", balanceOf(t, f, "emp-1").AvailableBalance.String())
	require.NotNil(t, f.store.lots[0].ProcessedAt)
	assert.Equal(t, "3", f.store.lots[0].ExpiredDays.String())

	run, err = f.engine.RunAccrual(ctx, jobs.JobCarryForwardExpiry, "2026-04", "system")
	require.NoError(t, err)
	assert.Equal(t, 0, run.Summary.Processed+run.Summary.Skipped)
}

func TestRunAccrualRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil, annualRule())
	ctx := context.Background()

	_, err := f.engine.RunAccrual(ctx, jobs.JobLeaveAccrual, "2025/03", "hr-1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.engine.RunAccrual(ctx, "payday", "2025-03", "hr-1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateRuleAndRuleFor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.CreateRule(ctx, Rule{Name: "Sick", LeaveTypeID: "sick", CarryForwardPolicy: CarryForwardLimited})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	created, err := f.engine.CreateRule(ctx, Rule{Name: "Sick", LeaveTypeID: "sick", DefaultEntitlementDays: d("10")})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, AccrualMonthly, created.AccrualFrequency)
	assert.Equal(t, CarryForwardNone, created.CarryForwardPolicy)

	rule, err := f.engine.RuleFor(ctx, "part_time", "sick")
	require.NoError(t, err)
	assert.Equal(t, created.ID, rule.ID)

	_, err = f.engine.RuleFor(ctx, "part_time", "annual")
	assert.True(t, apperr.IsNotFound(err))
}
