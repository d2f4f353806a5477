package payroll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/attendance"
	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/calendar"
	"hrpay/internal/domain/directory"
	"hrpay/internal/domain/ledger"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/platform/events"
	"hrpay/internal/platform/jobs"
)

type staffList []directory.Employee

func (s staffList) ListActiveEmployees(context.Context, time.Time, time.Time) ([]directory.Employee, error) {
	return s, nil
}

func (s staffList) GetEmployee(_ context.Context, id string) (directory.Employee, error) {
	for _, emp := range s {
		if emp.ID == id {
			return emp, nil
		}
	}
	return directory.Employee{}, apperr.NotFound("employee_not_found", "employee not found")
}

type timeSource struct {
	mu   sync.Mutex
	down map[string]bool
}

func (t *timeSource) Impact(_ context.Context, employeeID string, _, _ time.Time) (attendance.Impact, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.down[employeeID] {
		return attendance.Impact{}, errors.New("time management timed out")
	}
	return attendance.Impact{}, nil
}

type leaveSource map[string]decimal.Decimal

func (l leaveSource) UnpaidDays(_ context.Context, employeeID string, _ calendar.Range) (decimal.Decimal, error) {
	return l[employeeID], nil
}

type encashments []ledger.Transaction

func (e encashments) Transactions(_ context.Context, filter ledger.Filter) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, tx := range e {
		if tx.EmployeeID == filter.EmployeeID {
			out = append(out, tx)
		}
	}
	return out, nil
}

var (
	payrollClerk = workflow.Actor{ID: "clerk-1", Role: "payroll_specialist"}
	hrApprover   = workflow.Actor{ID: "hr-1", Role: "hr"}
	finance      = workflow.Actor{ID: "fin-1", Role: "finance"}
)

type harness struct {
	svc      *Service
	store    *MemoryStore
	time     *timeSource
	recorder *events.Recorder
}

func newHarness(t *testing.T) harness {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	store.tax = egyptTax()
	store.insurance = egyptInsurance()

	engine := workflow.NewEngine(workflow.NewMemoryStore(), nil, &audit.Memory{}, nil)
	_, err := engine.CreateDefinition(ctx, workflow.Definition{
		EntityType: workflow.EntityPayrollRun,
		Steps: []workflow.Step{
			{StepNumber: 1, Role: "hr"},
			{StepNumber: 2, Role: "finance"},
		},
	})
	require.NoError(t, err)

	hired := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	staff := staffList{
		{ID: "emp-1", BaseSalary: d("15000"), Currency: "EGP", HireDate: hired},
		{ID: "emp-2", BaseSalary: d("20000"), Currency: "EGP", HireDate: hired},
		{ID: "emp-3", BaseSalary: d("10000"), Currency: "EGP", HireDate: hired},
	}
	timeSrc := &timeSource{down: map[string]bool{}}
	recorder := &events.Recorder{}
	svc := NewService(store, Sources{
		Employees: staff,
		Time:      timeSrc,
		Leave:     leaveSource{},
		Ledger:    encashments{},
	}, engine, jobs.NewRunner(jobs.NewMemoryStore()), &audit.Memory{}, recorder)
	return harness{svc: svc, store: store, time: timeSrc, recorder: recorder}
}

func (h harness) approveAll(t *testing.T, runID string) Run {
	t.Helper()
	ctx := context.Background()
	_, _, err := h.svc.Decide(ctx, runID, workflow.Command{Action: workflow.ActionApprove, Actor: hrApprover})
	require.NoError(t, err)
	run, inst, err := h.svc.Decide(ctx, runID, workflow.Command{Action: workflow.ActionApprove, Actor: finance})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusApproved, inst.Status)
	return run
}

func TestPayrollRunLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateAdjustment(ctx, Adjustment{EmployeeID: "emp-1", Period: "2025-06", Kind: AdjustmentAllowance, Amount: d("500")}, "clerk-1")
	require.NoError(t, err)

	run, err := h.svc.DraftRun(ctx, "2025-06", "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, RunDraft, run.Status)
	assert.Equal(t, 3, run.EmployeeCount)

	_, err = h.svc.DraftRun(ctx, "2025-06", "clerk-1")
	assert.ErrorIs(t, err, apperr.Conflict("payroll_run_exists", ""))

	h.time.down["emp-3"] = true
	run, job, err := h.svc.Calculate(ctx, run.ID, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, RunPartial, run.Status)
	assert.Equal(t, jobs.StatusPartial, job.Status)
	assert.Equal(t, 2, job.Summary.Processed)
	assert.Equal(t, 1, job.Summary.Failed)

	slips, err := h.svc.Payslips(ctx, run.ID)
	require.NoError(t, err)
	byEmployee := map[string]Payslip{}
	for _, slip := range slips {
		byEmployee[slip.EmployeeID] = slip
	}
	assert.Equal(t, PayslipError, byEmployee["emp-3"].Status)
	assert.Contains(t, byEmployee["emp-3"].ErrorReason, "time management")
	assertMoney(t, "14064", byEmployee["emp-1"].NetSalary)

	_, err = h.svc.Submit(ctx, run.ID, payrollClerk)
	assert.ErrorIs(t, err, apperr.Conflict("invalid_transition", ""))

	h.time.down["emp-3"] = false
	run, job, err = h.svc.Calculate(ctx, run.ID, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, RunCalculated, run.Status)
	assert.Equal(t, 1, job.Summary.Processed)
	assert.Equal(t, 2, job.Summary.Skipped)

	run, err = h.svc.Submit(ctx, run.ID, payrollClerk)
	require.NoError(t, err)
	assert.Equal(t, RunPendingApproval, run.Status)
	assert.NotEmpty(t, run.WorkflowInstanceID)

	_, _, err = h.svc.Decide(ctx, run.ID, workflow.Command{Action: workflow.ActionApprove, Actor: finance})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	run = h.approveAll(t, run.ID)
	assert.Equal(t, RunApproved, run.Status)

	run, err = h.svc.Finalize(ctx, run.ID, "fin-1")
	require.NoError(t, err)
	assert.Equal(t, RunPaid, run.Status)
	require.NotNil(t, run.FinalizedAt)
	// 14064 + 18114 + 8900
	assertMoney(t, "41078", run.TotalNetDisbursement)

	slips, err = h.svc.Payslips(ctx, run.ID)
	require.NoError(t, err)
	for _, slip := range slips {
		assert.Equal(t, PayslipPaid, slip.Status)
	}

	loaded, err := h.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.ApprovalHistory, 2)

	// draft, partial, calculated, pending_approval, approved, paid
	assert.Len(t, h.recorder.OfType(events.PayrollRunTransition), 6)
}

func TestRejectedRunReopensAndResubmits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, err := h.svc.DraftRun(ctx, "2025-07", "clerk-1")
	require.NoError(t, err)
	_, _, err = h.svc.Calculate(ctx, run.ID, "clerk-1")
	require.NoError(t, err)
	_, err = h.svc.Submit(ctx, run.ID, payrollClerk)
	require.NoError(t, err)

	run, inst, err := h.svc.Decide(ctx, run.ID, workflow.Command{Action: workflow.ActionReject, Actor: hrApprover, Comment: "bonus missing"})
	require.NoError(t, err)
	assert.Equal(t, RunRejected, run.Status)
	assert.Equal(t, workflow.StatusRejected, inst.Status)

	_, err = h.svc.Finalize(ctx, run.ID, "fin-1")
	assert.ErrorIs(t, err, apperr.Conflict("invalid_transition", ""))

	run, err = h.svc.Reopen(ctx, run.ID, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, RunDraft, run.Status)
	slips, err := h.svc.Payslips(ctx, run.ID)
	require.NoError(t, err)
	for _, slip := range slips {
		assert.Equal(t, PayslipCalculated, slip.Status, "reopening keeps payslips calculated")
	}

	_, job, err := h.svc.Calculate(ctx, run.ID, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, 3, job.Summary.Processed, "every payslip of a reopened run is recalculated")
	run, err = h.svc.Submit(ctx, run.ID, payrollClerk)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Submissions)

	run = h.approveAll(t, run.ID)
	assert.Equal(t, RunApproved, run.Status)
}

func TestReopenedRunRecalculationFailureMarksError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, err := h.svc.DraftRun(ctx, "2025-07", "clerk-1")
	require.NoError(t, err)
	_, _, err = h.svc.Calculate(ctx, run.ID, "clerk-1")
	require.NoError(t, err)
	_, err = h.svc.Submit(ctx, run.ID, payrollClerk)
	require.NoError(t, err)
	_, _, err = h.svc.Decide(ctx, run.ID, workflow.Command{Action: workflow.ActionReject, Actor: hrApprover, Comment: "recheck"})
	require.NoError(t, err)
	_, err = h.svc.Reopen(ctx, run.ID, "clerk-1")
	require.NoError(t, err)

	h.time.mu.Lock()
	h.time.down["emp-2"] = true
	h.time.mu.Unlock()

	run, job, err := h.svc.Calculate(ctx, run.ID, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, RunPartial, run.Status)
	assert.Equal(t, 2, job.Summary.Processed)
	assert.Equal(t, 1, job.Summary.Failed)

	slips, err := h.svc.Payslips(ctx, run.ID)
	require.NoError(t, err)
	for _, slip := range slips {
		if slip.EmployeeID == "emp-2" {
			assert.Equal(t, PayslipError, slip.Status)
			continue
		}
		assert.Equal(t, PayslipCalculated, slip.Status)
	}
}

func TestPayslipStatusNeverReturnsToPending(t *testing.T) {
	for _, from := range []PayslipStatus{PayslipCalculated, PayslipError, PayslipPaid} {
		assert.False(t, payslipStatus.Can(from, PayslipPending), from)
	}
	assert.True(t, payslipStatus.Can(PayslipCalculated, PayslipCalculated))
	assert.True(t, payslipStatus.Terminal(PayslipPaid))
}

func TestCalculateRequiresDraftOrPartial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	run, err := h.svc.DraftRun(ctx, "2025-08", "clerk-1")
	require.NoError(t, err)
	_, _, err = h.svc.Calculate(ctx, run.ID, "clerk-1")
	require.NoError(t, err)

	_, _, err = h.svc.Calculate(ctx, run.ID, "clerk-1")
	assert.ErrorIs(t, err, apperr.Conflict("invalid_transition", ""))

	_, _, err = h.svc.Calculate(ctx, "missing", "clerk-1")
	assert.True(t, apperr.IsNotFound(err))
}

func TestLeaveImpactUsesUnpaidDaysAndEncashments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.svc.Sources.Leave = leaveSource{"emp-1": d("2")}
	h.svc.Sources.Ledger = encashments{
		{ID: "enc-1", EmployeeID: "emp-1", Amount: d("-3"), Type: ledger.TypeEncashment},
	}

	impact, err := h.svc.leaveImpact(ctx, "emp-1", june(t))
	require.NoError(t, err)
	assertMoney(t, "2", impact.UnpaidDays)
	assertMoney(t, "3", impact.EncashedDays)
}

func TestPayrollConfiguration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	settings, err := h.svc.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, CalendarDays, settings.PayCalendar)

	settings.PayCalendar = CalendarWorking
	settings.MinimumWage = d("6000")
	saved, err := h.svc.UpdateSettings(ctx, settings, "admin-1")
	require.NoError(t, err)
	assert.False(t, saved.UpdatedAt.IsZero())

	_, err = h.svc.ReplaceInsuranceBrackets(ctx, []InsuranceBracket{
		{MinSalary: d("2000"), MaxSalary: ptr("12600"), EmployeeRate: d("11"), EmployerRate: d("18.75")},
		{MinSalary: d("12000"), EmployeeRate: d("11"), EmployerRate: d("18.75")},
	}, "admin-1")
	assert.ErrorIs(t, err, apperr.Validation("overlapping_insurance_brackets", ""))

	_, err = h.svc.CreateAdjustment(ctx, Adjustment{EmployeeID: "emp-1", Period: "2025-13", Kind: AdjustmentAllowance, Amount: d("1")}, "admin-1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.CreateAdjustment(ctx, Adjustment{EmployeeID: "emp-1", Period: "2025-06", Kind: AdjustmentSigningBonus, Amount: d("-1")}, "admin-1")
	assert.ErrorIs(t, err, apperr.Validation("invalid_amount", ""))
	_, err = h.svc.CreateAdjustment(ctx, Adjustment{EmployeeID: "ghost", Period: "2025-06", Kind: AdjustmentRefund, Amount: d("10")}, "admin-1")
	assert.True(t, apperr.IsNotFound(err))
}
