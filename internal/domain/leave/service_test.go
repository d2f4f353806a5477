package leave

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/calendar"
	"hrpay/internal/domain/directory"
	"hrpay/internal/domain/entitlement"
	"hrpay/internal/domain/ledger"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/platform/events"
)

func newMemStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.CreateType(context.Background(), LeaveType{ID: "annual", Name: "Annual", Code: "AL", IsPaid: true}))
	require.NoError(t, store.CreateType(context.Background(), LeaveType{ID: "unpaid", Name: "Unpaid", Code: "UL"}))
	return store
}

type rulesFunc func(employmentType, leaveTypeID string) (entitlement.Rule, error)

func (f rulesFunc) RuleFor(_ context.Context, employmentType, leaveTypeID string) (entitlement.Rule, error) {
	return f(employmentType, leaveTypeID)
}

type employeeMap map[string]directory.Employee

func (e employeeMap) GetEmployee(_ context.Context, id string) (directory.Employee, error) {
	emp, ok := e[id]
	if !ok {
		return directory.Employee{}, apperr.NotFound("employee_not_found", "employee not found")
	}
	return emp, nil
}

type roles map[string]string

func (r roles) NextHigherRole(_ context.Context, role string) (string, error) {
	return r[role], nil
}

type suite struct {
	svc      *Service
	store    *MemoryStore
	ledger   *ledger.Service
	flows    *workflow.MemoryStore
	recorder *events.Recorder
}

var (
	employee = workflow.Actor{ID: "emp-1", Role: "employee"}
	manager  = workflow.Actor{ID: "mgr-1", Role: "manager"}
	hrAdmin  = workflow.Actor{ID: "hr-1", Role: "hr"}
)

func newSuite(t *testing.T, withWorkflow bool) suite {
	t.Helper()
	ctx := context.Background()
	store := newMemStore(t)
	ledgerSvc := ledger.NewService(ledger.NewMemoryStore())
	flows := workflow.NewMemoryStore()
	engine := workflow.NewEngine(flows, roles{"manager": "hr"}, &audit.Memory{}, nil)
	if withWorkflow {
		_, err := engine.CreateDefinition(ctx, workflow.Definition{
			EntityType: workflow.EntityLeaveRequest,
			Steps: []workflow.Step{
				{StepNumber: 1, Role: "manager"},
				{StepNumber: 2, Role: "hr"},
			},
		})
		require.NoError(t, err)
	}
	rules := rulesFunc(func(employmentType, leaveTypeID string) (entitlement.Rule, error) {
		if leaveTypeID == "annual" && employmentType == "full_time" {
			return entitlement.Rule{ID: "rule-annual", LeaveTypeID: "annual"}, nil
		}
		return entitlement.Rule{}, apperr.NotFound("no_entitlement_rule", "no rule")
	})
	employees := employeeMap{
		"emp-1": {ID: "emp-1", EmploymentType: "full_time", HireDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), PositionCode: "ENG-1"},
		"emp-2": {ID: "emp-2", EmploymentType: "contractor", HireDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	recorder := &events.Recorder{}
	svc := NewService(store, ledgerSvc, rules, employees, engine, &audit.Memory{}, recorder)

	_, err := ledgerSvc.Apply(ctx, ledger.Entry{ID: "grant", EmployeeID: "emp-1", LeaveTypeID: "annual", Amount: decimal.NewFromInt(10), Type: ledger.TypeAdjustment, PerformedBy: "hr-1"})
	require.NoError(t, err)
	return suite{svc: svc, store: store, ledger: ledgerSvc, flows: flows, recorder: recorder}
}

func (s suite) balance(t *testing.T) ledger.Balance {
	t.Helper()
	bal, err := s.ledger.Balance(context.Background(), "emp-1", "annual")
	require.NoError(t, err)
	return bal
}

// Monday 2 June 2025 to Wednesday 4 June 2025.
func threeDays(leaveType string) SubmitInput {
	return SubmitInput{
		EmployeeID:  "emp-1",
		LeaveTypeID: leaveType,
		StartDate:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC),
		Reason:      "family trip",
	}
}

func TestSubmitReservesWorkingDays(t *testing.T) {
	s := newSuite(t, true)
	ctx := context.Background()

	req, err := s.svc.Submit(ctx, threeDays("annual"), employee)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "3", req.NetDays.String())
	assert.Equal(t, "rule-annual", req.RuleID)
	assert.NotEmpty(t, req.WorkflowInstanceID)

	bal := s.balance(t)
	assert.Equal(t, "3", bal.ReservedDays.String())
	assert.Equal(t, "7", bal.AvailableBalance.String())
}

func TestApprovalTakesReservedDays(t *testing.T) {
	s := newSuite(t, true)
	ctx := context.Background()
	req, err := s.svc.Submit(ctx, threeDays("annual"), employee)
	require.NoError(t, err)

	req, inst, err := s.svc.Decide(ctx, req.ID, workflow.Command{Action: workflow.ActionApprove, Actor: manager})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 2, inst.CurrentStep)
	assert.Equal(t, "3", s.balance(t).ReservedDays.String())

	req, inst, err = s.svc.Decide(ctx, req.ID, workflow.Command{Action: workflow.ActionApprove, Actor: hrAdmin})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, workflow.StatusApproved, inst.Status)
	require.NotNil(t, req.DecidedAt)

	bal := s.balance(t)
	assert.True(t, bal.ReservedDays.IsZero())
	assert.Equal(t, "3", bal.TakenDays.String())
	assert.Equal(t, "7", bal.AvailableBalance.String())
	assert.Len(t, s.recorder.OfType(events.LeaveRequestDecided), 1)

	_, _, err = s.svc.Decide(ctx, req.ID, workflow.Command{Action: workflow.ActionApprove, Actor: hrAdmin})
	assert.True(t, apperr.IsConflict(err))
}

func TestRejectionReleasesReservation(t *testing.T) {
	s := newSuite(t, true)
	ctx := context.Background()
	req, err := s.svc.Submit(ctx, threeDays("annual"), employee)
	require.NoError(t, err)

	req, _, err = s.svc.Decide(ctx, req.ID, workflow.Command{Action: workflow.ActionReject, Actor: manager, Comment: "team offsite"})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, req.Status)

	bal := s.balance(t)
	assert.True(t, bal.ReservedDays.IsZero())
	assert.Equal(t, "10", bal.AvailableBalance.String())
}

func TestDecideByWrongRoleLeavesRequestPending(t *testing.T) {
	s := newSuite(t, true)
	ctx := context.Background()
	req, err := s.svc.Submit(ctx, threeDays("annual"), employee)
	require.NoError(t, err)

	_, _, err = s.svc.Decide(ctx, req.ID, workflow.Command{Action: workflow.ActionApprove, Actor: employee})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	stored, err := s.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestSubmitInsufficientBalance(t *testing.T) {
	s := newSuite(t, true)
	ctx := context.Background()
	in := threeDays("annual")
	in.EndDate = time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

	_, err := s.svc.Submit(ctx, in, employee)
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	requests, _, err := s.svc.List(ctx, Filter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Empty(t, requests)
	assert.Equal(t, "10", s.balance(t).AvailableBalance.String())
}

func TestSubmitWithoutWorkflowReleasesReservation(t *testing.T) {
	s := newSuite(t, false)

	_, err := s.svc.Submit(context.Background(), threeDays("annual"), employee)
	assert.True(t, apperr.IsNotFound(err))

	bal := s.balance(t)
	assert.True(t, bal.ReservedDays.IsZero())
	assert.Equal(t, "10", bal.AvailableBalance.String())
}

func TestSubmitValidation(t *testing.T) {
	s := newSuite(t, true)
	ctx := context.Background()

	backwards := threeDays("annual")
	backwards.EndDate = backwards.StartDate.AddDate(0, 0, -1)
	_, err := s.svc.Submit(ctx, backwards, employee)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	weekend := threeDays("annual")
	weekend.StartDate = time.Date(2025, 6, 7, 0, 0, 0, 0, time.UTC)
	weekend.EndDate = time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	_, err = s.svc.Submit(ctx, weekend, employee)
	assert.ErrorIs(t, err, apperr.Validation("no_working_days", ""))

	contractor := threeDays("annual")
	contractor.EmployeeID = "emp-2"
	_, err = s.svc.Submit(ctx, contractor, workflow.Actor{ID: "emp-2", Role: "employee"})
	assert.ErrorIs(t, err, apperr.Validation("no_entitlement_rule", ""))

	_, err = s.svc.Submit(ctx, threeDays("annual"), employee)
	require.NoError(t, err)
	overlapping := threeDays("annual")
	overlapping.StartDate = overlapping.EndDate
	_, err = s.svc.Submit(ctx, overlapping, employee)
	assert.ErrorIs(t, err, apperr.Conflict("overlapping_request", ""))
}

func TestCancelAndReverse(t *testing.T) {
	s := newSuite(t, true)
	ctx := context.Background()

	pending, err := s.svc.Submit(ctx, threeDays("annual"), employee)
	require.NoError(t, err)
	cancelled, err := s.svc.Cancel(ctx, pending.ID, employee.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "10", s.balance(t).AvailableBalance.String())

	_, err = s.svc.Cancel(ctx, pending.ID, employee.ID)
	assert.ErrorIs(t, err, apperr.Conflict("invalid_transition", ""))

	req, err := s.svc.Submit(ctx, threeDays("annual"), employee)
	require.NoError(t, err)
	_, _, err = s.svc.Decide(ctx, req.ID, workflow.Command{Action: workflow.ActionApprove, Actor: manager})
	require.NoError(t, err)
	_, _, err = s.svc.Decide(ctx, req.ID, workflow.Command{Action: workflow.ActionApprove, Actor: hrAdmin})
	require.NoError(t, err)
	assert.Equal(t, "7", s.balance(t).AvailableBalance.String())

	reversed, err := s.svc.Reverse(ctx, req.ID, hrAdmin.ID, "trip cancelled by company")
	require.NoError(t, err)
	assert.Equal(t, StatusReversed, reversed.Status)
	assert.Equal(t, "10", s.balance(t).AvailableBalance.String())

	retro, found, err := s.ledger.Find(ctx, "retro:"+req.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "trip cancelled by company", retro.Reason)
}

func TestUnpaidLeaveSkipsLedgerAndCountsForPayroll(t *testing.T) {
	s := newSuite(t, true)
	ctx := context.Background()

	in := threeDays("unpaid")
	in.StartDate = time.Date(2025, 5, 29, 0, 0, 0, 0, time.UTC) // Thursday
	in.EndHalf = true
	req, err := s.svc.Submit(ctx, in, employee)
	require.NoError(t, err)
	assert.False(t, req.Paid)
	assert.Equal(t, "10", s.balance(t).AvailableBalance.String())

	for _, approver := range []workflow.Actor{manager, hrAdmin} {
		_, _, err = s.svc.Decide(ctx, req.ID, workflow.Command{Action: workflow.ActionApprove, Actor: approver})
		require.NoError(t, err)
	}

	may, err := calendar.ParseMonth("2025-05")
	require.NoError(t, err)
	june, err := calendar.ParseMonth("2025-06")
	require.NoError(t, err)

	mayDays, err := s.svc.UnpaidDays(ctx, "emp-1", may)
	require.NoError(t, err)
	assert.Equal(t, "2", mayDays.String())

	juneDays, err := s.svc.UnpaidDays(ctx, "emp-1", june)
	require.NoError(t, err)
	assert.Equal(t, "2.5", juneDays.String())
}
