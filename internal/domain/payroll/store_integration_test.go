package payroll

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/platform/db/dbtest"
)

// randomPeriod avoids the unique period of runs left by earlier test runs.
func randomPeriod() string {
	return fmt.Sprintf("%04d-%02d", 2100+rand.IntN(7000), 1+rand.IntN(12))
}

func pgRun() Run {
	now := time.Now().UTC()
	return Run{ID: dbtest.ID("run"), Period: randomPeriod(), Status: RunDraft, InitiatedBy: "clerk-1", CreatedAt: now, UpdatedAt: now}
}

func pgSlip(run Run, employeeID string) Payslip {
	return Payslip{ID: dbtest.ID("slip"), RunID: run.ID, EmployeeID: employeeID, Currency: "EGP", Status: PayslipPending}
}

func TestPgCreateRunRejectsDuplicatePayslip(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	store := NewPgStore(pool)

	run := pgRun()
	err := store.CreateRun(ctx, run, []Payslip{pgSlip(run, "emp-1"), pgSlip(run, "emp-1")})
	assert.ErrorIs(t, err, apperr.Conflict("duplicate_payslip", ""))

	_, err = store.GetRun(ctx, run.ID)
	assert.True(t, apperr.IsNotFound(err), "the run insert is rolled back with its payslips")

	require.NoError(t, store.CreateRun(ctx, run, []Payslip{pgSlip(run, "emp-1"), pgSlip(run, "emp-2")}))

	again := pgRun()
	again.Period = run.Period
	err = store.CreateRun(ctx, again, nil)
	assert.ErrorIs(t, err, apperr.Conflict("payroll_run_exists", ""))
}

func TestPgUpdateRunComparesStatus(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	store := NewPgStore(pool)

	run := pgRun()
	slips := []Payslip{pgSlip(run, "emp-1"), pgSlip(run, "emp-2")}
	require.NoError(t, store.CreateRun(ctx, run, slips))
	for _, slip := range slips {
		slip.Status = PayslipCalculated
		slip.NetSalary = d("1000")
		require.NoError(t, store.SavePayslip(ctx, slip))
	}

	run.Status = RunCalculated
	ok, err := store.UpdateRun(ctx, run, RunDraft, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateRun(ctx, run, RunDraft, nil)
	require.NoError(t, err)
	assert.False(t, ok, "a stale expected status loses")

	for _, next := range []RunStatus{RunPendingApproval, RunApproved} {
		expected := run.Status
		run.Status = next
		ok, err = store.UpdateRun(ctx, run, expected, nil)
		require.NoError(t, err)
		require.True(t, ok)
	}

	paidAt := time.Now().UTC()
	run.Status = RunPaid
	run.TotalNetDisbursement = d("2000")
	run.FinalizedAt = &paidAt
	ok, err = store.UpdateRun(ctx, run, RunApproved, &PayslipMove{From: PayslipCalculated, To: PayslipPaid})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.UpdateRun(ctx, run, RunApproved, &PayslipMove{From: PayslipCalculated, To: PayslipPaid})
	require.NoError(t, err)
	assert.False(t, ok, "finalizing twice is refused")

	stored, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunPaid, stored.Status)
	assert.True(t, d("2000").Equal(stored.TotalNetDisbursement))
	require.NotNil(t, stored.FinalizedAt)

	paid, err := store.ListPayslips(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, paid, 2)
	for _, slip := range paid {
		assert.Equal(t, PayslipPaid, slip.Status)
	}
}

func TestPgSavePayslipUnknownEmployee(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	store := NewPgStore(pool)

	run := pgRun()
	require.NoError(t, store.CreateRun(ctx, run, []Payslip{pgSlip(run, "emp-1")}))

	err := store.SavePayslip(ctx, pgSlip(run, "emp-9"))
	assert.True(t, apperr.IsNotFound(err))
}
