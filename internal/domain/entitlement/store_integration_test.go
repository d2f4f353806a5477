package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/platform/db/dbtest"
)

func dueLot(t *testing.T, store *PgStore, asOf time.Time, id string) (Lot, bool) {
	t.Helper()
	lots, err := store.DueLots(context.Background(), asOf)
	require.NoError(t, err)
	for _, lot := range lots {
		if lot.ID == id {
			return lot, true
		}
	}
	return Lot{}, false
}

func TestPgCarryForwardLotLifecycle(t *testing.T) {
	pool := dbtest.Open(t)
	ctx := context.Background()
	store := NewPgStore(pool)

	rule := annualRule()
	rule.ID = dbtest.ID("rule")
	rule.LeaveTypeID = dbtest.LeaveType(t, pool)
	rule.CreatedAt = time.Now().UTC()
	require.NoError(t, store.CreateRule(ctx, rule))

	stored, err := store.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"full_time"}, stored.EligibleEmploymentTypes)
	assert.True(t, d("21").Equal(stored.DefaultEntitlementDays))

	lot := Lot{
		ID:          dbtest.ID("lot"),
		EmployeeID:  dbtest.ID("emp"),
		LeaveTypeID: rule.LeaveTypeID,
		RuleID:      rule.ID,
		Year:        2024,
		CarriedDays: d("5"),
		ExpiresOn:   date(2025, 4, 1),
	}
	created, err := store.CreateLot(ctx, lot)
	require.NoError(t, err)
	assert.True(t, created)

	rerun := lot
	rerun.ID = dbtest.ID("lot")
	rerun.CarriedDays = d("3")
	created, err = store.CreateLot(ctx, rerun)
	require.NoError(t, err)
	assert.False(t, created, "a year end rerun keeps the first lot")

	_, due := dueLot(t, store, date(2025, 3, 31), lot.ID)
	assert.False(t, due)
	found, due := dueLot(t, store, date(2025, 4, 30), lot.ID)
	require.True(t, due)
	assert.True(t, d("5").Equal(found.CarriedDays))
	_, due = dueLot(t, store, date(2025, 4, 30), rerun.ID)
	assert.False(t, due)

	require.NoError(t, store.MarkLotProcessed(ctx, lot.ID, d("2"), time.Now().UTC()))
	_, due = dueLot(t, store, date(2025, 4, 30), lot.ID)
	assert.False(t, due, "processed lots are not due again")
}

func TestPgCreateRuleUnknownLeaveType(t *testing.T) {
	pool := dbtest.Open(t)
	store := NewPgStore(pool)

	rule := annualRule()
	rule.ID = dbtest.ID("rule")
	rule.LeaveTypeID = dbtest.ID("missing")
	rule.CreatedAt = time.Now().UTC()
	err := store.CreateRule(context.Background(), rule)
	assert.ErrorIs(t, err, apperr.Validation("unknown_leave_type", ""))
}
