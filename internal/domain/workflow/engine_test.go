package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/audit"
	"hrpay/internal/platform/events"
)

type roleTree map[string]string

func (r roleTree) NextHigherRole(_ context.Context, role string) (string, error) {
	return r[role], nil
}

type harness struct {
	engine   *Engine
	store    *MemoryStore
	audit    *audit.Memory
	recorder *events.Recorder
	clock    *time.Time
}

func newHarness(t *testing.T, defs ...Definition) harness {
	t.Helper()
	clock := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	trail := &audit.Memory{}
	recorder := &events.Recorder{}
	engine := NewEngine(store, roleTree{"manager": "hr", "hr": "admin"}, trail, recorder)
	engine.now = func() time.Time { return clock }
	for _, def := range defs {
		_, err := engine.CreateDefinition(context.Background(), def)
		require.NoError(t, err)
	}
	return harness{engine: engine, store: store, audit: trail, recorder: recorder, clock: &clock}
}

func threeSteps() Definition {
	return Definition{
		EntityType: EntityLeaveRequest,
		Steps: []Step{
			{StepNumber: 3, Role: "finance", CanOverride: true},
			{StepNumber: 1, Role: "manager", SLAHours: 24, CanDelegate: true},
			{StepNumber: 2, Role: "hr"},
		},
		AutoEscalateHours: 12,
	}
}

func act(action Action, id, role string) Command {
	return Command{Action: action, Actor: Actor{ID: id, Role: role}}
}

func TestRejectShortCircuitsRemainingSteps(t *testing.T) {
	h := newHarness(t, threeSteps())
	ctx := context.Background()

	inst, err := h.engine.Start(ctx, EntityLeaveRequest, "lr-1", "ENG-1", Actor{ID: "emp-1", Role: "employee"})
	require.NoError(t, err)
	assert.Equal(t, 1, inst.CurrentStep)
	assert.Equal(t, "manager", inst.CurrentRole)

	inst, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionApprove, "mgr-1", "manager"))
	require.NoError(t, err)
	assert.Equal(t, 2, inst.CurrentStep)

	inst, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionReject, "hr-1", "hr"))
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, inst.Status)
	assert.Equal(t, 2, inst.CurrentStep)
	assert.Len(t, inst.History, 2)

	_, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionApprove, "fin-1", "finance"))
	if !apperr.IsConflict(err) {
		t.Fatalf("expected conflict after rejection, got %v", err)
	}
	for _, entry := range inst.History {
		assert.NotEqual(t, 3, entry.StepNumber, "step 3 must never be reached")
	}
}

func TestApproveAllStepsCompletes(t *testing.T) {
	h := newHarness(t, threeSteps())
	ctx := context.Background()
	_, err := h.engine.Start(ctx, EntityLeaveRequest, "lr-1", AnyPosition, Actor{ID: "emp-1"})
	require.NoError(t, err)

	var inst Instance
	for _, step := range []Command{
		act(ActionApprove, "mgr-1", "manager"),
		act(ActionApprove, "hr-1", "hr"),
		act(ActionApprove, "fin-1", "finance"),
	} {
		inst, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", step)
		require.NoError(t, err)
	}
	assert.Equal(t, StatusApproved, inst.Status)
	assert.True(t, inst.Terminal())
	assert.Len(t, h.audit.Events(audit.Filter{Action: "workflow.approve"}), 3)
}

func TestWrongRoleIsRejectedWithoutChange(t *testing.T) {
	h := newHarness(t, threeSteps())
	ctx := context.Background()
	_, err := h.engine.Start(ctx, EntityLeaveRequest, "lr-1", AnyPosition, Actor{ID: "emp-1"})
	require.NoError(t, err)

	_, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionApprove, "hr-1", "hr"))
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	inst, err := h.engine.Get(ctx, EntityLeaveRequest, "lr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, inst.CurrentStep)
	assert.Empty(t, inst.History)
}

func TestDelegationWindow(t *testing.T) {
	h := newHarness(t, threeSteps())
	ctx := context.Background()
	_, err := h.engine.Start(ctx, EntityLeaveRequest, "lr-1", AnyPosition, Actor{ID: "emp-1"})
	require.NoError(t, err)

	cmd := act(ActionDelegate, "mgr-1", "manager")
	cmd.Delegation = &DelegationRequest{DelegateID: "lead-7", EndsAt: h.clock.Add(4 * time.Hour)}
	inst, err := h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", cmd)
	require.NoError(t, err)
	require.Len(t, inst.Delegations, 1)
	assert.Equal(t, "manager", inst.CurrentRole, "delegation must not change the step role")
	assert.Equal(t, ScopeCurrent, inst.Delegations[0].Scope)

	*h.clock = h.clock.Add(5 * time.Hour)
	_, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionApprove, "lead-7", "employee"))
	assert.ErrorIs(t, err, apperr.ErrAuthorization, "delegation expired")

	cmd.Delegation = &DelegationRequest{DelegateID: "lead-7", Scope: ScopeRemaining, EndsAt: h.clock.Add(48 * time.Hour)}
	_, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", cmd)
	require.NoError(t, err)

	inst, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionApprove, "lead-7", "employee"))
	require.NoError(t, err)
	assert.Equal(t, 2, inst.CurrentStep)
	last := inst.History[len(inst.History)-1]
	assert.Equal(t, "manager", last.OnBehalfOf)
	assert.Equal(t, "lead-7", last.ActorID)

	// step 2 has a different role, so the manager delegation does not cover it
	_, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionApprove, "lead-7", "employee"))
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	// and hr cannot delegate
	cmd = act(ActionDelegate, "hr-1", "hr")
	cmd.Delegation = &DelegationRequest{DelegateID: "hr-2", EndsAt: h.clock.Add(time.Hour)}
	_, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", cmd)
	assert.ErrorIs(t, err, apperr.Authorization("delegation_not_allowed", ""))
}

func TestDelegationValidation(t *testing.T) {
	h := newHarness(t, threeSteps())
	ctx := context.Background()
	_, err := h.engine.Start(ctx, EntityLeaveRequest, "lr-1", AnyPosition, Actor{ID: "emp-1"})
	require.NoError(t, err)

	cases := map[string]*DelegationRequest{
		"missing request": nil,
		"self":            {DelegateID: "mgr-1", EndsAt: h.clock.Add(time.Hour)},
		"no end":          {DelegateID: "lead-7"},
		"bad scope":       {DelegateID: "lead-7", Scope: "forever", EndsAt: h.clock.Add(time.Hour)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := act(ActionDelegate, "mgr-1", "manager")
			cmd.Delegation = req
			_, err := h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", cmd)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestOverrideSkipsRemainingSteps(t *testing.T) {
	h := newHarness(t, threeSteps())
	ctx := context.Background()
	_, err := h.engine.Start(ctx, EntityLeaveRequest, "lr-1", AnyPosition, Actor{ID: "emp-1"})
	require.NoError(t, err)

	_, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionOverride, "hr-1", "hr"))
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	inst, err := h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionOverride, "fin-1", "finance"))
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, inst.Status)
	require.Len(t, inst.History, 1)
	assert.Equal(t, ActionOverride, inst.History[0].Action)
	assert.Contains(t, inst.History[0].Comment, "1(manager), 2(hr), 3(finance)")

	overrides := h.audit.Events(audit.Filter{Action: "workflow.override", EntityID: "lr-1"})
	assert.Len(t, overrides, 1)
}

func TestLazyEscalation(t *testing.T) {
	h := newHarness(t, threeSteps())
	ctx := context.Background()
	started := *h.clock
	_, err := h.engine.Start(ctx, EntityLeaveRequest, "lr-1", AnyPosition, Actor{ID: "emp-1"})
	require.NoError(t, err)

	*h.clock = started.Add(23 * time.Hour)
	inst, err := h.engine.Get(ctx, EntityLeaveRequest, "lr-1")
	require.NoError(t, err)
	assert.Equal(t, "manager", inst.CurrentRole)

	*h.clock = started.Add(25 * time.Hour)
	inst, err = h.engine.Get(ctx, EntityLeaveRequest, "lr-1")
	require.NoError(t, err)
	assert.Equal(t, "hr", inst.CurrentRole)
	assert.Equal(t, 1, inst.CurrentStep)
	assert.Len(t, h.recorder.OfType(events.WorkflowStepEscalated), 1)

	_, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionApprove, "mgr-1", "manager"))
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	// 24h SLA, then every 12h
	*h.clock = started.Add(37 * time.Hour)
	inst, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionApprove, "adm-1", "admin"))
	require.NoError(t, err)
	assert.Equal(t, 2, inst.CurrentStep)
	assert.Equal(t, "hr", inst.CurrentRole)
	assert.Equal(t, 0, inst.StepEscalations)

	var escalations []HistoryEntry
	for _, entry := range inst.History {
		if entry.Action == ActionEscalate {
			escalations = append(escalations, entry)
		}
	}
	require.Len(t, escalations, 2)
	assert.Equal(t, started.Add(24*time.Hour), escalations[0].At)
	assert.Equal(t, started.Add(36*time.Hour), escalations[1].At)
}

func TestEscalationStopsAtTopOfHierarchy(t *testing.T) {
	h := newHarness(t, Definition{EntityType: EntityPayrollRun, Steps: []Step{{StepNumber: 1, Role: "hr", SLAHours: 1}}, AutoEscalateHours: 1})
	ctx := context.Background()
	started := *h.clock
	_, err := h.engine.Start(ctx, EntityPayrollRun, "run-1", AnyPosition, Actor{ID: "po-1"})
	require.NoError(t, err)

	*h.clock = started.Add(100 * time.Hour)
	inst, err := h.engine.Get(ctx, EntityPayrollRun, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "admin", inst.CurrentRole)
	assert.Equal(t, 1, inst.StepEscalations)
}

func TestStartFallsBackToAnyPosition(t *testing.T) {
	specific := threeSteps()
	specific.PositionCode = "ENG-LEAD"
	specific.Steps = []Step{{StepNumber: 1, Role: "hr"}}
	h := newHarness(t, threeSteps(), specific)
	ctx := context.Background()

	inst, err := h.engine.Start(ctx, EntityLeaveRequest, "lr-1", "ENG-LEAD", Actor{ID: "emp-1"})
	require.NoError(t, err)
	assert.Equal(t, "hr", inst.CurrentRole)

	inst, err = h.engine.Start(ctx, EntityLeaveRequest, "lr-2", "ENG-1", Actor{ID: "emp-2"})
	require.NoError(t, err)
	assert.Equal(t, "manager", inst.CurrentRole)

	_, err = h.engine.Start(ctx, EntityLeaveRequest, "lr-2", "ENG-1", Actor{ID: "emp-2"})
	assert.True(t, apperr.IsConflict(err))

	_, err = h.engine.Start(ctx, EntityPayrollRun, "run-1", AnyPosition, Actor{ID: "po-1"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestDefinitionNormalize(t *testing.T) {
	def := threeSteps()
	require.NoError(t, def.Normalize())
	assert.Equal(t, []int{1, 2, 3}, []int{def.Steps[0].StepNumber, def.Steps[1].StepNumber, def.Steps[2].StepNumber})
	assert.Equal(t, AnyPosition, def.PositionCode)

	bad := []Definition{
		{EntityType: "invoice", Steps: []Step{{StepNumber: 1, Role: "hr"}}},
		{EntityType: EntityPayrollRun},
		{EntityType: EntityPayrollRun, Steps: []Step{{StepNumber: 1, Role: "hr"}, {StepNumber: 1, Role: "finance"}}},
		{EntityType: EntityPayrollRun, Steps: []Step{{StepNumber: 1}}},
		{EntityType: EntityPayrollRun, Steps: []Step{{StepNumber: 0, Role: "hr"}}},
	}
	for _, d := range bad {
		assert.ErrorIs(t, d.Normalize(), apperr.ErrValidation)
	}
}

type staleStore struct {
	*MemoryStore
}

func (staleStore) SaveInstance(context.Context, Instance, int64) (bool, error) {
	return false, nil
}

func TestAdvanceReportsConcurrentModification(t *testing.T) {
	h := newHarness(t, threeSteps())
	ctx := context.Background()
	_, err := h.engine.Start(ctx, EntityLeaveRequest, "lr-1", AnyPosition, Actor{ID: "emp-1"})
	require.NoError(t, err)

	h.engine.Store = staleStore{h.store}
	_, err = h.engine.Advance(ctx, EntityLeaveRequest, "lr-1", act(ActionApprove, "mgr-1", "manager"))
	assert.ErrorIs(t, err, apperr.Conflict("concurrent_modification", ""))
}
