package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/audit"
	"hrpay/internal/platform/events"
)

// maxEscalations bounds one evaluation in case the position hierarchy loops.
const maxEscalations = 16

type Store interface {
	CreateDefinition(ctx context.Context, def Definition) error
	GetDefinition(ctx context.Context, id string) (Definition, error)
	ListDefinitions(ctx context.Context, entityType EntityType) ([]Definition, error)
	FindDefinition(ctx context.Context, entityType EntityType, positionCode string) (Definition, bool, error)
	CreateInstance(ctx context.Context, inst Instance) error
	GetInstance(ctx context.Context, entityType EntityType, entityID string) (Instance, error)
	// SaveInstance stores inst when the stored version equals expectedVersion.
	SaveInstance(ctx context.Context, inst Instance, expectedVersion int64) (bool, error)
}

// Hierarchy resolves the escalation target of a role. An empty role means
// there is nobody above.
type Hierarchy interface {
	NextHigherRole(ctx context.Context, role string) (string, error)
}

type Engine struct {
	Store     Store
	Hierarchy Hierarchy
	Audit     audit.Recorder
	Events    events.Publisher
	now       func() time.Time
}

func NewEngine(store Store, hierarchy Hierarchy, recorder audit.Recorder, publisher events.Publisher) *Engine {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Engine{Store: store, Hierarchy: hierarchy, Audit: recorder, Events: publisher, now: time.Now}
}

func (e *Engine) CreateDefinition(ctx context.Context, def Definition) (Definition, error) {
	if err := def.Normalize(); err != nil {
		return Definition{}, err
	}
	def.ID = uuid.NewString()
	def.CreatedAt = e.now().UTC()
	if err := e.Store.CreateDefinition(ctx, def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func (e *Engine) GetDefinition(ctx context.Context, id string) (Definition, error) {
	return e.Store.GetDefinition(ctx, id)
}

func (e *Engine) ListDefinitions(ctx context.Context, entityType EntityType) ([]Definition, error) {
	return e.Store.ListDefinitions(ctx, entityType)
}

// Start opens an instance for an entity using the definition configured for
// positionCode, or the AnyPosition definition when there is none.
func (e *Engine) Start(ctx context.Context, entityType EntityType, entityID, positionCode string, actor Actor) (Instance, error) {
	def, found, err := e.Store.FindDefinition(ctx, entityType, positionCode)
	if err != nil {
		return Instance{}, err
	}
	if !found && positionCode != AnyPosition {
		def, found, err = e.Store.FindDefinition(ctx, entityType, AnyPosition)
		if err != nil {
			return Instance{}, err
		}
	}
	if !found || len(def.Steps) == 0 {
		return Instance{}, apperr.NotFound("workflow_not_configured", fmt.Sprintf("no approval workflow configured for %s", entityType))
	}

	now := e.now().UTC()
	first := def.Steps[0]
	inst := Instance{
		ID:            uuid.NewString(),
		WorkflowID:    def.ID,
		EntityType:    entityType,
		EntityID:      entityID,
		Status:        StatusPending,
		CurrentStep:   first.StepNumber,
		CurrentRole:   first.Role,
		StepStartedAt: now,
		Definition:    def,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.Store.CreateInstance(ctx, inst); err != nil {
		return Instance{}, err
	}
	audit.RecordOrWarn(ctx, e.Audit, audit.Entry{
		ActorID:    actor.ID,
		Action:     "workflow.started",
		EntityType: string(entityType),
		EntityID:   entityID,
		After:      snapshotOf(inst),
	})
	return inst, nil
}

// Get loads an instance with any escalation that has fallen due applied.
func (e *Engine) Get(ctx context.Context, entityType EntityType, entityID string) (Instance, error) {
	inst, err := e.Store.GetInstance(ctx, entityType, entityID)
	if err != nil {
		return Instance{}, err
	}
	expected := inst.Version
	escalated, err := e.Evaluate(ctx, &inst, e.now().UTC())
	if err != nil {
		return Instance{}, err
	}
	if len(escalated) > 0 {
		e.persistEscalations(ctx, inst, expected, escalated)
	}
	return inst, nil
}

// Advance applies an action to the current step and returns the instance as
// stored afterwards.
func (e *Engine) Advance(ctx context.Context, entityType EntityType, entityID string, cmd Command) (Instance, error) {
	inst, err := e.Store.GetInstance(ctx, entityType, entityID)
	if err != nil {
		return Instance{}, err
	}
	now := e.now().UTC()
	expected := inst.Version
	escalated, err := e.Evaluate(ctx, &inst, now)
	if err != nil {
		return Instance{}, err
	}

	before := snapshotOf(inst)
	// apply leaves inst untouched when it fails
	if err := apply(&inst, cmd, now); err != nil {
		if len(escalated) > 0 {
			e.persistEscalations(ctx, inst, expected, escalated)
		}
		return Instance{}, err
	}

	inst.Version = expected + 1
	inst.UpdatedAt = now
	ok, err := e.Store.SaveInstance(ctx, inst, expected)
	if err != nil {
		return Instance{}, err
	}
	if !ok {
		return Instance{}, apperr.Conflict("concurrent_modification", "the approval was changed by another request, reload and retry")
	}

	e.publishEscalations(ctx, inst, escalated)
	audit.RecordOrWarn(ctx, e.Audit, audit.Entry{
		ActorID:    cmd.Actor.ID,
		Action:     "workflow." + string(cmd.Action),
		EntityType: string(entityType),
		EntityID:   entityID,
		Before:     before,
		After:      snapshotOf(inst),
	})
	return inst, nil
}

// Evaluate applies every escalation due by now. The first escalation of a
// step falls due slaHours after the step started (autoEscalateHours when the
// step has no SLA); later ones every autoEscalateHours.
func (e *Engine) Evaluate(ctx context.Context, inst *Instance, now time.Time) ([]HistoryEntry, error) {
	if inst.Terminal() || e.Hierarchy == nil {
		return nil, nil
	}
	step, ok := inst.Definition.step(inst.CurrentStep)
	if !ok {
		return nil, nil
	}

	var escalated []HistoryEntry
	for range maxEscalations {
		due, ok := nextEscalation(*inst, step)
		if !ok || now.Before(due) {
			break
		}
		next, err := e.Hierarchy.NextHigherRole(ctx, inst.CurrentRole)
		if err != nil {
			return escalated, apperr.UpstreamUnavailable("organization directory", err)
		}
		if next == "" {
			break
		}
		entry := HistoryEntry{
			StepNumber: inst.CurrentStep,
			Role:       next,
			Action:     ActionEscalate,
			Comment:    fmt.Sprintf("escalated from %s", inst.CurrentRole),
			At:         due,
		}
		inst.History = append(inst.History, entry)
		inst.CurrentRole = next
		inst.StepEscalations++
		escalated = append(escalated, entry)
	}
	return escalated, nil
}

func nextEscalation(inst Instance, step Step) (time.Time, bool) {
	first := step.SLAHours
	if first == 0 {
		first = inst.Definition.AutoEscalateHours
	}
	if first == 0 {
		return time.Time{}, false
	}
	due := inst.StepStartedAt.Add(time.Duration(first) * time.Hour)
	if inst.StepEscalations == 0 {
		return due, true
	}
	every := inst.Definition.AutoEscalateHours
	if every == 0 {
		return time.Time{}, false
	}
	return due.Add(time.Duration(inst.StepEscalations*every) * time.Hour), true
}

func (e *Engine) persistEscalations(ctx context.Context, inst Instance, expected int64, escalated []HistoryEntry) {
	inst.Version = expected + 1
	inst.UpdatedAt = e.now().UTC()
	ok, err := e.Store.SaveInstance(ctx, inst, expected)
	if err != nil {
		zap.L().Warn("persist workflow escalation failed", zap.String("instanceId", inst.ID), zap.Error(err))
		return
	}
	if ok {
		e.publishEscalations(ctx, inst, escalated)
	}
}

func (e *Engine) publishEscalations(ctx context.Context, inst Instance, escalated []HistoryEntry) {
	for _, entry := range escalated {
		err := e.Events.Publish(ctx, events.Event{
			Type:          events.WorkflowStepEscalated,
			AggregateType: string(inst.EntityType),
			AggregateID:   inst.EntityID,
			OccurredAt:    entry.At,
			Payload: map[string]any{
				"instanceId": inst.ID,
				"stepNumber": entry.StepNumber,
				"role":       entry.Role,
			},
		})
		if err != nil {
			zap.L().Warn("publish escalation failed", zap.String("instanceId", inst.ID), zap.Error(err))
		}
	}
}

func apply(inst *Instance, cmd Command, now time.Time) error {
	if strings.TrimSpace(cmd.Actor.ID) == "" || strings.TrimSpace(cmd.Actor.Role) == "" {
		return apperr.Authorization("actor_required", "an authenticated actor with a role is required")
	}
	if inst.Terminal() {
		return apperr.Conflict("workflow_closed", fmt.Sprintf("approval is already %s", inst.Status)).
			WithDetail("status", string(inst.Status))
	}
	step, ok := inst.Definition.step(inst.CurrentStep)
	if !ok {
		return fmt.Errorf("workflow %s: current step %d missing from definition", inst.ID, inst.CurrentStep)
	}
	entry := HistoryEntry{
		StepNumber: step.StepNumber,
		Role:       inst.CurrentRole,
		Action:     cmd.Action,
		ActorID:    cmd.Actor.ID,
		ActorRole:  cmd.Actor.Role,
		Comment:    cmd.Comment,
		At:         now,
	}

	switch cmd.Action {
	case ActionApprove, ActionReject:
		onBehalfOf, err := authorize(*inst, cmd.Actor, now)
		if err != nil {
			return err
		}
		entry.OnBehalfOf = onBehalfOf
		if cmd.Action == ActionReject {
			return finish(inst, StatusRejected, entry)
		}
		next, ok := inst.Definition.nextStep(step.StepNumber)
		if !ok {
			return finish(inst, StatusApproved, entry)
		}
		inst.History = append(inst.History, entry)
		inst.CurrentStep = next.StepNumber
		inst.CurrentRole = next.Role
		inst.StepStartedAt = now
		inst.StepEscalations = 0
		return nil

	case ActionDelegate:
		if cmd.Actor.Role != inst.CurrentRole {
			return notAuthorized(*inst)
		}
		if !step.CanDelegate {
			return apperr.Authorization("delegation_not_allowed", fmt.Sprintf("step %d does not allow delegation", step.StepNumber))
		}
		delegation, err := newDelegation(*inst, cmd, now)
		if err != nil {
			return err
		}
		inst.Delegations = append(inst.Delegations, delegation)
		entry.Comment = strings.TrimSpace(fmt.Sprintf("delegated %s to %s until %s %s", delegation.Scope, delegation.DelegateID,
			delegation.EndsAt.Format(time.RFC3339), cmd.Comment))
		inst.History = append(inst.History, entry)
		return nil

	case ActionOverride:
		if !inst.Definition.canOverride(cmd.Actor.Role) {
			return apperr.Authorization("override_not_allowed", fmt.Sprintf("role %s may not override this approval", cmd.Actor.Role))
		}
		var skipped []string
		for _, s := range inst.Definition.Steps {
			if s.StepNumber >= step.StepNumber {
				skipped = append(skipped, fmt.Sprintf("%d(%s)", s.StepNumber, s.Role))
			}
		}
		entry.Comment = strings.TrimSpace("skipped steps " + strings.Join(skipped, ", ") + ". " + cmd.Comment)
		return finish(inst, StatusApproved, entry)

	default:
		return apperr.Validation("invalid_action", fmt.Sprintf("unknown action %q", cmd.Action))
	}
}

func finish(inst *Instance, status Status, entry HistoryEntry) error {
	if err := instanceStatus.Transition(inst.Status, status); err != nil {
		return err
	}
	inst.Status = status
	inst.History = append(inst.History, entry)
	return nil
}

// authorize returns the role the actor acts for when acting as a delegate.
func authorize(inst Instance, actor Actor, now time.Time) (string, error) {
	if actor.Role == inst.CurrentRole {
		return "", nil
	}
	for _, d := range inst.Delegations {
		if d.DelegateID == actor.ID && d.covers(inst.CurrentRole, inst.CurrentStep, now) {
			return d.Role, nil
		}
	}
	return "", notAuthorized(inst)
}

func notAuthorized(inst Instance) error {
	return apperr.Authorization("not_step_approver", fmt.Sprintf("step %d must be actioned by %s", inst.CurrentStep, inst.CurrentRole)).
		WithDetail("requiredRole", inst.CurrentRole)
}

func newDelegation(inst Instance, cmd Command, now time.Time) (Delegation, error) {
	req := cmd.Delegation
	if req == nil || strings.TrimSpace(req.DelegateID) == "" {
		return Delegation{}, apperr.Validation("delegate_required", "delegateId is required")
	}
	if req.DelegateID == cmd.Actor.ID {
		return Delegation{}, apperr.Validation("self_delegation", "cannot delegate to yourself")
	}
	scope := req.Scope
	if scope == "" {
		scope = ScopeCurrent
	}
	if scope != ScopeCurrent && scope != ScopeRemaining {
		return Delegation{}, apperr.Validation("invalid_scope", "scope must be current or remaining")
	}
	starts := req.StartsAt
	if starts.IsZero() {
		starts = now
	}
	if req.EndsAt.IsZero() || !req.EndsAt.After(starts) {
		return Delegation{}, apperr.Validation("invalid_delegation_window", "endsAt must be after startsAt")
	}
	return Delegation{
		Role:       inst.CurrentRole,
		DelegateID: req.DelegateID,
		Scope:      scope,
		StepNumber: inst.CurrentStep,
		StartsAt:   starts.UTC(),
		EndsAt:     req.EndsAt.UTC(),
		GrantedBy:  cmd.Actor.ID,
	}, nil
}

type snapshot struct {
	Status      Status `json:"status"`
	CurrentStep int    `json:"currentStep"`
	CurrentRole string `json:"currentRole"`
}

func snapshotOf(inst Instance) snapshot {
	return snapshot{Status: inst.Status, CurrentStep: inst.CurrentStep, CurrentRole: inst.CurrentRole}
}
