// Package workflow runs the sequential, position based approval chains used
// by leave requests and payroll runs.
package workflow

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"hrpay/internal/domain/apperr"
	"hrpay/internal/domain/fsm"
)

type EntityType string

const (
	EntityLeaveRequest EntityType = "leave_request"
	EntityPayrollRun   EntityType = "payroll_run"
)

// AnyPosition is the fallback position code of a definition.
const AnyPosition = "*"

type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionDelegate Action = "delegate"
	ActionOverride Action = "override"
	// ActionEscalate only appears in history.
	ActionEscalate Action = "escalate"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var instanceStatus = fsm.New("workflow instance", map[Status][]Status{
	StatusPending: {StatusApproved, StatusRejected},
})

type DelegationScope string

const (
	ScopeCurrent   DelegationScope = "current"
	ScopeRemaining DelegationScope = "remaining"
)

type Step struct {
	StepNumber  int    `json:"stepNumber"`
	Role        string `json:"role"`
	SLAHours    int    `json:"slaHours"`
	CanDelegate bool   `json:"canDelegate"`
	CanOverride bool   `json:"canOverride"`
}

type Definition struct {
	ID                string     `json:"workflowId"`
	EntityType        EntityType `json:"entityType"`
	PositionCode      string     `json:"positionCode"`
	Steps             []Step     `json:"steps"`
	AutoEscalateHours int        `json:"autoEscalateHours"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// Normalize sorts steps by number and rejects malformed definitions.
func (d *Definition) Normalize() error {
	switch d.EntityType {
	case EntityLeaveRequest, EntityPayrollRun:
	default:
		return apperr.Validation("invalid_entity_type", fmt.Sprintf("entityType must be %s or %s", EntityLeaveRequest, EntityPayrollRun))
	}
	d.PositionCode = strings.TrimSpace(d.PositionCode)
	if d.PositionCode == "" {
		d.PositionCode = AnyPosition
	}
	if len(d.Steps) == 0 {
		return apperr.Validation("steps_required", "a workflow needs at least one step")
	}
	if d.AutoEscalateHours < 0 {
		return apperr.Validation("invalid_escalation", "autoEscalateHours must not be negative")
	}
	slices.SortFunc(d.Steps, func(a, b Step) int { return a.StepNumber - b.StepNumber })
	for i, step := range d.Steps {
		switch {
		case step.StepNumber <= 0:
			return apperr.Validation("invalid_step_number", "stepNumber must be positive")
		case i > 0 && d.Steps[i-1].StepNumber == step.StepNumber:
			return apperr.Validation("duplicate_step_number", fmt.Sprintf("stepNumber %d appears twice", step.StepNumber))
		case strings.TrimSpace(step.Role) == "":
			return apperr.Validation("step_role_required", fmt.Sprintf("step %d has no role", step.StepNumber))
		case step.SLAHours < 0:
			return apperr.Validation("invalid_sla", "slaHours must not be negative")
		}
	}
	return nil
}

func (d Definition) step(number int) (Step, bool) {
	for _, s := range d.Steps {
		if s.StepNumber == number {
			return s, true
		}
	}
	return Step{}, false
}

func (d Definition) nextStep(after int) (Step, bool) {
	for _, s := range d.Steps {
		if s.StepNumber > after {
			return s, true
		}
	}
	return Step{}, false
}

func (d Definition) canOverride(role string) bool {
	return slices.ContainsFunc(d.Steps, func(s Step) bool {
		return s.CanOverride && s.Role == role
	})
}

type Delegation struct {
	Role       string          `json:"role"`
	DelegateID string          `json:"delegateId"`
	Scope      DelegationScope `json:"scope"`
	StepNumber int             `json:"stepNumber"`
	StartsAt   time.Time       `json:"startsAt"`
	EndsAt     time.Time       `json:"endsAt"`
	GrantedBy  string          `json:"grantedBy"`
}

// covers reports whether the delegation lets its delegate act as role on
// step at the given time.
func (d Delegation) covers(role string, step int, at time.Time) bool {
	if d.Role != role || at.Before(d.StartsAt) || !at.Before(d.EndsAt) {
		return false
	}
	if d.Scope == ScopeRemaining {
		return step >= d.StepNumber
	}
	return step == d.StepNumber
}

type HistoryEntry struct {
	StepNumber int       `json:"stepNumber"`
	Role       string    `json:"role"`
	Action     Action    `json:"action"`
	ActorID    string    `json:"actorId,omitempty"`
	ActorRole  string    `json:"actorRole,omitempty"`
	OnBehalfOf string    `json:"onBehalfOf,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	At         time.Time `json:"at"`
}

type Instance struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflowId"`
	EntityType      EntityType     `json:"entityType"`
	EntityID        string         `json:"entityId"`
	Status          Status         `json:"status"`
	CurrentStep     int            `json:"currentStep"`
	CurrentRole     string         `json:"currentRole"`
	StepStartedAt   time.Time      `json:"stepStartedAt"`
	StepEscalations int            `json:"stepEscalations"`
	Definition      Definition     `json:"definition"`
	Delegations     []Delegation   `json:"delegations"`
	History         []HistoryEntry `json:"history"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func (i Instance) Terminal() bool {
	return instanceStatus.Terminal(i.Status)
}

type Actor struct {
	ID   string
	Role string
}

type DelegationRequest struct {
	DelegateID string          `json:"delegateId"`
	Scope      DelegationScope `json:"scope"`
	StartsAt   time.Time       `json:"startsAt"`
	EndsAt     time.Time       `json:"endsAt"`
}

type Command struct {
	Action     Action
	Actor      Actor
	Comment    string
	Delegation *DelegationRequest
}
