// Package events publishes domain events such as ledger balance changes and
// payroll run transitions.
package events

import (
	"context"
	"sync"
	"time"
)

const (
	LeaveBalanceChanged   = "leave.balance.changed"
	LeaveRequestDecided   = "leave.request.decided"
	PayrollRunTransition  = "payroll.run.transition"
	AccrualJobCompleted   = "leave.accrual.completed"
	WorkflowStepEscalated = "workflow.step.escalated"
)

type Event struct {
	Type          string    `json:"type"`
	AggregateType string    `json:"aggregateType"`
	AggregateID   string    `json:"aggregateId"`
	OccurredAt    time.Time `json:"occurredAt"`
	Payload       any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, evt := range r.Events() {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}
