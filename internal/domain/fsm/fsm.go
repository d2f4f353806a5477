// Package fsm holds transition tables for the status fields of leave
// requests, payroll runs, payslips and workflow instances.
package fsm

import (
	"fmt"

	"hrpay/internal/domain/apperr"
)

type Machine[S ~string] struct {
	name        string
	transitions map[S]map[S]struct{}
}

func New[S ~string](name string, table map[S][]S) *Machine[S] {
	m := &Machine[S]{name: name, transitions: make(map[S]map[S]struct{}, len(table))}
	for from, targets := range table {
		set := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			set[to] = struct{}{}
		}
		m.transitions[from] = set
	}
	return m
}

func (m *Machine[S]) Can(from, to S) bool {
	_, ok := m.transitions[from][to]
	return ok
}

// Transition returns a conflict error when the table has no from -> to edge.
func (m *Machine[S]) Transition(from, to S) error {
	if m.Can(from, to) {
		return nil
	}
	return apperr.Conflict("invalid_transition", fmt.Sprintf("%s cannot move from %s to %s", m.name, from, to)).
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
}

func (m *Machine[S]) Terminal(state S) bool {
	return len(m.transitions[state]) == 0
}
