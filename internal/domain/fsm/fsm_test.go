package fsm

import (
	"errors"
	"testing"

	"hrpay/internal/domain/apperr"
)

type lightState string

func TestMachineTransitions(t *testing.T) {
	m := New("light", map[lightState][]lightState{
		"red":    {"green"},
		"green":  {"yellow"},
		"yellow": {"red", "off"},
	})

	if err := m.Transition("red", "green"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := m.Transition("red", "yellow")
	if err == nil {
		t.Fatal("expected invalid transition error")
	}
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !m.Terminal("off") {
		t.Fatal("expected off to be terminal")
	}
	if m.Terminal("yellow") {
		t.Fatal("did not expect yellow to be terminal")
	}
}
