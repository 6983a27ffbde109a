package dialogue

import "testing"

func TestCanTransition_Table(t *testing.T) {
	allowed := []struct{ from, to State }{
		{Idle, Greeting},
		{Greeting, Collecting},
		{Greeting, Error},
		{Collecting, Collecting},
		{Collecting, Clarifying},
		{Collecting, Confirming},
		{Collecting, Transferring},
		{Clarifying, Collecting},
		{Clarifying, Confirming},
		{Clarifying, Transferring},
		{Confirming, Processing},
		{Confirming, Collecting},
		{Confirming, Error},
		{Processing, Completed},
		{Processing, Error},
		{Error, Transferring},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%v, %v) = false, want true", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to State }{
		{Idle, Collecting},
		{Greeting, Confirming},
		{Collecting, Processing},
		{Confirming, Transferring},
		{Completed, Greeting},
		{Completed, Collecting},
		{Transferring, Collecting},
		{Processing, Collecting},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%v, %v) = true, want false", tt.from, tt.to)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{Completed, Transferring} {
		if !s.Terminal() {
			t.Errorf("%v.Terminal() = false", s)
		}
	}
	for _, s := range []State{Idle, Greeting, Collecting, Clarifying, Confirming, Processing, Error} {
		if s.Terminal() {
			t.Errorf("%v.Terminal() = true", s)
		}
	}
}

func TestState_String(t *testing.T) {
	if got := Confirming.String(); got != "confirming" {
		t.Errorf("String() = %q", got)
	}
	if got := State(42).String(); got != "unknown" {
		t.Errorf("String() = %q", got)
	}
}
