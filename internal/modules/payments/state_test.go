package payments

import (
	"errors"
	"testing"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{StateNew, StateAuthorization, true},
		{StateNew, StateCompleted, true},
		{StateAuthorization, StateCompleted, true},
		{StateAuthorization, StateVoided, true},
		{StateCompleted, StatePartiallyRefunded, true},
		{StateCompleted, StateRefunded, true},
		{StatePartiallyRefunded, StateRefunded, true},
		{StatePartiallyRefunded, StatePartiallyRefunded, true},

		{StateNew, StateRefunded, false},
		{StateNew, StateVoided, false},
		{StateCompleted, StateNew, false},
		{StateCompleted, StateAuthorization, false},
		{StateCompleted, StateVoided, false},
		{StateVoided, StateCompleted, false},
		{StateRefunded, StateCompleted, false},
		{StateRefunded, StatePartiallyRefunded, false},
		{StateVoided, StateAuthorization, false},
	}

	for _, c := range cases {
		p := Payment{ID: "p1", State: c.from}
		err := p.Transition(c.to)
		if c.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", c.from, c.to, err)
		}
		if !c.ok {
			if err == nil {
				t.Errorf("%s -> %s: expected error, got none", c.from, c.to)
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: error does not wrap ErrInvalidTransition: %v", c.from, c.to, err)
			}
		}
	}
}

func TestTransitionToCurrentStateIsNoop(t *testing.T) {
	for _, state := range []string{StateNew, StateAuthorization, StateCompleted, StateVoided, StateRefunded} {
		p := Payment{ID: "p1", State: state}
		if err := p.Transition(state); err != nil {
			t.Errorf("%s -> %s should be a no-op, got %v", state, state, err)
		}
		if p.State != state {
			t.Errorf("state changed on no-op: %s", p.State)
		}
	}
}

func TestRefundState(t *testing.T) {
	if got := RefundState(5000, 2000); got != StatePartiallyRefunded {
		t.Errorf("partial refund: got %s", got)
	}
	if got := RefundState(5000, 5000); got != StateRefunded {
		t.Errorf("full refund: got %s", got)
	}
	if got := RefundState(5000, 6000); got != StateRefunded {
		t.Errorf("over-refund caps to refunded: got %s", got)
	}
}
