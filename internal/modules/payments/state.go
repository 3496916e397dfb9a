package payments

import "fmt"

// State machine:
//
//	new -> authorization -> completed -> partially_refunded -> refunded
//	new -> completed
//	authorization -> authorization_voided
//
// Transitions are one-directional; nothing returns a payment to new.
var validTransitions = map[string][]string{
	StateNew:               {StateAuthorization, StateCompleted},
	StateAuthorization:     {StateCompleted, StateVoided},
	StateCompleted:         {StatePartiallyRefunded, StateRefunded},
	StatePartiallyRefunded: {StatePartiallyRefunded, StateRefunded},
}

// CanTransition reports whether from -> to is a listed transition.
// A transition to the current state is a no-op, not an error.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition mutates the payment state or fails loudly. Silently accepting
// an invalid transition is how double-capture bugs happen, so an unlisted
// origin is an integrity error, never ignored.
func (p *Payment) Transition(to string) error {
	if p.State == to {
		return nil
	}
	if !CanTransition(p.State, to) {
		return fmt.Errorf("%w: %s -> %s (payment %s)", ErrInvalidTransition, p.State, to, p.ID)
	}
	p.State = to
	return nil
}

// RefundState derives the post-refund state from the running totals.
func RefundState(amountCents, refundedCents int) string {
	if refundedCents >= amountCents {
		return StateRefunded
	}
	return StatePartiallyRefunded
}
