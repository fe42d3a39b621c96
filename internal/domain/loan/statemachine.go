package loan

import "fmt"

// Transition returns the state a loan in current moves to when an event of
// kind k is confirmed. Only requested -> funded -> repaid exists.
//
// A kind whose target is already reached (or passed) yields ErrAlreadyApplied
// so duplicate deliveries are no-ops. A kind whose predecessor has not been
// reached yields ErrInvalidTransition.
func Transition(current State, k Kind) (State, error) {
	target := k.Target()
	if !target.Valid() {
		return current, fmt.Errorf("%w: unknown event kind %q", ErrInvalidTransition, k)
	}
	if !current.Valid() {
		return current, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, current)
	}
	if !current.Before(target) {
		return current, ErrAlreadyApplied
	}
	if target.rank()-current.rank() != 1 {
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	return target, nil
}

// Predecessor is the state a loan must be in before an event of kind k applies.
// Requested has no predecessor.
func Predecessor(k Kind) (State, bool) {
	switch k {
	case KindFunded:
		return StateRequested, true
	case KindRepaid:
		return StateFunded, true
	}
	return "", false
}

// Path lists the kinds that move a loan from one state to a later one, in order.
func Path(from, to State) []Kind {
	var out []Kind
	for s := from; s.Before(to); {
		var next State
		switch s {
		case StateRequested:
			next = StateFunded
		case StateFunded:
			next = StateRepaid
		default:
			return out
		}
		out = append(out, KindFor(next))
		s = next
	}
	return out
}
