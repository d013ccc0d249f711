package domain

type CheckoutState string

const (
	CheckoutStateIdle       CheckoutState = "IDLE"
	CheckoutStateValidating CheckoutState = "VALIDATING"
	CheckoutStateDeduping   CheckoutState = "DEDUPING"
	CheckoutStateWriting    CheckoutState = "WRITING"
	CheckoutStateSucceeded  CheckoutState = "SUCCEEDED"
	CheckoutStateFailed     CheckoutState = "FAILED"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutStateIdle:       {CheckoutStateValidating},
	CheckoutStateValidating: {CheckoutStateDeduping, CheckoutStateFailed},
	CheckoutStateDeduping:   {CheckoutStateWriting, CheckoutStateFailed},
	CheckoutStateWriting:    {CheckoutStateSucceeded, CheckoutStateFailed},
	CheckoutStateSucceeded:  {CheckoutStateIdle},
	CheckoutStateFailed:     {CheckoutStateIdle},
}

func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutStateSucceeded || s == CheckoutStateFailed
}

// InFlight reports whether a checkout in this state holds the per-user guard.
func (s CheckoutState) InFlight() bool {
	return s == CheckoutStateValidating || s == CheckoutStateDeduping || s == CheckoutStateWriting
}

// String representation (for logging)
func (s CheckoutState) String() string {
	return string(s)
}

func CanTransitionTo(from, to CheckoutState) bool {
	for _, next := range checkoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
