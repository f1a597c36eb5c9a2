package execution

// State of an order in its lifecycle.
type State string

const (
	Pending         State = "pending"
	Submitted       State = "submitted"
	PartiallyFilled State = "partially_filled"
	CancelRequested State = "cancel_requested"
	Filled          State = "filled"
	Cancelled       State = "cancelled"
	Rejected        State = "rejected"
	Failed          State = "failed"
)

func (s State) Terminal() bool {
	switch s {
	case Filled, Cancelled, Rejected, Failed:
		return true
	}
	return false
}

// Cancellable reports whether a cancel may be requested from s.
func (s State) Cancellable() bool {
	return s == Submitted || s == PartiallyFilled
}

// transitions lists the allowed moves. Jumps straight to a terminal state
// cover brokers that report the final state without the steps in between.
// A cancel the broker did not take returns the order to a working state.
var transitions = map[State][]State{
	Pending:         {Submitted, Rejected, Failed},
	Submitted:       {PartiallyFilled, CancelRequested, Filled, Cancelled, Rejected, Failed},
	PartiallyFilled: {Submitted, CancelRequested, Filled, Cancelled},
	CancelRequested: {Submitted, PartiallyFilled, Cancelled, Filled},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
