package exchange

// State is a phase of one send/receive cycle.
type State int

const (
	Idle State = iota
	Composing
	Sending
	Succeeded
	Failed
)

var stateNames = [...]string{
	Idle:      "idle",
	Composing: "composing",
	Sending:   "sending",
	Succeeded: "succeeded",
	Failed:    "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var transitions = map[State][]State{
	Idle:      {Composing, Sending},
	Composing: {Idle, Sending},
	Sending:   {Succeeded, Failed},
	Succeeded: {Idle},
	Failed:    {Idle},
}

// CanTransition reports whether from → to is a legal step. Idle → Sending is
// allowed for submits that never went through an input event.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends an exchange.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}
