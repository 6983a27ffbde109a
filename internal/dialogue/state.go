package dialogue

// State is a position in the conversation flow.
type State int

const (
	// Idle is the state before the call is answered.
	Idle State = iota

	// Greeting plays the welcome message and waits for the first utterance.
	Greeting

	// Collecting gathers order lines from the caller.
	Collecting

	// Clarifying asks the caller to repeat after a low-confidence utterance.
	Clarifying

	// Confirming reads the recap back and waits for a yes or a change.
	Confirming

	// Processing finalizes the order against the order service.
	Processing

	// Completed is terminal: the order went through.
	Completed

	// Error marks a technical failure during the call.
	Error

	// Transferring is terminal: the call is handed to a human agent.
	Transferring
)

// String returns the lowercase state name used in logs and the call store.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Greeting:
		return "greeting"
	case Collecting:
		return "collecting"
	case Clarifying:
		return "clarifying"
	case Confirming:
		return "confirming"
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	case Error:
		return "error"
	case Transferring:
		return "transferring"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions leave this state.
func (s State) Terminal() bool {
	return s == Completed || s == Transferring
}

// transitions is the allowed-transition table. A state missing from the map
// has no outgoing transitions.
var transitions = map[State][]State{
	Idle:       {Greeting, Transferring},
	Greeting:   {Collecting, Error, Transferring},
	Collecting: {Collecting, Clarifying, Confirming, Error, Transferring},
	Clarifying: {Collecting, Confirming, Transferring},
	Confirming: {Processing, Collecting, Error, Transferring},
	Processing: {Completed, Error},
	Error:      {Transferring},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
