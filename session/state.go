package session

import "fmt"

// State is a session lifecycle state.
//
//	Idle → Staging → Editing → Ready → Rendering → Completed
//
// Failed is absorbing and reachable from every non-terminal state.
type State int

const (
	Idle State = iota
	Staging
	Editing
	Ready
	Rendering
	Completed
	Failed
)

var stateNames = [...]string{
	Idle:      "idle",
	Staging:   "staging",
	Editing:   "editing",
	Ready:     "ready",
	Rendering: "rendering",
	Completed: "completed",
	Failed:    "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown session state %q", name)
}
