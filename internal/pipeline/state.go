package pipeline

import "fmt"

// State is the lifecycle state of a controller's current task instance.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelling
	StateFinished
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateRunning:    "running",
	StateCancelling: "cancelling",
	StateFinished:   "finished",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("unknown state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Active reports whether a task instance occupies the controller.
func (s State) Active() bool {
	return s == StateRunning || s == StateCancelling
}

// canTransition lists the allowed state changes.
func canTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateRunning
	case StateRunning:
		return to == StateCancelling || to == StateFinished
	case StateCancelling:
		return to == StateFinished
	case StateFinished:
		return to == StateIdle
	}
	return false
}
