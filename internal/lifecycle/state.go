// Package lifecycle implements the finite-state contract every agent obeys.
//
// An agent starts in StateCreated and ends in StateStopped. Every change of
// state is validated against a fixed transition table and recorded in the
// agent's append-only history. The package owns no timers: callers decide
// when to transition.
package lifecycle

import (
	"strings"
)

// State is the lifecycle state of an agent.
type State int

const (
	StateCreated      State = iota // Registered, not yet set up
	StateInitializing                // Setup in progress
	StateIdle                        // Ready to accept work
	StateBusy                        // Executing a subtask
	StatePaused                      // Suspended by request or checkpoint
	StateError                       // Setup or execution failed
	StateStopping                    // Shutdown in progress
	StateStopped                     // Terminal
)

var stateNames = [...]string{
	StateCreated:      "created",
	StateInitializing: "initializing",
	StateIdle:         "idle",
	StateBusy:         "busy",
	StatePaused:       "paused",
	StateError:        "error",
	StateStopping:     "stopping",
	StateStopped:      "stopped",
}

// String returns the lowercase state name.
func (s State) String() string {
	if s < StateCreated || s > StateStopped {
		return "unknown"
	}
	return stateNames[s]
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= StateCreated && s <= StateStopped
}

// IsTerminal reports whether no transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, &UnknownStateError{Value: s.String()}
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState normalizes a state name read from outside the process.
// Unknown names are rejected rather than mapped to a default.
func ParseState(name string) (State, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == normalized {
			return State(i), nil
		}
	}
	return StateCreated, &UnknownStateError{Value: name}
}

// States returns every state in declaration order.
func States() []State {
	out := make([]State, 0, len(stateNames))
	for i := range stateNames {
		out = append(out, State(i))
	}
	return out
}

// transitions is the complete edge table. Anything absent is illegal.
var transitions = map[State][]State{
	StateCreated:      {StateInitializing},
	StateInitializing: {StateIdle, StateError},
	StateIdle:         {StateBusy, StatePaused, StateStopping},
	StateBusy:         {StateIdle, StateError, StatePaused, StateStopping},
	StatePaused:       {StateIdle, StateBusy, StateStopping},
	StateError:        {StateStopping, StateInitializing},
	StateStopping:     {StateStopped},
	StateStopped:      nil,
}

// CanTransition reports whether the table has an edge from -> to.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Targets returns the states reachable from s in one transition.
func Targets(s State) []State {
	return append([]State(nil), transitions[s]...)
}
