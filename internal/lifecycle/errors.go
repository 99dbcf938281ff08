package lifecycle

import (
	"errors"
	"fmt"
)

// ErrNotStopped is returned when removing an agent that has not reached StateStopped.
var ErrNotStopped = errors.New("agent is not stopped")

// InvalidTransitionError reports an edge missing from the transition table.
type InvalidTransitionError struct {
	AgentID string
	From    State
	To      State
}

func (e *InvalidTransitionError) Error() string {
	if e.AgentID == "" {
		return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("agent %q: invalid transition %s -> %s", e.AgentID, e.From, e.To)
}

// UnknownStateError reports a state name that does not map to a State.
type UnknownStateError struct {
	Value string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown agent state %q", e.Value)
}

// AgentNotFoundError reports a lookup of an unregistered agent.
type AgentNotFoundError struct {
	AgentID string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %q not registered", e.AgentID)
}

// DuplicateAgentError reports a second registration under the same id.
type DuplicateAgentError struct {
	AgentID string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent %q already registered", e.AgentID)
}
