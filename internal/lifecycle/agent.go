package lifecycle

import (
	"sync"
	"time"
)

// Transition is one entry of an agent's history.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	Forced bool      `json:"forced,omitempty"`
	At     time.Time `json:"at"`
}

// Agent is the lifecycle record of a single agent.
// It owns exactly one current state and an append-only history.
type Agent struct {
	mu      sync.RWMutex
	id      string
	state   State
	since   time.Time
	history []Transition
	now     func() time.Time
}

// NewAgent creates an agent record in StateCreated.
func NewAgent(id string) *Agent {
	return newAgent(id, time.Now)
}

func newAgent(id string, now func() time.Time) *Agent {
	return &Agent{
		id:    id,
		state: StateCreated,
		since: now(),
		now:   now,
	}
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.id }

// State returns the current state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Since returns when the current state was entered.
func (a *Agent) Since() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.since
}

// TimeInState returns how long the agent has been in its current state at t.
func (a *Agent) TimeInState(t time.Time) time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return t.Sub(a.since)
}

// History returns a copy of every applied transition, oldest first.
func (a *Agent) History() []Transition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Transition(nil), a.history...)
}

// CanTransition reports whether the agent may move to the given state now.
func (a *Agent) CanTransition(to State) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return CanTransition(a.state, to)
}

// Transition moves the agent to a new state after checking the table.
// Nothing is recorded when the edge does not exist.
func (a *Agent) Transition(to State, reason string) (Transition, error) {
	return a.apply(to, reason, false)
}

// ForceTransition moves the agent without consulting the table. The entry is
// still recorded, flagged as forced. Only valid states are accepted.
func (a *Agent) ForceTransition(to State, reason string) (Transition, error) {
	return a.apply(to, reason, true)
}

func (a *Agent) apply(to State, reason string, force bool) (Transition, error) {
	if !to.Valid() {
		return Transition{}, &UnknownStateError{Value: to.String()}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !force && !CanTransition(a.state, to) {
		return Transition{}, &InvalidTransitionError{AgentID: a.id, From: a.state, To: to}
	}

	rec := Transition{
		From:   a.state,
		To:     to,
		Reason: reason,
		Forced: force,
		At:     a.now(),
	}
	a.history = append(a.history, rec)
	a.state = to
	a.since = rec.At
	return rec, nil
}

// Snapshot is a point-in-time copy of an agent record.
type Snapshot struct {
	ID      string       `json:"id"`
	State   State        `json:"state"`
	Since   time.Time    `json:"since"`
	History []Transition `json:"history"`
}

// Snapshot returns a consistent copy of the record.
func (a *Agent) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		ID:      a.id,
		State:   a.state,
		Since:   a.since,
		History: append([]Transition(nil), a.history...),
	}
}
