package lifecycle

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Observer is called after every applied transition, outside the registry lock.
type Observer func(agentID string, t Transition)

// Registry holds the lifecycle records of a fleet of agents.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*Agent
	observers []Observer
	now       func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source used for transition timestamps.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		agents: make(map[string]*Agent),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe adds an observer for applied transitions.
func (r *Registry) Observe(fn Observer) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Register creates a new agent record in StateCreated.
// An empty id gets a generated one.
func (r *Registry) Register(id string) (*Agent, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; exists {
		return nil, &DuplicateAgentError{AgentID: id}
	}
	a := newAgent(id, r.now)
	r.agents[id] = a
	return a, nil
}

// Get returns the agent record for id.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// List returns all agent records sorted by id.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].ID() < agents[j].ID() })
	return agents
}

// State returns the current state of the agent.
func (r *Registry) State(id string) (State, error) {
	a, ok := r.Get(id)
	if !ok {
		return StateCreated, &AgentNotFoundError{AgentID: id}
	}
	return a.State(), nil
}

// CanTransition reports whether the agent may move to the given state.
// Unknown agents can never transition.
func (r *Registry) CanTransition(id string, to State) bool {
	a, ok := r.Get(id)
	if !ok {
		return false
	}
	return a.CanTransition(to)
}

// Transition validates and applies a state change on the agent.
func (r *Registry) Transition(id string, to State, reason string) error {
	return r.apply(id, to, reason, false)
}

// ForceTransition applies a state change without table validation.
// Reserved for operator-driven emergency transitions.
func (r *Registry) ForceTransition(id string, to State, reason string) error {
	return r.apply(id, to, reason, true)
}

func (r *Registry) apply(id string, to State, reason string, force bool) error {
	a, ok := r.Get(id)
	if !ok {
		return &AgentNotFoundError{AgentID: id}
	}

	var (
		rec Transition
		err error
	)
	if force {
		rec, err = a.ForceTransition(to, reason)
	} else {
		rec, err = a.Transition(to, reason)
	}
	if err != nil {
		return err
	}

	r.mu.RLock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.RUnlock()
	for _, fn := range observers {
		fn(id, rec)
	}
	return nil
}

// Remove archives a stopped agent out of the registry and returns its final snapshot.
func (r *Registry) Remove(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return Snapshot{}, &AgentNotFoundError{AgentID: id}
	}
	if a.State() != StateStopped {
		return Snapshot{}, ErrNotStopped
	}
	delete(r.agents, id)
	return a.Snapshot(), nil
}

// Count returns the number of registered agents in each state.
func (r *Registry) Count() map[State]int {
	counts := make(map[State]int)
	for _, a := range r.List() {
		counts[a.State()]++
	}
	return counts
}

// Start walks a freshly registered agent through setup until it is idle.
func (r *Registry) Start(id string) error {
	if err := r.Transition(id, StateInitializing, "setup"); err != nil {
		return err
	}
	return r.Transition(id, StateIdle, "ready")
}

// Shutdown walks an agent through stopping to stopped from any state that allows it.
func (r *Registry) Shutdown(id string, reason string) error {
	if err := r.Transition(id, StateStopping, reason); err != nil {
		return err
	}
	return r.Transition(id, StateStopped, "termination complete")
}
