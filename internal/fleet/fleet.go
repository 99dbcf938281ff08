// Package fleet is an in-memory pool of agents that the execution engine
// selects from by capability, cost and latency.
package fleet

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/aristath/godel/internal/config"
	"github.com/aristath/godel/internal/lifecycle"
	"github.com/aristath/godel/internal/orchestrator"
)

// Agent is a fleet member.
type Agent struct {
	ID      string
	Skills  []string
	Cost    float64
	Latency time.Duration
}

// Has reports whether the agent has every capability in caps.
func (a Agent) Has(caps []string) bool {
	for _, c := range caps {
		if !slices.Contains(a.Skills, c) {
			return false
		}
	}
	return true
}

// Fleet tracks agents and their lifecycle. It implements
// orchestrator.AgentSelector.
type Fleet struct {
	mu        sync.RWMutex
	agents    map[string]Agent
	lifecycle *lifecycle.Registry
}

var _ orchestrator.AgentSelector = (*Fleet)(nil)

// New creates an empty fleet backed by reg; a nil reg gets a private registry.
func New(reg *lifecycle.Registry) *Fleet {
	if reg == nil {
		reg = lifecycle.NewRegistry()
	}
	return &Fleet{
		agents:    make(map[string]Agent),
		lifecycle: reg,
	}
}

// FromConfig builds a fleet from the configured agents, all started.
func FromConfig(cfg *config.Config, reg *lifecycle.Registry) (*Fleet, error) {
	f := New(reg)
	ids := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ac := cfg.Agents[id]
		if err := f.Add(Agent{ID: id, Skills: ac.Skills, Cost: ac.Cost, Latency: ac.Latency()}); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Lifecycle returns the registry the fleet drives.
func (f *Fleet) Lifecycle() *lifecycle.Registry {
	return f.lifecycle
}

// Add registers the agent and walks it to idle.
func (f *Fleet) Add(a Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent without ID")
	}
	if _, err := f.lifecycle.Register(a.ID); err != nil {
		return err
	}
	if err := f.lifecycle.Start(a.ID); err != nil {
		return fmt.Errorf("starting agent %q: %w", a.ID, err)
	}

	a.Skills = slices.Clone(a.Skills)
	f.mu.Lock()
	f.agents[a.ID] = a
	f.mu.Unlock()
	return nil
}

// Remove shuts the agent down and drops it from the fleet and the registry.
func (f *Fleet) Remove(id string, reason string) error {
	f.mu.Lock()
	_, ok := f.agents[id]
	delete(f.agents, id)
	f.mu.Unlock()
	if !ok {
		return &lifecycle.AgentNotFoundError{AgentID: id}
	}

	if state, err := f.lifecycle.State(id); err == nil && state != lifecycle.StateStopped {
		if err := f.lifecycle.Shutdown(id, reason); err != nil {
			return fmt.Errorf("stopping agent %q: %w", id, err)
		}
	}
	_, err := f.lifecycle.Remove(id)
	return err
}

// Recover walks an agent in the error state back to idle.
func (f *Fleet) Recover(id string) error {
	if err := f.lifecycle.Transition(id, lifecycle.StateInitializing, "recover"); err != nil {
		return err
	}
	return f.lifecycle.Transition(id, lifecycle.StateIdle, "ready")
}

// RecoverAll recovers every agent in the error state and returns their IDs.
func (f *Fleet) RecoverAll() []string {
	var recovered []string
	for _, a := range f.Agents() {
		if state, err := f.lifecycle.State(a.ID); err == nil && state == lifecycle.StateError {
			if f.Recover(a.ID) == nil {
				recovered = append(recovered, a.ID)
			}
		}
	}
	return recovered
}

// Agents returns every agent sorted by ID.
func (f *Fleet) Agents() []Agent {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Agent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Select returns the best agent with every required capability: idle before
// busy, then cheapest, then fastest, then lowest ID. Agents in any other
// state are skipped. A nil candidate means no agent qualifies.
func (f *Fleet) Select(ctx context.Context, criteria orchestrator.SelectionCriteria) (*orchestrator.AgentCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type ranked struct {
		agent Agent
		busy  bool
	}
	var pool []ranked
	for _, a := range f.Agents() {
		if !a.Has(criteria.RequiredCapabilities) {
			continue
		}
		state, err := f.lifecycle.State(a.ID)
		if err != nil {
			continue
		}
		switch state {
		case lifecycle.StateIdle:
			pool = append(pool, ranked{agent: a})
		case lifecycle.StateBusy:
			pool = append(pool, ranked{agent: a, busy: true})
		}
	}
	if len(pool) == 0 {
		return nil, nil
	}

	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.busy != b.busy {
			return !a.busy
		}
		if a.agent.Cost != b.agent.Cost {
			return a.agent.Cost < b.agent.Cost
		}
		if a.agent.Latency != b.agent.Latency {
			return a.agent.Latency < b.agent.Latency
		}
		return a.agent.ID < b.agent.ID
	})

	best := pool[0].agent
	return &orchestrator.AgentCandidate{
		ID:               best.ID,
		Skills:           slices.Clone(best.Skills),
		EstimatedCost:    best.Cost,
		EstimatedLatency: best.Latency,
	}, nil
}
