package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_Table(t *testing.T) {
	edges := []struct {
		from, to State
	}{
		{StateCreated, StateInitializing},
		{StateInitializing, StateIdle},
		{StateInitializing, StateError},
		{StateIdle, StateBusy},
		{StateBusy, StateIdle},
		{StateBusy, StateError},
		{StateIdle, StatePaused},
		{StateBusy, StatePaused},
		{StatePaused, StateIdle},
		{StatePaused, StateBusy},
		{StateIdle, StateStopping},
		{StateBusy, StateStopping},
		{StatePaused, StateStopping},
		{StateStopping, StateStopped},
		{StateError, StateStopping},
		{StateError, StateInitializing},
	}

	allowed := make(map[[2]State]bool)
	for _, e := range edges {
		allowed[[2]State{e.from, e.to}] = true
	}

	for _, from := range States() {
		for _, to := range States() {
			want := allowed[[2]State{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStoppedIsTerminal(t *testing.T) {
	for _, to := range States() {
		assert.False(t, CanTransition(StateStopped, to), "stopped -> %s must be rejected", to)
	}
	assert.True(t, StateStopped.IsTerminal())
	assert.Empty(t, Targets(StateStopped))
}

func TestParseState(t *testing.T) {
	tests := []struct {
		in      string
		want    State
		wantErr bool
	}{
		{in: "idle", want: StateIdle},
		{in: "  BUSY ", want: StateBusy},
		{in: "Stopped", want: StateStopped},
		{in: "running", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseState(tt.in)
			if tt.wantErr {
				var unknown *UnknownStateError
				require.ErrorAs(t, err, &unknown)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStateText(t *testing.T) {
	data, err := StatePaused.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "paused", string(data))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("error")))
	assert.Equal(t, StateError, s)
	assert.Error(t, s.UnmarshalText([]byte("zombie")))
}

func TestAgentTransition_RecordsHistory(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	a := newAgent("agent-1", now)

	clock = clock.Add(time.Second)
	_, err := a.Transition(StateInitializing, "setup")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Second)
	_, err = a.Transition(StateIdle, "ready")
	require.NoError(t, err)

	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, Transition{From: StateCreated, To: StateInitializing, Reason: "setup", At: clock.Add(-2 * time.Second)}, history[0])
	assert.Equal(t, StateIdle, history[1].To)
	assert.Equal(t, StateIdle, a.State())
	assert.Equal(t, clock, a.Since())
	assert.Equal(t, 5*time.Second, a.TimeInState(clock.Add(5*time.Second)))
}

func TestAgentTransition_Invalid(t *testing.T) {
	a := NewAgent("agent-1")

	_, err := a.Transition(StateBusy, "work assigned")

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StateCreated, invalid.From)
	assert.Equal(t, StateBusy, invalid.To)
	assert.Equal(t, StateCreated, a.State())
	assert.Empty(t, a.History(), "rejected transitions must not be recorded")
}

func TestAgentForceTransition(t *testing.T) {
	a := NewAgent("agent-1")

	rec, err := a.ForceTransition(StateStopped, "operator kill")
	require.NoError(t, err)
	assert.True(t, rec.Forced)
	assert.Equal(t, StateStopped, a.State())

	history := a.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Forced)
	assert.Equal(t, "operator kill", history[0].Reason)

	_, err = a.ForceTransition(State(42), "bogus")
	var unknown *UnknownStateError
	assert.ErrorAs(t, err, &unknown)
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	a, err := r.Register("b")
	require.NoError(t, err)
	assert.Equal(t, "b", a.ID())

	_, err = r.Register("a")
	require.NoError(t, err)

	_, err = r.Register("a")
	var dup *DuplicateAgentError
	require.ErrorAs(t, err, &dup)

	generated, err := r.Register("")
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID())

	ids := []string{}
	for _, agent := range r.List() {
		ids = append(ids, agent.ID())
	}
	assert.Len(t, ids, 3)
	assert.ElementsMatch(t, []string{"a", "b", generated.ID()}, ids)
	assert.IsIncreasing(t, ids)

	_, err = r.State("missing")
	var notFound *AgentNotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.False(t, r.CanTransition("missing", StateIdle))
}

func TestRegistry_StartAndWork(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("worker")
	require.NoError(t, err)

	require.NoError(t, r.Start("worker"))
	assert.True(t, r.CanTransition("worker", StateBusy))

	require.NoError(t, r.Transition("worker", StateBusy, "work assigned"))
	require.NoError(t, r.Transition("worker", StateError, "execution error"))
	require.NoError(t, r.Transition("worker", StateInitializing, "retry requested"))
	require.NoError(t, r.Transition("worker", StateIdle, "ready"))

	state, err := r.State("worker")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, state)
}

func TestRegistry_ObserverSeesAppliedTransitionsOnly(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("worker")
	require.NoError(t, err)

	var seen []Transition
	r.Observe(func(agentID string, tr Transition) {
		assert.Equal(t, "worker", agentID)
		seen = append(seen, tr)
	})

	require.NoError(t, r.Transition("worker", StateInitializing, "setup"))
	err = r.Transition("worker", StateBusy, "too early")
	require.Error(t, err)
	require.NoError(t, r.ForceTransition("worker", StateBusy, "operator"))

	require.Len(t, seen, 2)
	assert.Equal(t, StateInitializing, seen[0].To)
	assert.True(t, seen[1].Forced)
}

func TestRegistry_RemoveOnlyWhenStopped(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("worker")
	require.NoError(t, err)
	require.NoError(t, r.Start("worker"))

	_, err = r.Remove("worker")
	assert.True(t, errors.Is(err, ErrNotStopped))

	require.NoError(t, r.Shutdown("worker", "shutdown requested"))
	snap, err := r.Remove("worker")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, snap.State)
	assert.Len(t, snap.History, 4)

	_, ok := r.Get("worker")
	assert.False(t, ok)
}

func TestRegistry_ConcurrentTransitionsSerialize(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("worker")
	require.NoError(t, err)
	require.NoError(t, r.Start("worker"))

	// Exactly one of many concurrent idle->busy attempts may win.
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Transition("worker", StateBusy, "work assigned"); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	counts := r.Count()
	assert.Equal(t, 1, counts[StateBusy])
}
