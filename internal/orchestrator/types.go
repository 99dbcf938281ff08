// Package orchestrator runs execution plans against a pool of agents.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/godel/internal/decompose"
	"github.com/aristath/godel/internal/lifecycle"
)

// Config is the immutable configuration of an Engine.
type Config struct {
	MaxConcurrency    int           // Max tasks in flight across the whole plan
	ContinueOnFailure bool          // Keep running later levels after a task fails
	LevelTimeout      time.Duration // Wall-clock bound per level; 0 disables
	TotalTimeout      time.Duration // Wall-clock bound per ExecutePlan call; 0 disables
	RetryAttempts     int           // Extra attempts after the first failure
	RetryDelay        time.Duration // Constant delay between attempts
	CancelGrace       time.Duration // How long to wait for a cancelled call to return
	BreakerThreshold  int           // Consecutive failures that open an agent's breaker; 0 disables
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		LevelTimeout:   10 * time.Minute,
		TotalTimeout:   time.Hour,
		RetryAttempts:  2,
		RetryDelay:     time.Second,
		CancelGrace:    5 * time.Second,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.MaxConcurrency < 1:
		return &InvalidConfigError{Field: "max_concurrency", Reason: fmt.Sprintf("must be at least 1, got %d", c.MaxConcurrency)}
	case c.RetryAttempts < 0:
		return &InvalidConfigError{Field: "retry_attempts", Reason: "must not be negative"}
	case c.LevelTimeout < 0:
		return &InvalidConfigError{Field: "level_timeout", Reason: "must not be negative"}
	case c.TotalTimeout < 0:
		return &InvalidConfigError{Field: "total_timeout", Reason: "must not be negative"}
	case c.RetryDelay < 0:
		return &InvalidConfigError{Field: "retry_delay", Reason: "must not be negative"}
	case c.CancelGrace < 0:
		return &InvalidConfigError{Field: "cancel_grace", Reason: "must not be negative"}
	case c.BreakerThreshold < 0:
		return &InvalidConfigError{Field: "breaker_threshold", Reason: "must not be negative"}
	}
	return nil
}

// SelectionCriteria is what the engine knows when asking for an agent.
type SelectionCriteria struct {
	TaskID               string
	RequiredCapabilities []string
}

// AgentCandidate is an agent offered by an AgentSelector. The engine never
// modifies it.
type AgentCandidate struct {
	ID               string
	Skills           []string
	EstimatedCost    float64
	EstimatedLatency time.Duration
}

// AgentSelector picks an agent for a task. A nil candidate with a nil error
// means no agent can take the task.
type AgentSelector interface {
	Select(ctx context.Context, criteria SelectionCriteria) (*AgentCandidate, error)
}

// TaskOutput is what an agent reports for one execution.
type TaskOutput struct {
	Success bool
	Output  string
	Error   string
}

// TaskExecutor runs subtasks on agents.
type TaskExecutor interface {
	// Execute runs task on agentID. A returned error and a TaskOutput with
	// Success false are both treated as a failed attempt.
	Execute(ctx context.Context, agentID string, task *decompose.Subtask) (TaskOutput, error)
	// Cancel asks the executor to stop whatever agentID is running. It must
	// not block; the return value reports whether a cancel was issued.
	Cancel(agentID string) bool
}

// LifecycleController is the slice of lifecycle.Registry the engine drives.
type LifecycleController interface {
	CanTransition(agentID string, to lifecycle.State) bool
	Transition(agentID string, to lifecycle.State, reason string) error
}

// TaskStatus is the terminal state of a planned task.
type TaskStatus int

const (
	TaskCompleted TaskStatus = iota + 1
	TaskFailed
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// TaskOutcome records how one planned task ended.
type TaskOutcome struct {
	TaskID   string
	AgentID  string // empty when the task never reached an agent
	Status   TaskStatus
	Attempts int
	Output   string
	Err      error
	Duration time.Duration
}

// TaskError is a failed task and its message.
type TaskError struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

// ExecutionResult aggregates one ExecutePlan call. Completed, Failed and
// Cancelled always add up to the plan's TotalTasks.
type ExecutionResult struct {
	RunID     string
	Completed int
	Failed    int
	Cancelled int
	Errors    []TaskError
	Outcomes  map[string]TaskOutcome
	Aborted   bool
	Duration  time.Duration
}

// Total returns Completed+Failed+Cancelled.
func (r *ExecutionResult) Total() int {
	return r.Completed + r.Failed + r.Cancelled
}

func (r *ExecutionResult) record(o TaskOutcome) {
	if _, seen := r.Outcomes[o.TaskID]; seen {
		return
	}
	r.Outcomes[o.TaskID] = o
	switch o.Status {
	case TaskCompleted:
		r.Completed++
	case TaskFailed:
		r.Failed++
		msg := "unknown error"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		r.Errors = append(r.Errors, TaskError{TaskID: o.TaskID, Message: msg})
	case TaskCancelled:
		r.Cancelled++
	}
}
