package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrCancelled marks work stopped before it finished.
	ErrCancelled = errors.New("cancelled")
	// ErrInvalidPlan wraps plan validation failures returned by ExecutePlan.
	ErrInvalidPlan = errors.New("invalid execution plan")
)

// NoAgentAvailableError is returned when no agent can take a task.
type NoAgentAvailableError struct {
	TaskID       string
	Capabilities []string
}

func (e *NoAgentAvailableError) Error() string {
	if len(e.Capabilities) == 0 {
		return fmt.Sprintf("no agent available for task %q", e.TaskID)
	}
	return fmt.Sprintf("no agent available for task %q with capabilities [%s]", e.TaskID, strings.Join(e.Capabilities, ", "))
}

// AgentUnavailableError is returned when the selected agent cannot accept work.
type AgentUnavailableError struct {
	AgentID string
	Err     error
}

func (e *AgentUnavailableError) Error() string {
	return fmt.Sprintf("agent %q cannot accept work: %v", e.AgentID, e.Err)
}

func (e *AgentUnavailableError) Unwrap() error { return e.Err }

// TimeoutError is the cause of a level or total timeout.
type TimeoutError struct {
	Scope string // "level" or "total"
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timeout after %s", e.Scope, e.Limit)
}

// ExecutionError is an attempt the executor reported as unsuccessful.
type ExecutionError struct {
	AgentID string
	Message string
}

func (e *ExecutionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent %q reported failure", e.AgentID)
	}
	return fmt.Sprintf("agent %q: %s", e.AgentID, e.Message)
}

// DependencyFailedError is the reason a task was skipped under ContinueOnFailure.
type DependencyFailedError struct {
	TaskID       string
	DependencyID string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("task %q skipped: dependency %q did not complete", e.TaskID, e.DependencyID)
}

func (e *DependencyFailedError) Unwrap() error { return ErrCancelled }

// InvalidConfigError reports an engine configuration that cannot be used.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid engine config %s: %s", e.Field, e.Reason)
}

// cancelledError wraps the reason a task stopped early.
type cancelledError struct {
	cause error
}

func (e *cancelledError) Error() string {
	if e.cause == nil {
		return ErrCancelled.Error()
	}
	return "cancelled: " + e.cause.Error()
}

func (e *cancelledError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrCancelled}
	}
	return []error{ErrCancelled, e.cause}
}

func cancelled(cause error) error {
	return &cancelledError{cause: cause}
}
