package events

import (
	"time"

	"github.com/aristath/godel/internal/lifecycle"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	// Subject is the task ID, agent ID or run ID the event is about.
	Subject() string
}

// Topic constants
const (
	TopicPlan  = "plan"
	TopicLevel = "level"
	TopicTask  = "task"
	TopicAgent = "agent"
)

// Event type constants
const (
	EventTypePlanStarted     = "plan.started"
	EventTypePlanProgress    = "plan.progress"
	EventTypePlanFinished    = "plan.finished"
	EventTypeLevelStarted    = "level.started"
	EventTypeLevelFinished   = "level.finished"
	EventTypeTaskStarted     = "task.started"
	EventTypeTaskRetrying    = "task.retrying"
	EventTypeTaskCompleted   = "task.completed"
	EventTypeTaskFailed      = "task.failed"
	EventTypeTaskCancelled   = "task.cancelled"
	EventTypeAgentTransition = "agent.transition"
)

// PlanStartedEvent is published when an execution plan begins.
type PlanStartedEvent struct {
	RunID      string
	TotalTasks int
	Levels     int
	Timestamp  time.Time
}

func (e PlanStartedEvent) EventType() string { return EventTypePlanStarted }
func (e PlanStartedEvent) Subject() string   { return e.RunID }

// PlanProgressEvent is published whenever a task reaches a terminal state.
type PlanProgressEvent struct {
	RunID     string
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Timestamp time.Time
}

func (e PlanProgressEvent) EventType() string { return EventTypePlanProgress }
func (e PlanProgressEvent) Subject() string   { return e.RunID }

// Pending is the number of tasks not yet terminal.
func (e PlanProgressEvent) Pending() int {
	return e.Total - e.Completed - e.Failed - e.Cancelled
}

// PlanFinishedEvent is published once per run with the final counters.
type PlanFinishedEvent struct {
	RunID     string
	Completed int
	Failed    int
	Cancelled int
	Aborted   bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e PlanFinishedEvent) EventType() string { return EventTypePlanFinished }
func (e PlanFinishedEvent) Subject() string   { return e.RunID }

// LevelStartedEvent is published before a level dispatches.
type LevelStartedEvent struct {
	RunID     string
	Level     int
	Tasks     int
	Timestamp time.Time
}

func (e LevelStartedEvent) EventType() string { return EventTypeLevelStarted }
func (e LevelStartedEvent) Subject() string   { return e.RunID }

// LevelFinishedEvent is published after every task of a level is terminal.
type LevelFinishedEvent struct {
	RunID     string
	Level     int
	Completed int
	Failed    int
	Cancelled int
	Duration  time.Duration
	Timestamp time.Time
}

func (e LevelFinishedEvent) EventType() string { return EventTypeLevelFinished }
func (e LevelFinishedEvent) Subject() string   { return e.RunID }

// TaskStartedEvent is published when a task is handed to an agent.
type TaskStartedEvent struct {
	RunID     string
	ID        string
	Title     string
	AgentID   string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) Subject() string   { return e.ID }

// TaskRetryingEvent is published before a failed attempt is retried.
type TaskRetryingEvent struct {
	RunID     string
	ID        string
	AgentID   string
	Attempt   int
	Delay     time.Duration
	Err       error
	Timestamp time.Time
}

func (e TaskRetryingEvent) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetryingEvent) Subject() string   { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	RunID     string
	ID        string
	AgentID   string
	Output    string
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) Subject() string   { return e.ID }

// TaskFailedEvent is published when a task fails terminally.
type TaskFailedEvent struct {
	RunID     string
	ID        string
	AgentID   string
	Err       error
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) Subject() string   { return e.ID }

// TaskCancelledEvent is published when a task is cancelled or skipped.
type TaskCancelledEvent struct {
	RunID     string
	ID        string
	AgentID   string
	Reason    string
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) Subject() string   { return e.ID }

// AgentTransitionEvent is published for every applied lifecycle transition.
type AgentTransitionEvent struct {
	AgentID    string
	Transition lifecycle.Transition
}

func (e AgentTransitionEvent) EventType() string { return EventTypeAgentTransition }
func (e AgentTransitionEvent) Subject() string   { return e.AgentID }

// LifecycleObserver returns a lifecycle.Observer that publishes transitions on
// TopicAgent.
func LifecycleObserver(bus *Bus) lifecycle.Observer {
	return func(agentID string, t lifecycle.Transition) {
		bus.Publish(TopicAgent, AgentTransitionEvent{AgentID: agentID, Transition: t})
	}
}
