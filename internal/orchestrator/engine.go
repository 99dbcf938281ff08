package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/godel/internal/decompose"
	"github.com/aristath/godel/internal/events"
	"github.com/aristath/godel/internal/lifecycle"
	"github.com/aristath/godel/internal/scheduler"
)

// Engine executes plans level by level against agents chosen by an
// AgentSelector. An Engine may run several plans concurrently; each call gets
// its own concurrency budget.
type Engine struct {
	cfg       Config
	selector  AgentSelector
	executor  TaskExecutor
	lifecycle LifecycleController
	bus       *events.Bus
	breakers  *CircuitBreakerRegistry
	logger    *slog.Logger
	locks     *scheduler.ResourceLockManager
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLifecycle makes the engine drive agent lifecycle transitions.
func WithLifecycle(lc LifecycleController) Option {
	return func(e *Engine) { e.lifecycle = lc }
}

// WithEventBus publishes plan, level and task events on bus.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBreakers routes every attempt through per-agent circuit breakers.
func WithBreakers(r *CircuitBreakerRegistry) Option {
	return func(e *Engine) { e.breakers = r }
}

// NewEngine creates an Engine. When cfg.BreakerThreshold is positive and no
// registry is supplied, one is created.
func NewEngine(selector AgentSelector, executor TaskExecutor, cfg Config, opts ...Option) (*Engine, error) {
	if selector == nil {
		return nil, &InvalidConfigError{Field: "selector", Reason: "must not be nil"}
	}
	if executor == nil {
		return nil, &InvalidConfigError{Field: "executor", Reason: "must not be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		selector: selector,
		executor: executor,
		logger:   slog.Default(),
		locks:    scheduler.NewResourceLockManager(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.breakers == nil && cfg.BreakerThreshold > 0 {
		e.breakers = NewCircuitBreakerRegistry(cfg.BreakerThreshold, 0, e.logger)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// run is the state of one ExecutePlan call.
type run struct {
	id     string
	plan   *scheduler.ExecutionPlan
	sem    *semaphore.Weighted
	mu     sync.Mutex
	result *ExecutionResult
}

// ExecutePlan runs plan to completion. Task failures, timeouts and
// cancellations are reported in the result; an error is returned only for a
// nil or malformed plan.
func (e *Engine) ExecutePlan(ctx context.Context, plan *scheduler.ExecutionPlan) (*ExecutionResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: nil plan", ErrInvalidPlan)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}

	start := e.now()
	r := &run{
		id:   uuid.NewString(),
		plan: plan,
		sem:  semaphore.NewWeighted(int64(e.cfg.MaxConcurrency)),
		result: &ExecutionResult{
			Outcomes: make(map[string]TaskOutcome, plan.TotalTasks),
		},
	}
	r.result.RunID = r.id

	runCtx := ctx
	if e.cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, e.cfg.TotalTimeout, &TimeoutError{Scope: "total", Limit: e.cfg.TotalTimeout})
		defer cancel()
	}

	e.logger.Info("plan started", "run", r.id, "tasks", plan.TotalTasks, "levels", len(plan.Levels))
	e.bus.Publish(events.TopicPlan, events.PlanStartedEvent{
		RunID:      r.id,
		TotalTasks: plan.TotalTasks,
		Levels:     len(plan.Levels),
		Timestamp:  start,
	})

	var abort error // set once the rest of the plan must not run
	for _, level := range plan.Levels {
		if abort == nil && runCtx.Err() != nil {
			abort = cancelled(context.Cause(runCtx))
		}
		if abort != nil {
			for _, task := range level.Tasks {
				e.finish(r, TaskOutcome{TaskID: task.ID, Status: TaskCancelled, Err: abort})
			}
			continue
		}

		levelFailed, levelTimedOut := e.runLevel(runCtx, r, level)

		switch {
		case runCtx.Err() != nil:
			abort = cancelled(context.Cause(runCtx))
		case levelTimedOut:
			abort = cancelled(&TimeoutError{Scope: "level", Limit: e.cfg.LevelTimeout})
		case levelFailed && !e.cfg.ContinueOnFailure:
			abort = cancelled(fmt.Errorf("level %d had failures", level.Index))
		}
	}

	res := r.result
	res.Aborted = abort != nil
	res.Duration = e.now().Sub(start)

	e.logger.Info("plan finished", "run", r.id,
		"completed", res.Completed, "failed", res.Failed, "cancelled", res.Cancelled,
		"aborted", res.Aborted, "duration", res.Duration)
	e.bus.Publish(events.TopicPlan, events.PlanFinishedEvent{
		RunID:     r.id,
		Completed: res.Completed,
		Failed:    res.Failed,
		Cancelled: res.Cancelled,
		Aborted:   res.Aborted,
		Duration:  res.Duration,
		Timestamp: e.now(),
	})
	return res, nil
}

// runLevel dispatches every task of level and waits until all are terminal.
// It reports whether any task failed and whether the level timeout fired.
func (e *Engine) runLevel(runCtx context.Context, r *run, level scheduler.Level) (failed, timedOut bool) {
	start := e.now()
	levelCtx := runCtx
	if e.cfg.LevelTimeout > 0 {
		var cancel context.CancelFunc
		levelCtx, cancel = context.WithTimeoutCause(runCtx, e.cfg.LevelTimeout, &TimeoutError{Scope: "level", Limit: e.cfg.LevelTimeout})
		defer cancel()
	}

	e.bus.Publish(events.TopicLevel, events.LevelStartedEvent{
		RunID:     r.id,
		Level:     level.Index,
		Tasks:     len(level.Tasks),
		Timestamp: start,
	})

	outcomes := make([]TaskOutcome, len(level.Tasks))
	var g errgroup.Group
	for i, task := range level.Tasks {
		if dep := e.blockedBy(r, task); dep != "" {
			outcomes[i] = TaskOutcome{
				TaskID: task.ID,
				Status: TaskCancelled,
				Err:    &DependencyFailedError{TaskID: task.ID, DependencyID: dep},
			}
			e.finish(r, outcomes[i])
			continue
		}
		g.Go(func() error {
			outcomes[i] = e.runTask(levelCtx, r, task)
			e.finish(r, outcomes[i])
			return nil
		})
	}
	_ = g.Wait()

	var completed, cancelledCount, failedCount int
	for _, o := range outcomes {
		switch o.Status {
		case TaskCompleted:
			completed++
		case TaskFailed:
			failedCount++
		case TaskCancelled:
			cancelledCount++
		}
		if isLevelTimeout(o.Err) {
			timedOut = true
		}
	}

	e.bus.Publish(events.TopicLevel, events.LevelFinishedEvent{
		RunID:     r.id,
		Level:     level.Index,
		Completed: completed,
		Failed:    failedCount,
		Cancelled: cancelledCount,
		Duration:  e.now().Sub(start),
		Timestamp: e.now(),
	})
	return failedCount > 0, timedOut
}

// blockedBy returns the first dependency of task that did not complete. Only
// reachable with ContinueOnFailure; otherwise later levels never start after
// a failure.
func (e *Engine) blockedBy(r *run, task scheduler.PlannedTask) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range task.Dependencies {
		if o, ok := r.result.Outcomes[dep]; !ok || o.Status != TaskCompleted {
			return dep
		}
	}
	return ""
}

// runTask takes one task from dispatch to a terminal outcome.
func (e *Engine) runTask(ctx context.Context, r *run, task scheduler.PlannedTask) TaskOutcome {
	start := e.now()
	outcome := TaskOutcome{TaskID: task.ID}
	done := func(status TaskStatus, err error) TaskOutcome {
		outcome.Status = status
		outcome.Err = err
		outcome.Duration = e.now().Sub(start)
		return outcome
	}

	// Closed when an executor call abandoned after CancelGrace returns. The
	// slot and the agent lock stay held until then.
	var stuck <-chan struct{}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return done(TaskCancelled, cancelled(context.Cause(ctx)))
	}
	defer func() { releaseAfter(stuck, func() { r.sem.Release(1) }) }()
	if ctx.Err() != nil {
		return done(TaskCancelled, cancelled(context.Cause(ctx)))
	}

	subtask := task.Task
	if subtask == nil {
		subtask = &decompose.Subtask{ID: task.ID, Title: task.ID, Dependencies: task.Dependencies}
	}

	candidate, err := e.selector.Select(ctx, SelectionCriteria{
		TaskID:               task.ID,
		RequiredCapabilities: subtask.RequiredCapabilities,
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return done(TaskCancelled, cancelled(context.Cause(ctx)))
	case err != nil:
		return done(TaskFailed, fmt.Errorf("select agent: %w", err))
	case candidate == nil:
		return done(TaskFailed, &NoAgentAvailableError{TaskID: task.ID, Capabilities: subtask.RequiredCapabilities})
	}
	agentID := candidate.ID
	outcome.AgentID = agentID

	// One dispatch per agent at a time
	if !e.locks.TryLock(agentID) {
		e.logger.Debug("waiting for agent", "run", r.id, "task", task.ID, "agent", agentID)
		if err := e.locks.Lock(ctx, agentID); err != nil {
			return done(TaskCancelled, cancelled(context.Cause(ctx)))
		}
	}
	defer func() { releaseAfter(stuck, func() { e.locks.Unlock(agentID) }) }()

	if e.lifecycle != nil {
		if err := e.lifecycle.Transition(agentID, lifecycle.StateBusy, "work assigned"); err != nil {
			return done(TaskFailed, &AgentUnavailableError{AgentID: agentID, Err: err})
		}
	}

	e.logger.Debug("task started", "run", r.id, "task", task.ID, "agent", agentID)
	e.bus.Publish(events.TopicTask, events.TaskStartedEvent{
		RunID:     r.id,
		ID:        task.ID,
		Title:     subtask.Title,
		AgentID:   agentID,
		Timestamp: start,
	})

	err = retryConstant(ctx, e.cfg.RetryAttempts, e.cfg.RetryDelay,
		func() error {
			outcome.Attempts++
			out, abandoned, err := e.attempt(ctx, agentID, subtask)
			if abandoned != nil {
				stuck = abandoned
			}
			outcome.Output = out.Output
			return err
		},
		func(attempt int, err error, wait time.Duration) {
			e.logger.Warn("task attempt failed, retrying", "task", task.ID, "agent", agentID, "attempt", attempt, "err", err)
			e.bus.Publish(events.TopicTask, events.TaskRetryingEvent{
				RunID:     r.id,
				ID:        task.ID,
				AgentID:   agentID,
				Attempt:   attempt,
				Delay:     wait,
				Err:       err,
				Timestamp: e.now(),
			})
		})

	switch {
	case err == nil:
		e.transition(agentID, lifecycle.StateIdle, "work completed")
		return done(TaskCompleted, nil)
	case errors.Is(err, ErrCancelled):
		status, reason := e.interrupted(ctx)
		// An agent that stopped when asked is healthy, even if the task
		// failed on a level timeout.
		if stuck == nil {
			e.transition(agentID, lifecycle.StateIdle, "cancelled")
		} else {
			e.transition(agentID, lifecycle.StateError, "cancellation not acknowledged")
		}
		return done(status, reason)
	default:
		e.transition(agentID, lifecycle.StateError, "execution error")
		return done(TaskFailed, err)
	}
}

// releaseAfter runs fn now, or once stuck is closed when it is not nil.
func releaseAfter(stuck <-chan struct{}, fn func()) {
	if stuck == nil {
		fn()
		return
	}
	go func() {
		<-stuck
		fn()
	}()
}

// interrupted classifies an in-flight task stopped by its context: a level
// timeout fails the task, anything else cancels it. Tasks that never reached
// an agent are always cancelled.
func (e *Engine) interrupted(ctx context.Context) (TaskStatus, error) {
	cause := context.Cause(ctx)
	if isLevelTimeout(cause) {
		return TaskFailed, cause
	}
	return TaskCancelled, cancelled(cause)
}

// attempt runs one executor call. When ctx ends first the executor is asked
// to cancel and given CancelGrace to return. If it does not, the call is
// abandoned and the returned channel is closed once it finally returns.
func (e *Engine) attempt(ctx context.Context, agentID string, task *decompose.Subtask) (out TaskOutput, abandoned <-chan struct{}, err error) {
	call := func() (TaskOutput, error) {
		type result struct {
			out TaskOutput
			err error
		}
		ch := make(chan result, 1)
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			out, err := e.executor.Execute(ctx, agentID, task)
			ch <- result{out, err}
		}()

		select {
		case res := <-ch:
			if res.err == nil && !res.out.Success {
				res.err = &ExecutionError{AgentID: agentID, Message: res.out.Error}
			}
			return res.out, res.err
		case <-ctx.Done():
		}

		issued := e.executor.Cancel(agentID)
		grace := time.NewTimer(e.cfg.CancelGrace)
		defer grace.Stop()
		select {
		case <-ch:
		case <-grace.C:
			abandoned = finished
			e.logger.Warn("executor did not stop within grace period", "agent", agentID, "cancel_issued", issued, "grace", e.cfg.CancelGrace)
		}
		return TaskOutput{}, cancelled(context.Cause(ctx))
	}

	if e.breakers == nil {
		out, err = call()
		return out, abandoned, err
	}

	res, err := e.breakers.Get(agentID).Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		if isBreakerRejection(err) {
			err = fmt.Errorf("agent %q circuit breaker: %w", agentID, err)
		}
		if res == nil {
			return TaskOutput{}, abandoned, err
		}
	}
	if o, ok := res.(TaskOutput); ok {
		out = o
	}
	return out, abandoned, err
}

// transition applies a lifecycle transition if lifecycle tracking is enabled.
func (e *Engine) transition(agentID string, to lifecycle.State, reason string) {
	if e.lifecycle == nil {
		return
	}
	if err := e.lifecycle.Transition(agentID, to, reason); err != nil {
		e.logger.Warn("lifecycle transition rejected", "agent", agentID, "to", to.String(), "err", err)
	}
}

// finish records a terminal outcome and publishes it.
func (e *Engine) finish(r *run, o TaskOutcome) {
	r.mu.Lock()
	r.result.record(o)
	progress := events.PlanProgressEvent{
		RunID:     r.id,
		Total:     r.plan.TotalTasks,
		Completed: r.result.Completed,
		Failed:    r.result.Failed,
		Cancelled: r.result.Cancelled,
		Timestamp: e.now(),
	}
	r.mu.Unlock()

	switch o.Status {
	case TaskCompleted:
		e.bus.Publish(events.TopicTask, events.TaskCompletedEvent{
			RunID: r.id, ID: o.TaskID, AgentID: o.AgentID, Output: o.Output,
			Attempts: o.Attempts, Duration: o.Duration, Timestamp: progress.Timestamp,
		})
	case TaskFailed:
		e.logger.Warn("task failed", "run", r.id, "task", o.TaskID, "agent", o.AgentID, "attempts", o.Attempts, "err", o.Err)
		e.bus.Publish(events.TopicTask, events.TaskFailedEvent{
			RunID: r.id, ID: o.TaskID, AgentID: o.AgentID, Err: o.Err,
			Attempts: o.Attempts, Duration: o.Duration, Timestamp: progress.Timestamp,
		})
	case TaskCancelled:
		reason := ErrCancelled.Error()
		if o.Err != nil {
			reason = o.Err.Error()
		}
		e.bus.Publish(events.TopicTask, events.TaskCancelledEvent{
			RunID: r.id, ID: o.TaskID, AgentID: o.AgentID, Reason: reason, Timestamp: progress.Timestamp,
		})
	}
	e.bus.Publish(events.TopicPlan, progress)
}

func isLevelTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) && te.Scope == "level"
}
