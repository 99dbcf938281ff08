package persistence

import (
	"context"
	"log/slog"

	"github.com/aristath/godel/internal/events"
	"github.com/aristath/godel/internal/orchestrator"
)

// Recorder writes engine and lifecycle events to a Store.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a recorder for store.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Run records events until the channel is closed or ctx is done.
// Storage errors are logged and do not stop the recorder.
func (r *Recorder) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Record(ctx, ev); err != nil {
				r.logger.Warn("failed to record event", "type", ev.EventType(), "subject", ev.Subject(), "err", err)
			}
		}
	}
}

// Record stores a single event. Events without a persistent form are ignored.
func (r *Recorder) Record(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.PlanStartedEvent:
		return r.store.StartRun(ctx, RunRecord{
			ID:         e.RunID,
			TotalTasks: e.TotalTasks,
			Levels:     e.Levels,
			StartedAt:  e.Timestamp,
		})
	case events.PlanProgressEvent:
		return r.store.UpdateRunProgress(ctx, e.RunID, e.Completed, e.Failed, e.Cancelled)
	case events.PlanFinishedEvent:
		return r.store.FinishRun(ctx, RunRecord{
			ID:         e.RunID,
			Completed:  e.Completed,
			Failed:     e.Failed,
			Cancelled:  e.Cancelled,
			Aborted:    e.Aborted,
			FinishedAt: e.Timestamp,
			Duration:   e.Duration,
		})
	case events.TaskStartedEvent:
		return r.store.SaveOutcome(ctx, OutcomeRecord{
			RunID:     e.RunID,
			TaskID:    e.ID,
			Title:     e.Title,
			AgentID:   e.AgentID,
			Status:    StatusRunning,
			Attempts:  1,
			UpdatedAt: e.Timestamp,
		})
	case events.TaskRetryingEvent:
		return r.store.SaveOutcome(ctx, OutcomeRecord{
			RunID:     e.RunID,
			TaskID:    e.ID,
			AgentID:   e.AgentID,
			Status:    StatusRunning,
			Attempts:  e.Attempt + 1,
			Error:     errString(e.Err),
			UpdatedAt: e.Timestamp,
		})
	case events.TaskCompletedEvent:
		return r.store.SaveOutcome(ctx, OutcomeRecord{
			RunID:     e.RunID,
			TaskID:    e.ID,
			AgentID:   e.AgentID,
			Status:    orchestrator.TaskCompleted.String(),
			Attempts:  e.Attempts,
			Output:    e.Output,
			Duration:  e.Duration,
			UpdatedAt: e.Timestamp,
		})
	case events.TaskFailedEvent:
		return r.store.SaveOutcome(ctx, OutcomeRecord{
			RunID:     e.RunID,
			TaskID:    e.ID,
			AgentID:   e.AgentID,
			Status:    orchestrator.TaskFailed.String(),
			Attempts:  e.Attempts,
			Error:     errString(e.Err),
			Duration:  e.Duration,
			UpdatedAt: e.Timestamp,
		})
	case events.TaskCancelledEvent:
		return r.store.SaveOutcome(ctx, OutcomeRecord{
			RunID:     e.RunID,
			TaskID:    e.ID,
			AgentID:   e.AgentID,
			Status:    orchestrator.TaskCancelled.String(),
			Error:     e.Reason,
			UpdatedAt: e.Timestamp,
		})
	case events.AgentTransitionEvent:
		return r.store.SaveTransition(ctx, e.AgentID, e.Transition)
	default:
		r.logger.Debug("event not recorded", "type", ev.EventType())
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
