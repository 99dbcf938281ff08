package scheduler

import (
	"fmt"

	"github.com/aristath/godel/internal/decompose"
)

// PlannedTask is a node placed in a level.
type PlannedTask struct {
	ID           string             `json:"id" yaml:"id"`
	Dependencies []string           `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Task         *decompose.Subtask `json:"task,omitempty" yaml:"task,omitempty"`
}

// Level is a batch of mutually independent tasks.
type Level struct {
	Index    int           `json:"level" yaml:"level"`
	Tasks    []PlannedTask `json:"tasks" yaml:"tasks"`
	Parallel bool          `json:"parallel" yaml:"parallel"`
}

// ExecutionPlan is the leveled schedule handed to the execution engine. Every
// task depends only on tasks in strictly earlier levels.
type ExecutionPlan struct {
	Levels               []Level  `json:"levels" yaml:"levels"`
	TotalTasks           int      `json:"total_tasks" yaml:"total_tasks"`
	EstimatedParallelism int      `json:"estimated_parallelism" yaml:"estimated_parallelism"`
	CriticalPath         []string `json:"critical_path" yaml:"critical_path"`
}

// Validate checks the leveling invariant: levels numbered 0..N-1, unique task
// IDs, dependencies only on tasks in strictly earlier levels, and TotalTasks
// equal to the number of planned tasks.
func (p *ExecutionPlan) Validate() error {
	if p == nil {
		return &InvalidPlanError{Reason: "nil plan"}
	}

	levelOf := make(map[string]int, p.TotalTasks)
	for i, level := range p.Levels {
		if level.Index != i {
			return &InvalidPlanError{Reason: fmt.Sprintf("level at position %d has index %d", i, level.Index)}
		}
		for _, task := range level.Tasks {
			if task.ID == "" {
				return &InvalidPlanError{Reason: fmt.Sprintf("task without ID in level %d", i)}
			}
			if _, dup := levelOf[task.ID]; dup {
				return &InvalidPlanError{TaskID: task.ID, Reason: "planned twice"}
			}
			levelOf[task.ID] = i
		}
	}

	for i, level := range p.Levels {
		for _, task := range level.Tasks {
			for _, dep := range task.Dependencies {
				depLevel, ok := levelOf[dep]
				switch {
				case !ok:
					return &InvalidPlanError{TaskID: task.ID, Reason: fmt.Sprintf("depends on unplanned task %q", dep)}
				case depLevel >= i:
					return &InvalidPlanError{TaskID: task.ID, Reason: fmt.Sprintf("depends on %q in level %d, not earlier than its own level %d", dep, depLevel, i)}
				}
			}
		}
	}

	if len(levelOf) != p.TotalTasks {
		return &InvalidPlanError{Reason: fmt.Sprintf("total_tasks is %d but %d tasks are planned", p.TotalTasks, len(levelOf))}
	}
	return nil
}

// TaskIDs returns every planned task ID, level by level.
func (p *ExecutionPlan) TaskIDs() []string {
	ids := make([]string, 0, p.TotalTasks)
	for _, level := range p.Levels {
		for _, task := range level.Tasks {
			ids = append(ids, task.ID)
		}
	}
	return ids
}

// LevelIDs returns the task IDs of each level.
func (p *ExecutionPlan) LevelIDs() [][]string {
	out := make([][]string, len(p.Levels))
	for i, level := range p.Levels {
		for _, task := range level.Tasks {
			out[i] = append(out[i], task.ID)
		}
	}
	return out
}

// PlanSubtasks builds a plan straight from decomposer output.
func PlanSubtasks(subtasks []*decompose.Subtask) (*ExecutionPlan, error) {
	r := NewResolver()
	if err := r.BuildGraph(NodesFromSubtasks(subtasks)); err != nil {
		return nil, err
	}
	return r.ExecutionPlan()
}
