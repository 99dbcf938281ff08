package scheduler

import (
	"fmt"
	"strings"
)

// DanglingDependencyError reports a dependency on a node that is not in the graph.
type DanglingDependencyError struct {
	NodeID       string
	MissingDepID string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("node %q depends on non-existent node %q", e.NodeID, e.MissingDepID)
}

// DuplicateNodeError reports two nodes sharing an ID.
type DuplicateNodeError struct {
	NodeID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("node with ID %q already exists", e.NodeID)
}

// CircularDependencyError reports a cycle. CycleIDs lists the path around the
// cycle with the first node repeated at the end.
type CircularDependencyError struct {
	CycleIDs []string
}

func (e *CircularDependencyError) Error() string {
	return "dependency graph contains cycle: " + strings.Join(e.CycleIDs, " -> ")
}

// PlanNotBuiltError is returned when a plan is requested before a graph was built.
type PlanNotBuiltError struct{}

func (e *PlanNotBuiltError) Error() string {
	return "execution plan requested before a graph was built"
}

// ErrPlanNotBuilt is the PlanNotBuiltError returned by Resolver.ExecutionPlan.
var ErrPlanNotBuilt error = &PlanNotBuiltError{}

// InvalidPlanError reports an execution plan that breaks the leveling invariant.
type InvalidPlanError struct {
	TaskID string
	Reason string
}

func (e *InvalidPlanError) Error() string {
	if e.TaskID == "" {
		return "invalid execution plan: " + e.Reason
	}
	return fmt.Sprintf("invalid execution plan: task %q: %s", e.TaskID, e.Reason)
}
