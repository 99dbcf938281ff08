package decompose

import (
	"fmt"
	"strings"
)

// EmptyInputError is returned for empty or whitespace-only task text.
type EmptyInputError struct{}

func (e *EmptyInputError) Error() string {
	return "task text is empty"
}

// InvalidConfigError is returned for decomposition options that cannot be honored.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid decomposition option %s: %s", e.Field, e.Reason)
}

// InvalidSubtasksError reports a subtask set that violates the graph invariants.
type InvalidSubtasksError struct {
	Reason string
	IDs    []string
}

func (e *InvalidSubtasksError) Error() string {
	if len(e.IDs) == 0 {
		return "invalid subtasks: " + e.Reason
	}
	return fmt.Sprintf("invalid subtasks: %s: %s", e.Reason, strings.Join(e.IDs, ", "))
}
