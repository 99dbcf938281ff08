// Package decompose turns a free-text task into a dependency-annotated set of subtasks.
package decompose

import (
	"fmt"
	"strings"
)

// Complexity is the estimated effort of a subtask.
type Complexity int

const (
	ComplexityLow    Complexity = iota + 1 // weight 1
	ComplexityMedium                       // weight 2
	ComplexityHigh                         // weight 3
)

// Weight returns the complexity weight used for TotalComplexity.
func (c Complexity) Weight() int {
	switch c {
	case ComplexityLow, ComplexityMedium, ComplexityHigh:
		return int(c)
	default:
		return 0
	}
}

func (c Complexity) String() string {
	switch c {
	case ComplexityLow:
		return "low"
	case ComplexityMedium:
		return "medium"
	case ComplexityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseComplexity maps "low", "medium" and "high" (any case) to a Complexity.
func ParseComplexity(s string) (Complexity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return ComplexityLow, nil
	case "medium", "":
		return ComplexityMedium, nil
	case "high":
		return ComplexityHigh, nil
	default:
		return 0, fmt.Errorf("unknown complexity %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Complexity) MarshalText() ([]byte, error) {
	if c.Weight() == 0 {
		return nil, fmt.Errorf("invalid complexity %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Complexity) UnmarshalText(text []byte) error {
	parsed, err := ParseComplexity(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Subtask is an atomic unit of work with declared dependencies on other subtasks.
type Subtask struct {
	ID                   string     `json:"id" yaml:"id"`
	Title                string     `json:"title" yaml:"title"`
	Description          string     `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies         []string   `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty" yaml:"required_capabilities,omitempty"`
	Complexity           Complexity `json:"complexity" yaml:"complexity"`
	Component            string     `json:"component,omitempty" yaml:"component,omitempty"`
}

// Clone returns a deep copy of the subtask.
func (s *Subtask) Clone() *Subtask {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Dependencies != nil {
		cp.Dependencies = append([]string(nil), s.Dependencies...)
	}
	if s.RequiredCapabilities != nil {
		cp.RequiredCapabilities = append([]string(nil), s.RequiredCapabilities...)
	}
	return &cp
}

// Component is an architectural boundary inside a codebase.
type Component struct {
	Name     string   `json:"name" yaml:"name"`
	Paths    []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// CodebaseContext describes the codebase a task applies to.
type CodebaseContext struct {
	Root       string      `json:"root,omitempty" yaml:"root,omitempty"`
	Components []Component `json:"components,omitempty" yaml:"components,omitempty"`
}

// Strategy names.
const (
	StrategyComponentBased = "component-based"
	StrategyPhaseBased     = "phase-based"
	StrategyClauseBased    = "clause-based"
)

// Options controls one decomposition call.
type Options struct {
	Strategy       string `json:"strategy" yaml:"strategy"`
	MaxParallelism int    `json:"max_parallelism" yaml:"max_parallelism"`
	MinSubtaskSize int    `json:"min_subtask_size" yaml:"min_subtask_size"`
	UseLLM         bool   `json:"use_llm" yaml:"use_llm"`
}

// DefaultOptions returns component-based decomposition with a width cap of 10.
func DefaultOptions() Options {
	return Options{
		Strategy:       StrategyComponentBased,
		MaxParallelism: 10,
		MinSubtaskSize: 3,
	}
}

// Result is the immutable output of a decomposition call.
type Result struct {
	Subtasks             []*Subtask   `json:"subtasks" yaml:"subtasks"`
	ExecutionLevels      [][]*Subtask `json:"-" yaml:"-"`
	ParallelizationRatio float64      `json:"parallelization_ratio" yaml:"parallelization_ratio"`
	TotalComplexity      int          `json:"total_complexity" yaml:"total_complexity"`
	StrategyUsed         string       `json:"strategy_used" yaml:"strategy_used"`
	UsedLLM              bool         `json:"used_llm" yaml:"used_llm"`
}

// LevelIDs returns the subtask ids of every execution level.
func (r *Result) LevelIDs() [][]string {
	out := make([][]string, len(r.ExecutionLevels))
	for i, level := range r.ExecutionLevels {
		for _, st := range level {
			out[i] = append(out[i], st.ID)
		}
	}
	return out
}
