package decompose

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Decomposer splits task text into subtasks. It holds no per-call state and is
// safe for concurrent use.
type Decomposer struct {
	llm        LLMService
	strategies map[string]Strategy
	logger     *slog.Logger
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithLLM sets the service consulted when Options.UseLLM is true.
func WithLLM(svc LLMService) Option {
	return func(d *Decomposer) { d.llm = svc }
}

// WithStrategy registers or replaces a strategy under its name.
func WithStrategy(s Strategy) Option {
	return func(d *Decomposer) { d.strategies[s.Name()] = s }
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decomposer) { d.logger = logger }
}

// New creates a Decomposer with the built-in strategies.
func New(opts ...Option) *Decomposer {
	d := &Decomposer{
		strategies: defaultStrategies(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Strategies returns the registered strategy names.
func (d *Decomposer) Strategies() []string {
	names := make([]string, 0, len(d.strategies))
	for name := range d.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decompose splits taskText into subtasks and groups them into execution levels
// no wider than opts.MaxParallelism.
func (d *Decomposer) Decompose(ctx context.Context, taskText string, codebase *CodebaseContext, opts Options) (*Result, error) {
	if strings.TrimSpace(taskText) == "" {
		return nil, &EmptyInputError{}
	}
	if opts.MaxParallelism < 1 {
		return nil, &InvalidConfigError{Field: "max_parallelism", Reason: fmt.Sprintf("must be at least 1, got %d", opts.MaxParallelism)}
	}
	if opts.MinSubtaskSize < 1 {
		return nil, &InvalidConfigError{Field: "min_subtask_size", Reason: fmt.Sprintf("must be at least 1, got %d", opts.MinSubtaskSize)}
	}
	name := opts.Strategy
	if name == "" {
		name = StrategyComponentBased
	}
	strategy, ok := d.strategies[name]
	if !ok {
		return nil, &InvalidConfigError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", name)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := Request{
		Text:     taskText,
		Codebase: codebase,
		MaxUnits: max(1, wordCount(taskText)/opts.MinSubtaskSize),
		MinWords: opts.MinSubtaskSize,
	}

	if opts.UseLLM {
		if d.llm == nil {
			d.logger.Warn("LLM decomposition requested but no LLM service configured, using rule-based strategy", "strategy", name)
		} else {
			subtasks, levels, err := d.decomposeWithLLM(ctx, req, opts.MaxParallelism)
			if err == nil {
				return newResult(subtasks, levels, name, true), nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			d.logger.Warn("LLM decomposition failed, using rule-based strategy", "strategy", name, "err", err)
		}
	}

	subtasks := normalize(strategy.Split(req))
	if len(subtasks) == 0 {
		subtasks = single(taskText, "")
	}
	levels, err := capWidth(subtasks, opts.MaxParallelism)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	d.logger.Debug("task decomposed", "strategy", name, "subtasks", len(subtasks), "levels", len(levels))
	return newResult(subtasks, levels, name, false), nil
}

func (d *Decomposer) decomposeWithLLM(ctx context.Context, req Request, maxWidth int) ([]*Subtask, [][]*Subtask, error) {
	response, err := d.llm.Complete(ctx, buildPrompt(req))
	if err != nil {
		return nil, nil, fmt.Errorf("complete: %w", err)
	}
	subtasks, err := parseResponse(response, req.MaxUnits)
	if err != nil {
		return nil, nil, fmt.Errorf("parse response: %w", err)
	}
	subtasks = normalize(subtasks)
	levels, err := capWidth(subtasks, maxWidth)
	if err != nil {
		return nil, nil, err
	}
	return subtasks, levels, nil
}

// normalize deduplicates dependency and capability lists.
func normalize(subtasks []*Subtask) []*Subtask {
	for _, st := range subtasks {
		st.Dependencies = uniqueStrings(st.Dependencies)
		st.RequiredCapabilities = uniqueStrings(st.RequiredCapabilities)
		if st.Complexity.Weight() == 0 {
			st.Complexity = ComplexityMedium
		}
	}
	return subtasks
}

func newResult(subtasks []*Subtask, levels [][]*Subtask, strategy string, usedLLM bool) *Result {
	return &Result{
		Subtasks:             subtasks,
		ExecutionLevels:      levels,
		ParallelizationRatio: parallelizationRatio(len(levels), len(subtasks)),
		TotalComplexity:      totalComplexity(subtasks),
		StrategyUsed:         strategy,
		UsedLLM:              usedLLM,
	}
}
