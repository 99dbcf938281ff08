package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aristath/godel/internal/backend"
	"github.com/aristath/godel/internal/config"
	"github.com/aristath/godel/internal/decompose"
	"github.com/aristath/godel/internal/llm"
	"github.com/aristath/godel/internal/planfile"
)

func newDecomposeCmd(a *app) *cobra.Command {
	var output, contextFile string

	cmd := &cobra.Command{
		Use:   "decompose <task>",
		Short: "Split a task into subtasks and write a plan file",
		Long: `Decompose splits the task text into subtasks with dependencies and
groups them into execution levels.

The plan file is written to --output, or printed as YAML when no output
is given. Pass "-" as the task to read it from stdin.

Strategies: component-based, phase-based, clause-based.
With --use-llm the configured LLM proposes the subtasks and the chosen
strategy is the fallback.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := taskText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			codebase, err := loadCodebase(contextFile)
			if err != nil {
				return err
			}

			pm := backend.NewProcessManager()
			res, err := a.decompose(cmd.Context(), pm, text, codebase)
			if err != nil {
				return err
			}
			f := planfile.New(text, res)

			if output == "" {
				return planfile.Encode(cmd.OutOrStdout(), f)
			}
			if err := planfile.Save(output, f); err != nil {
				return err
			}
			printDecomposition(cmd.OutOrStdout(), res)
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s Plan written to %s\n", color.GreenString("✓"), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Plan file to write")
	cmd.Flags().StringVar(&contextFile, "context", "", "YAML file describing the codebase components")
	addDecomposeFlags(cmd)
	return cmd
}

// addDecomposeFlags registers the flags that override the decompose section.
func addDecomposeFlags(cmd *cobra.Command) {
	cmd.Flags().String("strategy", decompose.StrategyComponentBased, "Decomposition strategy")
	cmd.Flags().Int("max-parallelism", 10, "Maximum subtasks per level")
	cmd.Flags().Int("min-subtask-size", 3, "Minimum words per subtask")
	cmd.Flags().Bool("use-llm", false, "Ask the configured LLM to decompose")
}

// taskText joins the arguments, reading stdin when the only argument is "-".
func taskText(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading task from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.Join(args, " "), nil
}

// loadCodebase reads an optional codebase description.
func loadCodebase(path string) (*decompose.CodebaseContext, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading codebase context: %w", err)
	}
	var c decompose.CodebaseContext
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing codebase context %s: %w", path, err)
	}
	return &c, nil
}

// decompose runs the decomposer with the configured options, wiring an LLM
// only when one was asked for.
func (a *app) decompose(ctx context.Context, pm *backend.ProcessManager, text string, codebase *decompose.CodebaseContext) (*decompose.Result, error) {
	opts := a.cfg.Decompose.ToOptions()
	dopts := []decompose.Option{decompose.WithLogger(a.logger)}

	if opts.UseLLM {
		svc, closeFn, err := newLLMService(ctx, a.cfg, pm)
		if err != nil {
			// Rule-based strategies still work without the LLM
			a.logger.Warn("LLM unavailable", "provider", a.cfg.LLM.Provider, "err", err)
		} else {
			defer closeFn()
			dopts = append(dopts, decompose.WithLLM(svc))
		}
	}

	res, err := decompose.New(dopts...).Decompose(ctx, text, codebase, opts)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}
	return res, nil
}

// newLLMService builds the decomposition LLM named by the llm section.
func newLLMService(ctx context.Context, cfg *config.Config, pm *backend.ProcessManager) (decompose.LLMService, func(), error) {
	if cfg.LLM.Provider == config.LLMCommand {
		b, err := backend.ForAgent(cfg, cfg.LLM.Agent, workDir(), pm)
		if err != nil {
			return nil, nil, err
		}
		return backend.NewCompleter(b), func() { _ = b.Close() }, nil
	}
	svc, err := llm.FromConfig(ctx, cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	return svc, func() {}, nil
}

func printDecomposition(w io.Writer, res *decompose.Result) {
	bold := color.New(color.Bold)
	source := res.StrategyUsed
	if res.UsedLLM {
		source += " (llm)"
	}
	bold.Fprintf(w, "%d subtasks in %d levels", len(res.Subtasks), len(res.ExecutionLevels))
	fmt.Fprintf(w, "  strategy: %s  complexity: %d  parallelization: %.2f\n",
		source, res.TotalComplexity, res.ParallelizationRatio)

	for i, level := range res.ExecutionLevels {
		fmt.Fprintf(w, "\n%s\n", color.CyanString("Level %d", i))
		for _, st := range level {
			fmt.Fprintf(w, "  %-10s %s", st.ID, st.Title)
			if len(st.Dependencies) > 0 {
				fmt.Fprintf(w, " %s", color.HiBlackString("<- %s", strings.Join(st.Dependencies, ", ")))
			}
			fmt.Fprintln(w)
		}
	}
}
