package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/godel/internal/planfile"
	"github.com/aristath/godel/internal/scheduler"
)

func newPlanCmd(a *app) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "plan <plan-file>",
		Short: "Resolve dependencies and show the execution levels",
		Long: `Plan validates the subtasks of a plan file (missing dependencies,
duplicates, cycles) and shows the execution levels the engine will run,
the critical path and the estimated parallelism.

With --write the resolved plan is stored back into the file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := planfile.Load(args[0])
			if err != nil {
				return err
			}
			resolver := scheduler.NewResolver()
			if err := resolver.BuildGraph(scheduler.NodesFromSubtasks(f.Subtasks())); err != nil {
				return err
			}
			plan, err := resolver.ExecutionPlan()
			if err != nil {
				return err
			}

			printPlan(cmd.OutOrStdout(), plan, resolver.Graph())

			if write {
				f.Plan = plan
				if err := planfile.Save(args[0], f); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s Plan stored in %s\n", color.GreenString("✓"), args[0])
			}
			a.logger.Debug("plan resolved", "tasks", plan.TotalTasks, "levels", len(plan.Levels))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&write, "write", "w", false, "Store the resolved plan in the file")
	return cmd
}

// printPlan shows the levels of plan. With a graph, each task also lists the
// tasks waiting on it.
func printPlan(w io.Writer, plan *scheduler.ExecutionPlan, graph *scheduler.DAG) {
	color.New(color.Bold).Fprintf(w, "%d tasks in %d levels", plan.TotalTasks, len(plan.Levels))
	fmt.Fprintf(w, "  estimated parallelism: %d\n", plan.EstimatedParallelism)
	if len(plan.CriticalPath) > 0 {
		fmt.Fprintf(w, "critical path: %s\n", strings.Join(plan.CriticalPath, " -> "))
	}

	for _, level := range plan.Levels {
		mode := "sequential"
		if level.Parallel {
			mode = "parallel"
		}
		fmt.Fprintf(w, "\n%s %s\n", color.CyanString("Level %d", level.Index), color.HiBlackString("(%s)", mode))
		for _, t := range level.Tasks {
			title := t.ID
			var caps []string
			if t.Task != nil {
				title = t.Task.Title
				caps = t.Task.RequiredCapabilities
			}
			fmt.Fprintf(w, "  %-10s %s", t.ID, title)
			if len(caps) > 0 {
				fmt.Fprintf(w, " [%s]", strings.Join(caps, ", "))
			}
			if len(t.Dependencies) > 0 {
				fmt.Fprintf(w, " %s", color.HiBlackString("<- %s", strings.Join(t.Dependencies, ", ")))
			}
			if graph != nil {
				if blocks := graph.Dependents(t.ID); len(blocks) > 0 {
					fmt.Fprintf(w, " %s", color.HiBlackString("-> %s", strings.Join(blocks, ", ")))
				}
			}
			fmt.Fprintln(w)
		}
	}
}
