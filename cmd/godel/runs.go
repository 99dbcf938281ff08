package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/godel/internal/persistence"
	"github.com/aristath/godel/internal/tui"
)

func newRunsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show recorded runs",
		Long: `Runs lists recorded runs, newest first. With a run id it shows the
outcome of every task in that run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if store == nil {
				fmt.Fprintln(out, "No runs recorded yet. Run 'godel run <task>' to start.")
				return nil
			}
			defer store.Close()

			if len(args) == 1 {
				return showRun(ctx, out, store, args[0])
			}
			return listRuns(ctx, out, store, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to list (0 for all)")
	return cmd
}

func listRuns(ctx context.Context, w io.Writer, store persistence.Store, limit int) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet. Run 'godel run <task>' to start.")
		return nil
	}

	color.New(color.Bold).Fprintf(w, "%-36s  %-19s  %-6s  %-9s  %-6s  %-9s  %s\n",
		"RUN", "STARTED", "TASKS", "COMPLETED", "FAILED", "CANCELLED", "STATUS")
	for _, r := range runs {
		fmt.Fprintf(w, "%-36s  %-19s  %-6d  %-9d  %-6d  %-9d  %s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.TotalTasks,
			r.Completed, r.Failed, r.Cancelled, runStatus(r))
	}
	return nil
}

func runStatus(r persistence.RunRecord) string {
	switch {
	case !r.Finished():
		return color.BlueString("running")
	case r.Failed > 0:
		return color.RedString("failures")
	case r.Aborted:
		return color.YellowString("aborted")
	default:
		return color.GreenString("ok (%v)", r.Duration.Round(time.Millisecond))
	}
}

func showRun(ctx context.Context, w io.Writer, store persistence.Store, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return err
	}
	outcomes, err := store.Outcomes(ctx, runID)
	if err != nil {
		return err
	}

	color.New(color.Bold).Fprintf(w, "Run %s", run.ID)
	fmt.Fprintf(w, "  %s  %d tasks in %d levels\n", runStatus(*run), run.TotalTasks, run.Levels)
	for _, o := range outcomes {
		fmt.Fprintf(w, "  %s %-10s %-24s %-10s attempts: %d\n",
			tui.StatusIcon(o.Status), o.TaskID, truncate(o.Title, 24), o.AgentID, o.Attempts)
		if o.Error != "" {
			fmt.Fprintf(w, "      %s\n", color.RedString(o.Error))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
