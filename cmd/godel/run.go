package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/godel/internal/backend"
	"github.com/aristath/godel/internal/events"
	"github.com/aristath/godel/internal/fleet"
	"github.com/aristath/godel/internal/lifecycle"
	"github.com/aristath/godel/internal/orchestrator"
	"github.com/aristath/godel/internal/persistence"
	"github.com/aristath/godel/internal/planfile"
	"github.com/aristath/godel/internal/scheduler"
	"github.com/aristath/godel/internal/tui"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(a *app) *cobra.Command {
	var (
		planPath    string
		contextFile string
		useTUI      bool
		noStore     bool
	)

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Execute a plan on the agent fleet",
		Long: `Run executes a plan level by level on the configured agents.

The plan comes from --plan, or the task text is decomposed first.
Every level waits for the previous one; tasks inside a level run
concurrently up to max concurrency. Failed attempts are retried with a
constant delay. With --continue-on-failure later levels still run and
only the dependents of failed tasks are cancelled.

Runs, task outcomes and agent transitions are stored in the SQLite
database unless --no-store is given. --tui opens the live dashboard.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			pm := backend.NewProcessManager()
			// Kill all tracked subprocesses on shutdown signal
			stopKill := context.AfterFunc(ctx, func() {
				if err := pm.KillAll(); err != nil {
					a.logger.Warn("error killing subprocesses", "err", err)
				}
			})
			defer stopKill()

			plan, err := a.loadPlan(ctx, cmd, pm, planPath, contextFile, args)
			if err != nil {
				return err
			}

			bus := events.NewBus()
			reg := lifecycle.NewRegistry()
			reg.Observe(events.LifecycleObserver(bus))

			recorded := make(chan struct{})
			if noStore {
				close(recorded)
			} else {
				store, err := persistence.NewSQLiteStore(ctx, a.cfg.Storage.Path)
				if err != nil {
					return err
				}
				defer store.Close()

				// Subscribe before the fleet starts so agent setup is recorded too
				ch := bus.SubscribeAll(4096)
				rec := persistence.NewRecorder(store, a.logger)
				go func() {
					defer close(recorded)
					rec.Run(context.WithoutCancel(ctx), ch)
				}()
			}
			defer func() {
				bus.Close()
				<-recorded
				if n := bus.Dropped(); n > 0 {
					a.logger.Warn("events dropped", "count", n)
				}
			}()

			fl, err := fleet.FromConfig(a.cfg, reg)
			if err != nil {
				return err
			}
			executor, err := backend.FromConfig(a.cfg, workDir(), pm, a.logger)
			if err != nil {
				return err
			}
			defer executor.Close()

			engine, err := orchestrator.NewEngine(fl, executor, a.cfg.Engine.ToEngine(),
				orchestrator.WithLifecycle(reg),
				orchestrator.WithEventBus(bus),
				orchestrator.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}

			var result *orchestrator.ExecutionResult
			if useTUI {
				result, err = a.runWithTUI(ctx, engine, plan, bus, reg)
			} else {
				result, err = runHeadless(ctx, out, engine, plan, bus)
			}
			if err != nil {
				return err
			}

			printSummary(out, result, plan, reg)
			switch {
			case result.Failed > 0:
				return fmt.Errorf("run %s: %d of %d tasks failed", result.RunID, result.Failed, result.Total())
			case result.Aborted:
				return fmt.Errorf("run %s aborted", result.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&planPath, "plan", "p", "", "Plan file written by decompose or plan")
	cmd.Flags().StringVar(&contextFile, "context", "", "YAML file describing the codebase components")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show the live dashboard")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not record the run in the database")

	cmd.Flags().Int("max-concurrency", 4, "Maximum tasks in flight")
	cmd.Flags().Bool("continue-on-failure", false, "Keep running independent tasks after a failure")
	cmd.Flags().Int("retry-attempts", 2, "Extra attempts after a failed one")
	cmd.Flags().Duration("retry-delay", time.Second, "Delay between attempts")
	cmd.Flags().Duration("level-timeout", 10*time.Minute, "Time limit per level (0 disables)")
	cmd.Flags().Duration("total-timeout", time.Hour, "Time limit for the whole run (0 disables)")
	cmd.Flags().Int("breaker-threshold", 0, "Consecutive failures that open an agent's circuit breaker (0 disables)")
	addDecomposeFlags(cmd)
	return cmd
}

// loadPlan reads the plan file, or decomposes the task text when no file is given.
func (a *app) loadPlan(ctx context.Context, cmd *cobra.Command, pm *backend.ProcessManager, path, contextFile string, args []string) (*scheduler.ExecutionPlan, error) {
	if path != "" {
		if len(args) > 0 {
			return nil, errors.New("give either a task or --plan, not both")
		}
		f, err := planfile.Load(path)
		if err != nil {
			return nil, err
		}
		return f.ExecutionPlan()
	}
	if len(args) == 0 {
		return nil, errors.New("a task or --plan is required")
	}

	text, err := taskText(cmd.InOrStdin(), args)
	if err != nil {
		return nil, err
	}
	codebase, err := loadCodebase(contextFile)
	if err != nil {
		return nil, err
	}
	res, err := a.decompose(ctx, pm, text, codebase)
	if err != nil {
		return nil, err
	}
	return scheduler.PlanSubtasks(res.Subtasks)
}

// runHeadless executes the plan, printing task events as they happen.
func runHeadless(ctx context.Context, out io.Writer, engine *orchestrator.Engine, plan *scheduler.ExecutionPlan, bus *events.Bus) (*orchestrator.ExecutionResult, error) {
	sub := bus.Subscribe(events.TopicTask, 256)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range sub {
			printTaskEvent(out, ev)
		}
	}()

	result, err := engine.ExecutePlan(ctx, plan)
	bus.Unsubscribe(sub)
	<-printed
	return result, err
}

type planOutcome struct {
	result *orchestrator.ExecutionResult
	err    error
}

// runWithTUI executes the plan behind the dashboard. The dashboard stays open
// after the run until the user quits; quitting early cancels the run.
func (a *app) runWithTUI(ctx context.Context, engine *orchestrator.Engine, plan *scheduler.ExecutionPlan, bus *events.Bus, reg *lifecycle.Registry) (*orchestrator.ExecutionResult, error) {
	model := tui.New(bus, a.cfg, a.globalPath, a.projectPath)
	var snaps []lifecycle.Snapshot
	for _, agent := range reg.List() {
		snaps = append(snaps, agent.Snapshot())
	}
	model.SeedAgents(snaps)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan planOutcome, 1)
	go func() {
		result, err := engine.ExecutePlan(runCtx, plan)
		done <- planOutcome{result, err}
	}()

	p := tea.NewProgram(model, tea.WithAltScreen())
	uiErr := make(chan error, 1)
	go func() {
		_, err := p.Run()
		uiErr <- err
	}()

	select {
	case err := <-uiErr:
		// Normal TUI exit (user pressed 'q')
		if err != nil {
			a.logger.Warn("TUI exited with error", "err", err)
		}
		cancel()
	case <-ctx.Done():
		// Signal received: the run sees the same cancellation
		a.logger.Info("shutdown signal received, cleaning up")
		p.Quit()

		select {
		case err := <-uiErr:
			if err != nil {
				a.logger.Warn("TUI exit error", "err", err)
			}
		case <-time.After(shutdownTimeout):
			a.logger.Warn("shutdown timeout exceeded, forcing exit")
			p.Kill()
		}
	}

	out := <-done
	return out.result, out.err
}

func printTaskEvent(w io.Writer, ev events.Event) {
	switch e := ev.(type) {
	case events.TaskStartedEvent:
		fmt.Fprintf(w, "%s %s %s %s\n", color.BlueString("→"), e.ID, e.Title, color.HiBlackString("(%s)", e.AgentID))
	case events.TaskRetryingEvent:
		fmt.Fprintf(w, "%s %s attempt %d failed: %v; retrying in %v\n", color.YellowString("↻"), e.ID, e.Attempt, e.Err, e.Delay)
	case events.TaskCompletedEvent:
		fmt.Fprintf(w, "%s %s %s\n", color.GreenString("✓"), e.ID,
			color.HiBlackString("(%s, %d attempts, %v)", e.AgentID, e.Attempts, e.Duration.Round(time.Millisecond)))
	case events.TaskFailedEvent:
		fmt.Fprintf(w, "%s %s: %v\n", color.RedString("✗"), e.ID, e.Err)
	case events.TaskCancelledEvent:
		fmt.Fprintf(w, "%s %s: %s\n", color.MagentaString("⊘"), e.ID, e.Reason)
	}
}

func printSummary(w io.Writer, r *orchestrator.ExecutionResult, plan *scheduler.ExecutionPlan, reg *lifecycle.Registry) {
	fmt.Fprintln(w)
	status := color.GreenString("completed")
	switch {
	case r.Failed > 0:
		status = color.RedString("finished with failures")
	case r.Aborted:
		status = color.YellowString("aborted")
	}
	color.New(color.Bold).Fprintf(w, "Run %s", r.RunID)
	fmt.Fprintf(w, " %s in %v\n", status, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  %s completed  %s failed  %s cancelled\n",
		color.GreenString("%d", r.Completed), color.RedString("%d", r.Failed), color.MagentaString("%d", r.Cancelled))
	for _, id := range plan.TaskIDs() {
		o := r.Outcomes[id]
		switch o.Status {
		case orchestrator.TaskFailed:
			fmt.Fprintf(w, "  %s %s: %v\n", color.RedString("✗"), id, o.Err)
		case orchestrator.TaskCancelled:
			fmt.Fprintf(w, "  %s %s: %v\n", color.MagentaString("-"), id, o.Err)
		}
	}

	counts := reg.Count()
	var states []string
	for _, s := range lifecycle.States() {
		if n := counts[s]; n > 0 {
			states = append(states, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(states) > 0 {
		fmt.Fprintf(w, "  agents: %s\n", strings.Join(states, ", "))
	}
}
