package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/godel/internal/lifecycle"
	"github.com/aristath/godel/internal/persistence"
	"github.com/aristath/godel/internal/tui"
)

func newAgentsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "agents [agent-id]",
		Short: "List the agent fleet and its recorded lifecycle",
		Long: `Agents lists the configured agents with their skills, cost and latency,
and the last lifecycle state recorded for each of them.

With an agent id the full transition history of that agent is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			if len(args) == 1 {
				return showAgentHistory(ctx, out, store, args[0])
			}
			return a.listAgents(ctx, out, store)
		},
	}
}

// openStore opens the configured database, or returns nil when nothing has
// been recorded yet.
func (a *app) openStore(ctx context.Context) (persistence.Store, error) {
	if _, err := os.Stat(a.cfg.Storage.Path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	store, err := persistence.NewSQLiteStore(ctx, a.cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) listAgents(ctx context.Context, w io.Writer, store persistence.Store) error {
	recorded := make(map[string]persistence.AgentRecord)
	if store != nil {
		records, err := store.Agents(ctx)
		if err != nil {
			return err
		}
		for _, r := range records {
			recorded[r.ID] = r
		}
	}

	ids := make([]string, 0, len(a.cfg.Agents))
	for id := range a.cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	color.New(color.Bold).Fprintf(w, "%-12s %-14s %-8s %-10s %s\n", "AGENT", "STATE", "COST", "LATENCY", "SKILLS")
	for _, id := range ids {
		ac := a.cfg.Agents[id]
		state := color.HiBlackString("%-14s", "-")
		if r, ok := recorded[id]; ok {
			state = tui.StateStyle(r.State).Render(fmt.Sprintf("%-14s", r.State))
		}
		fmt.Fprintf(w, "%-12s %s %-8.2f %-10v %s\n", id, state, ac.Cost, ac.Latency(), strings.Join(ac.Skills, ", "))
	}

	// Agents recorded by earlier runs that are no longer configured
	for _, id := range sortedKeys(recorded) {
		if _, ok := a.cfg.Agents[id]; ok {
			continue
		}
		r := recorded[id]
		fmt.Fprintf(w, "%-12s %-14s %s\n", id, r.State, color.HiBlackString("(not configured)"))
	}

	if store == nil {
		fmt.Fprintln(w, color.HiBlackString("\nNo runs recorded yet. Run 'godel run <task>' to start."))
	}
	return nil
}

func showAgentHistory(ctx context.Context, w io.Writer, store persistence.Store, id string) error {
	if store == nil {
		fmt.Fprintf(w, "No history recorded for %s.\n", id)
		return nil
	}
	history, err := store.History(ctx, id)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintf(w, "No history recorded for %s.\n", id)
		return nil
	}

	color.New(color.Bold).Fprintf(w, "%s\n", id)
	for _, t := range history {
		line := fmt.Sprintf("  %s  %-12s -> %-12s %s", t.At.Local().Format(time.DateTime), t.From, t.To, t.Reason)
		if t.Forced {
			line += color.YellowString(" (forced)")
		}
		fmt.Fprintln(w, line)
	}
	last := history[len(history)-1]
	fmt.Fprintf(w, "\ncurrent state: %s since %s\n",
		tui.StateStyle(last.To).Render(last.To.String()), last.At.Local().Format(time.DateTime))
	if next := lifecycle.Targets(last.To); len(next) > 0 {
		names := make([]string, len(next))
		for i, s := range next {
			names[i] = s.String()
		}
		fmt.Fprintf(w, "next states: %s\n", strings.Join(names, ", "))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
