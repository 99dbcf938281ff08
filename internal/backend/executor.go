package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aristath/godel/internal/config"
	"github.com/aristath/godel/internal/decompose"
	"github.com/aristath/godel/internal/orchestrator"
)

// CommandExecutor runs subtasks by sending a prompt to each agent's backend.
// It satisfies orchestrator.TaskExecutor.
type CommandExecutor struct {
	mu       sync.Mutex
	backends map[string]Backend
	running  map[string]*call
	logger   *slog.Logger
}

type call struct {
	cancel context.CancelFunc
}

var _ orchestrator.TaskExecutor = (*CommandExecutor)(nil)

// NewCommandExecutor wraps a backend per agent id.
func NewCommandExecutor(backends map[string]Backend, logger *slog.Logger) *CommandExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	bs := make(map[string]Backend, len(backends))
	for id, b := range backends {
		bs[id] = b
	}
	return &CommandExecutor{
		backends: bs,
		running:  make(map[string]*call),
		logger:   logger,
	}
}

// FromConfig builds one backend per configured agent from its provider.
func FromConfig(cfg *config.Config, workDir string, pm *ProcessManager, logger *slog.Logger) (*CommandExecutor, error) {
	ids := make([]string, 0, len(cfg.Agents))
	for id := range cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	backends := make(map[string]Backend, len(ids))
	for _, id := range ids {
		b, err := ForAgent(cfg, id, workDir, pm)
		if err != nil {
			for _, opened := range backends {
				_ = opened.Close()
			}
			return nil, err
		}
		backends[id] = b
	}
	return NewCommandExecutor(backends, logger), nil
}

// ForAgent creates the backend for one configured agent.
func ForAgent(cfg *config.Config, agentID, workDir string, pm *ProcessManager) (Backend, error) {
	agent, ok := cfg.Agents[agentID]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", agentID)
	}
	provider, ok := cfg.Providers[agent.Provider]
	if !ok {
		return nil, fmt.Errorf("agent %q: unknown provider %q", agentID, agent.Provider)
	}
	b, err := New(Config{
		Type:         provider.Type,
		Command:      provider.Command,
		Args:         provider.Args,
		WorkDir:      workDir,
		Model:        agent.Model,
		SystemPrompt: agent.SystemPrompt,
	}, pm)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", agentID, err)
	}
	return b, nil
}

// Execute sends the task prompt to agentID's backend. A response carrying an
// error is reported as an unsuccessful output.
func (e *CommandExecutor) Execute(ctx context.Context, agentID string, task *decompose.Subtask) (orchestrator.TaskOutput, error) {
	e.mu.Lock()
	b, ok := e.backends[agentID]
	if !ok {
		e.mu.Unlock()
		return orchestrator.TaskOutput{}, fmt.Errorf("no backend for agent %q", agentID)
	}
	callCtx, cancel := context.WithCancel(ctx)
	c := &call{cancel: cancel}
	e.running[agentID] = c
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		if e.running[agentID] == c {
			delete(e.running, agentID)
		}
		e.mu.Unlock()
	}()

	e.logger.Debug("sending task", "agent", agentID, "task", task.ID)
	resp, err := b.Send(callCtx, Message{Content: TaskPrompt(task), Role: "user"})
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return orchestrator.TaskOutput{}, fmt.Errorf("agent %q cancelled: %w", agentID, errors.Join(context.Canceled, err))
		}
		return orchestrator.TaskOutput{}, err
	}
	if resp.Error != "" {
		return orchestrator.TaskOutput{Success: false, Output: resp.Content, Error: resp.Error}, nil
	}
	return orchestrator.TaskOutput{Success: true, Output: resp.Content}, nil
}

// Cancel stops the call agentID is running, if any. It never blocks on the
// subprocess; the killed process makes Execute return.
func (e *CommandExecutor) Cancel(agentID string) bool {
	e.mu.Lock()
	c, ok := e.running[agentID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	c.cancel()
	return true
}

// Running reports how many calls are in flight.
func (e *CommandExecutor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Close closes every backend.
func (e *CommandExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for id, b := range e.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// TaskPrompt renders the prompt an agent receives for a subtask.
func TaskPrompt(task *decompose.Subtask) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task %s: %s\n", task.ID, task.Title)
	if task.Description != "" && task.Description != task.Title {
		sb.WriteString("\n")
		sb.WriteString(task.Description)
		sb.WriteString("\n")
	}
	if task.Component != "" {
		fmt.Fprintf(&sb, "\nComponent: %s\n", task.Component)
	}
	if len(task.Dependencies) > 0 {
		fmt.Fprintf(&sb, "Builds on: %s\n", strings.Join(task.Dependencies, ", "))
	}
	return sb.String()
}
