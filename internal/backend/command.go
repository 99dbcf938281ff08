package backend

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// CommandAdapter runs an arbitrary CLI once per message. The prompt is passed
// as the last argument and stdout is the response. The model and system
// prompt reach the process as GODEL_MODEL and GODEL_SYSTEM_PROMPT.
type CommandAdapter struct {
	command      string
	args         []string
	workDir      string
	model        string
	systemPrompt string
	procMgr      *ProcessManager
}

// NewCommandAdapter creates a command backend. cfg.Command is required.
func NewCommandAdapter(cfg Config, procMgr *ProcessManager) (*CommandAdapter, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command backend needs a command")
	}
	return &CommandAdapter{
		command:      cfg.Command,
		args:         append([]string(nil), cfg.Args...),
		workDir:      cfg.WorkDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Send runs the command with msg.Content as its final argument.
func (a *CommandAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	args := append(append([]string(nil), a.args...), msg.Content)
	cmd := newCommand(ctx, a.command, args...)
	cmd.Dir = a.workDir
	cmd.Env = append(os.Environ(),
		"GODEL_MODEL="+a.model,
		"GODEL_SYSTEM_PROMPT="+a.systemPrompt,
	)

	stdout, _, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{Error: fmt.Sprintf("%s failed: %v", a.command, err)}, err
	}
	return Response{Content: strings.TrimSpace(string(stdout))}, nil
}

// Close is a no-op; every Send is its own process.
func (a *CommandAdapter) Close() error {
	return nil
}

// SessionID is always empty; command backends are stateless.
func (a *CommandAdapter) SessionID() string {
	return ""
}
