package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ClaudeAdapter implements the Backend interface for Claude Code CLI.
type ClaudeAdapter struct {
	command      string
	extraArgs    []string
	sessionID    string
	workDir      string
	model        string
	systemPrompt string
	procMgr      *ProcessManager

	mu      sync.Mutex
	started bool
}

// claudeResponse represents the JSON structure returned by Claude Code CLI.
// Current CLIs put the text in "result" directly:
//
//	{"type": "result", "is_error": false, "result": "response", "session_id": "uuid"}
//
// Older ones nest it: {"result": {"content": [{"type": "text", "text": "response"}]}}
type claudeResponse struct {
	SessionID string          `json:"session_id"`
	IsError   bool            `json:"is_error"`
	Result    json.RawMessage `json:"result"`
}

type claudeContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewClaudeAdapter creates a new Claude Code backend adapter.
// If cfg.SessionID is empty, a new UUID will be generated.
// The ProcessManager is optional - if nil, subprocesses won't be tracked.
func NewClaudeAdapter(cfg Config, procMgr *ProcessManager) (*ClaudeAdapter, error) {
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	command := cfg.Command
	if command == "" {
		command = "claude"
	}

	return &ClaudeAdapter{
		command:      command,
		extraArgs:    append([]string(nil), cfg.Args...),
		sessionID:    sessionID,
		workDir:      workDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		procMgr:      procMgr,
	}, nil
}

// Send sends a message to Claude Code CLI and returns the response.
// The first call uses --session-id, subsequent calls use --resume.
func (a *ClaudeAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()

	args := a.buildArgs(msg, started)
	cmd := newCommand(ctx, a.command, args...)
	cmd.Dir = a.workDir

	stdout, stderr, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("claude command failed: %v", err),
		}, err
	}

	resp, err := parseClaudeResponse(stdout)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("failed to parse claude response: %v (stderr: %s)", err, string(stderr)),
		}, err
	}

	// Mark as started after first successful call
	a.mu.Lock()
	a.started = true
	a.mu.Unlock()

	return resp, nil
}

// Close is a no-op for Claude Code (subprocess-per-invocation model).
func (a *ClaudeAdapter) Close() error {
	return nil
}

// SessionID returns the current session identifier.
func (a *ClaudeAdapter) SessionID() string {
	return a.sessionID
}

// buildArgs constructs the command-line arguments for the claude CLI.
// isResume determines whether to use --session-id (false) or --resume (true).
func (a *ClaudeAdapter) buildArgs(msg Message, isResume bool) []string {
	args := append([]string(nil), a.extraArgs...)
	args = append(args, "-p", msg.Content, "--output-format", "json")

	if isResume {
		args = append(args, "--resume", a.sessionID)
	} else {
		args = append(args, "--session-id", a.sessionID)
	}

	if a.model != "" {
		args = append(args, "--model", a.model)
	}

	if a.systemPrompt != "" {
		args = append(args, "--system-prompt", a.systemPrompt)
	}

	return args
}

// parseClaudeResponse parses the JSON output from Claude Code CLI.
// An is_error response is returned with Error set and a nil error.
func parseClaudeResponse(data []byte) (Response, error) {
	var cr claudeResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Response{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	var content string
	if len(cr.Result) > 0 && cr.Result[0] == '"' {
		if err := json.Unmarshal(cr.Result, &content); err != nil {
			return Response{}, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	} else if len(cr.Result) > 0 && string(cr.Result) != "null" {
		var nested claudeContent
		if err := json.Unmarshal(cr.Result, &nested); err != nil {
			return Response{}, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		for _, item := range nested.Content {
			if item.Type == "text" {
				content += item.Text
			}
		}
	}

	resp := Response{
		Content:   content,
		SessionID: cr.SessionID,
	}
	if cr.IsError {
		resp.Error = content
		if resp.Error == "" {
			resp.Error = "claude reported an error"
		}
	}
	return resp, nil
}
