package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aristath/godel/internal/config"
	"github.com/aristath/godel/internal/decompose"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubBackend answers every Send with a fixed response.
type stubBackend struct {
	resp   Response
	err    error
	closed int
	last   Message
}

func (s *stubBackend) Send(ctx context.Context, msg Message) (Response, error) {
	s.last = msg
	return s.resp, s.err
}

func (s *stubBackend) Close() error {
	s.closed++
	return nil
}

func (s *stubBackend) SessionID() string { return "stub" }

func mockCommand(t *testing.T, extra ...string) Backend {
	t.Helper()
	b, err := New(Config{
		Type:    TypeCommand,
		Command: "bash",
		Args:    append([]string{mockAgent(t)}, extra...),
	}, NewProcessManager())
	if err != nil {
		t.Fatalf("Failed to create command adapter: %v", err)
	}
	return b
}

// TestCommandExecutor_Execute verifies a successful response becomes a successful output
func TestCommandExecutor_Execute(t *testing.T) {
	exec := NewCommandExecutor(map[string]Backend{"coder": mockCommand(t, "--echo", "patched")}, quietLogger())

	out, err := exec.Execute(context.Background(), "coder", &decompose.Subtask{ID: "task-1", Title: "Fix bug"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !out.Success {
		t.Errorf("Expected success, got %+v", out)
	}
	if !strings.HasPrefix(out.Output, "patched") {
		t.Errorf("Expected output to start with 'patched', got %q", out.Output)
	}
	if exec.Running() != 0 {
		t.Errorf("Expected no running calls after Execute, got %d", exec.Running())
	}
}

// TestCommandExecutor_ResponseError verifies a reported error is an unsuccessful output, not a Go error
func TestCommandExecutor_ResponseError(t *testing.T) {
	stub := &stubBackend{resp: Response{Content: "partial", Error: "tool refused"}}
	exec := NewCommandExecutor(map[string]Backend{"coder": stub}, quietLogger())

	out, err := exec.Execute(context.Background(), "coder", &decompose.Subtask{ID: "task-1", Title: "x"})
	if err != nil {
		t.Fatalf("Expected nil error, got %v", err)
	}
	if out.Success || out.Error != "tool refused" || out.Output != "partial" {
		t.Errorf("Unexpected output: %+v", out)
	}
}

// TestCommandExecutor_TransportError verifies backend errors pass through
func TestCommandExecutor_TransportError(t *testing.T) {
	boom := errors.New("boom")
	exec := NewCommandExecutor(map[string]Backend{"coder": &stubBackend{err: boom}}, quietLogger())

	_, err := exec.Execute(context.Background(), "coder", &decompose.Subtask{ID: "task-1"})
	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

// TestCommandExecutor_UnknownAgent verifies Execute on an agent without backend fails
func TestCommandExecutor_UnknownAgent(t *testing.T) {
	exec := NewCommandExecutor(nil, quietLogger())

	_, err := exec.Execute(context.Background(), "ghost", &decompose.Subtask{ID: "task-1"})
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Errorf("Expected error naming the agent, got %v", err)
	}
}

// TestCommandExecutor_Cancel verifies Cancel kills the running subprocess promptly
func TestCommandExecutor_Cancel(t *testing.T) {
	exec := NewCommandExecutor(map[string]Backend{"coder": mockCommand(t, "--sleep", "30")}, quietLogger())

	done := make(chan error, 1)
	go func() {
		_, err := exec.Execute(context.Background(), "coder", &decompose.Subtask{ID: "task-1", Title: "slow"})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for exec.Running() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Let the subprocess start
	time.Sleep(100 * time.Millisecond)

	if !exec.Cancel("coder") {
		t.Fatal("Expected Cancel to report a running call")
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after Cancel")
	}

	if exec.Cancel("coder") {
		t.Error("Expected Cancel to report nothing running after Execute returned")
	}
}

// TestCommandExecutor_CancelIdle verifies Cancel with nothing running
func TestCommandExecutor_CancelIdle(t *testing.T) {
	exec := NewCommandExecutor(map[string]Backend{"coder": &stubBackend{}}, quietLogger())
	if exec.Cancel("coder") {
		t.Error("Expected false for an idle agent")
	}
	if exec.Cancel("ghost") {
		t.Error("Expected false for an unknown agent")
	}
}

// TestCommandExecutor_Close verifies every backend is closed
func TestCommandExecutor_Close(t *testing.T) {
	a, b := &stubBackend{}, &stubBackend{}
	exec := NewCommandExecutor(map[string]Backend{"a": a, "b": b}, quietLogger())

	if err := exec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if a.closed != 1 || b.closed != 1 {
		t.Errorf("Expected each backend closed once, got a=%d b=%d", a.closed, b.closed)
	}
}

// TestFromConfig builds executors from the default configuration
func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	exec, err := FromConfig(cfg, t.TempDir(), NewProcessManager(), quietLogger())
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if len(exec.backends) != len(cfg.Agents) {
		t.Errorf("Expected %d backends, got %d", len(cfg.Agents), len(exec.backends))
	}
	for id := range cfg.Agents {
		if _, ok := exec.backends[id].(*ClaudeAdapter); !ok {
			t.Errorf("Expected agent %s to use the claude adapter, got %T", id, exec.backends[id])
		}
	}
}

// TestFromConfig_UnknownProvider verifies a dangling provider reference is an error
func TestFromConfig_UnknownProvider(t *testing.T) {
	cfg := &config.Config{
		Agents: map[string]config.AgentConfig{"coder": {Provider: "missing"}},
	}
	if _, err := FromConfig(cfg, t.TempDir(), nil, quietLogger()); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

// TestForAgent_CarriesAgentSettings verifies model and system prompt reach the adapter
func TestForAgent_CarriesAgentSettings(t *testing.T) {
	cfg := &config.Config{
		Providers: map[string]config.ProviderConfig{
			"claude": {Command: "claude", Type: TypeClaude, Args: []string{"--verbose"}},
		},
		Agents: map[string]config.AgentConfig{
			"reviewer": {Provider: "claude", Model: "haiku", SystemPrompt: "Review carefully."},
		},
	}

	b, err := ForAgent(cfg, "reviewer", "/tmp", nil)
	if err != nil {
		t.Fatalf("ForAgent failed: %v", err)
	}
	adapter := b.(*ClaudeAdapter)
	if adapter.model != "haiku" || adapter.systemPrompt != "Review carefully." {
		t.Errorf("Agent settings not applied: model=%q prompt=%q", adapter.model, adapter.systemPrompt)
	}
	if len(adapter.extraArgs) != 1 || adapter.extraArgs[0] != "--verbose" {
		t.Errorf("Provider args not applied: %v", adapter.extraArgs)
	}

	if _, err := ForAgent(cfg, "ghost", "/tmp", nil); err == nil {
		t.Error("Expected error for unknown agent")
	}
}

// TestTaskPrompt verifies the prompt includes the task's context
func TestTaskPrompt(t *testing.T) {
	prompt := TaskPrompt(&decompose.Subtask{
		ID:           "task-3",
		Title:        "Add tests",
		Description:  "Add tests for the parser package",
		Dependencies: []string{"task-1", "task-2"},
		Component:    "parser",
	})

	for _, want := range []string{"Task task-3: Add tests", "Add tests for the parser package", "Component: parser", "Builds on: task-1, task-2"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Expected prompt to contain %q, got:\n%s", want, prompt)
		}
	}

	short := TaskPrompt(&decompose.Subtask{ID: "task-1", Title: "Fix bug", Description: "Fix bug"})
	if strings.Count(short, "Fix bug") != 1 {
		t.Errorf("Expected description equal to title to be omitted, got:\n%s", short)
	}
}

// TestCompleter verifies the LLM adapter surface
func TestCompleter(t *testing.T) {
	stub := &stubBackend{resp: Response{Content: `[{"id":"task-1","title":"x"}]`}}
	c := NewCompleter(stub)

	got, err := c.Complete(context.Background(), "decompose this")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != stub.resp.Content || stub.last.Content != "decompose this" {
		t.Errorf("Unexpected completion %q for prompt %q", got, stub.last.Content)
	}

	stub.resp = Response{Error: "overloaded"}
	if _, err := c.Complete(context.Background(), "again"); err == nil || err.Error() != "overloaded" {
		t.Errorf("Expected response error, got %v", err)
	}
}
