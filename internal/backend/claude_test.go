package backend

import (
	"context"
	"regexp"
	"slices"
	"testing"
)

// TestNewClaudeAdapter_GeneratesSessionID verifies that a session ID is auto-generated
// when not provided in the config.
func TestNewClaudeAdapter_GeneratesSessionID(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: TypeClaude}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	uuidPattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidPattern.MatchString(adapter.SessionID()) {
		t.Errorf("Session ID does not match UUID v4 format: %s", adapter.SessionID())
	}

	other, _ := NewClaudeAdapter(Config{Type: TypeClaude}, nil)
	if other.SessionID() == adapter.SessionID() {
		t.Error("Expected distinct session IDs for distinct adapters")
	}
}

// TestNewClaudeAdapter_UsesProvidedSessionID verifies that a provided session ID
// is used instead of generating a new one.
func TestNewClaudeAdapter_UsesProvidedSessionID(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: TypeClaude, SessionID: "test-session-12345"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}
	if adapter.SessionID() != "test-session-12345" {
		t.Errorf("Expected session ID test-session-12345, got %s", adapter.SessionID())
	}
}

// TestNewClaudeAdapter_DefaultCommand verifies the claude binary is the default
func TestNewClaudeAdapter_DefaultCommand(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: TypeClaude, WorkDir: "/tmp"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}
	if adapter.command != "claude" {
		t.Errorf("Expected default command 'claude', got %q", adapter.command)
	}
	if adapter.workDir != "/tmp" {
		t.Errorf("Expected workDir /tmp, got %q", adapter.workDir)
	}
}

// TestClaudeAdapter_BuildArgs verifies the argument list for first and resumed calls.
func TestClaudeAdapter_BuildArgs(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		isResume bool
		want     []string
	}{
		{
			name:     "first message",
			cfg:      Config{SessionID: "test-uuid"},
			isResume: false,
			want:     []string{"-p", "Hello", "--output-format", "json", "--session-id", "test-uuid"},
		},
		{
			name:     "resume",
			cfg:      Config{SessionID: "test-uuid"},
			isResume: true,
			want:     []string{"-p", "Hello", "--output-format", "json", "--resume", "test-uuid"},
		},
		{
			name:     "model and system prompt",
			cfg:      Config{SessionID: "s", Model: "claude-haiku", SystemPrompt: "You review code."},
			isResume: false,
			want: []string{"-p", "Hello", "--output-format", "json", "--session-id", "s",
				"--model", "claude-haiku", "--system-prompt", "You review code."},
		},
		{
			name:     "provider args come first",
			cfg:      Config{SessionID: "s", Args: []string{"--dangerously-skip-permissions"}},
			isResume: true,
			want:     []string{"--dangerously-skip-permissions", "-p", "Hello", "--output-format", "json", "--resume", "s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewClaudeAdapter(tt.cfg, nil)
			if err != nil {
				t.Fatalf("NewClaudeAdapter failed: %v", err)
			}
			got := adapter.buildArgs(Message{Content: "Hello"}, tt.isResume)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Expected args %v, got %v", tt.want, got)
			}
		})
	}
}

// TestClaudeAdapter_BuildArgsDoesNotAliasProviderArgs verifies repeated calls start from a clean slice
func TestClaudeAdapter_BuildArgsDoesNotAliasProviderArgs(t *testing.T) {
	args := make([]string, 1, 8)
	args[0] = "--verbose"
	adapter, _ := NewClaudeAdapter(Config{SessionID: "s", Args: args}, nil)

	first := adapter.buildArgs(Message{Content: "one"}, false)
	_ = adapter.buildArgs(Message{Content: "two"}, false)

	if first[2] != "one" {
		t.Errorf("Expected first args to keep their prompt, got %v", first)
	}
}

// TestParseClaudeResponse covers the result shapes the CLI emits.
func TestParseClaudeResponse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantContent string
		wantSession string
		wantErrText string
		wantError   bool
	}{
		{
			name:        "string result",
			input:       `{"type": "result", "is_error": false, "result": "Hello world", "session_id": "test-uuid-1"}`,
			wantContent: "Hello world",
			wantSession: "test-uuid-1",
		},
		{
			name:        "nested content blocks",
			input:       `{"session_id": "test-uuid-2", "result": {"content": [{"type": "text", "text": "Part 1"}, {"type": "image", "data": "..."}, {"type": "text", "text": "Part 2"}]}}`,
			wantContent: "Part 1Part 2",
			wantSession: "test-uuid-2",
		},
		{
			name:        "is_error with message",
			input:       `{"is_error": true, "result": "rate limited", "session_id": "test-uuid-3"}`,
			wantContent: "rate limited",
			wantSession: "test-uuid-3",
			wantErrText: "rate limited",
		},
		{
			name:        "is_error without message",
			input:       `{"is_error": true, "session_id": "test-uuid-4"}`,
			wantSession: "test-uuid-4",
			wantErrText: "claude reported an error",
		},
		{
			name:  "null result",
			input: `{"result": null}`,
		},
		{
			name:  "missing fields",
			input: `{"wrong": "structure"}`,
		},
		{
			name:      "invalid JSON",
			input:     `not valid json`,
			wantError: true,
		},
		{
			name:      "result of the wrong shape",
			input:     `{"result": 42}`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseClaudeResponse([]byte(tt.input))
			if tt.wantError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if resp.Content != tt.wantContent {
				t.Errorf("Expected content %q, got %q", tt.wantContent, resp.Content)
			}
			if resp.SessionID != tt.wantSession {
				t.Errorf("Expected session ID %q, got %q", tt.wantSession, resp.SessionID)
			}
			if resp.Error != tt.wantErrText {
				t.Errorf("Expected error text %q, got %q", tt.wantErrText, resp.Error)
			}
		})
	}
}

func mockClaude(t *testing.T, extra ...string) *ClaudeAdapter {
	t.Helper()
	adapter, err := NewClaudeAdapter(Config{
		Type:      TypeClaude,
		Command:   "bash",
		Args:      append([]string{mockAgent(t)}, extra...),
		SessionID: "mock-uuid",
		WorkDir:   t.TempDir(),
	}, NewProcessManager())
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}
	return adapter
}

// TestClaudeAdapter_Send runs the adapter against a mock CLI and checks resume handling.
func TestClaudeAdapter_Send(t *testing.T) {
	adapter := mockClaude(t, "--claude-json")

	resp, err := adapter.Send(context.Background(), Message{Content: "write the parser"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if resp.Content != "handled: write the parser" {
		t.Errorf("Expected echoed content, got %q", resp.Content)
	}
	if resp.SessionID != "mock-uuid" {
		t.Errorf("Expected session mock-uuid, got %q", resp.SessionID)
	}
	if !adapter.started {
		t.Error("Expected adapter to be marked started after a successful send")
	}
	if args := adapter.buildArgs(Message{Content: "next"}, adapter.started); !slices.Contains(args, "--resume") {
		t.Errorf("Expected --resume after the first send, got %v", args)
	}

	resp, err = adapter.Send(context.Background(), Message{Content: "now test it"})
	if err != nil {
		t.Fatalf("Second send failed: %v", err)
	}
	if resp.SessionID != "mock-uuid" {
		t.Errorf("Expected resumed session mock-uuid, got %q", resp.SessionID)
	}
}

// TestClaudeAdapter_SendReportsCLIError verifies is_error output surfaces as Response.Error
func TestClaudeAdapter_SendReportsCLIError(t *testing.T) {
	adapter := mockClaude(t, "--claude-error")

	resp, err := adapter.Send(context.Background(), Message{Content: "fail please"})
	if err != nil {
		t.Fatalf("Expected no transport error, got: %v", err)
	}
	if resp.Error != "handled: fail please" {
		t.Errorf("Expected error text from the CLI, got %q", resp.Error)
	}
}

// TestClaudeAdapter_SendFailureKeepsSessionFresh verifies a failed first call does not switch to --resume
func TestClaudeAdapter_SendFailureKeepsSessionFresh(t *testing.T) {
	adapter := mockClaude(t, "--exit-code", "2")

	if _, err := adapter.Send(context.Background(), Message{Content: "x"}); err == nil {
		t.Fatal("Expected error from failing CLI")
	}
	if adapter.started {
		t.Error("Expected adapter to stay unstarted after a failed send")
	}
}

// TestClaudeAdapter_SendBadJSON verifies unparsable output is an error
func TestClaudeAdapter_SendBadJSON(t *testing.T) {
	adapter := mockClaude(t, "--echo", "not json")

	resp, err := adapter.Send(context.Background(), Message{Content: "x"})
	if err == nil {
		t.Fatal("Expected parse error")
	}
	if resp.Error == "" {
		t.Error("Expected Response.Error to describe the parse failure")
	}
}

// TestClaudeAdapter_Close verifies that Close() is a no-op and returns nil.
func TestClaudeAdapter_Close(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{SessionID: "test-uuid"}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}
	if err := adapter.Close(); err != nil {
		t.Errorf("Close() should return nil, got: %v", err)
	}
}
