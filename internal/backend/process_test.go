package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func mockAgent(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("testdata", "mock-agent.sh"))
	if err != nil {
		t.Fatalf("Failed to resolve mock agent: %v", err)
	}
	return path
}

// TestExecuteCommand_BasicExecution verifies basic command execution
func TestExecuteCommand_BasicExecution(t *testing.T) {
	ctx := context.Background()
	cmd := newCommand(ctx, "echo", "hello")

	stdout, stderr, err := executeCommand(ctx, cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "hello") {
		t.Errorf("Expected stdout to contain 'hello', got: %s", stdout)
	}
	if len(stderr) > 0 {
		t.Errorf("Expected empty stderr, got: %s", stderr)
	}
}

// TestExecuteCommand_LargeOutput verifies output beyond the pipe buffer does not deadlock
func TestExecuteCommand_LargeOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newCommand(ctx, "bash", mockAgent(t), "--large-output", "256")

	start := time.Now()
	stdout, _, err := executeCommand(ctx, cmd, nil)
	duration := time.Since(start)
	if err != nil {
		t.Fatalf("Expected no error, got: %v (took %v)", err, duration)
	}

	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	if len(lines) != 256*16 {
		t.Errorf("Expected %d lines of output, got %d", 256*16, len(lines))
	}
	if duration > 5*time.Second {
		t.Errorf("Command took too long (%v), possible deadlock", duration)
	}
}

// TestExecuteCommand_OutputLimit verifies stdout beyond the limit fails the call
func TestExecuteCommand_OutputLimit(t *testing.T) {
	defer func(prev int) { maxOutput = prev }(maxOutput)
	maxOutput = 1024

	ctx := context.Background()
	cmd := newCommand(ctx, "bash", mockAgent(t), "--large-output", "4")

	stdout, _, err := executeCommand(ctx, cmd, nil)
	if !errors.Is(err, ErrOutputTooLarge) {
		t.Fatalf("Expected ErrOutputTooLarge, got: %v", err)
	}
	if len(stdout) != 1024 {
		t.Errorf("Expected the first 1024 bytes to be kept, got %d", len(stdout))
	}
}

func TestCappedBuffer(t *testing.T) {
	c := &cappedBuffer{limit: 5}
	for _, chunk := range []string{"abc", "def", "gh"} {
		if n, err := c.Write([]byte(chunk)); err != nil || n != len(chunk) {
			t.Fatalf("Write(%q) = %d, %v", chunk, n, err)
		}
	}
	if got := c.buf.String(); got != "abcde" {
		t.Errorf("Expected %q kept, got %q", "abcde", got)
	}
	if c.dropped != 3 {
		t.Errorf("Expected 3 dropped bytes, got %d", c.dropped)
	}
}

// TestExecuteCommand_StderrCapture verifies both stdout and stderr are captured
func TestExecuteCommand_StderrCapture(t *testing.T) {
	ctx := context.Background()
	cmd := newCommand(ctx, "bash", mockAgent(t), "--stderr", "warning", "--echo", "ok")

	stdout, stderr, err := executeCommand(ctx, cmd, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(string(stdout), "ok") {
		t.Errorf("Expected stdout to contain 'ok', got: %s", stdout)
	}
	if !strings.Contains(string(stderr), "warning") {
		t.Errorf("Expected stderr to contain 'warning', got: %s", stderr)
	}
}

// TestExecuteCommand_ContextCancellation verifies the subprocess dies with its context
func TestExecuteCommand_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	pm := NewProcessManager()
	cmd := newCommand(ctx, "bash", mockAgent(t), "--sleep", "30")

	start := time.Now()
	_, _, err := executeCommand(ctx, cmd, pm)
	if err == nil {
		t.Fatal("Expected error due to context cancellation, got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected error to wrap context.DeadlineExceeded, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Cancellation took %v, expected the process group to be killed promptly", elapsed)
	}
	if pm.Count() != 0 {
		t.Errorf("Expected process to be untracked after return, got %d tracked", pm.Count())
	}
}

// TestExecuteCommand_TracksWhileRunning verifies the ProcessManager sees running commands
func TestExecuteCommand_TracksWhileRunning(t *testing.T) {
	pm := NewProcessManager()
	ctx := context.Background()
	cmd := newCommand(ctx, "bash", mockAgent(t), "--sleep", "1", "--echo", "done")

	done := make(chan error, 1)
	go func() {
		_, _, err := executeCommand(ctx, cmd, pm)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pm.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pm.Count() != 1 {
		t.Fatalf("Expected 1 tracked process while running, got %d", pm.Count())
	}

	if err := <-done; err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after return, got %d", pm.Count())
	}
}

// TestProcessManager_TrackAndKillAll verifies ProcessManager tracks and terminates processes
func TestProcessManager_TrackAndKillAll(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "bash", mockAgent(t), "--sleep", "300")

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}
	pm.Track(cmd)

	if pm.Count() != 1 {
		t.Errorf("Expected 1 tracked process, got %d", pm.Count())
	}

	if err := pm.KillAll(); err != nil {
		t.Errorf("Expected KillAll to succeed, got: %v", err)
	}

	err := cmd.Wait()
	if err == nil {
		t.Error("Expected process to be killed (non-nil error), got nil")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && !status.Signaled() {
			t.Errorf("Expected process to be signaled, got exit status: %v", status)
		}
	}

	pm.Untrack(cmd)
	if pm.Count() != 0 {
		t.Errorf("Expected 0 tracked processes after Untrack, got %d", pm.Count())
	}
}

// TestProcessManager_KillsProcessTree verifies children in the process group die too
func TestProcessManager_KillsProcessTree(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "bash", mockAgent(t), "--spawn-child", "--sleep", "30")

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}
	parentPID := cmd.Process.Pid
	pm.Track(cmd)

	// Give the child time to spawn
	time.Sleep(200 * time.Millisecond)

	_ = pm.KillAll()
	_ = cmd.Wait()
	pm.Untrack(cmd)

	// pgrep exits 1 when nothing matches
	var output []byte
	for range 10 {
		out, err := exec.Command("pgrep", "-g", fmt.Sprintf("%d", parentPID)).CombinedOutput()
		output = bytes.TrimSpace(out)
		if err != nil || len(output) == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Errorf("Processes still running in group %d after KillAll: %s", parentPID, output)
}

// TestProcessManager_KillAllEmpty verifies KillAll with nothing tracked
func TestProcessManager_KillAllEmpty(t *testing.T) {
	pm := NewProcessManager()
	if err := pm.KillAll(); err != nil {
		t.Errorf("Expected nil error with no processes, got: %v", err)
	}
}

// TestExecuteCommand_SequentialInvocations verifies repeated invocations all return cleanly
func TestExecuteCommand_SequentialInvocations(t *testing.T) {
	ctx := context.Background()
	pm := NewProcessManager()

	for i := 1; i <= 15; i++ {
		cmd := newCommand(ctx, "bash", mockAgent(t), "--echo", fmt.Sprintf("test-%d", i))

		stdout, _, err := executeCommand(ctx, cmd, pm)
		if err != nil {
			t.Fatalf("Invocation %d failed: %v", i, err)
		}
		if !strings.Contains(string(stdout), fmt.Sprintf("test-%d", i)) {
			t.Errorf("Invocation %d: unexpected output: %s", i, stdout)
		}
		if cmd.ProcessState == nil {
			t.Errorf("Invocation %d: process was not reaped", i)
		}
	}

	if pm.Count() != 0 {
		t.Errorf("Expected no tracked processes, got %d", pm.Count())
	}
}

// TestExecuteCommand_NonZeroExitCode verifies error handling and output capture on failure
func TestExecuteCommand_NonZeroExitCode(t *testing.T) {
	ctx := context.Background()
	cmd := newCommand(ctx, "bash", mockAgent(t), "--echo", "test-output", "--stderr", "boom", "--exit-code", "1")

	stdout, _, err := executeCommand(ctx, cmd, nil)
	if err == nil {
		t.Fatal("Expected error due to non-zero exit code, got nil")
	}
	if !strings.Contains(string(stdout), "test-output") {
		t.Errorf("Expected stdout to be captured despite error, got: %s", stdout)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("Expected stderr in the error message, got: %v", err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitCode := exitErr.ExitCode(); exitCode != 1 {
			t.Errorf("Expected exit code 1, got %d", exitCode)
		}
	} else {
		t.Errorf("Expected error to wrap *exec.ExitError, got %T: %v", err, err)
	}
}
