package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// waitDelay bounds how long Wait blocks on output copying once the process
// group has been killed.
const waitDelay = 2 * time.Second

// maxOutput is how many bytes of each stream an agent call may produce.
var maxOutput = 8 << 20

// ErrOutputTooLarge is returned when an agent writes more than maxOutput bytes
// to stdout.
var ErrOutputTooLarge = errors.New("agent output too large")

// newCommand creates an exec.Cmd in its own process group. Cancelling ctx
// kills the whole group, so helpers spawned by the agent CLI die with it.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// cappedBuffer keeps the first limit bytes written to it and counts the rest.
type cappedBuffer struct {
	buf     bytes.Buffer
	limit   int
	dropped int64
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room < len(p) {
		keep := max(room, 0)
		c.buf.Write(p[:keep])
		c.dropped += int64(len(p) - keep)
		return len(p), nil
	}
	return c.buf.Write(p)
}

// executeCommand runs cmd to completion and returns what it wrote. Output is
// copied by exec while the process runs, so a chatty agent never blocks on a
// full pipe. When pm is non-nil the process is tracked while it runs.
func executeCommand(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager) (stdout []byte, stderr []byte, err error) {
	outBuf := &cappedBuffer{limit: maxOutput}
	errBuf := &cappedBuffer{limit: maxOutput}
	cmd.Stdout = outBuf
	cmd.Stderr = errBuf

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start command: %w", err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	waitErr := cmd.Wait()
	stdout = outBuf.buf.Bytes()
	stderr = errBuf.buf.Bytes()

	switch {
	case waitErr != nil && ctx.Err() != nil:
		return stdout, stderr, fmt.Errorf("command interrupted: %w", errors.Join(ctx.Err(), waitErr))
	case waitErr != nil && len(stderr) > 0:
		return stdout, stderr, fmt.Errorf("command failed: %w (stderr: %s)", waitErr, stderr)
	case waitErr != nil:
		return stdout, stderr, fmt.Errorf("command failed: %w", waitErr)
	case outBuf.dropped > 0:
		return stdout, stderr, fmt.Errorf("%w: %d bytes over the %d byte limit", ErrOutputTooLarge, outBuf.dropped, maxOutput)
	}
	return stdout, stderr, nil
}

// killProcessGroup sends SIGKILL to the command's whole process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// ProcessManager tracks the agent subprocesses of a run so they can all be
// killed on shutdown:
//
//	pm := NewProcessManager()
//	stop := context.AfterFunc(ctx, func() { _ = pm.KillAll() })
//	defer stop()
type ProcessManager struct {
	mu    sync.Mutex
	procs map[*exec.Cmd]struct{}
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[*exec.Cmd]struct{})}
}

// Track registers a started subprocess. Commands that have not started are ignored.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	pm.procs[cmd] = struct{}{}
	pm.mu.Unlock()
}

// Untrack forgets a subprocess once it has been waited for.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	pm.mu.Lock()
	delete(pm.procs, cmd)
	pm.mu.Unlock()
}

// KillAll kills the process group of every tracked subprocess. Processes stay
// tracked until their runner untracks them.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("pid %d: %w", cmd.Process.Pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
