// Package backend runs agents as CLI subprocesses.
package backend

import (
	"context"
	"fmt"
)

// Backend defines the interface that all backend adapters must implement.
type Backend interface {
	// Send sends a message to the backend and returns the response.
	Send(ctx context.Context, msg Message) (Response, error)

	// Close terminates the backend subprocess gracefully.
	Close() error

	// SessionID returns the current session identifier.
	SessionID() string
}

// Backend types.
const (
	TypeClaude  = "claude"
	TypeCommand = "command"
)

// New creates a new backend based on the provided configuration.
// This factory function switches on cfg.Type and returns the appropriate adapter.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case TypeClaude:
		a, err := NewClaudeAdapter(cfg, pm)
		if err != nil {
			return nil, err
		}
		return a, nil
	case TypeCommand:
		a, err := NewCommandAdapter(cfg, pm)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
