package backend

import (
	"context"
	"errors"

	"github.com/aristath/godel/internal/decompose"
)

// Completer adapts a Backend to decompose.LLMService, so any configured
// agent can serve LLM-assisted decomposition.
type Completer struct {
	backend Backend
}

var _ decompose.LLMService = (*Completer)(nil)

// NewCompleter wraps b.
func NewCompleter(b Backend) *Completer {
	return &Completer{backend: b}
}

// Complete sends prompt and returns the response text.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.backend.Send(ctx, Message{Content: prompt, Role: "user"})
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return resp.Content, nil
}
