// Package config loads godel's layered JSON configuration.
package config

import (
	"fmt"
	"time"

	"github.com/aristath/godel/internal/decompose"
	"github.com/aristath/godel/internal/orchestrator"
)

// ProviderConfig defines a transport layer (CLI command, args, output format).
// Providers are separate from agents -- multiple agents can share one provider.
type ProviderConfig struct {
	Command string   `json:"command"`        // CLI binary name (e.g., "claude")
	Args    []string `json:"args,omitempty"` // Default args appended to every invocation
	Type    string   `json:"type"`           // "claude" parses JSON output, "command" takes stdout as is
}

// AgentConfig defines one agent of the fleet: what it can do, what it costs,
// and which provider runs it.
type AgentConfig struct {
	Provider     string   `json:"provider"`                // Key into Providers map
	Model        string   `json:"model,omitempty"`         // Model override passed to the provider
	SystemPrompt string   `json:"system_prompt,omitempty"` // Role-specific system prompt
	Skills       []string `json:"skills"`                  // Capabilities matched against subtasks
	Cost         float64  `json:"cost"`                    // Relative cost per dispatch
	LatencyMS    int64    `json:"latency_ms,omitempty"`    // Expected latency per dispatch
}

// Latency returns LatencyMS as a duration.
func (a AgentConfig) Latency() time.Duration {
	return time.Duration(a.LatencyMS) * time.Millisecond
}

// EngineConfig mirrors orchestrator.Config with durations in milliseconds.
type EngineConfig struct {
	MaxConcurrency    int   `json:"max_concurrency"`
	ContinueOnFailure bool  `json:"continue_on_failure"`
	LevelTimeoutMS    int64 `json:"level_timeout_ms"`
	TotalTimeoutMS    int64 `json:"total_timeout_ms"`
	RetryAttempts     int   `json:"retry_attempts"`
	RetryDelayMS      int64 `json:"retry_delay_ms"`
	CancelGraceMS     int64 `json:"cancel_grace_ms"`
	BreakerThreshold  int   `json:"breaker_threshold"`
}

// ToEngine converts to the engine's configuration type.
func (e EngineConfig) ToEngine() orchestrator.Config {
	return orchestrator.Config{
		MaxConcurrency:    e.MaxConcurrency,
		ContinueOnFailure: e.ContinueOnFailure,
		LevelTimeout:      ms(e.LevelTimeoutMS),
		TotalTimeout:      ms(e.TotalTimeoutMS),
		RetryAttempts:     e.RetryAttempts,
		RetryDelay:        ms(e.RetryDelayMS),
		CancelGrace:       ms(e.CancelGraceMS),
		BreakerThreshold:  e.BreakerThreshold,
	}
}

// EngineFrom converts an engine configuration back to its file form.
func EngineFrom(c orchestrator.Config) EngineConfig {
	return EngineConfig{
		MaxConcurrency:    c.MaxConcurrency,
		ContinueOnFailure: c.ContinueOnFailure,
		LevelTimeoutMS:    c.LevelTimeout.Milliseconds(),
		TotalTimeoutMS:    c.TotalTimeout.Milliseconds(),
		RetryAttempts:     c.RetryAttempts,
		RetryDelayMS:      c.RetryDelay.Milliseconds(),
		CancelGraceMS:     c.CancelGrace.Milliseconds(),
		BreakerThreshold:  c.BreakerThreshold,
	}
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// DecomposeConfig holds the decomposer defaults.
type DecomposeConfig struct {
	Strategy       string `json:"strategy"`
	MaxParallelism int    `json:"max_parallelism"`
	MinSubtaskSize int    `json:"min_subtask_size"`
	UseLLM         bool   `json:"use_llm"`
}

// ToOptions converts to decompose.Options.
func (d DecomposeConfig) ToOptions() decompose.Options {
	return decompose.Options{
		Strategy:       d.Strategy,
		MaxParallelism: d.MaxParallelism,
		MinSubtaskSize: d.MinSubtaskSize,
		UseLLM:         d.UseLLM,
	}
}

// LLM providers.
const (
	LLMAnthropic = "anthropic"
	LLMBedrock   = "bedrock"
	LLMCommand   = "command"
)

// LLMConfig selects the service used for LLM-assisted decomposition.
type LLMConfig struct {
	Provider   string `json:"provider"`              // anthropic, bedrock or command
	Model      string `json:"model,omitempty"`
	MaxTokens  int    `json:"max_tokens,omitempty"`
	APIKeyEnv  string `json:"api_key_env,omitempty"` // Env var holding the Anthropic key
	AWSRegion  string `json:"aws_region,omitempty"`
	AWSProfile string `json:"aws_profile,omitempty"`
	Agent      string `json:"agent,omitempty"` // Agent whose provider serves the command LLM
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `json:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Engine    EngineConfig              `json:"engine"`
	Decompose DecomposeConfig           `json:"decompose"`
	LLM       LLMConfig                 `json:"llm"`
	Providers map[string]ProviderConfig `json:"providers"`
	Agents    map[string]AgentConfig    `json:"agents"`
	Storage   StorageConfig             `json:"storage"`
}

// Validate checks cross references and value ranges.
func (c *Config) Validate() error {
	if err := c.Engine.ToEngine().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Decompose.MaxParallelism < 1 {
		return fmt.Errorf("decompose: max_parallelism must be at least 1, got %d", c.Decompose.MaxParallelism)
	}
	if c.Decompose.MinSubtaskSize < 1 {
		return fmt.Errorf("decompose: min_subtask_size must be at least 1, got %d", c.Decompose.MinSubtaskSize)
	}

	for id, agent := range c.Agents {
		provider, ok := c.Providers[agent.Provider]
		if !ok {
			return fmt.Errorf("agent %q: unknown provider %q", id, agent.Provider)
		}
		if provider.Command == "" {
			return fmt.Errorf("provider %q: command is required", agent.Provider)
		}
		if agent.Cost < 0 {
			return fmt.Errorf("agent %q: cost must not be negative", id)
		}
	}

	switch c.LLM.Provider {
	case "", LLMAnthropic, LLMBedrock:
	case LLMCommand:
		if _, ok := c.Agents[c.LLM.Agent]; !ok {
			return fmt.Errorf("llm: command provider needs a known agent, got %q", c.LLM.Agent)
		}
	default:
		return fmt.Errorf("llm: unknown provider %q", c.LLM.Provider)
	}
	return nil
}
