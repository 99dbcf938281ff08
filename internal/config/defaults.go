package config

import (
	"github.com/aristath/godel/internal/decompose"
	"github.com/aristath/godel/internal/orchestrator"
)

// DefaultConfig returns the default configuration with a built-in provider and agent fleet.
func DefaultConfig() *Config {
	d := decompose.DefaultOptions()
	return &Config{
		Engine: EngineFrom(orchestrator.DefaultConfig()),
		Decompose: DecomposeConfig{
			Strategy:       d.Strategy,
			MaxParallelism: d.MaxParallelism,
			MinSubtaskSize: d.MinSubtaskSize,
		},
		LLM: LLMConfig{
			Provider:  LLMAnthropic,
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 4096,
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Providers: map[string]ProviderConfig{
			"claude": {
				Command: "claude",
				Type:    "claude",
			},
		},
		Agents: map[string]AgentConfig{
			"coder": {
				Provider:     "claude",
				SystemPrompt: "You implement features and write production code.",
				Skills:       []string{"analysis", "code", "database", "docs", "frontend", "review", "security", "test"},
				Cost:         5,
				LatencyMS:    120000,
			},
			"reviewer": {
				Provider:     "claude",
				SystemPrompt: "You review code for correctness, style, and security.",
				Skills:       []string{"analysis", "review", "security"},
				Cost:         2,
				LatencyMS:    60000,
			},
			"tester": {
				Provider:     "claude",
				SystemPrompt: "You write comprehensive tests and validate functionality.",
				Skills:       []string{"test"},
				Cost:         1,
				LatencyMS:    60000,
			},
			"writer": {
				Provider:     "claude",
				SystemPrompt: "You write clear technical documentation.",
				Skills:       []string{"docs"},
				Cost:         1,
				LatencyMS:    30000,
			},
		},
		Storage: StorageConfig{
			Path: ".godel/godel.db",
		},
	}
}
