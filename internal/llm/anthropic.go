// Package llm provides LLM services for decomposition.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/aristath/godel/internal/config"
	"github.com/aristath/godel/internal/decompose"
)

// Config configures an AnthropicService.
type Config struct {
	// Model is the Claude model to use; empty selects Sonnet 4.5.
	Model string
	// MaxTokens bounds each completion; 0 means 4096.
	MaxTokens int
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseBedrock routes requests through AWS Bedrock instead of the direct API.
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
}

// AnthropicService completes prompts through the Anthropic Messages API. It
// implements decompose.LLMService.
type AnthropicService struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64

	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

var _ decompose.LLMService = (*AnthropicService)(nil)

// NewAnthropicService creates a service. Extra request options are appended
// after the credentials.
func NewAnthropicService(ctx context.Context, cfg Config, extra ...option.RequestOption) (*AnthropicService, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicService{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// FromConfig builds the service described by the llm config section.
func FromConfig(ctx context.Context, cfg config.LLMConfig) (*AnthropicService, error) {
	c := Config{
		Model:      cfg.Model,
		MaxTokens:  cfg.MaxTokens,
		UseBedrock: cfg.Provider == config.LLMBedrock,
		AWSRegion:  cfg.AWSRegion,
		AWSProfile: cfg.AWSProfile,
	}
	if cfg.APIKeyEnv != "" {
		c.APIKey = os.Getenv(cfg.APIKeyEnv)
	}
	return NewAnthropicService(ctx, c)
}

// bedrockModel converts an Anthropic model name to its Bedrock cross-region
// inference profile: us.anthropic.{model}-v1:0
func bedrockModel(model anthropic.Model) anthropic.Model {
	if strings.Contains(string(model), ".anthropic.") {
		return model
	}
	return anthropic.Model("us.anthropic." + string(model) + "-v1:0")
}

// Model returns the model requests are sent to.
func (s *AnthropicService) Model() anthropic.Model {
	return s.model
}

// Complete sends prompt as a single user message and returns the text of the reply.
func (s *AnthropicService) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	s.mu.Lock()
	s.inputTok += resp.Usage.InputTokens
	s.outputTok += resp.Usage.OutputTokens
	s.calls++
	s.mu.Unlock()

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic messages: response has no text (stop reason %q)", resp.StopReason)
	}
	return text.String(), nil
}

// Usage returns the tokens used and calls made so far.
func (s *AnthropicService) Usage() (input, output int64, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputTok, s.outputTok, s.calls
}
