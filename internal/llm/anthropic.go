package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicMaxTokens bounds completion length for stage calls.
const DefaultAnthropicMaxTokens = 1024

// AnthropicBackend calls the Anthropic Messages API.
type AnthropicBackend struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicBackend creates an Anthropic backend.
func NewAnthropicBackend(apiKey string, maxTokens int, opts ...option.RequestOption) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w (set ANTHROPIC_API_KEY)", ErrNoAPIKey)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicBackend{
		client:    anthropic.NewClient(opts...),
		maxTokens: int64(maxTokens),
	}, nil
}

func (b *AnthropicBackend) Name() string { return BackendAnthropic }

func (b *AnthropicBackend) Generate(ctx context.Context, model, prompt string) (Response, error) {
	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: b.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Response{}, ErrEmptyResponse
	}
	return Response{
		Text:             text.String(),
		TokensPrompt:     int(msg.Usage.InputTokens),
		TokensCompletion: int(msg.Usage.OutputTokens),
	}, nil
}
