package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiBackend calls the Gemini API.
type GeminiBackend struct {
	client *genai.Client
}

// NewGeminiBackend creates a Gemini backend.
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w (set GEMINI_API_KEY)", ErrNoAPIKey)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiBackend{client: client}, nil
}

func (b *GeminiBackend) Name() string { return BackendGemini }

func (b *GeminiBackend) Generate(ctx context.Context, model, prompt string) (Response, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := b.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return Response{}, fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return Response{}, ErrEmptyResponse
	}
	out := Response{Text: text}
	if resp.UsageMetadata != nil {
		out.TokensPrompt = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensCompletion = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
