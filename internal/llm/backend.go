// Package llm runs the relevance, classification, and summarisation stages
// against a configurable model backend, with response caching, retries, and
// per-call timeouts.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyResponse is returned when a backend answers with no text.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrNoAPIKey is returned when a hosted backend has no credentials.
	ErrNoAPIKey = errors.New("api key is required")
)

// Response is a single completion.
type Response struct {
	Text string
	// Token counts reported by the backend; zero when unknown.
	TokensPrompt     int
	TokensCompletion int
}

// Backend generates a completion for a prompt.
type Backend interface {
	Name() string
	Generate(ctx context.Context, model, prompt string) (Response, error)
}

// Backend names accepted by NewBackend.
const (
	BackendOllama    = "ollama"
	BackendGemini    = "gemini"
	BackendAnthropic = "anthropic"
)

// BackendOptions configures NewBackend.
type BackendOptions struct {
	Name            string
	OllamaHost      string
	GeminiAPIKey    string
	AnthropicAPIKey string
	MaxTokens       int
}

// NewBackend returns the named backend.
func NewBackend(ctx context.Context, opts BackendOptions) (Backend, error) {
	switch strings.ToLower(opts.Name) {
	case "", BackendOllama:
		return NewOllamaBackend(opts.OllamaHost, nil), nil
	case BackendGemini:
		b, err := NewGeminiBackend(ctx, opts.GeminiAPIKey)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendAnthropic:
		b, err := NewAnthropicBackend(opts.AnthropicAPIKey, opts.MaxTokens)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown llm backend %q", opts.Name)
	}
}
