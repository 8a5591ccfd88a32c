package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/docaskhq/docask/pkg/models"
)

// Client is one text-generation backend. Generate performs a single call
// attempt; retry policy lives above this interface.
type Client interface {
	Generate(ctx context.Context, systemPrompt, userMessage string) (*models.Generation, error)
	Model() string
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	ProjectID string
	Location  string
	Provider  Provider
}

// APIError is a backend failure carrying the HTTP-equivalent status code
// the provider reported, so callers can decide whether to retry.
type APIError struct {
	StatusCode int
	Message    string
	err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ai backend error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("ai backend error (status %d)", e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.err }

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Model), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a deterministic implementation of the Client interface for
// tests and local development without an API key.
type StubClient struct {
	model string
}

// NewStubClient creates a new StubClient
func NewStubClient(model string) *StubClient {
	if model == "" {
		model = "stub-1"
	}
	return &StubClient{model: model}
}

// Generate produces a canned answer that echoes the first context line, so
// local smoke tests can see which chunks were retrieved.
func (s *StubClient) Generate(ctx context.Context, systemPrompt, userMessage string) (*models.Generation, error) {
	first := ""
	for _, line := range strings.Split(systemPrompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			first = line
			break
		}
	}
	text := "Stub answer for: " + userMessage
	if first != "" {
		text += " (context: " + first + ")"
	}
	return &models.Generation{
		Text:  text,
		Model: s.model,
		Tokens: models.TokenUsage{
			Input:  approxTokens(systemPrompt) + approxTokens(userMessage),
			Output: approxTokens(text),
		},
	}, nil
}

// Model returns the configured model identifier
func (s *StubClient) Model() string { return s.model }

// approxTokens estimates token counts for the stub; close enough for
// exercising the cost path.
func approxTokens(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
