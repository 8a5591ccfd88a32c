package ai

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/docaskhq/docask/pkg/models"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a chat-completions client. BaseURL is optional
// and exists for tests and OpenAI-compatible proxies.
func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}

	// Retry policy lives in the gateway; the SDK must not retry on its own.
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  config.Model,
	}
}

// Generate performs one chat-completion call and normalizes the result.
func (c *OpenAIClient) Generate(ctx context.Context, systemPrompt, userMessage string) (*models.Generation, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userMessage),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Message, err: err}
		}
		return nil, err
	}

	if len(completion.Choices) == 0 {
		return nil, errors.New("openai: no completion choices returned")
	}

	return &models.Generation{
		Text:  completion.Choices[0].Message.Content,
		Model: completion.Model,
		Tokens: models.TokenUsage{
			Input:  int(completion.Usage.PromptTokens),
			Output: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

// Model returns the configured model identifier
func (c *OpenAIClient) Model() string { return c.model }
