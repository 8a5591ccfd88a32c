package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/docaskhq/docask/pkg/models"
)

// DefaultVertexAIModel is used when no model is configured.
const DefaultVertexAIModel = "gemini-2.0-flash"

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a new client for the Google Gemini API.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	if config.Model == "" {
		config.Model = DefaultVertexAIModel
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

// Generate performs one generation call and normalizes the result.
func (c *VertexAIClient) Generate(ctx context.Context, systemPrompt, userMessage string) (*models.Generation, error) {
	sys := genai.Text(systemPrompt)
	cfg := genai.GenerateContentConfig{
		SystemInstruction: sys[0],
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, genai.Text(userMessage), &cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &APIError{StatusCode: apiErr.Code, Message: apiErr.Message, err: err}
		}
		return nil, err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("vertexai: no candidates returned")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	model := resp.ModelVersion
	if model == "" {
		model = c.config.Model
	}

	gen := &models.Generation{
		Text:  strings.TrimSpace(sb.String()),
		Model: model,
	}
	if resp.UsageMetadata != nil {
		gen.Tokens = models.TokenUsage{
			Input:  int(resp.UsageMetadata.PromptTokenCount),
			Output: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return gen, nil
}

// Model returns the configured model identifier
func (c *VertexAIClient) Model() string { return c.config.Model }
