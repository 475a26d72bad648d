// Package google adapts Google's Gemini API to the agents.LLMProvider
// contract.
package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/orkacore/orka-go/agents"
)

// Provider implements agents.LLMProvider for Gemini models.
type Provider struct {
	apiKey       string
	defaultModel string
	client       generateClient
}

// generateClient narrows the SDK surface for test doubles.
type generateClient interface {
	generate(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (agents.Generation, error)
}

// New creates a Provider. An empty defaultModel selects gemini-1.5-flash.
func New(apiKey, defaultModel string) *Provider {
	if defaultModel == "" {
		defaultModel = "gemini-1.5-flash"
	}
	return &Provider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       &sdkClient{apiKey: apiKey},
	}
}

// Generate implements agents.LLMProvider.
func (p *Provider) Generate(ctx context.Context, prompt string, params agents.GenerateParams) (agents.Generation, error) {
	if err := ctx.Err(); err != nil {
		return agents.Generation{}, err
	}
	model := params.Model
	if model == "" {
		model = p.defaultModel
	}
	return p.client.generate(ctx, model, prompt, params.Temperature, params.MaxTokens)
}

// sdkClient wraps the official SDK. A client is created per call; the
// SDK multiplexes over gRPC internally.
type sdkClient struct {
	apiKey string
}

func (c *sdkClient) generate(ctx context.Context, modelName, prompt string, temperature float64, maxTokens int) (agents.Generation, error) {
	if c.apiKey == "" {
		return agents.Generation{}, errors.New("google API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return agents.Generation{}, fmt.Errorf("google api client: %w", err)
	}
	defer func() { _ = client.Close() }()

	model := client.GenerativeModel(modelName)
	temp := float32(temperature)
	model.Temperature = &temp
	if maxTokens > 0 {
		mt := int32(maxTokens)
		model.MaxOutputTokens = &mt
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return agents.Generation{}, fmt.Errorf("google api: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return agents.Generation{}, errors.New("google api returned no candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	gen := agents.Generation{
		Text:    text,
		Latency: time.Since(start),
		Model:   modelName,
	}
	if resp.UsageMetadata != nil {
		gen.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		gen.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return gen, nil
}
