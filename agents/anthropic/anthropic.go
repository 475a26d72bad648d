// Package anthropic adapts Anthropic's Claude API to the
// agents.LLMProvider contract.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/orkacore/orka-go/agents"
)

// Provider implements agents.LLMProvider for Claude models.
type Provider struct {
	apiKey       string
	defaultModel string
	client       messageClient
}

// messageClient narrows the SDK surface for test doubles.
type messageClient interface {
	create(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (agents.Generation, error)
}

// New creates a Provider. An empty defaultModel selects Claude Sonnet.
func New(apiKey, defaultModel string) *Provider {
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-5-20250929"
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
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return p.client.create(ctx, model, prompt, params.Temperature, maxTokens)
}

// sdkClient wraps the official SDK.
type sdkClient struct {
	apiKey string
}

func (c *sdkClient) create(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (agents.Generation, error) {
	if c.apiKey == "" {
		return agents.Generation{}, errors.New("anthropic API key is required")
	}
	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	start := time.Now()
	resp, err := client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(prompt)),
		},
		Temperature: anthropicsdk.Float(temperature),
	})
	if err != nil {
		return agents.Generation{}, fmt.Errorf("anthropic api: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			text += tb.Text
		}
	}
	return agents.Generation{
		Text:             text,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		Latency:          time.Since(start),
		Model:            model,
	}, nil
}
