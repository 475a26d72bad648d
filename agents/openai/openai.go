// Package openai adapts OpenAI's API to the agents.LLMProvider contract.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/orkacore/orka-go/agents"
)

// Provider implements agents.LLMProvider for OpenAI models.
//
// Transient failures (rate limits, 5xx, network) retry with a short
// linear backoff; everything else surfaces immediately.
type Provider struct {
	apiKey       string
	defaultModel string
	client       completionClient
	maxRetries   int
	retryDelay   time.Duration
}

// completionClient narrows the SDK surface for test doubles.
type completionClient interface {
	complete(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (agents.Generation, error)
}

// New creates a Provider. An empty defaultModel selects gpt-4o-mini.
func New(apiKey, defaultModel string) *Provider {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &Provider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       &sdkClient{apiKey: apiKey},
		maxRetries:   3,
		retryDelay:   time.Second,
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

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		gen, err := p.client.complete(ctx, model, prompt, params.Temperature, params.MaxTokens)
		if err == nil {
			return gen, nil
		}
		lastErr = err
		if !isTransient(err) || attempt >= p.maxRetries {
			break
		}
		select {
		case <-time.After(p.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return agents.Generation{}, ctx.Err()
		}
	}
	return agents.Generation{}, fmt.Errorf("openai generation failed: %w", lastErr)
}

// isTransient reports whether an error deserves a retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"rate limit", "429", "timeout", "connection", "temporary", "500", "502", "503"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// sdkClient wraps the official SDK.
type sdkClient struct {
	apiKey string
}

func (c *sdkClient) complete(ctx context.Context, model, prompt string, temperature float64, maxTokens int) (agents.Generation, error) {
	if c.apiKey == "" {
		return agents.Generation{}, errors.New("OpenAI API key is required")
	}
	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	start := time.Now()
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(prompt),
		},
		Temperature: openaisdk.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(maxTokens))
	}
	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return agents.Generation{}, fmt.Errorf("openai api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return agents.Generation{}, errors.New("openai api returned no choices")
	}
	return agents.Generation{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Latency:          time.Since(start),
		Model:            model,
	}, nil
}
