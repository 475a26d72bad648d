// Package agents implements OrKa's leaf agents — LLM calls, classifiers,
// prompt builders and web searches — plus the provider contracts they run
// behind. Provider adapters over the official SDKs live in the openai,
// anthropic and google subpackages.
package agents

import (
	"context"
	"time"
)

// GenerateParams tunes one LLM generation. The engine passes provider
// and model identifiers through opaquely.
type GenerateParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generation is a provider's response to one prompt.
type Generation struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	CostUSD          float64
	Model            string
}

// LLMProvider is the uniform text-generation contract. Implementations
// call remote APIs or local services; the runtime treats them as opaque.
type LLMProvider interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) (Generation, error)
}

// Snippet is one web search result.
type Snippet struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchProvider is the uniform web-search contract.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
}
