package agents

import (
	"fmt"

	"github.com/orkacore/orka-go/core"
)

// Dependencies resolves the external collaborators leaf agents need.
// The run coordinator wires it from configuration.
type Dependencies struct {
	// LLM resolves a provider by name ("openai", "anthropic", "google",
	// "mock", ...). The model identifier passes through opaquely.
	LLM func(provider string) (LLMProvider, error)

	// Search is the web-search backend.
	Search SearchProvider
}

// Register installs the leaf-agent factories into a registry under their
// type tags: llm, classifier, builder, search.
func Register(reg *core.Registry, deps Dependencies) {
	reg.Register("llm", func(id string, cfg core.Config) (core.Agent, error) {
		provider, params, err := resolveLLM(deps, id, cfg)
		if err != nil {
			return nil, err
		}
		return NewLLM(id, provider, params), nil
	})

	reg.Register("classifier", func(id string, cfg core.Config) (core.Agent, error) {
		provider, params, err := resolveLLM(deps, id, cfg)
		if err != nil {
			return nil, err
		}
		return NewClassifier(id, provider, params, cfg.GetStringSlice("labels"))
	})

	reg.Register("builder", func(id string, _ core.Config) (core.Agent, error) {
		return NewBuilder(id), nil
	})

	reg.Register("search", func(id string, cfg core.Config) (core.Agent, error) {
		if deps.Search == nil {
			return nil, fmt.Errorf("search agent %s: no search provider configured", id)
		}
		return NewSearch(id, deps.Search, cfg.GetInt("limit", 5)), nil
	})
}

func resolveLLM(deps Dependencies, id string, cfg core.Config) (LLMProvider, GenerateParams, error) {
	if deps.LLM == nil {
		return nil, GenerateParams{}, fmt.Errorf("agent %s: no llm provider resolver configured", id)
	}
	name := cfg.GetString("provider", "openai")
	provider, err := deps.LLM(name)
	if err != nil {
		return nil, GenerateParams{}, fmt.Errorf("agent %s: %w", id, err)
	}
	params := GenerateParams{
		Model:       cfg.GetString("model", ""),
		Temperature: cfg.GetFloat("temperature", 0.7),
		MaxTokens:   cfg.GetInt("max_tokens", 1024),
	}
	return provider, params, nil
}
