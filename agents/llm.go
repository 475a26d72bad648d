package agents

import (
	"context"
	"time"

	"github.com/orkacore/orka-go/core"
)

// LLM is the generic text-generation leaf agent (type tag "llm").
//
// Config:
//
//	provider:    provider name resolved by the registry dependencies
//	model:       opaque model identifier passed through to the provider
//	temperature: sampling temperature
//	max_tokens:  completion cap
type LLM struct {
	id       string
	provider LLMProvider
	params   GenerateParams
}

// NewLLM builds the agent around a resolved provider.
func NewLLM(id string, provider LLMProvider, params GenerateParams) *LLM {
	return &LLM{id: id, provider: provider, params: params}
}

// ID implements core.Agent.
func (a *LLM) ID() string { return a.id }

// Describe implements core.Agent.
func (a *LLM) Describe() core.AgentInfo {
	return core.AgentInfo{
		Type:             "llm",
		RequiresPrompt:   true,
		Capabilities:     []string{"generate", "reason", "summarize"},
		EstimatedCostUSD: 0.002,
		EstimatedLatency: 2 * time.Second,
	}
}

// Run implements core.Agent.
func (a *LLM) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	start := time.Now()
	gen, err := a.provider.Generate(ctx, in.Prompt, a.params)
	if err != nil {
		out := core.Failure(core.Wrap(core.KindAgentFailed, "llm generation", err))
		out.Metrics.Latency = time.Since(start)
		out.Trace = &core.Trace{Prompt: in.Prompt, Model: a.params.Model}
		return out
	}
	latency := gen.Latency
	if latency == 0 {
		latency = time.Since(start)
	}
	model := gen.Model
	if model == "" {
		model = a.params.Model
	}
	return core.AgentOutput{
		Result: gen.Text,
		Status: core.StatusSuccess,
		Metrics: core.Metrics{
			PromptTokens:     gen.PromptTokens,
			CompletionTokens: gen.CompletionTokens,
			Latency:          latency,
			CostUSD:          gen.CostUSD,
		},
		Trace: &core.Trace{Prompt: in.Prompt, Model: model},
	}
}
