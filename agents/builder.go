package agents

import (
	"context"
	"time"

	"github.com/orkacore/orka-go/core"
)

// Builder is the pure templating agent (type tag "builder"): its result
// is the rendered prompt itself, with no model round-trip. Useful for
// composing structured text from prior outputs — report assembly, answer
// formatting, constructing the input of a downstream agent.
type Builder struct {
	id string
}

// NewBuilder builds the agent.
func NewBuilder(id string) *Builder { return &Builder{id: id} }

// ID implements core.Agent.
func (a *Builder) ID() string { return a.id }

// Describe implements core.Agent.
func (a *Builder) Describe() core.AgentInfo {
	return core.AgentInfo{
		Type:             "builder",
		RequiresPrompt:   true,
		Capabilities:     []string{"format", "compose"},
		EstimatedLatency: time.Millisecond,
	}
}

// Run implements core.Agent.
func (a *Builder) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	if err := ctx.Err(); err != nil {
		return core.Failure(core.Wrap(core.KindCancelled, "builder", err))
	}
	return core.AgentOutput{
		Result: in.Prompt,
		Status: core.StatusSuccess,
		Trace:  &core.Trace{Prompt: in.Prompt},
	}
}
