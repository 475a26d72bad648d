package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/orkacore/orka-go/core"
)

// Failover executes inline children in order until one succeeds (type
// tag "failover").
//
// Config:
//
//	children: ordered list of child node ids (declared inline in the
//	          workflow document and registered like any other node)
//
// The first child with a successful output wins; later children never
// run. Each attempted child's output is recorded under its own id as
// well as in the failover's trace. When every child fails the failover
// fails with the aggregated errors.
type Failover struct {
	id       string
	children []string
}

// NewFailover parses the failover's typed config.
func NewFailover(id string, children []string) (*Failover, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("failover %s: requires at least one child", id)
	}
	return &Failover{id: id, children: children}, nil
}

// Children returns the child ids, for validation.
func (f *Failover) Children() []string { return f.children }

// ID implements core.Agent.
func (f *Failover) ID() string { return f.id }

// Describe implements core.Agent.
func (f *Failover) Describe() core.AgentInfo {
	return core.AgentInfo{Type: "failover", ControlFlow: true}
}

// Run implements core.Agent.
func (f *Failover) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	sub := make(map[string]core.AgentOutput, len(f.children))
	var errs []string

	for _, child := range f.children {
		if err := ctx.Err(); err != nil {
			return core.Failure(core.Wrap(core.KindCancelled, "failover", err))
		}
		out := in.Dispatcher.RunNode(ctx, child)
		sub[child] = out
		if out.OK() {
			return core.AgentOutput{
				Result: out.Result,
				Status: core.StatusSuccess,
				Trace:  &core.Trace{SubOutputs: sub},
			}
		}
		msg := "failed"
		if out.Error != nil {
			msg = out.Error.Message
		}
		errs = append(errs, fmt.Sprintf("%s: %s", child, msg))
	}

	out := core.Failuref(core.KindAgentFailed,
		"failover %s: all children failed: %s", f.id, strings.Join(errs, "; "))
	out.Trace = &core.Trace{SubOutputs: sub}
	return out
}
