package nodes

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/orkacore/orka-go/core"
)

// Fork launches parallel or sequential branches (type tag "fork").
//
// Config:
//
//	targets:     list of branches; each branch is a node id or an
//	             ordered list of node ids (required, non-empty)
//	mode:        "parallel" (default) or "sequential"
//	require_all: join fails on any failed branch when true (default)
//
// Each run opens a fresh fork group. Branch outputs are recorded under
// their own node ids; the group id is also recorded under the fork's id
// for observability and for the matching join.
type Fork struct {
	id         string
	branches   [][]string
	parallel   bool
	requireAll bool
}

// NewFork parses the fork's typed config. An empty target list is a
// load-time error.
func NewFork(id string, cfg core.Config) (*Fork, error) {
	raw, ok := cfg["targets"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("fork %s: targets must be a non-empty list", id)
	}
	branches := make([][]string, 0, len(raw))
	for i, b := range raw {
		ids := idList(b)
		if len(ids) == 0 {
			return nil, fmt.Errorf("fork %s: branch %d is empty", id, i)
		}
		branches = append(branches, ids)
	}
	mode := cfg.GetString("mode", "parallel")
	if mode != "parallel" && mode != "sequential" {
		return nil, fmt.Errorf("fork %s: unknown mode %q", id, mode)
	}
	return &Fork{
		id:         id,
		branches:   branches,
		parallel:   mode == "parallel",
		requireAll: cfg.GetBool("require_all", true),
	}, nil
}

// Branches returns the configured branches, for validation.
func (f *Fork) Branches() [][]string { return f.branches }

// ID implements core.Agent.
func (f *Fork) ID() string { return f.id }

// Describe implements core.Agent.
func (f *Fork) Describe() core.AgentInfo {
	return core.AgentInfo{Type: "fork", ControlFlow: true}
}

// Run implements core.Agent.
func (f *Fork) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	groupID := f.id + "-" + uuid.NewString()[:8]

	group, err := in.Dispatcher.ExecuteBranches(ctx, groupID, f.branches, f.parallel, f.requireAll)
	if err != nil {
		return core.Failure(err)
	}
	in.Dispatcher.Emit("fork_opened", f.id, map[string]interface{}{
		"fork_group": groupID,
		"branches":   len(f.branches),
		"parallel":   f.parallel,
	})
	return core.Success(map[string]interface{}{
		"fork_group": groupID,
		"leaves":     group.Leaves,
	})
}
