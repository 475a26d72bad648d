// Package workflow loads and validates declarative workflow documents
// into immutable graphs the run coordinator executes.
package workflow

import (
	"github.com/orkacore/orka-go/core"
)

// Strategy selects how the top-level sequence executes.
type Strategy string

const (
	// StrategySequential runs the sequence in declared order.
	StrategySequential Strategy = "sequential"

	// StrategyParallel runs the sequence concurrently with an implicit
	// join at the end.
	StrategyParallel Strategy = "parallel"
)

// Graph is the immutable workflow description. It is loaded once per run
// and never mutated afterwards.
type Graph struct {
	// ID names the workflow.
	ID string

	// Strategy is sequential or parallel.
	Strategy Strategy

	// Sequence is the ordered list of node ids to execute.
	Sequence []string

	// Nodes maps every node id, including inline failover children, to
	// its spec.
	Nodes map[string]NodeSpec

	// MemoryPreset optionally names the preset seeding memory defaults.
	MemoryPreset string

	// MemoryConfig optionally overrides store settings.
	MemoryConfig core.Config
}

// NodeSpec describes one node of the graph.
type NodeSpec struct {
	// ID is the unique node id.
	ID string

	// Type is the registered type tag.
	Type string

	// Prompt is the node's prompt template, empty for nodes without one.
	Prompt string

	// Config carries the type-specific parameters.
	Config core.Config

	// Policy carries the execution limits the engine enforces.
	Policy core.Policy

	// Children are inline child specs (failover only).
	Children []NodeSpec

	// Internal is the nested workflow (loop only).
	Internal *Graph
}

// Node returns a spec by id.
func (g *Graph) Node(id string) (NodeSpec, bool) {
	spec, ok := g.Nodes[id]
	return spec, ok
}
