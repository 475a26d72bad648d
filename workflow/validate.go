package workflow

import (
	"fmt"
	"sort"

	"github.com/orkacore/orka-go/core"
)

// structuralTypes are built by the run coordinator rather than a
// registry factory; the validator checks their structure here.
var structuralTypes = map[string]bool{
	"loop":     true,
	"failover": true,
}

// Validate checks a loaded graph against a registry. It accumulates
// every issue found in one pass and fails with a single
// GraphInvalidError listing them all.
//
// Checks:
//   - the orchestrator declares an id and a non-empty sequence
//   - every sequence id resolves to a declared node
//   - every node type is registered (or structural)
//   - per-variant config parses (factories run once and are discarded)
//   - router routing-map targets and fork branches reference existing
//     nodes; joins reference fork nodes
//   - loop internal workflows validate recursively
//   - no node reaches itself through child or nested-graph structure
func Validate(g *Graph, reg *core.Registry) error {
	v := &validator{reg: reg}
	v.graph(g, nil)
	if len(v.reasons) > 0 {
		return &core.GraphInvalidError{Reasons: v.reasons}
	}
	return nil
}

type validator struct {
	reg     *core.Registry
	reasons []string
}

func (v *validator) addf(format string, args ...interface{}) {
	v.reasons = append(v.reasons, fmt.Sprintf(format, args...))
}

// graph validates one (possibly nested) graph. ancestors carries the
// node ids structurally enclosing it, for self-reference detection.
func (v *validator) graph(g *Graph, ancestors []string) {
	if g.ID == "" {
		v.addf("orchestrator has no id")
	}
	if len(g.Sequence) == 0 {
		v.addf("orchestrator %q has an empty agent sequence", g.ID)
	}
	switch g.Strategy {
	case StrategySequential, StrategyParallel:
	default:
		v.addf("orchestrator %q: unknown strategy %q", g.ID, g.Strategy)
	}

	for _, id := range g.Sequence {
		if _, ok := g.Nodes[id]; !ok {
			v.addf("sequence references undeclared node %q", id)
		}
	}

	for _, id := range sortedIDs(g.Nodes) {
		spec := g.Nodes[id]
		for _, anc := range ancestors {
			if anc == spec.ID {
				v.addf("node %q reaches itself through nested structure", spec.ID)
			}
		}
		v.node(g, spec, append(ancestors, spec.ID))
	}
}

func (v *validator) node(g *Graph, spec NodeSpec, ancestors []string) {
	if structuralTypes[spec.Type] {
		v.structural(g, spec, ancestors)
		return
	}
	if !v.reg.Has(spec.Type) {
		v.addf("node %q has unregistered type %q", spec.ID, spec.Type)
		return
	}

	// Construct once to run the variant's own config validation, then
	// inspect references the instance exposes.
	agent, err := v.reg.New(spec.Type, spec.ID, spec.Config)
	if err != nil {
		v.addf("node %q: %v", spec.ID, err)
		return
	}
	if r, ok := agent.(interface{ Targets() []string }); ok {
		for _, target := range r.Targets() {
			if _, exists := g.Nodes[target]; !exists {
				v.addf("node %q routes to undeclared node %q", spec.ID, target)
			}
		}
	}
	if f, ok := agent.(interface{ Branches() [][]string }); ok {
		for _, branch := range f.Branches() {
			for _, target := range branch {
				if _, exists := g.Nodes[target]; !exists {
					v.addf("node %q forks to undeclared node %q", spec.ID, target)
				}
			}
		}
	}
	if j, ok := agent.(interface{ Group() string }); ok {
		group, exists := g.Nodes[j.Group()]
		if !exists {
			v.addf("node %q joins undeclared fork %q", spec.ID, j.Group())
		} else if group.Type != "fork" {
			v.addf("node %q joins %q which is not a fork", spec.ID, j.Group())
		}
	}
}

func (v *validator) structural(g *Graph, spec NodeSpec, ancestors []string) {
	switch spec.Type {
	case "failover":
		if len(spec.Children) == 0 {
			v.addf("failover %q has no children", spec.ID)
		}
		for _, child := range spec.Children {
			if structuralTypes[child.Type] {
				v.addf("failover %q: child %q may not be structural", spec.ID, child.ID)
				continue
			}
			if !v.reg.Has(child.Type) {
				v.addf("failover %q: child %q has unregistered type %q", spec.ID, child.ID, child.Type)
			}
		}
	case "loop":
		if spec.Internal == nil {
			v.addf("loop %q has no internal_workflow", spec.ID)
			return
		}
		v.graph(spec.Internal, ancestors)
	}
}

func sortedIDs(nodes map[string]NodeSpec) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	// Deterministic validation output.
	sort.Strings(ids)
	return ids
}
