// Package nodes implements OrKa's control-flow nodes: router, fork,
// join, failover, loop, graph-scout and the memory reader/writer. Each
// node drives the execution engine through the core.Dispatcher surface
// it receives at run time.
package nodes

import (
	"context"
	"fmt"

	"github.com/orkacore/orka-go/core"
)

// Router selects the next node ids from a prior output (type tag
// "router").
//
// Config:
//
//	decision_key: path into previous_outputs, e.g. "classify.result"
//	routing_map:  decision value -> list of node ids
//	default:      optional fallback list for unmapped values
//
// The selected ids are prepended ahead of the remaining static sequence;
// ids that also appear later in the static remainder run only once.
type Router struct {
	id          string
	decisionKey string
	routes      map[string][]string
	fallback    []string
}

// NewRouter parses the router's typed config.
func NewRouter(id string, cfg core.Config) (*Router, error) {
	key := cfg.GetString("decision_key", "")
	if key == "" {
		return nil, fmt.Errorf("router %s: decision_key is required", id)
	}
	rawMap := cfg.GetMap("routing_map")
	if len(rawMap) == 0 {
		return nil, fmt.Errorf("router %s: routing_map is required", id)
	}
	routes := make(map[string][]string, len(rawMap))
	for value := range rawMap {
		ids := idList(rawMap[value])
		if len(ids) == 0 {
			return nil, fmt.Errorf("router %s: route %q has no targets", id, value)
		}
		routes[value] = ids
	}
	return &Router{
		id:          id,
		decisionKey: key,
		routes:      routes,
		fallback:    cfg.GetStringSlice("default"),
	}, nil
}

// Targets returns every node id the router can select, for validation.
func (r *Router) Targets() []string {
	var out []string
	for _, ids := range r.routes {
		out = append(out, ids...)
	}
	out = append(out, r.fallback...)
	return out
}

// ID implements core.Agent.
func (r *Router) ID() string { return r.id }

// Describe implements core.Agent.
func (r *Router) Describe() core.AgentInfo {
	return core.AgentInfo{Type: "router", ControlFlow: true}
}

// Run implements core.Agent.
func (r *Router) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	if err := ctx.Err(); err != nil {
		return core.Failure(core.Wrap(core.KindCancelled, "router", err))
	}
	decision, ok := in.Context.LookupString(r.decisionKey)
	if !ok {
		return core.Failuref(core.KindRouteUnknown,
			"router %s: decision key %q has no value", r.id, r.decisionKey)
	}

	targets, ok := r.routes[decision]
	if !ok {
		if r.fallback == nil {
			return core.Failuref(core.KindRouteUnknown,
				"router %s: no route for decision %q", r.id, decision)
		}
		targets = r.fallback
	}

	in.Dispatcher.Prepend(targets...)
	in.Dispatcher.Emit("routing_decision", r.id, map[string]interface{}{
		"decision":  decision,
		"routed_to": targets,
	})
	return core.Success(map[string]interface{}{
		"decision":  decision,
		"routed_to": targets,
	})
}

// idList accepts either a single id or a list of ids, matching the
// loose YAML forms workflows use.
func idList(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	return nil
}
