package core

import (
	"strings"
	"time"
)

// Context is the per-run mutable state. The execution engine is its single
// writer: each node appends exactly one AgentOutput under its own id.
// Readers receive snapshots and never observe a partial write.
type Context struct {
	// Input is the user payload for this run: a string or a structured map.
	Input interface{}

	// TraceID uniquely identifies the run.
	TraceID string

	// PreviousOutputs maps node id to that node's recorded output.
	PreviousOutputs map[string]AgentOutput

	// LoopNumber is the 1-based iteration counter, populated only inside
	// a loop's internal workflow.
	LoopNumber int

	// Score is the extracted score of the previous loop iteration.
	Score float64

	// PastLoops holds one summary per completed loop iteration, in order.
	PastLoops []map[string]interface{}

	// ForkGroup identifies the fork group when executing inside a fork.
	ForkGroup string

	// Metadata is free-form run metadata, copied into emitted events.
	Metadata map[string]string

	// Extras carries derived values injected by control-flow nodes, such
	// as per-category cognitive extraction aggregates.
	Extras map[string]interface{}

	// StartedAt is the wall-clock start of the run.
	StartedAt time.Time
}

// NewContext builds a run context around a user payload.
func NewContext(traceID string, input interface{}) *Context {
	return &Context{
		Input:           input,
		TraceID:         traceID,
		PreviousOutputs: make(map[string]AgentOutput),
		Metadata:        make(map[string]string),
		Extras:          make(map[string]interface{}),
		StartedAt:       time.Now(),
	}
}

// Snapshot returns an independent copy of the context. Output envelopes
// are copied by value; result payloads are shared read-only, matching the
// immutable-snapshot contract agents receive.
func (c *Context) Snapshot() *Context {
	cp := *c
	cp.PreviousOutputs = make(map[string]AgentOutput, len(c.PreviousOutputs))
	for id, out := range c.PreviousOutputs {
		cp.PreviousOutputs[id] = out
	}
	cp.Metadata = make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		cp.Metadata[k] = v
	}
	cp.Extras = make(map[string]interface{}, len(c.Extras))
	for k, v := range c.Extras {
		cp.Extras[k] = v
	}
	cp.PastLoops = make([]map[string]interface{}, len(c.PastLoops))
	copy(cp.PastLoops, c.PastLoops)
	return &cp
}

// InputString renders the run input as text.
func (c *Context) InputString() string {
	if s, ok := c.Input.(string); ok {
		return s
	}
	if c.Input == nil {
		return ""
	}
	return AgentOutput{Result: c.Input}.ResultString()
}

// Lookup resolves a dot path into PreviousOutputs. The first segment is a
// node id; an optional remainder navigates into the output. The segment
// "result" selects the primary value, "status" the status string, and any
// other segment indexes into a map-valued result. A missing parent yields
// (nil, false).
//
// Examples:
//
//	c.Lookup("classify")                 // the full AgentOutput
//	c.Lookup("classify.result")          // the primary value
//	c.Lookup("scores.result.relevance")  // a field of a map result
func (c *Context) Lookup(path string) (interface{}, bool) {
	segs := strings.Split(path, ".")
	if len(segs) == 0 || segs[0] == "" {
		return nil, false
	}
	// Tolerate an explicit previous_outputs prefix.
	if segs[0] == "previous_outputs" {
		segs = segs[1:]
		if len(segs) == 0 {
			return nil, false
		}
	}
	out, ok := c.PreviousOutputs[segs[0]]
	if !ok {
		return nil, false
	}
	if len(segs) == 1 {
		return out, true
	}

	var cur interface{}
	switch segs[1] {
	case "result":
		cur = out.Result
	case "status":
		cur = string(out.Status)
	default:
		// Shorthand: navigate straight into a map result.
		return navigate(out.Result, segs[1:])
	}
	return navigate(cur, segs[2:])
}

// LookupString resolves a path and renders the value as a string, the
// form routers use for routing-map keys.
func (c *Context) LookupString(path string) (string, bool) {
	v, ok := c.Lookup(path)
	if !ok {
		return "", false
	}
	if out, isOut := v.(AgentOutput); isOut {
		return out.ResultString(), true
	}
	return AgentOutput{Result: v}.ResultString(), true
}

func navigate(cur interface{}, segs []string) (interface{}, bool) {
	for _, seg := range segs {
		switch m := cur.(type) {
		case map[string]interface{}:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}
