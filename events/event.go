// Package events provides runtime event emission for workflow execution:
// pluggable emitters for logging, in-memory capture, and OpenTelemetry
// tracing.
package events

// Message names emitted by the runtime.
const (
	MsgRunStart        = "run_start"
	MsgRunEnd          = "run_end"
	MsgNodeStart       = "node_start"
	MsgNodeEnd         = "node_end"
	MsgRoutingDecision = "routing_decision"
	MsgForkOpened      = "fork_opened"
	MsgJoinComplete    = "join_complete"
	MsgLoopIteration   = "loop_iteration"
	MsgWarning         = "warning"
	MsgError           = "error"
)

// Event is one observability record from a run.
type Event struct {
	// TraceID identifies the run that emitted the event.
	TraceID string `json:"trace_id"`

	// Step is the engine's sequential step counter, zero for run-level
	// events.
	Step int `json:"step"`

	// NodeID is the emitting node, empty for run-level events.
	NodeID string `json:"node_id"`

	// Msg names the event, one of the Msg constants.
	Msg string `json:"msg"`

	// Meta carries event-specific structured data. Common keys:
	// "duration_ms", "error", "status", "routed_to", "score",
	// "loop_number", "fork_group".
	Meta map[string]interface{} `json:"meta,omitempty"`
}
