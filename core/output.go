// Package core defines the shared contracts of the OrKa runtime: the
// per-run Context, the AgentOutput envelope, the Agent lifecycle
// interface, the agent registry, and the error taxonomy.
package core

import (
	"fmt"
	"time"
)

// Status describes the terminal state of a single agent execution.
type Status string

const (
	// StatusSuccess indicates the agent produced a usable result.
	StatusSuccess Status = "success"

	// StatusFailed indicates the agent could not produce a result.
	// The Error field of the AgentOutput carries the cause.
	StatusFailed Status = "failed"

	// StatusSkipped indicates the agent was never invoked, e.g. a branch
	// the router did not select or a node cancelled before start.
	StatusSkipped Status = "skipped"

	// StatusPartial indicates the agent completed with a degraded result,
	// e.g. a loop that hit its iteration cap without meeting its score
	// threshold.
	StatusPartial Status = "partial"
)

// ErrorInfo is the serializable error descriptor embedded in a failed
// AgentOutput. Kind matches the runtime error taxonomy.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Metrics captures the resource usage of one agent execution.
//
// Latency covers the full node invocation including prompt rendering and
// provider round-trips. Token counts and cost are zero for nodes that do
// not call a model.
type Metrics struct {
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	Latency          time.Duration `json:"latency"`
	Retries          int           `json:"retries,omitempty"`
	CostUSD          float64       `json:"cost_usd,omitempty"`
}

// Trace carries debugging context for one execution: the prompt the
// renderer produced, the model identifier used (if any), and the outputs
// of inline children (failover) or nested runs (loop iterations).
type Trace struct {
	Prompt     string                 `json:"prompt,omitempty"`
	Model      string                 `json:"model,omitempty"`
	SubOutputs map[string]AgentOutput `json:"sub_outputs,omitempty"`
}

// AgentOutput is the uniform envelope produced by every node, leaf agent
// and control-flow node alike. The engine records exactly one AgentOutput
// per node id per scope.
type AgentOutput struct {
	// Result is the primary value: a string, a structured map, or a list.
	Result interface{} `json:"result"`

	// Status is the terminal state of the execution.
	Status Status `json:"status"`

	// Error describes the failure when Status is StatusFailed.
	Error *ErrorInfo `json:"error,omitempty"`

	// Metrics aggregates tokens, latency, retries and cost.
	Metrics Metrics `json:"metrics"`

	// Trace holds the rendered prompt, model id and sub-outputs.
	Trace *Trace `json:"trace,omitempty"`
}

// Success builds a successful output around a result value.
func Success(result interface{}) AgentOutput {
	return AgentOutput{Result: result, Status: StatusSuccess}
}

// Failure builds a failed output from an error, extracting the taxonomy
// kind when the error carries one and falling back to KindAgentFailed.
func Failure(err error) AgentOutput {
	return AgentOutput{
		Status: StatusFailed,
		Error:  &ErrorInfo{Kind: KindOf(err), Message: err.Error()},
	}
}

// Failuref builds a failed output with an explicit kind and formatted
// message.
func Failuref(kind ErrorKind, format string, args ...interface{}) AgentOutput {
	return AgentOutput{
		Status: StatusFailed,
		Error:  &ErrorInfo{Kind: kind, Message: fmt.Sprintf(format, args...)},
	}
}

// Skipped builds an output for a node that was never invoked.
func Skipped(reason string) AgentOutput {
	return AgentOutput{
		Status: StatusSkipped,
		Result: nil,
		Error:  &ErrorInfo{Kind: KindCancelled, Message: reason},
	}
}

// ResultString renders the primary result as a string. Maps and lists are
// formatted with fmt; nil results render empty. Used by routers resolving
// decision values and by the loop node's regex score extraction.
func (o AgentOutput) ResultString() string {
	switch v := o.Result.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// OK reports whether the output completed with StatusSuccess.
func (o AgentOutput) OK() bool { return o.Status == StatusSuccess }
