package run

import (
	"time"

	"github.com/orkacore/orka-go/core"
)

// Report is the structured result of one run. It always materializes,
// also for failed runs, carrying whatever outputs completed plus an
// error summary.
type Report struct {
	// TraceID identifies the run.
	TraceID string `json:"trace_id"`

	// Status summarizes the run: success, partial (some node failed
	// under the continue policy) or failed.
	Status string `json:"status"`

	// Outputs holds every recorded node output.
	Outputs map[string]core.AgentOutput `json:"outputs"`

	// FinalResult is the last non-skipped node's result.
	FinalResult interface{} `json:"final_result"`

	// Aggregate metrics across all nodes.
	TotalPromptTokens     int           `json:"total_prompt_tokens"`
	TotalCompletionTokens int           `json:"total_completion_tokens"`
	TotalCostUSD          float64       `json:"total_cost_usd"`
	TotalAgentLatency     time.Duration `json:"total_agent_latency"`

	// Duration is the run's wall time.
	Duration time.Duration `json:"duration"`

	// Errors lists the failure messages of failed nodes plus any
	// run-level error, in occurrence order.
	Errors []string `json:"errors,omitempty"`
}

// buildReport assembles the report from the run context and the engine's
// execution order.
func buildReport(runCtx *core.Context, executed []string, cost *CostTracker, duration time.Duration, runErr error) *Report {
	r := &Report{
		TraceID:  runCtx.TraceID,
		Outputs:  make(map[string]core.AgentOutput, len(runCtx.PreviousOutputs)),
		Duration: duration,
	}
	for id, out := range runCtx.PreviousOutputs {
		r.Outputs[id] = out
		r.TotalAgentLatency += out.Metrics.Latency
	}
	if cost != nil {
		r.TotalPromptTokens, r.TotalCompletionTokens, r.TotalCostUSD = cost.Totals()
	}

	anyFailed := false
	for _, id := range executed {
		out, ok := runCtx.PreviousOutputs[id]
		if !ok {
			continue
		}
		if out.Status == core.StatusFailed {
			anyFailed = true
			r.Errors = append(r.Errors, id+": "+errMessage(out))
		}
		if out.Status != core.StatusSkipped {
			r.FinalResult = out.Result
		}
	}

	switch {
	case runErr != nil:
		r.Status = "failed"
		r.Errors = append(r.Errors, runErr.Error())
	case anyFailed:
		r.Status = "partial"
	default:
		r.Status = "success"
	}
	return r
}
