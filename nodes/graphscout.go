package nodes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orkacore/orka-go/core"
)

// GraphScout (beta) previews the downstream graph and decides which
// subsequence of agents to run next (type tag "graph-scout").
//
// Config:
//
//	k_beam:              candidates kept after ranking, across all depths (default 3)
//	max_depth:           longest candidate subsequence (default 2)
//	commit_margin:       lead required to commit to one path (default 0.1)
//	cost_budget:         max summed estimated cost in USD (0 = unlimited)
//	latency_budget:      max summed estimated latency in seconds (0 = unlimited)
//	safety_threshold:    minimum safety score in [0,1] (default 0.5)
//	scoring_mode:        "numeric" (default) or "boolean"
//	important_threshold: boolean mode: fraction of capability criteria
//	                     that must pass (default 0.6)
//
// Candidates are contiguous subsequences of the ids still queued in this
// scope. Numeric mode ranks them by a weighted sum of capability match,
// historical prior, cost and latency; boolean mode gates on the critical
// criteria (input readiness, safety) and the important capability
// fraction. The decision is commit_next, shortlist, or no_path.
type GraphScout struct {
	id                 string
	kBeam              int
	maxDepth           int
	commitMargin       float64
	costBudget         float64
	latencyBudget      time.Duration
	safetyThreshold    float64
	booleanMode        bool
	importantThreshold float64
}

// unsafeMarkers is the consolidated safety keyword screen. Inputs
// carrying one drop a candidate's safety score below any threshold.
var unsafeMarkers = []string{"rm -rf", "drop table", "format c:", "shutdown now"}

// NewGraphScout parses the scout's typed config.
func NewGraphScout(id string, cfg core.Config) (*GraphScout, error) {
	mode := cfg.GetString("scoring_mode", "numeric")
	if mode != "numeric" && mode != "boolean" {
		return nil, fmt.Errorf("graph-scout %s: unknown scoring_mode %q", id, mode)
	}
	g := &GraphScout{
		id:                 id,
		kBeam:              cfg.GetInt("k_beam", 3),
		maxDepth:           cfg.GetInt("max_depth", 2),
		commitMargin:       cfg.GetFloat("commit_margin", 0.1),
		costBudget:         cfg.GetFloat("cost_budget", 0),
		latencyBudget:      cfg.GetDuration("latency_budget", 0),
		safetyThreshold:    cfg.GetFloat("safety_threshold", 0.5),
		booleanMode:        mode == "boolean",
		importantThreshold: cfg.GetFloat("important_threshold", 0.6),
	}
	if g.kBeam < 1 || g.maxDepth < 1 {
		return nil, fmt.Errorf("graph-scout %s: k_beam and max_depth must be positive", id)
	}
	return g, nil
}

// ID implements core.Agent.
func (g *GraphScout) ID() string { return g.id }

// Describe implements core.Agent.
func (g *GraphScout) Describe() core.AgentInfo {
	return core.AgentInfo{Type: "graph-scout", ControlFlow: true}
}

// candidate is one scored subsequence.
type candidate struct {
	ids     []string
	score   float64
	cost    float64
	latency time.Duration
}

// Run implements core.Agent.
func (g *GraphScout) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	if err := ctx.Err(); err != nil {
		return core.Failure(core.Wrap(core.KindCancelled, "graph-scout", err))
	}
	upcoming := in.Dispatcher.Upcoming()
	if len(upcoming) == 0 {
		return core.Failuref(core.KindNoViablePath, "graph-scout %s: no downstream agents", g.id)
	}

	input := strings.ToLower(in.Context.InputString())
	safety := g.safetyScore(input)

	var candidates []candidate
	for start := 0; start < len(upcoming); start++ {
		for depth := 1; depth <= g.maxDepth && start+depth <= len(upcoming); depth++ {
			ids := upcoming[start : start+depth]
			c, viable := g.evaluate(in, ids, input, safety)
			if viable {
				candidates = append(candidates, c)
			}
		}
	}
	if len(candidates) == 0 {
		return core.Failuref(core.KindNoViablePath,
			"graph-scout %s: no candidate passed the safety and budget gates", g.id)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > g.kBeam {
		candidates = candidates[:g.kBeam]
	}

	decision := "shortlist"
	selected := candidates
	if len(candidates) == 1 || candidates[0].score-candidates[1].score >= g.commitMargin {
		decision = "commit_next"
		selected = candidates[:1]
	}

	// Schedule the selected path(s): committed paths run alone,
	// shortlisted paths run sequentially in score order.
	seen := make(map[string]bool)
	var schedule []string
	for _, c := range selected {
		for _, id := range c.ids {
			if !seen[id] {
				seen[id] = true
				schedule = append(schedule, id)
			}
		}
	}
	in.Dispatcher.Prepend(schedule...)

	ranked := make([]interface{}, len(candidates))
	for i, c := range candidates {
		ranked[i] = map[string]interface{}{
			"path":  c.ids,
			"score": c.score,
		}
	}
	in.Dispatcher.Emit("routing_decision", g.id, map[string]interface{}{
		"decision":  decision,
		"scheduled": schedule,
	})
	return core.Success(map[string]interface{}{
		"decision":   decision,
		"scheduled":  schedule,
		"candidates": ranked,
	})
}

// evaluate scores one candidate subsequence and applies the gates.
func (g *GraphScout) evaluate(in core.RunInput, ids []string, input string, safety float64) (candidate, bool) {
	c := candidate{ids: ids}
	var capTotal, capHit int
	ready := true

	for _, id := range ids {
		agent, ok := in.Dispatcher.Agent(id)
		if !ok {
			return c, false
		}
		info := agent.Describe()
		c.cost += info.EstimatedCostUSD
		c.latency += info.EstimatedLatency
		if info.RequiresPrompt && input == "" {
			ready = false
		}
		for _, capability := range info.Capabilities {
			capTotal++
			if strings.Contains(input, capability) || relevantCapability(capability) {
				capHit++
			}
		}
	}

	// Critical gates, both modes: safety, input readiness, budgets.
	if safety < g.safetyThreshold || !ready {
		return c, false
	}
	if g.costBudget > 0 && c.cost > g.costBudget {
		return c, false
	}
	if g.latencyBudget > 0 && c.latency > g.latencyBudget {
		return c, false
	}

	capMatch := 0.5
	if capTotal > 0 {
		capMatch = float64(capHit) / float64(capTotal)
	}

	if g.booleanMode {
		if capMatch < g.importantThreshold {
			return c, false
		}
		c.score = 1
		return c, true
	}

	// Numeric mode: capability match, a neutral historical prior, and
	// cost/latency penalties scaled by the budgets when set.
	const prior = 0.5
	costPenalty := 0.0
	if g.costBudget > 0 {
		costPenalty = c.cost / g.costBudget
	}
	latencyPenalty := 0.0
	if g.latencyBudget > 0 {
		latencyPenalty = float64(c.latency) / float64(g.latencyBudget)
	}
	c.score = 0.45*capMatch + 0.25*prior + 0.15*safety - 0.1*costPenalty - 0.05*latencyPenalty
	return c, true
}

// relevantCapability marks capabilities useful for any input, counted as
// matches in the heuristic.
func relevantCapability(capability string) bool {
	switch capability {
	case "generate", "reason":
		return true
	}
	return false
}

// safetyScore screens the input for unsafe markers.
func (g *GraphScout) safetyScore(input string) float64 {
	for _, marker := range unsafeMarkers {
		if strings.Contains(input, marker) {
			return 0
		}
	}
	return 1
}
