package nodes

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/orkacore/orka-go/core"
	"github.com/orkacore/orka-go/render"
)

// Loop runs a nested workflow until a score threshold is met or an
// iteration cap is hit (type tag "loop").
//
// Config:
//
//	max_loops:            iteration cap (default 5)
//	score_threshold:      stop once the extracted score reaches it
//	score_extraction:     {path: "..."} or {pattern: "..."}; path wins
//	internal_workflow:    the nested graph (built by the loader)
//	past_loops_metadata:  field name -> template rendered per iteration
//	cognitive_extraction: category -> regex list mined per iteration
//
// Each iteration copies the parent context, injects loop_number,
// past_loops and the per-category cognitive aggregates, and runs the
// internal workflow to completion on a nested engine sharing the
// parent's memory store and registry. Scores are clamped to [0,1];
// a missing score warns and counts as 0.
type Loop struct {
	id           string
	maxLoops     int
	threshold    float64
	scorePath    string
	scorePattern *regexp.Regexp
	metaTemplate map[string]string
	cognitive    map[string][]*regexp.Regexp
	internalSeq  []string
	sub          core.SubRunner
	renderer     *render.Renderer
}

// NewLoop parses the loop's typed config around a sub-runner bound to
// the internal workflow. internalSeq is the nested graph's top-level
// sequence, used to locate each iteration's final output.
func NewLoop(id string, cfg core.Config, sub core.SubRunner, internalSeq []string, renderer *render.Renderer) (*Loop, error) {
	if sub == nil {
		return nil, fmt.Errorf("loop %s: internal_workflow is required", id)
	}
	if len(internalSeq) == 0 {
		return nil, fmt.Errorf("loop %s: internal workflow has an empty sequence", id)
	}
	l := &Loop{
		id:           id,
		maxLoops:     cfg.GetInt("max_loops", 5),
		threshold:    cfg.GetFloat("score_threshold", 0.8),
		internalSeq:  internalSeq,
		sub:          sub,
		renderer:     renderer,
	}
	if l.maxLoops < 1 {
		return nil, fmt.Errorf("loop %s: max_loops must be at least 1", id)
	}

	extraction := cfg.GetMap("score_extraction")
	l.scorePath = extraction.GetString("path", "")
	if pattern := extraction.GetString("pattern", ""); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("loop %s: score pattern: %w", id, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("loop %s: score pattern needs a capture group", id)
		}
		l.scorePattern = re
	}
	if l.scorePath == "" && l.scorePattern == nil {
		return nil, fmt.Errorf("loop %s: score_extraction needs a path or a pattern", id)
	}

	if meta := cfg.GetMap("past_loops_metadata"); meta != nil {
		l.metaTemplate = make(map[string]string, len(meta))
		for k := range meta {
			l.metaTemplate[k] = meta.GetString(k, "")
		}
	}

	if rawCog := cfg.GetMap("cognitive_extraction"); rawCog != nil {
		l.cognitive = make(map[string][]*regexp.Regexp, len(rawCog))
		for cat := range rawCog {
			for _, pat := range rawCog.GetStringSlice(cat) {
				re, err := regexp.Compile(pat)
				if err != nil {
					return nil, fmt.Errorf("loop %s: cognitive pattern %q: %w", id, pat, err)
				}
				l.cognitive[cat] = append(l.cognitive[cat], re)
			}
		}
	}
	return l, nil
}

// ID implements core.Agent.
func (l *Loop) ID() string { return l.id }

// Describe implements core.Agent.
func (l *Loop) Describe() core.AgentInfo {
	return core.AgentInfo{Type: "loop", ControlFlow: true}
}

// Run implements core.Agent.
func (l *Loop) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	var (
		pastLoops  []map[string]interface{}
		lastOutput interface{}
		finalScore float64
		met        bool
	)
	cognitiveHits := make(map[string][]string)

	loops := 0
	for loopNumber := 1; loopNumber <= l.maxLoops; loopNumber++ {
		if err := ctx.Err(); err != nil {
			return core.Failure(core.Wrap(core.KindCancelled, "loop", err))
		}

		child := l.childContext(in.Context, loopNumber, finalScore, pastLoops, cognitiveHits)
		childCtx, err := l.sub.RunNested(ctx, child)
		if err != nil {
			if len(pastLoops) == 0 {
				return core.Failure(core.Wrap(core.KindAgentFailed,
					fmt.Sprintf("loop %s: iteration %d", l.id, loopNumber), err))
			}
			// Earlier iterations produced scores; keep their results.
			break
		}
		loops = loopNumber

		outputText, output := l.iterationOutput(childCtx)
		lastOutput = output

		score, ok := l.extractScore(childCtx, outputText)
		if !ok {
			in.Dispatcher.Emit("warning", l.id, map[string]interface{}{
				"loop_number": loopNumber,
				"warning":     "no score extracted, defaulting to 0",
			})
		}
		finalScore = score

		l.mineCognitive(outputText, cognitiveHits)
		// The summary renders against a copy carrying this iteration's
		// score; the iteration context keeps the score it ran with.
		sumCtx := childCtx.Snapshot()
		sumCtx.Score = score
		pastLoops = append(pastLoops, l.summary(sumCtx, loopNumber, score))

		in.Dispatcher.Emit("loop_iteration", l.id, map[string]interface{}{
			"loop_number": loopNumber,
			"score":       score,
		})

		if score >= l.threshold {
			met = true
			break
		}
	}

	result := map[string]interface{}{
		"loops_completed": loops,
		"final_score":     finalScore,
		"past_loops":      pastLoops,
		"last_output":     lastOutput,
	}
	status := core.StatusPartial
	if met {
		status = core.StatusSuccess
	}
	return core.AgentOutput{Result: result, Status: status}
}

// childContext builds one iteration's context from the parent snapshot.
func (l *Loop) childContext(parent *core.Context, loopNumber int, score float64, pastLoops []map[string]interface{}, hits map[string][]string) *core.Context {
	child := parent.Snapshot()
	child.LoopNumber = loopNumber
	child.Score = score
	child.PastLoops = append([]map[string]interface{}(nil), pastLoops...)

	if len(l.cognitive) > 0 {
		agg := make(map[string]interface{}, len(l.cognitive))
		cats := make([]string, 0, len(hits))
		for cat := range hits {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		for _, cat := range cats {
			agg[cat] = strings.Join(hits[cat], "\n")
		}
		child.Extras["cognitive"] = agg
	}
	return child
}

// iterationOutput locates the iteration's final output: the last node of
// the internal sequence that recorded one.
func (l *Loop) iterationOutput(childCtx *core.Context) (string, interface{}) {
	for i := len(l.internalSeq) - 1; i >= 0; i-- {
		if out, ok := childCtx.PreviousOutputs[l.internalSeq[i]]; ok && out.Status != core.StatusSkipped {
			return out.ResultString(), out.Result
		}
	}
	return "", nil
}

// extractScore resolves the iteration score. The direct path wins; the
// regex captures group 1 parsed as float. Out-of-range and NaN values
// clamp to [0,1].
func (l *Loop) extractScore(childCtx *core.Context, outputText string) (float64, bool) {
	if l.scorePath != "" {
		if v, ok := childCtx.Lookup(l.scorePath); ok {
			if f, ok := toFloat(v); ok {
				return clampScore(f), true
			}
		}
	}
	if l.scorePattern != nil {
		if m := l.scorePattern.FindStringSubmatch(outputText); len(m) > 1 {
			if f, err := strconv.ParseFloat(m[1], 64); err == nil {
				return clampScore(f), true
			}
		}
	}
	return 0, false
}

// mineCognitive appends this iteration's per-category regex hits.
func (l *Loop) mineCognitive(outputText string, hits map[string][]string) {
	for cat, patterns := range l.cognitive {
		for _, re := range patterns {
			for _, m := range re.FindAllStringSubmatch(outputText, -1) {
				hit := m[0]
				if len(m) > 1 && m[1] != "" {
					hit = m[1]
				}
				hits[cat] = append(hits[cat], hit)
			}
		}
	}
}

// summary builds one past_loops record: loop number and score, plus the
// rendered metadata projection.
func (l *Loop) summary(childCtx *core.Context, loopNumber int, score float64) map[string]interface{} {
	s := map[string]interface{}{
		"loop_number": loopNumber,
		"score":       score,
	}
	if l.renderer == nil {
		return s
	}
	for field, tmpl := range l.metaTemplate {
		rendered, err := l.renderer.Render(tmpl, childCtx)
		if err != nil {
			rendered = ""
		}
		s[field] = rendered
	}
	return s
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case core.AgentOutput:
		return toFloat(t.Result)
	}
	return 0, false
}

func clampScore(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
