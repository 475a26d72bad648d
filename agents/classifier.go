package agents

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/orkacore/orka-go/core"
)

// Classifier constrains an LLM call to a fixed label set (type tag
// "classifier").
//
// Config:
//
//	labels:   the allowed output labels (required)
//	provider: / model / temperature as for "llm"
//
// The rendered prompt is suffixed with the label instruction; the first
// allowed label found in the response (case-insensitive, whole response
// scanned) becomes the result. A response containing no label fails the
// node rather than guessing.
type Classifier struct {
	id       string
	provider LLMProvider
	params   GenerateParams
	labels   []string
}

// NewClassifier builds the agent. At least two labels are required.
func NewClassifier(id string, provider LLMProvider, params GenerateParams, labels []string) (*Classifier, error) {
	if len(labels) < 2 {
		return nil, fmt.Errorf("classifier %s: needs at least two labels, got %d", id, len(labels))
	}
	return &Classifier{id: id, provider: provider, params: params, labels: labels}, nil
}

// ID implements core.Agent.
func (a *Classifier) ID() string { return a.id }

// Describe implements core.Agent.
func (a *Classifier) Describe() core.AgentInfo {
	return core.AgentInfo{
		Type:             "classifier",
		RequiresPrompt:   true,
		Capabilities:     []string{"classify", "route"},
		EstimatedCostUSD: 0.0005,
		EstimatedLatency: time.Second,
	}
}

// Run implements core.Agent.
func (a *Classifier) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	prompt := in.Prompt + "\n\nRespond with exactly one of: " + strings.Join(a.labels, ", ")
	start := time.Now()
	gen, err := a.provider.Generate(ctx, prompt, a.params)
	if err != nil {
		out := core.Failure(core.Wrap(core.KindAgentFailed, "classification", err))
		out.Metrics.Latency = time.Since(start)
		out.Trace = &core.Trace{Prompt: prompt, Model: a.params.Model}
		return out
	}

	label, ok := a.match(gen.Text)
	if !ok {
		out := core.Failuref(core.KindAgentFailed,
			"classifier %s: response %q matches no label", a.id, truncate(gen.Text, 80))
		out.Metrics.Latency = time.Since(start)
		out.Trace = &core.Trace{Prompt: prompt, Model: a.params.Model}
		return out
	}
	return core.AgentOutput{
		Result: label,
		Status: core.StatusSuccess,
		Metrics: core.Metrics{
			PromptTokens:     gen.PromptTokens,
			CompletionTokens: gen.CompletionTokens,
			Latency:          time.Since(start),
			CostUSD:          gen.CostUSD,
		},
		Trace: &core.Trace{Prompt: prompt, Model: a.params.Model},
	}
}

// match scans the response for an allowed label. An exact (trimmed,
// case-folded) match wins; otherwise the first label contained in the
// response as a whole word does, so "no" is not found inside "cannot".
func (a *Classifier) match(response string) (string, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(response))
	for _, l := range a.labels {
		if trimmed == strings.ToLower(l) {
			return l, true
		}
	}
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	for _, l := range a.labels {
		label := strings.ToLower(l)
		for from := 0; label != ""; {
			i := strings.Index(trimmed[from:], label)
			if i < 0 {
				break
			}
			start, end := from+i, from+i+len(label)
			before, _ := utf8.DecodeLastRuneInString(trimmed[:start])
			after, _ := utf8.DecodeRuneInString(trimmed[end:])
			if !isWord(before) && !isWord(after) {
				return l, true
			}
			from = end
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
