// Package render turns prompt templates into text using a layered view of
// the run context. Templates use the standard brace syntax with dot
// navigation and pipe filters:
//
//	Answer the question: {{ .input }}
//	Previous answer was {{ .previous_outputs.answer.result }}
//	Iteration {{ .loop_number }}, best score {{ .score }}
//	{{ .topic | upper | truncate 40 }}
//
// The renderer is pure: it performs no I/O and reads only the context
// snapshot it is handed.
package render

import (
	"strings"
	"text/template"

	"github.com/orkacore/orka-go/core"
)

// Vars is the map type used for every level of the template data tree.
// Keeping intermediate maps typed lets a lookup one level past a missing
// parent resolve to an empty value instead of failing.
type Vars map[string]interface{}

// Renderer renders agent prompts from templates and context snapshots.
//
// In the default tolerant mode undefined identifiers resolve to the empty
// string. With StrictUndefined, any undefined identifier fails the render
// with a TemplateError.
type Renderer struct {
	strict  bool
	filters template.FuncMap
}

// Option configures a Renderer.
type Option func(*Renderer)

// StrictUndefined makes undefined template identifiers a render error.
func StrictUndefined() Option {
	return func(r *Renderer) { r.strict = true }
}

// WithFilter registers an extra named filter. Filters must be pure
// functions; registering a name twice replaces the earlier filter.
func WithFilter(name string, fn interface{}) Option {
	return func(r *Renderer) { r.filters[name] = fn }
}

// New creates a Renderer seeded with the builtin filter registry
// (length, default, upper, lower, tojson, truncate, date, now).
func New(opts ...Option) *Renderer {
	r := &Renderer{filters: builtinFilters()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render executes a prompt template against a context snapshot.
//
// Recognized variables: input, trace_id, loop_number, score, past_loops,
// fork_group, metadata, previous_outputs (node id -> result/status/error),
// every Extras key, and for each prior node id a top-level variable
// holding its direct string result.
//
// Tolerant mode renders missing identifiers as empty strings. A chain
// that dereferences more than one level past a missing parent truncates
// the render at the failing expression; strict mode reports it.
func (r *Renderer) Render(text string, c *core.Context) (string, error) {
	missing := "zero"
	if r.strict {
		missing = "error"
	}

	tmpl, err := template.New("prompt").
		Funcs(r.filters).
		Option("missingkey=" + missing).
		Parse(text)
	if err != nil {
		return "", core.Wrap(core.KindTemplateError, "parse prompt template", err)
	}

	var sb strings.Builder
	execErr := tmpl.Execute(&sb, buildData(c))
	out := stripNoValue(sb.String())
	if execErr != nil {
		if r.strict {
			return "", core.Wrap(core.KindTemplateError, "render prompt template", execErr)
		}
		// Tolerant mode keeps whatever rendered before the failure.
		return out, nil
	}
	return out, nil
}

// buildData assembles the layered template data from a context snapshot.
func buildData(c *core.Context) Vars {
	data := Vars{
		"input":       c.Input,
		"trace_id":    c.TraceID,
		"loop_number": c.LoopNumber,
		"score":       c.Score,
		"fork_group":  c.ForkGroup,
		"metadata":    c.Metadata,
	}

	past := make([]Vars, len(c.PastLoops))
	for i, p := range c.PastLoops {
		past[i] = Vars(p)
	}
	data["past_loops"] = past

	prev := make(map[string]Vars, len(c.PreviousOutputs))
	for id, out := range c.PreviousOutputs {
		prev[id] = outputVars(out)
	}
	data["previous_outputs"] = prev

	// Extras first, then node flattenings, then the reserved keys above:
	// a node id never shadows a reserved identifier.
	for k, v := range c.Extras {
		if _, reserved := data[k]; !reserved {
			data[k] = v
		}
	}
	for id, out := range c.PreviousOutputs {
		if _, reserved := data[id]; !reserved {
			data[id] = out.ResultString()
		}
	}
	return data
}

// outputVars projects an AgentOutput into template-visible fields.
func outputVars(out core.AgentOutput) Vars {
	v := Vars{
		"result": out.Result,
		"status": string(out.Status),
	}
	if out.Error != nil {
		v["error"] = out.Error.Message
	}
	if m, ok := out.Result.(map[string]interface{}); ok {
		// Selected result fields are addressable directly under the node.
		for k, field := range m {
			if _, taken := v[k]; !taken {
				v[k] = field
			}
		}
	}
	return v
}

// stripNoValue removes the placeholder text/template prints for missing
// keys in tolerant mode.
func stripNoValue(s string) string {
	return strings.ReplaceAll(s, "<no value>", "")
}
