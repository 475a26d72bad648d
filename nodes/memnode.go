package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/orkacore/orka-go/core"
	"github.com/orkacore/orka-go/memory"
)

// Memory is the memory reader/writer node (type tag "memory").
//
// Config:
//
//	operation:  "read" or "write" (required)
//	namespace:  memory namespace (required)
//	preset:     memory preset name seeding the read defaults (writes do
//	            not use it)
//	limit:      read override
//	threshold:  read override for the similarity threshold
//	metadata:   write: extra metadata stored on the entry
//	memory_type: write: pin "short_term" or "long_term"
//
// A read searches the namespace with the rendered prompt as the query,
// augmenting the query with a context window of up to three successful
// prior outputs (taken in map order, not by recency), and
// returns the matches under result. A write stores the rendered prompt
// (falling back to the run input) and returns the stored id.
type Memory struct {
	id        string
	operation string
	namespace string
	preset    memory.Preset
	hasPreset bool
	store     memory.Store

	limit      int
	threshold  float64
	hasLimit   bool
	hasThresh  bool
	metadata   map[string]string
	memoryType memory.Type
}

// NewMemory parses the node's typed config around the run's store.
func NewMemory(id string, cfg core.Config, store memory.Store) (*Memory, error) {
	if store == nil {
		return nil, fmt.Errorf("memory node %s: no store configured", id)
	}
	op := cfg.GetString("operation", "")
	if op != "read" && op != "write" {
		return nil, fmt.Errorf("memory node %s: operation must be read or write, got %q", id, op)
	}
	ns := cfg.GetString("namespace", "")
	if ns == "" {
		return nil, fmt.Errorf("memory node %s: namespace is required", id)
	}

	m := &Memory{
		id:         id,
		operation:  op,
		namespace:  ns,
		store:      store,
		memoryType: memory.Type(cfg.GetString("memory_type", "")),
	}
	if name := cfg.GetString("preset", ""); name != "" {
		preset, err := memory.PresetByName(name)
		if err != nil {
			return nil, fmt.Errorf("memory node %s: %w", id, err)
		}
		m.preset = preset
		m.hasPreset = true
	}
	if _, ok := cfg["limit"]; ok {
		m.limit = cfg.GetInt("limit", 0)
		m.hasLimit = true
	}
	if _, ok := cfg["threshold"]; ok {
		m.threshold = cfg.GetFloat("threshold", 0)
		m.hasThresh = true
	}
	if meta := cfg.GetMap("metadata"); meta != nil {
		m.metadata = make(map[string]string, len(meta))
		for k := range meta {
			m.metadata[k] = meta.GetString(k, "")
		}
	}
	return m, nil
}

// ID implements core.Agent.
func (m *Memory) ID() string { return m.id }

// Describe implements core.Agent.
func (m *Memory) Describe() core.AgentInfo {
	return core.AgentInfo{
		Type:           "memory",
		RequiresPrompt: true,
		Capabilities:   []string{"memory", m.operation},
	}
}

// Run implements core.Agent.
func (m *Memory) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	if m.operation == "write" {
		return m.write(ctx, in)
	}
	return m.read(ctx, in)
}

func (m *Memory) write(ctx context.Context, in core.RunInput) core.AgentOutput {
	content := in.Prompt
	if content == "" {
		content = in.Context.InputString()
	}
	if content == "" {
		return core.Failuref(core.KindAgentFailed, "memory node %s: nothing to store", m.id)
	}

	start := time.Now()
	id, err := m.store.Append(ctx, &memory.Entry{
		Namespace:  m.namespace,
		NodeID:     m.id,
		TraceID:    in.Context.TraceID,
		Content:    content,
		Category:   memory.CategoryStored,
		MemoryType: m.memoryType,
		Metadata:   m.metadata,
	})
	if err != nil {
		// Degraded writes are queued; surface the id with a partial
		// status instead of failing the node.
		if core.KindOf(err) == core.KindStoreDegraded {
			return core.AgentOutput{
				Result:  id,
				Status:  core.StatusPartial,
				Error:   &core.ErrorInfo{Kind: core.KindStoreDegraded, Message: err.Error()},
				Metrics: core.Metrics{Latency: time.Since(start)},
			}
		}
		return core.Failure(err)
	}
	return core.AgentOutput{
		Result:  id,
		Status:  core.StatusSuccess,
		Metrics: core.Metrics{Latency: time.Since(start)},
	}
}

func (m *Memory) read(ctx context.Context, in core.RunInput) core.AgentOutput {
	query := in.Prompt
	if query == "" {
		query = in.Context.InputString()
	}

	params := memory.SearchParams{Namespace: m.namespace, Category: memory.CategoryStored}
	if m.hasPreset {
		params = m.preset.ReadParams(m.namespace)
	}
	if m.hasLimit {
		params.Limit = m.limit
	}
	if m.hasThresh {
		params.SimilarityThreshold = m.threshold
	}
	params.ContextWindow = contextWindow(in.Context, 3)

	start := time.Now()
	results, err := m.store.Search(ctx, query, params)
	if err != nil {
		return core.Failure(err)
	}
	matches := make([]interface{}, len(results))
	for i, r := range results {
		matches[i] = map[string]interface{}{
			"content":  r.Entry.Content,
			"score":    r.Score,
			"metadata": r.Entry.Metadata,
		}
	}
	return core.AgentOutput{
		Result:  matches,
		Status:  core.StatusSuccess,
		Metrics: core.Metrics{Latency: time.Since(start)},
	}
}

// contextWindow collects the string results of up to n prior outputs to
// augment the read query.
func contextWindow(c *core.Context, n int) []string {
	var window []string
	for _, out := range c.PreviousOutputs {
		if !out.OK() {
			continue
		}
		if s := out.ResultString(); s != "" {
			window = append(window, s)
		}
		if len(window) >= n {
			break
		}
	}
	return window
}
