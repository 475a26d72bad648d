package workflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orkacore/orka-go/core"
)

// document mirrors the two top-level sections of a workflow file.
type document struct {
	Orchestrator orchestratorSection      `yaml:"orchestrator"`
	Agents       []map[string]interface{} `yaml:"agents"`
}

type orchestratorSection struct {
	ID           string                 `yaml:"id"`
	Strategy     string                 `yaml:"strategy"`
	Agents       []string               `yaml:"agents"`
	MemoryPreset string                 `yaml:"memory_preset"`
	MemoryConfig map[string]interface{} `yaml:"memory_config"`
}

// reservedKeys are agent-item fields the loader consumes itself; every
// other key lands in the node's Config.
var reservedKeys = map[string]bool{
	"id": true, "type": true, "prompt": true,
	"timeout": true, "node_budget": true, "on_failure": true, "max_concurrent": true,
	"children": true, "internal_workflow": true,
}

// LoadFile reads and parses a workflow document from disk.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Wrap(core.KindGraphInvalid, "read workflow file", err)
	}
	return Load(data)
}

// Load parses a workflow document. Parsing resolves structure only;
// reference and type checks happen in Validate.
func Load(data []byte) (*Graph, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, core.Wrap(core.KindGraphInvalid, "parse workflow yaml", err)
	}
	return buildGraph(doc)
}

func buildGraph(doc document) (*Graph, error) {
	strategy := Strategy(doc.Orchestrator.Strategy)
	if strategy == "" {
		strategy = StrategySequential
	}
	g := &Graph{
		ID:           doc.Orchestrator.ID,
		Strategy:     strategy,
		Sequence:     doc.Orchestrator.Agents,
		Nodes:        make(map[string]NodeSpec, len(doc.Agents)),
		MemoryPreset: doc.Orchestrator.MemoryPreset,
		MemoryConfig: core.Config(doc.Orchestrator.MemoryConfig),
	}
	for i, item := range doc.Agents {
		spec, err := buildNode(item, i)
		if err != nil {
			return nil, err
		}
		if err := addNode(g, spec); err != nil {
			return nil, err
		}
		// Inline failover children register as addressable nodes too.
		for _, child := range spec.Children {
			if err := addNode(g, child); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func addNode(g *Graph, spec NodeSpec) error {
	if _, exists := g.Nodes[spec.ID]; exists {
		return core.Errorf(core.KindGraphInvalid, "duplicate node id %q", spec.ID)
	}
	g.Nodes[spec.ID] = spec
	return nil
}

func buildNode(item map[string]interface{}, index int) (NodeSpec, error) {
	cfg := core.Config(item)
	spec := NodeSpec{
		ID:     cfg.GetString("id", ""),
		Type:   cfg.GetString("type", ""),
		Prompt: cfg.GetString("prompt", ""),
		Policy: core.Policy{
			AttemptTimeout: cfg.GetDuration("timeout", 0),
			NodeBudget:     cfg.GetDuration("node_budget", 0),
			OnFailure:      core.FailurePolicy(cfg.GetString("on_failure", string(core.FailureContinue))),
			MaxConcurrent:  cfg.GetInt("max_concurrent", 0),
		},
	}
	if spec.ID == "" {
		return spec, core.Errorf(core.KindGraphInvalid, "agent item %d has no id", index)
	}
	if spec.Type == "" {
		return spec, core.Errorf(core.KindGraphInvalid, "node %q has no type", spec.ID)
	}
	switch spec.Policy.OnFailure {
	case core.FailureContinue, core.FailureAbort:
	default:
		return spec, core.Errorf(core.KindGraphInvalid,
			"node %q: unknown on_failure %q", spec.ID, spec.Policy.OnFailure)
	}

	// Everything not consumed above is node config.
	spec.Config = make(core.Config, len(item))
	for k, v := range item {
		if !reservedKeys[k] {
			spec.Config[k] = v
		}
	}

	if rawChildren, ok := item["children"].([]interface{}); ok {
		for i, rc := range rawChildren {
			childMap, ok := rc.(map[string]interface{})
			if !ok {
				return spec, core.Errorf(core.KindGraphInvalid,
					"node %q: child %d is not a mapping", spec.ID, i)
			}
			child, err := buildNode(childMap, i)
			if err != nil {
				return spec, fmt.Errorf("node %q: %w", spec.ID, err)
			}
			if len(child.Children) > 0 || child.Internal != nil {
				return spec, core.Errorf(core.KindGraphInvalid,
					"node %q: child %q may not nest further structure", spec.ID, child.ID)
			}
			spec.Children = append(spec.Children, child)
		}
		// The failover itself needs the child order.
		ids := make([]interface{}, len(spec.Children))
		for i, c := range spec.Children {
			ids[i] = c.ID
		}
		spec.Config["children"] = ids
	}

	if rawInternal, ok := item["internal_workflow"].(map[string]interface{}); ok {
		internal, err := buildInternal(rawInternal)
		if err != nil {
			return spec, fmt.Errorf("node %q: internal_workflow: %w", spec.ID, err)
		}
		spec.Internal = internal
		delete(spec.Config, "internal_workflow")
	}
	return spec, nil
}

// buildInternal re-encodes the embedded document and loads it with the
// same path as a top-level one.
func buildInternal(raw map[string]interface{}) (*Graph, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, core.Wrap(core.KindGraphInvalid, "encode internal workflow", err)
	}
	return Load(data)
}
