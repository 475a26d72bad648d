package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orkacore/orka-go/core"
	"github.com/orkacore/orka-go/events"
	"github.com/orkacore/orka-go/memory"
	"github.com/orkacore/orka-go/nodes"
	"github.com/orkacore/orka-go/render"
	"github.com/orkacore/orka-go/workflow"
)

// Coordinator assembles everything a run needs — validated graph,
// constructed agents, engine, context, trace id — and owns the run
// lifecycle events and the final report.
type Coordinator struct {
	registry   *core.Registry
	store      memory.Store
	emitter    events.Emitter
	renderer   *render.Renderer
	metrics    *Metrics
	engineCfg  EngineConfig
	runTimeout time.Duration
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithStore attaches the run's memory store.
func WithStore(s memory.Store) CoordinatorOption {
	return func(c *Coordinator) { c.store = s }
}

// WithEmitter attaches the observability emitter.
func WithEmitter(e events.Emitter) CoordinatorOption {
	return func(c *Coordinator) { c.emitter = e }
}

// WithRenderer overrides the prompt renderer.
func WithRenderer(r *render.Renderer) CoordinatorOption {
	return func(c *Coordinator) { c.renderer = r }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRunTimeout bounds a whole run. Zero means no run-level timeout.
func WithRunTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.runTimeout = d }
}

// WithEngineConfig overrides the engine defaults (timeouts, workers).
func WithEngineConfig(cfg EngineConfig) CoordinatorOption {
	return func(c *Coordinator) { c.engineCfg = cfg }
}

// NewCoordinator creates a coordinator over a registry that already
// carries the leaf-agent and control-flow factories.
func NewCoordinator(registry *core.Registry, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		registry: registry,
		emitter:  events.NewNull(),
		renderer: render.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run validates the graph, constructs its agents, executes it and
// returns the report. The report materializes even when the run fails;
// only a validation failure returns a nil report.
func (c *Coordinator) Run(ctx context.Context, g *workflow.Graph, input interface{}) (*Report, error) {
	if err := workflow.Validate(g, c.registry); err != nil {
		return nil, err
	}
	agents, policies, err := c.buildAgents(g)
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	runCtx := core.NewContext(traceID, input)
	cost := NewCostTracker()

	cfg := c.engineCfg
	cfg.Renderer = c.renderer
	cfg.Store = c.store
	cfg.Emitter = c.emitter
	cfg.Metrics = c.metrics
	cfg.Cost = cost
	engine := NewEngine(g, agents, policies, runCtx, cfg)

	if c.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.runTimeout)
		defer cancel()
	}
	// Nested loop engines pick the tracker up from the context so their
	// token usage lands in this run's totals.
	ctx = context.WithValue(ctx, costTrackerKey, cost)

	c.emitter.Emit(events.Event{
		TraceID: traceID,
		Msg:     events.MsgRunStart,
		Meta:    map[string]interface{}{"workflow": g.ID, "strategy": string(g.Strategy)},
	})
	start := time.Now()
	runErr := engine.Execute(ctx)
	duration := time.Since(start)

	report := buildReport(runCtx, engine.Executed(), cost, duration, runErr)
	c.emitter.Emit(events.Event{
		TraceID: traceID,
		Msg:     events.MsgRunEnd,
		Meta: map[string]interface{}{
			"status":      report.Status,
			"duration_ms": duration.Milliseconds(),
		},
	})
	if c.metrics != nil {
		c.metrics.countRun(report.Status)
	}
	return report, runErr
}

// buildAgents constructs every node of the graph, including inline
// failover children and nested loop workflows. Construction failures
// accumulate into one GraphInvalid error.
func (c *Coordinator) buildAgents(g *workflow.Graph) (map[string]core.Agent, map[string]core.Policy, error) {
	agents := make(map[string]core.Agent, len(g.Nodes))
	policies := make(map[string]core.Policy, len(g.Nodes))
	var reasons []string

	for id, spec := range g.Nodes {
		agent, err := c.buildNode(spec)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("node %q: %v", id, err))
			continue
		}
		agents[id] = agent
		policies[id] = spec.Policy
	}
	if len(reasons) > 0 {
		return nil, nil, &core.GraphInvalidError{Reasons: reasons}
	}
	return agents, policies, nil
}

func (c *Coordinator) buildNode(spec workflow.NodeSpec) (core.Agent, error) {
	switch spec.Type {
	case "failover":
		return nodes.NewFailover(spec.ID, spec.Config.GetStringSlice("children"))
	case "loop":
		if spec.Internal == nil {
			return nil, fmt.Errorf("loop has no internal workflow")
		}
		if err := workflow.Validate(spec.Internal, c.registry); err != nil {
			return nil, err
		}
		sub, err := c.newSubRunner(spec.Internal)
		if err != nil {
			return nil, err
		}
		return nodes.NewLoop(spec.ID, spec.Config, sub, spec.Internal.Sequence, c.renderer)
	default:
		return c.registry.New(spec.Type, spec.ID, spec.Config)
	}
}

// newSubRunner binds a nested engine factory to a loop's internal graph.
// Agents are constructed once; each iteration gets a fresh engine and
// queue over them.
func (c *Coordinator) newSubRunner(g *workflow.Graph) (core.SubRunner, error) {
	agents, policies, err := c.buildAgents(g)
	if err != nil {
		return nil, err
	}
	return &subRunner{coordinator: c, graph: g, agents: agents, policies: policies}, nil
}

type subRunner struct {
	coordinator *Coordinator
	graph       *workflow.Graph
	agents      map[string]core.Agent
	policies    map[string]core.Policy
}

// contextKey is a private type for run-scoped context values.
type contextKey string

// costTrackerKey carries the run's cost tracker to nested engines.
const costTrackerKey contextKey = "orka.cost_tracker"

// RunNested implements core.SubRunner. The nested engine shares the
// parent's store, emitter, metrics and cost tracker but owns an
// isolated queue and writes only into the iteration context it is
// handed.
func (s *subRunner) RunNested(ctx context.Context, base *core.Context) (*core.Context, error) {
	cfg := s.coordinator.engineCfg
	cfg.Renderer = s.coordinator.renderer
	cfg.Store = s.coordinator.store
	cfg.Emitter = s.coordinator.emitter
	cfg.Metrics = s.coordinator.metrics
	if tracker, ok := ctx.Value(costTrackerKey).(*CostTracker); ok {
		cfg.Cost = tracker
	}
	engine := NewEngine(s.graph, s.agents, s.policies, base, cfg)
	if err := engine.Execute(ctx); err != nil {
		return nil, err
	}
	return base, nil
}
