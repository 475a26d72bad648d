package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orkacore/orka-go/core"
	"github.com/orkacore/orka-go/events"
	"github.com/orkacore/orka-go/memory"
	"github.com/orkacore/orka-go/render"
	"github.com/orkacore/orka-go/workflow"
)

// Engine drives one run of a workflow graph.
//
// It owns the scheduler queue and is the run context's single writer:
// agents receive snapshots and every output lands in the context through
// the serialized recordOutput path. Control-flow nodes steer the engine
// through the core.Dispatcher interface the engine itself implements.
//
// The engine never retries agent logic; retries belong to the agent or
// to a failover node wrapping it.
type Engine struct {
	graph    *workflow.Graph
	agents   map[string]core.Agent
	policies map[string]core.Policy

	renderer *render.Renderer
	store    memory.Store
	emitter  events.Emitter
	metrics  *Metrics
	cost     *CostTracker

	defaultAttempt time.Duration
	defaultBudget  time.Duration

	queue      *schedQueue
	branchPool chan struct{}
	limiters   map[string]chan struct{}

	mu       sync.Mutex
	runCtx   *core.Context
	executed []string
	step     int

	groupsMu sync.Mutex
	groups   map[string]*core.ForkGroupState

	abortMu  sync.Mutex
	abortErr error
}

// EngineConfig collects the engine's collaborators; the run coordinator
// assembles one per run.
type EngineConfig struct {
	Renderer *render.Renderer
	Store    memory.Store
	Emitter  events.Emitter
	Metrics  *Metrics
	Cost     *CostTracker

	// DefaultAttemptTimeout bounds a single node invocation when the
	// node's policy does not. Zero means 30s.
	DefaultAttemptTimeout time.Duration

	// DefaultNodeBudget bounds a node's total time. Zero means 2m.
	DefaultNodeBudget time.Duration

	// BranchWorkers bounds concurrently executing fork branches. Zero
	// means 8.
	BranchWorkers int
}

// NewEngine builds an engine over a validated graph and its constructed
// agents. runCtx is the context the engine will own and mutate.
func NewEngine(graph *workflow.Graph, agents map[string]core.Agent, policies map[string]core.Policy, runCtx *core.Context, cfg EngineConfig) *Engine {
	if cfg.Renderer == nil {
		cfg.Renderer = render.New()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = events.NewNull()
	}
	if cfg.DefaultAttemptTimeout <= 0 {
		cfg.DefaultAttemptTimeout = 30 * time.Second
	}
	if cfg.DefaultNodeBudget <= 0 {
		cfg.DefaultNodeBudget = 2 * time.Minute
	}
	if cfg.BranchWorkers <= 0 {
		cfg.BranchWorkers = 8
	}

	e := &Engine{
		graph:          graph,
		agents:         agents,
		policies:       policies,
		renderer:       cfg.Renderer,
		store:          cfg.Store,
		emitter:        cfg.Emitter,
		metrics:        cfg.Metrics,
		cost:           cfg.Cost,
		defaultAttempt: cfg.DefaultAttemptTimeout,
		defaultBudget:  cfg.DefaultNodeBudget,
		queue:          newSchedQueue(graph.Sequence),
		branchPool:     make(chan struct{}, cfg.BranchWorkers),
		limiters:       make(map[string]chan struct{}),
		runCtx:         runCtx,
		groups:         make(map[string]*core.ForkGroupState),
	}
	for id, p := range policies {
		if p.MaxConcurrent > 0 {
			e.limiters[id] = make(chan struct{}, p.MaxConcurrent)
		}
	}
	return e
}

// Execute runs the graph to completion, queue-driven for the sequential
// strategy and fanned out with an implicit join for the parallel one.
// Completed outputs stay recorded whatever the outcome.
func (e *Engine) Execute(ctx context.Context) error {
	if e.graph.Strategy == workflow.StrategyParallel {
		return e.executeParallelStrategy(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			return core.Wrap(core.KindCancelled, "run cancelled", err)
		}
		if err := e.aborted(); err != nil {
			return err
		}
		id, ok := e.queue.pop()
		if !ok {
			return e.aborted()
		}
		e.metrics.observeQueueDepth(e.queue.depth())
		if _, err := e.executeNode(ctx, id, nil); err != nil {
			return err
		}
	}
}

// executeParallelStrategy runs every top-level id concurrently and joins
// implicitly at the end.
func (e *Engine) executeParallelStrategy(ctx context.Context) error {
	branches := make([][]string, len(e.graph.Sequence))
	for i, id := range e.graph.Sequence {
		branches[i] = []string{id}
	}
	group, err := e.ExecuteBranches(ctx, e.graph.ID+"-"+uuid.NewString()[:8], branches, true, false)
	if err != nil {
		return err
	}
	select {
	case <-group.Done:
	case <-ctx.Done():
		return core.Wrap(core.KindCancelled, "run cancelled", ctx.Err())
	}
	return e.aborted()
}

// executeNode runs one node: render, limit, invoke, record, log.
// local, when non-nil, is a branch-scoped context that isolates sibling
// branches until their join. The returned error aborts the run.
func (e *Engine) executeNode(ctx context.Context, id string, local *core.Context) (core.AgentOutput, error) {
	agent, ok := e.agents[id]
	if !ok {
		out := core.Failuref(core.KindGraphInvalid, "node %q not constructed", id)
		e.recordOutput(id, out, local)
		return out, core.Errorf(core.KindGraphInvalid, "node %q not constructed", id)
	}
	spec := e.graph.Nodes[id]

	snap := e.snapshotFrom(local)
	prompt := ""
	if spec.Prompt != "" {
		rendered, err := e.renderer.Render(spec.Prompt, snap)
		if err != nil {
			out := core.Failure(err)
			e.recordOutput(id, out, local)
			e.emitNode(events.MsgError, id, map[string]interface{}{"error": err.Error()})
			return out, err // template errors abort the run
		}
		prompt = rendered
	}

	// Per-node concurrency limiter, engine-enforced.
	if limiter, ok := e.limiters[id]; ok {
		select {
		case limiter <- struct{}{}:
			defer func() { <-limiter }()
		case <-ctx.Done():
			out := core.Failure(core.Wrap(core.KindCancelled, "limiter wait", ctx.Err()))
			e.recordOutput(id, out, local)
			return out, core.Wrap(core.KindCancelled, "run cancelled", ctx.Err())
		}
	}

	policy := e.policies[id]
	budget := policy.NodeBudget
	if budget <= 0 {
		budget = e.defaultBudget
	}
	attempt := policy.AttemptTimeout
	if attempt <= 0 {
		attempt = e.defaultAttempt
	}
	if attempt > budget {
		attempt = budget
	}
	nodeCtx, cancel := context.WithTimeout(ctx, attempt)
	defer cancel()

	e.metrics.agentStarted()
	e.emitNode(events.MsgNodeStart, id, nil)
	start := time.Now()

	out := e.invoke(nodeCtx, agent, core.RunInput{Context: snap, Prompt: prompt, Dispatcher: e})

	elapsed := time.Since(start)
	e.metrics.agentFinished()
	if out.Metrics.Latency == 0 {
		out.Metrics.Latency = elapsed
	}
	if errors.Is(nodeCtx.Err(), context.DeadlineExceeded) && out.Status == core.StatusFailed {
		out.Error = &core.ErrorInfo{
			Kind:    core.KindTimeout,
			Message: fmt.Sprintf("node %s exceeded its %v attempt timeout", id, attempt),
		}
	}
	if e.cost != nil && out.Trace != nil && out.Trace.Model != "" {
		out.Metrics.CostUSD = e.cost.Track(out.Trace.Model,
			out.Metrics.PromptTokens, out.Metrics.CompletionTokens, out.Metrics.CostUSD)
	}

	e.recordOutput(id, out, local)
	e.metrics.observeStep(id, string(out.Status), elapsed)
	e.logStep(ctx, id, out)

	meta := map[string]interface{}{
		"status":      string(out.Status),
		"duration_ms": elapsed.Milliseconds(),
	}
	if out.Error != nil {
		meta["error"] = out.Error.Message
	}
	e.emitNode(events.MsgNodeEnd, id, meta)

	if out.Status == core.StatusFailed {
		kind := core.KindAgentFailed
		if out.Error != nil {
			kind = out.Error.Kind
		}
		e.metrics.countFailure(id, string(kind))
		if policy.OnFailure == core.FailureAbort {
			return out, core.Errorf(kind, "node %s failed with abort policy: %s", id, errMessage(out))
		}
	}
	return out, nil
}

// invoke calls the agent, converting panics into failed outputs so one
// misbehaving node cannot take the run down.
func (e *Engine) invoke(ctx context.Context, agent core.Agent, in core.RunInput) (out core.AgentOutput) {
	defer func() {
		if r := recover(); r != nil {
			out = core.Failuref(core.KindAgentFailed, "agent %s panicked: %v", agent.ID(), r)
		}
	}()
	return agent.Run(ctx, in)
}

// snapshotFrom snapshots the branch-local context when present, the
// shared run context otherwise.
func (e *Engine) snapshotFrom(local *core.Context) *core.Context {
	if local != nil {
		return local.Snapshot()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx.Snapshot()
}

// recordOutput is the serialized context write: one output per node id.
// Branch-local contexts receive the write too so later steps of the same
// branch observe it before the join publishes it.
func (e *Engine) recordOutput(id string, out core.AgentOutput, local *core.Context) {
	e.mu.Lock()
	e.runCtx.PreviousOutputs[id] = out
	e.executed = append(e.executed, id)
	e.step++
	e.mu.Unlock()

	if local != nil {
		local.PreviousOutputs[id] = out
	}
}

// logStep writes the observability record for one step: a log-category
// memory entry, never retrievable by reader nodes.
func (e *Engine) logStep(ctx context.Context, id string, out core.AgentOutput) {
	if e.store == nil {
		return
	}
	content := fmt.Sprintf("agent %s finished with status %s", id, out.Status)
	if out.Error != nil {
		content += ": " + out.Error.Message
	}
	entry := &memory.Entry{
		Namespace:  "logs:" + e.graph.ID,
		NodeID:     id,
		TraceID:    e.traceID(),
		Content:    content,
		Category:   memory.CategoryLog,
		MemoryType: memory.TypeShortTerm,
	}
	// Log writes are best-effort; a degraded store never fails a step.
	if _, err := e.store.Append(ctx, entry); err == nil {
		e.metrics.countLogWrite()
	}
}

func (e *Engine) traceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx.TraceID
}

func (e *Engine) currentStep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.step
}

func (e *Engine) emitNode(msg, nodeID string, meta map[string]interface{}) {
	e.emitter.Emit(events.Event{
		TraceID: e.traceID(),
		Step:    e.currentStep(),
		NodeID:  nodeID,
		Msg:     msg,
		Meta:    meta,
	})
}

func (e *Engine) setAborted(err error) {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	if e.abortErr == nil {
		e.abortErr = err
	}
}

func (e *Engine) aborted() error {
	e.abortMu.Lock()
	defer e.abortMu.Unlock()
	return e.abortErr
}

// Executed returns the node ids in completion order.
func (e *Engine) Executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.executed))
	copy(out, e.executed)
	return out
}

// --- core.Dispatcher ---

// Prepend implements core.Dispatcher.
func (e *Engine) Prepend(ids ...string) {
	e.queue.prepend(ids)
	e.metrics.observeQueueDepth(e.queue.depth())
}

// Agent implements core.Dispatcher.
func (e *Engine) Agent(id string) (core.Agent, bool) {
	a, ok := e.agents[id]
	return a, ok
}

// Output implements core.Dispatcher.
func (e *Engine) Output(id string) (core.AgentOutput, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, ok := e.runCtx.PreviousOutputs[id]
	return out, ok
}

// Upcoming implements core.Dispatcher.
func (e *Engine) Upcoming() []string { return e.queue.snapshot() }

// Emit implements core.Dispatcher.
func (e *Engine) Emit(msg, nodeID string, meta map[string]interface{}) {
	e.emitNode(msg, nodeID, meta)
}

// RunNode implements core.Dispatcher: an inline invocation against the
// live context, used by failover children and committed scout paths.
func (e *Engine) RunNode(ctx context.Context, id string) core.AgentOutput {
	out, err := e.executeNode(ctx, id, nil)
	if err != nil {
		e.setAborted(err)
	}
	return out
}

// ExecuteBranches implements core.Dispatcher. It opens a fork group,
// snapshots the context once, and runs every branch against isolated
// copies: across branches no output is visible until the join; within a
// branch each step observes its predecessors.
func (e *Engine) ExecuteBranches(ctx context.Context, groupID string, branches [][]string, parallel, requireAll bool) (*core.ForkGroupState, error) {
	if len(branches) == 0 {
		return nil, core.Errorf(core.KindGraphInvalid, "fork group %s has no branches", groupID)
	}
	leaves := make([]string, 0, len(branches))
	for _, b := range branches {
		leaves = append(leaves, b[len(b)-1])
	}
	done := make(chan struct{})
	group := &core.ForkGroupState{
		GroupID:    groupID,
		Leaves:     leaves,
		RequireAll: requireAll,
		Done:       done,
	}
	e.registerGroup(group)

	base := e.snapshotFrom(nil)
	base.ForkGroup = groupID

	runBranch := func(branch []string) {
		local := base.Snapshot()
		for _, id := range branch {
			if ctx.Err() != nil {
				e.recordOutput(id, core.Skipped("cancelled before start"), local)
				continue
			}
			out, err := e.executeNode(ctx, id, local)
			if err != nil {
				e.setAborted(err)
				return
			}
			if out.Status == core.StatusFailed {
				// Later steps of a failed branch are skipped; the join
				// decides what the failure means for the group.
				e.skipRest(branch, id, local)
				return
			}
		}
	}

	if !parallel {
		for _, branch := range branches {
			runBranch(branch)
		}
		close(done)
		return group, nil
	}

	var wg sync.WaitGroup
	for _, branch := range branches {
		wg.Add(1)
		go func(b []string) {
			defer wg.Done()
			e.branchPool <- struct{}{}
			defer func() { <-e.branchPool }()
			runBranch(b)
		}(branch)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	return group, nil
}

// skipRest records skip markers for the branch steps after a failure.
func (e *Engine) skipRest(branch []string, failedID string, local *core.Context) {
	past := false
	for _, id := range branch {
		if id == failedID {
			past = true
			continue
		}
		if past {
			e.recordOutput(id, core.Skipped("upstream branch step failed"), local)
		}
	}
}

// ForkGroup implements core.Dispatcher. Groups resolve by their fresh id
// or by the fork node id that opened them.
func (e *Engine) ForkGroup(groupID string) (*core.ForkGroupState, bool) {
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	g, ok := e.groups[groupID]
	return g, ok
}

func (e *Engine) registerGroup(g *core.ForkGroupState) {
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	e.groups[g.GroupID] = g
	// Alias under the opening fork's node id: group ids are minted as
	// "<fork-id>-<suffix>".
	if i := strings.LastIndex(g.GroupID, "-"); i > 0 {
		e.groups[g.GroupID[:i]] = g
	}
}

func errMessage(out core.AgentOutput) string {
	if out.Error != nil {
		return out.Error.Message
	}
	return "unknown error"
}
