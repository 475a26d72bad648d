package run

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/orkacore/orka-go/agents"
	"github.com/orkacore/orka-go/core"
	"github.com/orkacore/orka-go/events"
	"github.com/orkacore/orka-go/memory"
	"github.com/orkacore/orka-go/nodes"
	"github.com/orkacore/orka-go/workflow"
)

// testHarness bundles a registry, store and scripted providers for
// end-to-end engine tests.
type testHarness struct {
	registry  *core.Registry
	store     *memory.InMemoryStore
	providers map[string]*agents.MockProvider
	emitter   *events.Buffered
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		registry:  core.NewRegistry(),
		store:     memory.NewInMemoryStore(memory.RetentionPolicy{}),
		providers: make(map[string]*agents.MockProvider),
		emitter:   events.NewBuffered(),
	}
	t.Cleanup(func() { _ = h.store.Close() })
	nodes.Register(h.registry, h.store)
	agents.Register(h.registry, agents.Dependencies{
		LLM: func(name string) (agents.LLMProvider, error) {
			p, ok := h.providers[name]
			if !ok {
				p = &agents.MockProvider{}
				h.providers[name] = p
			}
			return p, nil
		},
		Search: &agents.MockSearch{},
	})
	return h
}

func (h *testHarness) provider(name string, script ...agents.Generation) {
	h.providers[name] = &agents.MockProvider{Script: script}
}

func (h *testHarness) coordinator(opts ...CoordinatorOption) *Coordinator {
	base := []CoordinatorOption{WithStore(h.store), WithEmitter(h.emitter)}
	return NewCoordinator(h.registry, append(base, opts...)...)
}

func (h *testHarness) run(t *testing.T, doc string, input interface{}) (*Report, error) {
	t.Helper()
	g, err := workflow.Load([]byte(doc))
	if err != nil {
		t.Fatalf("load workflow: %v", err)
	}
	return h.coordinator().Run(context.Background(), g, input)
}

func TestRun_SequentialQA(t *testing.T) {
	h := newHarness(t)
	h.provider("mock", agents.Generation{Text: "4", PromptTokens: 12, CompletionTokens: 1, Model: "mock-1"})

	report, err := h.run(t, `
orchestrator:
  id: qa
  strategy: sequential
  agents: [answer]
agents:
  - id: answer
    type: llm
    provider: mock
    prompt: "{{ .input }}"
`, "What is 2+2?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Status != "success" {
		t.Errorf("status = %q", report.Status)
	}
	if report.Outputs["answer"].Result != "4" {
		t.Errorf("answer = %v", report.Outputs["answer"].Result)
	}
	if report.FinalResult != "4" {
		t.Errorf("final result = %v", report.FinalResult)
	}
	if report.TotalPromptTokens != 12 || report.TotalCompletionTokens != 1 {
		t.Errorf("token totals = %d / %d", report.TotalPromptTokens, report.TotalCompletionTokens)
	}
	if got := h.providers["mock"].Prompts(); got[0] != "What is 2+2?" {
		t.Errorf("rendered prompt = %q", got[0])
	}
}

const routingWorkflow = `
orchestrator:
  id: branching
  strategy: sequential
  agents: [classify, route]
agents:
  - id: classify
    type: llm
    provider: mock
    prompt: "Classify: {{ .input }}"
  - id: route
    type: router
    decision_key: classify.result
    routing_map:
      yes: [A]
      no: [B]
  - id: A
    type: builder
    prompt: "went-A"
  - id: B
    type: builder
    prompt: "went-B"
`

func TestRun_RouterBranching(t *testing.T) {
	h := newHarness(t)
	h.provider("mock", agents.Generation{Text: "yes"})

	report, err := h.run(t, routingWorkflow, "is this a question?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"classify", "route", "A"} {
		if _, ok := report.Outputs[want]; !ok {
			t.Errorf("missing output for %q", want)
		}
	}
	if _, ran := report.Outputs["B"]; ran {
		t.Error("unselected branch B executed")
	}
	if report.Outputs["A"].Result != "went-A" {
		t.Errorf("A result = %v", report.Outputs["A"].Result)
	}
}

func TestRun_RouterUnknownFailsRun(t *testing.T) {
	h := newHarness(t)
	h.provider("mock", agents.Generation{Text: "maybe"})

	g, err := workflow.Load([]byte(strings.Replace(routingWorkflow,
		"type: router", "type: router\n    on_failure: abort", 1)))
	if err != nil {
		t.Fatal(err)
	}
	report, runErr := h.coordinator().Run(context.Background(), g, "input")
	if runErr == nil {
		t.Fatal("unroutable decision with abort policy did not fail the run")
	}
	if report == nil {
		t.Fatal("report must materialize on failure")
	}
	if report.Status != "failed" {
		t.Errorf("status = %q", report.Status)
	}
	if out := report.Outputs["route"]; out.Error == nil || out.Error.Kind != core.KindRouteUnknown {
		t.Errorf("route output = %+v", out)
	}
}

func TestRun_ForkJoinMerge(t *testing.T) {
	h := newHarness(t)

	report, err := h.run(t, `
orchestrator:
  id: fanout
  strategy: sequential
  agents: [split, merge]
agents:
  - id: split
    type: fork
    mode: parallel
    targets: [[agent1], [agent2]]
  - id: agent1
    type: builder
    prompt: "X"
  - id: agent2
    type: builder
    prompt: "Y"
  - id: merge
    type: join
    group: split
    timeout: 5
`, "go")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	merged, ok := report.Outputs["merge"].Result.(map[string]interface{})
	if !ok {
		t.Fatalf("join result = %#v", report.Outputs["merge"].Result)
	}
	if merged["agent1"] != "X" || merged["agent2"] != "Y" {
		t.Errorf("merged = %v", merged)
	}
}

func TestRun_ForkIsolationUntilJoin(t *testing.T) {
	h := newHarness(t)

	// Each branch tries to read the sibling's output; isolation means
	// the reference renders empty.
	report, err := h.run(t, `
orchestrator:
  id: isolation
  strategy: sequential
  agents: [split, merge]
agents:
  - id: split
    type: fork
    mode: parallel
    targets: [[agent1], [agent2]]
  - id: agent1
    type: builder
    prompt: "a1[{{ .previous_outputs.agent2.result }}]"
  - id: agent2
    type: builder
    prompt: "a2[{{ .previous_outputs.agent1.result }}]"
  - id: merge
    type: join
    group: split
    timeout: 5
`, "go")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := report.Outputs["agent1"].Result; got != "a1[]" {
		t.Errorf("agent1 observed sibling before join: %v", got)
	}
	if got := report.Outputs["agent2"].Result; got != "a2[]" {
		t.Errorf("agent2 observed sibling before join: %v", got)
	}
}

func TestRun_LoopWithScoring(t *testing.T) {
	h := newHarness(t)
	h.provider("mock",
		agents.Generation{Text: "draft SCORE: 0.4"},
		agents.Generation{Text: "better SCORE: 0.9"},
	)

	report, err := h.run(t, `
orchestrator:
  id: iterate
  strategy: sequential
  agents: [improve]
agents:
  - id: improve
    type: loop
    max_loops: 5
    score_threshold: 0.85
    score_extraction:
      pattern: "SCORE: ([0-9.]+)"
    internal_workflow:
      orchestrator:
        id: iterate-inner
        strategy: sequential
        agents: [draft]
      agents:
        - id: draft
          type: llm
          provider: mock
          prompt: "Attempt {{ .loop_number }}: {{ .input }}"
`, "write a poem")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	out := report.Outputs["improve"]
	if out.Status != core.StatusSuccess {
		t.Fatalf("loop status = %v", out.Status)
	}
	result := out.Result.(map[string]interface{})
	if result["loops_completed"] != 2 {
		t.Errorf("loops_completed = %v", result["loops_completed"])
	}
	if result["final_score"] != 0.9 {
		t.Errorf("final_score = %v", result["final_score"])
	}
	if past := result["past_loops"].([]map[string]interface{}); len(past) != 2 {
		t.Errorf("past_loops length = %d", len(past))
	}

	// The second iteration's prompt carries the incremented loop number.
	prompts := h.providers["mock"].Prompts()
	if len(prompts) != 2 || !strings.HasPrefix(prompts[1], "Attempt 2:") {
		t.Errorf("prompts = %v", prompts)
	}
}

func TestRun_FailoverFallback(t *testing.T) {
	h := newHarness(t)
	h.providers["bad"] = &agents.MockProvider{Err: errors.New("provider down")}
	h.provider("good", agents.Generation{Text: "ok"})

	report, err := h.run(t, `
orchestrator:
  id: resilient
  strategy: sequential
  agents: [fo]
agents:
  - id: fo
    type: failover
    children:
      - id: primary
        type: llm
        provider: bad
        prompt: "{{ .input }}"
      - id: secondary
        type: llm
        provider: good
        prompt: "{{ .input }}"
`, "hello")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Outputs["fo"].Result != "ok" || report.Outputs["fo"].Status != core.StatusSuccess {
		t.Errorf("failover output = %+v", report.Outputs["fo"])
	}
	if report.Outputs["primary"].Status != core.StatusFailed {
		t.Errorf("primary status = %v", report.Outputs["primary"].Status)
	}
	if report.Outputs["secondary"].Status != core.StatusSuccess {
		t.Errorf("secondary status = %v", report.Outputs["secondary"].Status)
	}
	// A failed child under a recovering failover is not a run failure.
	if report.Status != "partial" && report.Status != "success" {
		t.Errorf("report status = %q", report.Status)
	}
}

func TestRun_MemoryRetrieval(t *testing.T) {
	h := newHarness(t)
	h.store = memory.NewInMemoryStore(memory.RetentionPolicy{}, memory.WithEmbedder(localStub{}))
	t.Cleanup(func() { _ = h.store.Close() })
	// Re-register the memory node factory against the embedding store.
	nodes.Register(h.registry, h.store)

	report, err := h.run(t, `
orchestrator:
  id: memflow
  strategy: sequential
  agents: [remember, recall]
agents:
  - id: remember
    type: memory
    operation: write
    namespace: facts
    prompt: "capital of France is Paris"
  - id: recall
    type: memory
    operation: read
    namespace: facts
    threshold: 0.6
    prompt: "France capital"
`, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	matches, ok := report.Outputs["recall"].Result.([]interface{})
	if !ok || len(matches) == 0 {
		t.Fatalf("recall result = %#v", report.Outputs["recall"].Result)
	}
	content := matches[0].(map[string]interface{})["content"].(string)
	if !strings.Contains(content, "Paris") {
		t.Errorf("retrieved %q", content)
	}
}

// localStub adapts a tiny deterministic embedder for retrieval tests.
type localStub struct{}

func (localStub) Dim() int { return 64 }

func (localStub) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range tok {
			h = h*131 + int(r)
		}
		if h < 0 {
			h = -h
		}
		vec[h%64]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		for i := range vec {
			vec[i] /= float32(norm) // not unit norm; cosine normalizes
		}
	}
	return vec, nil
}

func TestRun_EngineLogsSteps(t *testing.T) {
	h := newHarness(t)
	h.provider("mock", agents.Generation{Text: "done"})

	report, err := h.run(t, `
orchestrator:
  id: logged
  strategy: sequential
  agents: [answer]
agents:
  - id: answer
    type: llm
    provider: mock
    prompt: "{{ .input }}"
`, "q")
	if err != nil {
		t.Fatal(err)
	}

	// Log entries exist in the log category...
	logs, err := h.store.Search(context.Background(), "agent answer finished",
		memory.SearchParams{Namespace: "logs:logged", Category: memory.CategoryLog, SimilarityThreshold: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) == 0 {
		t.Error("engine wrote no step log entries")
	}
	for _, l := range logs {
		if l.Entry.TraceID != report.TraceID {
			t.Errorf("log entry carries trace %q, want %q", l.Entry.TraceID, report.TraceID)
		}
	}

	// ...and never surface through reader defaults.
	readable, err := h.store.Search(context.Background(), "agent answer finished",
		memory.SearchParams{Namespace: "logs:logged", SimilarityThreshold: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(readable) != 0 {
		t.Error("log entries leaked into stored-category search")
	}
}

func TestRun_ParallelStrategyImplicitJoin(t *testing.T) {
	h := newHarness(t)

	report, err := h.run(t, `
orchestrator:
  id: par
  strategy: parallel
  agents: [a, b, c]
agents:
  - id: a
    type: builder
    prompt: "ra"
  - id: b
    type: builder
    prompt: "rb"
  - id: c
    type: builder
    prompt: "rc"
`, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if out, ok := report.Outputs[id]; !ok || !out.OK() {
			t.Errorf("parallel node %s output = %+v", id, out)
		}
	}
	if report.Status != "success" {
		t.Errorf("status = %q", report.Status)
	}
}

func TestRun_ContinuePolicyRecordsFailureAndProceeds(t *testing.T) {
	h := newHarness(t)
	h.providers["bad"] = &agents.MockProvider{Err: errors.New("boom")}

	report, err := h.run(t, `
orchestrator:
  id: tolerant
  strategy: sequential
  agents: [flaky, after]
agents:
  - id: flaky
    type: llm
    provider: bad
    prompt: "p"
  - id: after
    type: builder
    prompt: "still ran"
`, "")
	if err != nil {
		t.Fatalf("continue policy aborted the run: %v", err)
	}
	if report.Status != "partial" {
		t.Errorf("status = %q", report.Status)
	}
	if report.Outputs["after"].Result != "still ran" {
		t.Error("downstream node did not run after tolerated failure")
	}
	if len(report.Errors) == 0 {
		t.Error("failure missing from error summary")
	}
}

func TestRun_AbortPolicyStopsRun(t *testing.T) {
	h := newHarness(t)
	h.providers["bad"] = &agents.MockProvider{Err: errors.New("boom")}

	g, err := workflow.Load([]byte(`
orchestrator:
  id: strict
  strategy: sequential
  agents: [flaky, after]
agents:
  - id: flaky
    type: llm
    provider: bad
    prompt: "p"
    on_failure: abort
  - id: after
    type: builder
    prompt: "never"
`))
	if err != nil {
		t.Fatal(err)
	}
	report, runErr := h.coordinator().Run(context.Background(), g, "")
	if runErr == nil {
		t.Fatal("abort policy did not stop the run")
	}
	if _, ran := report.Outputs["after"]; ran {
		t.Error("node after abort still executed")
	}
	if report.Status != "failed" {
		t.Errorf("status = %q", report.Status)
	}
}

// slowProvider blocks until its context dies.
type slowProvider struct{}

func (slowProvider) Generate(ctx context.Context, _ string, _ agents.GenerateParams) (agents.Generation, error) {
	<-ctx.Done()
	return agents.Generation{}, ctx.Err()
}

func TestRun_AttemptTimeoutSurfacesAsTimeoutKind(t *testing.T) {
	h := newHarness(t)

	reg := core.NewRegistry()
	nodes.Register(reg, h.store)
	agents.Register(reg, agents.Dependencies{
		LLM: func(string) (agents.LLMProvider, error) { return slowProvider{}, nil },
	})

	g, err := workflow.Load([]byte(`
orchestrator:
  id: slow
  strategy: sequential
  agents: [stuck]
agents:
  - id: stuck
    type: llm
    prompt: "p"
    timeout: 0.05
`))
	if err != nil {
		t.Fatal(err)
	}
	coord := NewCoordinator(reg, WithStore(h.store))
	start := time.Now()
	report, runErr := coord.Run(context.Background(), g, "")
	if runErr != nil {
		t.Fatalf("continue policy should tolerate the timeout: %v", runErr)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout not enforced")
	}
	out := report.Outputs["stuck"]
	if out.Status != core.StatusFailed || out.Error.Kind != core.KindTimeout {
		t.Errorf("output = %+v", out)
	}
}

func TestRun_CancellationPreservesCompletedOutputs(t *testing.T) {
	h := newHarness(t)

	reg := core.NewRegistry()
	nodes.Register(reg, h.store)
	agents.Register(reg, agents.Dependencies{
		LLM: func(name string) (agents.LLMProvider, error) {
			if name == "slow" {
				return slowProvider{}, nil
			}
			return &agents.MockProvider{Script: []agents.Generation{{Text: "first"}}}, nil
		},
	})

	g, err := workflow.Load([]byte(`
orchestrator:
  id: cancelled
  strategy: sequential
  agents: [quick, stuck]
agents:
  - id: quick
    type: llm
    provider: fast
    prompt: "p"
  - id: stuck
    type: llm
    provider: slow
    prompt: "p"
`))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	report, runErr := NewCoordinator(reg, WithStore(h.store)).Run(ctx, g, "")
	if runErr == nil {
		t.Fatal("cancelled run reported success")
	}
	if report.Outputs["quick"].Result != "first" {
		t.Error("completed output lost on cancellation")
	}
}

func TestRun_DeterministicAcrossRuns(t *testing.T) {
	results := make([]map[string]core.AgentOutput, 2)
	for i := range results {
		h := newHarness(t)
		h.provider("mock",
			agents.Generation{Text: "yes"},
			agents.Generation{Text: "final"},
		)
		report, err := h.run(t, `
orchestrator:
  id: deterministic
  strategy: sequential
  agents: [classify, route]
agents:
  - id: classify
    type: llm
    provider: mock
    prompt: "{{ .input }}"
  - id: route
    type: router
    decision_key: classify.result
    routing_map:
      yes: [A]
      no: [B]
  - id: A
    type: llm
    provider: mock
    prompt: "a"
  - id: B
    type: llm
    provider: mock
    prompt: "b"
`, "same input")
		if err != nil {
			t.Fatal(err)
		}
		results[i] = report.Outputs
	}

	if len(results[0]) != len(results[1]) {
		t.Fatalf("output sets differ: %d vs %d", len(results[0]), len(results[1]))
	}
	for id, out := range results[0] {
		other, ok := results[1][id]
		if !ok {
			t.Errorf("second run missing %q", id)
			continue
		}
		if out.ResultString() != other.ResultString() || out.Status != other.Status {
			t.Errorf("node %q differs: %v/%v vs %v/%v",
				id, out.Result, out.Status, other.Result, other.Status)
		}
	}
}

func TestRun_NodeRunsOnceWhenRoutedAndStatic(t *testing.T) {
	h := newHarness(t)
	h.provider("mock", agents.Generation{Text: "yes"})

	// "A" is both the routed target and a later static entry; the
	// deduplicating prepend runs it exactly once.
	report, err := h.run(t, `
orchestrator:
  id: dedup
  strategy: sequential
  agents: [classify, route, A]
agents:
  - id: classify
    type: llm
    provider: mock
    prompt: "{{ .input }}"
  - id: route
    type: router
    decision_key: classify.result
    routing_map:
      yes: [A]
  - id: A
    type: builder
    prompt: "ran"
`, "q")
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	// Executed order is not exported on the report; count via events.
	for _, e := range h.emitter.HistoryWithFilter(report.TraceID, events.Filter{NodeID: "A", Msg: events.MsgNodeStart}) {
		_ = e
		count++
	}
	if count != 1 {
		t.Errorf("node A started %d times", count)
	}
}

func TestRun_EmitsLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	h.provider("mock", agents.Generation{Text: "x"})

	report, err := h.run(t, `
orchestrator:
  id: observed
  strategy: sequential
  agents: [answer]
agents:
  - id: answer
    type: llm
    provider: mock
    prompt: "p"
`, "")
	if err != nil {
		t.Fatal(err)
	}
	history := h.emitter.History(report.TraceID)
	var msgs []string
	for _, e := range history {
		msgs = append(msgs, e.Msg)
	}
	joined := strings.Join(msgs, ",")
	for _, want := range []string{events.MsgRunStart, events.MsgNodeStart, events.MsgNodeEnd, events.MsgRunEnd} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %v", want, msgs)
		}
	}
}

func TestSchedQueue(t *testing.T) {
	q := newSchedQueue([]string{"a", "b", "c"})

	t.Run("pops in order", func(t *testing.T) {
		id, ok := q.pop()
		if !ok || id != "a" {
			t.Errorf("pop = %q", id)
		}
	})

	t.Run("deduplicating prepend", func(t *testing.T) {
		// Remaining: b, c. Prepending [c, x] removes the static c.
		q.prepend([]string{"c", "x"})
		var got []string
		for {
			id, ok := q.pop()
			if !ok {
				break
			}
			got = append(got, id)
		}
		want := []string{"c", "x", "b"}
		if len(got) != len(want) {
			t.Fatalf("drained %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("drained %v, want %v", got, want)
			}
		}
	})
}

func TestCostTracker(t *testing.T) {
	tr := NewCostTracker()

	cost := tr.Track("gpt-4o-mini", 1_000_000, 1_000_000, 0)
	if cost != 0.75 {
		t.Errorf("estimated cost = %v", cost)
	}
	cost = tr.Track("unknown-model", 500, 500, 0.42)
	if cost != 0.42 {
		t.Errorf("reported cost overridden: %v", cost)
	}
	p, c, total := tr.Totals()
	if p != 1_000_500 || c != 1_000_500 {
		t.Errorf("token totals = %d / %d", p, c)
	}
	if math.Abs(total-1.17) > 1e-9 {
		t.Errorf("cost total = %v", total)
	}
}
