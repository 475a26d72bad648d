package agents

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/orkacore/orka-go/core"
)

func TestLLM_Run(t *testing.T) {
	mock := &MockProvider{Script: []Generation{
		{Text: "4", PromptTokens: 10, CompletionTokens: 1, Model: "mock-1"},
	}}
	a := NewLLM("answer", mock, GenerateParams{Model: "mock-1"})

	out := a.Run(context.Background(), core.RunInput{Prompt: "What is 2+2?"})
	if !out.OK() {
		t.Fatalf("status = %v, error = %+v", out.Status, out.Error)
	}
	if out.Result != "4" {
		t.Errorf("result = %v", out.Result)
	}
	if out.Metrics.PromptTokens != 10 || out.Metrics.CompletionTokens != 1 {
		t.Errorf("metrics = %+v", out.Metrics)
	}
	if out.Trace == nil || out.Trace.Prompt != "What is 2+2?" || out.Trace.Model != "mock-1" {
		t.Errorf("trace = %+v", out.Trace)
	}
	if got := mock.Prompts(); len(got) != 1 || got[0] != "What is 2+2?" {
		t.Errorf("provider saw prompts %v", got)
	}
}

func TestLLM_ProviderFailure(t *testing.T) {
	mock := &MockProvider{Err: errors.New("rate limited")}
	a := NewLLM("answer", mock, GenerateParams{})

	out := a.Run(context.Background(), core.RunInput{Prompt: "q"})
	if out.Status != core.StatusFailed {
		t.Fatalf("status = %v", out.Status)
	}
	if out.Error == nil || out.Error.Kind != core.KindAgentFailed {
		t.Errorf("error = %+v", out.Error)
	}
	if !strings.Contains(out.Error.Message, "rate limited") {
		t.Errorf("provider cause lost: %q", out.Error.Message)
	}
}

func TestMockProvider_ScriptAdvancesAndRepeats(t *testing.T) {
	mock := &MockProvider{Script: []Generation{{Text: "one"}, {Text: "two"}}}
	ctx := context.Background()

	for _, want := range []string{"one", "two", "two"} {
		gen, err := mock.Generate(ctx, "p", GenerateParams{})
		if err != nil {
			t.Fatal(err)
		}
		if gen.Text != want {
			t.Errorf("got %q, want %q", gen.Text, want)
		}
	}
	if mock.CallCount() != 3 {
		t.Errorf("call count = %d", mock.CallCount())
	}
	mock.Reset()
	gen, _ := mock.Generate(ctx, "p", GenerateParams{})
	if gen.Text != "one" {
		t.Errorf("after reset got %q", gen.Text)
	}
}

func TestClassifier_MatchesLabel(t *testing.T) {
	cases := []struct {
		name     string
		response string
		want     string
		wantFail bool
	}{
		{"exact", "yes", "yes", false},
		{"case insensitive", "YES", "yes", false},
		{"embedded", "I think the answer is: no.", "no", false},
		{"no label", "cannot decide", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := &MockProvider{Script: []Generation{{Text: tc.response}}}
			a, err := NewClassifier("classify", mock, GenerateParams{}, []string{"yes", "no"})
			if err != nil {
				t.Fatal(err)
			}
			out := a.Run(context.Background(), core.RunInput{Prompt: "Is the sky blue?"})
			if tc.wantFail {
				if out.Status != core.StatusFailed {
					t.Errorf("expected failure, got %v / %v", out.Status, out.Result)
				}
				return
			}
			if !out.OK() || out.Result != tc.want {
				t.Errorf("got %v / %v", out.Status, out.Result)
			}
		})
	}
}

func TestClassifier_PromptCarriesLabels(t *testing.T) {
	mock := &MockProvider{Script: []Generation{{Text: "yes"}}}
	a, err := NewClassifier("classify", mock, GenerateParams{}, []string{"yes", "no"})
	if err != nil {
		t.Fatal(err)
	}
	a.Run(context.Background(), core.RunInput{Prompt: "base prompt"})

	prompts := mock.Prompts()
	if len(prompts) != 1 || !strings.Contains(prompts[0], "yes, no") {
		t.Errorf("label instruction missing from prompt: %q", prompts)
	}
}

func TestClassifier_RequiresTwoLabels(t *testing.T) {
	if _, err := NewClassifier("c", &MockProvider{}, GenerateParams{}, []string{"only"}); err == nil {
		t.Error("single-label classifier accepted")
	}
}

func TestBuilder_ReturnsRenderedPrompt(t *testing.T) {
	a := NewBuilder("report")
	out := a.Run(context.Background(), core.RunInput{Prompt: "Assembled: 4"})
	if !out.OK() || out.Result != "Assembled: 4" {
		t.Errorf("got %v / %v", out.Status, out.Result)
	}
}

func TestSearch_Run(t *testing.T) {
	provider := &MockSearch{Results: []Snippet{
		{Title: "Paris", URL: "https://example.org/paris", Content: "Paris is the capital of France"},
	}}
	a := NewSearch("lookup", provider, 3)

	out := a.Run(context.Background(), core.RunInput{Prompt: "France capital"})
	if !out.OK() {
		t.Fatalf("status = %v", out.Status)
	}
	list, ok := out.Result.([]interface{})
	if !ok || len(list) != 1 {
		t.Fatalf("result = %#v", out.Result)
	}
	first := list[0].(map[string]interface{})
	if first["title"] != "Paris" {
		t.Errorf("snippet = %v", first)
	}
	if got := provider.Queries(); len(got) != 1 || got[0] != "France capital" {
		t.Errorf("provider saw %v", got)
	}
}

func TestDuckDuckGo_ParsesInstantAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "France capital" {
			t.Errorf("query param = %q", r.URL.Query().Get("q"))
		}
		_, _ = w.Write([]byte(`{
			"Heading": "Paris",
			"AbstractText": "Paris is the capital of France.",
			"AbstractURL": "https://en.wikipedia.org/wiki/Paris",
			"RelatedTopics": [
				{"Text": "France - country in Europe", "FirstURL": "https://duckduckgo.com/France"}
			]
		}`))
	}))
	defer srv.Close()

	d := NewDuckDuckGo()
	d.endpoint = srv.URL + "/"

	snippets, err := d.Search(context.Background(), "France capital", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 2 {
		t.Fatalf("got %d snippets", len(snippets))
	}
	if !strings.Contains(snippets[0].Content, "capital of France") {
		t.Errorf("first snippet = %+v", snippets[0])
	}
}

func TestDuckDuckGo_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDuckDuckGo()
	d.endpoint = srv.URL + "/"
	if _, err := d.Search(context.Background(), "q", 5); err == nil {
		t.Error("bad gateway did not error")
	}
}

func TestRegister_InstallsFactories(t *testing.T) {
	reg := core.NewRegistry()
	mock := &MockProvider{Script: []Generation{{Text: "yes"}}}
	Register(reg, Dependencies{
		LLM:    func(string) (LLMProvider, error) { return mock, nil },
		Search: &MockSearch{},
	})

	for _, typ := range []string{"llm", "classifier", "builder", "search"} {
		if !reg.Has(typ) {
			t.Errorf("type %q not registered", typ)
		}
	}

	a, err := reg.New("classifier", "c1", core.Config{"labels": []interface{}{"yes", "no"}})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() != "c1" || a.Describe().Type != "classifier" {
		t.Errorf("constructed agent = %+v", a.Describe())
	}

	if _, err := reg.New("classifier", "c2", core.Config{"labels": []interface{}{"one"}}); err == nil {
		t.Error("invalid classifier config accepted")
	}
}
