package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/orkacore/orka-go/core"
)

// Search is the web-search leaf agent (type tag "search"). The rendered
// prompt is the query; the result is the list of snippets as structured
// maps so downstream templates can navigate title/url/content.
//
// Config:
//
//	limit: maximum snippets to return (default 5)
type Search struct {
	id       string
	provider SearchProvider
	limit    int
}

// NewSearch builds the agent around a resolved provider.
func NewSearch(id string, provider SearchProvider, limit int) *Search {
	if limit <= 0 {
		limit = 5
	}
	return &Search{id: id, provider: provider, limit: limit}
}

// ID implements core.Agent.
func (a *Search) ID() string { return a.id }

// Describe implements core.Agent.
func (a *Search) Describe() core.AgentInfo {
	return core.AgentInfo{
		Type:             "search",
		RequiresPrompt:   true,
		Capabilities:     []string{"search", "retrieve", "web"},
		EstimatedLatency: 1500 * time.Millisecond,
	}
}

// Run implements core.Agent.
func (a *Search) Run(ctx context.Context, in core.RunInput) core.AgentOutput {
	start := time.Now()
	snippets, err := a.provider.Search(ctx, in.Prompt, a.limit)
	if err != nil {
		out := core.Failure(core.Wrap(core.KindAgentFailed, "web search", err))
		out.Metrics.Latency = time.Since(start)
		out.Trace = &core.Trace{Prompt: in.Prompt}
		return out
	}
	results := make([]interface{}, len(snippets))
	for i, s := range snippets {
		results[i] = map[string]interface{}{
			"title":   s.Title,
			"url":     s.URL,
			"content": s.Content,
		}
	}
	return core.AgentOutput{
		Result:  results,
		Status:  core.StatusSuccess,
		Metrics: core.Metrics{Latency: time.Since(start)},
		Trace:   &core.Trace{Prompt: in.Prompt},
	}
}

// DuckDuckGo is a SearchProvider over the DuckDuckGo instant-answer API.
// It needs no API key, which makes it the default search backend.
type DuckDuckGo struct {
	client   *http.Client
	endpoint string
}

// NewDuckDuckGo creates the provider. Timeouts arrive via context.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		client:   &http.Client{},
		endpoint: "https://api.duckduckgo.com/",
	}
}

// ddgResponse is the subset of the instant-answer payload we read.
type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search implements SearchProvider.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	if limit <= 0 {
		limit = 5
	}
	u := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1", d.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	var parsed ddgResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	var snippets []Snippet
	if parsed.AbstractText != "" {
		snippets = append(snippets, Snippet{
			Title:   parsed.Heading,
			URL:     parsed.AbstractURL,
			Content: parsed.AbstractText,
		})
	}
	for _, t := range parsed.RelatedTopics {
		if len(snippets) >= limit {
			break
		}
		if t.Text == "" {
			continue
		}
		snippets = append(snippets, Snippet{Title: t.Text, URL: t.FirstURL, Content: t.Text})
	}
	return snippets, nil
}
