package agents

import (
	"context"
	"sync"
)

// MockProvider is a deterministic scripted LLMProvider for tests.
//
// Each Generate call returns the next scripted Generation; once the
// script is exhausted the last entry repeats. Call history is recorded
// for assertions. Safe for concurrent use.
//
//	mock := &MockProvider{Script: []Generation{{Text: "4"}}}
//	gen, _ := mock.Generate(ctx, "What is 2+2?", GenerateParams{})
type MockProvider struct {
	// Script is the response sequence.
	Script []Generation

	// Err, when set, is returned instead of a response.
	Err error

	mu      sync.Mutex
	index   int
	prompts []string
}

// Generate implements LLMProvider.
func (m *MockProvider) Generate(ctx context.Context, prompt string, _ GenerateParams) (Generation, error) {
	if err := ctx.Err(); err != nil {
		return Generation{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	if m.Err != nil {
		return Generation{}, m.Err
	}
	if len(m.Script) == 0 {
		return Generation{}, nil
	}
	idx := m.index
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	} else {
		m.index++
	}
	return m.Script[idx], nil
}

// Prompts returns a copy of the prompts seen so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// CallCount reports how many times Generate ran.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Reset clears history and rewinds the script.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = nil
	m.index = 0
}

// MockSearch is a scripted SearchProvider for tests.
type MockSearch struct {
	Results []Snippet
	Err     error

	mu      sync.Mutex
	queries []string
}

// Search implements SearchProvider.
func (m *MockSearch) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if limit > 0 && len(m.Results) > limit {
		return m.Results[:limit], nil
	}
	return m.Results, nil
}

// Queries returns a copy of the queries seen so far.
func (m *MockSearch) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.queries))
	copy(out, m.queries)
	return out
}
