package run

import (
	"sync"
)

// modelPricing is USD per one million tokens.
type modelPricing struct {
	inputPer1M  float64
	outputPer1M float64
}

// defaultPricing covers the models the provider adapters default to.
// Prices drift; unknown models simply contribute no cost.
var defaultPricing = map[string]modelPricing{
	"gpt-4o":                    {inputPer1M: 2.50, outputPer1M: 10.00},
	"gpt-4o-mini":               {inputPer1M: 0.15, outputPer1M: 0.60},
	"claude-sonnet-4-5-20250929": {inputPer1M: 3.00, outputPer1M: 15.00},
	"claude-haiku-4-20250514":   {inputPer1M: 0.80, outputPer1M: 4.00},
	"gemini-1.5-flash":          {inputPer1M: 0.075, outputPer1M: 0.30},
	"gemini-1.5-pro":            {inputPer1M: 1.25, outputPer1M: 5.00},
}

// CostTracker aggregates token usage and cost across one run. Safe for
// concurrent use by parallel fork branches.
type CostTracker struct {
	mu           sync.Mutex
	pricing      map[string]modelPricing
	totalPrompt  int
	totalOutput  int
	totalCostUSD float64
}

// NewCostTracker creates a tracker with the builtin pricing table.
func NewCostTracker() *CostTracker {
	return &CostTracker{pricing: defaultPricing}
}

// Track records one node's usage. When the provider already reported a
// cost it is taken as-is; otherwise the pricing table estimates it.
func (t *CostTracker) Track(model string, promptTokens, completionTokens int, reportedCost float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalPrompt += promptTokens
	t.totalOutput += completionTokens

	cost := reportedCost
	if cost == 0 {
		if p, ok := t.pricing[model]; ok {
			cost = float64(promptTokens)/1e6*p.inputPer1M + float64(completionTokens)/1e6*p.outputPer1M
		}
	}
	t.totalCostUSD += cost
	return cost
}

// Totals returns the aggregate prompt tokens, completion tokens and cost.
func (t *CostTracker) Totals() (promptTokens, completionTokens int, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalPrompt, t.totalOutput, t.totalCostUSD
}
