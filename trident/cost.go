package trident

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ModelPricing holds input and output token prices in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing table (as of 2025-01-01). Models absent from the table are
// recorded with zero cost. Keys are bare model names; vendor prefixes
// ("openai/gpt-4o") are stripped before lookup.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":              {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3.5-sonnet":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus":              {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-sonnet":            {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku":             {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// ModelCall records one provider invocation with its token usage and cost.
type ModelCall struct {
	Model        string
	NodeID       string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// CostTracker accumulates provider costs across a run. Node tasks in the
// same level record concurrently, so all methods are safe for concurrent use.
//
// Example:
//
//	tracker := NewCostTracker("run-123")
//	tracker.Record("anthropic/claude-3-haiku", "summarize", 1200, 300)
//	total := tracker.Total()
type CostTracker struct {
	mu      sync.RWMutex
	pricing map[string]ModelPricing
	calls   []ModelCall
	total   float64
	byModel map[string]float64
}

// NewCostTracker creates a tracker with the default pricing table.
func NewCostTracker(runID string) *CostTracker {
	_ = runID
	return &CostTracker{
		pricing: defaultModelPricing,
		byModel: make(map[string]float64),
	}
}

// Record adds one call and returns its computed cost.
func (ct *CostTracker) Record(model, nodeID string, inputTokens, outputTokens int) float64 {
	name := model
	if _, rest, ok := strings.Cut(model, "/"); ok {
		name = rest
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing := ct.pricing[name]
	cost := (float64(inputTokens)/1_000_000)*pricing.InputPer1M +
		(float64(outputTokens)/1_000_000)*pricing.OutputPer1M

	ct.calls = append(ct.calls, ModelCall{
		Model:        model,
		NodeID:       nodeID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
	})
	ct.total += cost
	ct.byModel[name] += cost
	return cost
}

// Total returns the accumulated cost in USD.
func (ct *CostTracker) Total() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.total
}

// ByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) ByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64, len(ct.byModel))
	for k, v := range ct.byModel {
		out[k] = v
	}
	return out
}

// Calls returns a copy of the call history in chronological order.
func (ct *CostTracker) Calls() []ModelCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]ModelCall, len(ct.calls))
	copy(out, ct.calls)
	return out
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return fmt.Sprintf("CostTracker{calls: %d, total: $%.4f}", len(ct.calls), ct.total)
}
