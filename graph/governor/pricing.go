package governor

import "fmt"

// ModelPricing defines input and output token costs in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPricing holds list prices for common models (USD per 1M tokens).
// Prices change; callers should pass their own table for billing.
var DefaultPricing = map[string]ModelPricing{
	"gpt-4o":            {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":       {InputPer1M: 0.15, OutputPer1M: 0.60},
	"claude-3-5-sonnet": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":    {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":  {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// Weighted returns a TrackFunc computing sum(weight * usage) over the
// weighted resources, e.g. completion tokens counted at 1.5x prompt tokens:
//
//	governor.WithTracker(governor.ResourceTokens, governor.Weighted(map[string]float64{
//	    governor.ResourcePromptTokens:     1,
//	    governor.ResourceCompletionTokens: 1.5,
//	}))
func Weighted(weights map[string]float64) TrackFunc {
	return func(_ string, _ float64, usage Usage) float64 {
		var total float64
		for name, w := range weights {
			total += usage[name] * w
		}
		return total
	}
}

// CostTracker returns a TrackFunc deriving USD cost from prompt and completion
// token counters priced at p.
func CostTracker(p ModelPricing) TrackFunc {
	return Weighted(map[string]float64{
		ResourcePromptTokens:     p.InputPer1M / 1_000_000,
		ResourceCompletionTokens: p.OutputPer1M / 1_000_000,
	})
}

// CostTrackerFor looks model up in DefaultPricing.
func CostTrackerFor(model string) (TrackFunc, error) {
	p, ok := DefaultPricing[model]
	if !ok {
		return nil, fmt.Errorf("no pricing for model %q", model)
	}
	return CostTracker(p), nil
}
