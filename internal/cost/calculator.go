// Package cost converts provider token usage into monetary cost for the
// audit ledger.
package cost

import "github.com/creatorscope/audit-cli/internal/model"

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates holds per-provider pricing configuration.
type Rates struct {
	Analysis map[string]ModelRate `yaml:"analysis" mapstructure:"analysis"`
}

// Calculator computes audit cost deltas from token usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Delta converts one call's token usage into a ledger delta. Unknown
// models still count tokens but contribute zero dollars.
func (c *Calculator) Delta(modelID string, inputTokens, outputTokens int64) model.CostTotals {
	totals := model.CostTotals{Tokens: inputTokens + outputTokens}

	rate, ok := c.rates.Analysis[modelID]
	if !ok {
		return totals
	}
	totals.USD = (float64(inputTokens)/1e6)*rate.Input + (float64(outputTokens)/1e6)*rate.Output
	return totals
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Analysis: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
	}
}
