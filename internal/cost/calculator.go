// Package cost attributes dollar costs to LLM token usage.
package cost

import (
	"github.com/openclerk/invoicedesk/internal/model"
)

// Rates holds pricing configuration per Anthropic model.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
	model string
}

// NewCalculator creates a Calculator that prices usage against the given
// model's rates.
func NewCalculator(rates Rates, model string) *Calculator {
	return &Calculator{rates: rates, model: model}
}

// Cost prices one usage record. Unknown models cost zero.
func (c *Calculator) Cost(usage model.TokenUsage) float64 {
	rate, ok := c.rates.Anthropic[c.model]
	if !ok {
		return 0
	}

	inCost := (float64(usage.InputTokens) / 1e6) * rate.Input
	outCost := (float64(usage.OutputTokens) / 1e6) * rate.Output
	cwCost := (float64(usage.CacheCreationTokens) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(usage.CacheReadTokens) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input:         0.80,
				Output:        4.00,
				CacheWriteMul: 1.25,
				CacheReadMul:  0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input:         3.00,
				Output:        15.00,
				CacheWriteMul: 1.25,
				CacheReadMul:  0.1,
			},
			"claude-opus-4-6": {
				Input:         15.00,
				Output:        75.00,
				CacheWriteMul: 1.25,
				CacheReadMul:  0.1,
			},
		},
	}
}
