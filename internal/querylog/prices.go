package querylog

import (
	"github.com/shopspring/decimal"
	"github.com/tygr/ragserve/internal/models"
)

// ModelPrice holds per-million-token USD rates for one model
type ModelPrice struct {
	PromptPerMillion     decimal.Decimal
	CompletionPerMillion decimal.Decimal
}

// PriceTable maps model names to their token rates
type PriceTable map[string]ModelPrice

var tokensPerUnit = decimal.NewFromInt(1_000_000)

// EstimateCost computes the estimated USD cost of one call. Unknown models
// cost zero rather than guessing a rate.
func (p PriceTable) EstimateCost(model string, usage models.TokenUsage) decimal.Decimal {
	price, ok := p[model]
	if !ok {
		return decimal.Zero
	}

	promptCost := price.PromptPerMillion.
		Mul(decimal.NewFromInt(int64(usage.PromptTokens))).
		Div(tokensPerUnit)
	completionCost := price.CompletionPerMillion.
		Mul(decimal.NewFromInt(int64(usage.CompletionTokens))).
		Div(tokensPerUnit)

	return promptCost.Add(completionCost)
}

// DefaultPriceTable returns published pay-as-you-go rates for the supported
// Gemini models, USD per million tokens.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"gemini-2.0-flash": {
			PromptPerMillion:     decimal.NewFromFloat(0.10),
			CompletionPerMillion: decimal.NewFromFloat(0.40),
		},
		"gemini-1.5-flash": {
			PromptPerMillion:     decimal.NewFromFloat(0.075),
			CompletionPerMillion: decimal.NewFromFloat(0.30),
		},
		"gemini-1.5-pro": {
			PromptPerMillion:     decimal.NewFromFloat(1.25),
			CompletionPerMillion: decimal.NewFromFloat(5.00),
		},
	}
}
