package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QueryLogEntry is an append-only audit record of a single chat or search query
type QueryLogEntry struct {
	ID               int64            `json:"id" db:"id"`
	Query            string           `json:"query" db:"query"`
	ModelUsed        string           `json:"model_used" db:"model_used"`
	FilesUsed        int              `json:"files_used" db:"files_used"`
	SelectedFiles    []string         `json:"selected_files" db:"selected_files"`
	SystemPromptUsed *string          `json:"system_prompt_used,omitempty" db:"system_prompt_used"`
	ResponseLength   *int             `json:"response_length,omitempty" db:"response_length"`
	PromptTokens     *int             `json:"prompt_tokens,omitempty" db:"prompt_tokens"`
	CompletionTokens *int             `json:"completion_tokens,omitempty" db:"completion_tokens"`
	TotalTokens      *int             `json:"total_tokens,omitempty" db:"total_tokens"`
	EstimatedCostUSD *decimal.Decimal `json:"estimated_cost_usd,omitempty" db:"estimated_cost_usd"`
	Success          bool             `json:"success" db:"success"`
	ErrorMessage     *string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// TokenUsage holds token counts reported by the model API for one completion
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
