package domain

import (
	"context"
	"time"
)

// CallType identifies which gateway operation produced a usage record
type CallType string

const (
	CallChat      CallType = "chat"
	CallSummarize CallType = "summarize"
)

// UsageLog is an append-only audit record. Exactly one row is written per
// gateway invocation, once the terminal outcome is known.
type UsageLog struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	CallType         CallType  `json:"call_type"`
	PromptSummary    string    `json:"prompt_summary"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	ResponseTimeMs   int64     `json:"response_time_ms"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageRepository defines the interface for usage log storage
type UsageRepository interface {
	Create(ctx context.Context, entry *UsageLog) error
}
