package domain

import (
	"context"
	"time"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ChatMessage represents one message in a session. Messages are immutable
// once created; creation order (the BIGSERIAL id) is the ordering key.
type ChatMessage struct {
	ID               int64       `json:"id"`
	SessionID        int64       `json:"session_id"`
	Role             MessageRole `json:"role"`
	Content          string      `json:"content"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	CreatedAt        time.Time   `json:"created_at"`
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	Create(ctx context.Context, message *ChatMessage) error

	// ListBySession returns the most recent limit messages of a session in
	// chronological order. The result is the literal prompt window sent
	// upstream, so the ordering matters.
	ListBySession(ctx context.Context, sessionID int64, limit int) ([]ChatMessage, error)
}
