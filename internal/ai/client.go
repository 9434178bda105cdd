package ai

import "context"

// Role mirrors the chat roles understood by completion providers
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the prompt window sent upstream
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage holds token counters reported by the provider
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Stream is a finite, non-restartable sequence of text fragments produced
// by one upstream streaming call.
//
// Recv returns the next non-empty fragment. It returns io.EOF when the
// upstream finished cleanly and a *Error when the call failed. Usage is
// meaningful only after Recv has returned io.EOF. Close cancels the
// upstream call; it is safe to call at any point and more than once.
type Stream interface {
	Recv() (string, error)
	Usage() Usage
	Close()
}

// Client defines the interface for upstream completion providers.
//
// Implementations apply a hard wall-clock timeout covering the entire call
// (the whole stream lifetime for StreamChat) and perform no retries of
// their own; retry policy belongs to the caller.
type Client interface {
	// StreamChat issues one streaming completion request for the given
	// prompt window.
	StreamChat(ctx context.Context, history []Message) (Stream, error)

	// GenerateSummary issues one blocking completion request that condenses
	// content into at most maxLength characters.
	GenerateSummary(ctx context.Context, content string, maxLength int) (string, Usage, error)
}
