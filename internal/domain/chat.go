package domain

// ChatRequest is the body of the streaming chat endpoint
type ChatRequest struct {
	SessionID int64  `json:"session_id,omitempty" validate:"gte=0"`
	Message   string `json:"message"`
}

// SummarizeRequest is the body of the summary endpoint
type SummarizeRequest struct {
	Content   string `json:"content"`
	MaxLength int    `json:"max_length,omitempty" validate:"gte=0,lte=2000"`
}

// SummarizeResponse carries a generated summary
type SummarizeResponse struct {
	Summary string `json:"summary"`
}
