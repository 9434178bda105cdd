package domain

import (
	"context"
	"time"
)

// ChatSession represents a conversation thread owned by a single user
type ChatSession struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *ChatSession) error

	// GetByOwner looks up a session scoped to its owner. A session that does
	// not exist and a session owned by someone else both return
	// ErrSessionNotFound.
	GetByOwner(ctx context.Context, id, userID int64) (*ChatSession, error)

	// Touch bumps updated_at to now.
	Touch(ctx context.Context, id int64) error
}
