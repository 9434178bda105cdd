package domain

import "errors"

var (
	// ErrSessionNotFound covers both a nonexistent session and a session
	// owned by another user, so the caller cannot tell them apart.
	ErrSessionNotFound = errors.New("session not found")

	ErrEmptyMessage = errors.New("message must not be empty")
	ErrEmptyContent = errors.New("content must not be empty")
)
