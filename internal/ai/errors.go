package ai

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies upstream failures
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindRateLimited   ErrorKind = "rate_limited"
	KindProtocolError ErrorKind = "protocol_error"
	KindUnknown       ErrorKind = "unknown"
)

// Error is a classified upstream failure. Classification happens once, at
// the client; callers only decide what to do with the kind.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Message)
}

// NewError builds a classified upstream error
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify returns the error kind, defaulting to KindUnknown for anything
// that is not a *Error. Context deadline errors count as timeouts.
func Classify(err error) ErrorKind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Transient reports whether the failure is worth retrying: timeouts, rate
// limits and protocol hiccups. Unknown failures are not retried.
func Transient(err error) bool {
	switch Classify(err) {
	case KindTimeout, KindRateLimited, KindProtocolError:
		return true
	}
	return false
}
