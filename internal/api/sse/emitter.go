package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Event is the discriminated wire envelope pushed to the client. The zero
// values of unused fields are dropped from the payload by omitempty, except
// the flags a terminal frame must always carry.
type Event struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Message   string `json:"message,omitempty"`
	HasError  *bool  `json:"has_error,omitempty"`
}

// Emitter is a one-directional push channel to a single client. Every frame
// is flushed immediately; intermediary buffering is disabled via headers so
// fragments reach the client as they are produced, not batched at the end.
type Emitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewEmitter prepares a server-sent-events response on w. It fails if the
// underlying transport cannot flush individual frames.
func NewEmitter(w http.ResponseWriter) (*Emitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Tells nginx-style proxies not to buffer the stream.
	h.Set("X-Accel-Buffering", "no")

	return &Emitter{w: w, flusher: flusher}, nil
}

// Session announces the resolved session id. Always the first frame, so a
// newly created session's id reaches the client before any content.
func (e *Emitter) Session(id int64) error {
	return e.send(Event{Type: "session", SessionID: id})
}

// Content forwards one text fragment.
func (e *Emitter) Content(text string) error {
	return e.send(Event{Type: "content", Text: text})
}

// Error reports a failure. It precedes the terminal done frame.
func (e *Emitter) Error(errorType, message string) error {
	return e.send(Event{Type: "error", ErrorType: errorType, Message: message})
}

// Done sends the terminal frame. It is always the last frame of a stream,
// whether or not the generation succeeded.
func (e *Emitter) Done(hasError bool) error {
	return e.send(Event{Type: "done", HasError: &hasError})
}

func (e *Emitter) send(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	e.flusher.Flush()
	return nil
}
