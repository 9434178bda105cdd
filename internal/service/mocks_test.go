package service

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/airelay/chat-gateway/internal/ai"
	"github.com/airelay/chat-gateway/internal/domain"
)

// mockSessionRepo is an in-memory SessionRepository.
type mockSessionRepo struct {
	mu        sync.Mutex
	nextID    int64
	sessions  map[int64]*domain.ChatSession
	createErr error
	touched   []int64
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{nextID: 1, sessions: make(map[int64]*domain.ChatSession)}
}

func (m *mockSessionRepo) Create(ctx context.Context, session *domain.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	session.ID = m.nextID
	m.nextID++
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *mockSessionRepo) GetByOwner(ctx context.Context, id, userID int64) (*domain.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok || session.UserID != userID {
		return nil, domain.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (m *mockSessionRepo) Touch(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
	return nil
}

// mockMessageRepo is an in-memory MessageRepository.
type mockMessageRepo struct {
	mu        sync.Mutex
	nextID    int64
	messages  []*domain.ChatMessage
	createErr error
	listErr   error
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{nextID: 1}
}

func (m *mockMessageRepo) Create(ctx context.Context, msg *domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	msg.ID = m.nextID
	m.nextID++
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *mockMessageRepo) ListBySession(ctx context.Context, sessionID int64, limit int) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var all []domain.ChatMessage
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			all = append(all, *msg)
		}
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *mockMessageRepo) bySession(sessionID int64) []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ChatMessage
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, *msg)
		}
	}
	return out
}

// mockUsageRepo records usage rows.
type mockUsageRepo struct {
	mu      sync.Mutex
	entries []*domain.UsageLog
}

func (m *mockUsageRepo) Create(ctx context.Context, entry *domain.UsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockUsageRepo) all() []*domain.UsageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.UsageLog(nil), m.entries...)
}

// fakeStream replays scripted fragments, then terminates with err (nil for
// a clean end).
type fakeStream struct {
	fragments []string
	err       error
	usage     ai.Usage
	pos       int
	closed    bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.pos < len(s.fragments) {
		fragment := s.fragments[s.pos]
		s.pos++
		return fragment, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeStream) Usage() ai.Usage { return s.usage }

func (s *fakeStream) Close() { s.closed = true }

// mockClient serves a scripted stream for chat and scripted results for
// summaries, one per call.
type mockClient struct {
	mu sync.Mutex

	stream       *fakeStream
	streamErr    error
	gotWindow    []ai.Message
	streamCalls  int
	summaryCalls int

	// summaryResults is consumed one entry per GenerateSummary call; the
	// last entry repeats once exhausted.
	summaryResults []summaryResult
}

type summaryResult struct {
	summary string
	usage   ai.Usage
	err     error
}

func (c *mockClient) StreamChat(ctx context.Context, messages []ai.Message) (ai.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamCalls++
	c.gotWindow = append([]ai.Message(nil), messages...)
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	return c.stream, nil
}

func (c *mockClient) GenerateSummary(ctx context.Context, content string, maxLength int) (string, ai.Usage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaryCalls++
	if len(c.summaryResults) == 0 {
		return "", ai.Usage{}, fmt.Errorf("no scripted summary result")
	}
	res := c.summaryResults[0]
	if len(c.summaryResults) > 1 {
		c.summaryResults = c.summaryResults[1:]
	}
	return res.summary, res.usage, res.err
}

// recordedEvent mirrors one emitter call.
type recordedEvent struct {
	Type      string
	SessionID int64
	Text      string
	ErrorType string
	Message   string
	HasError  bool
}

// recordingEmitter captures the event sequence. failAfter, when positive,
// makes every call past that many events fail, simulating a client that
// disconnected mid-stream.
type recordingEmitter struct {
	events    []recordedEvent
	failAfter int
}

func (e *recordingEmitter) record(ev recordedEvent) error {
	if e.failAfter > 0 && len(e.events) >= e.failAfter {
		return fmt.Errorf("write: broken pipe")
	}
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) Session(id int64) error {
	return e.record(recordedEvent{Type: "session", SessionID: id})
}

func (e *recordingEmitter) Content(text string) error {
	return e.record(recordedEvent{Type: "content", Text: text})
}

func (e *recordingEmitter) Error(errorType, message string) error {
	return e.record(recordedEvent{Type: "error", ErrorType: errorType, Message: message})
}

func (e *recordingEmitter) Done(hasError bool) error {
	return e.record(recordedEvent{Type: "done", HasError: hasError})
}
