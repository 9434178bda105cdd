package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/airelay/chat-gateway/internal/ai"
	"github.com/airelay/chat-gateway/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	titleMaxRunes       = 20
	fingerprintMaxRunes = 50
	summaryBackoff      = time.Second
)

// EventEmitter receives orchestrator events in order: session before any
// content, error (if any) before done, done always last.
type EventEmitter interface {
	Session(id int64) error
	Content(text string) error
	Error(errorType, message string) error
	Done(hasError bool) error
}

// ChatService drives one chat or summary invocation end to end: input
// validation, session resolution, the upstream streaming loop, and the
// decision of what gets persisted based on how the stream ended.
type ChatService struct {
	sessions       domain.SessionRepository
	messages       domain.MessageRepository
	usage          domain.UsageRepository
	client         ai.Client
	historyLimit   int
	summaryRetries int
}

// NewChatService creates a new chat service
func NewChatService(
	sessions domain.SessionRepository,
	messages domain.MessageRepository,
	usage domain.UsageRepository,
	client ai.Client,
	historyLimit int,
	summaryRetries int,
) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	if summaryRetries <= 0 {
		summaryRetries = 3
	}
	return &ChatService{
		sessions:       sessions,
		messages:       messages,
		usage:          usage,
		client:         client,
		historyLimit:   historyLimit,
		summaryRetries: summaryRetries,
	}
}

// Chat runs one streamed chat invocation for userID and pushes every event
// to em. The sequence is single-pass: validate, resolve the session, stream
// fragments, then commit exactly one of {assistant message, failure log}.
// All outcomes, including failures, terminate with a done frame.
func (s *ChatService) Chat(ctx context.Context, userID int64, req domain.ChatRequest, em EventEmitter) {
	requestID := uuid.New().String()
	logger := log.With().Str("request_id", requestID).Int64("user_id", userID).Logger()
	start := time.Now()

	// Validating. An empty message touches nothing: no session, no usage row.
	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.emitFailure(em, "api_error", "消息不能为空")
		return
	}

	// Resolving. A missing session and someone else's session produce the
	// same client-visible outcome.
	session, err := s.resolveSession(ctx, userID, req.SessionID, message)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.emitFailure(em, "api_error", "会话不存在")
			return
		}
		logger.Error().Err(err).Msg("failed to resolve session")
		s.emitFailure(em, "api_error", "服务内部错误")
		return
	}

	// The user's message is durable before any upstream call is attempted.
	userMsg := &domain.ChatMessage{
		SessionID: session.ID,
		Role:      domain.RoleUser,
		Content:   message,
		CreatedAt: time.Now(),
	}
	if err := s.messages.Create(ctx, userMsg); err != nil {
		logger.Error().Err(err).Msg("failed to save user message")
		s.recordUsage(ctx, userID, domain.CallChat, message, ai.Usage{}, start, false, "failed to persist user message")
		s.emitFailure(em, "api_error", "服务内部错误")
		return
	}

	// Streaming. The session id goes out before any content so a newly
	// created session reaches the client first.
	if err := em.Session(session.ID); err != nil {
		logger.Warn().Err(err).Msg("client went away before streaming started")
		s.recordUsage(ctx, userID, domain.CallChat, message, ai.Usage{}, start, false, "client disconnected")
		return
	}

	window := s.promptWindow(ctx, session.ID, message, logger)

	full, usage, streamErr := s.runStream(ctx, window, em)

	// Finalizing. Completed means the stream ran to exhaustion with text;
	// a zero-fragment stream is a failure, not a silent success.
	if streamErr == nil && full == "" {
		streamErr = ai.NewError(ai.KindUnknown, "empty response from upstream")
	}

	if streamErr != nil {
		logger.Warn().Err(streamErr).Msg("chat stream failed")
		s.recordUsage(ctx, userID, domain.CallChat, message, ai.Usage{}, start, false, errorMessage(streamErr))
		s.emitFailure(em, wireErrorType(streamErr), errorMessage(streamErr))
		return
	}

	assistantMsg := &domain.ChatMessage{
		SessionID:        session.ID,
		Role:             domain.RoleAssistant,
		Content:          full,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CreatedAt:        time.Now(),
	}
	if err := s.messages.Create(ctx, assistantMsg); err != nil {
		logger.Error().Err(err).Msg("failed to save assistant message")
		s.recordUsage(ctx, userID, domain.CallChat, message, usage, start, false, "failed to persist assistant message")
		s.emitFailure(em, "api_error", "服务内部错误")
		return
	}

	if err := s.sessions.Touch(ctx, session.ID); err != nil {
		logger.Error().Err(err).Msg("failed to touch session")
	}

	s.recordUsage(ctx, userID, domain.CallChat, message, usage, start, true, "")

	if err := em.Done(false); err != nil {
		logger.Warn().Err(err).Msg("failed to send done frame")
	}
}

// Summarize runs the degenerate non-streamed path: one blocking upstream
// call with up to summaryRetries attempts and a fixed backoff. Only
// transient upstream failures are retried.
func (s *ChatService) Summarize(ctx context.Context, userID int64, content string, maxLength int) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		// User error: nothing happened, nothing is logged.
		return "", domain.ErrEmptyContent
	}
	if maxLength <= 0 {
		maxLength = 200
	}

	logger := log.With().Int64("user_id", userID).Logger()
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= s.summaryRetries; attempt++ {
		summary, usage, err := s.client.GenerateSummary(ctx, content, maxLength)
		if err == nil {
			s.recordUsage(ctx, userID, domain.CallSummarize, content, usage, start, true, "")
			return summary, nil
		}

		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt).Msg("summary generation failed")

		if !ai.Transient(err) || attempt == s.summaryRetries || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(summaryBackoff):
		case <-ctx.Done():
		}
	}

	s.recordUsage(ctx, userID, domain.CallSummarize, content, ai.Usage{}, start, false, errorMessage(lastErr))
	return "", lastErr
}

func (s *ChatService) resolveSession(ctx context.Context, userID, sessionID int64, message string) (*domain.ChatSession, error) {
	if sessionID != 0 {
		return s.sessions.GetByOwner(ctx, sessionID, userID)
	}

	now := time.Now()
	session := &domain.ChatSession{
		UserID:    userID,
		Title:     truncateRunes(message, titleMaxRunes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// promptWindow loads the last historyLimit messages in chronological order.
// If history cannot be read the window degrades to just the current user
// message rather than failing the whole request.
func (s *ChatService) promptWindow(ctx context.Context, sessionID int64, message string, logger zerolog.Logger) []ai.Message {
	history, err := s.messages.ListBySession(ctx, sessionID, s.historyLimit)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch chat history")
		return []ai.Message{{Role: ai.RoleUser, Content: message}}
	}

	window := make([]ai.Message, len(history))
	for i, m := range history {
		window[i] = ai.Message{Role: ai.Role(m.Role), Content: m.Content}
	}
	return window
}

// runStream drives the upstream stream, forwarding each fragment while
// accumulating the full text. Already-sent fragments are never retracted;
// on failure the partial accumulator is discarded by the caller.
func (s *ChatService) runStream(ctx context.Context, window []ai.Message, em EventEmitter) (string, ai.Usage, error) {
	stream, err := s.client.StreamChat(ctx, window)
	if err != nil {
		return "", ai.Usage{}, err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", ai.Usage{}, err
		}

		sb.WriteString(fragment)
		if err := em.Content(fragment); err != nil {
			// Client gone: cancel upstream instead of draining it with no
			// consumer, and treat the request as failed.
			return "", ai.Usage{}, ai.NewError(ai.KindUnknown, "client disconnected: %v", err)
		}
	}

	return sb.String(), stream.Usage(), nil
}

// emitFailure sends the error frame followed by the terminal done frame.
func (s *ChatService) emitFailure(em EventEmitter, errorType, message string) {
	if err := em.Error(errorType, message); err != nil {
		return
	}
	_ = em.Done(true)
}

// recordUsage appends the single audit row of this invocation. It never
// fails the enclosing request; write errors are logged and swallowed. The
// write survives client disconnects.
func (s *ChatService) recordUsage(ctx context.Context, userID int64, callType domain.CallType, prompt string, usage ai.Usage, start time.Time, success bool, errText string) {
	entry := &domain.UsageLog{
		UserID:           userID,
		CallType:         callType,
		PromptSummary:    fingerprint(prompt),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		ResponseTimeMs:   time.Since(start).Milliseconds(),
		Success:          success,
		ErrorMessage:     errText,
		CreatedAt:        time.Now(),
	}
	if err := s.usage.Create(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).Str("call_type", string(callType)).Msg("failed to record usage")
	}
}

// wireErrorType maps classified upstream failures onto the two error types
// the wire protocol knows about.
func wireErrorType(err error) string {
	if ai.Classify(err) == ai.KindTimeout {
		return "timeout"
	}
	return "api_error"
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ue *ai.Error
	if errors.As(err, &ue) {
		return ue.Message
	}
	return err.Error()
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// fingerprint condenses a prompt for the audit trail.
func fingerprint(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= fingerprintMaxRunes {
		return prompt
	}
	return string(runes[:fingerprintMaxRunes]) + "..."
}
