package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/airelay/chat-gateway/internal/ai"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements ai.Client against any OpenAI-compatible
// chat-completions endpoint.
type Client struct {
	apiKey         string
	baseURL        string
	model          string
	chatTimeout    time.Duration
	summaryTimeout time.Duration
	httpClient     *http.Client
}

// NewClient creates a new OpenAI-compatible client
func NewClient(apiKey, baseURL, model string, chatTimeout, summaryTimeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if chatTimeout <= 0 {
		chatTimeout = 60 * time.Second
	}
	if summaryTimeout <= 0 {
		summaryTimeout = 30 * time.Second
	}
	return &Client{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		model:          model,
		chatTimeout:    chatTimeout,
		summaryTimeout: summaryTimeout,
		// Timeouts are enforced per call via context, not on the http client,
		// so a streaming response can outlive any fixed client timeout.
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage usagePayload `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

// StreamChat issues one streaming chat-completions request. The returned
// stream is bounded by the configured chat timeout for its whole lifetime.
func (c *Client) StreamChat(ctx context.Context, history []ai.Message) (ai.Stream, error) {
	messages := make([]chatMessage, len(history))
	for i, m := range history {
		messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}

	body, err := json.Marshal(chatRequest{
		Model:         c.model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		cancel()
		return nil, classifyTransport(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		defer cancel()
		return nil, classifyStatus(resp)
	}

	s := &stream{
		events: make(chan string),
		cancel: cancel,
	}
	go s.consume(ctx, resp.Body)
	return s, nil
}

// GenerateSummary issues one blocking completion request using the summary
// prompt. No retries; the caller owns retry policy.
func (c *Client) GenerateSummary(ctx context.Context, content string, maxLength int) (string, ai.Usage, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: ai.SummaryPrompt(content, maxLength)},
		},
		MaxTokens: 300,
	})
	if err != nil {
		return "", ai.Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.summaryTimeout)
	defer cancel()

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", ai.Usage{}, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ai.Usage{}, classifyStatus(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", ai.Usage{}, ai.NewError(ai.KindProtocolError, "failed to decode response: %v", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", ai.Usage{}, ai.NewError(ai.KindProtocolError, "no choices in response")
	}

	usage := ai.Usage{
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
		TotalTokens:      chatResp.Usage.TotalTokens,
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), usage, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.httpClient.Do(req)
}

func classifyStatus(resp *http.Response) *ai.Error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ai.NewError(ai.KindRateLimited, "status 429: %s", bytes.TrimSpace(excerpt))
	case resp.StatusCode >= 500:
		return ai.NewError(ai.KindUnknown, "status %d: %s", resp.StatusCode, bytes.TrimSpace(excerpt))
	default:
		return ai.NewError(ai.KindProtocolError, "status %d: %s", resp.StatusCode, bytes.TrimSpace(excerpt))
	}
}

func classifyTransport(ctx context.Context, err error) *ai.Error {
	if ctx.Err() == context.DeadlineExceeded {
		return ai.NewError(ai.KindTimeout, "request deadline exceeded")
	}
	return ai.NewError(ai.KindUnknown, "request failed: %v", err)
}

// stream reads server-sent chat-completion chunks off one response body.
// Finite and non-restartable: once the body is drained or fails, Recv
// keeps returning the terminal result.
type stream struct {
	events    chan string
	cancel    context.CancelFunc
	closeOnce sync.Once

	// written by the consume goroutine before the channel closes
	err   error
	usage ai.Usage
}

// Recv returns the next non-empty fragment, io.EOF on clean exhaustion, or
// a classified *ai.Error on failure.
func (s *stream) Recv() (string, error) {
	text, ok := <-s.events
	if !ok {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	return text, nil
}

// Usage reports provider token counters; valid after Recv returned io.EOF.
func (s *stream) Usage() ai.Usage {
	return s.usage
}

// Close cancels the upstream call. Safe to call more than once.
func (s *stream) Close() {
	s.closeOnce.Do(s.cancel)
}

func (s *stream) consume(ctx context.Context, body io.ReadCloser) {
	defer close(s.events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.fail(ctx, ai.NewError(ai.KindProtocolError, "malformed stream chunk: %v", err))
			return
		}
		if chunk.Usage != nil {
			s.usage = ai.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		// An absent delta is not a meaningful token.
		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		select {
		case s.events <- text:
		case <-ctx.Done():
			s.fail(ctx, ai.NewError(ai.KindUnknown, "stream canceled"))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.fail(ctx, ai.NewError(ai.KindProtocolError, "stream read failed: %v", err))
	}
}

// fail records the terminal error, preferring the context verdict over the
// read-level symptom: a deadline that fires mid-stream surfaces as a
// timeout no matter how the body read broke.
func (s *stream) fail(ctx context.Context, fallback *ai.Error) {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		s.err = ai.NewError(ai.KindTimeout, "stream deadline exceeded")
	case context.Canceled:
		s.err = context.Canceled
	default:
		s.err = fallback
	}
	s.usage = ai.Usage{}
}
