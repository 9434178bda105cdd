package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/airelay/chat-gateway/internal/ai"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Client implements ai.Client against the Gemini API.
type Client struct {
	apiKey         string
	model          string
	chatTimeout    time.Duration
	summaryTimeout time.Duration
}

// NewClient creates a new Gemini client
func NewClient(apiKey, model string, chatTimeout, summaryTimeout time.Duration) *Client {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if chatTimeout <= 0 {
		chatTimeout = 60 * time.Second
	}
	if summaryTimeout <= 0 {
		summaryTimeout = 30 * time.Second
	}
	return &Client{
		apiKey:         apiKey,
		model:          model,
		chatTimeout:    chatTimeout,
		summaryTimeout: summaryTimeout,
	}
}

// StreamChat issues one streaming generateContent call for the prompt window.
func (c *Client) StreamChat(ctx context.Context, history []ai.Message) (ai.Stream, error) {
	if len(history) == 0 {
		return nil, ai.NewError(ai.KindProtocolError, "empty prompt window")
	}

	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		cancel()
		return nil, classify(ctx, err)
	}

	model := client.GenerativeModel(c.model)
	cs := model.StartChat()

	system, turns, last := promptLayout(history)
	model.SystemInstruction = system
	cs.History = turns

	s := &stream{
		events: make(chan string),
		cancel: cancel,
	}
	go s.consume(ctx, client, cs.SendMessageStream(ctx, genai.Text(last.Content)))
	return s, nil
}

// GenerateSummary issues one blocking generateContent call using the shared
// summary prompt.
func (c *Client) GenerateSummary(ctx context.Context, content string, maxLength int) (string, ai.Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.summaryTimeout)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return "", ai.Usage{}, classify(ctx, err)
	}
	defer client.Close()

	model := client.GenerativeModel(c.model)
	model.SetMaxOutputTokens(300)

	resp, err := model.GenerateContent(ctx, genai.Text(ai.SummaryPrompt(content, maxLength)))
	if err != nil {
		return "", ai.Usage{}, classify(ctx, err)
	}

	text := responseText(resp)
	if text == "" {
		return "", ai.Usage{}, ai.NewError(ai.KindProtocolError, "no text in response")
	}
	return strings.TrimSpace(text), usageOf(resp), nil
}

// promptLayout splits the prompt window into Gemini's shape: system messages
// become the system instruction, prior turns become chat history (assistant
// maps to the "model" role), and the final message is the outgoing prompt.
func promptLayout(history []ai.Message) (system *genai.Content, turns []*genai.Content, last ai.Message) {
	last = history[len(history)-1]
	for _, m := range history[:len(history)-1] {
		switch m.Role {
		case ai.RoleSystem:
			system = &genai.Content{
				Parts: []genai.Part{genai.Text(m.Content)},
			}
		case ai.RoleAssistant:
			turns = append(turns, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		default:
			turns = append(turns, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		}
	}
	return system, turns, last
}

func responseText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

func usageOf(resp *genai.GenerateContentResponse) ai.Usage {
	if resp.UsageMetadata == nil {
		return ai.Usage{}
	}
	return ai.Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return ai.NewError(ai.KindTimeout, "request deadline exceeded")
	}
	if ctx.Err() == context.Canceled {
		return context.Canceled
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 429:
			return ai.NewError(ai.KindRateLimited, "status 429: %s", gerr.Message)
		case gerr.Code >= 500:
			return ai.NewError(ai.KindUnknown, "status %d: %s", gerr.Code, gerr.Message)
		default:
			return ai.NewError(ai.KindProtocolError, "status %d: %s", gerr.Code, gerr.Message)
		}
	}
	return ai.NewError(ai.KindUnknown, "%v", err)
}

type stream struct {
	events    chan string
	cancel    context.CancelFunc
	closeOnce sync.Once

	err   error
	usage ai.Usage
}

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

func (s *stream) Usage() ai.Usage {
	return s.usage
}

func (s *stream) Close() {
	s.closeOnce.Do(s.cancel)
}

func (s *stream) consume(ctx context.Context, client *genai.Client, iter *genai.GenerateContentResponseIterator) {
	defer close(s.events)
	defer client.Close()

	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			return
		}
		if err != nil {
			s.err = classify(ctx, err)
			s.usage = ai.Usage{}
			return
		}

		if resp.UsageMetadata != nil {
			s.usage = usageOf(resp)
		}
		text := responseText(resp)
		if text == "" {
			continue
		}

		select {
		case s.events <- text:
		case <-ctx.Done():
			s.err = classify(ctx, fmt.Errorf("stream canceled"))
			s.usage = ai.Usage{}
			return
		}
	}
}
