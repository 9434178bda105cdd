package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/airelay/chat-gateway/internal/ai"
)

func sseChunk(delta string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", delta)
}

func drain(t *testing.T, s ai.Stream) ([]string, error) {
	t.Helper()
	var fragments []string
	for {
		text, err := s.Recv()
		if err == io.EOF {
			return fragments, nil
		}
		if err != nil {
			return fragments, err
		}
		fragments = append(fragments, text)
	}
}

func TestStreamChat_CollectsFragmentsAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization header mismatch: got %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseChunk("Hello"))
		io.WriteString(w, sseChunk(" world"))
		// empty delta must be filtered, not surfaced
		io.WriteString(w, sseChunk(""))
		io.WriteString(w, `data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient("test-key", srv.URL, "test-model", time.Minute, time.Minute)
	stream, err := client.StreamChat(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	defer stream.Close()

	fragments, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(fragments) != 2 || fragments[0] != "Hello" || fragments[1] != " world" {
		t.Errorf("unexpected fragments: %v", fragments)
	}

	usage := stream.Usage()
	if usage.TotalTokens != 16 || usage.PromptTokens != 12 {
		t.Errorf("unexpected usage: %+v", usage)
	}
}

func TestStreamChat_RateLimitedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("k", srv.URL, "m", time.Minute, time.Minute)
	_, err := client.StreamChat(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if kind := ai.Classify(err); kind != ai.KindRateLimited {
		t.Errorf("expected rate_limited, got %s", kind)
	}
}

func TestStreamChat_ClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient("k", srv.URL, "m", time.Minute, time.Minute)
	_, err := client.StreamChat(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if kind := ai.Classify(err); kind != ai.KindProtocolError {
		t.Errorf("expected protocol_error, got %s", kind)
	}
}

func TestStreamChat_TimeoutBeforeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient("k", srv.URL, "m", 50*time.Millisecond, time.Minute)
	_, err := client.StreamChat(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if kind := ai.Classify(err); kind != ai.KindTimeout {
		t.Errorf("expected timeout, got %s: %v", kind, err)
	}
}

func TestStreamChat_TimeoutMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		io.WriteString(w, sseChunk("part1"))
		io.WriteString(w, sseChunk("part2"))
		flusher.Flush()
		// Hold the connection open past the client's deadline.
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient("k", srv.URL, "m", 150*time.Millisecond, time.Minute)
	stream, err := client.StreamChat(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	defer stream.Close()

	fragments, err := drain(t, stream)
	if err == nil {
		t.Fatal("expected mid-stream error, got clean EOF")
	}
	if len(fragments) != 2 {
		t.Errorf("expected 2 fragments before the failure, got %v", fragments)
	}
	if kind := ai.Classify(err); kind != ai.KindTimeout {
		t.Errorf("expected timeout, got %s: %v", kind, err)
	}
	// Usage from a failed stream is meaningless and must be zeroed.
	if stream.Usage() != (ai.Usage{}) {
		t.Errorf("expected zero usage, got %+v", stream.Usage())
	}
}

func TestStreamChat_MalformedChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseChunk("ok"))
		io.WriteString(w, "data: {not json}\n\n")
	}))
	defer srv.Close()

	client := NewClient("k", srv.URL, "m", time.Minute, time.Minute)
	stream, err := client.StreamChat(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	defer stream.Close()

	_, err = drain(t, stream)
	if kind := ai.Classify(err); kind != ai.KindProtocolError {
		t.Errorf("expected protocol_error, got %s: %v", kind, err)
	}
}

func TestStreamChat_CloseCancelsUpstream(t *testing.T) {
	released := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseChunk("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}))
	defer srv.Close()

	client := NewClient("k", srv.URL, "m", time.Minute, time.Minute)
	stream, err := client.StreamChat(context.Background(), []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}

	if _, err := stream.Recv(); err != nil {
		t.Fatalf("first recv: %v", err)
	}
	stream.Close()

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request was not canceled by Close")
	}
}

func TestGenerateSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"content":" 这是摘要 "}}],"usage":{"prompt_tokens":100,"completion_tokens":20,"total_tokens":120}}`)
	}))
	defer srv.Close()

	client := NewClient("k", srv.URL, "m", time.Minute, time.Minute)
	summary, usage, err := client.GenerateSummary(context.Background(), "一篇长文章", 100)
	if err != nil {
		t.Fatalf("generate summary: %v", err)
	}
	if summary != "这是摘要" {
		t.Errorf("summary mismatch: got %q", summary)
	}
	if usage.TotalTokens != 120 {
		t.Errorf("usage mismatch: %+v", usage)
	}
}

func TestGenerateSummary_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	client := NewClient("k", srv.URL, "m", time.Minute, time.Minute)
	_, _, err := client.GenerateSummary(context.Background(), "内容", 100)

	var ue *ai.Error
	if !errors.As(err, &ue) || ue.Kind != ai.KindProtocolError {
		t.Errorf("expected protocol_error, got %v", err)
	}
}
