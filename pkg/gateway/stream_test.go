package gateway

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mushan/thinkspeak/pkg/chat"
	"github.com/mushan/thinkspeak/pkg/provider"
	"github.com/mushan/thinkspeak/pkg/resilience"
)

func TestStreamMessageSSE(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.StreamTimeout = 2 * time.Second
	mux := srv.Routes()

	rec := doJSON(t, mux, "GET", "/api/conversations/1/stream_message?message=ahoy&persona=pirate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: ") {
		t.Fatalf("no data events in %q", body)
	}
	if !strings.HasSuffix(body, "event: done\ndata: \n\n") {
		t.Fatalf("stream must end with a done event, got %q", body)
	}
	if strings.Contains(body, "event: error") {
		t.Fatalf("unexpected error event in %q", body)
	}
}

func TestStreamMessageValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	mux := srv.Routes()

	if rec := doJSON(t, mux, "GET", "/api/conversations/abc/stream_message?message=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id status = %d", rec.Code)
	}
	if rec := doJSON(t, mux, "GET", "/api/conversations/1/stream_message?message=x&provider=WATSON", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown provider status = %d", rec.Code)
	}
}

// silentProvider initiates a stream that never emits, closing only on
// context cancellation.
type silentProvider struct{}

func (silentProvider) Name() string { return "silent" }

func (silentProvider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	return provider.Response{Text: "quiet"}, nil
}

func (silentProvider) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func TestStreamMessageTimeoutBackstop(t *testing.T) {
	orch := chat.NewOrchestrator(chat.Config{
		Registry: provider.NewRegistry(map[provider.ID]provider.Provider{
			provider.Ollama: silentProvider{},
		}),
		RetryConfig: resilience.RetryConfig{MaxAttempts: 1, Delay: time.Millisecond},
	})
	srv := &Server{
		Orchestrator:          orch,
		DefaultStreamProvider: provider.Ollama,
		StreamTimeout:         30 * time.Millisecond,
	}
	mux := srv.Routes()

	start := time.Now()
	rec := doJSON(t, mux, "GET", "/api/conversations/1/stream_message?message=x", "")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("handler did not respect the timeout, took %v", elapsed)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "event: error\ndata: stream timeout") {
		t.Fatalf("expected timeout event, got %q", rec.Body.String())
	}
}
