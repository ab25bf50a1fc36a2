package chat

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mushan/thinkspeak/pkg/provider"
	"github.com/mushan/thinkspeak/pkg/resilience"
)

// fakeProvider is a scriptable backend: it fails failBefore times before
// succeeding and records every call.
type fakeProvider struct {
	mu         sync.Mutex
	calls      int
	failBefore int
	text       string
	streamErr  error
	chunks     []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failBefore {
		return provider.Response{}, &provider.Error{Provider: "fake", Op: "generate", Status: 503, Err: errors.New("unavailable")}
	}
	return provider.Response{Text: f.text}, nil
}

func (f *fakeProvider) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failBefore
	f.mu.Unlock()

	if fail {
		return nil, &provider.Error{Provider: "fake", Op: "stream", Status: 503, Err: errors.New("unavailable")}
	}

	ch := make(chan provider.StreamChunk, len(f.chunks)+1)
	for _, c := range f.chunks {
		ch <- provider.StreamChunk{Text: c}
	}
	if f.streamErr != nil {
		ch <- provider.StreamChunk{Err: f.streamErr}
	} else {
		ch <- provider.StreamChunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func newTestOrchestrator(p provider.Provider) *Orchestrator {
	return NewOrchestrator(Config{
		Registry: provider.NewRegistry(map[provider.ID]provider.Provider{
			provider.Mock: p,
		}),
		RetryConfig: resilience.RetryConfig{MaxAttempts: 3, Delay: time.Millisecond},
	})
}

func TestGenerateReplyFirstAttemptPassthrough(t *testing.T) {
	fake := &fakeProvider{text: "exact adapter text"}
	o := newTestOrchestrator(fake)

	reply, err := o.GenerateReply(context.Background(), ReplyRequest{
		Persona:     "pirate",
		UserMessage: "ahoy",
		Provider:    provider.Mock,
	})
	if err != nil {
		t.Fatalf("GenerateReply error: %v", err)
	}
	if reply.Text != "exact adapter text" {
		t.Fatalf("Text = %q", reply.Text)
	}
	if reply.Fallback {
		t.Fatalf("successful generation flagged as fallback")
	}
	if fake.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", fake.callCount())
	}
}

func TestGenerateReplyRetriesThenSucceeds(t *testing.T) {
	fake := &fakeProvider{failBefore: 2, text: "third time lucky"}
	o := newTestOrchestrator(fake)

	reply, err := o.GenerateReply(context.Background(), ReplyRequest{UserMessage: "hi", Provider: provider.Mock})
	if err != nil {
		t.Fatalf("GenerateReply error: %v", err)
	}
	if reply.Text != "third time lucky" || reply.Fallback {
		t.Fatalf("reply = %+v", reply)
	}
	if fake.callCount() != 3 {
		t.Fatalf("calls = %d, want 3", fake.callCount())
	}
}

func TestGenerateReplyFallsBackAfterExhaustion(t *testing.T) {
	fake := &fakeProvider{failBefore: 100}
	o := newTestOrchestrator(fake)

	reply, err := o.GenerateReply(context.Background(), ReplyRequest{
		Persona:     "pirate",
		UserMessage: "ahoy",
		Provider:    provider.Mock,
	})
	if err != nil {
		t.Fatalf("fallback path must not surface an error, got %v", err)
	}
	if fake.callCount() != 3 {
		t.Fatalf("calls = %d, want 3", fake.callCount())
	}
	if !reply.Fallback {
		t.Fatalf("expected fallback reply")
	}
	if reply.Text == "" {
		t.Fatalf("fallback reply must be non-empty")
	}
	if !strings.Contains(reply.Text, "pirate") || !strings.Contains(reply.Text, "ahoy") {
		t.Fatalf("fallback should embed persona and message: %q", reply.Text)
	}
}

func TestGenerateReplyUnknownProvider(t *testing.T) {
	fake := &fakeProvider{text: "never"}
	o := newTestOrchestrator(fake)

	_, err := o.GenerateReply(context.Background(), ReplyRequest{UserMessage: "hi", Provider: provider.OpenAI})
	var unknown *provider.ErrUnknownProvider
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *ErrUnknownProvider, got %v", err)
	}
	if fake.callCount() != 0 {
		t.Fatalf("unknown provider must not invoke any adapter, calls = %d", fake.callCount())
	}
}

func TestGenerateReplyStreamOrdering(t *testing.T) {
	fake := &fakeProvider{chunks: []string{"A", "B", "C"}}
	o := newTestOrchestrator(fake)

	ch, err := o.GenerateReplyStream(context.Background(), ReplyRequest{UserMessage: "hi", Provider: provider.Mock})
	if err != nil {
		t.Fatalf("GenerateReplyStream error: %v", err)
	}

	var got []string
	terminal := false
	for chunk := range ch {
		if terminal {
			t.Fatalf("chunk after terminal event: %+v", chunk)
		}
		if chunk.Terminal() {
			terminal = true
			if chunk.Err != nil {
				t.Fatalf("unexpected terminal error: %v", chunk.Err)
			}
			continue
		}
		got = append(got, chunk.Text)
	}
	if !terminal {
		t.Fatalf("stream closed without a terminal event")
	}
	if strings.Join(got, "") != "ABC" {
		t.Fatalf("chunks = %v, want A,B,C in order", got)
	}
}

func TestGenerateReplyStreamInitiationRetry(t *testing.T) {
	fake := &fakeProvider{failBefore: 2, chunks: []string{"ok"}}
	o := newTestOrchestrator(fake)

	ch, err := o.GenerateReplyStream(context.Background(), ReplyRequest{UserMessage: "hi", Provider: provider.Mock})
	if err != nil {
		t.Fatalf("initiation should succeed on the third attempt: %v", err)
	}
	if fake.callCount() != 3 {
		t.Fatalf("calls = %d, want 3", fake.callCount())
	}
	for range ch {
	}
}

func TestGenerateReplyStreamInitiationExhausted(t *testing.T) {
	fake := &fakeProvider{failBefore: 100}
	o := newTestOrchestrator(fake)

	_, err := o.GenerateReplyStream(context.Background(), ReplyRequest{UserMessage: "hi", Provider: provider.Mock})
	if err == nil {
		t.Fatalf("expected initiation error; streaming has no text fallback")
	}
	if fake.callCount() != 3 {
		t.Fatalf("calls = %d, want 3", fake.callCount())
	}
}

func TestGenerateReplyStreamMidStreamErrorIsTerminal(t *testing.T) {
	fake := &fakeProvider{chunks: []string{"partial"}, streamErr: errors.New("connection reset")}
	o := newTestOrchestrator(fake)

	ch, err := o.GenerateReplyStream(context.Background(), ReplyRequest{UserMessage: "hi", Provider: provider.Mock})
	if err != nil {
		t.Fatalf("GenerateReplyStream error: %v", err)
	}

	var errs int
	for chunk := range ch {
		if chunk.Err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("error reported %d times, want exactly once", errs)
	}
	// Mid-stream failure is terminal, never replayed.
	if fake.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", fake.callCount())
	}
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt("pirate", "USER: hi\n", "ahoy")
	if !strings.HasSuffix(got, "Assistant:\n") {
		t.Fatalf("prompt must end with the Assistant cue: %q", got)
	}
	for _, want := range []string{"pirate", "History:\nUSER: hi\n", "User: ahoy"} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q: %q", want, got)
		}
	}

	empty := BuildPrompt("", "", "hi")
	if strings.Contains(empty, "<nil>") {
		t.Fatalf("empty persona/history must render as blanks: %q", empty)
	}
}

// floodProvider pre-fills its stream with many chunks so a slow or absent
// consumer backs the forwarder up against a full channel.
type floodProvider struct {
	chunks int
}

func (f *floodProvider) Name() string { return "flood" }

func (f *floodProvider) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	return provider.Response{Text: "flood"}, nil
}

func (f *floodProvider) GenerateStream(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk, f.chunks+1)
	for i := 0; i < f.chunks; i++ {
		ch <- provider.StreamChunk{Text: "x"}
	}
	ch <- provider.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestGenerateReplyStreamAbandonedConsumerReleasesForwarder(t *testing.T) {
	o := newTestOrchestrator(&floodProvider{chunks: 100})

	before := runtime.NumGoroutine()

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := o.GenerateReplyStream(ctx, ReplyRequest{UserMessage: "hi", Provider: provider.Mock}); err != nil {
		t.Fatalf("GenerateReplyStream error: %v", err)
	}

	// Read nothing; the forwarder fills the output buffer and blocks.
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("forwarder still running after cancel: %d -> %d goroutines", before, runtime.NumGoroutine())
}

func TestGenerateReplyMockEndToEnd(t *testing.T) {
	o := newTestOrchestrator(provider.NewMockProvider())

	reply, err := o.GenerateReply(context.Background(), ReplyRequest{
		Persona:     "pirate",
		History:     "USER: hi\n",
		UserMessage: "ahoy",
		Provider:    provider.Mock,
	})
	if err != nil {
		t.Fatalf("GenerateReply error: %v", err)
	}
	want := "[mock] received prompt: " + BuildPrompt("pirate", "USER: hi\n", "ahoy")
	if reply.Text != want {
		t.Fatalf("reply = %q, want %q", reply.Text, want)
	}
	if reply.Fallback || reply.CacheHit {
		t.Fatalf("reply flags = %+v", reply)
	}
}

// fakeCache is an in-memory ReplyCache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]provider.Response
}

func (c *fakeCache) Get(ctx context.Context, prompt string) (provider.Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.entries[prompt]
	return resp, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, prompt string, resp provider.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[prompt] = resp
	return nil
}

func TestGenerateReplyCacheHitSkipsAdapter(t *testing.T) {
	fake := &fakeProvider{text: "fresh"}
	cache := &fakeCache{entries: map[string]provider.Response{
		BuildPrompt("", "", "hi"): {Text: "cached"},
	}}

	o := NewOrchestrator(Config{
		Registry:    provider.NewRegistry(map[provider.ID]provider.Provider{provider.Mock: fake}),
		RetryConfig: resilience.RetryConfig{MaxAttempts: 3, Delay: time.Millisecond},
		Cache:       cache,
	})

	reply, err := o.GenerateReply(context.Background(), ReplyRequest{UserMessage: "hi", Provider: provider.Mock})
	if err != nil {
		t.Fatalf("GenerateReply error: %v", err)
	}
	if !reply.CacheHit || reply.Text != "cached" {
		t.Fatalf("reply = %+v, want cache hit", reply)
	}
	if fake.callCount() != 0 {
		t.Fatalf("cache hit must not call the adapter, calls = %d", fake.callCount())
	}
}

func TestGenerateReplyFallbackNotCached(t *testing.T) {
	fake := &fakeProvider{failBefore: 100}
	cache := &fakeCache{entries: map[string]provider.Response{}}

	o := NewOrchestrator(Config{
		Registry:    provider.NewRegistry(map[provider.ID]provider.Provider{provider.Mock: fake}),
		RetryConfig: resilience.RetryConfig{MaxAttempts: 2, Delay: time.Millisecond},
		Cache:       cache,
	})

	if _, err := o.GenerateReply(context.Background(), ReplyRequest{UserMessage: "hi", Provider: provider.Mock}); err != nil {
		t.Fatalf("GenerateReply error: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // async store would have landed by now
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.entries) != 0 {
		t.Fatalf("fallback replies must not be cached: %v", cache.entries)
	}
}
