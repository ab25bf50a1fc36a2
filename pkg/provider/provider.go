// Package provider defines the generation backend interface and shared types.
package provider

import (
	"context"
	"fmt"
)

// Request carries one generation request to a backend.
type Request struct {
	Model       string
	Prompt      string
	Temperature float32
	MaxTokens   int32
	APIKey      string // Injected by the key pool
}

// Response is a complete (non-streaming) generation result.
type Response struct {
	Text         string
	PromptTokens int32
	OutputTokens int32
}

// StreamChunk is a single event on a streaming generation.
// A stream is zero-or-more text chunks followed by exactly one terminal
// chunk: either Done or a non-nil Err. Nothing follows a terminal chunk.
type StreamChunk struct {
	Text         string
	Done         bool
	PromptTokens int32 // Set on final chunk
	OutputTokens int32 // Set on final chunk
	Err          error
}

// Terminal reports whether this chunk ends the stream.
func (c StreamChunk) Terminal() bool { return c.Done || c.Err != nil }

// Provider is the interface every generation backend implements.
type Provider interface {
	// Name returns the backend identifier (e.g. "openai", "ollama").
	Name() string

	// Generate performs one synchronous generation call. The context should
	// carry a deadline. An adapter that receives no usable content returns a
	// placeholder string, never "".
	Generate(ctx context.Context, req Request) (Response, error)

	// GenerateStream starts a streaming generation and returns a channel of
	// StreamChunks. The channel is closed after the terminal chunk or when
	// the context is cancelled. Backends without streaming support return a
	// channel that emits nothing and closes only on context cancellation;
	// consumers apply their own timeout.
	GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// Error is a backend fault: network failure, non-2xx status, malformed
// payload or timeout. Status is zero when no HTTP status applies.
type Error struct {
	Provider string
	Status   int
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func provErr(name, op string, status int, err error) *Error {
	return &Error{Provider: name, Op: op, Status: status, Err: err}
}

// emit delivers one chunk unless ctx is cancelled first. Reports whether the
// chunk was sent; emitters stop on false so an abandoned consumer never
// strands the streaming goroutine on a full channel.
func emit(ctx context.Context, ch chan<- StreamChunk, c StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
