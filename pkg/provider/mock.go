package provider

import (
	"context"
	"strings"
)

// MockProvider is a deterministic offline backend for tests and demos.
// Generate echoes the prompt; GenerateStream emits the same reply split
// into word chunks, then completes.
type MockProvider struct{}

// NewMockProvider creates the deterministic stand-in backend.
func NewMockProvider() *MockProvider { return &MockProvider{} }

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) reply(prompt string) string {
	return "[mock] received prompt: " + prompt
}

func (m *MockProvider) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, provErr(m.Name(), "generate", 0, err)
	}
	return Response{Text: m.reply(req.Prompt)}, nil
}

func (m *MockProvider) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	words := strings.Fields(m.reply(req.Prompt))

	ch := make(chan StreamChunk, len(words)+1)
	go func() {
		defer close(ch)
		for i, w := range words {
			select {
			case <-ctx.Done():
				ch <- StreamChunk{Err: ctx.Err()}
				return
			default:
			}
			if i < len(words)-1 {
				w += " "
			}
			ch <- StreamChunk{Text: w}
		}
		ch <- StreamChunk{Done: true}
	}()
	return ch, nil
}
