package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// DeepSeekProvider implements Provider over DeepSeek's OpenAI-compatible
// chat completions API. The backend advertises streaming, but this adapter
// only supports unary calls; GenerateStream is a no-op stream.
type DeepSeekProvider struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewDeepSeekProvider creates a DeepSeek backend for the given model.
func NewDeepSeekProvider(model string) *DeepSeekProvider {
	return &DeepSeekProvider{
		client:  &http.Client{},
		baseURL: "https://api.deepseek.com/v1",
		model:   model,
	}
}

// NewDeepSeekProviderAt is like NewDeepSeekProvider with a custom endpoint.
func NewDeepSeekProviderAt(baseURL, model string) *DeepSeekProvider {
	p := NewDeepSeekProvider(model)
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

func (d *DeepSeekProvider) Name() string { return "deepseek" }

func (d *DeepSeekProvider) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return d.model
}

// Generate performs a unary call to the DeepSeek API.
func (d *DeepSeekProvider) Generate(ctx context.Context, req Request) (Response, error) {
	body := openAIRequest{
		Model:       d.resolveModel(req),
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, provErr(d.Name(), "marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, provErr(d.Name(), "create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return Response{}, provErr(d.Name(), "do request", 0, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return Response{}, provErr(d.Name(), "generate", httpResp.StatusCode, errors.New(string(respBody)))
	}

	var dsResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&dsResp); err != nil {
		return Response{}, provErr(d.Name(), "decode response", 0, err)
	}

	text := ""
	if len(dsResp.Choices) > 0 {
		text = dsResp.Choices[0].Message.Content
	}
	if text == "" {
		text = "[deepseek] empty response"
	}

	return Response{
		Text:         text,
		PromptTokens: dsResp.Usage.PromptTokens,
		OutputTokens: dsResp.Usage.CompletionTokens,
	}, nil
}

// GenerateStream returns a no-op stream: no chunks, no terminal event.
// The channel closes only when ctx is cancelled; the consumer's timeout is
// the backstop.
func (d *DeepSeekProvider) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	return noopStream(ctx), nil
}

// noopStream is the shared no-op stream for backends without streaming
// support.
func noopStream(ctx context.Context) <-chan StreamChunk {
	ch := make(chan StreamChunk)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
