package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// OpenAIProvider implements Provider over OpenAI's Chat Completions API.
type OpenAIProvider struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewOpenAIProvider creates an OpenAI backend for the given model.
func NewOpenAIProvider(model string) *OpenAIProvider {
	return &OpenAIProvider{
		client:  &http.Client{},
		baseURL: "https://api.openai.com/v1",
		model:   model,
	}
}

// NewOpenAIProviderAt is like NewOpenAIProvider with a custom endpoint.
// Used for OpenAI-compatible servers and tests.
func NewOpenAIProviderAt(baseURL, model string) *OpenAIProvider {
	p := NewOpenAIProvider(model)
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

func (o *OpenAIProvider) Name() string { return "openai" }

// ---------------------------------------------------------------------------
// Request / Response types for OpenAI Chat Completions
// ---------------------------------------------------------------------------

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	MaxTokens   int32           `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int32 `json:"prompt_tokens"`
		CompletionTokens int32 `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int32 `json:"prompt_tokens"`
		CompletionTokens int32 `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

func (o *OpenAIProvider) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return o.model
}

// ---------------------------------------------------------------------------
// Generate — unary call
// ---------------------------------------------------------------------------

func (o *OpenAIProvider) Generate(ctx context.Context, req Request) (Response, error) {
	body := openAIRequest{
		Model:       o.resolveModel(req),
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, provErr(o.Name(), "marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, provErr(o.Name(), "create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, provErr(o.Name(), "do request", 0, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return Response{}, provErr(o.Name(), "generate", httpResp.StatusCode, errors.New(string(respBody)))
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&oaiResp); err != nil {
		return Response{}, provErr(o.Name(), "decode response", 0, err)
	}

	text := ""
	if len(oaiResp.Choices) > 0 {
		text = oaiResp.Choices[0].Message.Content
	}
	if text == "" {
		// Placeholder keeps the orchestrator's fallback logic distinguishable
		// from an adapter error.
		text = "[openai] empty response"
	}

	return Response{
		Text:         text,
		PromptTokens: oaiResp.Usage.PromptTokens,
		OutputTokens: oaiResp.Usage.CompletionTokens,
	}, nil
}

// ---------------------------------------------------------------------------
// GenerateStream — SSE streaming call
// ---------------------------------------------------------------------------

func (o *OpenAIProvider) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	body := openAIRequest{
		Model:       o.resolveModel(req),
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, provErr(o.Name(), "marshal stream request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, provErr(o.Name(), "create stream request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, provErr(o.Name(), "stream request", 0, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, provErr(o.Name(), "stream", httpResp.StatusCode, errors.New(string(respBody)))
	}

	ch := make(chan StreamChunk, 16)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		var totalPromptTokens, totalOutputTokens int32

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				emit(ctx, ch, StreamChunk{Err: ctx.Err()})
				return
			default:
			}

			line := scanner.Text()

			// SSE format: lines starting with "data: "
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")

			// End of stream
			if data == "[DONE]" {
				emit(ctx, ch, StreamChunk{
					Done:         true,
					PromptTokens: totalPromptTokens,
					OutputTokens: totalOutputTokens,
				})
				return
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				emit(ctx, ch, StreamChunk{Err: provErr(o.Name(), "stream decode", 0, err)})
				return
			}

			if chunk.Usage != nil {
				totalPromptTokens = chunk.Usage.PromptTokens
				totalOutputTokens = chunk.Usage.CompletionTokens
			}

			var text string
			if len(chunk.Choices) > 0 {
				text = chunk.Choices[0].Delta.Content
			}

			if text != "" {
				if !emit(ctx, ch, StreamChunk{Text: text}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			emit(ctx, ch, StreamChunk{Err: provErr(o.Name(), "stream scan", 0, err)})
		} else {
			emit(ctx, ch, StreamChunk{Done: true, PromptTokens: totalPromptTokens, OutputTokens: totalOutputTokens})
		}
	}()

	return ch, nil
}
