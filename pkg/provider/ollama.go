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

// OllamaProvider implements Provider over a local Ollama server.
// Streaming is disabled on the wire (stream:false); GenerateStream is a
// no-op stream like DeepSeek's.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewOllamaProvider creates an Ollama backend for the given server and model.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaProvider{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
	}
}

func (o *OllamaProvider) Name() string { return "ollama" }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int32  `json:"prompt_eval_count"`
	EvalCount       int32  `json:"eval_count"`
}

func (o *OllamaProvider) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return o.model
}

// Generate performs a unary call against /api/generate.
func (o *OllamaProvider) Generate(ctx context.Context, req Request) (Response, error) {
	body := ollamaRequest{
		Model:  o.resolveModel(req),
		Prompt: req.Prompt,
		Stream: false,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, provErr(o.Name(), "marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, provErr(o.Name(), "create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return Response{}, provErr(o.Name(), "do request", 0, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return Response{}, provErr(o.Name(), "generate", httpResp.StatusCode, errors.New(string(respBody)))
	}

	var ollResp ollamaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&ollResp); err != nil {
		return Response{}, provErr(o.Name(), "decode response", 0, err)
	}

	text := ollResp.Response
	if text == "" {
		text = "[ollama] empty response"
	}

	return Response{
		Text:         text,
		PromptTokens: ollResp.PromptEvalCount,
		OutputTokens: ollResp.EvalCount,
	}, nil
}

// GenerateStream returns a no-op stream (see DeepSeekProvider).
func (o *OllamaProvider) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	return noopStream(ctx), nil
}
