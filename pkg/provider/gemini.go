package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// GeminiProvider implements Provider over Google's Gemini API.
type GeminiProvider struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewGeminiProvider creates a Gemini backend for the given model.
func NewGeminiProvider(model string) *GeminiProvider {
	return &GeminiProvider{
		client:  &http.Client{},
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		model:   model,
	}
}

// NewGeminiProviderAt is like NewGeminiProvider with a custom endpoint.
func NewGeminiProviderAt(baseURL, model string) *GeminiProvider {
	p := NewGeminiProvider(model)
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

func (g *GeminiProvider) Name() string { return "gemini" }

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int32   `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int32 `json:"promptTokenCount"`
		CandidatesTokenCount int32 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (g *GeminiProvider) resolveModel(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.model
}

func geminiText(resp geminiResponse) string {
	if len(resp.Candidates) > 0 && len(resp.Candidates[0].Content.Parts) > 0 {
		return resp.Candidates[0].Content.Parts[0].Text
	}
	return ""
}

// Generate performs a unary call to the Gemini API.
func (g *GeminiProvider) Generate(ctx context.Context, req Request) (Response, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.resolveModel(req), req.APIKey)

	body := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, provErr(g.Name(), "marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, provErr(g.Name(), "create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, provErr(g.Name(), "do request", 0, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return Response{}, provErr(g.Name(), "generate", httpResp.StatusCode, errors.New(string(respBody)))
	}

	var gemResp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&gemResp); err != nil {
		return Response{}, provErr(g.Name(), "decode response", 0, err)
	}

	text := geminiText(gemResp)
	if text == "" {
		text = "[gemini] empty response"
	}

	return Response{
		Text:         text,
		PromptTokens: gemResp.UsageMetadata.PromptTokenCount,
		OutputTokens: gemResp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// GenerateStream performs a streaming call to the Gemini API.
func (g *GeminiProvider) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s&alt=sse", g.baseURL, g.resolveModel(req), req.APIKey)

	body := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, provErr(g.Name(), "marshal stream request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, provErr(g.Name(), "create stream request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, provErr(g.Name(), "stream request", 0, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, provErr(g.Name(), "stream", httpResp.StatusCode, errors.New(string(respBody)))
	}

	ch := make(chan StreamChunk, 16)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		var promptTokens, outputTokens int32
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				emit(ctx, ch, StreamChunk{Err: ctx.Err()})
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}

			var gemResp geminiResponse
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &gemResp); err != nil {
				emit(ctx, ch, StreamChunk{Err: provErr(g.Name(), "stream decode", 0, err)})
				return
			}

			promptTokens = gemResp.UsageMetadata.PromptTokenCount
			outputTokens = gemResp.UsageMetadata.CandidatesTokenCount

			if text := geminiText(gemResp); text != "" {
				if !emit(ctx, ch, StreamChunk{Text: text}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, ch, StreamChunk{Err: provErr(g.Name(), "stream read", 0, err)})
			return
		}
		emit(ctx, ch, StreamChunk{Done: true, PromptTokens: promptTokens, OutputTokens: outputTokens})
	}()

	return ch, nil
}
