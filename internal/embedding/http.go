package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEmbedder calls an Ollama-compatible embedding endpoint
// (POST {base}/api/embeddings).
type HTTPEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

func NewHTTPEmbedder(baseURL, model string, dims int) *HTTPEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if dims <= 0 {
		dims = 768
	}
	return &HTTPEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *HTTPEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(b))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) != e.dims {
		return nil, fmt.Errorf("embedding length %d, want %d", len(out.Embedding), e.dims)
	}
	return out.Embedding, nil
}

func (e *HTTPEmbedder) Dimensions() int { return e.dims }
