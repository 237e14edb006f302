package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ensemble-labs/ensemble/internal/reliability"
)

// OpenRouterClient implements PersonaResponder against an OpenRouter-style
// chat-completions API. Retries on transient failures happen here, on the
// transport side; the core never retries.
type OpenRouterClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client

	maxElapsed time.Duration
}

func NewOpenRouterClient(baseURL, apiKey, model string) *OpenRouterClient {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if model == "" {
		model = "openrouter/auto"
	}
	return &OpenRouterClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		client:     &http.Client{Timeout: 60 * time.Second},
		maxElapsed: 90 * time.Second,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenRouterClient) Respond(ctx context.Context, characterID, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	var text string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			err := fmt.Errorf("responder returned %d for %s: %s", resp.StatusCode, characterID, string(body))
			if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
				return err
			}
			return backoff.Permanent(err)
		}

		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode chat response: %w", err))
		}
		if len(out.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("responder returned no choices for %s", characterID))
		}
		text = out.Choices[0].Message.Content
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", err
	}
	return text, nil
}
