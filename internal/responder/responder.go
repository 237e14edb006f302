// Package responder provides the personaRespond capability: in-character
// text for an assembled context. The core never synthesizes fallback text
// itself; failures surface to the caller.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PersonaResponder produces in-character text given a context string.
type PersonaResponder interface {
	Respond(ctx context.Context, characterID, prompt string) (string, error)
}

// Config controls responder construction.
type Config struct {
	Mode    string // auto | openrouter | mock
	BaseURL string
	APIKey  string
	Model   string
}

// New builds a responder by mode. Auto prefers OpenRouter when a key is
// configured and otherwise falls back to the deterministic mock.
func New(cfg Config) (PersonaResponder, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenRouterClient(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
		}
		return NewMock(), nil
	case "openrouter":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("openrouter API key is required for openrouter mode")
		}
		return NewOpenRouterClient(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported responder mode %q", cfg.Mode)
	}
}

// Mock provides deterministic local replies when no LLM is configured.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Respond(ctx context.Context, characterID, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	line := lastNonEmptyLine(prompt)
	if line == "" {
		return fmt.Sprintf("[%s] I'm listening.", characterID), nil
	}
	return fmt.Sprintf("[%s] Noted: %s", characterID, line), nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
