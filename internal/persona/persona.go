// Package persona holds the character definitions consumed by the group
// orchestrator and the single-persona chat flow.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Traits are the numeric personality dimensions used by the social
// calculations. All values are clamped to [0,1] at construction.
type Traits struct {
	Dominance     float64 `json:"dominance"`
	Agreeableness float64 `json:"agreeableness"`
	Openness      float64 `json:"openness"`
	Extraversion  float64 `json:"extraversion"`
	Humor         float64 `json:"humor"`
}

func (t Traits) clamped() Traits {
	return Traits{
		Dominance:     clamp01(t.Dominance),
		Agreeableness: clamp01(t.Agreeableness),
		Openness:      clamp01(t.Openness),
		Extraversion:  clamp01(t.Extraversion),
		Humor:         clamp01(t.Humor),
	}
}

// Character is one simulated participant.
type Character struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	SpeakingStyle string `json:"speaking_style"`
	Traits        Traits `json:"traits"`
}

// NewCharacter validates and normalizes a character definition.
func NewCharacter(id, name, description, style string, traits Traits) (Character, error) {
	if strings.TrimSpace(id) == "" {
		return Character{}, fmt.Errorf("character id is required")
	}
	if strings.TrimSpace(name) == "" {
		name = id
	}
	return Character{
		ID:            id,
		Name:          name,
		Description:   description,
		SpeakingStyle: style,
		Traits:        traits.clamped(),
	}, nil
}

// Registry is a concurrency-safe lookup of characters by id.
type Registry struct {
	mu    sync.RWMutex
	chars map[string]Character
}

func NewRegistry() *Registry {
	return &Registry{chars: make(map[string]Character)}
}

func (r *Registry) Register(c Character) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Traits = c.Traits.clamped()
	r.chars[c.ID] = c
}

func (r *Registry) Get(id string) (Character, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chars[id]
	return c, ok
}

// IDs returns all registered character ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.chars))
	for id := range r.chars {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadFile reads a JSON array of characters into the registry.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read personas file: %w", err)
	}
	var chars []Character
	if err := json.Unmarshal(data, &chars); err != nil {
		return fmt.Errorf("parse personas file: %w", err)
	}
	for _, c := range chars {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("personas file contains a character without an id")
		}
		r.Register(c)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
