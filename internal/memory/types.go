// Package memory implements the persona memory store: typed memories with
// embeddings, hybrid relevance ranking, and retention.
package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/ensemble-labs/ensemble/internal/embedding"
)

// Type classifies what a memory captures.
type Type string

const (
	TypeEpisodic   Type = "episodic"   // specific events and interactions
	TypeSemantic   Type = "semantic"   // general knowledge about the user
	TypeEmotional  Type = "emotional"  // emotional experiences
	TypeRelational Type = "relational" // relationships with other characters
	TypeContextual Type = "contextual" // situational context
)

func (t Type) Valid() bool {
	switch t {
	case TypeEpisodic, TypeSemantic, TypeEmotional, TypeRelational, TypeContextual:
		return true
	default:
		return false
	}
}

// Types lists all memory types in a stable order.
func Types() []Type {
	return []Type{TypeEpisodic, TypeSemantic, TypeEmotional, TypeRelational, TypeContextual}
}

// Priority weights a memory in the importance term of the ranking function.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// Scope identifies the (character, user) pair a memory belongs to.
type Scope struct {
	CharacterID string `json:"character_id"`
	UserID      string `json:"user_id"`
}

func (s Scope) String() string {
	return s.CharacterID + ":" + s.UserID
}

// Memory is one remembered fact or event. Embedding is set exactly once at
// store time; AccessCount only increases; Confidence is recomputed on every
// ranking pass and is never authoritative.
type Memory struct {
	ID              string           `json:"id"`
	CharacterID     string           `json:"character_id"`
	UserID          string           `json:"user_id"`
	Type            Type             `json:"type"`
	Content         string           `json:"content"`
	Embedding       embedding.Vector `json:"-"`
	EmotionalWeight float64          `json:"emotional_weight"`
	Priority        Priority         `json:"priority"`
	CreatedAt       time.Time        `json:"created_at"`
	LastAccessedAt  time.Time        `json:"last_accessed_at"`
	AccessCount     int              `json:"access_count"`
	Tags            []string         `json:"tags,omitempty"`
	Confidence      float64          `json:"confidence"`
}

func (m *Memory) Scope() Scope {
	return Scope{CharacterID: m.CharacterID, UserID: m.UserID}
}

func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate checks the fields a caller controls. Defaults are applied for
// the optional ones (weight, priority) by the store.
func (m *Memory) Validate() error {
	if strings.TrimSpace(m.CharacterID) == "" {
		return fmt.Errorf("character id is required")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("content is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("unknown memory type %q", m.Type)
	}
	if m.EmotionalWeight < 0 {
		return fmt.Errorf("emotional weight %v must be >= 0", m.EmotionalWeight)
	}
	if m.Priority != 0 && !m.Priority.Valid() {
		return fmt.Errorf("priority %d out of range", m.Priority)
	}
	return nil
}

// clone returns a deep copy so index internals never leak shared state.
func (m *Memory) clone() *Memory {
	c := *m
	if m.Embedding != nil {
		c.Embedding = append(embedding.Vector(nil), m.Embedding...)
	}
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	return &c
}
