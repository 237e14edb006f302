// Package group orchestrates multi-character conversations: deciding who
// responds to a user message, in what order, and with what side reactions,
// while tracking the social dynamics of the room.
package group

import (
	"errors"
	"time"

	"github.com/ensemble-labs/ensemble/internal/tone"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
	ErrEmptyParticipants = errors.New("at least one participant is required")
)

// EventKind distinguishes the three ways a character enters a round.
type EventKind string

const (
	KindPrimary      EventKind = "primary"
	KindAgreement    EventKind = "agreement"
	KindInterruption EventKind = "interruption"
)

// ConversationTurn is one utterance in a session's history, from the user
// or a character.
type ConversationTurn struct {
	SpeakerID      string       `json:"speaker_id"`
	Content        string       `json:"content"`
	Timestamp      time.Time    `json:"timestamp"`
	AddressedTo    []string     `json:"addressed_to,omitempty"`
	References     []string     `json:"references,omitempty"`
	Tone           tone.Reading `json:"tone"`
	IsInterruption bool         `json:"is_interruption,omitempty"`
}

// ResponseEvent is one character's contribution to a round, in emission
// order.
type ResponseEvent struct {
	CharacterID string       `json:"character_id"`
	Content     string       `json:"content"`
	Kind        EventKind    `json:"kind"`
	Probability float64      `json:"probability"`
	Style       string       `json:"style"`
	Tone        tone.Reading `json:"tone"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Dynamics summarizes the social texture of a session. Recomputed after
// every round from traits and pairwise affinity.
type Dynamics struct {
	DominanceHierarchy []string `json:"dominance_hierarchy"`
	Cohesion           float64  `json:"cohesion"`
	ConflictPotential  float64  `json:"conflict_potential"`
}

// State is a session snapshot safe to hand to transports. SpeakingOrder
// is the permutation fixed at session start (descending dominance, ties
// by id); CurrentSpeakerIndex points at the last character who spoke.
type State struct {
	SessionID           string             `json:"session_id"`
	Topic               string             `json:"topic"`
	UserID              string             `json:"user_id"`
	Participants        []string           `json:"participants"`
	SpeakingOrder       []string           `json:"speaking_order"`
	CurrentSpeakerIndex int                `json:"current_speaker_index"`
	Turns               []ConversationTurn `json:"turns"`
	Dynamics            Dynamics           `json:"dynamics"`
	CreatedAt           time.Time          `json:"created_at"`
	LastActiveAt        time.Time          `json:"last_active_at"`
}

// Config bounds orchestration behavior. Zero values take the defaults.
type Config struct {
	ResponseThreshold      float64       // minimum probability to respond (default 0.3)
	AgreementThreshold     float64       // likelihood needed to chime in agreeing (default 0.7)
	InterruptionThreshold  float64       // likelihood needed to interrupt (default 0.6)
	AgreementPrimaryCap    int           // agreements only when fewer primaries than this (default 3)
	InterruptionPrimaryCap int           // interruptions only when fewer primaries than this (default 2)
	ContextTurns           int           // history window fed to the responder (default 10)
	SessionTTL             time.Duration // idle expiry, 0 disables the janitor
}

func (c Config) withDefaults() Config {
	if c.ResponseThreshold <= 0 {
		c.ResponseThreshold = 0.3
	}
	if c.AgreementThreshold <= 0 {
		c.AgreementThreshold = 0.7
	}
	if c.InterruptionThreshold <= 0 {
		c.InterruptionThreshold = 0.6
	}
	if c.AgreementPrimaryCap <= 0 {
		c.AgreementPrimaryCap = 3
	}
	if c.InterruptionPrimaryCap <= 0 {
		c.InterruptionPrimaryCap = 2
	}
	if c.ContextTurns <= 0 {
		c.ContextTurns = 10
	}
	return c
}
