// Package relationship tracks the evolving social state between a character
// and a user (and between characters), feeding both memory ranking and
// group turn-taking.
package relationship

import "time"

// Phase is the discrete relationship stage, derived from SharedExperiences
// and never set directly.
type Phase string

const (
	PhaseStranger     Phase = "stranger"
	PhaseAcquaintance Phase = "acquaintance"
	PhaseFriend       Phase = "friend"
	PhaseCloseFriend  Phase = "close_friend"
	PhaseIntimate     Phase = "intimate"
)

// PhaseFor maps a shared-experience count to a phase.
// Boundaries are inclusive on the lower end: 2 is already acquaintance,
// 6 friend, 21 close_friend, 51 intimate.
func PhaseFor(shared int) Phase {
	switch {
	case shared < 2:
		return PhaseStranger
	case shared <= 5:
		return PhaseAcquaintance
	case shared <= 20:
		return PhaseFriend
	case shared <= 50:
		return PhaseCloseFriend
	default:
		return PhaseIntimate
	}
}

// Record is one pair's social state. Scores are clamped to [0,1] after
// every update; SharedExperiences only increases.
type Record struct {
	CharacterID       string    `json:"character_id"`
	UserID            string    `json:"user_id"`
	Familiarity       float64   `json:"familiarity"`
	Trust             float64   `json:"trust"`
	Affection         float64   `json:"affection"`
	Respect           float64   `json:"respect"`
	SharedExperiences int       `json:"shared_experiences"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	Phase             Phase     `json:"phase"`
}

// NewRecord returns the default state for a pair that has never interacted.
func NewRecord(characterID, userID string) Record {
	return Record{
		CharacterID: characterID,
		UserID:      userID,
		Familiarity: 0,
		Trust:       0.5,
		Affection:   0.5,
		Respect:     0.5,
		Phase:       PhaseStranger,
	}
}

// NewPairRecord returns the default affinity between two characters.
// Characters start warmer toward each other than toward a new user.
func NewPairRecord(characterID, otherID string) Record {
	r := NewRecord(characterID, otherID)
	r.Familiarity = 0.5
	return r
}

func (r *Record) clamp() {
	r.Familiarity = clamp01(r.Familiarity)
	r.Trust = clamp01(r.Trust)
	r.Affection = clamp01(r.Affection)
	r.Respect = clamp01(r.Respect)
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

// Event carries the memory attributes the update rule reads. Defined here
// so the engine does not depend on the memory package.
type Event struct {
	Semantic        bool
	EmotionalWeight float64
	Positive        bool // the memory carries a "positive" tag
}

// Apply is the pure update transformation: deltas in order, clamp, then
// re-derive phase. Given the same record, event, and clock it always
// produces the same result.
func Apply(r Record, ev Event, now time.Time) Record {
	if ev.Semantic {
		r.Familiarity += 0.05
	}
	if ev.EmotionalWeight > 1.5 {
		r.Trust += 0.1
	}
	if ev.Positive || ev.EmotionalWeight > 1.0 {
		r.Affection += 0.03
	}
	r.SharedExperiences++
	r.LastInteractionAt = now
	r.clamp()
	r.Phase = PhaseFor(r.SharedExperiences)
	return r
}
