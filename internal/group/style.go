package group

import (
	"strings"

	"github.com/ensemble-labs/ensemble/internal/persona"
	"github.com/ensemble-labs/ensemble/internal/relationship"
)

// styleFor compounds a base delivery style from traits with a modifier
// from the character's relationship toward the listener.
func styleFor(c persona.Character, rec relationship.Record) string {
	var parts []string
	switch {
	case c.Traits.Dominance > 0.7:
		parts = append(parts, "assertive")
	case c.Traits.Dominance < 0.3:
		parts = append(parts, "deferential")
	}
	if c.Traits.Agreeableness > 0.7 {
		parts = append(parts, "warm")
	}
	if c.Traits.Humor > 0.6 {
		parts = append(parts, "playful")
	}
	if c.Traits.Extraversion < 0.3 {
		parts = append(parts, "quiet")
	}

	switch {
	case rec.Affection > 0.7:
		parts = append(parts, "affectionate")
	case rec.Familiarity < 0.2:
		parts = append(parts, "reserved")
	}

	if len(parts) == 0 {
		return "measured"
	}
	return strings.Join(parts, ", ")
}
