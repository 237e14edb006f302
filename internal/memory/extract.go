package memory

import (
	"context"
	"strings"

	"github.com/ensemble-labs/ensemble/internal/tone"
)

// Exchange is one completed user/character turn pair.
type Exchange struct {
	UserMessage string
	Reply       string
	UserTone    tone.Reading
}

// Extractor turns a finished exchange into memories worth keeping. The
// shipped heuristic is deliberately conservative; an LLM-backed extractor
// can be injected in its place.
type Extractor interface {
	Extract(ctx context.Context, scope Scope, ex Exchange) ([]*Memory, error)
}

// factMarkers map first-person phrasings to what kind of fact they state.
var factMarkers = []struct {
	marker   string
	priority Priority
	tags     []string
}{
	{"my name is", PriorityHigh, []string{"identity"}},
	{"call me", PriorityHigh, []string{"identity"}},
	{"i live", PriorityMedium, []string{"identity"}},
	{"i'm from", PriorityMedium, []string{"identity"}},
	{"i work", PriorityMedium, []string{"identity"}},
	{"my favorite", PriorityMedium, []string{"interests", "positive"}},
	{"i love", PriorityMedium, []string{"interests", "positive"}},
	{"i like", PriorityLow, []string{"interests", "positive"}},
	{"i hate", PriorityMedium, []string{"interests", "negative"}},
	{"i dislike", PriorityLow, []string{"interests", "negative"}},
}

var eventMarkers = []string{"today", "yesterday", "we went", "we did", "remember when"}

// HeuristicExtractor extracts semantic facts, emotional moments, and
// notable episodes from the user side of an exchange.
type HeuristicExtractor struct{}

func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

func (x *HeuristicExtractor) Extract(_ context.Context, scope Scope, ex Exchange) ([]*Memory, error) {
	msg := strings.TrimSpace(ex.UserMessage)
	if msg == "" {
		return nil, nil
	}
	lower := strings.ToLower(msg)

	var out []*Memory
	for _, fm := range factMarkers {
		if strings.Contains(lower, fm.marker) {
			out = append(out, &Memory{
				CharacterID:     scope.CharacterID,
				UserID:          scope.UserID,
				Type:            TypeSemantic,
				Content:         msg,
				Priority:        fm.priority,
				EmotionalWeight: 1.0,
				Tags:            append([]string(nil), fm.tags...),
			})
			break
		}
	}

	if ex.UserTone.Label != tone.Neutral && ex.UserTone.Intensity >= 0.3 {
		tags := []string{ex.UserTone.Label}
		if tone.Positive(ex.UserTone.Label) {
			tags = append(tags, "positive")
		}
		if tone.Negative(ex.UserTone.Label) {
			tags = append(tags, "negative")
		}
		out = append(out, &Memory{
			CharacterID:     scope.CharacterID,
			UserID:          scope.UserID,
			Type:            TypeEmotional,
			Content:         msg,
			Priority:        PriorityMedium,
			EmotionalWeight: 1.0 + ex.UserTone.Intensity,
			Tags:            tags,
		})
	}

	for _, marker := range eventMarkers {
		if strings.Contains(lower, marker) {
			out = append(out, &Memory{
				CharacterID:     scope.CharacterID,
				UserID:          scope.UserID,
				Type:            TypeEpisodic,
				Content:         msg,
				Priority:        PriorityLow,
				EmotionalWeight: 1.0,
				Tags:            []string{"event"},
			})
			break
		}
	}
	return out, nil
}
