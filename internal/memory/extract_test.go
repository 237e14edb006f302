package memory

import (
	"context"
	"testing"

	"github.com/ensemble-labs/ensemble/internal/tone"
)

func TestExtractSemanticFact(t *testing.T) {
	x := NewHeuristicExtractor()
	got, err := x.Extract(context.Background(), testScope(), Exchange{
		UserMessage: "My name is Dana, by the way.",
		UserTone:    tone.Reading{Label: tone.Neutral},
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d memories, want 1", len(got))
	}
	if got[0].Type != TypeSemantic || got[0].Priority != PriorityHigh {
		t.Fatalf("fact classified wrong: %+v", got[0])
	}
	if !got[0].HasTag("identity") {
		t.Fatalf("identity tag missing: %v", got[0].Tags)
	}
}

func TestExtractEmotionalMoment(t *testing.T) {
	x := NewHeuristicExtractor()
	got, err := x.Extract(context.Background(), testScope(), Exchange{
		UserMessage: "That concert changed everything for me",
		UserTone:    tone.Reading{Label: "joy", Intensity: 0.8},
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d memories, want 1", len(got))
	}
	m := got[0]
	if m.Type != TypeEmotional {
		t.Fatalf("type = %q, want emotional", m.Type)
	}
	if m.EmotionalWeight != 1.8 {
		t.Fatalf("EmotionalWeight = %v, want 1.8", m.EmotionalWeight)
	}
	if !m.HasTag("positive") || !m.HasTag("joy") {
		t.Fatalf("tags = %v, want joy+positive", m.Tags)
	}
}

func TestExtractNothingFromSmallTalk(t *testing.T) {
	x := NewHeuristicExtractor()
	got, err := x.Extract(context.Background(), testScope(), Exchange{
		UserMessage: "ok sounds good",
		UserTone:    tone.Reading{Label: tone.Neutral},
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d memories from small talk, want 0", len(got))
	}
}

func TestExtractEpisodicEvent(t *testing.T) {
	x := NewHeuristicExtractor()
	got, err := x.Extract(context.Background(), testScope(), Exchange{
		UserMessage: "We went to the coast today",
		UserTone:    tone.Reading{Label: tone.Neutral},
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 1 || got[0].Type != TypeEpisodic {
		t.Fatalf("episodic extraction wrong: %+v", got)
	}
}
