package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ensemble-labs/ensemble/internal/embedding"
	"github.com/ensemble-labs/ensemble/internal/fault"
	"github.com/ensemble-labs/ensemble/internal/memory"
	"github.com/ensemble-labs/ensemble/internal/persona"
	"github.com/ensemble-labs/ensemble/internal/relationship"
	"github.com/ensemble-labs/ensemble/internal/responder"
	"github.com/ensemble-labs/ensemble/internal/tone"
)

var chatTestNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *relationship.Engine) {
	t.Helper()
	reg := persona.NewRegistry()
	reg.Register(persona.Character{
		ID:          "ivy",
		Name:        "Ivy",
		Description: "A thoughtful botanist.",
		Traits:      persona.Traits{Dominance: 0.4, Agreeableness: 0.8, Openness: 0.7, Extraversion: 0.5, Humor: 0.5},
	})
	eng, err := relationship.NewEngine(relationship.NewInMemoryStore(),
		relationship.WithClock(func() time.Time { return chatTestNow }))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(eng.Close)

	store := memory.NewStore(memory.NewInMemoryIndex(), embedding.NewMockEmbedder(64), eng, memory.Config{},
		memory.WithClock(func() time.Time { return chatTestNow }))
	svc := NewService(reg, store, eng, tone.NewHeuristic(), responder.NewMock(), memory.NewHeuristicExtractor())
	return svc, eng
}

func TestConverseValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Converse(ctx, "ivy", "u1", "  "); !fault.Is(err, fault.KindValidation) {
		t.Fatalf("empty message error = %v", err)
	}
	if _, err := svc.Converse(ctx, "ghost", "u1", "hello"); !fault.Is(err, fault.KindValidation) {
		t.Fatalf("unknown character error = %v", err)
	}
}

func TestConverseStoresFactsAndAdvancesRelationship(t *testing.T) {
	svc, eng := newTestService(t)
	ctx := context.Background()

	reply, err := svc.Converse(ctx, "ivy", "u1", "My name is Sam and I love orchids")
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	if !strings.Contains(reply.Text, "My name is Sam") {
		t.Fatalf("reply = %q", reply.Text)
	}
	if reply.Stored == 0 {
		t.Fatalf("expected at least one stored memory")
	}

	rec, err := eng.Snapshot(ctx, "ivy", "u1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if rec.SharedExperiences != reply.Stored {
		t.Fatalf("shared experiences = %d, stored = %d", rec.SharedExperiences, reply.Stored)
	}
	if rec.Familiarity == 0 {
		t.Fatalf("semantic memory should raise familiarity")
	}
}

func TestConverseRecallsEarlierTurns(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Converse(ctx, "ivy", "u1", "my favorite flower is the orchid"); err != nil {
		t.Fatalf("first turn error = %v", err)
	}
	reply, err := svc.Converse(ctx, "ivy", "u1", "which flower do I like best?")
	if err != nil {
		t.Fatalf("second turn error = %v", err)
	}
	if reply.Recalled == 0 {
		t.Fatalf("second turn should recall the stored preference")
	}
}

func TestConverseObservesStages(t *testing.T) {
	svc, _ := newTestService(t)
	seen := map[string]int{}
	WithStageObserver(func(stage string, _ time.Duration) { seen[stage]++ })(svc)

	if _, err := svc.Converse(context.Background(), "ivy", "u1", "my name is Sam"); err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	for _, stage := range []string{"memory_recall", "responder", "memory_extract"} {
		if seen[stage] != 1 {
			t.Fatalf("stage %q observed %d times, want 1 (seen: %v)", stage, seen[stage], seen)
		}
	}
}

func TestConverseScopesMemoriesPerUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Converse(ctx, "ivy", "u1", "I live in Lisbon"); err != nil {
		t.Fatalf("u1 turn error = %v", err)
	}
	reply, err := svc.Converse(ctx, "ivy", "u2", "where do I live?")
	if err != nil {
		t.Fatalf("u2 turn error = %v", err)
	}
	if reply.Recalled != 0 {
		t.Fatalf("u2 recalled %d memories from another user's scope", reply.Recalled)
	}
}
