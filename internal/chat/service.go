// Package chat runs one-on-one conversations with a single character:
// recall, respond, remember.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ensemble-labs/ensemble/internal/fault"
	"github.com/ensemble-labs/ensemble/internal/memory"
	"github.com/ensemble-labs/ensemble/internal/persona"
	"github.com/ensemble-labs/ensemble/internal/relationship"
	"github.com/ensemble-labs/ensemble/internal/responder"
	"github.com/ensemble-labs/ensemble/internal/tone"
)

const defaultRecallLimit = 10

// Service wires the conversation loop for one character and one user per
// call. It holds no per-pair state of its own; continuity lives in the
// memory store and the relationship engine.
type Service struct {
	registry *persona.Registry
	memories *memory.Store
	rel      *relationship.Engine
	tones    tone.Analyzer
	resp     responder.PersonaResponder
	extract  memory.Extractor

	recallLimit int
	observe     StageObserver
}

// StageObserver receives per-stage latencies of a conversation turn
// (memory_recall, responder, memory_extract).
type StageObserver func(stage string, d time.Duration)

type Option func(*Service)

// WithRecallLimit overrides how many memories a turn recalls.
func WithRecallLimit(n int) Option {
	return func(s *Service) { s.recallLimit = n }
}

// WithStageObserver reports stage latencies, e.g. into a perf window.
func WithStageObserver(fn StageObserver) Option {
	return func(s *Service) { s.observe = fn }
}

func NewService(registry *persona.Registry, memories *memory.Store, rel *relationship.Engine, tones tone.Analyzer, resp responder.PersonaResponder, extract memory.Extractor, opts ...Option) *Service {
	s := &Service{
		registry:    registry,
		memories:    memories,
		rel:         rel,
		tones:       tones,
		resp:        resp,
		extract:     extract,
		recallLimit: defaultRecallLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reply is the outcome of one conversation turn.
type Reply struct {
	Text     string             `json:"text"`
	Tone     tone.Reading       `json:"tone"`
	UserTone tone.Reading       `json:"user_tone"`
	Phase    relationship.Phase `json:"phase"`
	Recalled int                `json:"recalled"`
	Stored   int                `json:"stored"`
}

// Converse runs one turn: recall relevant memories, evolve the character's
// presentation from them, respond in character, then extract and store new
// memories from the exchange. When memory persistence fails after the
// reply was generated, the reply is returned together with the error so
// callers never lose generated text.
func (s *Service) Converse(ctx context.Context, characterID, userID, message string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		return Reply{}, fault.Newf(fault.KindValidation, "", "message is empty")
	}
	if strings.TrimSpace(userID) == "" {
		userID = "user"
	}
	c, ok := s.registry.Get(characterID)
	if !ok {
		return Reply{}, fault.Newf(fault.KindValidation, "", "unknown character %q", characterID)
	}

	scope := memory.Scope{CharacterID: characterID, UserID: userID}
	recallStart := time.Now()
	recalled, err := s.memories.Retrieve(ctx, scope, message, s.recallLimit)
	if err != nil {
		return Reply{}, err
	}
	s.observeStage("memory_recall", recallStart)
	rec, err := s.rel.Snapshot(ctx, characterID, userID)
	if err != nil {
		return Reply{}, err
	}

	userTone := s.tones.Analyze(message, nil)
	adj := persona.AnalyzeMemories(recalled)
	evolved := persona.Evolve(c.Traits, adj)

	prompt := s.buildPrompt(c, evolved, adj, rec, recalled, userID, message)
	respondStart := time.Now()
	text, err := s.resp.Respond(ctx, characterID, prompt)
	if err != nil {
		return Reply{}, fault.New(fault.KindResponder, "responder", err)
	}
	s.observeStage("responder", respondStart)

	reply := Reply{
		Text:     text,
		Tone:     s.tones.Analyze(text, nil),
		UserTone: userTone,
		Phase:    rec.Phase,
		Recalled: len(recalled),
	}

	extractStart := time.Now()
	extracted, err := s.extract.Extract(ctx, scope, memory.Exchange{
		UserMessage: message,
		Reply:       text,
		UserTone:    userTone,
	})
	if err != nil {
		return reply, err
	}
	for _, m := range extracted {
		if _, err := s.memories.Store(ctx, m); err != nil {
			return reply, err
		}
		reply.Stored++
	}
	s.observeStage("memory_extract", extractStart)

	if reply.Stored > 0 {
		if after, err := s.rel.Snapshot(ctx, characterID, userID); err == nil {
			reply.Phase = after.Phase
		}
	}
	return reply, nil
}

func (s *Service) observeStage(stage string, start time.Time) {
	if s.observe != nil {
		s.observe(stage, time.Since(start))
	}
}

// buildPrompt assembles the responder context for a one-on-one turn.
func (s *Service) buildPrompt(c persona.Character, evolved persona.Traits, adj persona.Adjustment, rec relationship.Record, recalled []*memory.Memory, userID, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n", c.Name, c.Description)
	if c.SpeakingStyle != "" {
		fmt.Fprintf(&b, "Speaking style: %s\n", c.SpeakingStyle)
	}
	fmt.Fprintf(&b, "Your relationship with %s: %s (%d shared experiences)\n", userID, rec.Phase, rec.SharedExperiences)
	if len(adj.SharedInterests) > 0 {
		fmt.Fprintf(&b, "Shared interests: %s\n", strings.Join(adj.SharedInterests, ", "))
	}
	if evolved.Humor > c.Traits.Humor {
		b.WriteString("Your humor has grown with this person.\n")
	}
	if len(recalled) > 0 {
		b.WriteString("You remember:\n")
		for _, m := range recalled {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
	}
	fmt.Fprintf(&b, "%s: %s", userID, message)
	return b.String()
}
