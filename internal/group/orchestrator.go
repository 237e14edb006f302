package group

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/ensemble-labs/ensemble/internal/fault"
	"github.com/ensemble-labs/ensemble/internal/persona"
	"github.com/ensemble-labs/ensemble/internal/relationship"
	"github.com/ensemble-labs/ensemble/internal/responder"
	"github.com/ensemble-labs/ensemble/internal/tone"
)

// Response probability weights. A direct address dominates everything else
// so an addressed character practically always responds.
const (
	probAgreeablenessWeight = 0.15
	probDominanceWeight     = 0.15
	probAffectionWeight     = 0.25
	probFamiliarityWeight   = 0.10
	probAddressedBoost      = 0.5
)

// Agreement and interruption likelihood weights.
const (
	agreeAgreeablenessWeight = 0.4
	agreeAffectionWeight     = 0.4
	agreePositiveToneWeight  = 0.2

	interruptDominanceWeight    = 0.5
	interruptDisagreeableWeight = 0.3
	interruptLowAffectionWeight = 0.2
)

type session struct {
	mu      sync.Mutex
	state   State
	closed  bool
	subs    map[int]chan ResponseEvent
	nextSub int
}

// Orchestrator owns group sessions. Rounds for the same session serialize
// on the session lock; different sessions process concurrently.
type Orchestrator struct {
	registry *persona.Registry
	rel      *relationship.Engine
	tones    tone.Analyzer
	resp     responder.PersonaResponder
	cfg      Config
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

type Option func(*Orchestrator)

// WithClock fixes the orchestrator clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(registry *persona.Registry, rel *relationship.Engine, tones tone.Analyzer, resp responder.PersonaResponder, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		rel:      rel,
		tones:    tones,
		resp:     resp,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Initialize creates a session with the given participants and topic. A
// blank sessionID gets a generated one; a blank userID defaults to "user".
// Every participant must be a registered character.
func (o *Orchestrator) Initialize(ctx context.Context, sessionID, userID string, participantIDs []string, topic string) (State, error) {
	ids := lo.Uniq(lo.Filter(participantIDs, func(id string, _ int) bool {
		return strings.TrimSpace(id) != ""
	}))
	if len(ids) == 0 {
		return State{}, fault.New(fault.KindValidation, "", ErrEmptyParticipants)
	}

	chars := make([]persona.Character, 0, len(ids))
	for _, id := range ids {
		c, ok := o.registry.Get(id)
		if !ok {
			return State{}, fault.Newf(fault.KindValidation, "", "unknown character %q", id)
		}
		chars = append(chars, c)
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if strings.TrimSpace(userID) == "" {
		userID = "user"
	}

	dynamics, err := o.computeDynamics(ctx, chars)
	if err != nil {
		return State{}, err
	}

	now := o.now()
	sess := &session{
		state: State{
			SessionID:    sessionID,
			Topic:        topic,
			UserID:       userID,
			Participants: ids,
			// The speaking order is fixed at session start; later rounds
			// recompute dynamics but never reorder it.
			SpeakingOrder: append([]string(nil), dynamics.DominanceHierarchy...),
			Dynamics:      dynamics,
			CreatedAt:     now,
			LastActiveAt:  now,
		},
		subs: make(map[int]chan ResponseEvent),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.sessions[sessionID]; exists {
		return State{}, fault.Newf(fault.KindValidation, "", "session %q already exists", sessionID)
	}
	o.sessions[sessionID] = sess
	return cloneState(sess.state), nil
}

type candidate struct {
	char      persona.Character
	rec       relationship.Record
	prob      float64
	addressed bool
}

// ProcessMessage runs one round: the speaker's turn is recorded, eligible
// characters respond in descending probability order, then the remaining
// characters may agree with or interrupt the speaker. A blank speakerID
// defaults to the session user; a character speaker must be a participant.
// On context cancellation the events emitted so far are returned together
// with the context error; turns already appended stay in the history.
func (o *Orchestrator) ProcessMessage(ctx context.Context, sessionID, speakerID, content string) ([]ResponseEvent, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fault.Newf(fault.KindValidation, "", "message content is empty")
	}

	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil, ErrSessionClosed
	}

	speakerID = strings.TrimSpace(speakerID)
	if speakerID == "" {
		speakerID = sess.state.UserID
	}
	if speakerID != sess.state.UserID && !lo.Contains(sess.state.Participants, speakerID) {
		return nil, fault.Newf(fault.KindValidation, "", "speaker %q is not in the session", speakerID)
	}

	history := lo.Map(lastTurns(&sess.state, o.cfg.ContextTurns), func(t ConversationTurn, _ int) string {
		return t.Content
	})
	speakerTone := o.tones.Analyze(content, history)
	addressed, references := o.mentions(sess, speakerID, content)

	candidates, err := o.candidates(ctx, sess, speakerID, addressed)
	if err != nil {
		return nil, err
	}

	now := o.now()
	speakerTurn := ConversationTurn{
		SpeakerID:   speakerID,
		Content:     content,
		Timestamp:   now,
		AddressedTo: addressed,
		References:  references,
		Tone:        speakerTone,
	}
	sess.state.Turns = append(sess.state.Turns, speakerTurn)

	primaries := lo.Filter(candidates, func(c candidate, _ int) bool {
		return c.prob >= o.cfg.ResponseThreshold
	})
	sort.Slice(primaries, func(i, j int) bool {
		if primaries[i].prob != primaries[j].prob {
			return primaries[i].prob > primaries[j].prob
		}
		return primaries[i].char.ID < primaries[j].char.ID
	})

	var events []ResponseEvent
	for _, cand := range primaries {
		if err := ctx.Err(); err != nil {
			o.finishRound(ctx, sess)
			return events, err
		}
		prompt := o.buildPrompt(sess, cand.char, cand.rec, "Respond in character.")
		ev, err := o.emit(ctx, sess, cand.char, speakerID, prompt, KindPrimary, cand.prob, cand.rec, false)
		if err != nil {
			o.finishRound(ctx, sess)
			return events, err
		}
		events = append(events, ev)
	}

	reactions, err := o.react(ctx, sess, speakerID, speakerTurn, primaries)
	events = append(events, reactions...)
	o.finishRound(ctx, sess)
	return events, err
}

// candidates computes each non-speaker participant's response probability
// toward the current message.
func (o *Orchestrator) candidates(ctx context.Context, sess *session, speakerID string, addressed []string) ([]candidate, error) {
	out := make([]candidate, 0, len(sess.state.Participants))
	for _, id := range sess.state.Participants {
		if id == speakerID {
			continue
		}
		c, ok := o.registry.Get(id)
		if !ok {
			return nil, fault.Newf(fault.KindValidation, "", "unknown character %q", id)
		}
		rec, err := o.affinityToward(ctx, sess, id, speakerID)
		if err != nil {
			return nil, err
		}
		p := probAgreeablenessWeight*c.Traits.Agreeableness +
			probDominanceWeight*c.Traits.Dominance +
			probAffectionWeight*rec.Affection +
			probFamiliarityWeight*rec.Familiarity
		isAddressed := lo.Contains(addressed, id)
		if isAddressed {
			p += probAddressedBoost
		}
		out = append(out, candidate{char: c, rec: rec, prob: clamp01(p), addressed: isAddressed})
	}
	return out, nil
}

// affinityToward reads a character's relationship toward the speaker: the
// user-relationship record when the speaker is the session user, the
// directional pair record when the speaker is another character.
func (o *Orchestrator) affinityToward(ctx context.Context, sess *session, characterID, speakerID string) (relationship.Record, error) {
	if speakerID == sess.state.UserID {
		return o.rel.Snapshot(ctx, characterID, speakerID)
	}
	return o.rel.PairwiseSnapshot(ctx, characterID, speakerID)
}

// affinityOrDefault is a snapshot read that degrades to the defaults on a
// store failure, so reactions never abort a round for a missing record.
func (o *Orchestrator) affinityOrDefault(ctx context.Context, sess *session, characterID, speakerID string) relationship.Record {
	rec, err := o.affinityToward(ctx, sess, characterID, speakerID)
	if err == nil {
		return rec
	}
	if speakerID == sess.state.UserID {
		return relationship.NewRecord(characterID, speakerID)
	}
	return relationship.NewPairRecord(characterID, speakerID)
}

// react lets participants who did not respond chime in about the speaker's
// message. Agreement and interruption likelihoods are computed against the
// triggering turn; the primary count only gates volume, so reactions can
// fire even when nobody cleared the response threshold. Each character
// reacts at most once, in character-id order.
func (o *Orchestrator) react(ctx context.Context, sess *session, speakerID string, speakerTurn ConversationTurn, primaries []candidate) ([]ResponseEvent, error) {
	allowAgreement := len(primaries) < o.cfg.AgreementPrimaryCap
	allowInterruption := len(primaries) < o.cfg.InterruptionPrimaryCap
	if !allowAgreement && !allowInterruption {
		return nil, nil
	}

	speaker := o.speakerName(sess, speakerID)
	primaryIDs := lo.Map(primaries, func(c candidate, _ int) string { return c.char.ID })

	reactorIDs := lo.Filter(sess.state.Participants, func(id string, _ int) bool {
		return id != speakerID && !lo.Contains(primaryIDs, id)
	})
	sort.Strings(reactorIDs)

	var events []ResponseEvent
	for _, id := range reactorIDs {
		if err := ctx.Err(); err != nil {
			return events, err
		}
		c, ok := o.registry.Get(id)
		if !ok {
			continue
		}
		aff := o.affinityOrDefault(ctx, sess, id, speakerID)

		if allowAgreement {
			positive := 0.0
			if tone.Positive(speakerTurn.Tone.Label) {
				positive = speakerTurn.Tone.Intensity
			}
			like := agreeAgreeablenessWeight*c.Traits.Agreeableness +
				agreeAffectionWeight*aff.Affection +
				agreePositiveToneWeight*positive
			if like > o.cfg.AgreementThreshold {
				prompt := o.buildPrompt(sess, c, aff, fmt.Sprintf("Briefly agree with %s.", speaker))
				ev, err := o.emit(ctx, sess, c, speakerID, prompt, KindAgreement, like, aff, false)
				if err != nil {
					return events, err
				}
				events = append(events, ev)
				continue
			}
		}
		if allowInterruption {
			like := interruptDominanceWeight*c.Traits.Dominance +
				interruptDisagreeableWeight*(1-c.Traits.Agreeableness) +
				interruptLowAffectionWeight*(1-aff.Affection)
			if like > o.cfg.InterruptionThreshold {
				prompt := o.buildPrompt(sess, c, aff, fmt.Sprintf("Interrupt %s with your own take.", speaker))
				ev, err := o.emit(ctx, sess, c, speakerID, prompt, KindInterruption, like, aff, true)
				if err != nil {
					return events, err
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func (o *Orchestrator) speakerName(sess *session, speakerID string) string {
	if c, ok := o.registry.Get(speakerID); ok {
		return c.Name
	}
	return speakerID
}

// emit calls the responder for one character, records the turn, advances
// the speaking cursor, and notifies subscribers.
func (o *Orchestrator) emit(ctx context.Context, sess *session, c persona.Character, speakerID, prompt string, kind EventKind, prob float64, rec relationship.Record, interruption bool) (ResponseEvent, error) {
	reply, err := o.resp.Respond(ctx, c.ID, prompt)
	if err != nil {
		return ResponseEvent{}, fault.New(fault.KindResponder, "responder", err)
	}
	history := lo.Map(lastTurns(&sess.state, o.cfg.ContextTurns), func(t ConversationTurn, _ int) string {
		return t.Content
	})
	replyTone := o.tones.Analyze(reply, history)
	now := o.now()

	ev := ResponseEvent{
		CharacterID: c.ID,
		Content:     reply,
		Kind:        kind,
		Probability: prob,
		Style:       styleFor(c, rec),
		Tone:        replyTone,
		Timestamp:   now,
	}
	sess.state.Turns = append(sess.state.Turns, ConversationTurn{
		SpeakerID:      c.ID,
		Content:        reply,
		Timestamp:      now,
		AddressedTo:    []string{speakerID},
		Tone:           replyTone,
		IsInterruption: interruption,
	})
	if idx := lo.IndexOf(sess.state.SpeakingOrder, c.ID); idx >= 0 {
		sess.state.CurrentSpeakerIndex = idx
	}
	o.broadcast(sess, ev)
	return ev, nil
}

// finishRound recomputes dynamics and advances the activity clock. A
// dynamics failure never discards a round's responses.
func (o *Orchestrator) finishRound(ctx context.Context, sess *session) {
	chars := make([]persona.Character, 0, len(sess.state.Participants))
	for _, id := range sess.state.Participants {
		if c, ok := o.registry.Get(id); ok {
			chars = append(chars, c)
		}
	}
	if d, err := o.computeDynamics(ctx, chars); err != nil {
		log.Printf("group: dynamics update for session %s failed: %v", sess.state.SessionID, err)
	} else {
		sess.state.Dynamics = d
	}
	sess.state.LastActiveAt = o.now()
}

// mentions scans the message for participant names or ids, skipping the
// speaker. A mention at the start of the message, prefixed with "@", or
// used as a vocative ("name, ...") addresses the character; any other
// mention is a reference.
func (o *Orchestrator) mentions(sess *session, speakerID, content string) (addressed, references []string) {
	lower := strings.ToLower(content)
	for _, id := range sess.state.Participants {
		if id == speakerID {
			continue
		}
		c, ok := o.registry.Get(id)
		if !ok {
			continue
		}
		idx, end := -1, -1
		for _, needle := range []string{strings.ToLower(c.Name), strings.ToLower(c.ID)} {
			if i, found := findMention(lower, needle); found {
				idx, end = i, i+len(needle)
				break
			}
		}
		if idx < 0 {
			continue
		}
		switch {
		case idx == 0,
			lower[idx-1] == '@',
			end < len(lower) && lower[end] == ',':
			addressed = append(addressed, id)
		default:
			references = append(references, id)
		}
	}
	return addressed, references
}

// findMention locates needle as a whole word in haystack.
func findMention(haystack, needle string) (int, bool) {
	if needle == "" {
		return -1, false
	}
	from := 0
	for {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return -1, false
		}
		idx := from + i
		if isWordBoundary(haystack, idx, idx+len(needle)) {
			return idx, true
		}
		from = idx + 1
	}
}

func isWordBoundary(s string, start, end int) bool {
	if start > 0 {
		r := rune(s[start-1])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(s) {
		r := rune(s[end])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// buildPrompt assembles the responder context: persona, topic,
// relationship phase, room dynamics, and the recent history window. The
// history already contains the user's latest message.
func (o *Orchestrator) buildPrompt(sess *session, c persona.Character, rec relationship.Record, instruction string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n", c.Name, c.Description)
	if c.SpeakingStyle != "" {
		fmt.Fprintf(&b, "Speaking style: %s\n", c.SpeakingStyle)
	}
	if sess.state.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", sess.state.Topic)
	}
	fmt.Fprintf(&b, "Your relationship with %s: %s\n", rec.UserID, rec.Phase)
	if len(sess.state.Dynamics.DominanceHierarchy) > 1 {
		fmt.Fprintf(&b, "Room: cohesion %.2f, speaking order %s\n",
			sess.state.Dynamics.Cohesion, strings.Join(sess.state.Dynamics.DominanceHierarchy, " > "))
	}
	b.WriteString(instruction + "\n")
	for _, t := range lastTurns(&sess.state, o.cfg.ContextTurns) {
		fmt.Fprintf(&b, "%s: %s\n", t.SpeakerID, t.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func lastTurns(s *State, n int) []ConversationTurn {
	if len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// State returns a copy of the session's current state.
func (o *Orchestrator) State(sessionID string) (State, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return State{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return State{}, ErrSessionClosed
	}
	return cloneState(sess.state), nil
}

// Subscribe streams this session's response events as they are emitted.
// Slow consumers drop events rather than stall a round. The returned
// cancel function must be called when done.
func (o *Orchestrator) Subscribe(sessionID string) (<-chan ResponseEvent, func(), error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return nil, nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		return nil, nil, ErrSessionClosed
	}
	ch := make(chan ResponseEvent, 16)
	id := sess.nextSub
	sess.nextSub++
	sess.subs[id] = ch
	cancel := func() {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sub, ok := sess.subs[id]; ok {
			delete(sess.subs, id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

func (o *Orchestrator) broadcast(sess *session, ev ResponseEvent) {
	for _, ch := range sess.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends a session and releases its subscribers.
func (o *Orchestrator) Close(sessionID string) error {
	o.mu.Lock()
	sess, ok := o.sessions[sessionID]
	if ok {
		delete(o.sessions, sessionID)
	}
	o.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.closed = true
	for id, ch := range sess.subs {
		delete(sess.subs, id)
		close(ch)
	}
	return nil
}

// Len reports the number of live sessions.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

func (o *Orchestrator) lookup(sessionID string) (*session, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	sess, ok := o.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// StartJanitor expires idle sessions in the background when a TTL is
// configured. It returns immediately; the loop stops with ctx.
func (o *Orchestrator) StartJanitor(ctx context.Context, interval time.Duration) {
	if o.cfg.SessionTTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := o.ExpireIdle(); n > 0 {
					log.Printf("group: expired %d idle session(s)", n)
				}
			}
		}
	}()
}

// ExpireIdle closes every session idle past the TTL and reports how many.
func (o *Orchestrator) ExpireIdle() int {
	if o.cfg.SessionTTL <= 0 {
		return 0
	}
	cutoff := o.now().Add(-o.cfg.SessionTTL)

	o.mu.RLock()
	var doomed []string
	for id, sess := range o.sessions {
		sess.mu.Lock()
		idle := sess.state.LastActiveAt.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			doomed = append(doomed, id)
		}
	}
	o.mu.RUnlock()

	expired := 0
	for _, id := range doomed {
		if o.Close(id) == nil {
			expired++
		}
	}
	return expired
}

func cloneState(s State) State {
	out := s
	out.Participants = append([]string(nil), s.Participants...)
	out.SpeakingOrder = append([]string(nil), s.SpeakingOrder...)
	out.Turns = append([]ConversationTurn(nil), s.Turns...)
	out.Dynamics.DominanceHierarchy = append([]string(nil), s.Dynamics.DominanceHierarchy...)
	return out
}
