// Package tone provides the analyzeTone capability: a label plus intensity
// for a piece of conversational text. The shipped analyzer fuses three
// signal sources (text markers, conversational context, behavioral
// patterns), each returning a typed partial result.
package tone

import "strings"

// Reading is the fused result of tone analysis.
type Reading struct {
	Label     string  `json:"label"`
	Intensity float64 `json:"intensity"` // 0..1
}

// Analyzer is the injected tone-analysis capability.
type Analyzer interface {
	Analyze(text string, history []string) Reading
}

const Neutral = "neutral"

// Fusion weights. Text content dominates; context and behavior nudge.
const (
	textWeight     = 0.6
	contextWeight  = 0.25
	behaviorWeight = 0.15
)

var emotionVocabulary = map[string][]string{
	"joy":      {"happy", "excited", "thrilled", "delighted", "joyful", "glad", "wonderful", "love"},
	"sadness":  {"sad", "disappointed", "upset", "depressed", "melancholy", "miss", "lonely"},
	"anger":    {"angry", "furious", "mad", "annoyed", "irritated", "hate"},
	"fear":     {"afraid", "scared", "worried", "anxious", "terrified", "nervous"},
	"surprise": {"amazing", "unbelievable", "wow", "incredible", "shocking"},
}

var intensityWords = []string{"very", "extremely", "incredibly", "absolutely", "totally", "really"}

// partial is one analyzer's contribution before fusion.
type partial struct {
	scores    map[string]float64
	intensity float64
}

// Heuristic is the default Analyzer. It is pure and deterministic.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) Analyze(text string, history []string) Reading {
	return fuse(
		analyzeText(text),
		analyzeContext(text, history),
		analyzeBehavior(text),
	)
}

// analyzeText scores emotion vocabulary hits and intensity markers.
func analyzeText(text string) partial {
	lower := strings.ToLower(text)
	p := partial{scores: map[string]float64{}}
	for label, words := range emotionVocabulary {
		for _, w := range words {
			if strings.Contains(lower, w) {
				p.scores[label] += 1
			}
		}
	}
	for _, w := range intensityWords {
		if strings.Contains(lower, w) {
			p.intensity += 0.15
		}
	}
	if total := sumScores(p.scores); total > 0 {
		p.intensity += 0.3 + 0.1*total
	}
	return p
}

// analyzeContext carries emotional continuity from recent turns: repeated
// vocabulary across the last turns reinforces the same label.
func analyzeContext(text string, history []string) partial {
	p := partial{scores: map[string]float64{}}
	if len(history) == 0 {
		return p
	}
	start := len(history) - 3
	if start < 0 {
		start = 0
	}
	for _, prev := range history[start:] {
		prior := analyzeText(prev)
		for label, score := range prior.scores {
			p.scores[label] += 0.5 * score
		}
	}
	if sumScores(p.scores) > 0 {
		p.intensity = 0.2
	}
	return p
}

// analyzeBehavior reads punctuation and capitalization patterns.
func analyzeBehavior(text string) partial {
	p := partial{scores: map[string]float64{}}
	words := len(strings.Fields(text))
	if words == 0 {
		return p
	}
	exclaims := strings.Count(text, "!")
	questions := strings.Count(text, "?")
	caps := 0
	letters := 0
	for _, r := range text {
		if r >= 'A' && r <= 'Z' {
			caps++
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
		}
	}
	if exclaims > 0 {
		p.intensity += 0.2 * float64(exclaims)
		p.scores["joy"] += 0.5
	}
	if questions > 1 {
		p.scores["surprise"] += 0.5
	}
	if letters > 0 && float64(caps)/float64(letters) > 0.5 && words > 1 {
		p.intensity += 0.3
		p.scores["anger"] += 0.5
	}
	return p
}

// fuse combines the partials with the documented weights and picks the
// dominant label. With no signal at all the reading is neutral.
func fuse(text, contextual, behavioral partial) Reading {
	combined := map[string]float64{}
	addWeighted(combined, text.scores, textWeight)
	addWeighted(combined, contextual.scores, contextWeight)
	addWeighted(combined, behavioral.scores, behaviorWeight)

	// Lexicographic tie-break keeps the result independent of map order.
	label := Neutral
	best := 0.0
	for l, s := range combined {
		if s > best || (s == best && s > 0 && l < label) {
			label = l
			best = s
		}
	}

	intensity := text.intensity*textWeight + contextual.intensity*contextWeight + behavioral.intensity*behaviorWeight
	if intensity > 1 {
		intensity = 1
	}
	if best == 0 {
		return Reading{Label: Neutral, Intensity: clamp01(intensity)}
	}
	return Reading{Label: label, Intensity: clamp01(intensity)}
}

func addWeighted(dst map[string]float64, src map[string]float64, w float64) {
	for k, v := range src {
		dst[k] += v * w
	}
}

func sumScores(scores map[string]float64) float64 {
	var total float64
	for _, v := range scores {
		total += v
	}
	return total
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

// Positive reports whether a label reads as a positive emotion. Used when
// tagging extracted memories.
func Positive(label string) bool {
	switch label {
	case "joy", "surprise":
		return true
	default:
		return false
	}
}

// Negative is the counterpart of Positive.
func Negative(label string) bool {
	switch label {
	case "sadness", "anger", "fear":
		return true
	default:
		return false
	}
}
