package persona

import (
	"sort"

	"github.com/ensemble-labs/ensemble/internal/memory"
)

// Adjustment is the deterministic summary of how a pair's memories have
// shaped the character. It feeds Evolve; it never mutates base traits
// directly.
type Adjustment struct {
	ConfidenceBoost   float64  `json:"confidence_boost"`
	EmpathyIncrease   float64  `json:"empathy_increase"`
	HumorDevelopment  float64  `json:"humor_development"`
	TrustErosion      float64  `json:"trust_erosion"`
	EmotionalOpenness float64  `json:"emotional_openness"`
	SharedInterests   []string `json:"shared_interests,omitempty"`
}

// AnalyzeMemories folds a pair's memories into an Adjustment. The same
// memory set always yields the same adjustment regardless of input order.
func AnalyzeMemories(memories []*memory.Memory) Adjustment {
	var adj Adjustment
	interests := map[string]bool{}

	for _, m := range memories {
		if m.Type == memory.TypeEmotional && m.EmotionalWeight > 1.5 {
			switch {
			case m.HasTag("positive"):
				adj.ConfidenceBoost += 0.1
				adj.EmotionalOpenness += 0.05
			case m.HasTag("negative"):
				adj.TrustErosion += 0.05
			}
		}
		if m.Type == memory.TypeSemantic && m.HasTag("interests") {
			for _, tag := range m.Tags {
				if tag != "interests" && tag != "positive" && tag != "negative" {
					interests[tag] = true
				}
			}
		}
		if m.HasTag("humor") {
			adj.HumorDevelopment += 0.02
		}
		if m.HasTag("deep_conversation") {
			adj.EmpathyIncrease += 0.03
		}
	}

	for tag := range interests {
		adj.SharedInterests = append(adj.SharedInterests, tag)
	}
	sort.Strings(adj.SharedInterests)
	return adj
}

// Evolve nudges base traits by an adjustment, clamped to [0,1]. The base
// definition is never modified; callers get an evolved copy per pair.
func Evolve(base Traits, adj Adjustment) Traits {
	evolved := Traits{
		Dominance:     base.Dominance + 0.5*adj.ConfidenceBoost,
		Agreeableness: base.Agreeableness + adj.EmpathyIncrease - 0.5*adj.TrustErosion,
		Openness:      base.Openness + adj.EmotionalOpenness,
		Extraversion:  base.Extraversion + 0.5*adj.ConfidenceBoost,
		Humor:         base.Humor + adj.HumorDevelopment,
	}
	return evolved.clamped()
}
