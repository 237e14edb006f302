package group

import (
	"context"
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/ensemble-labs/ensemble/internal/persona"
)

// computeDynamics derives the room's social summary from traits and the
// current pairwise affinity records.
//
// The dominance hierarchy sorts by trait dominance descending, ties
// broken by character id, so a fixed cast always yields the same order.
// Cohesion is the mean directional affection between all character pairs.
// Conflict potential grows with dominance and agreeableness gaps,
// amplified when the pair is less open.
func (o *Orchestrator) computeDynamics(ctx context.Context, chars []persona.Character) (Dynamics, error) {
	d := Dynamics{
		DominanceHierarchy: lo.Map(chars, func(c persona.Character, _ int) string { return c.ID }),
	}
	sort.Slice(d.DominanceHierarchy, func(i, j int) bool {
		a, _ := o.registry.Get(d.DominanceHierarchy[i])
		b, _ := o.registry.Get(d.DominanceHierarchy[j])
		if a.Traits.Dominance != b.Traits.Dominance {
			return a.Traits.Dominance > b.Traits.Dominance
		}
		return a.ID < b.ID
	})

	if len(chars) < 2 {
		d.Cohesion = 1
		return d, nil
	}

	var affections []float64
	var conflicts []float64
	for i, a := range chars {
		for j, b := range chars {
			if i == j {
				continue
			}
			rec, err := o.rel.PairwiseSnapshot(ctx, a.ID, b.ID)
			if err != nil {
				return Dynamics{}, err
			}
			affections = append(affections, rec.Affection)
			if i < j {
				conflicts = append(conflicts, pairConflict(a.Traits, b.Traits))
			}
		}
	}
	d.Cohesion = mean(affections)
	d.ConflictPotential = mean(conflicts)
	return d, nil
}

func pairConflict(a, b persona.Traits) float64 {
	gap := (math.Abs(a.Dominance-b.Dominance) + math.Abs(a.Agreeableness-b.Agreeableness)) / 2
	amplifier := 1 + (1 - (a.Openness+b.Openness)/2)
	return clamp01(gap * amplifier)
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	return lo.Sum(vs) / float64(len(vs))
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
