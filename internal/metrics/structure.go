package metrics

import (
	"math"
	"sort"

	"github.com/tetraminz/sales_coach/internal/model"
)

const (
	skippedDiscoveryPenalty = 30
	phaseJumpPenalty        = 15
	discoveryReturnBonus    = 5
	maxDiscoveryReturnBonus = 10
)

// openingSteps is the canonical order of the four opening moves.
var openingSteps = []model.TechniqueID{"1.1", "1.2", "1.3", "1.4"}

// ComputeStructure scores the flow through the phases and the opening.
func ComputeStructure(turns []model.TranscriptTurn, evaluations []model.TurnEvaluation) model.StructureMetrics {
	timeline := Timeline(turns, evaluations)
	m := model.StructureMetrics{Timeline: timeline}

	for i := 1; i < len(timeline); i++ {
		if timeline[i] == timeline[i-1] {
			continue
		}
		m.Transitions = append(m.Transitions, model.PhaseTransition{
			TurnIdx: turns[i].Idx,
			From:    timeline[i-1],
			To:      timeline[i],
		})
		if timeline[i]-timeline[i-1] > 1 {
			m.PhaseJumps++
		}
	}

	evals := sortedEvaluations(evaluations)

	sawDiscovery, lastRaw := false, 0
	for _, ev := range evals {
		raw := ev.MaxPhase()
		if raw == 0 {
			continue
		}
		for _, t := range ev.Techniques {
			if t.ID.Phase() == model.PhaseDiscovery {
				sawDiscovery = true
			}
		}
		if raw >= model.PhaseRecommendation && !sawDiscovery {
			m.SkippedDiscovery = true
		}
		if lastRaw == model.PhaseRecommendation && raw == model.PhaseDiscovery {
			m.DiscoveryReturns++
		}
		lastRaw = raw
	}

	flow := 100 - phaseJumpPenalty*m.PhaseJumps
	if m.SkippedDiscovery {
		flow -= skippedDiscoveryPenalty
	}
	flow += min(discoveryReturnBonus*m.DiscoveryReturns, maxDiscoveryReturnBonus)
	m.FlowScore = clamp(flow)

	m.OpeningStepsFound, m.OpeningInOrder = openingSequence(evals)
	found := float64(len(m.OpeningStepsFound))
	opening := 70 * found / float64(len(openingSteps))
	if m.OpeningInOrder {
		opening += 30 * found / float64(len(openingSteps))
	}
	m.OpeningScore = clamp(int(math.Round(opening)))

	m.OverallScore = clamp(int(math.Round(0.6*float64(m.FlowScore) + 0.4*float64(m.OpeningScore))))
	return m
}

// openingSequence lists the opening steps in order of first detection and
// reports whether that order is canonical with at least two steps found.
func openingSequence(sorted []model.TurnEvaluation) ([]model.TechniqueID, bool) {
	seen := make(map[model.TechniqueID]bool, len(openingSteps))
	var found []model.TechniqueID
	for _, ev := range sorted {
		for _, step := range openingSteps {
			if !seen[step] && ev.HasWithin(step) {
				seen[step] = true
				found = append(found, step)
			}
		}
	}
	if len(found) < 2 {
		return found, false
	}
	inOrder := sort.SliceIsSorted(found, func(i, j int) bool { return found[i] < found[j] })
	return found, inOrder
}
