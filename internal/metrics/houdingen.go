package metrics

import (
	"strings"

	"github.com/tetraminz/sales_coach/internal/model"
)

var empathyMarkers = []string{"begrijp", "snap", "logisch", "terecht", "vervelend", "herken"}

// ComputeHoudingen scores how the seller responds to customer attitudes.
// Non-neutral discovery signals count towards recognition, negative signals
// from phase 3 on towards empathy. A signal's phase is read from the final
// phase timeline, so a classification made before later evaluations landed
// does not leave it in an earlier phase.
func ComputeHoudingen(turns []model.TranscriptTurn, evaluations []model.TurnEvaluation, signals []model.CustomerSignalResult) model.HoudingMetrics {
	var m model.HoudingMetrics
	byTurn := evaluationsByTurn(evaluations)
	timeline := Timeline(turns, evaluations)
	phaseAt := make(map[int]int, len(turns))
	for i, t := range turns {
		phaseAt[t.Idx] = timeline[i]
	}

	discovery, recognized := 0, 0
	negative, empathetic := 0, 0
	for _, sig := range signals {
		phase := max(sig.CurrentPhase, phaseAt[sig.TurnIdx])
		inDiscovery := phase == model.PhaseDiscovery && sig.Houding != model.HoudingNeutraal
		lateNegative := phase >= model.PhaseRecommendation && sig.Houding.IsNegative()
		if !inDiscovery && !lateNegative {
			continue
		}
		next, ok := nextSellerTurn(turns, sig.TurnIdx)
		if !ok {
			continue
		}

		resp := model.HoudingResponse{
			SignalTurnIdx: sig.TurnIdx,
			Houding:       sig.Houding,
			ResponseIdx:   next.Idx,
			Recognized:    len(byTurn[next.Idx].Techniques) > 0,
		}
		if inDiscovery {
			discovery++
			if resp.Recognized {
				recognized++
			}
		}
		if lateNegative {
			negative++
			resp.Style = model.StyleTechnical
			if containsAny(strings.ToLower(next.Text), empathyMarkers...) {
				resp.Style = model.StyleEmpathetic
				empathetic++
			}
		}
		m.Responses = append(m.Responses, resp)
	}

	m.RecognitionRate = ratio(recognized, discovery)
	m.EmpathyRate = ratio(empathetic, negative)
	m.OverallScore = weighted(
		component{weight: 0.6, score: m.RecognitionRate * 100, scored: discovery > 0},
		component{weight: 0.4, score: m.EmpathyRate * 100, scored: negative > 0},
	)
	return m
}
