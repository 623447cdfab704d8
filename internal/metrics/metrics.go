// Package metrics computes the four detailed metric families of an analysed
// conversation. Structure, houdingen and balance are deterministic; impact
// makes one optional generation call to extract value moments.
package metrics

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
)

const (
	DefaultImpactMinChars = 200
	defaultImpactTimeout  = 45 * time.Second
)

// Input is the shared read-only input of every family.
type Input struct {
	Turns       []model.TranscriptTurn
	Evaluations []model.TurnEvaluation
	Signals     []model.CustomerSignalResult
	Coverage    model.PhaseCoverage
}

// Engine is the Detailed Metrics Engine.
type Engine struct {
	gen            llm.Generator
	impactMinChars int
	timeout        time.Duration
	log            *logrus.Entry
}

func NewEngine(gen llm.Generator, impactMinChars int, log *logrus.Entry) *Engine {
	if impactMinChars <= 0 {
		impactMinChars = DefaultImpactMinChars
	}
	return &Engine{
		gen:            gen,
		impactMinChars: impactMinChars,
		timeout:        defaultImpactTimeout,
		log:            logger.Component(log, "metrics"),
	}
}

// Compute derives all four families from the same input.
func (e *Engine) Compute(ctx context.Context, in Input) model.DetailedMetrics {
	timeline := Timeline(in.Turns, in.Evaluations)
	return model.DetailedMetrics{
		Structure: ComputeStructure(in.Turns, in.Evaluations),
		Impact:    e.computeImpact(ctx, in.Turns, in.Evaluations, timeline),
		Houdingen: ComputeHoudingen(in.Turns, in.Evaluations, in.Signals),
		Balance:   ComputeBalance(in.Turns, timeline),
	}
}

// Timeline returns the current phase per turn, aligned with turns. The phase
// starts at 1 and only increases as higher-phase techniques are detected.
func Timeline(turns []model.TranscriptTurn, evaluations []model.TurnEvaluation) []int {
	byTurn := evaluationsByTurn(evaluations)
	out := make([]int, len(turns))
	current := model.PhaseOpening
	for i, t := range turns {
		if ev, ok := byTurn[t.Idx]; ok {
			current = max(current, ev.MaxPhase())
		}
		out[i] = current
	}
	return out
}

func evaluationsByTurn(evaluations []model.TurnEvaluation) map[int]model.TurnEvaluation {
	out := make(map[int]model.TurnEvaluation, len(evaluations))
	for _, ev := range evaluations {
		out[ev.TurnIdx] = ev
	}
	return out
}

func sortedEvaluations(evaluations []model.TurnEvaluation) []model.TurnEvaluation {
	out := append([]model.TurnEvaluation(nil), evaluations...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TurnIdx < out[j].TurnIdx })
	return out
}

func nextSellerTurn(turns []model.TranscriptTurn, after int) (model.TranscriptTurn, bool) {
	for _, t := range turns {
		if t.Idx > after && t.Speaker == model.SpeakerSeller {
			return t, true
		}
	}
	return model.TranscriptTurn{}, false
}

// component is one weighted part of an overall score. Parts without an
// opportunity to score are left out and the remaining weights renormalised.
type component struct {
	weight float64
	score  float64
	scored bool
}

func weighted(parts ...component) int {
	total, weights := 0.0, 0.0
	for _, p := range parts {
		if !p.scored {
			continue
		}
		total += p.weight * p.score
		weights += p.weight
	}
	if weights == 0 {
		return 0
	}
	return clamp(int(math.Round(total / weights)))
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part*100) / float64(whole)
}

func ratio(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

func clamp(v int) int {
	return min(max(v, 0), 100)
}

func clampf(v float64) float64 {
	return math.Min(math.Max(v, 0), 100)
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
