package coverage

import (
	"testing"

	"github.com/tetraminz/sales_coach/internal/knowledge"
	"github.com/tetraminz/sales_coach/internal/model"
)

func defaultKB(t *testing.T) *knowledge.Catalogue {
	t.Helper()
	kb, err := knowledge.Default()
	if err != nil {
		t.Fatalf("knowledge.Default error: %v", err)
	}
	return kb
}

func eval(idx int, techs ...model.DetectedTechnique) model.TurnEvaluation {
	return model.TurnEvaluation{TurnIdx: idx, Techniques: techs}
}

func tech(id model.TechniqueID, q model.Quality) model.DetectedTechnique {
	return model.DetectedTechnique{ID: id, Quality: q, Score: q.Points()}
}

func TestScoreEmptyEvaluationSet(t *testing.T) {
	t.Parallel()

	cov := Score(defaultKB(t), nil, nil)
	for phase := 1; phase <= 4; phase++ {
		if got := cov.Phase(phase).Score; got != 0 {
			t.Fatalf("phase %d score got %d want 0", phase, got)
		}
	}
	if cov.Overall != 0 {
		t.Fatalf("overall got %d want 0", cov.Overall)
	}
	if cov.EPIC != (model.EPICScores{}) {
		t.Fatalf("epic got %+v want zero", cov.EPIC)
	}
}

func TestScorePhaseUsesBestQualityPerTechnique(t *testing.T) {
	t.Parallel()

	evals := []model.TurnEvaluation{
		eval(1, tech("1.1", model.QualityBijna)),
		eval(3, tech("1.1", model.QualityPerfect), tech("1.2", model.QualityGoed)),
	}
	ps := ScorePhase(defaultKB(t), 1, evals)

	// (10 + 7) / (4 * 10) * 100 = 42.5
	if got, want := ps.Score, 43; got != want {
		t.Fatalf("score got %d want %d", got, want)
	}
	if got, want := ps.TotalPossible, 4; got != want {
		t.Fatalf("total possible got %d want %d", got, want)
	}
	if got, want := len(ps.TechniquesFound), 2; got != want {
		t.Fatalf("techniques found got %d want %d", got, want)
	}
	first := ps.TechniquesFound[0]
	if first.ID != "1.1" || first.Count != 2 || first.Quality != model.QualityPerfect || first.Name == "" {
		t.Fatalf("unexpected aggregate %+v", first)
	}
}

func TestScorePhaseDenominatorGrowsWithFoundTechniques(t *testing.T) {
	t.Parallel()

	// Phase 3 has three key techniques; four distinct perfect detections
	// must score 100, not more.
	evals := []model.TurnEvaluation{eval(1,
		tech("3.1", model.QualityPerfect),
		tech("3.2", model.QualityPerfect),
		tech("3.3", model.QualityPerfect),
		tech("3.4", model.QualityPerfect),
	)}
	ps := ScorePhase(defaultKB(t), 3, evals)
	if got, want := ps.Score, 100; got != want {
		t.Fatalf("score got %d want %d", got, want)
	}
	if got, want := ps.TotalPossible, 4; got != want {
		t.Fatalf("total possible got %d want %d", got, want)
	}
}

func TestScoreBoundsAndWeights(t *testing.T) {
	t.Parallel()

	kb := defaultKB(t)
	var all []model.DetectedTechnique
	for phase := 1; phase <= 4; phase++ {
		for _, tc := range kb.TechniquesForPhase(phase) {
			all = append(all, tech(tc.ID, model.QualityPerfect))
		}
	}
	turns := []model.TranscriptTurn{{Idx: 0, Speaker: model.SpeakerSeller, Text: "Hoe is uw team nu georganiseerd, wat is het doel, welk budget, wie beslist en wanneer moet het klaar zijn?"}}
	cov := Score(kb, turns, []model.TurnEvaluation{eval(0, all...)})
	for phase := 1; phase <= 4; phase++ {
		if got := cov.Phase(phase).Score; got != 100 {
			t.Fatalf("phase %d got %d want 100", phase, got)
		}
	}
	if got, want := cov.Overall, 100; got != want {
		t.Fatalf("overall got %d want %d", got, want)
	}
	if cov.EPIC.Probe != 100 || cov.EPIC.Impact != 100 || cov.EPIC.Commit != 100 {
		t.Fatalf("epic presence scores got %+v", cov.EPIC)
	}
	if got, want := cov.EPIC.Explore, 100; got != want {
		t.Fatalf("explore got %d want %d", got, want)
	}

	onlyPhase2 := Score(kb, nil, []model.TurnEvaluation{eval(0, tech("2.2", model.QualityPerfect))})
	// phase 2: 10 / 60 * 100 = 17; overall 0.40 * 17 = 6.8
	if got, want := onlyPhase2.Phase2.Score, 17; got != want {
		t.Fatalf("phase 2 got %d want %d", got, want)
	}
	if got, want := onlyPhase2.Overall, 7; got != want {
		t.Fatalf("overall got %d want %d", got, want)
	}
}

func TestExploreThemeCoverageMatchesWholeWords(t *testing.T) {
	t.Parallel()

	kb := defaultKB(t)
	turns := []model.TranscriptTurn{
		{Idx: 1, Speaker: model.SpeakerSeller, Text: "Hoeveel minuten kost het budget-overleg?"},
		{Idx: 3, Speaker: model.SpeakerSeller, Text: "Wat is uw doel voor volgend jaar?"},
	}
	evals := []model.TurnEvaluation{
		eval(1, tech("2.1.1", model.QualityGoed)),
		eval(3, tech("3.1", model.QualityGoed)),
	}
	cov := Score(kb, turns, evals)
	// Only turn 1 carries an explore technique: "budget" matches, "nu" must
	// not match inside "minuten". One of six themes.
	if got, want := cov.EPIC.Explore, 17; got != want {
		t.Fatalf("explore got %d want %d", got, want)
	}
	if cov.EPIC.Probe != 0 {
		t.Fatalf("probe got %d want 0", cov.EPIC.Probe)
	}
}
