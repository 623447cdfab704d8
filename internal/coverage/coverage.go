// Package coverage turns the evaluation set into 0-100 phase scores.
package coverage

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/tetraminz/sales_coach/internal/knowledge"
	"github.com/tetraminz/sales_coach/internal/model"
)

// Phase weights of the overall score, phases 1-4.
var phaseWeights = [4]float64{0.15, 0.40, 0.25, 0.20}

// Score computes the coverage of the full evaluation set. turns provide the
// seller text for the explore theme coverage.
func Score(kb knowledge.Base, turns []model.TranscriptTurn, evaluations []model.TurnEvaluation) model.PhaseCoverage {
	var cov model.PhaseCoverage
	scores := [4]*model.PhaseScore{&cov.Phase1, &cov.Phase2, &cov.Phase3, &cov.Phase4}

	overall := 0.0
	for i, dst := range scores {
		phase := i + 1
		*dst = ScorePhase(kb, phase, evaluations)
		overall += phaseWeights[i] * float64(dst.Score)
	}
	cov.Overall = clamp(int(math.Round(overall)))
	cov.EPIC = scoreEPIC(kb, turns, evaluations)
	return cov
}

// ScorePhase scores one phase: best-quality points per distinct technique
// over max(key techniques, distinct found) times ten.
func ScorePhase(kb knowledge.Base, phase int, evaluations []model.TurnEvaluation) model.PhaseScore {
	found := make(map[model.TechniqueID]*model.TechniqueCount)
	for _, ev := range evaluations {
		for _, t := range ev.Techniques {
			if t.ID.Phase() != phase {
				continue
			}
			entry, ok := found[t.ID]
			if !ok {
				name := t.Name
				if kb != nil {
					if tech, known := kb.Technique(t.ID); known {
						name = tech.Name
					}
				}
				entry = &model.TechniqueCount{ID: t.ID, Name: name, Quality: t.Quality}
				found[t.ID] = entry
			}
			entry.Count++
			if t.Quality.Better(entry.Quality) {
				entry.Quality = t.Quality
			}
		}
	}

	keyCount := 0
	if kb != nil {
		keyCount = kb.KeyTechniqueCount(phase)
	}
	possible := max(keyCount, len(found))

	ps := model.PhaseScore{
		TechniquesFound: make([]model.TechniqueCount, 0, len(found)),
		TotalPossible:   possible,
	}
	points := 0
	for _, entry := range found {
		points += entry.Quality.Points()
		ps.TechniquesFound = append(ps.TechniquesFound, *entry)
	}
	sort.Slice(ps.TechniquesFound, func(i, j int) bool {
		return ps.TechniquesFound[i].ID < ps.TechniquesFound[j].ID
	})

	if possible > 0 {
		ps.Score = clamp(int(math.Round(float64(points*100) / float64(possible*10))))
	}
	return ps
}

func scoreEPIC(kb knowledge.Base, turns []model.TranscriptTurn, evaluations []model.TurnEvaluation) model.EPICScores {
	var (
		epic        model.EPICScores
		exploreText []string
	)
	textByIdx := make(map[int]string, len(turns))
	for _, t := range turns {
		textByIdx[t.Idx] = t.Text
	}

	hasExplore := false
	for _, ev := range evaluations {
		if ev.HasWithin(model.ExploreRoot) {
			hasExplore = true
			exploreText = append(exploreText, textByIdx[ev.TurnIdx])
		}
		if ev.HasWithin(model.ProbeRoot) {
			epic.Probe = 100
		}
		if ev.HasWithin(model.ImpactRoot) {
			epic.Impact = 100
		}
		if ev.HasWithin(model.CommitRoot) {
			epic.Commit = 100
		}
	}
	if !hasExplore {
		return epic
	}

	var themes []knowledge.Theme
	if kb != nil {
		themes = kb.ExploreThemes()
	}
	if len(themes) == 0 {
		epic.Explore = 100
		return epic
	}

	doc := normalize(strings.Join(exploreText, " "))
	covered := 0
	for _, theme := range themes {
		for _, kw := range theme.Keywords {
			if containsTerm(doc, kw) {
				covered++
				break
			}
		}
	}
	epic.Explore = clamp(int(math.Round(float64(covered*100) / float64(len(themes)))))
	return epic
}

// normalize lower-cases text and reduces it to space-separated words padded
// with one space on both sides.
func normalize(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ") + " "
}

// containsTerm matches whole words or whole word sequences.
func containsTerm(normalizedDoc, term string) bool {
	needle := normalize(term)
	if strings.TrimSpace(needle) == "" {
		return false
	}
	return strings.Contains(normalizedDoc, needle)
}

func clamp(v int) int {
	return min(max(v, 0), 100)
}
