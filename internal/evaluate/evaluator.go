// Package evaluate decides which techniques a seller turn demonstrates.
//
// Each seller turn is judged by the generation service against the preceding
// customer turn and its signal. When the service fails or answers garbage
// the turn falls back to a fixed phrase table for discovery techniques.
// Turns are evaluated in fixed-size concurrent batches; a failing turn never
// fails its batch.
package evaluate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tetraminz/sales_coach/internal/knowledge"
	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
)

const (
	DefaultBatchSize = 5
	DefaultMinChars  = 5

	// ExpectedMoveBonus is added per detected technique that matches a move
	// recommended for the customer's preceding signal.
	ExpectedMoveBonus = 2

	maxTechniqueScore = 10
)

// Input is one seller turn with its context.
type Input struct {
	Turn         model.TranscriptTurn
	CustomerText string
	Signal       *model.CustomerSignalResult
	Phase        int
	EPIC         model.EPICStep
}

// Options tunes batching.
type Options struct {
	BatchSize int
	MinChars  int
}

// Evaluator is the Technique Evaluator.
type Evaluator struct {
	gen  llm.Generator
	kb   knowledge.Base
	opts Options
	log  *logrus.Entry
}

func NewEvaluator(gen llm.Generator, kb knowledge.Base, opts Options, log *logrus.Entry) *Evaluator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MinChars <= 0 {
		opts.MinChars = DefaultMinChars
	}
	return &Evaluator{gen: gen, kb: kb, opts: opts, log: logger.Component(log, "evaluate")}
}

// BatchSize is the number of turns evaluated concurrently.
func (e *Evaluator) BatchSize() int { return e.opts.BatchSize }

// Skip reports whether a turn is too short to evaluate.
func (e *Evaluator) Skip(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) < e.opts.MinChars
}

// EvaluateBatch evaluates all inputs concurrently and returns the produced
// evaluations ordered by turn index. Skipped turns and fallbacks without any
// detection are omitted.
func (e *Evaluator) EvaluateBatch(ctx context.Context, inputs []Input) []model.TurnEvaluation {
	results := make([]*model.TurnEvaluation, len(inputs))

	g, gCtx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		g.Go(func() error {
			if ev, ok := e.Evaluate(gCtx, in); ok {
				results[i] = &ev
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.TurnEvaluation, 0, len(inputs))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TurnIdx < out[j].TurnIdx })
	return out
}

// Evaluate judges one seller turn. ok is false when the turn is skipped or
// the fallback detects nothing.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (model.TurnEvaluation, bool) {
	if e.Skip(in.Turn.Text) {
		return model.TurnEvaluation{}, false
	}

	var expected []model.TechniqueID
	if in.Signal != nil {
		expected = in.Signal.RecommendedTechniqueIDs
	}

	ev, err := e.askService(ctx, in, expected)
	if err == nil {
		return ev, true
	}
	e.log.WithError(err).WithField("turn_idx", in.Turn.Idx).Warn("technique evaluation failed, using pattern fallback")

	techniques := MatchPatterns(e.kb, in.Turn.Text)
	if len(techniques) == 0 {
		return model.TurnEvaluation{}, false
	}
	bonus := ApplyExpectedMoveBonus(techniques, expected)
	return model.TurnEvaluation{
		TurnIdx:           in.Turn.Idx,
		Techniques:        techniques,
		OverallQuality:    bestQuality(techniques),
		Rationale:         "Herkend via vaste patronen; de evaluatieservice was niet beschikbaar.",
		ExpectedMoveBonus: bonus,
		Source:            model.SourcePatterns,
	}, true
}

// ApplyExpectedMoveBonus adds the bonus to every technique that equals or
// descends from an expected technique and returns the total awarded. A
// technique that is only a parent of an expected move earns nothing.
func ApplyExpectedMoveBonus(techniques []model.DetectedTechnique, expected []model.TechniqueID) int {
	total := 0
	for i := range techniques {
		for _, exp := range expected {
			if techniques[i].ID.Within(exp) {
				techniques[i].Score += ExpectedMoveBonus
				total += ExpectedMoveBonus
				break
			}
		}
	}
	return total
}

type serviceOutput struct {
	Techniques []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Quality string `json:"quality"`
		Score   int    `json:"score"`
	} `json:"techniques"`
	OverallQuality string `json:"overallQuality"`
	Rationale      string `json:"rationale"`
}

func (e *Evaluator) askService(ctx context.Context, in Input, expected []model.TechniqueID) (model.TurnEvaluation, error) {
	var out serviceOutput
	req := llm.Request{
		Unit:       llm.UnitTechnique,
		Index:      in.Turn.Idx,
		System:     evaluationSystemPrompt,
		Prompt:     e.buildPrompt(in, expected),
		SchemaName: "technique_evaluation_v1",
		Schema:     evaluationSchema,
	}
	if err := llm.GenerateJSON(ctx, e.gen, req, &out); err != nil {
		return model.TurnEvaluation{}, err
	}

	techniques := make([]model.DetectedTechnique, 0, len(out.Techniques))
	seen := make(map[model.TechniqueID]bool, len(out.Techniques))
	for _, t := range out.Techniques {
		id := model.TechniqueID(strings.TrimSpace(t.ID))
		quality := model.ParseQuality(t.Quality)
		if id.Phase() == 0 || quality == model.QualityGemist || seen[id] {
			continue
		}
		if e.kb != nil {
			if _, known := e.kb.Technique(id); !known {
				continue
			}
		}
		seen[id] = true

		name := strings.TrimSpace(t.Name)
		if name == "" && e.kb != nil {
			name = knowledge.Name(e.kb, id)
		}
		score := t.Score
		if score <= 0 || score > maxTechniqueScore {
			score = quality.Points()
		}
		techniques = append(techniques, model.DetectedTechnique{ID: id, Name: name, Quality: quality, Score: score})
	}

	bonus := ApplyExpectedMoveBonus(techniques, expected)
	overall := model.ParseQuality(out.OverallQuality)
	if len(techniques) > 0 && strings.TrimSpace(out.OverallQuality) == "" {
		overall = bestQuality(techniques)
	}
	return model.TurnEvaluation{
		TurnIdx:           in.Turn.Idx,
		Techniques:        techniques,
		OverallQuality:    overall,
		Rationale:         strings.TrimSpace(out.Rationale),
		ExpectedMoveBonus: bonus,
		Source:            model.SourceService,
	}, nil
}

func bestQuality(techniques []model.DetectedTechnique) model.Quality {
	best := model.QualityGemist
	for _, t := range techniques {
		if t.Quality.Better(best) {
			best = t.Quality
		}
	}
	return best
}

func (e *Evaluator) buildPrompt(in Input, expected []model.TechniqueID) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Fase: %d\n", max(in.Phase, model.PhaseOpening))
	if in.Phase == model.PhaseDiscovery && in.EPIC != "" {
		fmt.Fprintf(&b, "EPIC-stap: %s\n", in.EPIC)
	}
	if in.Signal != nil {
		fmt.Fprintf(&b, "Houding klant: %s\n", in.Signal.Houding)
	}
	if len(expected) > 0 {
		ids := make([]string, len(expected))
		for i, id := range expected {
			ids[i] = string(id)
		}
		fmt.Fprintf(&b, "Verwachte technieken: %s\n", strings.Join(ids, ", "))
	}

	b.WriteString("\nKlant zei:\n")
	if strings.TrimSpace(in.CustomerText) == "" {
		b.WriteString("(geen voorafgaande klantbeurt)\n")
	} else {
		b.WriteString(strings.TrimSpace(in.CustomerText) + "\n")
	}
	b.WriteString("\nVerkoper zei:\n")
	b.WriteString(strings.TrimSpace(in.Turn.Text) + "\n")

	if e.kb != nil {
		b.WriteString("\nReferentietechnieken:\n")
		for _, t := range referenceTechniques(e.kb, in.Phase) {
			fmt.Fprintf(&b, "- %s %s: %s\n", t.ID, t.Name, t.Description)
		}
		if golden := e.kb.GoldenExamples(expected); len(golden) > 0 {
			b.WriteString("\nGoedgekeurde voorbeelden:\n")
			for _, g := range golden {
				fmt.Fprintf(&b, "- [%s] klant: %q verkoper: %q (%s)\n", g.TechniqueID, g.Customer, g.Seller, g.Note)
			}
		}
	}

	b.WriteString("\n" + scoringRubric)
	return b.String()
}

// referenceTechniques returns the techniques of the current phase and the
// next one, so a seller moving on can still be recognised.
func referenceTechniques(kb knowledge.Base, phase int) []knowledge.Technique {
	phase = max(phase, model.PhaseOpening)
	out := kb.TechniquesForPhase(phase)
	if phase < model.PhaseDecision {
		out = append(out, kb.TechniquesForPhase(phase+1)...)
	}
	return out
}

const scoringRubric = `Beoordelingsschaal per techniek:
- perfect (10): volledig en natuurlijk toegepast
- goed (7): duidelijk toegepast met kleine tekortkomingen
- bijna (4): aanzet aanwezig maar onvolledig`

const evaluationSystemPrompt = `Je bent een ervaren verkoopcoach. Bepaal welke technieken uit de methodiek de verkoper in deze beurt toepast.
Gebruik alleen technieken met een geldig id. Geen techniek herkend? Geef een lege lijst.
Antwoord alleen met JSON volgens het schema.`

var evaluationSchema = llm.MustParseSchema(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["techniques", "overallQuality", "rationale"],
  "properties": {
    "techniques": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["id", "name", "quality", "score"],
        "properties": {
          "id": { "type": "string" },
          "name": { "type": "string" },
          "quality": { "enum": ["perfect", "goed", "bijna"] },
          "score": { "type": "integer" }
        }
      }
    },
    "overallQuality": { "enum": ["perfect", "goed", "bijna", "gemist"] },
    "rationale": { "type": "string" }
  }
}`)
