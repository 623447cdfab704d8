package metrics

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/model"
)

type impactOutput struct {
	Values []struct {
		TurnIdx int    `json:"turnIdx"`
		Quote   string `json:"quote"`
		Kind    string `json:"kind"`
	} `json:"values"`
	Chains []struct {
		TurnIdx  int  `json:"turnIdx"`
		Solution bool `json:"solution"`
		Benefit  bool `json:"benefit"`
		Value    bool `json:"value"`
	} `json:"chains"`
}

type impactExtraction struct {
	values []model.ValueMoment
	chains map[int]model.OVBChain
}

func (e *Engine) computeImpact(ctx context.Context, turns []model.TranscriptTurn, evaluations []model.TurnEvaluation, timeline []int) model.ImpactMetrics {
	var extraction *impactExtraction

	candidates := impactCandidates(turns, timeline)
	if e.gen != nil && sellerChars(candidates) >= e.impactMinChars {
		got, err := e.extractImpact(ctx, candidates, recommendationTurns(evaluations))
		if err != nil {
			e.log.WithError(err).Warn("impact extraction failed")
		} else {
			extraction = got
		}
	}
	return scoreImpact(evaluations, extraction)
}

// scoreImpact combines the extraction, nil when none ran, with the ordering
// check.
func scoreImpact(evaluations []model.TurnEvaluation, extraction *impactExtraction) model.ImpactMetrics {
	var m model.ImpactMetrics
	recTurns := recommendationTurns(evaluations)

	var valuePart, chainPart component
	if extraction != nil {
		m.Extracted = true
		m.Values = extraction.values

		explicit := 0
		for _, v := range m.Values {
			if v.Kind == model.ValueExplicitPersonal {
				explicit++
			}
		}
		if len(m.Values) > 0 {
			m.ValueScore = clamp(int(math.Round(percent(explicit, len(m.Values)))))
			valuePart = component{weight: 0.4, score: float64(m.ValueScore), scored: true}
		}

		complete := 0
		for _, idx := range recTurns {
			chain, ok := extraction.chains[idx]
			if !ok {
				chain = model.OVBChain{TurnIdx: idx}
			}
			if chain.Complete() {
				complete++
			}
			m.Chains = append(m.Chains, chain)
		}
		if len(recTurns) > 0 {
			m.ChainScore = clamp(int(math.Round(percent(complete, len(recTurns)))))
			chainPart = component{weight: 0.35, score: float64(m.ChainScore), scored: true}
		}
	}

	var orderingPart component
	if len(recTurns) > 0 {
		firstCommit := -1
		for _, ev := range sortedEvaluations(evaluations) {
			if ev.HasWithin(model.CommitRoot) {
				firstCommit = ev.TurnIdx
				break
			}
		}
		m.CommitBeforeRecommend = firstCommit >= 0 && firstCommit < recTurns[0]
		m.OrderingViolation = !m.CommitBeforeRecommend
		ordering := 100.0
		if m.OrderingViolation {
			ordering = 0
		}
		orderingPart = component{weight: 0.25, score: ordering, scored: true}
	}

	m.OverallScore = weighted(valuePart, chainPart, orderingPart)
	return m
}

func (e *Engine) extractImpact(ctx context.Context, candidates []model.TranscriptTurn, recTurns []int) (*impactExtraction, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out impactOutput
	req := llm.Request{
		Unit:       llm.UnitImpact,
		System:     impactSystemPrompt,
		Prompt:     buildImpactPrompt(candidates, recTurns),
		SchemaName: "impact_values_v1",
		Schema:     impactSchema,
	}
	if err := llm.GenerateJSON(callCtx, e.gen, req, &out); err != nil {
		return nil, fmt.Errorf("extract impact values: %w", err)
	}

	known := make(map[int]bool, len(candidates))
	for _, t := range candidates {
		known[t.Idx] = true
	}
	isRec := make(map[int]bool, len(recTurns))
	for _, idx := range recTurns {
		isRec[idx] = true
	}

	res := &impactExtraction{chains: make(map[int]model.OVBChain)}
	for _, v := range out.Values {
		kind := model.ValueKind(strings.TrimSpace(v.Kind))
		switch kind {
		case model.ValueExplicitPersonal, model.ValueProductBenefit, model.ValueGeneric:
		default:
			continue
		}
		if !known[v.TurnIdx] {
			continue
		}
		res.values = append(res.values, model.ValueMoment{TurnIdx: v.TurnIdx, Quote: strings.TrimSpace(v.Quote), Kind: kind})
	}
	for _, c := range out.Chains {
		if !isRec[c.TurnIdx] {
			continue
		}
		res.chains[c.TurnIdx] = model.OVBChain{TurnIdx: c.TurnIdx, Solution: c.Solution, Benefit: c.Benefit, Value: c.Value}
	}
	return res, nil
}

// impactCandidates are the seller turns spoken while in phase 2 or 3.
func impactCandidates(turns []model.TranscriptTurn, timeline []int) []model.TranscriptTurn {
	var out []model.TranscriptTurn
	for i, t := range turns {
		if t.Speaker != model.SpeakerSeller {
			continue
		}
		if timeline[i] == model.PhaseDiscovery || timeline[i] == model.PhaseRecommendation {
			out = append(out, t)
		}
	}
	return out
}

func sellerChars(turns []model.TranscriptTurn) int {
	n := 0
	for _, t := range turns {
		n += utf8.RuneCountInString(t.Text)
	}
	return n
}

// recommendationTurns are the turns with a detected phase-3 technique, in
// turn order.
func recommendationTurns(evaluations []model.TurnEvaluation) []int {
	var out []int
	for _, ev := range sortedEvaluations(evaluations) {
		for _, t := range ev.Techniques {
			if t.ID.Phase() == model.PhaseRecommendation {
				out = append(out, ev.TurnIdx)
				break
			}
		}
	}
	return out
}

func buildImpactPrompt(candidates []model.TranscriptTurn, recTurns []int) string {
	var b strings.Builder
	b.WriteString("Verkoperbeurten:\n")
	for _, t := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", t.Idx, t.Text)
	}
	if len(recTurns) > 0 {
		b.WriteString("\nControleer de Oplossing-Voordeel-Baat keten voor de beurten: ")
		for i, idx := range recTurns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%d", idx)
		}
		b.WriteString("\n")
	}
	return b.String()
}

const impactSystemPrompt = `Je analyseert hoe een verkoper waarde vertaalt naar de klant.
1) Haal elke uitspraak over waarde uit de verkoperbeurten en classificeer die:
   - explicit_personal: de waarde wordt expliciet vertaald naar de situatie van deze klant
   - product_benefit: alleen een voordeel van het product
   - generic: algemene bewering zonder inhoud
2) Geef per gevraagde beurt aan of de keten Oplossing (solution), Voordeel (benefit) en Baat voor de klant (value) aanwezig is.
Antwoord alleen met JSON volgens het schema.`

var impactSchema = llm.MustParseSchema(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["values", "chains"],
  "properties": {
    "values": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["turnIdx", "quote", "kind"],
        "properties": {
          "turnIdx": { "type": "integer" },
          "quote": { "type": "string" },
          "kind": { "type": "string", "enum": ["explicit_personal", "product_benefit", "generic"] }
        }
      }
    },
    "chains": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["turnIdx", "solution", "benefit", "value"],
        "properties": {
          "turnIdx": { "type": "integer" },
          "solution": { "type": "boolean" },
          "benefit": { "type": "boolean" },
          "value": { "type": "boolean" }
        }
      }
    }
  }
}`)
