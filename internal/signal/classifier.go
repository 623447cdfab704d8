// Package signal classifies the customer's attitude (houding) per utterance.
package signal

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/tetraminz/sales_coach/internal/knowledge"
	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
)

const (
	confidenceLexicon  = 0.9
	confidenceQuestion = 0.8
	confidenceShort    = 0.5
	confidenceService  = 0.7
	confidenceFallback = 0.3

	shortUtteranceChars = 20
)

type lexiconEntry struct {
	houding  model.Houding
	phrases  []string
	minPhase int
}

// lexicon is checked in order; the first hit wins.
var lexicon = []lexiconEntry{
	{houding: model.HoudingVraag, phrases: []string{
		"kunt u", "kun je", "hoe werkt", "wat kost", "wat is het verschil", "is het mogelijk", "ik vroeg me af", "vraagje",
	}},
	{houding: model.HoudingPositief, phrases: []string{
		"klinkt goed", "interessant", "dat spreekt me aan", "mooi", "prima", "precies", "helemaal goed",
	}},
	{houding: model.HoudingNegatief, phrases: []string{
		"niet tevreden", "frustrerend", "teleurgesteld", "vervelend", "ergerlijk", "werkt niet", "slecht",
	}},
	{houding: model.HoudingVaag, phrases: []string{
		"misschien", "weet ik niet", "zou kunnen", "ongeveer", "min of meer", "het hangt ervan af", "zoiets",
	}},
	{houding: model.HoudingOntwijkend, phrases: []string{
		"daar wil ik niet", "geen idee", "laten we het daar", "dat doet er niet toe", "maakt niet uit", "lastig te zeggen",
	}},
	{houding: model.HoudingTwijfel, minPhase: model.PhaseDecision, phrases: []string{
		"ik twijfel", "weet niet zeker", "niet zeker", "ik vraag me af of", "is dat wel",
	}},
	{houding: model.HoudingBezwaar, minPhase: model.PhaseDecision, phrases: []string{
		"te duur", "te hoog", "geen budget", "we hebben al", "goedkoper", "concurrent",
	}},
	{houding: model.HoudingUitstel, minPhase: model.PhaseDecision, phrases: []string{
		"denk erover na", "even nadenken", "overleggen", "kom ik op terug", "volgend jaar", "nog niet", "later",
	}},
}

var interrogatives = map[string]struct{}{
	"wat": {}, "wie": {}, "waar": {}, "wanneer": {}, "waarom": {}, "hoe": {}, "welke": {}, "welk": {},
	"hoeveel": {}, "hoelang": {}, "waarmee": {}, "waarvoor": {}, "kan": {}, "kunt": {}, "kun": {}, "zou": {},
}

// Classifier is the Signal Classifier.
type Classifier struct {
	gen llm.Generator
	kb  knowledge.Base
	log *logrus.Entry
}

func NewClassifier(gen llm.Generator, kb knowledge.Base, log *logrus.Entry) *Classifier {
	return &Classifier{gen: gen, kb: kb, log: logger.Component(log, "signal")}
}

// Classify returns exactly one houding for a customer utterance.
func (c *Classifier) Classify(ctx context.Context, turnIdx int, text string, phase int) model.CustomerSignalResult {
	if phase < model.PhaseOpening {
		phase = model.PhaseOpening
	}
	houding, confidence := c.classify(ctx, turnIdx, text, phase)

	result := model.CustomerSignalResult{
		TurnIdx:      turnIdx,
		Houding:      houding,
		Confidence:   confidence,
		CurrentPhase: phase,
	}
	if c.kb != nil {
		result.RecommendedTechniqueIDs = c.kb.RecommendedFor(houding)
	}
	return result
}

func (c *Classifier) classify(ctx context.Context, turnIdx int, text string, phase int) (model.Houding, float64) {
	normalized := strings.ToLower(strings.TrimSpace(text))

	if h, ok := MatchLexicon(normalized, phase); ok {
		return h, confidenceLexicon
	}
	if isQuestion(normalized) {
		return model.HoudingVraag, confidenceQuestion
	}
	if len([]rune(normalized)) < shortUtteranceChars {
		return model.HoudingOntwijkend, confidenceShort
	}

	h, confidence, err := c.askService(ctx, turnIdx, text, phase)
	if err != nil {
		c.log.WithError(err).WithField("turn_idx", turnIdx).Warn("signal classification failed, defaulting to ontwijkend")
		return model.HoudingOntwijkend, confidenceFallback
	}
	return h, confidence
}

// MatchLexicon runs the phrase lexicon over lower-cased text. Phase-gated
// labels are only considered from their minimum phase.
func MatchLexicon(lowered string, phase int) (model.Houding, bool) {
	for _, entry := range lexicon {
		if entry.minPhase > 0 && phase < entry.minPhase {
			continue
		}
		for _, phrase := range entry.phrases {
			if strings.Contains(lowered, phrase) {
				return entry.houding, true
			}
		}
	}
	return "", false
}

func isQuestion(lowered string) bool {
	if strings.HasSuffix(lowered, "?") {
		return true
	}
	first := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(first) == 0 {
		return false
	}
	_, ok := interrogatives[first[0]]
	return ok
}

type serviceOutput struct {
	Houding    string  `json:"houding"`
	Confidence float64 `json:"confidence"`
}

func (c *Classifier) askService(ctx context.Context, turnIdx int, text string, phase int) (model.Houding, float64, error) {
	allowed := model.AllowedHoudingen(phase)
	labels := make([]string, len(allowed))
	for i, h := range allowed {
		labels[i] = string(h)
	}

	var out serviceOutput
	req := llm.Request{
		Unit:       llm.UnitSignal,
		Index:      turnIdx,
		System:     signalSystemPrompt,
		Prompt:     buildSignalPrompt(text, phase, labels),
		SchemaName: "customer_signal_v1",
		Schema:     signalSchema,
	}
	if err := llm.GenerateJSON(ctx, c.gen, req, &out); err != nil {
		return "", 0, err
	}

	h := model.Houding(strings.ToLower(strings.TrimSpace(out.Houding)))
	for _, a := range allowed {
		if a == h {
			confidence := out.Confidence
			if confidence <= 0 || confidence > 1 {
				confidence = confidenceService
			}
			return h, confidence, nil
		}
	}
	return "", 0, fmt.Errorf("houding %q is not allowed in phase %d", out.Houding, phase)
}

func buildSignalPrompt(text string, phase int, labels []string) string {
	var b strings.Builder
	b.WriteString("Huidige fase van het gesprek: ")
	b.WriteString(phaseName(phase))
	b.WriteString("\nToegestane labels: ")
	b.WriteString(strings.Join(labels, ", "))
	b.WriteString("\n\nUitspraak van de klant:\n")
	b.WriteString(strings.TrimSpace(text))
	return b.String()
}

func phaseName(phase int) string {
	switch phase {
	case model.PhaseOpening:
		return "1 (opening)"
	case model.PhaseDiscovery:
		return "2 (ontdekking)"
	case model.PhaseRecommendation:
		return "3 (aanbeveling)"
	default:
		return "4 (beslissing)"
	}
}

const signalSystemPrompt = `Je classificeert de houding van een klant in een Nederlands verkoopgesprek.
Kies precies één label uit de toegestane labels en geef een betrouwbaarheid tussen 0 en 1.
Antwoord alleen met JSON: {"houding":"<label>","confidence":<getal>}.`

var signalSchema = llm.MustParseSchema(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["houding", "confidence"],
  "properties": {
    "houding": { "type": "string" },
    "confidence": { "type": "number" }
  }
}`)
