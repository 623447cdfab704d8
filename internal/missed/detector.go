// Package missed flags coaching failure patterns over a scored conversation.
// Detection is purely rule based; Enrich only adds a suggested better
// question to flags that lack one.
package missed

import (
	"sort"
	"strings"
	"unicode"

	"github.com/tetraminz/sales_coach/internal/model"
)

const (
	minExploreBeforeAdvance = 3
	translationLookahead    = 3
)

var defensiveMarkers = []string{"maar", "nee", "integendeel", "dat klopt niet", "dat is niet waar"}

var genericBenefitMarkers = []string{
	"bespaart", "besparing", "efficiënter", "efficiency", "sneller", "verhoogt", "verbetert", "voordeel", "voordelen", "rendement",
}

var personalTranslationMarkers = []string{
	"voor u", "voor jou", "voor jullie", "in uw situatie", "betekent dat u", "concreet voor", "voor uw team", "voor uw bedrijf",
}

// Detect runs every rule and returns the flags ordered by turn index;
// conversation-wide flags come first.
func Detect(turns []model.TranscriptTurn, evaluations []model.TurnEvaluation, signals []model.CustomerSignalResult) []model.MissedOpportunity {
	c := newConversation(turns, evaluations)

	var out []model.MissedOpportunity
	if m, ok := c.prematureAdvance(); ok {
		out = append(out, m)
	}
	out = append(out, c.skippedSteps()...)
	out = append(out, c.unaddressedSignals(signals)...)
	out = append(out, c.valueWithoutTranslation()...)

	sort.SliceStable(out, func(i, j int) bool { return out[i].TurnIdx < out[j].TurnIdx })
	return out
}

type conversation struct {
	turns  []model.TranscriptTurn
	byTurn map[int]model.TurnEvaluation
	evals  []model.TurnEvaluation
}

func newConversation(turns []model.TranscriptTurn, evaluations []model.TurnEvaluation) *conversation {
	evals := append([]model.TurnEvaluation(nil), evaluations...)
	sort.SliceStable(evals, func(i, j int) bool { return evals[i].TurnIdx < evals[j].TurnIdx })

	byTurn := make(map[int]model.TurnEvaluation, len(evals))
	for _, ev := range evals {
		byTurn[ev.TurnIdx] = ev
	}
	return &conversation{turns: turns, byTurn: byTurn, evals: evals}
}

func (c *conversation) prematureAdvance() (model.MissedOpportunity, bool) {
	explored := 0
	for _, ev := range c.evals {
		for _, t := range ev.Techniques {
			if t.ID.Within(model.ExploreRoot) {
				explored++
			}
		}
		if ev.MaxPhase() < model.PhaseRecommendation || explored >= minExploreBeforeAdvance {
			continue
		}
		m := c.flag(ev.TurnIdx, model.MissedPrematureAdvance,
			"De verkoper gaat naar een aanbeveling of afsluiting voordat de situatie van de klant voldoende is verkend.")
		return m, true
	}
	return model.MissedOpportunity{}, false
}

func (c *conversation) skippedSteps() []model.MissedOpportunity {
	steps := []struct {
		root        model.TechniqueID
		kind        model.MissedOpportunityType
		description string
	}{
		{model.ProbeRoot, model.MissedSkippedProbe, "Er is niet doorgevraagd (Probe) om de behoefte van de klant scherp te krijgen."},
		{model.ImpactRoot, model.MissedSkippedImpact, "De impact van het probleem voor de klant is niet besproken."},
		{model.CommitRoot, model.MissedSkippedCommit, "Er is geen commitment gevraagd om het probleem samen op te lossen."},
	}

	var out []model.MissedOpportunity
	for _, step := range steps {
		present := false
		for _, ev := range c.evals {
			if ev.HasWithin(step.root) {
				present = true
				break
			}
		}
		if !present {
			out = append(out, model.MissedOpportunity{
				TurnIdx:     model.ConversationWide,
				Type:        step.kind,
				Description: step.description,
			})
		}
	}
	return out
}

func (c *conversation) unaddressedSignals(signals []model.CustomerSignalResult) []model.MissedOpportunity {
	var out []model.MissedOpportunity
	for _, sig := range signals {
		switch sig.Houding {
		case model.HoudingTwijfel:
			next, ok := c.nextSellerTurn(sig.TurnIdx)
			if !ok {
				continue
			}
			ev := c.byTurn[next.Idx]
			if ev.HasWithin(model.ImpactRoot) || ev.HasWithin(model.CommitRoot) {
				continue
			}
			out = append(out, c.flag(next.Idx, model.MissedUnaddressedDoubt,
				"De klant twijfelt, maar de verkoper gaat niet terug naar de impact of het commitment."))
		case model.HoudingBezwaar:
			next, ok := c.nextSellerTurn(sig.TurnIdx)
			if !ok || !containsAnyWord(next.Text, defensiveMarkers) {
				continue
			}
			out = append(out, c.flag(next.Idx, model.MissedUnaddressedObjection,
				"De verkoper gaat in de verdediging tegen het bezwaar in plaats van het te erkennen en uit te diepen."))
		}
	}
	return out
}

func (c *conversation) valueWithoutTranslation() []model.MissedOpportunity {
	var out []model.MissedOpportunity
	for i, turn := range c.turns {
		if turn.Speaker != model.SpeakerSeller || !containsAnyWord(turn.Text, genericBenefitMarkers) {
			continue
		}
		translated := false
		for j := i; j < len(c.turns) && j <= i+translationLookahead; j++ {
			if containsAnyWord(c.turns[j].Text, personalTranslationMarkers) {
				translated = true
				break
			}
		}
		if translated {
			continue
		}
		out = append(out, c.flag(turn.Idx, model.MissedValueWithoutTranslate,
			"De verkoper noemt een algemeen voordeel zonder te vertalen wat het voor deze klant betekent."))
	}
	return out
}

func (c *conversation) nextSellerTurn(after int) (model.TranscriptTurn, bool) {
	for _, t := range c.turns {
		if t.Idx > after && t.Speaker == model.SpeakerSeller {
			return t, true
		}
	}
	return model.TranscriptTurn{}, false
}

// flag builds an opportunity for a seller turn with the customer turn right
// before it.
func (c *conversation) flag(turnIdx int, kind model.MissedOpportunityType, description string) model.MissedOpportunity {
	m := model.MissedOpportunity{TurnIdx: turnIdx, Type: kind, Description: description}
	for _, t := range c.turns {
		if t.Idx == turnIdx {
			m.SellerSaid = t.Text
		}
		if t.Idx < turnIdx && t.Speaker == model.SpeakerCustomer {
			m.CustomerSaid = t.Text
		}
	}
	return m
}

// containsAnyWord matches any marker on word boundaries, case-insensitively.
func containsAnyWord(text string, markers []string) bool {
	doc := wordString(text)
	for _, marker := range markers {
		needle := wordString(marker)
		if strings.TrimSpace(needle) != "" && strings.Contains(doc, needle) {
			return true
		}
	}
	return false
}

func wordString(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ") + " "
}
