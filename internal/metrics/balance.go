package metrics

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tetraminz/sales_coach/internal/model"
)

const (
	idealSellerShare         = 0.4
	targetDiscoveryQuestions = 0.6
	targetPickupRate         = 0.3
	minPickupWordRunes       = 5
)

var (
	selfPronouns  = map[string]bool{"ik": true, "mij": true, "me": true, "mijn": true, "wij": true, "we": true, "ons": true, "onze": true}
	otherPronouns = map[string]bool{"u": true, "uw": true, "jij": true, "je": true, "jou": true, "jouw": true, "jullie": true}
)

var stopwords = map[string]bool{
	"omdat": true, "zodat": true, "welke": true, "hebben": true, "worden": true, "zullen": true,
	"kunnen": true, "moeten": true, "willen": true, "eigenlijk": true, "gewoon": true, "natuurlijk": true,
	"misschien": true, "echter": true, "daarom": true, "waarom": true, "wanneer": true, "alleen": true,
	"bijvoorbeeld": true, "ongeveer": true, "tussen": true, "andere": true, "nogal": true, "zeker": true,
	"about": true, "there": true, "their": true, "would": true, "could": true, "should": true, "which": true,
}

// ComputeBalance scores talk share, perspective, questioning and vocabulary
// pickup. timeline is the per-turn phase from Timeline.
func ComputeBalance(turns []model.TranscriptTurn, timeline []int) model.BalanceMetrics {
	var m model.BalanceMetrics

	sellerChars, totalChars := 0, 0
	phaseSeller := map[int]int{}
	phaseTotal := map[int]int{}
	sellerTurns, sellerQuestions := 0, 0
	discoveryTurns, discoveryQuestions := 0, 0

	for i, t := range turns {
		n := utf8.RuneCountInString(t.Text)
		phase := model.PhaseOpening
		if i < len(timeline) {
			phase = timeline[i]
		}
		totalChars += n
		phaseTotal[phase] += n
		if t.Speaker != model.SpeakerSeller {
			continue
		}
		sellerChars += n
		phaseSeller[phase] += n

		for _, w := range words(t.Text) {
			switch {
			case selfPronouns[w]:
				m.SelfPronouns++
			case otherPronouns[w]:
				m.OtherPronouns++
			}
		}

		question := strings.Contains(t.Text, "?")
		sellerTurns++
		if question {
			sellerQuestions++
		}
		if phase == model.PhaseDiscovery {
			discoveryTurns++
			if question {
				discoveryQuestions++
			}
		}
	}

	if totalChars == 0 {
		return m
	}

	m.SellerTalkShare = ratio(sellerChars, totalChars)
	m.SellerTalkShareByPhase = make(map[int]float64, len(phaseTotal))
	for phase, total := range phaseTotal {
		if total > 0 {
			m.SellerTalkShareByPhase[phase] = ratio(phaseSeller[phase], total)
		}
	}
	m.PerspectiveRatio = ratio(m.OtherPronouns, m.SelfPronouns+m.OtherPronouns)
	m.QuestionRatio = ratio(sellerQuestions, sellerTurns)
	m.DiscoveryQuestionRatio = ratio(discoveryQuestions, discoveryTurns)
	m.CustomerTerms, m.PickedUpTerms = vocabularyPickup(turns)
	m.PickupRate = ratio(m.PickedUpTerms, m.CustomerTerms)

	talk := clampf(100 - 200*math.Abs(m.SellerTalkShare-idealSellerShare))
	perspective := clampf(m.PerspectiveRatio * 100)
	questions := clampf(m.DiscoveryQuestionRatio / targetDiscoveryQuestions * 100)
	pickup := clampf(m.PickupRate / targetPickupRate * 100)
	m.OverallScore = clamp(int(math.Round(0.3*talk + 0.2*perspective + 0.3*questions + 0.2*pickup)))
	return m
}

// vocabularyPickup counts the words a customer introduces and how many of
// them the seller reuses in a later turn.
func vocabularyPickup(turns []model.TranscriptTurn) (introduced, pickedUp int) {
	sellerUsed := map[string]bool{}
	introducedAt := map[string]int{}

	for i, t := range turns {
		for _, w := range words(t.Text) {
			if utf8.RuneCountInString(w) < minPickupWordRunes || stopwords[w] {
				continue
			}
			switch t.Speaker {
			case model.SpeakerSeller:
				sellerUsed[w] = true
			case model.SpeakerCustomer:
				if _, seen := introducedAt[w]; !seen && !sellerUsed[w] {
					introducedAt[w] = i
				}
			}
		}
	}

	for w, at := range introducedAt {
		introduced++
		for _, t := range turns[at+1:] {
			if t.Speaker == model.SpeakerSeller && containsWord(t.Text, w) {
				pickedUp++
				break
			}
		}
	}
	return introduced, pickedUp
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsWord(text, word string) bool {
	for _, w := range words(text) {
		if w == word {
			return true
		}
	}
	return false
}
