package model

import (
	"strconv"
	"strings"
)

// Methodology phases.
const (
	PhaseOpening        = 1
	PhaseDiscovery      = 2
	PhaseRecommendation = 3
	PhaseDecision       = 4
)

// TechniqueID is a dotted hierarchical technique code such as "2.1.4". The
// leading segment is the methodology phase.
type TechniqueID string

// Phase returns the leading segment, or 0 when it is not a phase number.
func (id TechniqueID) Phase() int {
	head, _, _ := strings.Cut(string(id), ".")
	n, err := strconv.Atoi(head)
	if err != nil || n < PhaseOpening || n > PhaseDecision {
		return 0
	}
	return n
}

// IsDescendantOf reports whether id is a strict sub-technique of other:
// "2.1.4.1" descends from "2.1.4", "2.1" does not, and neither does "2.1.40".
func (id TechniqueID) IsDescendantOf(other TechniqueID) bool {
	if other == "" {
		return false
	}
	return strings.HasPrefix(string(id), string(other)+".")
}

// Within reports whether id equals parent or descends from it.
func (id TechniqueID) Within(parent TechniqueID) bool {
	return id == parent || id.IsDescendantOf(parent)
}

// EPICStep is a discovery sub-step nested in phase 2.
type EPICStep string

const (
	EPICExplore EPICStep = "explore"
	EPICProbe   EPICStep = "probe"
	EPICImpact  EPICStep = "impact"
	EPICCommit  EPICStep = "commit"
)

// EPIC technique roots.
const (
	ExploreRoot TechniqueID = "2.1"
	ProbeRoot   TechniqueID = "2.2"
	ImpactRoot  TechniqueID = "2.3"
	CommitRoot  TechniqueID = "2.4"
)

// EPICStepOf maps a technique to its discovery sub-step.
func EPICStepOf(id TechniqueID) (EPICStep, bool) {
	switch {
	case id.Within(ExploreRoot):
		return EPICExplore, true
	case id.Within(ProbeRoot):
		return EPICProbe, true
	case id.Within(ImpactRoot):
		return EPICImpact, true
	case id.Within(CommitRoot):
		return EPICCommit, true
	}
	return "", false
}

// Quality is the tier a detected technique was executed at.
type Quality string

const (
	QualityPerfect Quality = "perfect"
	QualityGoed    Quality = "goed"
	QualityBijna   Quality = "bijna"
	QualityGemist  Quality = "gemist"
)

// Points returns the rubric value of a quality tier.
func (q Quality) Points() int {
	switch q {
	case QualityPerfect:
		return 10
	case QualityGoed:
		return 7
	case QualityBijna:
		return 4
	default:
		return 0
	}
}

// Better reports whether q outranks other.
func (q Quality) Better(other Quality) bool {
	return q.Points() > other.Points()
}

// ParseQuality normalises a tier; unknown values count as missed.
func ParseQuality(raw string) Quality {
	switch Quality(strings.ToLower(strings.TrimSpace(raw))) {
	case QualityPerfect:
		return QualityPerfect
	case QualityGoed, "good":
		return QualityGoed
	case QualityBijna, "almost":
		return QualityBijna
	default:
		return QualityGemist
	}
}

// Houding is the classified attitude of a customer utterance.
type Houding string

const (
	HoudingVraag      Houding = "vraag"
	HoudingPositief   Houding = "positief"
	HoudingNegatief   Houding = "negatief"
	HoudingVaag       Houding = "vaag"
	HoudingOntwijkend Houding = "ontwijkend"
	HoudingNeutraal   Houding = "neutraal"
	HoudingTwijfel    Houding = "twijfel"
	HoudingBezwaar    Houding = "bezwaar"
	HoudingUitstel    Houding = "uitstel"
)

// AllowedHoudingen lists the labels that may be assigned in a phase.
func AllowedHoudingen(phase int) []Houding {
	out := []Houding{HoudingVraag, HoudingPositief, HoudingNegatief, HoudingVaag, HoudingOntwijkend, HoudingNeutraal}
	if phase >= PhaseDecision {
		out = append(out, HoudingTwijfel, HoudingBezwaar, HoudingUitstel)
	}
	return out
}

// IsNegative reports whether the attitude calls for an empathetic response.
func (h Houding) IsNegative() bool {
	switch h {
	case HoudingNegatief, HoudingTwijfel, HoudingBezwaar, HoudingUitstel:
		return true
	}
	return false
}
