package model

// DetectedTechnique is one technique a seller turn demonstrates.
type DetectedTechnique struct {
	ID      TechniqueID `json:"id"`
	Name    string      `json:"name"`
	Quality Quality     `json:"quality"`
	Score   int         `json:"score"`
}

// EvaluationSource tells whether an evaluation came from the generation
// service or the pattern fallback.
type EvaluationSource string

const (
	SourceService  EvaluationSource = "service"
	SourcePatterns EvaluationSource = "patterns"
)

// TurnEvaluation is the technique evaluation of one seller turn.
type TurnEvaluation struct {
	TurnIdx           int                 `json:"turnIdx"`
	Techniques        []DetectedTechnique `json:"techniques"`
	OverallQuality    Quality             `json:"overallQuality"`
	Rationale         string              `json:"rationale"`
	ExpectedMoveBonus int                 `json:"expectedMoveBonus"`
	Source            EvaluationSource    `json:"source"`
}

// HasWithin reports whether any detected technique lies within root.
func (e TurnEvaluation) HasWithin(root TechniqueID) bool {
	for _, t := range e.Techniques {
		if t.ID.Within(root) {
			return true
		}
	}
	return false
}

// MaxPhase is the highest phase among the detected techniques, 0 if none.
func (e TurnEvaluation) MaxPhase() int {
	best := 0
	for _, t := range e.Techniques {
		if p := t.ID.Phase(); p > best {
			best = p
		}
	}
	return best
}

// CustomerSignalResult is the classified attitude of one customer turn.
type CustomerSignalResult struct {
	TurnIdx                 int           `json:"turnIdx"`
	Houding                 Houding       `json:"houding"`
	Confidence              float64       `json:"confidence"`
	RecommendedTechniqueIDs []TechniqueID `json:"recommendedTechniqueIds"`
	CurrentPhase            int           `json:"currentPhase"`
}

// TechniqueCount aggregates the detections of one technique.
type TechniqueCount struct {
	ID      TechniqueID `json:"id"`
	Name    string      `json:"name"`
	Quality Quality     `json:"quality"`
	Count   int         `json:"count"`
}

// PhaseScore is the 0-100 coverage score of one methodology phase.
type PhaseScore struct {
	Score           int              `json:"score"`
	TechniquesFound []TechniqueCount `json:"techniquesFound"`
	TotalPossible   int              `json:"totalPossible"`
}

// EPICScores are the discovery sub-scores.
type EPICScores struct {
	Explore int `json:"explore"`
	Probe   int `json:"probe"`
	Impact  int `json:"impact"`
	Commit  int `json:"commit"`
}

// PhaseCoverage aggregates the four phase scores.
type PhaseCoverage struct {
	Phase1  PhaseScore `json:"phase1"`
	Phase2  PhaseScore `json:"phase2"`
	Phase3  PhaseScore `json:"phase3"`
	Phase4  PhaseScore `json:"phase4"`
	EPIC    EPICScores `json:"epic"`
	Overall int        `json:"overall"`
}

// Phase returns the score of phase 1-4.
func (c PhaseCoverage) Phase(n int) PhaseScore {
	switch n {
	case 1:
		return c.Phase1
	case 2:
		return c.Phase2
	case 3:
		return c.Phase3
	case 4:
		return c.Phase4
	}
	return PhaseScore{}
}

// MissedOpportunityType enumerates the rule-detected failure patterns.
type MissedOpportunityType string

const (
	MissedPrematureAdvance      MissedOpportunityType = "premature_phase_advance"
	MissedSkippedProbe          MissedOpportunityType = "skipped_probe"
	MissedSkippedImpact         MissedOpportunityType = "skipped_impact"
	MissedSkippedCommit         MissedOpportunityType = "skipped_commit"
	MissedUnaddressedDoubt      MissedOpportunityType = "unaddressed_doubt"
	MissedUnaddressedObjection  MissedOpportunityType = "unaddressed_objection"
	MissedValueWithoutTranslate MissedOpportunityType = "value_without_translation"
)

// ConversationWide marks a missed opportunity not tied to a single turn.
const ConversationWide = -1

// MissedOpportunity is one flagged failure pattern.
type MissedOpportunity struct {
	TurnIdx        int                   `json:"turnIdx"`
	Type           MissedOpportunityType `json:"type"`
	Description    string                `json:"description"`
	SellerSaid     string                `json:"sellerSaid"`
	CustomerSaid   string                `json:"customerSaid"`
	BetterQuestion string                `json:"betterQuestion"`
}
