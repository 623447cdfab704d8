package model

// PhaseTransition is a change of the current phase between two turns.
type PhaseTransition struct {
	TurnIdx int `json:"turnIdx"`
	From    int `json:"from"`
	To      int `json:"to"`
}

// StructureMetrics scores the flow through the methodology.
type StructureMetrics struct {
	Timeline          []int             `json:"timeline"`
	Transitions       []PhaseTransition `json:"transitions"`
	SkippedDiscovery  bool              `json:"skippedDiscovery"`
	PhaseJumps        int               `json:"phaseJumps"`
	DiscoveryReturns  int               `json:"discoveryReturns"`
	FlowScore         int               `json:"flowScore"`
	OpeningStepsFound []TechniqueID     `json:"openingStepsFound"`
	OpeningInOrder    bool              `json:"openingInOrder"`
	OpeningScore      int               `json:"openingScore"`
	OverallScore      int               `json:"overallScore"`
}

// ValueKind classifies a stated value moment.
type ValueKind string

const (
	ValueExplicitPersonal ValueKind = "explicit_personal"
	ValueProductBenefit   ValueKind = "product_benefit"
	ValueGeneric          ValueKind = "generic"
)

// ValueMoment is one value statement extracted from seller text.
type ValueMoment struct {
	TurnIdx int       `json:"turnIdx"`
	Quote   string    `json:"quote"`
	Kind    ValueKind `json:"kind"`
}

// OVBChain is the Solution-Benefit-Value check of one phase-3 turn.
type OVBChain struct {
	TurnIdx  int  `json:"turnIdx"`
	Solution bool `json:"solution"`
	Benefit  bool `json:"benefit"`
	Value    bool `json:"value"`
}

// Complete reports whether all three links are present.
func (c OVBChain) Complete() bool {
	return c.Solution && c.Benefit && c.Value
}

// ImpactMetrics scores value translation.
type ImpactMetrics struct {
	Extracted             bool          `json:"extracted"`
	Values                []ValueMoment `json:"values"`
	Chains                []OVBChain    `json:"chains"`
	ValueScore            int           `json:"valueScore"`
	ChainScore            int           `json:"chainScore"`
	CommitBeforeRecommend bool          `json:"commitBeforeRecommend"`
	OrderingViolation     bool          `json:"orderingViolation"`
	OverallScore          int           `json:"overallScore"`
}

// HoudingResponse records how the seller reacted to one customer signal.
type HoudingResponse struct {
	SignalTurnIdx int     `json:"signalTurnIdx"`
	Houding       Houding `json:"houding"`
	ResponseIdx   int     `json:"responseIdx"`
	Recognized    bool    `json:"recognized"`
	Style         string  `json:"style,omitempty"`
}

// Response styles for negative signals in phases 3-4.
const (
	StyleEmpathetic = "empathetic"
	StyleTechnical  = "technical"
)

// HoudingMetrics scores attitude handling.
type HoudingMetrics struct {
	Responses       []HoudingResponse `json:"responses"`
	RecognitionRate float64           `json:"recognitionRate"`
	EmpathyRate     float64           `json:"empathyRate"`
	OverallScore    int               `json:"overallScore"`
}

// BalanceMetrics scores conversational balance.
type BalanceMetrics struct {
	SellerTalkShare        float64         `json:"sellerTalkShare"`
	SellerTalkShareByPhase map[int]float64 `json:"sellerTalkShareByPhase"`
	SelfPronouns           int             `json:"selfPronouns"`
	OtherPronouns          int             `json:"otherPronouns"`
	PerspectiveRatio       float64         `json:"perspectiveRatio"`
	QuestionRatio          float64         `json:"questionRatio"`
	DiscoveryQuestionRatio float64         `json:"discoveryQuestionRatio"`
	CustomerTerms          int             `json:"customerTerms"`
	PickedUpTerms          int             `json:"pickedUpTerms"`
	PickupRate             float64         `json:"pickupRate"`
	OverallScore           int             `json:"overallScore"`
}

// DetailedMetrics groups the four independent metric families.
type DetailedMetrics struct {
	Structure StructureMetrics `json:"structure"`
	Impact    ImpactMetrics    `json:"impact"`
	Houdingen HoudingMetrics   `json:"houdingen"`
	Balance   BalanceMetrics   `json:"balance"`
}
