package model

import (
	"errors"
	"time"
)

// JobStatus is the lifecycle stage of an analysis job.
type JobStatus string

const (
	JobUploading        JobStatus = "uploading"
	JobTranscribing     JobStatus = "transcribing"
	JobAnalyzing        JobStatus = "analyzing"
	JobEvaluating       JobStatus = "evaluating"
	JobGeneratingReport JobStatus = "generating_report"
	JobCompleted        JobStatus = "completed"
	JobFailed           JobStatus = "failed"
)

var jobStatusRank = map[JobStatus]int{
	JobUploading:        0,
	JobTranscribing:     1,
	JobAnalyzing:        2,
	JobEvaluating:       3,
	JobGeneratingReport: 4,
	JobCompleted:        5,
}

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := jobStatusRank[s]
	return ok || s == JobFailed
}

// CanTransition allows moves strictly forward in the lifecycle, and a move
// to failed from any non-terminal state.
func (s JobStatus) CanTransition(to JobStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if to == JobFailed {
		return true
	}
	from, ok := jobStatusRank[s]
	if !ok {
		return false
	}
	next, ok := jobStatusRank[to]
	return ok && next > from
}

// NonTerminalStatuses lists the states a recovery sweep treats as stuck.
func NonTerminalStatuses() []JobStatus {
	return []JobStatus{JobUploading, JobTranscribing, JobAnalyzing, JobEvaluating, JobGeneratingReport}
}

// ErrJobNotFound reports an unknown job id.
var ErrJobNotFound = errors.New("analysis job not found")

// User-facing messages.
const (
	MessageNoSpeech          = "Er is geen spraak gedetecteerd in de opname."
	MessageInsufficientTurns = "Te weinig beurten van de verkoper voor een betrouwbare analyse."
	MessageUnexpectedPrefix  = "Er is een onverwachte fout opgetreden: "
	MessageInterrupted       = "De analyse is onderbroken door een herstart. Probeer het opnieuw."
)

// AnalysisResult is the sole handoff artifact of a completed job.
type AnalysisResult struct {
	Turns               []TranscriptTurn       `json:"turns"`
	Evaluations         []TurnEvaluation       `json:"evaluations"`
	Signals             []CustomerSignalResult `json:"signals"`
	PhaseCoverage       PhaseCoverage          `json:"phaseCoverage"`
	MissedOpportunities []MissedOpportunity    `json:"missedOpportunities"`
	DetailedMetrics     DetailedMetrics        `json:"detailedMetrics"`
	InsufficientTurns   bool                   `json:"insufficientTurns"`
	Notice              string                 `json:"notice,omitempty"`
	KnowledgeVersion    string                 `json:"knowledgeVersion"`
}

// AnalysisJob is the persisted lifecycle entity of one analysis request.
type AnalysisJob struct {
	ID          string          `json:"id"`
	Status      JobStatus       `json:"status"`
	Error       string          `json:"error,omitempty"`
	Result      *AnalysisResult `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// IsDone reports whether the job reached a terminal state.
func (j *AnalysisJob) IsDone() bool {
	return j.Status.IsTerminal()
}
