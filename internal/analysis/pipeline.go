package analysis

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tetraminz/sales_coach/internal/config"
	"github.com/tetraminz/sales_coach/internal/coverage"
	"github.com/tetraminz/sales_coach/internal/diarize"
	"github.com/tetraminz/sales_coach/internal/evaluate"
	"github.com/tetraminz/sales_coach/internal/knowledge"
	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/metrics"
	"github.com/tetraminz/sales_coach/internal/missed"
	"github.com/tetraminz/sales_coach/internal/model"
	"github.com/tetraminz/sales_coach/internal/signal"
	"github.com/tetraminz/sales_coach/internal/transcript"
)

// CoachingProcess is the analysis business process of one recorded sales
// conversation.
//
// Terms:
//   - Segment: one timed transcription fragment.
//   - Group: consecutive segments without a pause longer than the gap
//     threshold, assumed to be one speaker.
//   - Turn: consecutive groups of the same speaker.
//
// CASCADE:
//  1. Segments are grouped, groups labeled seller/customer, turns built.
//  2. Seller turns are walked in fixed-size batches. Before a batch, every
//     pending customer turn is classified using the phase reached so far.
//  3. The batch is evaluated concurrently; the phase only moves forward and
//     the EPIC step follows the latest discovery technique.
//  4. Coverage, missed opportunities and detailed metrics are derived from
//     the full evaluation set.
//
// ROUTING:
//   - Fewer seller turns than the minimum skip steps 2-4 entirely.
//
// Every generation call site has its own fallback; only missing speech is
// an error.
type CoachingProcess struct {
	kb             knowledge.Base
	labeler        *diarize.Labeler
	classifier     *signal.Classifier
	evaluator      *evaluate.Evaluator
	enricher       *missed.Enricher
	metrics        *metrics.Engine
	gapSec         float64
	minSellerTurns int
	log            *logrus.Entry
}

// NewCoachingProcess wires every stage to the same generator and knowledge
// base.
func NewCoachingProcess(gen llm.Generator, kb knowledge.Base, cfg config.Pipeline, log *logrus.Entry) *CoachingProcess {
	defaults := config.DefaultPipeline()
	if cfg.GapThresholdSec <= 0 {
		cfg.GapThresholdSec = defaults.GapThresholdSec
	}
	if cfg.MinSellerTurns <= 0 {
		cfg.MinSellerTurns = defaults.MinSellerTurns
	}
	return &CoachingProcess{
		kb: kb,
		labeler: diarize.NewLabeler(gen, diarize.Options{
			ChunkSize:      cfg.LabelChunkSize,
			ContextWindow:  cfg.LabelContextWindow,
			SmoothMaxChars: cfg.SmoothingMaxChars,
		}, log),
		classifier: signal.NewClassifier(gen, kb, log),
		evaluator: evaluate.NewEvaluator(gen, kb, evaluate.Options{
			BatchSize: cfg.EvalBatchSize,
			MinChars:  cfg.MinEvalChars,
		}, log),
		enricher:       missed.NewEnricher(gen, 0, log),
		metrics:        metrics.NewEngine(gen, cfg.ImpactMinChars, log),
		gapSec:         cfg.GapThresholdSec,
		minSellerTurns: cfg.MinSellerTurns,
		log:            logger.Component(log, "analysis"),
	}
}

// StageFunc is told about every stage the process enters.
type StageFunc func(model.JobStatus)

// Run analyses the segments. It returns model.ErrNoSpeech when nothing was
// said; every other degradation is handled inside the stages.
func (p *CoachingProcess) Run(ctx context.Context, segments []model.TranscriptSegment, stage StageFunc) (model.AnalysisResult, error) {
	if stage == nil {
		stage = func(model.JobStatus) {}
	}
	stage(model.JobAnalyzing)

	groups := transcript.Group(segments, p.gapSec)
	if len(groups) == 0 {
		return model.AnalysisResult{}, model.ErrNoSpeech
	}
	labels := p.labeler.Label(ctx, groups)
	turns := transcript.BuildTurns(groups, labels)

	result := model.AnalysisResult{
		Turns:               turns,
		Evaluations:         []model.TurnEvaluation{},
		Signals:             []model.CustomerSignalResult{},
		MissedOpportunities: []model.MissedOpportunity{},
	}
	if p.kb != nil {
		result.KnowledgeVersion = p.kb.Version()
	}

	sellerTurns := model.SellerTurnCount(turns)
	if sellerTurns < p.minSellerTurns {
		p.log.WithFields(logrus.Fields{
			"seller_turns": sellerTurns,
			"minimum":      p.minSellerTurns,
		}).Info("too few seller turns, skipping evaluation")
		result.InsufficientTurns = true
		result.Notice = model.MessageInsufficientTurns
		return result, nil
	}

	stage(model.JobEvaluating)
	result.Evaluations, result.Signals = p.evaluateTurns(ctx, turns)

	stage(model.JobGeneratingReport)
	result.PhaseCoverage = coverage.Score(p.kb, turns, result.Evaluations)
	flags := missed.Detect(turns, result.Evaluations, result.Signals)
	result.MissedOpportunities = p.enricher.Enrich(ctx, flags)
	result.DetailedMetrics = p.metrics.Compute(ctx, metrics.Input{
		Turns:       turns,
		Evaluations: result.Evaluations,
		Signals:     result.Signals,
		Coverage:    result.PhaseCoverage,
	})

	p.log.WithFields(logrus.Fields{
		"turns":       len(turns),
		"evaluations": len(result.Evaluations),
		"missed":      len(result.MissedOpportunities),
		"overall":     result.PhaseCoverage.Overall,
	}).Info("conversation analysed")
	return result, nil
}

// evaluateTurns walks the turns in batches of seller turns. Customer turns
// are classified as they are reached, with the phase of the previous batch.
func (p *CoachingProcess) evaluateTurns(ctx context.Context, turns []model.TranscriptTurn) ([]model.TurnEvaluation, []model.CustomerSignalResult) {
	var (
		evaluations = []model.TurnEvaluation{}
		signals     = []model.CustomerSignalResult{}
		phase       = model.PhaseOpening
		epic        = model.EPICExplore
	)

	var (
		customerText string
		lastSignal   *model.CustomerSignalResult
	)
	for i, batch := 0, 0; i < len(turns); batch++ {
		var inputs []evaluate.Input
		for i < len(turns) && len(inputs) < p.evaluator.BatchSize() {
			turn := turns[i]
			i++
			if turn.Speaker == model.SpeakerCustomer {
				sig := p.classifier.Classify(ctx, turn.Idx, turn.Text, phase)
				signals = append(signals, sig)
				customerText, lastSignal = turn.Text, &sig
				continue
			}
			if !p.evaluator.Skip(turn.Text) {
				inputs = append(inputs, evaluate.Input{
					Turn:         turn,
					CustomerText: customerText,
					Signal:       lastSignal,
					Phase:        phase,
					EPIC:         epic,
				})
			}
			customerText, lastSignal = "", nil
		}
		if len(inputs) == 0 {
			continue
		}

		got := p.evaluator.EvaluateBatch(ctx, inputs)
		for _, ev := range got {
			phase = max(phase, ev.MaxPhase())
			for _, t := range ev.Techniques {
				if step, ok := model.EPICStepOf(t.ID); ok {
					epic = step
				}
			}
		}
		evaluations = append(evaluations, got...)
		p.log.WithFields(logrus.Fields{
			"batch":     batch,
			"turns":     len(inputs),
			"evaluated": len(got),
			"phase":     phase,
			"epic":      string(epic),
		}).Debug("evaluation batch done")
	}
	return evaluations, signals
}
