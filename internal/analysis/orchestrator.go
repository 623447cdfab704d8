// Package analysis runs the coaching analysis of one recording as a
// persisted job.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
	"github.com/tetraminz/sales_coach/internal/transcript"
)

// JobStore persists job records.
type JobStore interface {
	SaveJob(ctx context.Context, job model.AnalysisJob) error
	GetJob(ctx context.Context, id string) (model.AnalysisJob, error)
	ListNonTerminal(ctx context.Context) ([]model.AnalysisJob, error)
}

// ReportWriter receives every completed, scored job. Failures are logged
// and do not fail the job.
type ReportWriter interface {
	WriteReport(ctx context.Context, job model.AnalysisJob) error
}

// Orchestrator is the Job Orchestrator. The in-memory record of a running
// job is authoritative; store failures are logged and swallowed.
type Orchestrator struct {
	process     *CoachingProcess
	transcriber transcript.Transcriber
	store       JobStore
	reports     ReportWriter
	log         *logrus.Entry

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	jobs    map[string]*model.AnalysisJob
	running sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReportWriter hands completed jobs to w.
func WithReportWriter(w ReportWriter) Option {
	return func(o *Orchestrator) { o.reports = w }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(process *CoachingProcess, tr transcript.Transcriber, store JobStore, log *logrus.Entry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		process:     process,
		transcriber: tr,
		store:       store,
		log:         logger.Component(log, "orchestrator"),
		now:         time.Now,
		newID:       uuid.NewString,
		jobs:        make(map[string]*model.AnalysisJob),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit registers a new job in the uploading state.
func (o *Orchestrator) Submit(ctx context.Context) model.AnalysisJob {
	now := o.now().UTC()
	job := &model.AnalysisJob{
		ID:        o.newID(),
		Status:    model.JobUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.mu.Lock()
	o.jobs[job.ID] = job
	snapshot := *job
	o.mu.Unlock()

	o.persist(ctx, snapshot)
	return snapshot
}

// Start submits a job and runs it in the background.
func (o *Orchestrator) Start(ctx context.Context, audioRef string) model.AnalysisJob {
	job := o.Submit(ctx)
	o.running.Add(1)
	go func() {
		defer o.running.Done()
		o.Run(context.WithoutCancel(ctx), job.ID, audioRef)
	}()
	return job
}

// StartSegments submits a job whose transcript is already known and runs it
// in the background.
func (o *Orchestrator) StartSegments(ctx context.Context, segments []model.TranscriptSegment) model.AnalysisJob {
	job := o.Submit(ctx)
	tr := transcript.StaticTranscriber{Segments: segments}
	o.running.Add(1)
	go func() {
		defer o.running.Done()
		o.run(context.WithoutCancel(ctx), job.ID, "", tr)
	}()
	return job
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() {
	o.running.Wait()
}

// Analyze submits a job and runs it to completion.
func (o *Orchestrator) Analyze(ctx context.Context, audioRef string) model.AnalysisJob {
	job := o.Submit(ctx)
	return o.Run(ctx, job.ID, audioRef)
}

// Run drives a submitted job to a terminal state and returns its final
// record. It never panics.
func (o *Orchestrator) Run(ctx context.Context, jobID, audioRef string) model.AnalysisJob {
	return o.run(ctx, jobID, audioRef, o.transcriber)
}

func (o *Orchestrator) run(ctx context.Context, jobID, audioRef string, tr transcript.Transcriber) (final model.AnalysisJob) {
	ctx = llm.WithJobID(ctx, jobID)
	log := o.log.WithField("job_id", jobID)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("analysis panicked")
			final = o.fail(ctx, jobID, model.MessageUnexpectedPrefix+fmt.Sprint(r))
		}
	}()

	o.transition(ctx, jobID, model.JobTranscribing)
	segments, err := tr.Transcribe(ctx, audioRef)
	if errors.Is(err, transcript.ErrMalformed) {
		log.WithError(err).Warn("transcript unreadable")
		return o.fail(ctx, jobID, model.MessageNoSpeech)
	}
	if err != nil {
		log.WithError(err).Error("transcription failed")
		return o.fail(ctx, jobID, model.MessageUnexpectedPrefix+err.Error())
	}
	if !transcript.HasSpeech(segments) {
		return o.fail(ctx, jobID, model.MessageNoSpeech)
	}

	result, err := o.process.Run(ctx, segments, func(st model.JobStatus) {
		o.transition(ctx, jobID, st)
	})
	if errors.Is(err, model.ErrNoSpeech) {
		return o.fail(ctx, jobID, model.MessageNoSpeech)
	}
	if err != nil {
		log.WithError(err).Error("analysis failed")
		return o.fail(ctx, jobID, model.MessageUnexpectedPrefix+err.Error())
	}

	if o.reports != nil && !result.InsufficientTurns {
		o.transition(ctx, jobID, model.JobGeneratingReport)
		pending := o.snapshot(jobID)
		pending.Result = &result
		if err := o.reports.WriteReport(ctx, pending); err != nil {
			log.WithError(err).Warn("write report failed")
		}
	}
	return o.complete(ctx, jobID, result)
}

// Get returns the in-memory record when this process runs the job, the
// stored one otherwise.
func (o *Orchestrator) Get(ctx context.Context, id string) (model.AnalysisJob, error) {
	o.mu.Lock()
	job, ok := o.jobs[id]
	if ok {
		snapshot := *job
		o.mu.Unlock()
		return snapshot, nil
	}
	o.mu.Unlock()

	if o.store == nil {
		return model.AnalysisJob{}, fmt.Errorf("get job %s: %w", id, model.ErrJobNotFound)
	}
	return o.store.GetJob(ctx, id)
}

// RecoverStuckJobs fails every stored non-terminal job that this process is
// not running. Such jobs were interrupted by a restart.
func (o *Orchestrator) RecoverStuckJobs(ctx context.Context) (int, error) {
	if o.store == nil {
		return 0, nil
	}
	stuck, err := o.store.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("list non-terminal jobs: %w", err)
	}

	recovered := 0
	for _, job := range stuck {
		o.mu.Lock()
		_, active := o.jobs[job.ID]
		o.mu.Unlock()
		if active {
			continue
		}

		now := o.now().UTC()
		job.Status = model.JobFailed
		job.Error = model.MessageInterrupted
		job.UpdatedAt = now
		job.CompletedAt = &now
		if err := o.store.SaveJob(ctx, job); err != nil {
			o.log.WithError(err).WithField("job_id", job.ID).Warn("fail stuck job")
			continue
		}
		recovered++
	}
	if recovered > 0 {
		o.log.WithField("jobs", recovered).Warn("failed interrupted jobs")
	}
	return recovered, nil
}

func (o *Orchestrator) transition(ctx context.Context, id string, to model.JobStatus) {
	o.mu.Lock()
	job, ok := o.jobs[id]
	if !ok || job.Status == to || !job.Status.CanTransition(to) {
		o.mu.Unlock()
		return
	}
	from := job.Status
	job.Status = to
	job.UpdatedAt = o.now().UTC()
	snapshot := *job
	o.mu.Unlock()

	o.log.WithFields(logrus.Fields{
		"job_id": id,
		"from":   string(from),
		"to":     string(to),
	}).Debug("job transition")
	o.persist(ctx, snapshot)
}

func (o *Orchestrator) fail(ctx context.Context, id, message string) model.AnalysisJob {
	return o.finish(ctx, id, model.JobFailed, strings.TrimSpace(message), nil)
}

func (o *Orchestrator) complete(ctx context.Context, id string, result model.AnalysisResult) model.AnalysisJob {
	return o.finish(ctx, id, model.JobCompleted, "", &result)
}

func (o *Orchestrator) finish(ctx context.Context, id string, status model.JobStatus, message string, result *model.AnalysisResult) model.AnalysisJob {
	o.mu.Lock()
	job, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		if o.store != nil {
			if stored, err := o.store.GetJob(ctx, id); err == nil && stored.Status.IsTerminal() {
				return stored
			}
		}
		return model.AnalysisJob{ID: id, Status: status, Error: message}
	}
	if job.Status.IsTerminal() {
		snapshot := *job
		o.mu.Unlock()
		return snapshot
	}
	now := o.now().UTC()
	job.Status = status
	job.Error = message
	job.Result = result
	job.UpdatedAt = now
	job.CompletedAt = &now
	snapshot := *job
	o.mu.Unlock()

	entry := o.log.WithFields(logrus.Fields{"job_id": id, "status": string(status)})
	if message != "" {
		entry = entry.WithField("error", message)
	}
	entry.Info("job finished")
	if o.persist(ctx, snapshot) {
		o.mu.Lock()
		delete(o.jobs, id)
		o.mu.Unlock()
	}
	return snapshot
}

func (o *Orchestrator) snapshot(id string) model.AnalysisJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	if job, ok := o.jobs[id]; ok {
		return *job
	}
	return model.AnalysisJob{ID: id}
}

// persist reports whether the store now holds job. Finished jobs are only
// evicted from memory once it does.
func (o *Orchestrator) persist(ctx context.Context, job model.AnalysisJob) bool {
	if o.store == nil {
		return false
	}
	if err := o.store.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		o.log.WithError(err).WithFields(logrus.Fields{
			"job_id": job.ID,
			"status": string(job.Status),
		}).Warn("persist job failed")
		return false
	}
	return true
}
