package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tetraminz/sales_coach/internal/config"
	"github.com/tetraminz/sales_coach/internal/knowledge"
	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/llm/llmtest"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
	"github.com/tetraminz/sales_coach/internal/transcript"
)

type memoryStore struct {
	mu        sync.Mutex
	jobs      map[string]model.AnalysisJob
	history   map[string][]model.JobStatus
	failSaves bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: map[string]model.AnalysisJob{}, history: map[string][]model.JobStatus{}}
}

func (s *memoryStore) SaveJob(_ context.Context, job model.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves {
		return errors.New("disk full")
	}
	s.jobs[job.ID] = job
	s.history[job.ID] = append(s.history[job.ID], job.Status)
	return nil
}

func (s *memoryStore) GetJob(_ context.Context, id string) (model.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.AnalysisJob{}, fmt.Errorf("get job %s: %w", id, model.ErrJobNotFound)
	}
	return job, nil
}

func (s *memoryStore) ListNonTerminal(context.Context) ([]model.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AnalysisJob
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) statuses(id string) []model.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.JobStatus(nil), s.history[id]...)
}

type recordingReports struct {
	mu   sync.Mutex
	jobs []model.AnalysisJob
}

func (r *recordingReports) WriteReport(_ context.Context, job model.AnalysisJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

type panickingTranscriber struct{}

func (panickingTranscriber) Transcribe(context.Context, string) ([]model.TranscriptSegment, error) {
	panic("decoder exploded")
}

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(context.Context, string) ([]model.TranscriptSegment, error) {
	return nil, errors.New("asr unavailable")
}

var sellerLines = []string{
	"Goedemiddag, fijn dat u tijd heeft gemaakt voor dit gesprek over uw planning vandaag.",
	"Vertel eens, hoeveel medewerkers plant u op dit moment elke week in met dat rekenblad?",
	"Stel dat de planning morgen automatisch zou gaan, wat zou u dan met die tijd doen?",
	"Met Plan Pro plant u automatisch en krijgt u elke maandag een kant-en-klaar rooster.",
}

var customerLines = []string{
	"Wij plannen nu alles met de hand in een groot rekenblad en dat kost ons veel tijd.",
	"Het gaat om veertig mensen verdeeld over drie locaties in het noorden van het land.",
	"Dan zou ik eindelijk aan de begeleiding van nieuwe medewerkers kunnen toekomen.",
}

// conversation builds n alternating segments separated by two-second gaps.
func conversation(n int) []model.TranscriptSegment {
	segments := make([]model.TranscriptSegment, n)
	for i := range segments {
		text := sellerLines[(i/2)%len(sellerLines)]
		if i%2 == 1 {
			text = customerLines[(i/2)%len(customerLines)]
		}
		start := float64(i * 4)
		segments[i] = model.TranscriptSegment{Index: i, StartSec: start, EndSec: start + 2, Text: text}
	}
	return segments
}

func alternatingLabels(n int) string {
	parts := make([]string, n)
	for i := range parts {
		speaker := "seller"
		if i%2 == 1 {
			speaker = "customer"
		}
		parts[i] = fmt.Sprintf(`{"index":%d,"speaker":%q}`, i, speaker)
	}
	return `{"labels":[` + strings.Join(parts, ",") + `]}`
}

func scriptedGenerator(groups int) *llmtest.Fake {
	techniques := map[int]string{
		0: `{"id":"1.1","name":"","quality":"perfect","score":10}`,
		2: `{"id":"2.1.1","name":"","quality":"goed","score":7}`,
		4: `{"id":"2.2.1","name":"","quality":"goed","score":7}`,
		6: `{"id":"3.1","name":"","quality":"goed","score":7}`,
	}
	return &llmtest.Fake{Respond: func(req llm.Request) (string, error) {
		switch req.Unit {
		case llm.UnitSpeakerLabels:
			return alternatingLabels(groups), nil
		case llm.UnitSignal:
			return `{"houding":"neutraal","confidence":0.8}`, nil
		case llm.UnitTechnique:
			return `{"techniques":[` + techniques[req.Index] + `],"overallQuality":"","rationale":"ok"}`, nil
		case llm.UnitEnrichment:
			return `{"suggestions":[]}`, nil
		case llm.UnitImpact:
			return `{"values":[],"chains":[]}`, nil
		}
		return "", fmt.Errorf("unexpected unit %s", req.Unit)
	}}
}

func newTestOrchestrator(t *testing.T, gen llm.Generator, tr transcript.Transcriber, store JobStore, opts ...Option) *Orchestrator {
	t.Helper()
	kb, err := knowledge.Default()
	if err != nil {
		t.Fatalf("knowledge.Default error: %v", err)
	}
	process := NewCoachingProcess(gen, kb, config.DefaultPipeline(), logger.Discard())
	return NewOrchestrator(process, tr, store, logger.Discard(), opts...)
}

func equalStatuses(got, want []model.JobStatus) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAnalyzeEndToEnd(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	reports := &recordingReports{}
	gen := scriptedGenerator(8)
	o := newTestOrchestrator(t, gen, transcript.StaticTranscriber{Segments: conversation(8)}, store, WithReportWriter(reports))

	job := o.Analyze(context.Background(), "call.wav")
	if job.Status != model.JobCompleted {
		t.Fatalf("status got %q (error %q) want completed", job.Status, job.Error)
	}
	r := job.Result
	if r == nil || r.InsufficientTurns {
		t.Fatalf("expected a full result, got %+v", r)
	}
	if got, want := len(r.Turns), 8; got != want {
		t.Fatalf("turns got %d want %d", got, want)
	}
	if got, want := len(r.Evaluations), 4; got != want {
		t.Fatalf("evaluations got %d want %d", got, want)
	}
	if got, want := len(r.Signals), 4; got != want {
		t.Fatalf("signals got %d want %d", got, want)
	}
	if r.Signals[0].CurrentPhase != model.PhaseOpening || r.Signals[0].Houding != model.HoudingNeutraal {
		t.Fatalf("first signal got %+v", r.Signals[0])
	}
	if r.PhaseCoverage.Phase1.Score == 0 || r.PhaseCoverage.Phase2.Score == 0 {
		t.Fatalf("coverage not computed: %+v", r.PhaseCoverage)
	}
	if r.KnowledgeVersion == "" {
		t.Fatalf("knowledge version missing")
	}
	if got := gen.Calls(llm.UnitTechnique); got != 4 {
		t.Fatalf("technique calls got %d want 4", got)
	}

	want := []model.JobStatus{
		model.JobUploading, model.JobTranscribing, model.JobAnalyzing,
		model.JobEvaluating, model.JobGeneratingReport, model.JobCompleted,
	}
	if got := store.statuses(job.ID); !equalStatuses(got, want) {
		t.Fatalf("persisted statuses got %v want %v", got, want)
	}
	if len(reports.jobs) != 1 || reports.jobs[0].Result == nil {
		t.Fatalf("report writer should get the scored job once, got %d", len(reports.jobs))
	}
	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil || stored.CompletedAt == nil || stored.Result == nil {
		t.Fatalf("stored job incomplete: %+v err=%v", stored, err)
	}
}

func TestAnalyzeInsufficientTurnsSkipsEvaluation(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	reports := &recordingReports{}
	gen := scriptedGenerator(5)
	o := newTestOrchestrator(t, gen, transcript.StaticTranscriber{Segments: conversation(5)}, store, WithReportWriter(reports))

	job := o.Analyze(context.Background(), "short.wav")
	if job.Status != model.JobCompleted {
		t.Fatalf("status got %q want completed", job.Status)
	}
	if job.Result == nil || !job.Result.InsufficientTurns {
		t.Fatalf("expected insufficientTurns, got %+v", job.Result)
	}
	if got := model.SellerTurnCount(job.Result.Turns); got != 3 {
		t.Fatalf("seller turns got %d want 3", got)
	}
	if len(job.Result.Evaluations) != 0 || len(job.Result.Signals) != 0 {
		t.Fatalf("evaluations and signals must be empty")
	}
	if job.Result.Notice != model.MessageInsufficientTurns {
		t.Fatalf("notice got %q", job.Result.Notice)
	}
	if got := gen.Calls(llm.UnitTechnique); got != 0 {
		t.Fatalf("technique calls got %d want 0", got)
	}
	if got := gen.Calls(llm.UnitSignal); got != 0 {
		t.Fatalf("signal calls got %d want 0", got)
	}
	if len(reports.jobs) != 0 {
		t.Fatalf("report writer must not run for insufficient turns")
	}
	want := []model.JobStatus{model.JobUploading, model.JobTranscribing, model.JobAnalyzing, model.JobCompleted}
	if got := store.statuses(job.ID); !equalStatuses(got, want) {
		t.Fatalf("persisted statuses got %v want %v", got, want)
	}
}

func TestAnalyzeNoSpeechFails(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	blank := []model.TranscriptSegment{{Index: 0, StartSec: 0, EndSec: 1, Text: "   "}}
	for name, tr := range map[string]transcript.Transcriber{
		"empty": transcript.StaticTranscriber{},
		"blank": transcript.StaticTranscriber{Segments: blank},
	} {
		gen := &llmtest.Fake{}
		o := newTestOrchestrator(t, gen, tr, store)
		job := o.Analyze(context.Background(), "silence.wav")
		if job.Status != model.JobFailed || job.Error != model.MessageNoSpeech {
			t.Fatalf("%s: got status %q error %q", name, job.Status, job.Error)
		}
		if gen.Calls("") != 0 {
			t.Fatalf("%s: no generation call expected", name)
		}
	}
}

func TestAnalyzeMalformedTranscriptReportsNoSpeech(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "call.json")
	if err := os.WriteFile(path, []byte(`[{"id":0,"start":5,"end":1,"text":"hallo"}]`), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	store := newMemoryStore()
	gen := &llmtest.Fake{}
	o := newTestOrchestrator(t, gen, transcript.FileTranscriber{}, store)
	job := o.Analyze(context.Background(), path)
	if job.Status != model.JobFailed || job.Error != model.MessageNoSpeech {
		t.Fatalf("got status %q error %q", job.Status, job.Error)
	}
	if gen.Calls("") != 0 {
		t.Fatalf("no generation call expected, got %d", gen.Calls(""))
	}

	job = o.StartSegments(context.Background(), []model.TranscriptSegment{{Index: 0, StartSec: 5, EndSec: 1, Text: "hallo"}})
	o.Wait()
	got, err := o.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobFailed || got.Error != model.MessageNoSpeech {
		t.Fatalf("inline got status %q error %q", got.Status, got.Error)
	}
}

func TestAnalyzeRecoversFromPanicsAndErrors(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	o := newTestOrchestrator(t, &llmtest.Fake{}, panickingTranscriber{}, store)
	job := o.Analyze(context.Background(), "x.wav")
	if job.Status != model.JobFailed {
		t.Fatalf("status got %q want failed", job.Status)
	}
	if !strings.HasPrefix(job.Error, model.MessageUnexpectedPrefix) || !strings.Contains(job.Error, "decoder exploded") {
		t.Fatalf("error got %q", job.Error)
	}
	stored, err := store.GetJob(context.Background(), job.ID)
	if err != nil || stored.Status != model.JobFailed {
		t.Fatalf("failed state not persisted: %+v err=%v", stored, err)
	}

	o = newTestOrchestrator(t, &llmtest.Fake{}, failingTranscriber{}, store)
	job = o.Analyze(context.Background(), "x.wav")
	if job.Status != model.JobFailed || !strings.Contains(job.Error, "asr unavailable") {
		t.Fatalf("got status %q error %q", job.Status, job.Error)
	}
}

func TestStoreFailuresDoNotFailTheJob(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.failSaves = true
	o := newTestOrchestrator(t, scriptedGenerator(8), transcript.StaticTranscriber{Segments: conversation(8)}, store)

	job := o.Start(context.Background(), "call.wav")
	o.Wait()

	got, err := o.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobCompleted {
		t.Fatalf("status got %q want completed", got.Status)
	}
}

func TestFinishedJobsAreServedFromTheStore(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	o := newTestOrchestrator(t, scriptedGenerator(8), transcript.StaticTranscriber{Segments: conversation(8)}, store)

	job := o.Start(context.Background(), "call.wav")
	o.Wait()

	o.mu.Lock()
	held := len(o.jobs)
	o.mu.Unlock()
	if held != 0 {
		t.Fatalf("persisted jobs must leave memory, %d held", held)
	}

	got, err := o.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobCompleted || got.Result == nil {
		t.Fatalf("got status %q result %v", got.Status, got.Result)
	}

	again := o.fail(context.Background(), job.ID, "late failure")
	if again.Status != model.JobCompleted {
		t.Fatalf("finished job must stay completed, got %q", again.Status)
	}
}

func TestRecoverStuckJobs(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, job := range []model.AnalysisJob{
		{ID: "stuck-evaluating", Status: model.JobEvaluating, CreatedAt: created},
		{ID: "stuck-uploading", Status: model.JobUploading, CreatedAt: created},
		{ID: "done", Status: model.JobCompleted, CreatedAt: created},
	} {
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	now := created.Add(time.Hour)
	o := newTestOrchestrator(t, &llmtest.Fake{}, transcript.StaticTranscriber{}, store, WithClock(func() time.Time { return now }))
	n, err := o.RecoverStuckJobs(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 2 {
		t.Fatalf("recovered got %d want 2", n)
	}
	for _, id := range []string{"stuck-evaluating", "stuck-uploading"} {
		job, _ := store.GetJob(ctx, id)
		if job.Status != model.JobFailed || job.Error != model.MessageInterrupted {
			t.Fatalf("%s got status %q error %q", id, job.Status, job.Error)
		}
		if job.CompletedAt == nil || !job.CompletedAt.Equal(now) {
			t.Fatalf("%s completedAt got %v", id, job.CompletedAt)
		}
	}
	if job, _ := store.GetJob(ctx, "done"); job.Status != model.JobCompleted {
		t.Fatalf("terminal job must be left alone, got %q", job.Status)
	}
}

func TestStartSegmentsUsesInlineTranscript(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	o := newTestOrchestrator(t, scriptedGenerator(8), failingTranscriber{}, store)

	segments := conversation(8)
	segments[0], segments[len(segments)-1] = segments[len(segments)-1], segments[0]
	job := o.StartSegments(context.Background(), segments)
	o.Wait()

	got, err := o.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobCompleted || got.Result == nil || len(got.Result.Evaluations) != 4 {
		t.Fatalf("got status %q error %q", got.Status, got.Error)
	}

	if _, err := o.Get(context.Background(), "unknown"); !errors.Is(err, model.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
