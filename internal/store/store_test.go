package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/model"
)

func openTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "coach.db")
	if err := Setup(dbPath); err != nil {
		t.Fatalf("setup: %v", err)
	}
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, dbPath
}

func TestSaveAndGetJobRoundTrip(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	job := model.AnalysisJob{ID: "job-1", Status: model.JobTranscribing, CreatedAt: created, UpdatedAt: created}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}

	done := created.Add(time.Minute)
	job.Status = model.JobCompleted
	job.UpdatedAt = done
	job.CompletedAt = &done
	job.Result = &model.AnalysisResult{
		Turns:         []model.TranscriptTurn{{Idx: 0, Speaker: model.SpeakerSeller, Text: "Hallo"}},
		PhaseCoverage: model.PhaseCoverage{Overall: 42},
	}
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.JobCompleted {
		t.Fatalf("status got %q want %q", got.Status, model.JobCompleted)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at got %v want %v", got.CreatedAt, created)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
		t.Fatalf("completed_at got %v want %v", got.CompletedAt, done)
	}
	if got.Result == nil || got.Result.PhaseCoverage.Overall != 42 || len(got.Result.Turns) != 1 {
		t.Fatalf("result not restored: %+v", got.Result)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	_, err := s.GetJob(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestSaveJobRejectsUnknownStatus(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	err := s.SaveJob(context.Background(), model.AnalysisJob{ID: "x", Status: "paused"})
	if err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestListNonTerminal(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, st := range []model.JobStatus{model.JobEvaluating, model.JobCompleted, model.JobAnalyzing, model.JobFailed} {
		created := base.Add(time.Duration(i) * time.Second)
		job := model.AnalysisJob{ID: string(st), Status: st, CreatedAt: created, UpdatedAt: created}
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("save %s: %v", st, err)
		}
	}

	jobs, err := s.ListNonTerminal(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got, want := len(jobs), 2; got != want {
		t.Fatalf("jobs got %d want %d", got, want)
	}
	if jobs[0].ID != "evaluating" || jobs[1].ID != "analyzing" {
		t.Fatalf("order got %s, %s", jobs[0].ID, jobs[1].ID)
	}
}

func TestOpenRejectsIncompatibleSchema(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "old.db")
	db, err := openSQLite(dbPath)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE analysis_jobs (id TEXT PRIMARY KEY, status TEXT NOT NULL)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	db.Close()

	_, err = Open(dbPath)
	if err == nil {
		t.Fatalf("expected incompatible schema error")
	}
	if !strings.Contains(err.Error(), "missing columns") || !strings.Contains(err.Error(), "setup") {
		t.Fatalf("error should hint at setup, got %v", err)
	}

	if err := Setup(dbPath); err != nil {
		t.Fatalf("setup: %v", err)
	}
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open after setup: %v", err)
	}
	s.Close()
}

func TestBuildReport(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	jobs := []model.AnalysisJob{
		{ID: "a", Status: model.JobCompleted, Result: &model.AnalysisResult{PhaseCoverage: model.PhaseCoverage{Overall: 60}}},
		{ID: "b", Status: model.JobCompleted, Result: &model.AnalysisResult{PhaseCoverage: model.PhaseCoverage{Overall: 80}}},
		{ID: "c", Status: model.JobCompleted, Result: &model.AnalysisResult{InsufficientTurns: true}},
		{ID: "d", Status: model.JobFailed, Error: model.MessageNoSpeech},
	}
	for _, job := range jobs {
		job.CreatedAt, job.UpdatedAt = now, now
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("save %s: %v", job.ID, err)
		}
	}
	for _, ok := range []bool{true, false} {
		if err := s.InsertLLMEvent(ctx, llm.Event{JobID: "a", Unit: llm.UnitTechnique, ParseOK: ok}); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}

	r, err := s.BuildReport(ctx)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if got, want := r.TotalJobs, 4; got != want {
		t.Fatalf("total got %d want %d", got, want)
	}
	if got, want := r.CompletedJobs, 3; got != want {
		t.Fatalf("completed got %d want %d", got, want)
	}
	if got, want := r.InsufficientJobs, 1; got != want {
		t.Fatalf("insufficient got %d want %d", got, want)
	}
	if got, want := r.AverageOverallScore, 70.0; got != want {
		t.Fatalf("average got %v want %v", got, want)
	}
	if len(r.LLMUnits) != 1 || r.LLMUnits[0].Attempts != 2 || r.LLMUnits[0].ParseFailed != 1 {
		t.Fatalf("llm units got %+v", r.LLMUnits)
	}

	var buf bytes.Buffer
	PrintReport(&buf, r)
	for _, want := range []string{"total_jobs=4", "completed=3", "failed=1", "average_overall_score=70.00"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("report output missing %q:\n%s", want, buf.String())
		}
	}
}
