package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
)

type fakeJobs struct {
	mu       sync.Mutex
	started  []string
	segments [][]model.TranscriptSegment
	jobs     map[string]model.AnalysisJob
}

func (f *fakeJobs) Start(_ context.Context, audioRef string) model.AnalysisJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, audioRef)
	return model.AnalysisJob{ID: fmt.Sprintf("job-%d", len(f.started)), Status: model.JobUploading}
}

func (f *fakeJobs) StartSegments(_ context.Context, segments []model.TranscriptSegment) model.AnalysisJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, segments)
	return model.AnalysisJob{ID: "inline", Status: model.JobUploading}
}

func (f *fakeJobs) Get(_ context.Context, id string) (model.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return model.AnalysisJob{}, fmt.Errorf("get job %s: %w", id, model.ErrJobNotFound)
	}
	return job, nil
}

func setupTestServer(t *testing.T) (http.Handler, *fakeJobs, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	uploadDir := t.TempDir()
	jobs := &fakeJobs{jobs: map[string]model.AnalysisJob{
		"done": {ID: "done", Status: model.JobCompleted, Result: &model.AnalysisResult{InsufficientTurns: true}},
	}}
	s, err := NewServer(jobs, Options{UploadDir: uploadDir, MaxUploadBytes: 1 << 20}, logger.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s.Handler(), jobs, uploadDir
}

func TestHealthHandler(t *testing.T) {
	handler, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if ok, exists := body["ok"].(bool); !exists || !ok {
		t.Fatalf("expected ok=true, body=%v", body)
	}
}

func TestCreateAnalysisFromReference(t *testing.T) {
	handler, jobs, uploadDir := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", strings.NewReader(`{"audioRef":" calls/demo.json "}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ID != "job-1" || body.Status != string(model.JobUploading) {
		t.Fatalf("unexpected body %+v", body)
	}
	want := filepath.Join(uploadDir, "calls", "demo.json")
	if len(jobs.started) != 1 || jobs.started[0] != want {
		t.Fatalf("started got %v, want %s", jobs.started, want)
	}
}

func TestCreateAnalysisRejectsReferenceOutsideUploads(t *testing.T) {
	handler, jobs, uploadDir := setupTestServer(t)

	for _, ref := range []string{
		"/etc/passwd",
		"../../etc/passwd",
		"calls/../../secret.json",
		filepath.Join(uploadDir, "..", "coach.db"),
		".",
	} {
		payload, _ := json.Marshal(map[string]string{"audioRef": ref})
		req := httptest.NewRequest(http.MethodPost, "/api/analyses", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d", ref, rec.Code)
		}
	}
	if len(jobs.started) != 0 {
		t.Fatalf("no job should start, got %v", jobs.started)
	}

	inside := filepath.Join(uploadDir, "call.json")
	payload, _ := json.Marshal(map[string]string{"audioRef": inside})
	req := httptest.NewRequest(http.MethodPost, "/api/analyses", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for %s, got %d", inside, rec.Code)
	}
	if len(jobs.started) != 1 || jobs.started[0] != inside {
		t.Fatalf("started got %v", jobs.started)
	}
}

func TestCreateAnalysisRequiresReference(t *testing.T) {
	handler, jobs, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(jobs.started) != 0 {
		t.Fatalf("no job should start")
	}
}

func TestCreateAnalysisFromSegments(t *testing.T) {
	handler, jobs, _ := setupTestServer(t)

	body := `{"segments":[{"index":0,"start":0,"end":1.5,"text":"Goedemorgen"},{"index":1,"start":3,"end":4,"text":"Hallo"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/analyses", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(jobs.segments) != 1 || len(jobs.segments[0]) != 2 || jobs.segments[0][1].Text != "Hallo" {
		t.Fatalf("segments got %+v", jobs.segments)
	}
	if len(jobs.started) != 0 {
		t.Fatalf("reference start must not be used")
	}

	unordered := `{"segments":[{"index":1,"start":3,"end":4,"text":"Hallo"},{"index":0,"start":0,"end":1.5,"text":"Goedemorgen"}]}`
	req = httptest.NewRequest(http.MethodPost, "/api/analyses", strings.NewReader(unordered))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if got := jobs.segments[1]; len(got) != 2 || got[0].Text != "Goedemorgen" || got[1].Text != "Hallo" {
		t.Fatalf("segments must be ordered by start, got %+v", got)
	}

	bad := `{"segments":[{"index":0,"start":2,"end":1,"text":"x"}]}`
	req = httptest.NewRequest(http.MethodPost, "/api/analyses", strings.NewReader(bad))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for end before start, got %d", rec.Code)
	}
}

func TestCreateAnalysisFromUpload(t *testing.T) {
	handler, jobs, uploadDir := setupTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "Call.WAV")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("RIFF"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(jobs.started) != 1 || !strings.HasPrefix(jobs.started[0], uploadDir) || !strings.HasSuffix(jobs.started[0], ".wav") {
		t.Fatalf("started got %v", jobs.started)
	}
	saved, err := os.ReadFile(jobs.started[0])
	if err != nil || string(saved) != "RIFF" {
		t.Fatalf("upload not stored: %q err=%v", saved, err)
	}
}

func TestCreateAnalysisUploadWithoutFile(t *testing.T) {
	handler, _, _ := setupTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("name", "call")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetAnalysis(t *testing.T) {
	handler, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analyses/done", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var job model.AnalysisJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if job.Status != model.JobCompleted || job.Result == nil || !job.Result.InsufficientTurns {
		t.Fatalf("unexpected job %+v", job)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analyses/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
