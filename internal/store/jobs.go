package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/model"
)

const upsertJobSQL = `
INSERT INTO analysis_jobs (
	id,
	status,
	error,
	result,
	insufficient_turns,
	created_at_utc,
	updated_at_utc,
	completed_at_utc
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	error = excluded.error,
	result = excluded.result,
	insufficient_turns = excluded.insufficient_turns,
	updated_at_utc = excluded.updated_at_utc,
	completed_at_utc = excluded.completed_at_utc`

const selectJobColumns = `id, status, error, result, created_at_utc, updated_at_utc, completed_at_utc`

const insertLLMEventSQL = `
INSERT INTO llm_events (
	created_at_utc,
	job_id,
	unit_name,
	unit_index,
	attempt,
	model,
	request_json,
	response_http_status,
	response_text,
	parse_ok,
	error_message,
	duration_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SaveJob inserts or updates the full job record.
func (s *SQLiteStore) SaveJob(ctx context.Context, job model.AnalysisJob) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if !job.Status.Valid() {
		return fmt.Errorf("invalid job status %q", job.Status)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	var result sql.NullString
	insufficient := false
	if job.Result != nil {
		raw, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		result = sql.NullString{String: string(raw), Valid: true}
		insufficient = job.Result.InsufficientTurns
	}
	var completedAt sql.NullString
	if job.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*job.CompletedAt), Valid: true}
	}

	if _, err := s.db.ExecContext(
		ctx,
		upsertJobSQL,
		job.ID,
		string(job.Status),
		job.Error,
		result,
		boolToInt(insufficient),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
		completedAt,
	); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads one job; ErrJobNotFound when absent.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (model.AnalysisJob, error) {
	if err := s.ready(); err != nil {
		return model.AnalysisJob{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectJobColumns+` FROM analysis_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AnalysisJob{}, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return model.AnalysisJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListNonTerminal returns every job that is neither completed nor failed,
// oldest first.
func (s *SQLiteStore) ListNonTerminal(ctx context.Context) ([]model.AnalysisJob, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	statuses := model.NonTerminalStatuses()
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	query := `SELECT ` + selectJobColumns + ` FROM analysis_jobs WHERE status IN (?` +
		strings.Repeat(", ?", len(statuses)-1) + `) ORDER BY created_at_utc, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query non-terminal jobs: %w", err)
	}
	defer rows.Close()

	var out []model.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// InsertLLMEvent appends one generation attempt to the audit trail.
func (s *SQLiteStore) InsertLLMEvent(ctx context.Context, event llm.Event) error {
	if err := s.ready(); err != nil {
		return err
	}
	if event.Attempt < 1 {
		event.Attempt = 1
	}
	if strings.TrimSpace(event.RequestJSON) == "" {
		event.RequestJSON = "{}"
	}

	if _, err := s.db.ExecContext(
		ctx,
		insertLLMEventSQL,
		formatTime(time.Now()),
		strings.TrimSpace(event.JobID),
		strings.TrimSpace(event.Unit),
		event.Index,
		event.Attempt,
		strings.TrimSpace(event.Model),
		event.RequestJSON,
		event.HTTPStatus,
		event.ResponseText,
		boolToInt(event.ParseOK),
		strings.TrimSpace(event.ErrorMessage),
		event.Duration.Milliseconds(),
	); err != nil {
		return fmt.Errorf("insert llm event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.AnalysisJob, error) {
	var (
		job         model.AnalysisJob
		status      string
		result      sql.NullString
		createdAt   string
		updatedAt   string
		completedAt sql.NullString
	)
	if err := row.Scan(&job.ID, &status, &job.Error, &result, &createdAt, &updatedAt, &completedAt); err != nil {
		return model.AnalysisJob{}, err
	}
	job.Status = model.JobStatus(status)

	var err error
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.AnalysisJob{}, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.AnalysisJob{}, err
	}
	if completedAt.Valid && completedAt.String != "" {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return model.AnalysisJob{}, err
		}
		job.CompletedAt = &t
	}
	if result.Valid && result.String != "" {
		var r model.AnalysisResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return model.AnalysisJob{}, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &r
	}
	return job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
