package store

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/tetraminz/sales_coach/internal/model"
)

// Report summarises the stored jobs and the audit trail.
type Report struct {
	TotalJobs           int
	StatusCounts        []StatusCount
	CompletedJobs       int
	InsufficientJobs    int
	AverageOverallScore float64
	LLMUnits            []UnitCount
}

type StatusCount struct {
	Status model.JobStatus
	Count  int
}

// UnitCount aggregates audit events of one generation unit.
type UnitCount struct {
	Unit        string
	Attempts    int
	ParseFailed int
}

// BuildReport computes the report from the database.
func (s *SQLiteStore) BuildReport(ctx context.Context) (Report, error) {
	if err := s.ready(); err != nil {
		return Report{}, err
	}

	var report Report
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM analysis_jobs GROUP BY status`)
	if err != nil {
		return Report{}, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item StatusCount
		var status string
		if err := rows.Scan(&status, &item.Count); err != nil {
			return Report{}, fmt.Errorf("scan status count: %w", err)
		}
		item.Status = model.JobStatus(status)
		report.TotalJobs += item.Count
		report.StatusCounts = append(report.StatusCounts, item)
	}
	if err := rows.Err(); err != nil {
		return Report{}, fmt.Errorf("iterate status counts: %w", err)
	}
	sort.Slice(report.StatusCounts, func(i, j int) bool {
		return report.StatusCounts[i].Status < report.StatusCounts[j].Status
	})

	if err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(insufficient_turns), 0),
			COALESCE(AVG(CASE WHEN insufficient_turns = 0
				THEN json_extract(result, '$.phaseCoverage.overall') END), 0)
		FROM analysis_jobs
		WHERE status = ? AND result IS NOT NULL
	`, string(model.JobCompleted)).Scan(
		&report.CompletedJobs,
		&report.InsufficientJobs,
		&report.AverageOverallScore,
	); err != nil {
		return Report{}, fmt.Errorf("query completed jobs: %w", err)
	}

	unitRows, err := s.db.QueryContext(ctx, `
		SELECT unit_name, COUNT(*), COALESCE(SUM(CASE WHEN parse_ok = 0 THEN 1 ELSE 0 END), 0)
		FROM llm_events
		GROUP BY unit_name
		ORDER BY unit_name
	`)
	if err != nil {
		return Report{}, fmt.Errorf("query llm units: %w", err)
	}
	defer unitRows.Close()
	for unitRows.Next() {
		var item UnitCount
		if err := unitRows.Scan(&item.Unit, &item.Attempts, &item.ParseFailed); err != nil {
			return Report{}, fmt.Errorf("scan llm unit: %w", err)
		}
		report.LLMUnits = append(report.LLMUnits, item)
	}
	if err := unitRows.Err(); err != nil {
		return Report{}, fmt.Errorf("iterate llm units: %w", err)
	}
	return report, nil
}

// PrintReport writes the report as key=value lines.
func PrintReport(w io.Writer, r Report) {
	fmt.Fprintf(w, "total_jobs=%d\n", r.TotalJobs)
	fmt.Fprintln(w, "jobs_by_status:")
	if len(r.StatusCounts) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, item := range r.StatusCounts {
		fmt.Fprintf(w, "  %s=%d\n", item.Status, item.Count)
	}
	fmt.Fprintf(w, "completed_jobs=%d (insufficient_turns=%d)\n", r.CompletedJobs, r.InsufficientJobs)
	fmt.Fprintf(w, "average_overall_score=%.2f\n", r.AverageOverallScore)
	fmt.Fprintln(w, "llm_units:")
	if len(r.LLMUnits) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, item := range r.LLMUnits {
		fmt.Fprintf(w, "  %s attempts=%d parse_failed=%d\n", item.Unit, item.Attempts, item.ParseFailed)
	}
}
