// Package export writes an analysis result as an Excel workbook for coaches.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
)

const (
	SheetSummary = "Overzicht"
	SheetTurns   = "Beurten"
	SheetPhases  = "Fasen"
	SheetMissed  = "Gemiste kansen"
)

// Writer stores one workbook per job under Dir.
type Writer struct {
	Dir string
	log *logrus.Entry
}

func NewWriter(dir string, log *logrus.Entry) *Writer {
	return &Writer{Dir: dir, log: logger.Component(log, "export")}
}

// PathFor is where the workbook of jobID is written.
func (w *Writer) PathFor(jobID string) string {
	return filepath.Join(w.Dir, jobID+".xlsx")
}

// WriteReport writes <Dir>/<job id>.xlsx.
func (w *Writer) WriteReport(_ context.Context, job model.AnalysisJob) error {
	path := w.PathFor(job.ID)
	if err := WriteWorkbook(path, job); err != nil {
		return err
	}
	w.log.WithFields(logrus.Fields{"job_id": job.ID, "path": path}).Info("workbook written")
	return nil
}

// WriteWorkbook renders the result of job to path.
func WriteWorkbook(path string, job model.AnalysisJob) error {
	if job.Result == nil {
		return errors.New("job has no result")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetTurns, SheetPhases, SheetMissed} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	r := job.Result
	writers := []struct {
		sheet string
		rows  [][]any
	}{
		{SheetSummary, summaryRows(job)},
		{SheetTurns, turnRows(r)},
		{SheetPhases, phaseRows(r.PhaseCoverage)},
		{SheetMissed, missedRows(r.MissedOpportunities)},
	}
	for _, sw := range writers {
		if err := writeRows(f, sw.sheet, sw.rows); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func summaryRows(job model.AnalysisJob) [][]any {
	r := job.Result
	m := r.DetailedMetrics
	rows := [][]any{
		{"Analyse", job.ID},
		{"Status", string(job.Status)},
		{"Kennisbank", r.KnowledgeVersion},
		{"Beurten", len(r.Turns)},
		{"Beurten verkoper", model.SellerTurnCount(r.Turns)},
	}
	if r.InsufficientTurns {
		return append(rows, []any{"Melding", r.Notice})
	}
	return append(rows,
		[]any{"Totaalscore", r.PhaseCoverage.Overall},
		[]any{"Structuur", m.Structure.OverallScore},
		[]any{"Impact", m.Impact.OverallScore},
		[]any{"Houdingen", m.Houdingen.OverallScore},
		[]any{"Balans", m.Balance.OverallScore},
	)
}

func turnRows(r *model.AnalysisResult) [][]any {
	evals := make(map[int]model.TurnEvaluation, len(r.Evaluations))
	for _, ev := range r.Evaluations {
		evals[ev.TurnIdx] = ev
	}
	signals := make(map[int]model.CustomerSignalResult, len(r.Signals))
	for _, s := range r.Signals {
		signals[s.TurnIdx] = s
	}

	rows := [][]any{{"Beurt", "Start (s)", "Spreker", "Tekst", "Technieken", "Kwaliteit", "Houding"}}
	for _, t := range r.Turns {
		row := []any{t.Idx, float64(t.StartMs) / 1000, string(t.Speaker), t.Text, "", "", ""}
		if ev, ok := evals[t.Idx]; ok {
			ids := make([]string, len(ev.Techniques))
			for i, tech := range ev.Techniques {
				ids[i] = string(tech.ID)
			}
			row[4] = strings.Join(ids, ", ")
			row[5] = string(ev.OverallQuality)
		}
		if s, ok := signals[t.Idx]; ok {
			row[6] = string(s.Houding)
		}
		rows = append(rows, row)
	}
	return rows
}

func phaseRows(c model.PhaseCoverage) [][]any {
	rows := [][]any{{"Fase", "Score", "Gevonden", "Mogelijk", "Technieken"}}
	for phase := model.PhaseOpening; phase <= model.PhaseDecision; phase++ {
		ps := c.Phase(phase)
		found := make([]string, len(ps.TechniquesFound))
		for i, t := range ps.TechniquesFound {
			found[i] = fmt.Sprintf("%s (%s x%d)", t.ID, t.Quality, t.Count)
		}
		rows = append(rows, []any{phase, ps.Score, len(ps.TechniquesFound), ps.TotalPossible, strings.Join(found, "; ")})
	}
	return append(rows,
		[]any{},
		[]any{"EPIC", "Explore", "Probe", "Impact", "Commit"},
		[]any{"", c.EPIC.Explore, c.EPIC.Probe, c.EPIC.Impact, c.EPIC.Commit},
	)
}

func missedRows(opps []model.MissedOpportunity) [][]any {
	rows := [][]any{{"Beurt", "Type", "Omschrijving", "Verkoper", "Klant", "Betere vraag"}}
	for _, o := range opps {
		turn := any(o.TurnIdx)
		if o.TurnIdx == model.ConversationWide {
			turn = "gesprek"
		}
		rows = append(rows, []any{turn, string(o.Type), o.Description, o.SellerSaid, o.CustomerSaid, o.BetterQuestion})
	}
	return rows
}
