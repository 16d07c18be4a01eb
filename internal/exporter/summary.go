package exporter

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

const (
	SummaryCSVName  = "summary.csv"
	SummaryXLSXName = "summary.xlsx"

	runsSheet  = "Runs"
	batchSheet = "Batch"
)

// SummaryHeaders are the columns of the batch summary, one row per run
var SummaryHeaders = []string{
	"run_id", "source_ref", "status", "stage_reached", "failure_kind",
	"attempts", "tokens", "best_metric", "duration", "failed_outright", "dir", "error",
}

// SummaryRows renders runs in batch order
func SummaryRows(runs []domain.RunResult) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.RunID,
			r.SourceRef,
			string(r.Status),
			string(r.StageReached),
			r.FailureKind,
			formatInt(r.Attempts),
			formatInt(r.Tokens),
			formatOptionalFloat(r.BestMetric),
			time.Duration(r.Duration).Round(time.Millisecond).String(),
			formatBool(r.FailedOutright()),
			r.Dir,
			r.Error,
		})
	}
	return rows
}

// BatchTotals aggregates a batch for the summary workbook
type BatchTotals struct {
	Total          int
	Succeeded      int
	Exhausted      int
	FailedOutright int
	Attempts       int
	Tokens         int
}

// Totals counts runs by outcome. A run is exhausted when a search loop ran out
// of budget with a program in hand.
func Totals(runs []domain.RunResult) BatchTotals {
	t := BatchTotals{Total: len(runs)}
	for _, r := range runs {
		t.Attempts += r.Attempts
		t.Tokens += r.Tokens
		switch {
		case r.FailedOutright():
			t.FailedOutright++
		case r.Status == domain.RunStatusSucceeded:
			t.Succeeded++
		default:
			t.Exhausted++
		}
	}
	return t
}

// WriteSummaryCSV writes summary.csv under dir and returns its path
func WriteSummaryCSV(dir string, runs []domain.RunResult, logger *slog.Logger) (string, error) {
	w := NewCSVWriter(dir, logger)
	return w.WriteCSV(SummaryCSVName, WriteOptions{
		Headers:   SummaryHeaders,
		Records:   SummaryRows(runs),
		BOMPrefix: true,
	})
}

// WriteSummaryXLSX writes summary.xlsx under dir and returns its path. The
// Runs sheet mirrors the CSV with typed numeric cells; the Batch sheet holds
// the totals.
func WriteSummaryXLSX(dir string, runs []domain.RunResult, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", runsSheet); err != nil {
		return "", fmt.Errorf("failed to name sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]interface{}, len(SummaryHeaders))
	for i, h := range SummaryHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(runsSheet, "A1", &header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(SummaryHeaders))
	if err := f.SetCellStyle(runsSheet, "A1", lastCol+"1", bold); err != nil {
		return "", fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range runs {
		var best interface{}
		if r.BestMetric != nil {
			best = *r.BestMetric
		}
		row := []interface{}{
			r.RunID,
			r.SourceRef,
			string(r.Status),
			string(r.StageReached),
			r.FailureKind,
			r.Attempts,
			r.Tokens,
			best,
			time.Duration(r.Duration).Seconds(),
			r.FailedOutright(),
			r.Dir,
			r.Error,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(runsSheet, cell, &row); err != nil {
			return "", fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	if len(runs) > 0 {
		ref := fmt.Sprintf("A1:%s%d", lastCol, len(runs)+1)
		if err := f.AutoFilter(runsSheet, ref, nil); err != nil {
			return "", fmt.Errorf("failed to add filter: %w", err)
		}
	}
	if err := f.SetColWidth(runsSheet, "A", "B", 28); err != nil {
		return "", err
	}

	if _, err := f.NewSheet(batchSheet); err != nil {
		return "", fmt.Errorf("failed to create batch sheet: %w", err)
	}
	t := Totals(runs)
	totals := [][]interface{}{
		{"total", t.Total},
		{"succeeded", t.Succeeded},
		{"exhausted", t.Exhausted},
		{"failed_outright", t.FailedOutright},
		{"attempts", t.Attempts},
		{"tokens", t.Tokens},
	}
	for i, row := range totals {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(batchSheet, cell, &row); err != nil {
			return "", fmt.Errorf("failed to write totals: %w", err)
		}
	}
	if err := f.SetCellStyle(batchSheet, "A1", fmt.Sprintf("A%d", len(totals)), bold); err != nil {
		return "", err
	}

	path := filepath.Join(dir, SummaryXLSXName)
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}
	logger.Info("Wrote summary workbook",
		slog.String("component", "exporter"),
		slog.String("file_path", path),
		slog.Int("runs", len(runs)))
	return path, nil
}
