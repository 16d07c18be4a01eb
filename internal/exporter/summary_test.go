package exporter

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

func sampleRuns() []domain.RunResult {
	best := 12.5
	return []domain.RunResult{
		{
			RunID: "r1", SourceRef: "https://example.com/a", Status: domain.RunStatusSucceeded,
			StageReached: domain.StageOptimize, Attempts: 4, Tokens: 9000, BestMetric: &best,
			Duration: domain.Duration(90 * time.Second), Dir: "runs/r1",
		},
		{
			RunID: "r2", SourceRef: "missing.pdf", Status: domain.RunStatusResearchFailed,
			StageReached: domain.StageIngest, FailureKind: "ingest-fetch", Error: "404, not found",
			Duration: domain.Duration(time.Second), Dir: "runs/r2",
		},
		{
			RunID: "r3", SourceRef: "raw", Status: domain.RunStatusDebugExhausted,
			StageReached: domain.StageDebug, Attempts: 8, Tokens: 20000,
			Duration: domain.Duration(5 * time.Minute), Dir: "runs/r3",
		},
	}
}

func TestSummaryRows(t *testing.T) {
	rows := SummaryRows(sampleRuns())
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Len(t, row, len(SummaryHeaders))
	}
	assert.Equal(t, "12.50", rows[0][7])
	assert.Equal(t, "1m30s", rows[0][8])
	assert.Equal(t, "false", rows[0][9])
	assert.Equal(t, "", rows[1][7])
	assert.Equal(t, "true", rows[1][9])
	assert.Equal(t, "false", rows[2][9])
}

func TestTotals(t *testing.T) {
	got := Totals(sampleRuns())
	assert.Equal(t, BatchTotals{Total: 3, Succeeded: 1, Exhausted: 1, FailedOutright: 1, Attempts: 12, Tokens: 29000}, got)
}

func TestWriteSummaryCSV(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteSummaryCSV(dir, sampleRuns(), nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, SummaryCSVName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, utf8BOM))

	records, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, SummaryHeaders, records[0])
	assert.Equal(t, "404, not found", records[2][11])
}

func TestWriteSummaryXLSX(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteSummaryXLSX(dir, sampleRuns(), nil)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{runsSheet, batchSheet}, f.GetSheetList())

	rows, err := f.GetRows(runsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, SummaryHeaders, rows[0])
	assert.Equal(t, "r1", rows[1][0])
	assert.Equal(t, "12.5", rows[1][7])

	failed, err := f.GetCellValue(batchSheet, "B4")
	require.NoError(t, err)
	assert.Equal(t, "1", failed)
}

func TestCSVWriter_Append(t *testing.T) {
	w := NewCSVWriter(t.TempDir(), nil)
	path, err := w.WriteCSV("out/a.csv", WriteOptions{Headers: []string{"x"}, Records: [][]string{{"1"}}})
	require.NoError(t, err)
	_, err = w.WriteCSV("out/a.csv", WriteOptions{Records: [][]string{{"2"}}, Append: true})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x\n1\n2\n", string(data))
}
