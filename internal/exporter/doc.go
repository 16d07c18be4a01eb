// Package exporter writes the per-batch summary that `rbi run` leaves next to
// the run directories.
//
// CSVWriter is the generic writer (headers, optional UTF-8 BOM so spreadsheet
// tools detect the encoding, streaming). The summary functions build one row
// per run from the batch results:
//
//	rows := exporter.SummaryRows(batch.Runs)
//	path, err := exporter.WriteSummaryCSV(outDir, batch.Runs)
//	path, err = exporter.WriteSummaryXLSX(outDir, batch.Runs)
//
// The workbook carries a second sheet with batch totals.
package exporter
