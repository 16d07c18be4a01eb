package validation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// RequiredColumns are the price columns every backtest data file must carry
var RequiredColumns = []string{"open", "high", "low", "close", "volume"}

// DataFileInfo describes a validated OHLCV data file
type DataFileInfo struct {
	Path    string
	Size    int64
	Columns []string
	Rows    int
}

// FileValidator runs the pre-flight checks of `rbi run`
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger: logger.With(slog.String("component", "validation")),
	}
}

// ValidateOutputDirectory ensures the run root exists and is writable
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		v.logger.Error("Output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	tmp.Close()
	os.Remove(tmp.Name())

	v.logger.Debug("Output directory validated", slog.String("directory", dir))
	return nil
}

// ValidateFile checks if a specific file exists and is readable
func (v *FileValidator) ValidateFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		v.logger.Error("File does not exist", slog.String("file", path))
		return nil, fmt.Errorf("file %s does not exist", path)
	}
	if err != nil {
		v.logger.Error("Failed to stat file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		v.logger.Error("Path is a directory, not a file", slog.String("path", path))
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}
	return info, nil
}

// ValidateDataFile checks that path is a readable CSV whose header names every
// required price column. Column names are compared case-insensitively after
// trimming whitespace. A file without data rows is accepted with a warning.
func (v *FileValidator) ValidateDataFile(path string) (*DataFileInfo, error) {
	info, err := v.ValidateFile(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		v.logger.Error("Data file is not readable",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("file %s is not readable: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("data file %s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("data file %s has no readable header: %w", path, err)
	}

	columns := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, col := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		present[strings.ToLower(columns[i])] = true
	}
	var missing []string
	for _, col := range RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		v.logger.Error("Data file is missing price columns",
			slog.String("file", path),
			slog.Any("missing", missing))
		return nil, fmt.Errorf("data file %s is missing columns: %s", path, strings.Join(missing, ", "))
	}

	rows := 0
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("data file %s: row %d: %w", path, rows+2, err)
		}
		rows++
	}
	if rows == 0 {
		v.logger.Warn("Data file has no rows", slog.String("file", path))
	}

	v.logger.Debug("Data file validated",
		slog.String("file", filepath.Base(path)),
		slog.Int64("size", info.Size()),
		slog.Int("rows", rows))
	return &DataFileInfo{Path: path, Size: info.Size(), Columns: columns, Rows: rows}, nil
}
