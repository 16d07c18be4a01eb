package validation

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedtestutil "github.com/vttilv/moon-dev-ai-agents-sub002/internal/shared/testutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileValidator_ValidateDataFile(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(t *testing.T) string
		wantRows      int
		errorContains string
	}{
		{
			name: "valid file",
			setup: func(t *testing.T) string {
				return writeFile(t, "btc.csv", "datetime, Open, High, Low, Close, Volume\n"+
					"2023-01-01 00:00,1,2,0.5,1.5,100\n"+
					"2023-01-01 00:15,1.5,2,1,1.8,120\n")
			},
			wantRows: 2,
		},
		{
			name: "byte order mark and lower case",
			setup: func(t *testing.T) string {
				return writeFile(t, "btc.csv", "\ufeffopen,high,low,close,volume\n1,2,0.5,1.5,100\n")
			},
			wantRows: 1,
		},
		{
			name: "header only",
			setup: func(t *testing.T) string {
				return writeFile(t, "btc.csv", "Date,Open,High,Low,Close,Volume\n")
			},
			wantRows: 0,
		},
		{
			name:          "missing file",
			setup:         func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.csv") },
			errorContains: "does not exist",
		},
		{
			name:          "directory",
			setup:         func(t *testing.T) string { return t.TempDir() },
			errorContains: "is a directory",
		},
		{
			name:          "empty file",
			setup:         func(t *testing.T) string { return writeFile(t, "btc.csv", "") },
			errorContains: "is empty",
		},
		{
			name: "missing columns",
			setup: func(t *testing.T) string {
				return writeFile(t, "btc.csv", "Date,Open,Close\n1,2,3\n")
			},
			errorContains: "missing columns: high, low, volume",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewFileValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
			info, err := v.ValidateDataFile(tt.setup(t))
			if tt.errorContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, info.Rows)
			assert.GreaterOrEqual(t, len(info.Columns), len(RequiredColumns))
			assert.NotContains(t, info.Columns[0], "\ufeff")
		})
	}
}

func TestFileValidator_WarnsOnEmptyData(t *testing.T) {
	logger, handler := sharedtestutil.NewTestLogger(t)
	v := NewFileValidator(logger)

	_, err := v.ValidateDataFile(writeFile(t, "btc.csv", "Open,High,Low,Close,Volume\n"))
	require.NoError(t, err)

	sharedtestutil.AssertLogContains(t, handler, slog.LevelWarn, "Data file has no rows")
}

func TestFileValidator_ValidateOutputDirectory(t *testing.T) {
	v := NewFileValidator(nil)

	dir := filepath.Join(t.TempDir(), "runs", "nested")
	require.NoError(t, v.ValidateOutputDirectory(dir))
	assert.DirExists(t, dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	blocker := writeFile(t, "file", "x")
	assert.Error(t, v.ValidateOutputDirectory(filepath.Join(blocker, "runs")))
}
