package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/runner"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// AttemptScript is what a mocked execution reports
type AttemptScript struct {
	Outcome  domain.Outcome
	ExitCode int
	Stdout   string
	Stderr   string
	Stats    *domain.StatsReport
}

// Rule maps programs containing Marker to a scripted result
type Rule struct {
	Marker string
	Result AttemptScript
}

// MockExecutor mocks the backtest runner. It reads each program from the
// run directory and reports the result of the first rule whose marker the
// source contains. Sources containing a SyntaxMarker fail the syntax check.
type MockExecutor struct {
	mu            sync.Mutex
	Rules         []Rule
	Default       AttemptScript
	SyntaxMarkers []string

	Requests     []runner.Request
	Sources      []string
	SyntaxChecks int
}

// NewMockExecutor creates an executor whose unmatched programs run clean with stats
func NewMockExecutor(stats *domain.StatsReport, rules ...Rule) *MockExecutor {
	return &MockExecutor{Rules: rules, Default: Clean(stats)}
}

// Clean scripts a clean attempt
func Clean(stats *domain.StatsReport) AttemptScript {
	return AttemptScript{Outcome: domain.OutcomeClean, Stats: stats}
}

// Crash scripts a runtime error with the given traceback
func Crash(stderr string) AttemptScript {
	return AttemptScript{Outcome: domain.OutcomeRuntimeError, ExitCode: 1, Stderr: stderr}
}

// Traceback builds a minimal Python traceback through file ending in exception
func Traceback(file string, line int, exception string) string {
	return fmt.Sprintf("Traceback (most recent call last):\n  File %q, line %d, in <module>\n    x = compute()\n%s\n",
		file, line, exception)
}

// Run implements search.Executor
func (m *MockExecutor) Run(ctx context.Context, req runner.Request) domain.Attempt {
	data, err := os.ReadFile(filepath.Join(req.Dir, filepath.FromSlash(req.Program)))
	source := string(data)

	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.Sources = append(m.Sources, source)
	script := m.Default
	for _, r := range m.Rules {
		if strings.Contains(source, r.Marker) {
			script = r.Result
			break
		}
	}
	m.mu.Unlock()

	att := domain.Attempt{
		Stage:       req.Stage,
		Index:       req.Index,
		ProgramPath: req.Program,
		Outcome:     script.Outcome,
		ExitCode:    script.ExitCode,
		Stdout:      script.Stdout,
		Stderr:      script.Stderr,
		StartedAt:   time.Now().UTC(),
	}
	if err != nil {
		att.Outcome = domain.OutcomeRuntimeError
		att.ExitCode = -1
		att.Stderr = err.Error()
	}
	if ctx.Err() != nil {
		att.Outcome = domain.OutcomeTimeout
		att.Killed = "cancelled"
	}
	if att.Outcome == domain.OutcomeClean {
		att.Stats = script.Stats
	} else {
		att.Signature = runner.Signature(att)
	}
	return att
}

// CheckSyntax implements search.Executor
func (m *MockExecutor) CheckSyntax(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SyntaxChecks++
	if strings.TrimSpace(source) == "" {
		return &runner.SyntaxError{Detail: "empty program"}
	}
	for _, marker := range m.SyntaxMarkers {
		if strings.Contains(source, marker) {
			return &runner.SyntaxError{Detail: "SyntaxError: invalid syntax (line 1)"}
		}
	}
	return nil
}

// Executions returns how many programs were run
func (m *MockExecutor) Executions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
