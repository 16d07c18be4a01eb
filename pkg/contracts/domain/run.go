package domain

import (
	"time"
)

// Run is one end-to-end execution of the pipeline for a single source reference.
type Run struct {
	ID        string    `json:"id" validate:"required"`
	SourceRef string    `json:"source_ref" validate:"required"`
	Dir       string    `json:"dir"`
	CreatedAt time.Time `json:"created_at"`
	Config    RunConfig `json:"config"`
}

// RunConfig is the per-Run snapshot of the knobs that shape its behaviour.
// It is written into the manifest so a run directory documents itself.
type RunConfig struct {
	ResearchModel   string       `json:"research_model" validate:"required"`
	SynthesisModel  string       `json:"synthesis_model" validate:"required"`
	DebugModel      string       `json:"debug_model" validate:"required"`
	OptimizeModel   string       `json:"optimize_model" validate:"required"`
	DataPath        string       `json:"data_path" validate:"required"`
	MaxDebug        int          `json:"max_debug_attempts" validate:"min=0"`
	MaxOptimize     int          `json:"max_opt_attempts" validate:"min=0"`
	TargetMetric    TargetMetric `json:"target_metric" validate:"required,oneof=return_pct sharpe"`
	TargetValue     *float64     `json:"target_value,omitempty"`
	MinTrades       int          `json:"min_trades" validate:"min=0"`
	DrawdownSlack   float64      `json:"drawdown_slack" validate:"min=0"`
	PlateauWindow   int          `json:"plateau_window" validate:"min=1"`
	TokenBudget     int          `json:"token_budget" validate:"min=0"`
	AttemptTimeout  Duration     `json:"attempt_timeout"`
	RunTimeout      Duration     `json:"run_timeout"`
	MemoryLimitMB   int          `json:"memory_limit_mb"`
	NetworkIsolated bool         `json:"network_isolated"`
}

// TargetMetric names the StatsReport field the optimization loop climbs.
type TargetMetric string

const (
	TargetReturnPct TargetMetric = "return_pct"
	TargetSharpe    TargetMetric = "sharpe"
)

// Valid reports whether m is one of the supported target metrics.
func (m TargetMetric) Valid() bool {
	return m == TargetReturnPct || m == TargetSharpe
}

// Stage identifies a pipeline stage. Stage names double as artifact directory names.
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageResearch  Stage = "research"
	StageSynthesis Stage = "synthesis"
	StageDraft     Stage = "draft"
	StageDebug     Stage = "debug"
	StageOptimize  Stage = "optimize"
)

// Dir returns the run-directory subdirectory that holds the stage's programs.
func (s Stage) Dir() string {
	if s == StageOptimize {
		return "opt"
	}
	return string(s)
}

// RunStatus is the lifecycle status of a Run. Every Run ends in exactly one
// terminal status.
type RunStatus string

const (
	RunStatusPending           RunStatus = "pending"
	RunStatusRunning           RunStatus = "running"
	RunStatusSucceeded         RunStatus = "succeeded"
	RunStatusDebugExhausted    RunStatus = "debug-exhausted"
	RunStatusOptimizeExhausted RunStatus = "optimize-exhausted"
	RunStatusSynthesisFailed   RunStatus = "synthesis-failed"
	RunStatusResearchFailed    RunStatus = "research-failed"
)

// IsTerminal reports whether s is one of the five terminal statuses.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusDebugExhausted, RunStatusOptimizeExhausted,
		RunStatusSynthesisFailed, RunStatusResearchFailed:
		return true
	}
	return false
}

// RunResult is the per-Run line of the batch summary.
type RunResult struct {
	RunID        string    `json:"run_id"`
	SourceRef    string    `json:"source_ref"`
	Dir          string    `json:"dir"`
	Status       RunStatus `json:"status"`
	FailureKind  string    `json:"failure_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	StageReached Stage     `json:"stage_reached"`
	Attempts     int       `json:"attempts"`
	Tokens       int       `json:"tokens"`
	BestMetric   *float64  `json:"best_metric,omitempty"`
	Duration     Duration  `json:"duration"`
}

// FailedOutright reports whether the Run ended without producing a usable
// program or because an external budget ran out. Exhausted search loops with a
// program in hand are not failures.
func (r RunResult) FailedOutright() bool {
	if r.Status == RunStatusResearchFailed || r.Status == RunStatusSynthesisFailed {
		return true
	}
	switch r.FailureKind {
	case "llm-exhausted", "llm-no-provider", "budget-exhausted", "run-timeout", "cancelled":
		return true
	}
	return false
}

// Duration marshals as a Go duration string ("1m30s") instead of nanoseconds.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
