package domain

import (
	"time"
)

// StatsReport holds the metrics parsed from a backtest's stdout. A nil field
// means the metric was absent or printed as NaN.
type StatsReport struct {
	ReturnPct   *float64 `json:"return_pct"`
	Sharpe      *float64 `json:"sharpe"`
	MaxDrawdown *float64 `json:"max_drawdown_pct"`
	WinRatePct  *float64 `json:"win_rate_pct"`
	TradeCount  *int     `json:"trade_count"`
}

// Metric returns the value of the named target metric, or nil when unknown.
func (s *StatsReport) Metric(m TargetMetric) *float64 {
	if s == nil {
		return nil
	}
	switch m {
	case TargetReturnPct:
		return s.ReturnPct
	case TargetSharpe:
		return s.Sharpe
	}
	return nil
}

// Trades returns the trade count, treating an unknown count as zero.
func (s *StatsReport) Trades() int {
	if s == nil || s.TradeCount == nil {
		return 0
	}
	return *s.TradeCount
}

// Empty reports whether no metric was recognised.
func (s *StatsReport) Empty() bool {
	return s == nil || (s.ReturnPct == nil && s.Sharpe == nil && s.MaxDrawdown == nil &&
		s.WinRatePct == nil && s.TradeCount == nil)
}

// Outcome classifies how a single execution of a generated program ended.
type Outcome string

const (
	OutcomeClean        Outcome = "clean"
	OutcomeRuntimeError Outcome = "runtime-error"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeParseFailure Outcome = "parse-failure"
)

// Attempt is one execution of one program version by the backtest runner.
type Attempt struct {
	Stage       Stage        `json:"stage"`
	Index       int          `json:"index"`
	ProgramPath string       `json:"program_path"`
	Outcome     Outcome      `json:"outcome"`
	ExitCode    int          `json:"exit_code"`
	Stdout      string       `json:"-"`
	Stderr      string       `json:"-"`
	Stats       *StatsReport `json:"stats,omitempty"`
	Signature   string       `json:"signature,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	Duration    Duration     `json:"duration"`
	PeakRSSKB   uint64       `json:"peak_rss_kb,omitempty"`
	Truncated   bool         `json:"truncated,omitempty"`
	Killed      string       `json:"killed,omitempty"`
}

// Clean reports whether the attempt exited zero with a parseable report.
func (a *Attempt) Clean() bool {
	return a != nil && a.Outcome == OutcomeClean
}

// Program is a versioned Python source stored in the run directory.
type Program struct {
	Path   string       `json:"path"`
	Digest string       `json:"digest"`
	Stats  *StatsReport `json:"stats,omitempty"`
	Source string       `json:"-"`
}

// TokenUsage totals LLM consumption for a Run.
type TokenUsage struct {
	Calls            int `json:"calls"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates one call's usage.
func (u *TokenUsage) Add(prompt, completion int) {
	u.Calls++
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.TotalTokens += prompt + completion
}

// Outcomes of one provider round-trip or of a whole gateway call
const (
	CallOK             = "ok"
	CallTransportError = "transport-error"
	CallRateLimited    = "rate-limited"
	CallContentEmpty   = "content-empty"
	CallNoProvider     = "no-provider"
	CallBudgetExceeded = "budget-exhausted"
	CallDropped        = "dropped"
	CallRejected       = "rejected"
)

// LLMTry is one provider round-trip within a gateway call
type LLMTry struct {
	Try      int      `json:"try"`
	Outcome  string   `json:"outcome"`
	Error    string   `json:"error,omitempty"`
	Duration Duration `json:"duration"`
}

// LLMCall is the audit record written for every gateway call. Outcome is the
// result of the call as a whole; Attempts lists every provider round-trip.
type LLMCall struct {
	Seq              int       `json:"seq"`
	Role             string    `json:"role"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Temperature      float64   `json:"temperature"`
	System           string    `json:"system"`
	Prompt           string    `json:"prompt"`
	Response         string    `json:"response,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Tries            int       `json:"tries"`
	Outcome          string    `json:"outcome"`
	Attempts         []LLMTry  `json:"attempts,omitempty"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	Duration         Duration  `json:"duration"`
}

// OptimizationSummary describes the trajectory of the optimization loop.
type OptimizationSummary struct {
	TargetMetric   TargetMetric `json:"target_metric"`
	Attempts       int          `json:"attempts"`
	Accepted       int          `json:"accepted"`
	Clean          int          `json:"clean"`
	Rejected       int          `json:"rejected"`
	ExitReason     string       `json:"exit_reason"`
	BaselineMetric *float64     `json:"baseline_metric,omitempty"`
	BestMetric     *float64     `json:"best_metric,omitempty"`
	Improvement    *float64     `json:"improvement,omitempty"`
	CleanMean      *float64     `json:"clean_mean,omitempty"`
	CleanStdDev    *float64     `json:"clean_stddev,omitempty"`
	CleanMedian    *float64     `json:"clean_median,omitempty"`
}
