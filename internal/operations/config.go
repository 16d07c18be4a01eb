package operations

import (
	"time"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/config"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/debugloop"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/optimize"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/research"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/synthesis"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Config represents the execution configuration of runs and batches
type Config struct {
	// Execution mode of a batch; parallel requires Workers > 1
	ExecutionMode ExecutionMode `json:"execution_mode"`
	Workers       int           `json:"workers"`

	// RunTimeout bounds one run's wall clock; exceeding it is terminal for the run
	RunTimeout time.Duration `json:"run_timeout"`
	// BatchTimeout bounds the whole batch; zero means none
	BatchTimeout time.Duration `json:"batch_timeout"`

	// TokenBudget is the per-run LLM token budget; zero is unlimited
	TokenBudget int `json:"token_budget"`

	Research  research.Options  `json:"research"`
	Synthesis synthesis.Options `json:"synthesis"`
	Debug     debugloop.Options `json:"debug"`
	Optimize  optimize.Options  `json:"optimize"`

	// Recorded in each run's manifest
	AttemptTimeout  time.Duration `json:"attempt_timeout"`
	MemoryLimitMB   int           `json:"memory_limit_mb"`
	NetworkIsolated bool          `json:"network_isolated"`
}

// NewConfig returns the default run configuration
func NewConfig() *Config {
	return ConfigFromApp(config.Default())
}

// ConfigFromApp derives the run configuration from the application config
func ConfigFromApp(cfg *config.Config) *Config {
	mode := ExecutionModeSequential
	if cfg.Pipeline.Workers > 1 {
		mode = ExecutionModeParallel
	}

	var target *float64
	if cfg.Optimize.HasTarget() {
		v := cfg.Optimize.TargetValue
		target = &v
	}

	return &Config{
		ExecutionMode: mode,
		Workers:       max(cfg.Pipeline.Workers, 1),
		RunTimeout:    cfg.Pipeline.RunTimeout,
		BatchTimeout:  cfg.Pipeline.BatchTimeout,
		TokenBudget:   cfg.LLM.TokenBudget,
		Research: research.Options{
			Model:      cfg.LLM.ResearchModel,
			MaxRetries: cfg.Research.MaxRetries,
		},
		Synthesis: synthesis.Options{
			Model:    cfg.LLM.CodeModel,
			DataPath: cfg.Paths.DataFile,
		},
		Debug: debugloop.Options{
			Model:           cfg.LLM.CodeModel,
			MaxAttempts:     cfg.Debug.MaxAttempts,
			DiagnosticLines: cfg.Debug.DiagnosticLines,
			StuckRepeats:    cfg.Debug.StuckRepeats,
			SizeTolerance:   cfg.Debug.SizeTolerance,
		},
		Optimize: optimize.Options{
			Model: cfg.OptimizeModel(),
			Rule: optimize.Rule{
				Metric:        domain.TargetMetric(cfg.Optimize.TargetMetric),
				MinTrades:     cfg.Optimize.MinTrades,
				DrawdownSlack: cfg.Optimize.DrawdownSlack,
			},
			Target:      target,
			MaxAttempts: cfg.Optimize.MaxAttempts,
			PlateauK:    cfg.Optimize.PlateauK,
			RecentK:     cfg.Optimize.RecentK,
		},
		AttemptTimeout:  cfg.Runner.Timeout,
		MemoryLimitMB:   cfg.Runner.MemoryLimitMB,
		NetworkIsolated: cfg.Runner.IsolateNetwork,
	}
}

// GetRunTimeout returns the run timeout, falling back to the default
func (c *Config) GetRunTimeout() time.Duration {
	if c.RunTimeout > 0 {
		return c.RunTimeout
	}
	return DefaultRunTimeout
}

// RunConfig is the snapshot of these settings written into every manifest
func (c *Config) RunConfig() domain.RunConfig {
	return domain.RunConfig{
		ResearchModel:   c.Research.Model,
		SynthesisModel:  c.Synthesis.Model,
		DebugModel:      c.Debug.Model,
		OptimizeModel:   c.Optimize.Model,
		DataPath:        c.Synthesis.DataPath,
		MaxDebug:        c.Debug.MaxAttempts,
		MaxOptimize:     c.Optimize.MaxAttempts,
		TargetMetric:    c.Optimize.Metric,
		TargetValue:     c.Optimize.Target,
		MinTrades:       c.Optimize.MinTrades,
		DrawdownSlack:   c.Optimize.DrawdownSlack,
		PlateauWindow:   max(c.Optimize.PlateauK, 1),
		TokenBudget:     c.TokenBudget,
		AttemptTimeout:  domain.Duration(c.AttemptTimeout),
		RunTimeout:      domain.Duration(c.GetRunTimeout()),
		MemoryLimitMB:   c.MemoryLimitMB,
		NetworkIsolated: c.NetworkIsolated,
	}
}
