package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment override (RBI_LLM_MAX_RETRIES, ...)
const EnvPrefix = "RBI"

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	LLM       LLMConfig       `yaml:"llm" envconfig:"LLM"`
	Runner    RunnerConfig    `yaml:"runner" envconfig:"RUNNER"`
	Ingest    IngestConfig    `yaml:"ingest" envconfig:"INGEST"`
	Research  ResearchConfig  `yaml:"research" envconfig:"RESEARCH"`
	Debug     DebugConfig     `yaml:"debug" envconfig:"DEBUG"`
	Optimize  OptimizeConfig  `yaml:"optimize" envconfig:"OPTIMIZE"`
	Pipeline  PipelineConfig  `yaml:"pipeline" envconfig:"PIPELINE"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" split_words:"true" validate:"oneof=json text"`
	Output   string `yaml:"output" split_words:"true" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	OutDir   string `yaml:"out_dir" split_words:"true" validate:"required"`
	DataFile string `yaml:"data_file" split_words:"true" validate:"required"`
	// TemplateDir optionally overrides the built-in prompt templates by file name
	TemplateDir string `yaml:"template_dir" split_words:"true"`
}

// LLMConfig configures model selection and the gateway's retry and budget policy
type LLMConfig struct {
	ResearchModel     string        `yaml:"research_model" split_words:"true" validate:"required"`
	CodeModel         string        `yaml:"code_model" split_words:"true" validate:"required"`
	OptimizeModel     string        `yaml:"optimize_model" split_words:"true"`
	MaxRetries        int           `yaml:"max_retries" split_words:"true" validate:"min=1,max=10"`
	CallTimeout       time.Duration `yaml:"call_timeout" split_words:"true" validate:"gt=0"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" split_words:"true" validate:"gte=0"`
	MaxBackoff        time.Duration `yaml:"max_backoff" split_words:"true" validate:"gte=0"`
	TokenBudget       int           `yaml:"token_budget" split_words:"true" validate:"min=0"`
	MaxTokens         int           `yaml:"max_tokens" split_words:"true" validate:"min=1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" split_words:"true" validate:"gt=0"`
	Burst             int           `yaml:"burst" split_words:"true" validate:"min=1"`
	OllamaURL         string        `yaml:"ollama_url" split_words:"true"`
}

// RunnerConfig configures the backtest subprocess sandbox
type RunnerConfig struct {
	Interpreter    string        `yaml:"interpreter" split_words:"true" validate:"required"`
	Timeout        time.Duration `yaml:"timeout" split_words:"true" validate:"gt=0"`
	MemoryLimitMB  int           `yaml:"memory_limit_mb" split_words:"true" validate:"min=0"`
	StderrTailKB   int           `yaml:"stderr_tail_kb" split_words:"true" validate:"min=1"`
	StdoutLimitKB  int           `yaml:"stdout_limit_kb" split_words:"true" validate:"min=1"`
	IsolateNetwork bool          `yaml:"isolate_network" split_words:"true"`
	FrameworkPath  string        `yaml:"framework_path" split_words:"true"`
	PassEnv        []string      `yaml:"pass_env" split_words:"true"`
}

// IngestConfig configures source brief normalisation
type IngestConfig struct {
	MaxBriefChars     int           `yaml:"max_brief_chars" split_words:"true" validate:"min=1"`
	MinBriefChars     int           `yaml:"min_brief_chars" split_words:"true" validate:"min=0"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" split_words:"true" validate:"gt=0"`
	UseBrowser        bool          `yaml:"use_browser" split_words:"true"`
	TranscriptCommand string        `yaml:"transcript_command" split_words:"true"`
	UserAgent         string        `yaml:"user_agent" split_words:"true"`
}

// ResearchConfig configures the research stage
type ResearchConfig struct {
	MaxRetries int `yaml:"max_retries" split_words:"true" validate:"min=0"`
}

// DebugConfig configures the repair loop
type DebugConfig struct {
	MaxAttempts     int     `yaml:"max_attempts" split_words:"true" validate:"min=0"`
	DiagnosticLines int     `yaml:"diagnostic_lines" split_words:"true" validate:"min=1"`
	StuckRepeats    int     `yaml:"stuck_repeats" split_words:"true" validate:"min=2"`
	SizeTolerance   float64 `yaml:"size_tolerance" split_words:"true" validate:"gt=0"`
}

// OptimizeConfig configures the optimization loop and its acceptance rule
type OptimizeConfig struct {
	TargetMetric  string  `yaml:"target_metric" split_words:"true" validate:"oneof=return_pct sharpe"`
	TargetValue   float64 `yaml:"target_value" split_words:"true"`
	MaxAttempts   int     `yaml:"max_attempts" split_words:"true" validate:"min=0"`
	MinTrades     int     `yaml:"min_trades" split_words:"true" validate:"min=0"`
	DrawdownSlack float64 `yaml:"drawdown_slack" split_words:"true" validate:"gte=0"`
	PlateauK      int     `yaml:"plateau_k" split_words:"true" validate:"min=1"`
	RecentK       int     `yaml:"recent_k" split_words:"true" validate:"min=0"`
}

// HasTarget reports whether a finite target value was configured
func (o OptimizeConfig) HasTarget() bool {
	return !math.IsInf(o.TargetValue, 0) && !math.IsNaN(o.TargetValue)
}

// PipelineConfig configures the batch driver
type PipelineConfig struct {
	Workers      int           `yaml:"workers" split_words:"true" validate:"min=1,max=64"`
	RunTimeout   time.Duration `yaml:"run_timeout" split_words:"true" validate:"gt=0"`
	BatchTimeout time.Duration `yaml:"batch_timeout" split_words:"true" validate:"gte=0"`
}

// TelemetryConfig configures tracing, metrics and the monitoring server
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" split_words:"true"`
	TraceExporter  string `yaml:"trace_exporter" split_words:"true" validate:"oneof=none stdout"`
	MetricExporter string `yaml:"metric_exporter" split_words:"true" validate:"oneof=none prometheus"`
	Addr           string `yaml:"addr" split_words:"true"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. A .env file in the working
// directory is loaded first without overriding variables that are already set.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if configFile == "" {
		configFile = getConfigFilePath()
	}
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg; keys absent from the file keep their value
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.LLM.MaxBackoff < c.LLM.InitialBackoff {
		return fmt.Errorf("llm max_backoff %s is below initial_backoff %s", c.LLM.MaxBackoff, c.LLM.InitialBackoff)
	}
	if c.Ingest.MinBriefChars > c.Ingest.MaxBriefChars {
		return fmt.Errorf("ingest min_brief_chars %d exceeds max_brief_chars %d", c.Ingest.MinBriefChars, c.Ingest.MaxBriefChars)
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.FilePath == "" {
		return fmt.Errorf("logging output %q requires file_path", c.Logging.Output)
	}
	// +Inf means no target; any other non-finite value is a mistake
	if v := c.Optimize.TargetValue; math.IsNaN(v) || math.IsInf(v, -1) {
		return fmt.Errorf("optimize target_value must be finite or +Inf, got %v", v)
	}
	return nil
}

// OptimizeModel returns the model used for mutations, defaulting to the code model
func (c *Config) OptimizeModel() string {
	if c.LLM.OptimizeModel != "" {
		return c.LLM.OptimizeModel
	}
	return c.LLM.CodeModel
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"rbi.yaml",
		"configs/rbi.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/rbi.log",
		},
		Paths: PathsConfig{
			OutDir:   "runs",
			DataFile: "data/BTC-USD-15m.csv",
		},
		LLM: LLMConfig{
			ResearchModel:     "deepseek-chat",
			CodeModel:         "deepseek-chat",
			MaxRetries:        3,
			CallTimeout:       60 * time.Second,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			TokenBudget:       400000,
			MaxTokens:         8192,
			RequestsPerSecond: 1,
			Burst:             2,
			OllamaURL:         "http://localhost:11434",
		},
		Runner: RunnerConfig{
			Interpreter:    "python3",
			Timeout:        120 * time.Second,
			MemoryLimitMB:  2048,
			StderrTailKB:   16,
			StdoutLimitKB:  1024,
			IsolateNetwork: true,
		},
		Ingest: IngestConfig{
			MaxBriefChars: 40000,
			MinBriefChars: 200,
			FetchTimeout:  30 * time.Second,
			UserAgent:     "rbi/1.0 (+https://github.com/vttilv/moon-dev-ai-agents-sub002)",
		},
		Research: ResearchConfig{
			MaxRetries: 2,
		},
		Debug: DebugConfig{
			MaxAttempts:     8,
			DiagnosticLines: 40,
			StuckRepeats:    3,
			SizeTolerance:   0.5,
		},
		Optimize: OptimizeConfig{
			TargetMetric:  "return_pct",
			TargetValue:   math.Inf(1),
			MaxAttempts:   15,
			MinTrades:     20,
			DrawdownSlack: 5,
			PlateauK:      5,
			RecentK:       3,
		},
		Pipeline: PipelineConfig{
			Workers:    1,
			RunTimeout: 30 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
	}
}
