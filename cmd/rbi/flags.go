package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/config"
)

// RunFlags are the options of `rbi run`. Only flags given on the command
// line override the configuration.
type RunFlags struct {
	ConfigFile  string
	Progress    bool
	Serve       string
	SummaryXLSX bool

	TargetMetric  string        `validate:"omitempty,oneof=return_pct sharpe"`
	MaxDebug      int           `validate:"gte=0"`
	MaxOpt        int           `validate:"gte=0"`
	Workers       int           `validate:"gte=0,lte=64"`
	MinTrades     int           `validate:"gte=0"`
	DrawdownSlack float64       `validate:"gte=0"`
	RunTimeout    time.Duration `validate:"gte=0"`

	TargetValue   float64
	Data          string
	ModelResearch string
	ModelCode     string
	ModelOptimize string
	Out           string

	Refs []string `validate:"min=1,dive,required"`

	set map[string]bool
}

var validate = validator.New()

func newRunFlagSet(f *RunFlags, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: rbi run <ref> [<ref> ...] [flags]")
		fs.PrintDefaults()
	}

	fs.StringVar(&f.ConfigFile, "config", "", "YAML config file (default rbi.yaml or configs/rbi.yaml when present)")
	fs.BoolVar(&f.Progress, "progress", false, "print one JSON progress event per line on stderr")
	fs.StringVar(&f.Serve, "serve", "", "serve /metrics, /healthz, /runs and /events on this address while the batch runs")
	fs.BoolVar(&f.SummaryXLSX, "summary-xlsx", false, "also write summary.xlsx next to summary.csv")

	fs.StringVar(&f.TargetMetric, "target-metric", "", "metric the optimization loop climbs: return_pct or sharpe")
	fs.Float64Var(&f.TargetValue, "target-value", 0, "stop optimizing once the target metric reaches this value")
	fs.IntVar(&f.MaxDebug, "max-debug", 0, "maximum debug attempts per run")
	fs.IntVar(&f.MaxOpt, "max-opt", 0, "maximum optimization attempts per run")
	fs.StringVar(&f.Data, "data", "", "OHLCV CSV every generated program backtests on")
	fs.StringVar(&f.ModelResearch, "model-research", "", "model id for the research stage")
	fs.StringVar(&f.ModelCode, "model-code", "", "model id for synthesis and debugging")
	fs.StringVar(&f.ModelOptimize, "model-optimize", "", "model id for optimization (default: the code model)")
	fs.IntVar(&f.Workers, "workers", 0, "runs executed concurrently")
	fs.StringVar(&f.Out, "out", "", "directory that receives one directory per run")
	fs.IntVar(&f.MinTrades, "min-trades", 0, "minimum trade count for an optimized variant to be accepted")
	fs.Float64Var(&f.DrawdownSlack, "drawdown-slack", 0, "percentage points of extra drawdown an accepted variant may add")
	fs.DurationVar(&f.RunTimeout, "run-timeout", 0, "wall-clock limit per run")
	return fs
}

// parseRunFlags parses flags and refs in any order. Everything after "--" is
// a ref.
func parseRunFlags(args []string, stderr io.Writer) (*RunFlags, error) {
	f := &RunFlags{set: make(map[string]bool)}
	fs := newRunFlagSet(f, stderr)

	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			break
		}
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			f.Refs = append(f.Refs, rest...)
			break
		}
		f.Refs = append(f.Refs, rest[0])
		args = rest[1:]
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	refs, err := expandRefs(f.Refs)
	if err != nil {
		return nil, err
	}
	f.Refs = refs

	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if f.Serve != "" {
		if _, _, err := net.SplitHostPort(f.Serve); err != nil {
			return nil, fmt.Errorf("invalid --serve address %q: %w", f.Serve, err)
		}
	}
	return f, nil
}

// Apply overrides cfg with the flags given on the command line
func (f *RunFlags) Apply(cfg *config.Config) {
	if f.set["target-metric"] {
		cfg.Optimize.TargetMetric = f.TargetMetric
	}
	if f.set["target-value"] {
		cfg.Optimize.TargetValue = f.TargetValue
	}
	if f.set["max-debug"] {
		cfg.Debug.MaxAttempts = f.MaxDebug
	}
	if f.set["max-opt"] {
		cfg.Optimize.MaxAttempts = f.MaxOpt
	}
	if f.set["data"] {
		cfg.Paths.DataFile = f.Data
	}
	if f.set["model-research"] {
		cfg.LLM.ResearchModel = f.ModelResearch
	}
	if f.set["model-code"] {
		cfg.LLM.CodeModel = f.ModelCode
	}
	if f.set["model-optimize"] {
		cfg.LLM.OptimizeModel = f.ModelOptimize
	}
	if f.set["workers"] {
		cfg.Pipeline.Workers = f.Workers
	}
	if f.set["out"] {
		cfg.Paths.OutDir = f.Out
	}
	if f.set["min-trades"] {
		cfg.Optimize.MinTrades = f.MinTrades
	}
	if f.set["drawdown-slack"] {
		cfg.Optimize.DrawdownSlack = f.DrawdownSlack
	}
	if f.set["run-timeout"] {
		cfg.Pipeline.RunTimeout = f.RunTimeout
	}
	if f.Serve != "" {
		cfg.Telemetry.Addr = f.Serve
		cfg.Telemetry.Enabled = true
	}
}

// expandRefs replaces every @file ref with the refs listed in that file, one
// per line. Blank lines and lines starting with # are skipped.
func expandRefs(refs []string) ([]string, error) {
	var out []string
	for _, ref := range refs {
		path, ok := strings.CutPrefix(ref, "@")
		if !ok {
			out = append(out, ref)
			continue
		}
		listed, err := readRefFile(path)
		if err != nil {
			return nil, err
		}
		if len(listed) == 0 {
			return nil, fmt.Errorf("ref file %s lists no refs", path)
		}
		out = append(out, listed...)
	}
	return out, nil
}

func readRefFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ref file: %w", err)
	}
	defer file.Close()

	var refs []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ref file %s: %w", path, err)
	}
	return refs, nil
}
