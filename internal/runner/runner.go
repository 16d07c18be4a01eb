// Package runner executes generated backtest programs in a child process. It
// is the only place in the pipeline where model-written code runs.
//
// Each attempt gets a fresh interpreter with the run directory as its working
// directory, an environment built from an allow-list, a wall-clock timeout, a
// memory cap and, on Linux, a private network namespace when the kernel lets
// unprivileged users create one. The runner never returns an error: every
// execution, including one that could not start, produces an Attempt.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/config"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/stats"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// EnvDataPath is the variable generated programs read the historical data path from
const EnvDataPath = "RBI_DATA_PATH"

// waitDelay bounds how long Wait blocks on output pipes after the child is killed
const waitDelay = 2 * time.Second

// systemPath is the child's PATH, after the interpreter's own directory, when
// PATH is not in PassEnv
var systemPath = []string{"/usr/local/bin", "/usr/bin", "/bin"}

// Options configures a Runner
type Options struct {
	Interpreter    string
	Timeout        time.Duration
	MemoryLimitMB  int
	StdoutLimitKB  int
	StderrTailKB   int
	IsolateNetwork bool
	FrameworkPath  string
	DataPath       string
	PassEnv        []string
}

// OptionsFromConfig builds runner options from the runner section and the data file
func OptionsFromConfig(cfg config.RunnerConfig, dataPath string) Options {
	return Options{
		Interpreter:    cfg.Interpreter,
		Timeout:        cfg.Timeout,
		MemoryLimitMB:  cfg.MemoryLimitMB,
		StdoutLimitKB:  cfg.StdoutLimitKB,
		StderrTailKB:   cfg.StderrTailKB,
		IsolateNetwork: cfg.IsolateNetwork,
		FrameworkPath:  cfg.FrameworkPath,
		DataPath:       dataPath,
		PassEnv:        cfg.PassEnv,
	}
}

// Request names one program version to execute
type Request struct {
	Dir     string
	Program string
	Stage   domain.Stage
	Index   int
	// Timeout overrides Options.Timeout when positive
	Timeout time.Duration
}

// Runner executes programs. It holds no per-attempt state and may be shared
// by concurrent runs.
type Runner struct {
	opts    Options
	logger  *slog.Logger
	metrics *infrastructure.PipelineMetrics
}

// New creates a Runner. The interpreter is looked up on PATH and, like a
// relative data path, made absolute because children run inside their run
// directory.
func New(opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	if path, err := exec.LookPath(opts.Interpreter); err == nil {
		if abs, err := filepath.Abs(path); err == nil {
			opts.Interpreter = abs
		}
	} else {
		logger.Warn("Interpreter not found, attempts will fail to start",
			slog.String("interpreter", opts.Interpreter),
			slog.String("error", err.Error()))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.StdoutLimitKB <= 0 {
		opts.StdoutLimitKB = 1024
	}
	if opts.StderrTailKB <= 0 {
		opts.StderrTailKB = 16
	}
	if opts.DataPath != "" {
		if abs, err := filepath.Abs(opts.DataPath); err == nil {
			opts.DataPath = abs
		}
	}
	return &Runner{
		opts:    opts,
		logger:  infrastructure.WithComponent(logger, "runner"),
		metrics: infrastructure.MustPipelineMetrics(),
	}
}

// Options returns the effective options
func (r *Runner) Options() Options {
	return r.opts
}

// Run executes one program and classifies the result
func (r *Runner) Run(ctx context.Context, req Request) domain.Attempt {
	ctx, span := infrastructure.Tracer().Start(ctx, "runner.attempt", trace.WithAttributes(
		attribute.String("stage", string(req.Stage)),
		attribute.Int("index", req.Index),
		attribute.String("program", req.Program),
	))
	defer span.End()

	att := domain.Attempt{
		Stage:       req.Stage,
		Index:       req.Index,
		ProgramPath: req.Program,
		StartedAt:   time.Now().UTC(),
	}

	timeout := r.opts.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newTailBuffer(r.opts.StdoutLimitKB * 1024)
	stderr := newTailBuffer(r.opts.StderrTailKB * 1024)

	cmd, isolated, err := r.start(runCtx, req, stdout, stderr)
	if err != nil {
		att.Outcome = domain.OutcomeRuntimeError
		att.ExitCode = -1
		att.Stderr = fmt.Sprintf("failed to start %s: %v\n", r.opts.Interpreter, err)
		att.Signature = Signature(att)
		r.finish(ctx, span, &att)
		return att
	}

	if r.opts.MemoryLimitMB > 0 {
		if err := limitAddressSpace(cmd.Process.Pid, addressSpaceLimit(r.opts.MemoryLimitMB)); err != nil {
			r.logger.Debug("Address space limit not applied",
				slog.Int("pid", cmd.Process.Pid),
				slog.String("error", err.Error()))
		}
	}
	watch := startWatchdog(runCtx, cmd.Process.Pid, uint64(r.opts.MemoryLimitMB)*1024, func() {
		_ = killGroup(cmd)
	})

	waitErr := cmd.Wait()
	watch.stop()

	att.Duration = domain.Duration(time.Since(att.StartedAt))
	att.PeakRSSKB = watch.peakKB()
	att.Stdout = stdout.String()
	att.Stderr = stderr.String()
	att.Truncated = stdout.Truncated() || stderr.Truncated()
	att.ExitCode = exitCode(cmd, waitErr)

	switch {
	case runCtx.Err() != nil:
		att.Outcome = domain.OutcomeTimeout
		att.Killed = "timeout"
		if ctx.Err() != nil {
			att.Killed = "cancelled"
		}
	case watch.exceeded():
		att.Outcome = domain.OutcomeRuntimeError
		att.Killed = "memory"
		att.Stderr += fmt.Sprintf("\nMemoryError: resident set exceeded %d MB\n", r.opts.MemoryLimitMB)
	case waitErr != nil:
		att.Outcome = domain.OutcomeRuntimeError
	default:
		report, err := stats.Parse(att.Stdout)
		if err != nil {
			att.Outcome = domain.OutcomeParseFailure
		} else {
			att.Outcome = domain.OutcomeClean
			att.Stats = report
		}
	}
	if att.Outcome != domain.OutcomeClean {
		att.Signature = Signature(att)
	}

	span.SetAttributes(attribute.Bool("isolated", isolated))
	r.finish(ctx, span, &att)
	return att
}

func (r *Runner) finish(ctx context.Context, span trace.Span, att *domain.Attempt) {
	attrs := metric.WithAttributes(
		attribute.String("stage", string(att.Stage)),
		attribute.String("outcome", string(att.Outcome)),
	)
	r.metrics.AttemptsTotal.Add(ctx, 1, attrs)
	r.metrics.AttemptDuration.Record(ctx, time.Duration(att.Duration).Seconds(), attrs)

	span.SetAttributes(
		attribute.String("outcome", string(att.Outcome)),
		attribute.Int("exit_code", att.ExitCode),
	)
	if att.Outcome != domain.OutcomeClean {
		span.SetStatus(codes.Error, att.Signature)
	}

	r.logger.InfoContext(ctx, "Attempt finished",
		slog.String("stage", string(att.Stage)),
		slog.Int("attempt", att.Index),
		slog.String("program", att.ProgramPath),
		slog.String("outcome", string(att.Outcome)),
		slog.Int("exit_code", att.ExitCode),
		slog.Duration("duration", time.Duration(att.Duration)),
		slog.Uint64("peak_rss_kb", att.PeakRSSKB),
		slog.String("signature", att.Signature))
}

// start launches the child, dropping network isolation when the kernel
// refuses to create the namespaces.
func (r *Runner) start(ctx context.Context, req Request, stdout, stderr *tailBuffer) (*exec.Cmd, bool, error) {
	isolate := r.opts.IsolateNetwork && isolationSupported
	cmd := r.command(ctx, req, stdout, stderr, isolate)
	err := cmd.Start()
	if err != nil && isolate && isolationRefused(err) {
		r.logger.Warn("Network isolation unavailable, running without it",
			slog.String("error", err.Error()))
		isolate = false
		cmd = r.command(ctx, req, stdout, stderr, false)
		err = cmd.Start()
	}
	if err != nil {
		return nil, false, err
	}
	return cmd, isolate, nil
}

func (r *Runner) command(ctx context.Context, req Request, stdout, stderr *tailBuffer, isolate bool) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.opts.Interpreter, filepath.FromSlash(req.Program))
	cmd.Dir = req.Dir
	cmd.Env = r.environ(req.Dir)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = sysProcAttr(isolate)
	cmd.Cancel = func() error { return killGroup(cmd) }
	cmd.WaitDelay = waitDelay
	return cmd
}

// environ is the complete child environment. Nothing from the parent leaks
// through except the variables named in PassEnv.
func (r *Runner) environ(dir string) []string {
	env := []string{
		EnvDataPath + "=" + r.opts.DataPath,
		"HOME=" + dir,
		"PYTHONUNBUFFERED=1",
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
		"MPLBACKEND=Agg",
	}
	if r.opts.FrameworkPath != "" {
		env = append(env, "PYTHONPATH="+r.opts.FrameworkPath)
	}
	passPath := false
	for _, name := range r.opts.PassEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
			passPath = passPath || name == "PATH"
		}
	}
	if !passPath {
		env = append(env, "PATH="+r.childPath())
	}
	return env
}

// childPath lists the interpreter's directory ahead of the system directories
func (r *Runner) childPath() string {
	dirs := make([]string, 0, len(systemPath)+1)
	if filepath.IsAbs(r.opts.Interpreter) {
		dirs = append(dirs, filepath.Dir(r.opts.Interpreter))
	}
	for _, d := range systemPath {
		if !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return strings.Join(dirs, string(os.PathListSeparator))
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// addressSpaceLimit is twice the resident limit in bytes. numpy and BLAS
// reserve far more virtual memory than they touch, so the RSS watchdog
// enforces the real cap and RLIMIT_AS only stops runaway allocation.
func addressSpaceLimit(mb int) uint64 {
	return uint64(mb) * 2 * 1024 * 1024
}
