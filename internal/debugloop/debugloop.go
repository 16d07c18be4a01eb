// Package debugloop repairs the draft program until one version runs clean.
// Every repair is a bounded search step: the model sees the failing source
// and a diagnostic, the reply is checked, stored and executed.
package debugloop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/llm"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/prompts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/runner"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/search"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// HaltStuck names the early stop on a repeating failure signature
const HaltStuck = "stuck"

// historyNotes caps the earlier failures listed in a repair prompt
const historyNotes = 5

// Options configures a Debugger
type Options struct {
	Model           string
	MaxAttempts     int
	DiagnosticLines int
	StuckRepeats    int
	SizeTolerance   float64
	// MaxSourceChars caps the program embedded in a prompt
	MaxSourceChars int
}

// Result describes a finished repair session
type Result struct {
	// Baseline is the first clean candidate; nil when the loop gave up
	Baseline *search.Candidate
	// Attempts counts repair proposals, not the draft execution
	Attempts   int
	History    []search.Candidate
	Rejections []search.Rejection
	Reason     search.Reason
	Detail     string
}

// Debugger runs the debug stage
type Debugger struct {
	client   llm.Client
	prompts  *prompts.Set
	executor search.Executor
	opts     Options
	logger   *slog.Logger
}

// New creates a Debugger
func New(client llm.Client, set *prompts.Set, executor search.Executor, opts Options, logger *slog.Logger) *Debugger {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DiagnosticLines <= 0 {
		opts.DiagnosticLines = 40
	}
	if opts.MaxSourceChars <= 0 {
		opts.MaxSourceChars = 60000
	}
	return &Debugger{
		client:   client,
		prompts:  set,
		executor: executor,
		opts:     opts,
		logger:   infrastructure.WithComponent(logger, "debug"),
	}
}

// Debug executes draft and repairs it until a version runs clean. A run
// that never gets clean returns a debug-exhausted error together with the
// result; gateway failures are returned as they are.
func (d *Debugger) Debug(ctx context.Context, draft domain.Program, store search.Store, hooks search.Hooks) (Result, error) {
	loop := &search.Loop{
		Stage:       domain.StageDebug,
		MaxAttempts: d.opts.MaxAttempts,
		Executor:    d.executor,
		Store:       store,
		Logger:      d.logger,
		Propose:     d.propose,
		Check: func(st *search.State, source string) error {
			return search.SizeCheck(st.Latest.Program.Source, source, d.opts.SizeTolerance)
		},
		Accept: func(_ *search.State, c search.Candidate) bool {
			return c.Attempt.Clean()
		},
		Satisfied: func(st *search.State) bool {
			return st.Best != nil
		},
		Halt:  d.stuck,
		Hooks: hooks,
	}

	st := &search.State{}
	if _, err := loop.Evaluate(ctx, st, domain.StageDraft, 0, draft); err != nil {
		return Result{}, errors.InStage(domain.StageDebug, err)
	}
	if err := errors.FromContext(ctx); err != nil {
		return d.result(search.Result{State: *st, Reason: search.ReasonFailed}), errors.InStage(domain.StageDebug, err)
	}

	res := loop.Run(ctx, st)
	out := d.result(res)
	switch res.Reason {
	case search.ReasonSatisfied:
		return out, nil
	case search.ReasonFailed:
		return out, res.Err
	}

	detail := "no clean run"
	if res.Reason == search.ReasonHalted {
		detail = fmt.Sprintf("failure signature repeated %d times", d.opts.StuckRepeats)
	}
	pe := errors.Newf(errors.KindDebugExhausted, "%s after %d repair attempts", detail, res.Attempts)
	pe.Stage = domain.StageDebug
	return out, pe
}

func (d *Debugger) result(res search.Result) Result {
	return Result{
		Baseline:   res.Best,
		Attempts:   res.Attempts,
		History:    res.History,
		Rejections: res.Rejections,
		Reason:     res.Reason,
		Detail:     res.Detail,
	}
}

// stuck fires when the last StuckRepeats executions failed with one signature
func (d *Debugger) stuck(st *search.State) (string, bool) {
	n := d.opts.StuckRepeats
	if n <= 1 || len(st.History) < n {
		return "", false
	}
	recent := st.History[len(st.History)-n:]
	sig := recent[0].Attempt.Signature
	if sig == "" {
		return "", false
	}
	for _, c := range recent {
		if c.Attempt.Clean() || c.Attempt.Signature != sig {
			return "", false
		}
	}
	return HaltStuck, true
}

func (d *Debugger) propose(ctx context.Context, st *search.State) (string, error) {
	current := st.Latest
	source := current.Program.Source

	data := prompts.DebugData{
		Source:     prompts.Truncate(source, d.opts.MaxSourceChars),
		Outcome:    string(current.Attempt.Outcome),
		ExitCode:   current.Attempt.ExitCode,
		Diagnostic: runner.Diagnostic(current.Attempt, d.opts.DiagnosticLines),
		Lines:      d.opts.DiagnosticLines,
	}
	if line, text, ok := runner.OffendingLine(current.Attempt, source); ok {
		data.Offending = &prompts.SourceLine{Line: line, Text: text}
	}
	earlier := st.History[:len(st.History)-1]
	if len(earlier) > historyNotes {
		earlier = earlier[len(earlier)-historyNotes:]
	}
	for _, c := range earlier {
		data.History = append(data.History, prompts.FailureNote{
			Index:     c.Index,
			Outcome:   string(c.Attempt.Outcome),
			Signature: c.Attempt.Signature,
		})
	}

	system, err := d.prompts.Render(prompts.DebugSystem, nil)
	if err != nil {
		return "", err
	}
	user, err := d.prompts.Render(prompts.DebugUser, data)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Chat(ctx, domain.StageDebug, d.opts.Model, system, user)
	if err != nil {
		return "", err
	}
	return prompts.ExtractCode(resp), nil
}
