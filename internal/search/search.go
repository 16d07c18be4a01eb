// Package search implements the bounded propose, check, execute and decide
// loop shared by the debug and optimization stages. The stages differ only
// in how they build proposals and which executed candidates they accept.
package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/runner"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Executor runs program versions; *runner.Runner implements it
type Executor interface {
	Run(ctx context.Context, req runner.Request) domain.Attempt
	CheckSyntax(ctx context.Context, source string) error
}

// Store persists program versions and their attempts; *artifacts.Run implements it
type Store interface {
	Dir() string
	WriteProgram(stage domain.Stage, index int, source string) (domain.Program, error)
	WriteRejected(stage domain.Stage, index int, source, reason string) error
	WriteAttempt(att domain.Attempt, accepted bool) error
}

// Reason is why a loop stopped
type Reason string

const (
	// ReasonSatisfied means the goal was reached
	ReasonSatisfied Reason = "satisfied"
	// ReasonHalted means a stop rule ended the loop early
	ReasonHalted Reason = "halted"
	// ReasonExhausted means every attempt was used
	ReasonExhausted Reason = "exhausted"
	// ReasonFailed means a proposal or store failure ended the loop
	ReasonFailed Reason = "failed"
)

// Candidate is one executed program version
type Candidate struct {
	Index   int
	Program domain.Program
	Attempt domain.Attempt
}

// Metric returns the candidate's value for m, nil when unknown
func (c *Candidate) Metric(m domain.TargetMetric) *float64 {
	if c == nil || !c.Attempt.Clean() {
		return nil
	}
	return c.Attempt.Stats.Metric(m)
}

// Rejection is a proposal that failed the pre-execution checks
type Rejection struct {
	Index  int
	Source string
	Reason string
}

// State is everything a loop knows between attempts
type State struct {
	// Latest is the most recently executed candidate
	Latest *Candidate
	// Best is the most recently accepted candidate
	Best *Candidate
	// History holds executed candidates in execution order
	History    []Candidate
	Rejections []Rejection
	// Attempts counts proposals consumed, executed or rejected
	Attempts int
	// SinceImprovement counts consumed proposals since the last acceptance
	SinceImprovement int
	// Accepted counts accepted candidates
	Accepted int
}

// Recent returns up to k of the latest executed candidates, oldest first
func (s *State) Recent(k int) []Candidate {
	if k <= 0 || len(s.History) == 0 {
		return nil
	}
	if k > len(s.History) {
		k = len(s.History)
	}
	return s.History[len(s.History)-k:]
}

// Result is the final state of a loop
type Result struct {
	State
	Reason Reason
	// Detail names the stop rule for ReasonHalted
	Detail string
	Err    error
}

// Loop is a bounded search over program versions
type Loop struct {
	Stage       domain.Stage
	MaxAttempts int
	Executor    Executor
	Store       Store
	Logger      *slog.Logger

	// Propose asks for the next program source
	Propose func(ctx context.Context, st *State) (string, error)
	// Check validates a proposal before it is executed; CheckSyntax always runs first
	Check func(st *State, source string) error
	// Accept decides whether an executed candidate replaces Best
	Accept func(st *State, c Candidate) bool
	// Satisfied reports that the goal is reached
	Satisfied func(st *State) bool
	// Halt reports an early stop and its name
	Halt func(st *State) (string, bool)

	Hooks
}

// Hooks observe a loop's progress
type Hooks struct {
	OnAttempt func(c Candidate, accepted bool)
	OnReject  func(r Rejection)
}

// Run iterates until the goal is reached, a stop rule fires or MaxAttempts
// proposals have been consumed. Proposal indexes continue from st.Attempts.
// Any Propose error ends the loop with ReasonFailed and is returned in Result.Err.
func (l *Loop) Run(ctx context.Context, st *State) Result {
	logger := l.logger()
	finish := func(reason Reason, detail string, err error) Result {
		logger.InfoContext(ctx, "Search finished",
			slog.String("stage", string(l.Stage)),
			slog.String("reason", string(reason)),
			slog.String("detail", detail),
			slog.Int("attempts", st.Attempts),
			slog.Int("accepted", st.Accepted))
		return Result{State: *st, Reason: reason, Detail: detail, Err: err}
	}

	for {
		if l.Satisfied != nil && l.Satisfied(st) {
			return finish(ReasonSatisfied, "", nil)
		}
		if l.Halt != nil {
			if detail, stop := l.Halt(st); stop {
				return finish(ReasonHalted, detail, nil)
			}
		}
		if st.Attempts >= l.MaxAttempts {
			return finish(ReasonExhausted, "", nil)
		}
		if err := errors.FromContext(ctx); err != nil {
			return finish(ReasonFailed, "", err)
		}

		st.Attempts++
		index := st.Attempts

		source, err := l.Propose(ctx, st)
		if err != nil {
			return finish(ReasonFailed, "", errors.InStage(l.Stage, err))
		}

		if reason := l.check(ctx, st, source); reason != "" {
			if err := l.Store.WriteRejected(l.Stage, index, source, reason); err != nil {
				return finish(ReasonFailed, "", err)
			}
			rej := Rejection{Index: index, Source: source, Reason: reason}
			st.Rejections = append(st.Rejections, rej)
			st.SinceImprovement++
			logger.InfoContext(ctx, "Proposal rejected",
				slog.String("stage", string(l.Stage)),
				slog.Int("attempt", index),
				slog.String("reason", reason))
			if l.OnReject != nil {
				l.OnReject(rej)
			}
			continue
		}

		prog, err := l.Store.WriteProgram(l.Stage, index, source)
		if err != nil {
			return finish(ReasonFailed, "", err)
		}
		if _, err := l.Evaluate(ctx, st, l.Stage, index, prog); err != nil {
			return finish(ReasonFailed, "", err)
		}
		if err := errors.FromContext(ctx); err != nil {
			return finish(ReasonFailed, "", err)
		}
	}
}

// Evaluate executes a stored program, applies Accept, records the attempt
// and folds the candidate into st.
func (l *Loop) Evaluate(ctx context.Context, st *State, stage domain.Stage, index int, prog domain.Program) (Candidate, error) {
	att := l.Executor.Run(ctx, runner.Request{
		Dir:     l.Store.Dir(),
		Program: prog.Path,
		Stage:   stage,
		Index:   index,
	})
	if att.Clean() {
		prog.Stats = att.Stats
	}
	c := Candidate{Index: index, Program: prog, Attempt: att}

	accepted := l.Accept != nil && l.Accept(st, c)
	if err := l.Store.WriteAttempt(att, accepted); err != nil {
		return c, err
	}

	st.History = append(st.History, c)
	st.Latest = &st.History[len(st.History)-1]
	if accepted {
		best := c
		st.Best = &best
		st.Accepted++
		st.SinceImprovement = 0
	} else {
		st.SinceImprovement++
	}

	l.logger().InfoContext(ctx, "Attempt evaluated",
		slog.String("stage", string(stage)),
		slog.Int("attempt", index),
		slog.String("outcome", string(att.Outcome)),
		slog.Bool("accepted", accepted),
		slog.String("signature", att.Signature))
	if l.OnAttempt != nil {
		l.OnAttempt(c, accepted)
	}
	return c, nil
}

func (l *Loop) check(ctx context.Context, st *State, source string) string {
	if err := l.Executor.CheckSyntax(ctx, source); err != nil {
		var syntaxErr *runner.SyntaxError
		if stderrors.As(err, &syntaxErr) {
			return err.Error()
		}
		// the runner reports an unusable interpreter when the program executes
		l.logger().WarnContext(ctx, "Syntax check unavailable",
			slog.String("stage", string(l.Stage)),
			slog.String("error", err.Error()))
	}
	if l.Check != nil {
		if err := l.Check(st, source); err != nil {
			return err.Error()
		}
	}
	return ""
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// SizeCheck rejects a proposal whose length differs from the reference by
// more than tolerance (0.5 allows 50% either way).
func SizeCheck(reference, proposal string, tolerance float64) error {
	if tolerance <= 0 || len(reference) == 0 {
		return nil
	}
	ratio := float64(len(proposal)) / float64(len(reference))
	if ratio < 1-tolerance || ratio > 1+tolerance {
		return fmt.Errorf("proposal is %d bytes, %.0f%% of the previous %d bytes (allowed %.0f%% to %.0f%%)",
			len(proposal), ratio*100, len(reference), (1-tolerance)*100, (1+tolerance)*100)
	}
	return nil
}
