// Package synthesis turns a strategy specification into the first program
// version of a run, draft/0.py.
package synthesis

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/llm"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/prompts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/runner"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// SyntaxChecker parses a program without running it; *runner.Runner implements it
type SyntaxChecker interface {
	CheckSyntax(ctx context.Context, source string) error
}

// Store persists program versions; *artifacts.Run implements it
type Store interface {
	WriteProgram(stage domain.Stage, index int, source string) (domain.Program, error)
}

// Options configures a Synthesizer
type Options struct {
	Model string
	// DataPath is baked into the prompt as the program's default data file
	DataPath string
}

// Draft is the stored first program
type Draft struct {
	Program domain.Program
	// Parseable is false when the program failed the syntax check twice;
	// the debug loop then repairs it like any other failure.
	Parseable bool
	Problem   string
	Tries     int
}

// Synthesizer runs the synthesis stage
type Synthesizer struct {
	client  llm.Client
	prompts *prompts.Set
	checker SyntaxChecker
	opts    Options
	logger  *slog.Logger
}

// New creates a Synthesizer
func New(client llm.Client, set *prompts.Set, checker SyntaxChecker, opts Options, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		client:  client,
		prompts: set,
		checker: checker,
		opts:    opts,
		logger:  infrastructure.WithComponent(logger, "synthesis"),
	}
}

// Synthesize generates the draft for spec and writes it to store. An
// unparseable first response is retried once with the parser's complaint.
func (s *Synthesizer) Synthesize(ctx context.Context, spec string, store Store) (Draft, error) {
	system, err := s.prompts.Render(prompts.SynthesisSystem, prompts.SynthesisSystemData{DataPath: s.opts.DataPath})
	if err != nil {
		return Draft{}, errors.InStage(domain.StageSynthesis, err)
	}
	user, err := s.prompts.Render(prompts.SynthesisUser, prompts.SynthesisData{Spec: spec})
	if err != nil {
		return Draft{}, errors.InStage(domain.StageSynthesis, err)
	}

	var source, problem string
	tries := 0
	for tries < 2 {
		tries++
		sys := system
		if problem != "" {
			correction, err := s.prompts.Render(prompts.SynthesisCorrection, prompts.SynthesisCorrectionData{Problem: problem})
			if err != nil {
				return Draft{}, errors.InStage(domain.StageSynthesis, err)
			}
			sys = system + "\n" + correction
		}

		resp, err := s.client.Chat(ctx, domain.StageSynthesis, s.opts.Model, sys, user)
		if err != nil {
			return Draft{}, errors.InStage(domain.StageSynthesis, err)
		}
		candidate := prompts.ExtractCode(resp)
		if strings.TrimSpace(candidate) != "" || source == "" {
			source = candidate
		}

		problem = s.check(ctx, candidate)
		if problem == "" {
			break
		}
		s.logger.WarnContext(ctx, "Draft unparseable",
			slog.Int("try", tries),
			slog.String("problem", problem))
	}

	if strings.TrimSpace(source) == "" {
		pe := errors.Newf(errors.KindSynthesis, "model returned no program after %d tries", tries)
		pe.Stage = domain.StageSynthesis
		return Draft{}, pe
	}

	prog, err := store.WriteProgram(domain.StageDraft, 0, source)
	if err != nil {
		return Draft{}, errors.InStage(domain.StageSynthesis, err)
	}
	s.logger.InfoContext(ctx, "Draft written",
		slog.String("path", prog.Path),
		slog.Bool("parseable", problem == ""),
		slog.Int("tries", tries))
	return Draft{Program: prog, Parseable: problem == "", Problem: problem, Tries: tries}, nil
}

// check returns the parser's complaint, or "" when the source parses or the
// parser could not be run
func (s *Synthesizer) check(ctx context.Context, source string) string {
	err := s.checker.CheckSyntax(ctx, source)
	if err == nil {
		return ""
	}
	var syntaxErr *runner.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return syntaxErr.Detail
	}
	s.logger.WarnContext(ctx, "Syntax check unavailable", slog.String("error", err.Error()))
	return ""
}
