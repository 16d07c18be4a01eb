package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Recorder persists call audit records; *artifacts.Run implements it
type Recorder interface {
	WriteLLMCall(call domain.LLMCall) error
}

// Session is the gateway as seen by one run: it enforces the run's token
// budget and records every call.
type Session struct {
	gw       *Gateway
	recorder Recorder
	budget   int
	logger   *slog.Logger
	onCall   func(domain.LLMCall)

	mu   sync.Mutex
	used int
	seq  int
}

// NewSession starts a per-run session. A zero budget is unlimited.
func (g *Gateway) NewSession(recorder Recorder, budget int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = g.logger
	}
	return &Session{gw: g, recorder: recorder, budget: budget, logger: logger}
}

// OnCall registers a hook invoked after each call is recorded
func (s *Session) OnCall(fn func(domain.LLMCall)) {
	s.onCall = fn
}

// Used returns the tokens consumed so far
func (s *Session) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Chat implements Client
func (s *Session) Chat(ctx context.Context, stage domain.Stage, model, system, prompt string) (string, error) {
	if err := errors.FromContext(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	var refused error
	if s.budget > 0 && s.used >= s.budget {
		refused = errors.Newf(errors.KindBudgetExhausted, "token budget of %d exhausted (%d used)", s.budget, s.used)
	}
	s.mu.Unlock()

	call := domain.LLMCall{
		Seq:         seq,
		Role:        string(stage),
		Model:       model,
		Temperature: TemperatureFor(stage),
		System:      system,
		Prompt:      prompt,
		StartedAt:   time.Now().UTC(),
	}
	if refused != nil {
		call.Outcome = CallOutcome(refused)
		call.Error = refused.Error()
		s.finish(ctx, stage, call)
		return "", refused
	}

	res, err := s.gw.Complete(ctx, model, Request{
		System:      system,
		Prompt:      prompt,
		Temperature: call.Temperature,
	})
	call.Duration = domain.Duration(time.Since(call.StartedAt))
	call.Provider = res.Provider
	call.Tries = res.Tries
	call.Attempts = res.Attempts
	call.Outcome = CallOutcome(err)
	if res.Model != "" {
		call.Model = res.Model
	}
	if err != nil {
		call.Error = err.Error()
	} else {
		call.Response = res.Text
		call.PromptTokens = res.PromptTokens
		call.CompletionTokens = res.CompletionTokens
		if call.PromptTokens+call.CompletionTokens == 0 {
			call.PromptTokens = estimateTokens(system) + estimateTokens(prompt)
			call.CompletionTokens = estimateTokens(res.Text)
		}
	}

	s.mu.Lock()
	s.used += call.PromptTokens + call.CompletionTokens
	s.mu.Unlock()

	s.finish(ctx, stage, call)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// finish records call and reports it to the hook and the log
func (s *Session) finish(ctx context.Context, stage domain.Stage, call domain.LLMCall) {
	if s.recorder != nil {
		if rerr := s.recorder.WriteLLMCall(call); rerr != nil {
			s.logger.ErrorContext(ctx, "Failed to record LLM call",
				slog.Int("seq", call.Seq),
				slog.String("error", rerr.Error()))
		}
	}
	if s.onCall != nil {
		s.onCall(call)
	}

	s.logger.InfoContext(ctx, "LLM call finished",
		slog.String("stage", string(stage)),
		slog.String("provider", call.Provider),
		slog.String("model", call.Model),
		slog.Int("seq", call.Seq),
		slog.Int("tries", call.Tries),
		slog.String("outcome", call.Outcome),
		slog.Int("prompt_tokens", call.PromptTokens),
		slog.Int("completion_tokens", call.CompletionTokens),
		slog.Duration("duration", time.Duration(call.Duration)),
		slog.String("error", call.Error))
}
