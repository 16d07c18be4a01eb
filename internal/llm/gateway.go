package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/config"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Options controls retry, timeout and rate limiting
type Options struct {
	MaxRetries        int
	CallTimeout       time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	MaxTokens         int
	RequestsPerSecond float64
	Burst             int
}

// OptionsFromConfig extracts gateway options from the LLM section
func OptionsFromConfig(cfg config.LLMConfig) Options {
	return Options{
		MaxRetries:        cfg.MaxRetries,
		CallTimeout:       cfg.CallTimeout,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		MaxTokens:         cfg.MaxTokens,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

// Result is a completed call with the details needed for its audit record
type Result struct {
	Response
	Provider string
	Model    string
	Tries    int
	Attempts []domain.LLMTry
}

// Gateway routes requests to providers. It is shared by all runs; budgets
// live in Session.
type Gateway struct {
	opts      Options
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	logger    *slog.Logger
	metrics   *infrastructure.PipelineMetrics
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a gateway over the given providers
func NewGateway(opts Options, logger *slog.Logger, providers ...Provider) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	g := &Gateway{
		opts:      opts,
		providers: make(map[string]Provider, len(providers)),
		limiters:  make(map[string]*rate.Limiter, len(providers)),
		logger:    infrastructure.WithComponent(logger, "llm"),
		metrics:   infrastructure.MustPipelineMetrics(),
		sleep:     sleepContext,
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
		limit, burst := rate.Inf, 1
		if opts.RequestsPerSecond > 0 {
			limit = rate.Limit(opts.RequestsPerSecond)
			burst = max(opts.Burst, 1)
		}
		g.limiters[p.Name()] = rate.NewLimiter(limit, burst)
	}
	return g
}

// Endpoints overrides provider base URLs, mainly for tests and proxies
type Endpoints map[string]string

// FromConfig wires a provider for every key that is present. Ollama needs no
// key and is registered whenever its URL is set; it is only reached through
// an explicit "ollama:" model id.
func FromConfig(cfg config.LLMConfig, keys Keys, endpoints Endpoints, client *http.Client, logger *slog.Logger) *Gateway {
	if client == nil {
		client = NewHTTPClient()
	}
	base := func(name, def string) string {
		if u, ok := endpoints[name]; ok && u != "" {
			return u
		}
		return def
	}

	var providers []Provider
	if keys.OpenAI != "" {
		providers = append(providers, NewOpenAICompatible(ProviderOpenAI, base(ProviderOpenAI, OpenAIBaseURL), keys.OpenAI, client))
	}
	if keys.DeepSeek != "" {
		providers = append(providers, NewOpenAICompatible(ProviderDeepSeek, base(ProviderDeepSeek, DeepSeekBaseURL), keys.DeepSeek, client))
	}
	if keys.Groq != "" {
		providers = append(providers, NewOpenAICompatible(ProviderGroq, base(ProviderGroq, GroqBaseURL), keys.Groq, client))
	}
	if keys.OpenRouter != "" {
		providers = append(providers, NewOpenAICompatible(ProviderOpenRouter, base(ProviderOpenRouter, OpenRouterBaseURL), keys.OpenRouter, client))
	}
	if keys.Anthropic != "" {
		providers = append(providers, NewAnthropic(base(ProviderAnthropic, AnthropicBaseURL), keys.Anthropic, client))
	}
	if key := keys.GeminiKey(); key != "" {
		providers = append(providers, NewGemini(base(ProviderGemini, GeminiBaseURL), key, client))
	}
	if u := base(ProviderOllama, cfg.OllamaURL); u != "" {
		providers = append(providers, NewOpenAICompatible(ProviderOllama, strings.TrimRight(u, "/")+"/v1", "", client))
	}
	return NewGateway(OptionsFromConfig(cfg), logger, providers...)
}

// Providers lists the registered provider names
func (g *Gateway) Providers() []string {
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	return names
}

// Route resolves a model id to a registered provider
func (g *Gateway) Route(model string) (Provider, string, error) {
	name, remote, ok := ParseModel(model)
	if !ok {
		return nil, "", errors.Wrap(errors.KindLLMExhausted,
			errors.Newf(errors.KindLLMNoProvider, "cannot infer a provider for model %q", model),
			"no provider")
	}
	p, ok := g.providers[name]
	if !ok {
		return nil, "", errors.Wrap(errors.KindLLMExhausted,
			errors.Newf(errors.KindLLMNoProvider, "provider %s for model %q has no API key configured", name, model),
			"no provider")
	}
	return p, remote, nil
}

// Complete routes and executes req, retrying transient failures. An attempt
// that is in flight when ctx ends is not interrupted: the gateway returns at
// once and the late response is discarded.
func (g *Gateway) Complete(ctx context.Context, model string, req Request) (Result, error) {
	p, remote, err := g.Route(model)
	if err != nil {
		return Result{Model: model}, err
	}
	req.Model = remote
	if req.MaxTokens <= 0 {
		req.MaxTokens = g.opts.MaxTokens
	}
	res := Result{Provider: p.Name(), Model: remote}

	ctx, span := infrastructure.Tracer().Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("provider", p.Name()),
		attribute.String("model", remote),
	))
	defer span.End()

	var lastErr error
	for try := 1; try <= g.opts.MaxRetries; try++ {
		res.Tries = try
		if err := g.limiters[p.Name()].Wait(ctx); err != nil {
			return res, g.interrupted(ctx, err)
		}

		start := time.Now()
		resp, err := g.attempt(ctx, p, req)
		if err == nil {
			res.Response = resp
			res.Attempts = append(res.Attempts, newTry(try, start, nil))
			g.record(ctx, p.Name(), domain.CallOK, resp)
			return res, nil
		}
		if cerr := errors.FromContext(ctx); cerr != nil {
			res.Attempts = append(res.Attempts, newTry(try, start, cerr))
			g.record(ctx, p.Name(), domain.CallDropped, Response{})
			span.SetStatus(codes.Error, "interrupted")
			return res, cerr
		}
		lastErr = err
		res.Attempts = append(res.Attempts, newTry(try, start, err))
		g.record(ctx, p.Name(), CallOutcome(err), Response{})
		if !errors.IsRetryable(err) {
			break
		}
		g.logger.WarnContext(ctx, "LLM call failed, retrying",
			slog.String("provider", p.Name()),
			slog.String("model", remote),
			slog.Int("try", try),
			slog.String("outcome", CallOutcome(err)),
			slog.String("error", err.Error()))
		if try < g.opts.MaxRetries {
			if err := g.sleep(ctx, g.backoff(try)); err != nil {
				return res, g.interrupted(ctx, err)
			}
		}
	}

	span.SetStatus(codes.Error, lastErr.Error())
	return res, errors.Wrap(errors.KindLLMExhausted, lastErr,
		fmt.Sprintf("%s gave up after %d tries", p.Name(), res.Tries))
}

// attempt runs one provider call detached from ctx cancellation, bounded by
// CallTimeout, and stops waiting when ctx ends.
func (g *Gateway) attempt(ctx context.Context, p Provider, req Request) (Response, error) {
	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.CallTimeout)
		defer cancel()
		resp, err := p.Complete(callCtx, req)
		if err != nil && callCtx.Err() != nil {
			err = errors.Retryable(errors.KindLLMTransport, err, fmt.Sprintf("call timed out after %s", g.opts.CallTimeout))
		}
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// CallOutcome names what a provider round-trip, or a whole gateway call,
// ended with. Wrapped errors are classified by the most specific kind in the chain.
func CallOutcome(err error) string {
	switch {
	case err == nil:
		return domain.CallOK
	case errors.InChain(err, errors.KindLLMNoProvider):
		return domain.CallNoProvider
	case errors.InChain(err, errors.KindBudgetExhausted):
		return domain.CallBudgetExceeded
	case errors.InChain(err, errors.KindCancelled), errors.InChain(err, errors.KindRunTimeout):
		return domain.CallDropped
	case errors.InChain(err, errors.KindLLMRateLimited):
		return domain.CallRateLimited
	case errors.InChain(err, errors.KindLLMContentEmpty):
		return domain.CallContentEmpty
	case errors.InChain(err, errors.KindLLMTransport):
		return domain.CallTransportError
	}
	return domain.CallRejected
}

func newTry(try int, start time.Time, err error) domain.LLMTry {
	t := domain.LLMTry{Try: try, Outcome: CallOutcome(err), Duration: domain.Duration(time.Since(start))}
	if err != nil {
		t.Error = err.Error()
	}
	return t
}

func (g *Gateway) interrupted(ctx context.Context, err error) error {
	if cerr := errors.FromContext(ctx); cerr != nil {
		return cerr
	}
	return errors.Wrap(errors.KindInternal, err, "rate limiter")
}

func (g *Gateway) backoff(try int) time.Duration {
	d := g.opts.InitialBackoff << (try - 1)
	if g.opts.MaxBackoff > 0 && (d > g.opts.MaxBackoff || d <= 0) {
		d = g.opts.MaxBackoff
	}
	return d
}

func (g *Gateway) record(ctx context.Context, provider, outcome string, resp Response) {
	g.metrics.LLMCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
	if n := resp.PromptTokens + resp.CompletionTokens; n > 0 {
		g.metrics.LLMTokensTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("provider", provider)))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
