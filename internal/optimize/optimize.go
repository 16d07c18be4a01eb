// Package optimize climbs a target metric by asking for one mutation at a
// time of the best program so far and keeping only improvements that pass
// the acceptance rule.
package optimize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/llm"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/prompts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/search"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/stats"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Exit reasons recorded in the optimization summary
const (
	ExitTargetReached = "target-reached"
	ExitPlateau       = "plateau"
	ExitExhausted     = "exhausted"
	ExitFailed        = "failed"
)

// Options configures an Optimizer
type Options struct {
	Model string
	Rule
	// Target stops the loop once the best metric reaches it; nil or +Inf runs the full budget
	Target      *float64
	MaxAttempts int
	PlateauK    int
	RecentK     int
	// MaxSourceChars caps each program embedded in a prompt
	MaxSourceChars int
}

// HasTarget reports whether a finite target is set
func (o Options) HasTarget() bool {
	return o.Target != nil && !math.IsInf(*o.Target, 0) && !math.IsNaN(*o.Target)
}

// Variant is one proposal and what became of it
type Variant struct {
	Index    int            `json:"index"`
	Path     string         `json:"path"`
	Outcome  domain.Outcome `json:"outcome,omitempty"`
	Metric   *float64       `json:"metric,omitempty"`
	Verdict  string         `json:"verdict"`
	Accepted bool           `json:"accepted"`
}

// Result is the outcome of an optimization session
type Result struct {
	Baseline search.Candidate
	// Best is the accepted candidate with the highest metric, or the baseline
	Best     search.Candidate
	Variants []Variant
	Summary  domain.OptimizationSummary
	Reason   search.Reason
	Detail   string
}

// Optimizer runs the optimization stage
type Optimizer struct {
	client   llm.Client
	prompts  *prompts.Set
	executor search.Executor
	opts     Options
	logger   *slog.Logger
}

// New creates an Optimizer
func New(client llm.Client, set *prompts.Set, executor search.Executor, opts Options, logger *slog.Logger) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Metric == "" {
		opts.Metric = domain.TargetReturnPct
	}
	if opts.RecentK < 0 {
		opts.RecentK = 0
	}
	if opts.MaxSourceChars <= 0 {
		opts.MaxSourceChars = 30000
	}
	return &Optimizer{
		client:   client,
		prompts:  set,
		executor: executor,
		opts:     opts,
		logger:   infrastructure.WithComponent(logger, "optimize"),
	}
}

// session holds the per-run verdicts; an Optimizer may serve many runs
type session struct {
	*Optimizer
	baseline search.Candidate
	verdicts map[int]string
	variants []Variant
}

// Optimize mutates baseline until the target is reached, the loop plateaus
// or the attempt budget is spent. The best program found so far is always
// returned. When no variant was accepted after the full budget the error is
// optimize-exhausted; gateway failures are returned as they are.
func (o *Optimizer) Optimize(ctx context.Context, baseline search.Candidate, store search.Store, hooks search.Hooks) (Result, error) {
	s := &session{Optimizer: o, baseline: baseline, verdicts: make(map[int]string)}

	userReject := hooks.OnReject
	userAttempt := hooks.OnAttempt
	loop := &search.Loop{
		Stage:       domain.StageOptimize,
		MaxAttempts: o.opts.MaxAttempts,
		Executor:    o.executor,
		Store:       store,
		Logger:      o.logger,
		Propose:     s.propose,
		Check:       s.check,
		Accept:      s.accept,
		Satisfied:   s.targetReached,
		Halt: func(st *search.State) (string, bool) {
			return ExitPlateau, o.opts.PlateauK > 0 && st.SinceImprovement >= o.opts.PlateauK
		},
		Hooks: search.Hooks{
			OnAttempt: func(c search.Candidate, accepted bool) {
				s.variants = append(s.variants, Variant{
					Index:    c.Index,
					Path:     c.Program.Path,
					Outcome:  c.Attempt.Outcome,
					Metric:   c.Metric(o.opts.Metric),
					Verdict:  s.verdicts[c.Index],
					Accepted: accepted,
				})
				if userAttempt != nil {
					userAttempt(c, accepted)
				}
			},
			OnReject: func(r search.Rejection) {
				s.variants = append(s.variants, Variant{
					Index:   r.Index,
					Path:    fmt.Sprintf("%s/%d.rejected.py", domain.StageOptimize.Dir(), r.Index),
					Verdict: "rejected: " + r.Reason,
				})
				if userReject != nil {
					userReject(r)
				}
			},
		},
	}

	best := baseline
	st := &search.State{Best: &best}
	res := loop.Run(ctx, st)

	exit := ExitExhausted
	switch res.Reason {
	case search.ReasonSatisfied:
		exit = ExitTargetReached
	case search.ReasonHalted:
		exit = res.Detail
	case search.ReasonFailed:
		exit = ExitFailed
	}

	out := Result{
		Baseline: baseline,
		Best:     *res.Best,
		Variants: s.variants,
		Reason:   res.Reason,
		Detail:   res.Detail,
	}
	out.Summary = Summarize(o.opts.Metric, baseline, res, exit)

	o.logger.InfoContext(ctx, "Optimization finished",
		slog.String("exit", exit),
		slog.Int("attempts", res.Attempts),
		slog.Int("accepted", out.Summary.Accepted),
		slog.String("best", out.Best.Program.Path))

	if res.Reason == search.ReasonFailed {
		return out, res.Err
	}
	if res.Reason == search.ReasonExhausted && out.Summary.Accepted == 0 && res.Attempts > 0 {
		pe := errors.Newf(errors.KindOptimizeExhausted, "no variant accepted in %d attempts", res.Attempts)
		pe.Stage = domain.StageOptimize
		return out, pe
	}
	return out, nil
}

func (s *session) targetReached(st *search.State) bool {
	if !s.opts.HasTarget() {
		return false
	}
	v := st.Best.Metric(s.opts.Metric)
	return v != nil && *v >= *s.opts.Target
}

func (s *session) accept(st *search.State, c search.Candidate) bool {
	verdict := VerdictFailed
	if c.Attempt.Clean() {
		verdict = s.opts.Judge(s.baseline.Attempt.Stats, st.Best.Attempt.Stats, c.Attempt.Stats)
	}
	s.verdicts[c.Index] = verdict
	return verdict == VerdictAccepted
}

func (s *session) check(st *search.State, source string) error {
	if strings.TrimSpace(source) == strings.TrimSpace(st.Best.Program.Source) {
		return fmt.Errorf("proposal is identical to the best program")
	}
	return nil
}

func (s *session) propose(ctx context.Context, st *search.State) (string, error) {
	metricName := metricName(s.opts.Metric)
	limit := "the baseline's"
	if l, ok := s.opts.DrawdownLimit(s.baseline.Attempt.Stats); ok {
		limit = strconv.FormatFloat(l, 'f', 2, 64) + "%"
	}
	system, err := s.prompts.Render(prompts.OptimizeSystem, prompts.OptimizeSystemData{
		MetricName:    metricName,
		MinTrades:     s.opts.MinTrades,
		DrawdownLimit: limit,
	})
	if err != nil {
		return "", err
	}

	data := prompts.OptimizeData{
		MetricName: metricName,
		BestMetric: formatMetric(st.Best.Metric(s.opts.Metric)),
		Best: prompts.ProgramView{
			Source: prompts.Truncate(st.Best.Program.Source, s.opts.MaxSourceChars),
			Stats:  strings.TrimSpace(stats.Render(st.Best.Attempt.Stats)),
		},
	}
	for _, c := range st.Recent(s.opts.RecentK) {
		data.Recent = append(data.Recent, prompts.VariantView{
			Index:   c.Index,
			Outcome: string(c.Attempt.Outcome),
			Verdict: s.verdicts[c.Index],
			Stats:   strings.TrimSpace(stats.Render(c.Attempt.Stats)),
			Source:  prompts.Truncate(c.Program.Source, s.opts.MaxSourceChars/2),
		})
	}
	user, err := s.prompts.Render(prompts.OptimizeUser, data)
	if err != nil {
		return "", err
	}

	resp, err := s.client.Chat(ctx, domain.StageOptimize, s.opts.Model, system, user)
	if err != nil {
		return "", err
	}
	return prompts.ExtractCode(resp), nil
}

func metricName(m domain.TargetMetric) string {
	if m == domain.TargetSharpe {
		return stats.NameSharpe
	}
	return stats.NameReturn
}

func formatMetric(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
