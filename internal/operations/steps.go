package operations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/debugloop"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/optimize"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/prompts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/research"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/search"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/synthesis"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// BaseStep provides the identity shared by every step
type BaseStep struct {
	id           domain.Stage
	name         string
	dependencies []domain.Stage
	logger       *slog.Logger
}

// NewBaseStep creates a BaseStep
func NewBaseStep(id domain.Stage, name string, logger *slog.Logger, dependencies ...domain.Stage) BaseStep {
	if logger == nil {
		logger = slog.Default()
	}
	return BaseStep{id: id, name: name, dependencies: dependencies, logger: logger}
}

// ID returns the stage
func (b *BaseStep) ID() domain.Stage { return b.id }

// Name returns the human-readable name
func (b *BaseStep) Name() string { return b.name }

// GetDependencies returns the stages this step waits for
func (b *BaseStep) GetDependencies() []domain.Stage { return b.dependencies }

// IngestStep normalises the source reference into brief.txt
type IngestStep struct {
	BaseStep
	ingestor Ingestor
}

// NewIngestStep creates the ingestion step
func NewIngestStep(ingestor Ingestor, logger *slog.Logger) *IngestStep {
	return &IngestStep{
		BaseStep: NewBaseStep(domain.StageIngest, StageNameIngest, logger),
		ingestor: ingestor,
	}
}

// Validate implements Step
func (s *IngestStep) Validate(state *RunState) error {
	if state.SourceRef == "" {
		return errors.Newf(errors.KindIngestEmpty, "empty source reference")
	}
	return nil
}

// Execute implements Step
func (s *IngestStep) Execute(ctx context.Context, state *RunState) error {
	brief, err := s.ingestor.Ingest(ctx, state.SourceRef)
	if err != nil {
		return err
	}
	if _, err := state.Run.WriteText(BriefFile, brief.Render(), artifacts.KindBrief, domain.StageIngest); err != nil {
		return err
	}
	state.Brief = &brief
	return nil
}

// ResearchStep turns the brief into spec.txt
type ResearchStep struct {
	BaseStep
	prompts *prompts.Set
	opts    research.Options
}

// NewResearchStep creates the research step
func NewResearchStep(set *prompts.Set, opts research.Options, logger *slog.Logger) *ResearchStep {
	return &ResearchStep{
		BaseStep: NewBaseStep(domain.StageResearch, StageNameResearch, logger, domain.StageIngest),
		prompts:  set,
		opts:     opts,
	}
}

// Validate implements Step
func (s *ResearchStep) Validate(state *RunState) error {
	if state.Brief == nil {
		return fmt.Errorf("no source brief")
	}
	return nil
}

// Execute implements Step
func (s *ResearchStep) Execute(ctx context.Context, state *RunState) error {
	spec, err := research.New(state.Client, s.prompts, s.opts, s.logger).Research(ctx, state.Brief.Text)
	if err != nil {
		return err
	}
	if _, err := state.Run.WriteText(SpecFile, spec, artifacts.KindSpec, domain.StageResearch); err != nil {
		return err
	}
	state.Spec = spec
	return nil
}

// SynthesisStep writes draft/0.py from the strategy spec
type SynthesisStep struct {
	BaseStep
	prompts  *prompts.Set
	executor search.Executor
	opts     synthesis.Options
}

// NewSynthesisStep creates the synthesis step
func NewSynthesisStep(set *prompts.Set, executor search.Executor, opts synthesis.Options, logger *slog.Logger) *SynthesisStep {
	return &SynthesisStep{
		BaseStep: NewBaseStep(domain.StageSynthesis, StageNameSynthesis, logger, domain.StageResearch),
		prompts:  set,
		executor: executor,
		opts:     opts,
	}
}

// Validate implements Step
func (s *SynthesisStep) Validate(state *RunState) error {
	if state.Spec == "" {
		return fmt.Errorf("no strategy spec")
	}
	return nil
}

// Execute implements Step
func (s *SynthesisStep) Execute(ctx context.Context, state *RunState) error {
	draft, err := synthesis.New(state.Client, s.prompts, s.executor, s.opts, s.logger).Synthesize(ctx, state.Spec, state.Run)
	if err != nil {
		return err
	}
	state.Draft = &draft
	return nil
}

// DebugStep repairs the draft until it runs clean; the clean program is the
// run's baseline
type DebugStep struct {
	BaseStep
	prompts  *prompts.Set
	executor search.Executor
	opts     debugloop.Options
}

// NewDebugStep creates the debug step
func NewDebugStep(set *prompts.Set, executor search.Executor, opts debugloop.Options, logger *slog.Logger) *DebugStep {
	return &DebugStep{
		BaseStep: NewBaseStep(domain.StageDebug, StageNameDebug, logger, domain.StageSynthesis),
		prompts:  set,
		executor: executor,
		opts:     opts,
	}
}

// Validate implements Step
func (s *DebugStep) Validate(state *RunState) error {
	if state.Draft == nil {
		return fmt.Errorf("no draft program")
	}
	return nil
}

// Execute implements Step
func (s *DebugStep) Execute(ctx context.Context, state *RunState) error {
	debugger := debugloop.New(state.Client, s.prompts, s.executor, s.opts, s.logger)
	res, err := debugger.Debug(ctx, state.Draft.Program, state.Run, state.Hooks)
	state.Debug = &res
	if err != nil {
		return err
	}

	baseline := *res.Baseline
	state.Baseline = &baseline
	prog := baseline.Program
	state.Run.Update(func(m *artifacts.Manifest) {
		m.Baseline = &prog
		m.Best = &prog
	})
	return nil
}

// OptimizeStep climbs the target metric from the baseline
type OptimizeStep struct {
	BaseStep
	prompts  *prompts.Set
	executor search.Executor
	opts     optimize.Options
}

// NewOptimizeStep creates the optimization step
func NewOptimizeStep(set *prompts.Set, executor search.Executor, opts optimize.Options, logger *slog.Logger) *OptimizeStep {
	return &OptimizeStep{
		BaseStep: NewBaseStep(domain.StageOptimize, StageNameOptimize, logger, domain.StageDebug),
		prompts:  set,
		executor: executor,
		opts:     opts,
	}
}

// Validate implements Step
func (s *OptimizeStep) Validate(state *RunState) error {
	if state.Baseline == nil {
		return fmt.Errorf("no baseline program")
	}
	return nil
}

// Execute implements Step. The best program found is recorded even when the
// loop fails, so a budget or timeout failure still finalizes best-so-far.
func (s *OptimizeStep) Execute(ctx context.Context, state *RunState) error {
	optimizer := optimize.New(state.Client, s.prompts, s.executor, s.opts, s.logger)
	res, err := optimizer.Optimize(ctx, *state.Baseline, state.Run, state.Hooks)
	state.Optimize = &res

	best := res.Best.Program
	history := make([]artifacts.MetricPoint, 0, len(res.Variants))
	for _, v := range res.Variants {
		history = append(history, artifacts.MetricPoint{Index: v.Index, Value: v.Metric, Accepted: v.Accepted})
	}
	summary := res.Summary
	state.Run.Update(func(m *artifacts.Manifest) {
		if best.Path != "" {
			m.Best = &best
		}
		m.MetricHistory = history
		m.Optimization = &summary
	})
	return err
}

// DefaultSteps returns the five pipeline steps wired to deps
func DefaultSteps(deps Dependencies, cfg *Config, logger *slog.Logger) []Step {
	return []Step{
		NewIngestStep(deps.Ingestor, logger),
		NewResearchStep(deps.Prompts, cfg.Research, logger),
		NewSynthesisStep(deps.Prompts, deps.Executor, cfg.Synthesis, logger),
		NewDebugStep(deps.Prompts, deps.Executor, cfg.Debug, logger),
		NewOptimizeStep(deps.Prompts, deps.Executor, cfg.Optimize, logger),
	}
}
