package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/prompts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/search"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Dependencies are the collaborators shared by every run
type Dependencies struct {
	Store    *artifacts.Store
	Ingestor Ingestor
	Executor search.Executor
	Prompts  *prompts.Set
	Clients  ClientFactory
}

// Manager orchestrates the execution of single runs
type Manager struct {
	registry    *Registry
	config      *Config
	deps        Dependencies
	broadcaster *StatusBroadcaster
	tracer      *RunTracer
	logger      *slog.Logger

	// Active runs
	mu   sync.RWMutex
	runs map[string]*RunState
}

// NewManager creates a manager with the default five steps registered
func NewManager(deps Dependencies, config *Config, broadcaster *StatusBroadcaster, logger *slog.Logger) *Manager {
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if broadcaster == nil {
		broadcaster = NewStatusBroadcaster(logger)
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.Default()
	}

	m := &Manager{
		registry:    NewRegistry(),
		config:      config,
		deps:        deps,
		broadcaster: broadcaster,
		tracer:      NewRunTracer(),
		logger:      infrastructure.WithComponent(logger, "coordinator"),
		runs:        make(map[string]*RunState),
	}
	for _, step := range DefaultSteps(deps, config, logger) {
		// the default steps have distinct ids and valid dependencies
		_ = m.registry.Register(step)
	}
	return m
}

// GetRegistry returns the step registry
func (m *Manager) GetRegistry() *Registry {
	return m.registry
}

// GetBroadcaster returns the status broadcaster
func (m *Manager) GetBroadcaster() *StatusBroadcaster {
	return m.broadcaster
}

// GetConfig returns the run configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// Execute runs the stage graph for one source reference and seals the run.
// It never returns an error: every outcome, including failure to create the
// run directory, is reported in the RunResult.
func (m *Manager) Execute(ctx context.Context, ref string) domain.RunResult {
	started := time.Now()
	ctx = infrastructure.EnsureTraceID(ctx)

	run, err := m.deps.Store.CreateRun(ref, m.config.RunConfig())
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to create run directory",
			slog.String("source_ref", ref),
			slog.String("error", err.Error()))
		return domain.RunResult{
			SourceRef:   ref,
			Status:      domain.RunStatusResearchFailed,
			FailureKind: string(errors.KindInternal),
			Error:       err.Error(),
			Duration:    domain.Duration(time.Since(started)),
		}
	}
	traceID := infrastructure.GetTraceID(ctx)
	run.Update(func(mf *artifacts.Manifest) { mf.TraceID = traceID })

	ctx, span := m.tracer.TraceRun(ctx, run.ID(), ref)
	runCtx, cancel := context.WithTimeout(ctx, m.config.GetRunTimeout())
	defer cancel()

	state := NewRunState(run, ref, nil)
	state.Client = m.deps.Clients(run, func(call domain.LLMCall) {
		m.broadcaster.LLMCall(ctx, run.ID(), call)
	})
	state.Hooks = m.hooks(ctx, state)

	m.storeRun(state)
	defer m.removeRun(run.ID())

	steps, err := m.registry.GetDependencyOrder()
	if err != nil {
		return m.finalize(ctx, span, state, domain.StageIngest, errors.Wrap(errors.KindInternal, err, "invalid step graph"))
	}
	for _, step := range steps {
		state.SetStage(step.ID(), NewStepState(step.ID(), step.Name()))
	}

	m.logRunStart(ctx, run.ID(), ref, run.Dir())
	m.broadcaster.StartRun(ctx, run.ID(), ref, run.Dir(), steps)

	failedStage, runErr := m.executeSequential(runCtx, state, steps)
	if runErr != nil && errors.KindOf(runErr) == errors.KindInternal {
		// a context error wrapped by a component still ends as timeout/cancel
		if cerr := errors.FromContext(runCtx); cerr != nil {
			runErr = errors.InStage(failedStage, cerr)
		}
	}
	return m.finalize(ctx, span, state, failedStage, runErr)
}

// executeSequential runs the steps one by one and stops at the first failure.
// The remaining steps are recorded as skipped.
func (m *Manager) executeSequential(ctx context.Context, state *RunState, steps []Step) (domain.Stage, error) {
	for i, step := range steps {
		if err := errors.FromContext(ctx); err != nil {
			m.skipRemaining(ctx, state, steps[i:], step.ID())
			return step.ID(), errors.InStage(step.ID(), err)
		}
		if err := m.executeStep(ctx, state, step); err != nil {
			m.skipRemaining(ctx, state, steps[i+1:], step.ID())
			return step.ID(), err
		}
	}
	return "", nil
}

// executeStep runs one step with its manifest bookkeeping, span and events
func (m *Manager) executeStep(ctx context.Context, state *RunState, step Step) error {
	stage := step.ID()
	stepState := state.GetStage(stage)
	run := state.Run

	if err := step.Validate(state); err != nil {
		stepState.Skip(err.Error())
		m.logStageError(ctx, state.ID, stage, err)
		m.broadcaster.FinishStage(ctx, state.ID, stage, StepStatusSkipped, 0, err)
		return errors.InStage(stage, err)
	}

	m.logStageStart(ctx, state.ID, stage)
	stepState.Start()
	run.Update(func(mf *artifacts.Manifest) { mf.RecordStageStart(stage, step.Name(), time.Now().UTC()) })
	m.broadcaster.StartStage(ctx, state.ID, stage)
	m.saveManifest(ctx, run)

	stageCtx, span := m.tracer.TraceStage(ctx, state.ID, stage)
	err := step.Execute(stageCtx, state)
	if err != nil {
		err = errors.InStage(stage, err)
	}
	duration := stepState.Duration()
	m.tracer.RecordStageCompletion(stageCtx, span, stage, duration, err)

	run.Update(func(mf *artifacts.Manifest) {
		mf.RecordStageEnd(stage, err, stageOutputs(mf, stage), time.Now().UTC())
	})
	m.saveManifest(ctx, run)

	if err != nil {
		stepState.Fail(err)
		m.logStageError(ctx, state.ID, stage, err)
		m.broadcaster.FinishStage(ctx, state.ID, stage, StepStatusFailed, duration, err)
		return err
	}
	stepState.Complete()
	m.logStageComplete(ctx, state.ID, stage, duration)
	m.broadcaster.FinishStage(ctx, state.ID, stage, StepStatusCompleted, duration, nil)
	return nil
}

func (m *Manager) skipRemaining(ctx context.Context, state *RunState, steps []Step, failed domain.Stage) {
	for _, step := range steps {
		if st := state.GetStage(step.ID()); st != nil && st.GetStatus() == StepStatusPending {
			st.Skip(fmt.Sprintf("stage %s did not complete", failed))
			m.broadcaster.FinishStage(ctx, state.ID, step.ID(), StepStatusSkipped, 0, nil)
		}
	}
}

// finalize decides the terminal status, seals the manifest and reports the run
func (m *Manager) finalize(ctx context.Context, span trace.Span, state *RunState, stage domain.Stage, runErr error) domain.RunResult {
	run := state.Run
	status := domain.RunStatusSucceeded
	failureKind := ""
	if runErr != nil {
		status = errors.TerminalStatusFor(stage, runErr)
		failureKind = string(errors.KindOf(runErr))
	}

	if err := run.Seal(status, failureKind, runErr); err != nil {
		m.logger.ErrorContext(ctx, "Failed to seal run manifest",
			slog.String("run_id", run.ID()),
			slog.String("error", err.Error()))
	}

	result := ResultFromManifest(run.Manifest(), run.Dir(), state.Duration())
	m.broadcaster.FinishRun(ctx, result)
	m.tracer.RecordRunCompletion(ctx, span, result)
	m.logRunComplete(ctx, result)
	return result
}

// hooks forwards loop activity to the broadcaster and the step counters
func (m *Manager) hooks(ctx context.Context, state *RunState) search.Hooks {
	metric := m.config.Optimize.Metric
	return search.Hooks{
		OnAttempt: func(c search.Candidate, accepted bool) {
			stage := c.Attempt.Stage
			if stage == domain.StageDraft {
				stage = domain.StageDebug
			}
			if st := state.GetStage(stage); st != nil {
				st.CountAttempt()
			}
			m.broadcaster.Attempt(ctx, state.ID, metric, c, accepted)
		},
		OnReject: func(r search.Rejection) {
			stage := domain.StageDebug
			if state.Baseline != nil {
				stage = domain.StageOptimize
			}
			m.broadcaster.Rejection(ctx, state.ID, stage, r)
		},
	}
}

func (m *Manager) saveManifest(ctx context.Context, run *artifacts.Run) {
	if err := run.SaveManifest(); err != nil {
		m.logger.WarnContext(ctx, "Failed to save manifest",
			slog.String("run_id", run.ID()),
			slog.String("error", err.Error()))
	}
}

// stageOutputs lists the documents and programs a stage stored
func stageOutputs(mf *artifacts.Manifest, stage domain.Stage) []string {
	var out []string
	for _, a := range mf.Artifacts {
		owner := a.Stage
		if owner == domain.StageDraft {
			owner = domain.StageSynthesis
		}
		if owner != stage {
			continue
		}
		switch a.Kind {
		case artifacts.KindBrief, artifacts.KindSpec, artifacts.KindProgram:
			out = append(out, a.Path)
		}
	}
	return out
}

// ResultFromManifest builds the summary line of a run from its manifest
func ResultFromManifest(mf *artifacts.Manifest, dir string, elapsed time.Duration) domain.RunResult {
	res := domain.RunResult{
		RunID:        mf.RunID,
		SourceRef:    mf.SourceRef,
		Dir:          dir,
		Status:       mf.Status,
		FailureKind:  mf.FailureKind,
		Error:        mf.Error,
		StageReached: mf.StageReached,
		Attempts:     mf.AttemptCount(),
		Tokens:       mf.Tokens.TotalTokens,
		Duration:     domain.Duration(elapsed),
	}
	if mf.Best != nil && mf.Best.Stats != nil {
		res.BestMetric = mf.Best.Stats.Metric(mf.Config.TargetMetric)
	}
	return res
}

// GetRun returns the state of an active run
func (m *Manager) GetRun(id string) (*RunState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.runs[id]
	return state, ok
}

// ActiveRuns returns the ids of runs currently executing
func (m *Manager) ActiveRuns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) storeRun(state *RunState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[state.ID] = state
}

func (m *Manager) removeRun(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
}
