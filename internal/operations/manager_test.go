package operations

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/ingest"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/llm"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations/testutil"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/events"
)

const nameError = "NameError: name 'ta' is not defined"

type harness struct {
	store   *artifacts.Store
	exec    *testutil.MockExecutor
	sink    *testutil.CaptureSink
	manager *Manager
}

func testConfig() *Config {
	cfg := NewConfig()
	cfg.Optimize.MaxAttempts = 6
	cfg.Optimize.PlateauK = 2
	return cfg
}

func newHarness(t *testing.T, exec *testutil.MockExecutor, clients ClientFactory, cfg *Config) *harness {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	if cfg == nil {
		cfg = testConfig()
	}
	sink := testutil.NewCaptureSink()
	deps := Dependencies{
		Store:    store,
		Ingestor: ingest.New(ingest.Options{MinChars: 50}, nil),
		Executor: exec,
		Clients:  clients,
	}
	return &harness{
		store:   store,
		exec:    exec,
		sink:    sink,
		manager: NewManager(deps, cfg, NewStatusBroadcaster(nil, sink), nil),
	}
}

func staticClient(c llm.Client) ClientFactory {
	return func(*artifacts.Run, func(domain.LLMCall)) llm.Client { return c }
}

func crashRule() testutil.Rule {
	return testutil.Rule{
		Marker: "missing-import",
		Result: testutil.Crash(testutil.Traceback("draft/0.py", 9, nameError)),
	}
}

func loadManifest(t *testing.T, dir string) *artifacts.Manifest {
	t.Helper()
	mf, err := artifacts.LoadManifest(dir)
	require.NoError(t, err)
	return mf
}

func attemptsIn(mf *artifacts.Manifest, stage domain.Stage) int {
	n := 0
	for _, a := range mf.Attempts {
		if a.Stage == stage {
			n++
		}
	}
	return n
}

func TestManager_HappyPath(t *testing.T) {
	exec := testutil.NewMockExecutor(testutil.Report(10, -15, 40),
		testutil.Rule{Marker: "better", Result: testutil.Clean(testutil.Report(12, -14, 40))})
	mock := testutil.NewMockLLM().
		On(domain.StageResearch, testutil.StrategySpec).
		On(domain.StageSynthesis, testutil.Fenced(testutil.Program("draft"))).
		On(domain.StageOptimize, testutil.Fenced(testutil.Program("better")))
	h := newHarness(t, exec, staticClient(mock), nil)

	res := h.manager.Execute(context.Background(), testutil.StrategyBrief)

	assert.Equal(t, domain.RunStatusSucceeded, res.Status)
	assert.Empty(t, res.FailureKind)
	assert.Equal(t, domain.StageOptimize, res.StageReached)
	assert.False(t, res.FailedOutright())
	require.NotNil(t, res.BestMetric)
	assert.Equal(t, 12.0, *res.BestMetric)

	for _, rel := range []string{"brief.txt", "spec.txt", "draft/0.py", "optimize/1.py"} {
		assert.FileExists(t, filepath.Join(res.Dir, rel))
	}
	spec, err := os.ReadFile(filepath.Join(res.Dir, "spec.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(spec), "## Indicators")

	mf := loadManifest(t, res.Dir)
	assert.True(t, mf.Sealed)
	assert.Equal(t, domain.RunStatusSucceeded, mf.Status)
	assert.Zero(t, attemptsIn(mf, domain.StageDebug))
	assert.Empty(t, mock.CallsFor(domain.StageDebug))
	require.NotNil(t, mf.Baseline)
	assert.Equal(t, "draft/0.py", mf.Baseline.Path)
	require.NotNil(t, mf.Best)
	assert.Equal(t, "optimize/1.py", mf.Best.Path)
	assert.GreaterOrEqual(t, *mf.Best.Stats.ReturnPct, *mf.Baseline.Stats.ReturnPct)
	require.NotNil(t, mf.Optimization)
	assert.Equal(t, "plateau", mf.Optimization.ExitReason)
	assert.Equal(t, 1, mf.Optimization.Accepted)
	require.NotEmpty(t, mf.MetricHistory)
	assert.True(t, mf.MetricHistory[0].Accepted)
	assert.NotEmpty(t, mf.TraceID)

	for _, s := range mf.Stages {
		assert.Equal(t, "completed", s.Status, "stage %s", s.Stage)
	}
	assert.Len(t, mf.Stages, 5)

	graph, _, err := artifacts.Replay(res.Dir)
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 5)
	assert.Equal(t, "optimize/1.py", graph.Best)
}

func TestManager_HappyPathEvents(t *testing.T) {
	exec := testutil.NewMockExecutor(testutil.Report(10, -15, 40))
	mock := testutil.NewMockLLM().
		On(domain.StageResearch, testutil.StrategySpec).
		On(domain.StageSynthesis, testutil.Fenced(testutil.Program("draft"))).
		On(domain.StageOptimize, testutil.Fenced(testutil.Program("same")))
	h := newHarness(t, exec, staticClient(mock), nil)

	res := h.manager.Execute(context.Background(), testutil.StrategyBrief)
	require.Equal(t, domain.RunStatusSucceeded, res.Status)

	types := h.sink.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.EventRunStarted, types[0])
	assert.Equal(t, events.EventRunFinished, types[len(types)-1])
	assert.Len(t, h.sink.OfType(events.EventStageStarted), 5)
	assert.Len(t, h.sink.OfType(events.EventStageFinished), 5)
	assert.NotEmpty(t, h.sink.OfType(events.EventAttempt))

	frames := h.sink.Frames()
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].Sequence, frames[i-1].Sequence)
		assert.Equal(t, res.RunID, frames[i].RunID)
	}

	snap, ok := h.manager.GetBroadcaster().GetSnapshot(res.RunID)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusSucceeded, snap.Status)
	require.Len(t, snap.Stages, 5)
	for _, s := range snap.Stages {
		assert.Equal(t, StepStatusCompleted, s.Status)
	}
	assert.NotNil(t, snap.CompletedAt)
	assert.Empty(t, h.manager.ActiveRuns())
}

func TestManager_DebugRecovery(t *testing.T) {
	exec := testutil.NewMockExecutor(testutil.Report(8, -10, 30), crashRule())
	mock := testutil.NewMockLLM().
		On(domain.StageResearch, testutil.StrategySpec).
		On(domain.StageSynthesis, testutil.Fenced(testutil.Program("missing-import"))).
		On(domain.StageDebug, testutil.Fenced(testutil.Program("fixed"))).
		On(domain.StageOptimize, testutil.Fenced(testutil.Program("fixed")))
	h := newHarness(t, exec, staticClient(mock), nil)

	res := h.manager.Execute(context.Background(), testutil.StrategyBrief)

	assert.Equal(t, domain.RunStatusSucceeded, res.Status)
	assert.FileExists(t, filepath.Join(res.Dir, "debug", "1.py"))

	mf := loadManifest(t, res.Dir)
	assert.Equal(t, 1, attemptsIn(mf, domain.StageDebug))
	require.NotNil(t, mf.Baseline)
	assert.Equal(t, "debug/1.py", mf.Baseline.Path)
	assert.Len(t, mock.CallsFor(domain.StageDebug), 1)

	debug, ok := mf.Stage(domain.StageDebug)
	require.True(t, ok)
	// the draft's own execution is charged to the debug stage
	assert.Equal(t, 2, debug.Attempts)
}

func TestManager_DebugExhaustion(t *testing.T) {
	exec := testutil.NewMockExecutor(testutil.Report(8, -10, 30), crashRule())
	mock := testutil.NewMockLLM().
		On(domain.StageResearch, testutil.StrategySpec).
		On(domain.StageSynthesis, testutil.Fenced(testutil.Program("missing-import"))).
		On(domain.StageDebug, testutil.Fenced(testutil.Program("missing-import still")))
	h := newHarness(t, exec, staticClient(mock), nil)

	res := h.manager.Execute(context.Background(), testutil.StrategyBrief)

	assert.Equal(t, domain.RunStatusDebugExhausted, res.Status)
	assert.Equal(t, string(errors.KindDebugExhausted), res.FailureKind)
	assert.False(t, res.FailedOutright())
	assert.Equal(t, domain.StageDebug, res.StageReached)

	mf := loadManifest(t, res.Dir)
	assert.LessOrEqual(t, attemptsIn(mf, domain.StageDebug), 3)
	assert.Less(t, attemptsIn(mf, domain.StageDebug), testConfig().Debug.MaxAttempts)
	assert.Nil(t, mf.Baseline)
	_, ran := mf.Stage(domain.StageOptimize)
	assert.False(t, ran)
	assert.Empty(t, mock.CallsFor(domain.StageOptimize))

	snap, ok := h.manager.GetBroadcaster().GetSnapshot(res.RunID)
	require.True(t, ok)
	assert.Equal(t, StepStatusSkipped, snap.Stages[4].Status)
}

func TestManager_IngestFailureChargesNothing(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	exec := testutil.NewMockExecutor(nil)
	mock := testutil.NewMockLLM().On(domain.StageResearch, testutil.StrategySpec)
	h := newHarness(t, exec, staticClient(mock), nil)

	res := h.manager.Execute(context.Background(), empty)

	assert.Equal(t, domain.RunStatusResearchFailed, res.Status)
	assert.Equal(t, string(errors.KindIngestEmpty), res.FailureKind)
	assert.True(t, res.FailedOutright())
	assert.Empty(t, mock.Calls)
	assert.Zero(t, exec.Executions())
	assert.NoFileExists(t, filepath.Join(res.Dir, "brief.txt"))

	mf := loadManifest(t, res.Dir)
	assert.True(t, mf.Sealed)
	assert.Equal(t, domain.StageIngest, mf.StageReached)
}

type blockingClient struct{}

func (blockingClient) Chat(ctx context.Context, _ domain.Stage, _, _, _ string) (string, error) {
	<-ctx.Done()
	return "", errors.FromContext(ctx)
}

func TestManager_RunTimeoutIsTerminal(t *testing.T) {
	cfg := testConfig()
	cfg.RunTimeout = 50 * time.Millisecond
	h := newHarness(t, testutil.NewMockExecutor(nil), staticClient(blockingClient{}), cfg)

	start := time.Now()
	res := h.manager.Execute(context.Background(), testutil.StrategyBrief)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, domain.RunStatusResearchFailed, res.Status)
	assert.Equal(t, string(errors.KindRunTimeout), res.FailureKind)
	assert.True(t, res.FailedOutright())
	assert.FileExists(t, filepath.Join(res.Dir, "brief.txt"))
}

func TestManager_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := testutil.NewMockLLM()
	h := newHarness(t, testutil.NewMockExecutor(nil), staticClient(mock), nil)

	res := h.manager.Execute(ctx, testutil.StrategyBrief)

	assert.Equal(t, domain.RunStatusResearchFailed, res.Status)
	assert.Equal(t, string(errors.KindCancelled), res.FailureKind)
	assert.Empty(t, mock.Calls)
}

func TestManager_ClientFactoryGetsRun(t *testing.T) {
	var seen []string
	mock := testutil.NewMockLLM().On(domain.StageResearch, "no sections here")
	clients := func(run *artifacts.Run, onCall func(domain.LLMCall)) llm.Client {
		seen = append(seen, run.ID())
		require.NotNil(t, onCall)
		return mock
	}
	h := newHarness(t, testutil.NewMockExecutor(nil), clients, nil)

	res := h.manager.Execute(context.Background(), testutil.StrategyBrief)

	assert.Equal(t, []string{res.RunID}, seen)
	assert.Equal(t, domain.RunStatusResearchFailed, res.Status)
	assert.Equal(t, string(errors.KindResearchValidation), res.FailureKind)
	assert.NoFileExists(t, filepath.Join(res.Dir, "spec.txt"))
}
