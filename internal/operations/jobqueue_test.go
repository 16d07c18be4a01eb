package operations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/llm"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations/testutil"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/events"
)

// perRefClients hands each run the mock scripted for its source reference
func perRefClients(mocks map[string]*testutil.MockLLM) ClientFactory {
	return func(run *artifacts.Run, _ func(domain.LLMCall)) llm.Client {
		if m, ok := mocks[run.Manifest().SourceRef]; ok {
			return m
		}
		return testutil.NewMockLLM()
	}
}

func TestJobQueue_BatchPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	good := testutil.StrategyBrief
	broken := srv.URL + "/strategy"
	stuck := testutil.StrategyBrief + "Exit on the opposite signal."

	mocks := map[string]*testutil.MockLLM{
		good: testutil.NewMockLLM().
			On(domain.StageResearch, testutil.StrategySpec).
			On(domain.StageSynthesis, testutil.Fenced(testutil.Program("draft"))).
			On(domain.StageOptimize, testutil.Fenced(testutil.Program("draft"))),
		broken: testutil.NewMockLLM(),
		stuck: testutil.NewMockLLM().
			On(domain.StageResearch, testutil.StrategySpec).
			On(domain.StageSynthesis, testutil.Fenced(testutil.Program("missing-import"))).
			On(domain.StageDebug, testutil.Fenced(testutil.Program("missing-import again"))),
	}
	exec := testutil.NewMockExecutor(testutil.Report(10, -15, 40), crashRule())
	h := newHarness(t, exec, perRefClients(mocks), nil)
	queue := NewJobQueue(1, NewMemoryJobStore(), h.manager, nil)

	batch := queue.Run(context.Background(), []string{good, broken, stuck})

	require.Len(t, batch.Runs, 3)
	assert.Equal(t, domain.RunStatusSucceeded, batch.Runs[0].Status)
	assert.Equal(t, domain.RunStatusResearchFailed, batch.Runs[1].Status)
	assert.Equal(t, string(errors.KindIngestFetch), batch.Runs[1].FailureKind)
	assert.Equal(t, domain.RunStatusDebugExhausted, batch.Runs[2].Status)
	assert.Equal(t, ExitRunsFailed, batch.ExitCode())
	assert.Equal(t, 3, batch.Total)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.Empty(t, mocks[broken].Calls)

	jobs, err := queue.ListJobs(JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for i, job := range jobs {
		assert.Equal(t, i, job.Index)
		assert.Equal(t, batch.Runs[i].RunID, job.RunID)
		require.NotNil(t, job.Result)
		assert.NotNil(t, job.CompletedAt)
	}
	assert.Equal(t, JobStatusFailed, jobs[1].Status)
	assert.Equal(t, JobStatusCompleted, jobs[2].Status)

	job, err := queue.Store().FindByRunID(batch.Runs[1].RunID)
	require.NoError(t, err)
	assert.Equal(t, broken, job.SourceRef)

	finished := h.sink.OfType(events.EventBatchFinished)
	require.Len(t, finished, 1)
	assert.Contains(t, string(finished[0].Payload), `"failed":1`)
}

func TestJobQueue_ParallelKeepsInputOrder(t *testing.T) {
	refs := []string{
		testutil.StrategyBrief + " one",
		testutil.StrategyBrief + " two",
		testutil.StrategyBrief + " three",
		testutil.StrategyBrief + " four",
	}
	mocks := make(map[string]*testutil.MockLLM, len(refs))
	for _, ref := range refs {
		mocks[ref] = testutil.NewMockLLM().
			On(domain.StageResearch, testutil.StrategySpec).
			On(domain.StageSynthesis, testutil.Fenced(testutil.Program("draft"))).
			On(domain.StageOptimize, testutil.Fenced(testutil.Program("draft")))
	}
	exec := testutil.NewMockExecutor(testutil.Report(10, -15, 40))
	h := newHarness(t, exec, perRefClients(mocks), nil)
	queue := NewJobQueue(3, nil, h.manager, nil)

	batch := queue.Run(context.Background(), refs)

	require.Len(t, batch.Runs, len(refs))
	dirs := make(map[string]bool)
	for i, r := range batch.Runs {
		assert.Equal(t, refs[i], r.SourceRef)
		assert.Equal(t, domain.RunStatusSucceeded, r.Status)
		dirs[r.Dir] = true
	}
	assert.Len(t, dirs, len(refs))
	assert.Equal(t, ExitOK, batch.ExitCode())
}

func TestBatchResult_ExitCode(t *testing.T) {
	tests := []struct {
		name string
		runs []domain.RunResult
		want int
	}{
		{"empty", nil, ExitOK},
		{"succeeded", []domain.RunResult{{Status: domain.RunStatusSucceeded}}, ExitOK},
		{"exhausted loops are not failures", []domain.RunResult{
			{Status: domain.RunStatusDebugExhausted, FailureKind: "debug-exhausted"},
			{Status: domain.RunStatusOptimizeExhausted, FailureKind: "optimize-exhausted"},
		}, ExitOK},
		{"research failed", []domain.RunResult{
			{Status: domain.RunStatusSucceeded},
			{Status: domain.RunStatusResearchFailed, FailureKind: "ingest-fetch"},
		}, ExitRunsFailed},
		{"budget exhausted during optimize", []domain.RunResult{
			{Status: domain.RunStatusOptimizeExhausted, FailureKind: "budget-exhausted"},
		}, ExitRunsFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BatchResult{Runs: tt.runs}.ExitCode())
		})
	}
}

func TestMemoryJobStore(t *testing.T) {
	store := NewMemoryJobStore()
	job := &Job{ID: "a", Index: 0, SourceRef: "ref", Status: JobStatusPending}
	require.NoError(t, store.CreateJob(job))
	assert.Error(t, store.CreateJob(job))

	job.Status = JobStatusCompleted
	job.RunID = "run-1"
	require.NoError(t, store.UpdateJob(job))
	assert.Error(t, store.UpdateJob(&Job{ID: "missing"}))

	got, err := store.GetJob("a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)

	got.Status = JobStatusFailed
	again, _ := store.GetJob("a")
	assert.Equal(t, JobStatusCompleted, again.Status, "stored jobs are copies")

	byRun, err := store.FindByRunID("run-1")
	require.NoError(t, err)
	assert.Equal(t, "a", byRun.ID)

	failed, err := store.ListJobs(JobFilter{Status: JobStatusFailed})
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, 1, store.GetStats()[JobStatusCompleted])
}

func TestProgressTracker(t *testing.T) {
	p := NewProgressTracker(4)
	assert.Equal(t, "calculating...", p.GetETA())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Increment("run")
		}()
	}
	wg.Wait()

	current, total, pct, msg := p.GetProgress()
	assert.Equal(t, 4, current)
	assert.Equal(t, 4, total)
	assert.Equal(t, 100.0, pct)
	assert.Equal(t, "run", msg)
	assert.Equal(t, "done", p.GetETA())
}
