package artifacts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

func newTestRun(t *testing.T) *Run {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	run, err := store.CreateRun("https://example.com/idea", domain.RunConfig{
		ResearchModel: "m", SynthesisModel: "m", DebugModel: "m", OptimizeModel: "m",
		DataPath: "/data/btc.csv", TargetMetric: domain.TargetReturnPct, PlateauWindow: 5,
	})
	require.NoError(t, err)
	return run
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestCreateRun(t *testing.T) {
	run := newTestRun(t)

	assert.DirExists(t, run.Dir())
	assert.FileExists(t, filepath.Join(run.Dir(), ManifestName))
	assert.Regexp(t, `^\d{8}T\d{6}Z-[0-9a-f]{8}$`, run.ID())

	m, err := LoadManifest(run.Dir())
	require.NoError(t, err)
	assert.Equal(t, run.ID(), m.RunID)
	assert.Equal(t, domain.RunStatusRunning, m.Status)
	assert.Equal(t, "https://example.com/idea", m.SourceRef)
}

func TestWriteFile_WriteOnce(t *testing.T) {
	run := newTestRun(t)

	rec, err := run.WriteText("brief.txt", "# source: x\nhello", KindBrief, domain.StageIngest)
	require.NoError(t, err)
	assert.Equal(t, "brief.txt", rec.Path)
	assert.Equal(t, Digest([]byte("# source: x\nhello")), rec.Digest)
	assert.Equal(t, int64(17), rec.Size)

	_, err = run.WriteText("brief.txt", "replacement", KindBrief, domain.StageIngest)
	require.Error(t, err)
	assert.Equal(t, errors.KindArtifactExists, errors.KindOf(err))

	data, err := run.ReadFile("brief.txt")
	require.NoError(t, err)
	assert.Equal(t, "# source: x\nhello", string(data))

	// no temp files are left behind
	entries, err := os.ReadDir(run.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestPath_Confinement(t *testing.T) {
	run := newTestRun(t)

	for _, rel := range []string{"../escape.txt", "/etc/passwd", "debug/../../x", "", "."} {
		_, err := run.Path(rel)
		assert.Error(t, err, rel)
		assert.Equal(t, errors.KindArtifactEscape, errors.KindOf(err), rel)
	}

	p, err := run.Path("debug/1.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(run.Dir(), "debug", "1.py"), p)
}

func TestWriteProgramAndAttempt(t *testing.T) {
	run := newTestRun(t)

	prog, err := run.WriteProgram(domain.StageOptimize, 1, "print('x')\n")
	require.NoError(t, err)
	assert.Equal(t, "opt/1.py", prog.Path)

	att := domain.Attempt{
		Stage:       domain.StageOptimize,
		Index:       1,
		ProgramPath: prog.Path,
		Outcome:     domain.OutcomeClean,
		Stdout:      "Return [%]: 12.5\n",
		Stats:       &domain.StatsReport{ReturnPct: floatPtr(12.5), TradeCount: intPtr(30)},
	}
	require.NoError(t, run.WriteAttempt(att, true))

	assert.FileExists(t, filepath.Join(run.Dir(), "opt", "1.stdout"))
	assert.FileExists(t, filepath.Join(run.Dir(), "opt", "1.stderr"))
	assert.FileExists(t, filepath.Join(run.Dir(), "opt", "1.stats.json"))

	require.NoError(t, run.WriteRejected(domain.StageOptimize, 2, "garbage", "syntax error"))

	m := run.Manifest()
	require.Len(t, m.Attempts, 1)
	assert.True(t, m.Attempts[0].Accepted)
	require.Len(t, m.Rejections, 1)
	assert.Equal(t, "opt/2.rejected.py", m.Rejections[0].ProgramPath)
}

func TestWriteLLMCall_AccumulatesTokens(t *testing.T) {
	run := newTestRun(t)

	require.NoError(t, run.WriteLLMCall(domain.LLMCall{Seq: 1, PromptTokens: 100, CompletionTokens: 20}))
	require.NoError(t, run.WriteLLMCall(domain.LLMCall{Seq: 2, PromptTokens: 50, CompletionTokens: 5}))

	m := run.Manifest()
	assert.Equal(t, 2, m.Tokens.Calls)
	assert.Equal(t, 175, m.Tokens.TotalTokens)
	assert.FileExists(t, filepath.Join(run.Dir(), "llm", "0001.json"))

	require.NoError(t, run.WriteLLMCall(domain.LLMCall{Seq: 3, Outcome: domain.CallBudgetExceeded, Error: "token budget exhausted"}))
	assert.FileExists(t, filepath.Join(run.Dir(), "llm", "0003.json"))
	assert.Equal(t, 2, run.Manifest().Tokens.Calls)
}

func TestSeal(t *testing.T) {
	run := newTestRun(t)

	assert.Error(t, run.Seal(domain.RunStatusRunning, "", nil))

	require.NoError(t, run.Seal(domain.RunStatusResearchFailed, "ingest-fetch", assert.AnError))

	m, err := LoadManifest(run.Dir())
	require.NoError(t, err)
	assert.True(t, m.Sealed)
	assert.Equal(t, domain.RunStatusResearchFailed, m.Status)
	assert.Equal(t, "ingest-fetch", m.FailureKind)

	// a sealed run accepts no further writes
	assert.Error(t, run.Seal(domain.RunStatusSucceeded, "", nil))
	assert.Error(t, run.SaveManifest())
	_, err = run.WriteText("late.txt", "x", KindBrief, "")
	assert.Error(t, err)
}

func TestManifest_StageRecords(t *testing.T) {
	m := newManifest("r", "ref", domain.RunConfig{}, time.Now())
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	m.RecordStageStart(domain.StageDebug, "Debug", start)
	m.Attempts = append(m.Attempts,
		AttemptRecord{Attempt: domain.Attempt{Stage: domain.StageDraft}},
		AttemptRecord{Attempt: domain.Attempt{Stage: domain.StageDebug, Index: 1}})
	m.RecordStageEnd(domain.StageDebug, nil, []string{"debug/1.py"}, start.Add(3*time.Second))

	rec, ok := m.Stage(domain.StageDebug)
	require.True(t, ok)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, domain.Duration(3*time.Second), rec.Duration)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, domain.StageDebug, m.StageReached)
}
