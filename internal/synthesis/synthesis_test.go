package synthesis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations/testutil"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/prompts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

const goodProgram = "import os\nprint('Return [%]: 1')\n"

func newRun(t *testing.T) *artifacts.Run {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	run, err := store.CreateRun("idea", domain.RunConfig{})
	require.NoError(t, err)
	return run
}

func TestSynthesize_FirstTry(t *testing.T) {
	run := newRun(t)
	mock := testutil.NewMockLLM().On(domain.StageSynthesis, "Here you go:\n```python\n"+goodProgram+"```\nEnjoy.")
	exec := testutil.NewMockExecutor(nil)
	s := New(mock, prompts.Default(), exec, Options{Model: "claude-sonnet", DataPath: "/data/btc.csv"}, nil)

	draft, err := s.Synthesize(context.Background(), "the spec", run)
	require.NoError(t, err)
	assert.True(t, draft.Parseable)
	assert.Equal(t, 1, draft.Tries)
	assert.Equal(t, "draft/0.py", draft.Program.Path)
	assert.Equal(t, goodProgram, draft.Program.Source)

	data, err := run.ReadFile("draft/0.py")
	require.NoError(t, err)
	assert.Equal(t, goodProgram, string(data))

	calls := mock.CallsFor(domain.StageSynthesis)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, `"/data/btc.csv"`)
	assert.Contains(t, calls[0].Prompt, "the spec")
}

func TestSynthesize_RetryThenHandOff(t *testing.T) {
	tests := []struct {
		name      string
		replies   []string
		parseable bool
		source    string
	}{
		{"second try parses", []string{"```python\ndef (:\n```", "```python\n" + goodProgram + "```"}, true, goodProgram},
		{"both unparseable", []string{"```python\ndef (:\n```", "```python\ndef (: again\n```"}, false, "def (: again\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := newRun(t)
			mock := testutil.NewMockLLM().On(domain.StageSynthesis, tt.replies...)
			exec := testutil.NewMockExecutor(nil)
			exec.SyntaxMarkers = []string{"def (:"}
			s := New(mock, prompts.Default(), exec, Options{Model: "m", DataPath: "d.csv"}, nil)

			draft, err := s.Synthesize(context.Background(), "spec", run)
			require.NoError(t, err)
			assert.Equal(t, tt.parseable, draft.Parseable)
			assert.Equal(t, 2, draft.Tries)
			assert.Equal(t, tt.source, draft.Program.Source)

			calls := mock.CallsFor(domain.StageSynthesis)
			require.Len(t, calls, 2)
			assert.Contains(t, calls[1].System, "not a valid Python file: SyntaxError")
		})
	}
}

func TestSynthesize_Failures(t *testing.T) {
	run := newRun(t)
	s := New(testutil.NewMockLLM().On(domain.StageSynthesis, "   "), prompts.Default(), testutil.NewMockExecutor(nil), Options{Model: "m"}, nil)
	_, err := s.Synthesize(context.Background(), "spec", run)
	assert.Equal(t, errors.KindSynthesis, errors.KindOf(err))
	assert.Equal(t, domain.RunStatusSynthesisFailed, errors.TerminalStatusFor(domain.StageSynthesis, err))

	s = New(testutil.NewMockLLM(), prompts.Default(), testutil.NewMockExecutor(nil), Options{Model: "m"}, nil)
	_, err = s.Synthesize(context.Background(), "spec", newRun(t))
	assert.Equal(t, errors.KindLLMExhausted, errors.KindOf(err))
}
