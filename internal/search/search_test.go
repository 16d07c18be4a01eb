package search

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations/testutil"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

func newRun(t *testing.T) *artifacts.Run {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir())
	require.NoError(t, err)
	run, err := store.CreateRun("idea", domain.RunConfig{})
	require.NoError(t, err)
	return run
}

func ret(v float64) *domain.StatsReport {
	trades := 30
	return &domain.StatsReport{ReturnPct: &v, TradeCount: &trades}
}

// proposer returns the scripted sources in order
func proposer(sources ...string) func(context.Context, *State) (string, error) {
	i := 0
	return func(context.Context, *State) (string, error) {
		if i >= len(sources) {
			return "", errors.Newf(errors.KindLLMExhausted, "out of proposals")
		}
		s := sources[i]
		i++
		return s, nil
	}
}

func firstClean(_ *State, c Candidate) bool { return c.Attempt.Clean() }

func TestLoop_SatisfiedOnFirstAccept(t *testing.T) {
	run := newRun(t)
	exec := testutil.NewMockExecutor(ret(5), testutil.Rule{Marker: "broken", Result: testutil.Crash("NameError: name 'x' is not defined")})

	var seen []int
	loop := &Loop{
		Stage:       domain.StageDebug,
		MaxAttempts: 5,
		Executor:    exec,
		Store:       run,
		Propose:     proposer("broken 1", "fixed"),
		Accept:      firstClean,
		Satisfied:   func(st *State) bool { return st.Best != nil },
		Hooks:       Hooks{OnAttempt: func(c Candidate, _ bool) { seen = append(seen, c.Index) }},
	}
	res := loop.Run(context.Background(), &State{})

	require.NoError(t, res.Err)
	assert.Equal(t, ReasonSatisfied, res.Reason)
	assert.Equal(t, 2, res.Attempts)
	require.NotNil(t, res.Best)
	assert.Equal(t, "debug/2.py", res.Best.Program.Path)
	assert.Equal(t, 5.0, *res.Best.Program.Stats.ReturnPct)
	assert.Equal(t, []int{1, 2}, seen)

	m := run.Manifest()
	require.Len(t, m.Attempts, 2)
	assert.False(t, m.Attempts[0].Accepted)
	assert.True(t, m.Attempts[1].Accepted)
}

func TestLoop_RejectionConsumesAttempt(t *testing.T) {
	run := newRun(t)
	exec := testutil.NewMockExecutor(ret(1))
	exec.SyntaxMarkers = []string{"def ("}

	var rejected []Rejection
	loop := &Loop{
		Stage:       domain.StageOptimize,
		MaxAttempts: 3,
		Executor:    exec,
		Store:       run,
		Propose:     proposer("def (", "print(1)", "x"),
		Check: func(_ *State, source string) error {
			if source == "x" {
				return fmt.Errorf("too small")
			}
			return nil
		},
		Accept: func(*State, Candidate) bool { return false },
		Hooks:  Hooks{OnReject: func(r Rejection) { rejected = append(rejected, r) }},
	}
	res := loop.Run(context.Background(), &State{})

	require.NoError(t, res.Err)
	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1, exec.Executions())
	assert.Equal(t, 3, res.SinceImprovement)
	require.Len(t, rejected, 2)
	assert.Equal(t, 1, rejected[0].Index)
	assert.True(t, strings.HasPrefix(rejected[0].Reason, "syntax error"))
	assert.Equal(t, 3, rejected[1].Index)
	assert.Equal(t, "too small", rejected[1].Reason)

	m := run.Manifest()
	require.Len(t, m.Rejections, 2)
	assert.Equal(t, "opt/1.rejected.py", m.Rejections[0].ProgramPath)
	require.Len(t, m.Attempts, 1)
	assert.Equal(t, "opt/2.py", m.Attempts[0].ProgramPath)
	assert.Nil(t, res.Best)
}

func TestLoop_HaltAndPreconditions(t *testing.T) {
	run := newRun(t)
	exec := testutil.NewMockExecutor(ret(1))

	// satisfied before any proposal
	loop := &Loop{
		Stage:       domain.StageOptimize,
		MaxAttempts: 5,
		Executor:    exec,
		Store:       run,
		Propose:     proposer("a"),
		Satisfied:   func(*State) bool { return true },
	}
	res := loop.Run(context.Background(), &State{})
	assert.Equal(t, ReasonSatisfied, res.Reason)
	assert.Zero(t, res.Attempts)

	// zero budget
	loop = &Loop{Stage: domain.StageOptimize, MaxAttempts: 0, Executor: exec, Store: run, Propose: proposer("a")}
	res = loop.Run(context.Background(), &State{})
	assert.Equal(t, ReasonExhausted, res.Reason)
	assert.Zero(t, exec.Executions())

	// halt after two non-improving attempts
	loop = &Loop{
		Stage:       domain.StageOptimize,
		MaxAttempts: 10,
		Executor:    exec,
		Store:       run,
		Propose:     proposer("p1", "p2", "p3"),
		Accept:      func(*State, Candidate) bool { return false },
		Halt: func(st *State) (string, bool) {
			return "plateau", st.SinceImprovement >= 2
		},
	}
	res = loop.Run(context.Background(), &State{})
	assert.Equal(t, ReasonHalted, res.Reason)
	assert.Equal(t, "plateau", res.Detail)
	assert.Equal(t, 2, res.Attempts)
}

func TestLoop_ProposalFailure(t *testing.T) {
	run := newRun(t)
	exec := testutil.NewMockExecutor(ret(1))
	loop := &Loop{
		Stage:       domain.StageDebug,
		MaxAttempts: 4,
		Executor:    exec,
		Store:       run,
		Propose:     proposer(),
	}
	res := loop.Run(context.Background(), &State{})

	assert.Equal(t, ReasonFailed, res.Reason)
	assert.Equal(t, errors.KindLLMExhausted, errors.KindOf(res.Err))
	var pe *errors.PipelineError
	require.ErrorAs(t, res.Err, &pe)
	assert.Equal(t, domain.StageDebug, pe.Stage)
}

func TestLoop_Cancelled(t *testing.T) {
	run := newRun(t)
	exec := testutil.NewMockExecutor(ret(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := &Loop{Stage: domain.StageDebug, MaxAttempts: 4, Executor: exec, Store: run, Propose: proposer("a")}
	res := loop.Run(ctx, &State{})
	assert.Equal(t, ReasonFailed, res.Reason)
	assert.Equal(t, errors.KindCancelled, errors.KindOf(res.Err))
	assert.Zero(t, res.Attempts)
}

func TestState_Recent(t *testing.T) {
	st := &State{History: []Candidate{{Index: 1}, {Index: 2}, {Index: 3}}}
	assert.Equal(t, []Candidate{{Index: 2}, {Index: 3}}, st.Recent(2))
	assert.Len(t, st.Recent(10), 3)
	assert.Nil(t, st.Recent(0))
}

func TestSizeCheck(t *testing.T) {
	ref := strings.Repeat("x", 100)
	assert.NoError(t, SizeCheck(ref, strings.Repeat("x", 150), 0.5))
	assert.NoError(t, SizeCheck(ref, strings.Repeat("x", 50), 0.5))
	assert.Error(t, SizeCheck(ref, strings.Repeat("x", 151), 0.5))
	assert.Error(t, SizeCheck(ref, strings.Repeat("x", 49), 0.5))
	assert.NoError(t, SizeCheck("", "anything", 0.5))
	assert.NoError(t, SizeCheck(ref, "x", 0))
}
