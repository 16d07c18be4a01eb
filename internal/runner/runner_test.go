package runner

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

func newShellRunner(t *testing.T, mutate func(*Options)) *Runner {
	t.Helper()
	opts := Options{
		Interpreter:   "/bin/sh",
		Timeout:       5 * time.Second,
		StdoutLimitKB: 64,
		StderrTailKB:  4,
		DataPath:      "/data/btc.csv",
		PassEnv:       []string{"PATH"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts, nil)
}

func writeScript(t *testing.T, dir, rel, body string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0444))
}

func TestRun_Outcomes(t *testing.T) {
	tests := []struct {
		name          string
		script        string
		wantOutcome   domain.Outcome
		wantExit      int
		wantSignature string
		check         func(*testing.T, domain.Attempt)
	}{
		{
			name:        "clean with stats",
			script:      "echo 'Start   2024-01-01'\necho 'Return [%]   12.5'\necho '# Trades: 31'\n",
			wantOutcome: domain.OutcomeClean,
			check: func(t *testing.T, att domain.Attempt) {
				require.NotNil(t, att.Stats)
				assert.Equal(t, 12.5, *att.Stats.ReturnPct)
				assert.Equal(t, 31, att.Stats.Trades())
				assert.Empty(t, att.Signature)
			},
		},
		{
			name:          "runtime error",
			script:        "echo 'Traceback (most recent call last):' >&2\necho '  File \"debug/1.py\", line 3, in <module>' >&2\necho \"NameError: name 'ta' is not defined\" >&2\nexit 1\n",
			wantOutcome:   domain.OutcomeRuntimeError,
			wantExit:      1,
			wantSignature: "NameError: name 'ta' is not defined",
			check: func(t *testing.T, att domain.Attempt) {
				assert.Nil(t, att.Stats)
			},
		},
		{
			name:          "exit zero without report",
			script:        "echo 'nothing to see'\n",
			wantOutcome:   domain.OutcomeParseFailure,
			wantSignature: SignatureParseFailure,
			check: func(t *testing.T, att domain.Attempt) {
				assert.Nil(t, att.Stats)
				assert.Equal(t, "nothing to see\n", att.Stdout)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeScript(t, dir, "debug/1.py", tt.script)

			att := newShellRunner(t, nil).Run(context.Background(), Request{
				Dir: dir, Program: "debug/1.py", Stage: domain.StageDebug, Index: 1,
			})

			assert.Equal(t, tt.wantOutcome, att.Outcome)
			assert.Equal(t, tt.wantExit, att.ExitCode)
			assert.Equal(t, tt.wantSignature, att.Signature)
			assert.Equal(t, domain.StageDebug, att.Stage)
			assert.Equal(t, 1, att.Index)
			assert.Equal(t, "debug/1.py", att.ProgramPath)
			assert.False(t, att.StartedAt.IsZero())
			if tt.check != nil {
				tt.check(t, att)
			}
		})
	}
}

func TestRun_Timeout(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "opt/1.py", "echo 'partial'\nsleep 30\n")

	r := newShellRunner(t, func(o *Options) { o.Timeout = 500 * time.Millisecond })
	start := time.Now()
	att := r.Run(context.Background(), Request{Dir: dir, Program: "opt/1.py", Stage: domain.StageOptimize, Index: 1})

	assert.Equal(t, domain.OutcomeTimeout, att.Outcome)
	assert.Equal(t, SignatureTimeout, att.Signature)
	assert.Equal(t, "timeout", att.Killed)
	assert.Equal(t, "partial\n", att.Stdout)
	assert.Nil(t, att.Stats)
	assert.Less(t, time.Since(start), 500*time.Millisecond+waitDelay+time.Second)
}

func TestRun_ParentCancelled(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "debug/1.py", "sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	att := newShellRunner(t, nil).Run(ctx, Request{Dir: dir, Program: "debug/1.py", Stage: domain.StageDebug})
	assert.Equal(t, domain.OutcomeTimeout, att.Outcome)
	assert.Equal(t, "cancelled", att.Killed)
}

func TestRun_MemoryLimit(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	dir := t.TempDir()
	// pages are touched so the resident set grows where RLIMIT_AS is not enforced
	writeScript(t, dir, "debug/1.py", strings.Join([]string{
		"import time",
		"buf = bytearray(400 * 1024 * 1024)",
		"for i in range(0, len(buf), 4096):",
		"    buf[i] = 1",
		"print('allocated')",
		"time.sleep(10)",
	}, "\n")+"\n")

	r := newShellRunner(t, func(o *Options) {
		o.Interpreter = "python3"
		o.MemoryLimitMB = 100
		o.Timeout = 30 * time.Second
	})
	att := r.Run(context.Background(), Request{Dir: dir, Program: "debug/1.py", Stage: domain.StageDebug, Index: 1})

	assert.Equal(t, domain.OutcomeRuntimeError, att.Outcome, att.Stderr)
	assert.NotEqual(t, "timeout", att.Killed)
	assert.Contains(t, att.Signature, "MemoryError")
	assert.Nil(t, att.Stats)
}

func TestWatchdog_KillsOverLimit(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	killed := make(chan struct{})
	w := startWatchdog(context.Background(), cmd.Process.Pid, 1, func() {
		_ = cmd.Process.Kill()
		close(killed)
	})
	select {
	case <-killed:
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog did not kill the child")
	}
	_ = cmd.Wait()
	w.stop()

	assert.True(t, w.exceeded())
	assert.Greater(t, w.peakKB(), uint64(1))
}

func TestWatchdog_ZeroLimitOnlyRecordsPeak(t *testing.T) {
	cmd := exec.Command("sleep", "1")
	require.NoError(t, cmd.Start())

	w := startWatchdog(context.Background(), cmd.Process.Pid, 0, func() {
		t.Error("kill called without a limit")
	})
	require.NoError(t, cmd.Wait())
	w.stop()

	assert.False(t, w.exceeded())
	assert.NotZero(t, w.peakKB())
}

func TestRun_EnvironmentAllowList(t *testing.T) {
	t.Setenv("RBI_TEST_SECRET", "hunter2")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	dir := t.TempDir()
	writeScript(t, dir, "draft/0.py", strings.Join([]string{
		`echo "SECRET=$RBI_TEST_SECRET"`,
		`echo "KEY=$OPENAI_API_KEY"`,
		`echo "DATA=$RBI_DATA_PATH"`,
		`echo "HOME=$HOME"`,
		`echo "CWD=$(pwd)"`,
		`echo 'Return [%]: 1'`,
	}, "\n")+"\n")

	att := newShellRunner(t, nil).Run(context.Background(), Request{Dir: dir, Program: "draft/0.py", Stage: domain.StageDraft})
	require.Equal(t, domain.OutcomeClean, att.Outcome, att.Stderr)

	assert.Contains(t, att.Stdout, "SECRET=\n")
	assert.Contains(t, att.Stdout, "KEY=\n")
	assert.Contains(t, att.Stdout, "DATA=/data/btc.csv\n")
	assert.Contains(t, att.Stdout, "HOME="+dir+"\n")
	assert.Contains(t, att.Stdout, "CWD=")
}

func TestRun_StderrTail(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "debug/2.py", "i=0\nwhile [ $i -lt 500 ]; do echo \"noise line $i\" >&2; i=$((i+1)); done\necho 'ValueError: final' >&2\nexit 3\n")

	r := newShellRunner(t, func(o *Options) { o.StderrTailKB = 1 })
	att := r.Run(context.Background(), Request{Dir: dir, Program: "debug/2.py", Stage: domain.StageDebug, Index: 2})

	assert.Equal(t, domain.OutcomeRuntimeError, att.Outcome)
	assert.Equal(t, 3, att.ExitCode)
	assert.True(t, att.Truncated)
	assert.LessOrEqual(t, len(att.Stderr), 1024)
	assert.True(t, strings.HasSuffix(att.Stderr, "ValueError: final\n"))
	assert.True(t, strings.HasPrefix(att.Stderr, "noise line "))
	assert.Equal(t, "ValueError: final", att.Signature)
}

func TestRun_StartFailure(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "draft/0.py", "echo hi\n")

	r := newShellRunner(t, func(o *Options) { o.Interpreter = filepath.Join(dir, "no-such-interpreter") })
	att := r.Run(context.Background(), Request{Dir: dir, Program: "draft/0.py", Stage: domain.StageDraft})

	assert.Equal(t, domain.OutcomeRuntimeError, att.Outcome)
	assert.Equal(t, -1, att.ExitCode)
	assert.Contains(t, att.Stderr, "failed to start")
	assert.NotEmpty(t, att.Signature)
}

func TestRun_NetworkIsolationFallsBack(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "draft/0.py", "echo '# Trades: 4'\n")

	r := newShellRunner(t, func(o *Options) { o.IsolateNetwork = true })
	att := r.Run(context.Background(), Request{Dir: dir, Program: "draft/0.py", Stage: domain.StageDraft})

	assert.Equal(t, domain.OutcomeClean, att.Outcome, att.Stderr)
	assert.Equal(t, 4, att.Stats.Trades())
}

func TestNew_ResolvesPaths(t *testing.T) {
	r := New(Options{DataPath: "data/btc.csv"}, nil)
	assert.True(t, filepath.IsAbs(r.Options().DataPath))
	if _, err := exec.LookPath("python3"); err == nil {
		assert.True(t, filepath.IsAbs(r.Options().Interpreter))
		assert.Equal(t, "python3", filepath.Base(r.Options().Interpreter))
	} else {
		assert.Equal(t, "python3", r.Options().Interpreter)
	}

	sh, err := exec.LookPath("sh")
	require.NoError(t, err)
	r = New(Options{Interpreter: "sh"}, nil)
	assert.True(t, filepath.IsAbs(r.Options().Interpreter))
	assert.Equal(t, filepath.Base(sh), filepath.Base(r.Options().Interpreter))
}

func TestRun_DefaultChildPath(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "draft/0.py", "echo \"PATH=$PATH\"\nls >/dev/null\necho 'Return [%]: 1'\n")

	r := newShellRunner(t, func(o *Options) {
		o.Interpreter = "sh"
		o.PassEnv = nil
	})
	att := r.Run(context.Background(), Request{Dir: dir, Program: "draft/0.py", Stage: domain.StageDraft})
	require.Equal(t, domain.OutcomeClean, att.Outcome, att.Stderr)

	want := filepath.Dir(r.Options().Interpreter)
	assert.True(t, strings.HasPrefix(att.Stdout, "PATH="+want), att.Stdout)
	assert.Contains(t, att.Stdout, "/usr/bin")
}

func TestCheckSyntax(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	r := New(Options{Interpreter: "python3"}, nil)

	assert.NoError(t, r.CheckSyntax(context.Background(), "import os\nprint(os.getcwd())\n"))

	err := r.CheckSyntax(context.Background(), "def broken(:\n    pass\n")
	require.Error(t, err)
	var syn *SyntaxError
	require.ErrorAs(t, err, &syn)
	assert.Contains(t, syn.Detail, "SyntaxError")

	assert.Error(t, r.CheckSyntax(context.Background(), "   \n"))
}
