package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

const traceback = `Traceback (most recent call last):
  File "/runs/abc/debug/3.py", line 41, in <module>
    bt.run()
  File "/usr/lib/python3/site-packages/backtesting/backtesting.py", line 1296, in run
    strategy.init()
  File "/runs/abc/debug/3.py", line 17, in init
    self.rsi = self.I(talib.RSI, self.data.Close, 14)
NameError: name 'talib' is not defined
`

func TestSignature(t *testing.T) {
	tests := []struct {
		name string
		att  domain.Attempt
		want string
	}{
		{"exception line", domain.Attempt{Outcome: domain.OutcomeRuntimeError, Stderr: traceback}, "NameError: name 'talib' is not defined"},
		{"timeout", domain.Attempt{Outcome: domain.OutcomeTimeout, Stderr: traceback}, SignatureTimeout},
		{"parse failure", domain.Attempt{Outcome: domain.OutcomeParseFailure}, SignatureParseFailure},
		{"clean", domain.Attempt{Outcome: domain.OutcomeClean}, ""},
		{"addresses normalised", domain.Attempt{Outcome: domain.OutcomeRuntimeError,
			Stderr: "TypeError: <object at 0x7f3a2b>   is   not callable\n"}, "TypeError: <object at 0x?> is not callable"},
		{"dotted exception", domain.Attempt{Outcome: domain.OutcomeRuntimeError,
			Stderr: "pandas.errors.ParserError: Error tokenizing data\n"}, "pandas.errors.ParserError: Error tokenizing data"},
		{"no exception falls back to last line", domain.Attempt{Outcome: domain.OutcomeRuntimeError,
			Stderr: "first\nSegmentation fault\n\n"}, "Segmentation fault"},
		{"stdout when stderr empty", domain.Attempt{Outcome: domain.OutcomeRuntimeError, Stdout: "boom\n"}, "boom"},
		{"nothing captured", domain.Attempt{Outcome: domain.OutcomeRuntimeError, ExitCode: 137}, "exit status 137"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Signature(tt.att))
		})
	}
}

func TestOffendingLine(t *testing.T) {
	source := "import pandas\n" +
		"line2\nline3\nline4\nline5\nline6\nline7\nline8\nline9\nline10\n" +
		"line11\nline12\nline13\nline14\nline15\nline16\n" +
		"        self.rsi = self.I(talib.RSI, self.data.Close, 14)\n"
	att := domain.Attempt{ProgramPath: "debug/3.py", Stderr: traceback}

	line, text, ok := OffendingLine(att, source)
	assert.True(t, ok)
	assert.Equal(t, 17, line)
	assert.Equal(t, "self.rsi = self.I(talib.RSI, self.data.Close, 14)", text)

	_, _, ok = OffendingLine(domain.Attempt{ProgramPath: "debug/4.py", Stderr: traceback}, source)
	assert.False(t, ok)
}

func TestDiagnostic(t *testing.T) {
	att := domain.Attempt{Outcome: domain.OutcomeRuntimeError, Stderr: traceback}
	got := Diagnostic(att, 2)
	assert.Equal(t, "    self.rsi = self.I(talib.RSI, self.data.Close, 14)\nNameError: name 'talib' is not defined", got)

	att = domain.Attempt{Outcome: domain.OutcomeParseFailure, Stdout: "done\n"}
	assert.Contains(t, Diagnostic(att, 40), "done\n[exited 0")

	att = domain.Attempt{Outcome: domain.OutcomeTimeout}
	assert.Contains(t, Diagnostic(att, 40), "wall-clock timeout")
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(10)
	_, _ = b.Write([]byte("abc\n"))
	assert.False(t, b.Truncated())
	assert.Equal(t, "abc\n", b.String())

	_, _ = b.Write([]byte("defghij\nk\n"))
	assert.True(t, b.Truncated())
	assert.Equal(t, "defghij\nk\n", b.String())

	_, _ = b.Write([]byte("lm\n"))
	// "ghij\nk\nlm\n" starts mid-line, so the fragment is dropped
	assert.Equal(t, "k\nlm\n", b.String())
}
