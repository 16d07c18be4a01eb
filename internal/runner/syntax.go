package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const syntaxTimeout = 30 * time.Second

const syntaxScript = "import ast,sys; ast.parse(sys.stdin.read(), '<program>')"

// SyntaxError is returned by CheckSyntax when the interpreter rejects the source
type SyntaxError struct {
	Detail string
}

func (e *SyntaxError) Error() string {
	return "syntax error: " + e.Detail
}

// CheckSyntax parses source with the interpreter's own parser without
// executing it. Only the parser runs, so no sandboxing beyond the filtered
// environment is applied.
func (r *Runner) CheckSyntax(ctx context.Context, source string) error {
	if strings.TrimSpace(source) == "" {
		return &SyntaxError{Detail: "empty program"}
	}

	ctx, cancel := context.WithTimeout(ctx, syntaxTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.opts.Interpreter, "-c", syntaxScript)
	cmd.Env = r.environ("")
	cmd.Stdin = strings.NewReader(source)
	stderr := newTailBuffer(8 * 1024)
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		detail := exceptionLine(stderr.String())
		if detail == "" {
			detail = lastLine(stderr.String())
		}
		if line := syntaxLine(stderr.String()); line != "" {
			detail += " (" + line + ")"
		}
		return &SyntaxError{Detail: detail}
	}
	return fmt.Errorf("failed to run syntax check: %w", err)
}

// syntaxLine extracts `line N` from the parser's frame for <program>
func syntaxLine(stderr string) string {
	for _, l := range strings.Split(stderr, "\n") {
		if m := frameRe.FindStringSubmatch(l); m != nil && m[1] == "<program>" {
			return "line " + m[2]
		}
	}
	return ""
}
