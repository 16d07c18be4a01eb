package runner

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Signatures of failures that carry no traceback
const (
	SignatureTimeout      = "timeout"
	SignatureParseFailure = "stats-parse-failure"
)

var (
	exceptionRe = regexp.MustCompile(`^(?:[A-Za-z_][\w]*\.)*[A-Za-z_]\w*(?:Error|Exception|Warning|Interrupt|Exit)\b`)
	frameRe     = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+)`)
	addressRe   = regexp.MustCompile(`0x[0-9a-fA-F]+`)
)

// Signature condenses a failed attempt into one comparable line: the
// exception line of the final traceback, else the last non-empty line of
// output. Memory addresses and runs of whitespace are normalised so that two
// runs of the same bug compare equal.
func Signature(att domain.Attempt) string {
	switch att.Outcome {
	case domain.OutcomeTimeout:
		return SignatureTimeout
	case domain.OutcomeParseFailure:
		return SignatureParseFailure
	case domain.OutcomeClean:
		return ""
	}

	line := exceptionLine(att.Stderr)
	if line == "" {
		line = lastLine(att.Stderr)
	}
	if line == "" {
		line = lastLine(att.Stdout)
	}
	if line == "" {
		line = fmt.Sprintf("exit status %d", att.ExitCode)
	}
	return normalizeSignature(line)
}

func exceptionLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimRight(lines[i], " \t\r")
		if exceptionRe.MatchString(l) {
			return l
		}
	}
	return ""
}

func lastLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func normalizeSignature(line string) string {
	line = addressRe.ReplaceAllString(line, "0x?")
	return strings.Join(strings.Fields(line), " ")
}

// Diagnostic returns the last n lines of stderr, or of stdout when stderr is
// empty, for the repair prompt.
func Diagnostic(att domain.Attempt, n int) string {
	text := att.Stderr
	if strings.TrimSpace(text) == "" {
		text = att.Stdout
	}
	if att.Outcome == domain.OutcomeTimeout {
		text = strings.TrimRight(text, "\n") + "\n[killed after exceeding the wall-clock timeout]"
	}
	if att.Outcome == domain.OutcomeParseFailure {
		text = strings.TrimRight(text, "\n") + "\n[exited 0 but printed no recognisable stats report; print(stats) must run]"
	}
	return tailLines(strings.Trim(text, "\n"), n)
}

func tailLines(text string, n int) string {
	if n <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// OffendingLine finds the deepest traceback frame inside the program and
// returns that line of source. ok is false when no frame points into it.
func OffendingLine(att domain.Attempt, source string) (line int, text string, ok bool) {
	program := filepath.ToSlash(att.ProgramPath)
	for _, l := range strings.Split(att.Stderr, "\n") {
		m := frameRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		file := filepath.ToSlash(m[1])
		if file != program && !strings.HasSuffix(file, "/"+program) {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		line, ok = n, true
	}
	if !ok {
		return 0, "", false
	}
	src := strings.Split(source, "\n")
	if line < 1 || line > len(src) {
		return 0, "", false
	}
	return line, strings.TrimSpace(src[line-1]), true
}
