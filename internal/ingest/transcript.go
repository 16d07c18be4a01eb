package ingest

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strings"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
)

// TranscriptSource turns a video URL into its spoken text
type TranscriptSource interface {
	Transcript(ctx context.Context, url string) (string, error)
}

// CommandTranscripts runs an external tool that prints a transcript (plain
// text, SRT or WebVTT) for the URL given as its last argument.
type CommandTranscripts struct {
	argv []string
}

// NewCommandTranscripts splits command on whitespace. An empty command
// yields a source that reports every video as having no transcript.
func NewCommandTranscripts(command string) *CommandTranscripts {
	return &CommandTranscripts{argv: strings.Fields(command)}
}

// Transcript runs the configured command
func (c *CommandTranscripts) Transcript(ctx context.Context, url string) (string, error) {
	if len(c.argv) == 0 {
		return "", errors.Newf(errors.KindIngestNoTranscript, "no transcript command configured for %s", url)
	}
	args := append(append([]string{}, c.argv[1:]...), url)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.FromContext(ctx)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "transcript command failed"
		}
		return "", errors.Wrap(errors.KindIngestNoTranscript, err, msg)
	}
	text := CleanCaptions(string(out))
	if strings.TrimSpace(text) == "" {
		return "", errors.Newf(errors.KindIngestNoTranscript, "video has no transcript: %s", url)
	}
	return text, nil
}

var (
	cueIndex = regexp.MustCompile(`^\d+$`)
	cueTag   = regexp.MustCompile(`<[^>]+>`)
)

// CleanCaptions reduces SRT or WebVTT captions to their text, dropping cue
// numbers, timing lines and consecutive duplicates produced by rolling
// captions. Plain text passes through unchanged apart from tag removal.
func CleanCaptions(raw string) string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "WEBVTT", strings.HasPrefix(line, "Kind:"), strings.HasPrefix(line, "Language:"),
			strings.HasPrefix(line, "NOTE"), strings.Contains(line, "-->"), cueIndex.MatchString(line):
			continue
		}
		line = strings.TrimSpace(cueTag.ReplaceAllString(line, ""))
		if line == "" {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		if len(out) > 0 && out[len(out)-1] == line {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
