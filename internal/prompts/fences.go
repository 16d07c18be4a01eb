package prompts

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[^\\n]*\\n(.*?)```")

// ExtractCode returns the program inside a model response. The first block
// tagged python wins, otherwise the largest fenced block. A response without
// fences is returned trimmed, and an unterminated opening fence is dropped.
func ExtractCode(response string) string {
	blocks := fenceRe.FindAllStringSubmatch(response, -1)
	if len(blocks) == 0 {
		text := strings.TrimSpace(response)
		if strings.HasPrefix(text, "```") {
			if i := strings.IndexByte(text, '\n'); i >= 0 {
				text = text[i+1:]
			} else {
				text = ""
			}
		}
		return strings.TrimSpace(text) + "\n"
	}

	for _, b := range blocks {
		switch strings.ToLower(b[1]) {
		case "python", "py", "python3":
			return strings.TrimSpace(b[2]) + "\n"
		}
	}
	best := blocks[0][2]
	for _, b := range blocks[1:] {
		if len(b[2]) > len(best) {
			best = b[2]
		}
	}
	return strings.TrimSpace(best) + "\n"
}

// StripFences removes a single wrapping fence from prose, such as a spec
// the model returned inside ```markdown.
func StripFences(response string) string {
	text := strings.TrimSpace(response)
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}
	body := strings.TrimSuffix(text, "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		return strings.TrimSpace(body[i+1:])
	}
	return text
}
