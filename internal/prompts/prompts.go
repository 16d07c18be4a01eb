// Package prompts renders the stage prompts from text/template files. The
// built-in templates are embedded in the binary; a template directory can
// override any of them by file name.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var builtin embed.FS

// Name identifies one template file
type Name string

const (
	ResearchSystem      Name = "research_system.tmpl"
	ResearchUser        Name = "research_user.tmpl"
	ResearchCorrection  Name = "research_correction.tmpl"
	SynthesisSystem     Name = "synthesis_system.tmpl"
	SynthesisUser       Name = "synthesis_user.tmpl"
	SynthesisCorrection Name = "synthesis_correction.tmpl"
	DebugSystem         Name = "debug_system.tmpl"
	DebugUser           Name = "debug_user.tmpl"
	OptimizeSystem      Name = "optimize_system.tmpl"
	OptimizeUser        Name = "optimize_user.tmpl"
)

var funcs = template.FuncMap{
	"join":     strings.Join,
	"truncate": Truncate,
}

// Set is a parsed collection of templates. It is safe for concurrent use.
type Set struct {
	root *template.Template
}

// Load parses the embedded templates and then any *.tmpl files in dir, which
// replace the embedded template of the same name.
func Load(dir string) (*Set, error) {
	root := template.New("prompts").Funcs(funcs).Option("missingkey=error")
	if _, err := root.ParseFS(builtin, "templates/*.tmpl"); err != nil {
		return nil, fmt.Errorf("failed to parse built-in templates: %w", err)
	}
	if dir != "" {
		matches, err := fs.Glob(os.DirFS(dir), "*.tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to list templates in %s: %w", dir, err)
		}
		for _, m := range matches {
			data, err := os.ReadFile(filepath.Join(dir, m))
			if err != nil {
				return nil, fmt.Errorf("failed to read template %s: %w", m, err)
			}
			if _, err := root.New(m).Parse(string(data)); err != nil {
				return nil, fmt.Errorf("failed to parse template %s: %w", m, err)
			}
		}
	}
	return &Set{root: root}, nil
}

// Default returns the embedded templates
func Default() *Set {
	s, err := Load("")
	if err != nil {
		panic(err)
	}
	return s
}

// Render executes the named template with data
func (s *Set) Render(name Name, data any) (string, error) {
	t := s.root.Lookup(string(name))
	if t == nil {
		return "", fmt.Errorf("template %s not found", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// Truncate cuts s to at most max bytes on a line boundary and marks the cut
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i]
	}
	return cut + "\n# ... truncated ...\n"
}
