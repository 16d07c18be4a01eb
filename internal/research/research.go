// Package research turns a source brief into a strategy specification.
package research

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/llm"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/prompts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Section is a required part of a specification and the keywords that
// show it is present. Matching is case-insensitive substring search.
type Section struct {
	Name     string
	Keywords []string
}

// Sections lists the six parts every specification must cover
var Sections = []Section{
	{Name: "market", Keywords: []string{"market", "instrument", "asset"}},
	{Name: "timeframe", Keywords: []string{"timeframe", "time frame", "time-frame"}},
	{Name: "entry rules", Keywords: []string{"entry", "entries"}},
	{Name: "exit rules", Keywords: []string{"exit"}},
	{Name: "risk sizing", Keywords: []string{"risk", "position siz", "sizing"}},
	{Name: "indicators", Keywords: []string{"indicator"}},
}

// Missing returns the names of the sections text does not mention
func Missing(text string) []string {
	lower := strings.ToLower(text)
	var missing []string
	for _, s := range Sections {
		found := false
		for _, k := range s.Keywords {
			if strings.Contains(lower, k) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

// Options configures a Researcher
type Options struct {
	Model string
	// MaxRetries is the number of corrective calls after the first
	MaxRetries int
}

// Researcher runs the research stage
type Researcher struct {
	client  llm.Client
	prompts *prompts.Set
	opts    Options
	logger  *slog.Logger
}

// New creates a Researcher
func New(client llm.Client, set *prompts.Set, opts Options, logger *slog.Logger) *Researcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Researcher{
		client:  client,
		prompts: set,
		opts:    opts,
		logger:  infrastructure.WithComponent(logger, "research"),
	}
}

// Research asks for a specification of brief and validates it, retrying
// with a corrective instruction that names the missing sections.
func (r *Researcher) Research(ctx context.Context, brief string) (string, error) {
	system, err := r.prompts.Render(prompts.ResearchSystem, nil)
	if err != nil {
		return "", errors.InStage(domain.StageResearch, err)
	}
	user, err := r.prompts.Render(prompts.ResearchUser, prompts.ResearchData{Brief: brief})
	if err != nil {
		return "", errors.InStage(domain.StageResearch, err)
	}

	var missing []string
	for try := 0; try <= r.opts.MaxRetries; try++ {
		sys := system
		if try > 0 {
			correction, err := r.prompts.Render(prompts.ResearchCorrection, prompts.ResearchCorrectionData{Missing: missing})
			if err != nil {
				return "", errors.InStage(domain.StageResearch, err)
			}
			sys = system + "\n" + correction
		}

		resp, err := r.client.Chat(ctx, domain.StageResearch, r.opts.Model, sys, user)
		if err != nil {
			return "", errors.InStage(domain.StageResearch, err)
		}
		spec := strings.TrimSpace(prompts.StripFences(resp))
		missing = Missing(spec)
		if len(missing) == 0 {
			r.logger.InfoContext(ctx, "Specification accepted",
				slog.Int("tries", try+1),
				slog.Int("chars", len(spec)))
			return spec + "\n", nil
		}
		r.logger.WarnContext(ctx, "Specification incomplete",
			slog.Int("try", try+1),
			slog.String("missing", strings.Join(missing, ", ")))
	}

	pe := errors.Newf(errors.KindResearchValidation, "specification still missing %s after %d tries",
		strings.Join(missing, ", "), r.opts.MaxRetries+1)
	pe.Stage = domain.StageResearch
	return "", pe
}
