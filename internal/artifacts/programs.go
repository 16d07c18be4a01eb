package artifacts

import (
	"fmt"
	"path"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// ProgramPath is the run-relative path of a program version
func ProgramPath(stage domain.Stage, index int) string {
	return path.Join(stage.Dir(), fmt.Sprintf("%d.py", index))
}

// WriteProgram stores a program version and returns it with its digest
func (r *Run) WriteProgram(stage domain.Stage, index int, source string) (domain.Program, error) {
	rel := ProgramPath(stage, index)
	rec, err := r.WriteText(rel, source, KindProgram, stage)
	if err != nil {
		return domain.Program{}, err
	}
	return domain.Program{Path: rec.Path, Digest: rec.Digest, Source: source}, nil
}

// WriteRejected stores a proposal that failed the pre-execution checks and
// records why, so the trajectory shows every LLM response the loop paid for.
func (r *Run) WriteRejected(stage domain.Stage, index int, source, reason string) error {
	rel := path.Join(stage.Dir(), fmt.Sprintf("%d.rejected.py", index))
	if _, err := r.WriteText(rel, source, KindRejected, stage); err != nil {
		return err
	}
	r.Update(func(m *Manifest) {
		m.Rejections = append(m.Rejections, RejectionRecord{
			Stage:       stage,
			Index:       index,
			ProgramPath: rel,
			Reason:      reason,
		})
	})
	return nil
}

// WriteAttempt stores an attempt's captured output next to its program and
// appends the attempt to the manifest.
func (r *Run) WriteAttempt(att domain.Attempt, accepted bool) error {
	base := path.Join(att.Stage.Dir(), fmt.Sprintf("%d", att.Index))
	if _, err := r.WriteText(base+".stdout", att.Stdout, KindStdout, att.Stage); err != nil {
		return err
	}
	if _, err := r.WriteText(base+".stderr", att.Stderr, KindStderr, att.Stage); err != nil {
		return err
	}
	if att.Stats != nil {
		if _, err := r.WriteJSON(base+".stats.json", att.Stats, KindStats, att.Stage); err != nil {
			return err
		}
	}
	r.Update(func(m *Manifest) {
		m.Attempts = append(m.Attempts, AttemptRecord{Attempt: att, Accepted: accepted})
	})
	return nil
}

// WriteLLMCall stores an audit record for one gateway call and adds its
// tokens to the run's usage.
func (r *Run) WriteLLMCall(call domain.LLMCall) error {
	rel := path.Join("llm", fmt.Sprintf("%04d.json", call.Seq))
	if _, err := r.WriteJSON(rel, call, KindLLMCall, ""); err != nil {
		return err
	}
	if call.Outcome == domain.CallBudgetExceeded {
		return nil
	}
	r.Update(func(m *Manifest) {
		m.Tokens.Add(call.PromptTokens, call.CompletionTokens)
	})
	return nil
}
