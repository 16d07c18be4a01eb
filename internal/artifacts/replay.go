package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Graph is the stage graph of a run as recorded on disk
type Graph struct {
	RunID     string           `json:"run_id"`
	SourceRef string           `json:"source_ref"`
	Status    domain.RunStatus `json:"status"`
	Failure   string           `json:"failure_kind,omitempty"`
	Nodes     []Node           `json:"nodes"`
	Baseline  string           `json:"baseline,omitempty"`
	Best      string           `json:"best,omitempty"`
}

// Node is one stage of the graph with the programs it executed, in execution order
type Node struct {
	Stage    domain.Stage  `json:"stage"`
	Status   string        `json:"status"`
	Inputs   []string      `json:"inputs,omitempty"`
	Programs []ProgramNode `json:"programs,omitempty"`
}

// ProgramNode is one executed program version
type ProgramNode struct {
	Path     string         `json:"path"`
	Digest   string         `json:"digest"`
	Outcome  domain.Outcome `json:"outcome"`
	Accepted bool           `json:"accepted"`
}

// BuildGraph derives the stage graph from a manifest alone
func BuildGraph(m *Manifest) Graph {
	g := Graph{
		RunID:     m.RunID,
		SourceRef: m.SourceRef,
		Status:    m.Status,
		Failure:   m.FailureKind,
	}
	if m.Baseline != nil {
		g.Baseline = m.Baseline.Path
	}
	if m.Best != nil {
		g.Best = m.Best.Path
	}

	digests := make(map[string]string, len(m.Artifacts))
	for _, a := range m.Artifacts {
		digests[a.Path] = a.Digest
	}

	for _, s := range m.Stages {
		node := Node{Stage: s.Stage, Status: s.Status}
		for _, a := range m.Artifacts {
			if a.Stage == s.Stage && (a.Kind == KindBrief || a.Kind == KindSpec) {
				node.Inputs = append(node.Inputs, a.Path)
			}
		}
		for _, att := range m.Attempts {
			if !belongsTo(att.Stage, s.Stage) {
				continue
			}
			node.Programs = append(node.Programs, ProgramNode{
				Path:     att.ProgramPath,
				Digest:   digests[att.ProgramPath],
				Outcome:  att.Outcome,
				Accepted: att.Accepted,
			})
		}
		g.Nodes = append(g.Nodes, node)
	}
	return g
}

// the draft's execution is performed by the debug stage
func belongsTo(attemptStage, stage domain.Stage) bool {
	if attemptStage == domain.StageDraft {
		return stage == domain.StageDebug
	}
	return attemptStage == stage
}

// DigestMismatch describes an artifact whose bytes no longer match the manifest
type DigestMismatch struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Missing  bool   `json:"missing,omitempty"`
}

// Replay re-reads a run directory, verifies every recorded artifact against
// its digest and reconstructs the stage graph without calling any LLM.
func Replay(dir string) (Graph, *Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Graph{}, nil, err
	}
	m, err := LoadManifest(abs)
	if err != nil {
		return Graph{}, nil, err
	}

	var mismatches []DigestMismatch
	for _, a := range m.Artifacts {
		path, err := confine(abs, filepath.FromSlash(a.Path))
		if err != nil {
			return Graph{}, nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			mismatches = append(mismatches, DigestMismatch{Path: a.Path, Expected: a.Digest, Missing: true})
			continue
		}
		if got := Digest(data); got != a.Digest {
			mismatches = append(mismatches, DigestMismatch{Path: a.Path, Expected: a.Digest, Actual: got})
		}
	}
	if len(mismatches) > 0 {
		return Graph{}, m, &VerifyError{Mismatches: mismatches}
	}
	return BuildGraph(m), m, nil
}

// VerifyError reports artifacts that failed digest verification
type VerifyError struct {
	Mismatches []DigestMismatch
}

func (e *VerifyError) Error() string {
	first := e.Mismatches[0]
	if first.Missing {
		return fmt.Sprintf("%d artifact(s) failed verification; %s is missing", len(e.Mismatches), first.Path)
	}
	return fmt.Sprintf("%d artifact(s) failed verification; %s digest is %s, manifest has %s",
		len(e.Mismatches), first.Path, first.Actual, first.Expected)
}
