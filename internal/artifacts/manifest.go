package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// ManifestName is the file name of the per-run manifest
const ManifestName = "MANIFEST.json"

// Manifest is the single source of truth for a run's trajectory. It is the
// only file in a run directory that is rewritten, and only until it is sealed.
type Manifest struct {
	Format    string    `json:"format"`
	RunID     string    `json:"run_id"`
	SourceRef string    `json:"source_ref"`
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Config domain.RunConfig `json:"config"`

	// Current status
	Status       domain.RunStatus `json:"status"`
	StageReached domain.Stage     `json:"stage_reached,omitempty"`
	FailureKind  string           `json:"failure_kind,omitempty"`
	Error        string           `json:"error,omitempty"`
	Sealed       bool             `json:"sealed"`

	// Execution tracking
	Stages     []StageRecord     `json:"stages"`
	Artifacts  []ArtifactRecord  `json:"artifacts"`
	Attempts   []AttemptRecord   `json:"attempts"`
	Rejections []RejectionRecord `json:"rejections,omitempty"`
	Tokens     domain.TokenUsage `json:"tokens"`

	// Results
	Baseline      *domain.Program             `json:"baseline,omitempty"`
	Best          *domain.Program             `json:"best,omitempty"`
	MetricHistory []MetricPoint               `json:"metric_history,omitempty"`
	Optimization  *domain.OptimizationSummary `json:"optimization,omitempty"`
}

// StageRecord tracks the execution of a single stage
type StageRecord struct {
	Stage     domain.Stage    `json:"stage"`
	Name      string          `json:"name"`
	Status    string          `json:"status"` // "running", "completed", "failed"
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time,omitempty"`
	Duration  domain.Duration `json:"duration"`
	Attempts  int             `json:"attempts"`
	Outputs   []string        `json:"outputs,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ArtifactRecord is one write-once file in the run directory
type ArtifactRecord struct {
	Path      string       `json:"path"`
	Kind      string       `json:"kind"`
	Digest    string       `json:"digest"`
	Size      int64        `json:"size"`
	Stage     domain.Stage `json:"stage,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// AttemptRecord is an executed program version and whether the loop kept it
type AttemptRecord struct {
	domain.Attempt
	Accepted bool `json:"accepted"`
}

// RejectionRecord is an LLM proposal that failed the pre-execution checks
type RejectionRecord struct {
	Stage       domain.Stage `json:"stage"`
	Index       int          `json:"index"`
	ProgramPath string       `json:"program_path,omitempty"`
	Reason      string       `json:"reason"`
}

// MetricPoint is one optimization attempt's target metric
type MetricPoint struct {
	Index    int      `json:"index"`
	Value    *float64 `json:"value"`
	Accepted bool     `json:"accepted"`
}

func newManifest(runID, sourceRef string, cfg domain.RunConfig, now time.Time) *Manifest {
	return &Manifest{
		Format:    contracts.ManifestFormatVersion,
		RunID:     runID,
		SourceRef: sourceRef,
		CreatedAt: now,
		UpdatedAt: now,
		Config:    cfg,
		Status:    domain.RunStatusRunning,
		Stages:    []StageRecord{},
		Artifacts: []ArtifactRecord{},
		Attempts:  []AttemptRecord{},
	}
}

// RecordStageStart records the start of a stage execution
func (m *Manifest) RecordStageStart(stage domain.Stage, name string, now time.Time) {
	m.StageReached = stage
	for i := range m.Stages {
		if m.Stages[i].Stage == stage {
			m.Stages[i].StartTime = now
			m.Stages[i].Status = "running"
			return
		}
	}
	m.Stages = append(m.Stages, StageRecord{
		Stage:     stage,
		Name:      name,
		StartTime: now,
		Status:    "running",
	})
}

// RecordStageEnd records the completion or failure of a stage
func (m *Manifest) RecordStageEnd(stage domain.Stage, err error, outputs []string, now time.Time) {
	for i := range m.Stages {
		if m.Stages[i].Stage != stage {
			continue
		}
		s := &m.Stages[i]
		s.EndTime = now
		s.Duration = domain.Duration(now.Sub(s.StartTime))
		s.Outputs = outputs
		s.Status = "completed"
		if err != nil {
			s.Status = "failed"
			s.Error = err.Error()
		}
		s.Attempts = m.attemptsIn(stage)
		return
	}
}

// Stage returns the record for stage, if it ran
func (m *Manifest) Stage(stage domain.Stage) (StageRecord, bool) {
	for _, s := range m.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageRecord{}, false
}

func (m *Manifest) attemptsIn(stage domain.Stage) int {
	n := 0
	for _, a := range m.Attempts {
		if a.Stage == stage {
			n++
		}
	}
	if stage == domain.StageDebug {
		// the draft's own execution is charged to the debug stage
		for _, a := range m.Attempts {
			if a.Stage == domain.StageDraft {
				n++
			}
		}
	}
	return n
}

// Artifact looks up a recorded artifact by relative path
func (m *Manifest) Artifact(rel string) (ArtifactRecord, bool) {
	for _, a := range m.Artifacts {
		if a.Path == rel {
			return a, true
		}
	}
	return ArtifactRecord{}, false
}

// AttemptCount is the number of executed attempts across all stages
func (m *Manifest) AttemptCount() int {
	return len(m.Attempts)
}

// Clone creates a deep copy of the manifest
func (m *Manifest) Clone() *Manifest {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var clone Manifest
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil
	}
	return &clone
}

// LoadManifest reads the manifest of the run stored in dir
func LoadManifest(dir string) (*Manifest, error) {
	path, err := confine(dir, ManifestName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &manifest, nil
}
