package operations

import (
	"sync"
	"time"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/debugloop"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/ingest"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/llm"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/optimize"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/search"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/synthesis"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// RunState is the small in-memory state one run needs to make its next
// decision. Everything in it has already been persisted to the run directory.
type RunState struct {
	mu sync.RWMutex

	ID        string
	SourceRef string
	StartTime time.Time

	// Run is the run's artifact directory; it is the store every stage writes to
	Run *artifacts.Run
	// Client is the run's LLM session with its own token budget
	Client llm.Client
	// Hooks receive every attempt and rejection of the search loops
	Hooks search.Hooks

	Steps map[domain.Stage]*StepState

	Brief    *ingest.Brief
	Spec     string
	Draft    *synthesis.Draft
	Debug    *debugloop.Result
	Baseline *search.Candidate
	Optimize *optimize.Result
}

// NewRunState creates the state of a freshly created run
func NewRunState(run *artifacts.Run, sourceRef string, client llm.Client) *RunState {
	return &RunState{
		ID:        run.ID(),
		SourceRef: sourceRef,
		StartTime: time.Now(),
		Run:       run,
		Client:    client,
		Steps:     make(map[domain.Stage]*StepState),
	}
}

// SetStage stores the state of a step
func (s *RunState) SetStage(id domain.Stage, state *StepState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Steps[id] = state
}

// GetStage returns the state of a step, or nil
func (s *RunState) GetStage(id domain.Stage) *StepState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Steps[id]
}

// Duration returns how long the run has been executing
func (s *RunState) Duration() time.Duration {
	return time.Since(s.StartTime)
}
