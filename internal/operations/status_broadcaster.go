package operations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/search"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/events"
)

// StatusBroadcaster is the single authority for run status updates. It keeps
// a snapshot per run and publishes every transition as a progress frame.
type StatusBroadcaster struct {
	mu       sync.RWMutex
	runs     map[string]*RunSnapshot
	sinks    []Sink
	sequence int64
	logger   *slog.Logger
}

// RunSnapshot represents the state of a run at a point in time
type RunSnapshot struct {
	RunID        string           `json:"run_id"`
	SourceRef    string           `json:"source_ref"`
	Dir          string           `json:"dir"`
	Status       domain.RunStatus `json:"status"`
	CurrentStage domain.Stage     `json:"current_stage,omitempty"`
	Stages       []StageSnapshot  `json:"stages"`
	Attempts     int              `json:"attempts"`
	LLMCalls     int              `json:"llm_calls"`
	Tokens       int              `json:"tokens"`
	StartedAt    time.Time        `json:"started_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	FailureKind  string           `json:"failure_kind,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// StageSnapshot represents the state of a single stage
type StageSnapshot struct {
	ID     domain.Stage `json:"id"`
	Name   string       `json:"name"`
	Status StepStatus   `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// NewStatusBroadcaster creates a broadcaster publishing to sinks
func NewStatusBroadcaster(logger *slog.Logger, sinks ...Sink) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusBroadcaster{
		runs:   make(map[string]*RunSnapshot),
		sinks:  sinks,
		logger: infrastructure.WithComponent(logger, "broadcaster"),
	}
}

// AddSink attaches another sink; frames already published are not replayed
func (sb *StatusBroadcaster) AddSink(sink Sink) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.sinks = append(sb.sinks, sink)
}

// update applies fn to the run's snapshot and publishes frame
func (sb *StatusBroadcaster) update(ctx context.Context, runID string, fn func(*RunSnapshot), frame events.Frame) {
	sb.mu.Lock()
	snapshot, exists := sb.runs[runID]
	if !exists {
		snapshot = &RunSnapshot{RunID: runID, Status: domain.RunStatusPending, StartedAt: time.Now().UTC()}
		sb.runs[runID] = snapshot
	}
	if fn != nil {
		fn(snapshot)
	}
	snapshot.UpdatedAt = time.Now().UTC()

	sb.sequence++
	frame.Sequence = sb.sequence
	frame.TraceID = infrastructure.GetTraceID(ctx)
	sinks := make([]Sink, len(sb.sinks))
	copy(sinks, sb.sinks)
	sb.mu.Unlock()

	for _, sink := range sinks {
		sink.Publish(frame)
	}
}

// StartRun registers a run and its stages
func (sb *StatusBroadcaster) StartRun(ctx context.Context, runID, sourceRef, dir string, steps []Step) {
	sb.update(ctx, runID, func(s *RunSnapshot) {
		s.SourceRef = sourceRef
		s.Dir = dir
		s.Status = domain.RunStatusRunning
		s.Stages = make([]StageSnapshot, len(steps))
		for i, step := range steps {
			s.Stages[i] = StageSnapshot{ID: step.ID(), Name: step.Name(), Status: StepStatusPending}
		}
	}, events.NewFrame(events.EventRunStarted, runID, "", events.RunPayload{
		SourceRef: sourceRef,
		Dir:       dir,
		Status:    string(domain.RunStatusRunning),
	}))
}

// StartStage marks a stage as active
func (sb *StatusBroadcaster) StartStage(ctx context.Context, runID string, stage domain.Stage) {
	sb.update(ctx, runID, func(s *RunSnapshot) {
		s.CurrentStage = stage
		s.setStage(stage, StepStatusActive, "")
	}, events.NewFrame(events.EventStageStarted, runID, string(stage), events.StagePayload{
		Status: string(StepStatusActive),
	}))
}

// FinishStage marks a stage as completed, failed or skipped
func (sb *StatusBroadcaster) FinishStage(ctx context.Context, runID string, stage domain.Stage, status StepStatus, duration time.Duration, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	sb.update(ctx, runID, func(s *RunSnapshot) {
		s.setStage(stage, status, msg)
	}, events.NewFrame(events.EventStageFinished, runID, string(stage), events.StagePayload{
		Status:   string(status),
		Error:    msg,
		Duration: duration.Round(time.Millisecond).String(),
	}))
}

// Attempt reports one executed program
func (sb *StatusBroadcaster) Attempt(ctx context.Context, runID string, metric domain.TargetMetric, c search.Candidate, accepted bool) {
	stage := c.Attempt.Stage
	if stage == domain.StageDraft {
		stage = domain.StageDebug
	}
	sb.update(ctx, runID, func(s *RunSnapshot) {
		s.Attempts++
	}, events.NewFrame(events.EventAttempt, runID, string(stage), events.AttemptPayload{
		Index:     c.Index,
		Outcome:   string(c.Attempt.Outcome),
		Accepted:  accepted,
		Metric:    c.Metric(metric),
		Signature: c.Attempt.Signature,
	}))
}

// Rejection reports a proposal that never ran
func (sb *StatusBroadcaster) Rejection(ctx context.Context, runID string, stage domain.Stage, r search.Rejection) {
	sb.update(ctx, runID, nil, events.NewFrame(events.EventAttempt, runID, string(stage), events.AttemptPayload{
		Index:    r.Index,
		Outcome:  "rejected",
		Rejected: r.Reason,
	}))
}

// LLMCall reports one gateway call
func (sb *StatusBroadcaster) LLMCall(ctx context.Context, runID string, call domain.LLMCall) {
	tokens := call.PromptTokens + call.CompletionTokens
	sb.update(ctx, runID, func(s *RunSnapshot) {
		s.LLMCalls++
		s.Tokens += tokens
	}, events.NewFrame(events.EventLLMCall, runID, call.Role, events.LLMPayload{
		Seq:      call.Seq,
		Role:     call.Role,
		Provider: call.Provider,
		Model:    call.Model,
		Tries:    call.Tries,
		Outcome:  call.Outcome,
		Tokens:   tokens,
		Error:    call.Error,
	}))
}

// FinishRun records the terminal status
func (sb *StatusBroadcaster) FinishRun(ctx context.Context, result domain.RunResult) {
	sb.update(ctx, result.RunID, func(s *RunSnapshot) {
		now := time.Now().UTC()
		s.Status = result.Status
		s.CurrentStage = ""
		s.CompletedAt = &now
		s.FailureKind = result.FailureKind
		s.Error = result.Error
	}, events.NewFrame(events.EventRunFinished, result.RunID, string(result.StageReached), events.RunPayload{
		SourceRef:   result.SourceRef,
		Dir:         result.Dir,
		Status:      string(result.Status),
		FailureKind: result.FailureKind,
	}))

	sb.logger.InfoContext(ctx, "Run finished",
		slog.String("run_id", result.RunID),
		slog.String("status", string(result.Status)),
		slog.String("failure_kind", result.FailureKind))
}

// FinishBatch publishes the batch summary frame
func (sb *StatusBroadcaster) FinishBatch(ctx context.Context, batch BatchResult) {
	sb.mu.Lock()
	sb.sequence++
	frame := events.NewFrame(events.EventBatchFinished, "", "", batch)
	frame.Sequence = sb.sequence
	frame.TraceID = infrastructure.GetTraceID(ctx)
	sinks := make([]Sink, len(sb.sinks))
	copy(sinks, sb.sinks)
	sb.mu.Unlock()

	for _, sink := range sinks {
		sink.Publish(frame)
	}
}

func (s *RunSnapshot) setStage(stage domain.Stage, status StepStatus, msg string) {
	for i := range s.Stages {
		if s.Stages[i].ID == stage {
			s.Stages[i].Status = status
			s.Stages[i].Error = msg
			return
		}
	}
	s.Stages = append(s.Stages, StageSnapshot{ID: stage, Name: string(stage), Status: status, Error: msg})
}

// GetSnapshot returns a copy of the run's snapshot
func (sb *StatusBroadcaster) GetSnapshot(runID string) (*RunSnapshot, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshot, exists := sb.runs[runID]
	if !exists {
		return nil, false
	}
	return snapshot.clone(), true
}

// GetAllSnapshots returns copies of all run snapshots
func (sb *StatusBroadcaster) GetAllSnapshots() []*RunSnapshot {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshots := make([]*RunSnapshot, 0, len(sb.runs))
	for _, snapshot := range sb.runs {
		snapshots = append(snapshots, snapshot.clone())
	}
	return snapshots
}

func (s *RunSnapshot) clone() *RunSnapshot {
	cp := *s
	cp.Stages = append([]StageSnapshot(nil), s.Stages...)
	return &cp
}
