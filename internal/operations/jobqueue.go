package operations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// JobStatus represents the status of one batch entry
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job is one source reference of a batch
type Job struct {
	ID          string            `json:"id"`
	Index       int               `json:"index"`
	SourceRef   string            `json:"source_ref"`
	Status      JobStatus         `json:"status"`
	RunID       string            `json:"run_id,omitempty"`
	Result      *domain.RunResult `json:"result,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// BatchResult summarises a batch; Runs keeps the input order
type BatchResult struct {
	Runs      []domain.RunResult `json:"runs"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Duration  domain.Duration    `json:"duration"`
}

// Batch exit codes
const (
	ExitOK          = 0
	ExitRunsFailed  = 2
	ExitInvalidArgs = 3
)

// ExitCode is 2 when any run failed outright and 0 otherwise. Exhausted
// debug or optimization budgets are not failures.
func (b BatchResult) ExitCode() int {
	for _, r := range b.Runs {
		if r.FailedOutright() {
			return ExitRunsFailed
		}
	}
	return ExitOK
}

// JobQueue drives a batch of source references through the Manager. Runs
// execute one at a time unless more than one worker is configured.
type JobQueue struct {
	workers int
	store   JobStore
	manager *Manager
	logger  *slog.Logger
}

// NewJobQueue creates a new batch driver
func NewJobQueue(workers int, store JobStore, manager *Manager, logger *slog.Logger) *JobQueue {
	if workers <= 0 {
		workers = 1
	}
	if store == nil {
		store = NewMemoryJobStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobQueue{
		workers: workers,
		store:   store,
		manager: manager,
		logger:  infrastructure.WithComponent(logger, "jobqueue"),
	}
}

// Store returns the job store backing the queue
func (q *JobQueue) Store() JobStore {
	return q.store
}

// Run executes every reference and returns once all runs are sealed. A
// per-batch timeout cancels the runs still in flight; they seal as cancelled.
func (q *JobQueue) Run(ctx context.Context, refs []string) BatchResult {
	started := time.Now()
	ctx = infrastructure.EnsureTraceID(ctx)
	if timeout := q.manager.GetConfig().BatchTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	jobs := make([]*Job, len(refs))
	for i, ref := range refs {
		job := &Job{
			ID:        uuid.NewString(),
			Index:     i,
			SourceRef: ref,
			Status:    JobStatusPending,
			CreatedAt: time.Now().UTC(),
		}
		if err := q.store.CreateJob(job); err != nil {
			q.logger.WarnContext(ctx, "Failed to record job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		}
		jobs[i] = job
	}

	q.logger.InfoContext(ctx, "Batch started",
		slog.Int("runs", len(refs)),
		slog.Int("workers", q.workers))

	progress := NewProgressTracker(len(refs))
	results := make([]domain.RunResult, len(refs))

	var g errgroup.Group
	g.SetLimit(q.workers)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = q.process(ctx, job)
			progress.Increment(job.SourceRef)
			current, total, pct, _ := progress.GetProgress()
			q.logger.InfoContext(ctx, "Batch progress",
				slog.Int("completed", current),
				slog.Int("total", total),
				slog.Float64("percent", pct),
				slog.String("eta", progress.GetETA()))
			return nil
		})
	}
	// workers never return errors; outcomes live in results
	_ = g.Wait()

	batch := BatchResult{
		Runs:     results,
		Total:    len(results),
		Duration: domain.Duration(time.Since(started)),
	}
	for _, r := range results {
		if r.FailedOutright() {
			batch.Failed++
		} else {
			batch.Succeeded++
		}
	}

	q.manager.GetBroadcaster().FinishBatch(ctx, batch)
	q.logger.InfoContext(ctx, "Batch finished",
		slog.Int("runs", batch.Total),
		slog.Int("succeeded", batch.Succeeded),
		slog.Int("failed", batch.Failed),
		slog.String("elapsed", progress.GetElapsedTimeString()),
		slog.Int("exit_code", batch.ExitCode()))
	return batch
}

// process executes a single job
func (q *JobQueue) process(ctx context.Context, job *Job) (result domain.RunResult) {
	logger := q.logger.With(
		slog.String("job_id", job.ID),
		slog.Int("index", job.Index),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Run panicked", slog.Any("panic", r))
			result = domain.RunResult{
				SourceRef:   job.SourceRef,
				Status:      domain.RunStatusResearchFailed,
				FailureKind: "internal",
				Error:       fmt.Sprintf("run panicked: %v", r),
			}
		}
		q.complete(ctx, job, result, logger)
	}()

	now := time.Now().UTC()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	q.updateJob(ctx, job, logger)

	logger.InfoContext(ctx, "Processing run", slog.String("source_ref", job.SourceRef))
	return q.manager.Execute(ctx, job.SourceRef)
}

func (q *JobQueue) complete(ctx context.Context, job *Job, result domain.RunResult, logger *slog.Logger) {
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.RunID = result.RunID
	job.Result = &result
	job.Status = JobStatusCompleted
	if result.FailedOutright() {
		job.Status = JobStatusFailed
	}
	q.updateJob(ctx, job, logger)
}

func (q *JobQueue) updateJob(ctx context.Context, job *Job, logger *slog.Logger) {
	cp := *job
	if err := q.store.UpdateJob(&cp); err != nil {
		logger.WarnContext(ctx, "Failed to update job", slog.String("error", err.Error()))
	}
}

// ListJobs returns jobs matching the filter
func (q *JobQueue) ListJobs(filter JobFilter) ([]*Job, error) {
	return q.store.ListJobs(filter)
}
