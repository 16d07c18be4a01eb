package operations

import (
	"context"
	"log/slog"
	"time"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// logRunStart logs the start of a run
func (m *Manager) logRunStart(ctx context.Context, runID, ref, dir string) {
	m.logger.InfoContext(ctx, "Run started",
		slog.String("run_id", runID),
		slog.String("source_ref", ref),
		slog.String("dir", dir))
}

// logRunComplete logs the terminal status of a run
func (m *Manager) logRunComplete(ctx context.Context, result domain.RunResult) {
	level := slog.LevelInfo
	if result.FailedOutright() {
		level = slog.LevelWarn
	}
	m.logger.Log(ctx, level, "Run sealed",
		slog.String("run_id", result.RunID),
		slog.String("status", string(result.Status)),
		slog.String("failure_kind", result.FailureKind),
		slog.String("stage_reached", string(result.StageReached)),
		slog.Int("attempts", result.Attempts),
		slog.Int("tokens", result.Tokens),
		slog.Duration("duration", time.Duration(result.Duration)))
}

// logStageStart logs the start of a stage
func (m *Manager) logStageStart(ctx context.Context, runID string, stage domain.Stage) {
	m.logger.InfoContext(ctx, "Stage started",
		slog.String("run_id", runID),
		slog.String("stage", string(stage)))
}

// logStageComplete logs the completion of a stage
func (m *Manager) logStageComplete(ctx context.Context, runID string, stage domain.Stage, duration time.Duration) {
	m.logger.InfoContext(ctx, "Stage completed",
		slog.String("run_id", runID),
		slog.String("stage", string(stage)),
		slog.Duration("duration", duration))
}

// logStageError logs a stage failure with its kind
func (m *Manager) logStageError(ctx context.Context, runID string, stage domain.Stage, err error) {
	level := slog.LevelError
	if !errors.KindOf(err).IsFailure() {
		level = slog.LevelInfo
	}
	m.logger.Log(ctx, level, "Stage failed",
		slog.String("run_id", runID),
		slog.String("stage", string(stage)),
		slog.String("kind", string(errors.KindOf(err))),
		slog.String("error", err.Error()))
}
