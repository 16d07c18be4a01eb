package operations

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// RunTracer provides OpenTelemetry instrumentation for runs and their stages
type RunTracer struct {
	tracer  trace.Tracer
	metrics *infrastructure.PipelineMetrics
}

// NewRunTracer creates a tracer on the global providers
func NewRunTracer() *RunTracer {
	return &RunTracer{
		tracer:  infrastructure.Tracer(),
		metrics: infrastructure.MustPipelineMetrics(),
	}
}

// TraceRun creates the span covering one run
func (rt *RunTracer) TraceRun(ctx context.Context, runID, sourceRef string) (context.Context, trace.Span) {
	return rt.tracer.Start(ctx, "rbi.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("run.source_ref", sourceRef),
		),
	)
}

// TraceStage creates a span for one stage of a run
func (rt *RunTracer) TraceStage(ctx context.Context, runID string, stage domain.Stage) (context.Context, trace.Span) {
	return rt.tracer.Start(ctx, fmt.Sprintf("rbi.stage.%s", stage),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("stage.id", string(stage)),
		),
	)
}

// RecordStageCompletion ends a stage span and records its duration
func (rt *RunTracer) RecordStageCompletion(ctx context.Context, span trace.Span, stage domain.Stage, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.kind", string(errors.KindOf(err))))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "stage completed")
	}
	span.SetAttributes(attribute.Float64("stage.duration_seconds", duration.Seconds()))

	rt.metrics.StageDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("status", status),
		),
	)
	span.End()
}

// RecordRunCompletion ends the run span and counts the terminal status
func (rt *RunTracer) RecordRunCompletion(ctx context.Context, span trace.Span, result domain.RunResult) {
	span.SetAttributes(
		attribute.String("run.status", string(result.Status)),
		attribute.String("run.failure_kind", result.FailureKind),
		attribute.Int("run.attempts", result.Attempts),
		attribute.Int("run.tokens", result.Tokens),
	)
	if result.FailedOutright() {
		span.SetStatus(codes.Error, fmt.Sprintf("run ended as %s", result.Status))
	} else {
		span.SetStatus(codes.Ok, string(result.Status))
	}

	rt.metrics.RunsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", string(result.Status))),
	)
	span.End()
}
