package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/config"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts"
)

const (
	ServiceName = "rbi"
	MeterName   = "github.com/vttilv/moon-dev-ai-agents-sub002"
)

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel installs global tracer and meter providers according to cfg.
// With telemetry disabled the otel globals stay no-op and every instrument
// created through Meter() or Tracer() costs nothing.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	return initializeOTel(cfg, logger, os.Stderr)
}

func initializeOTel(cfg config.TelemetryConfig, logger *slog.Logger, traceOut io.Writer) (*OTelProviders, error) {
	if logger == nil {
		logger = GetLogger()
	}
	providers := &OTelProviders{Logger: logger}
	if !cfg.Enabled {
		return providers, nil
	}

	ctx := context.Background()
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(contracts.Version),
		attribute.Int("process.pid", os.Getpid()),
	)

	if err := initializeTracing(cfg, res, providers, traceOut); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := initializeMetrics(cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_exporter", cfg.MetricExporter))

	return providers, nil
}

// initializeTracing sets up OpenTelemetry tracing
func initializeTracing(cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders, out io.Writer) error {
	switch cfg.TraceExporter {
	case "none", "":
		return nil
	case "stdout":
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	providers.TracerProvider = tp
	otel.SetTracerProvider(tp)
	return nil
}

// initializeMetrics sets up OpenTelemetry metrics backed by a private
// Prometheus registry so repeated initialisation never collides.
func initializeMetrics(cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	switch cfg.MetricExporter {
	case "none", "":
		return nil
	case "prometheus":
	default:
		return fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	providers.MeterProvider = mp
	providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	otel.SetMeterProvider(mp)
	return nil
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the pipeline tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(MeterName)
}

// Meter returns the pipeline meter from the global provider
func Meter() metric.Meter {
	return otel.Meter(MeterName)
}

// RecordSpanError marks the span in ctx as failed
func RecordSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}

// PipelineMetrics holds the instruments recorded by the pipeline
type PipelineMetrics struct {
	RunsTotal       metric.Int64Counter
	LLMCallsTotal   metric.Int64Counter
	LLMTokensTotal  metric.Int64Counter
	AttemptsTotal   metric.Int64Counter
	AttemptDuration metric.Float64Histogram
	StageDuration   metric.Float64Histogram
}

// NewPipelineMetrics creates the pipeline instruments on meter
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		meter = Meter()
	}

	runsTotal, err := meter.Int64Counter("rbi_runs_total",
		metric.WithDescription("Total number of runs by terminal status"))
	if err != nil {
		return nil, err
	}
	llmCalls, err := meter.Int64Counter("rbi_llm_calls_total",
		metric.WithDescription("Total number of LLM gateway calls by provider and outcome"))
	if err != nil {
		return nil, err
	}
	llmTokens, err := meter.Int64Counter("rbi_llm_tokens_total",
		metric.WithDescription("Total number of LLM tokens consumed"))
	if err != nil {
		return nil, err
	}
	attempts, err := meter.Int64Counter("rbi_attempts_total",
		metric.WithDescription("Total number of backtest attempts by stage and outcome"))
	if err != nil {
		return nil, err
	}
	attemptDuration, err := meter.Float64Histogram("rbi_attempt_duration_seconds",
		metric.WithDescription("Backtest attempt wall-clock duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	stageDuration, err := meter.Float64Histogram("rbi_stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		RunsTotal:       runsTotal,
		LLMCallsTotal:   llmCalls,
		LLMTokensTotal:  llmTokens,
		AttemptsTotal:   attempts,
		AttemptDuration: attemptDuration,
		StageDuration:   stageDuration,
	}, nil
}

// MustPipelineMetrics is NewPipelineMetrics on the global meter, falling back
// to no-op instruments if creation fails.
func MustPipelineMetrics() *PipelineMetrics {
	m, err := NewPipelineMetrics(nil)
	if err != nil {
		GetLogger().Warn("pipeline metrics unavailable", slog.String("error", err.Error()))
		m, _ = NewPipelineMetrics(noop.NewMeterProvider().Meter(MeterName))
	}
	return m
}
