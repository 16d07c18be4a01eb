package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/config"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/exporter"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/ingest"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/llm"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/prompts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/runner"
	transporthttp "github.com/vttilv/moon-dev-ai-agents-sub002/internal/transport/http"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/validation"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/websocket"
)

const shutdownTimeout = 5 * time.Second

// cmdRun executes `rbi run` and returns the batch exit code
func cmdRun(args []string, stdout, stderr io.Writer) int {
	flags, err := parseRunFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return operations.ExitOK
		}
		fmt.Fprintln(stderr, "rbi run:", err)
		return operations.ExitInvalidArgs
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		fmt.Fprintln(stderr, "rbi run:", err)
		return operations.ExitInvalidArgs
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "rbi run: invalid arguments:", err)
		return operations.ExitInvalidArgs
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(stderr, "rbi run: failed to initialize logger:", err)
		return operations.ExitInvalidArgs
	}
	defer infrastructure.CloseLogFile()

	fv := validation.NewFileValidator(logger)
	if _, err := fv.ValidateDataFile(cfg.Paths.DataFile); err != nil {
		fmt.Fprintln(stderr, "rbi run:", err)
		return operations.ExitInvalidArgs
	}
	if err := fv.ValidateOutputDirectory(cfg.Paths.OutDir); err != nil {
		fmt.Fprintln(stderr, "rbi run:", err)
		return operations.ExitInvalidArgs
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sinks []operations.Sink
	if flags.Progress {
		sinks = append(sinks, newProgressWriter(stderr))
	}
	return execute(ctx, cfg, flags, logger, stdout, stderr, sinks...)
}

// execute wires the pipeline from cfg, runs the batch and writes the summaries
func execute(ctx context.Context, cfg *config.Config, flags *RunFlags, logger *slog.Logger, stdout, stderr io.Writer, sinks ...operations.Sink) int {
	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		fmt.Fprintln(stderr, "rbi run: telemetry:", err)
		return operations.ExitInvalidArgs
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	store, err := artifacts.NewStore(cfg.Paths.OutDir)
	if err != nil {
		fmt.Fprintln(stderr, "rbi run:", err)
		return operations.ExitInvalidArgs
	}
	prm, err := prompts.Load(cfg.Paths.TemplateDir)
	if err != nil {
		fmt.Fprintln(stderr, "rbi run:", err)
		return operations.ExitInvalidArgs
	}
	keys, err := llm.LoadKeys()
	if err != nil {
		fmt.Fprintln(stderr, "rbi run: provider keys:", err)
		return operations.ExitInvalidArgs
	}

	gateway := llm.FromConfig(cfg.LLM, keys, nil, nil, logger)
	logger.Info("LLM providers configured", slog.Any("providers", gateway.Providers()))

	runCfg := operations.ConfigFromApp(cfg)
	broadcaster := operations.NewStatusBroadcaster(logger, sinks...)
	manager := operations.NewManager(operations.Dependencies{
		Store:    store,
		Ingestor: ingest.New(ingest.OptionsFromConfig(cfg.Ingest), logger),
		Executor: runner.New(runner.OptionsFromConfig(cfg.Runner, cfg.Paths.DataFile), logger),
		Prompts:  prm,
		Clients:  operations.GatewayClients(gateway, cfg.LLM.TokenBudget),
	}, runCfg, broadcaster, logger)
	queue := operations.NewJobQueue(runCfg.Workers, nil, manager, logger)

	if cfg.Telemetry.Addr != "" {
		hub := websocket.NewHub(logger)
		hub.Start()
		defer hub.Stop()
		broadcaster.AddSink(hub)

		server := transporthttp.NewServer(transporthttp.Options{
			Addr:        cfg.Telemetry.Addr,
			Metrics:     providers.PrometheusHTTP,
			Hub:         hub,
			Jobs:        queue.Store(),
			Broadcaster: broadcaster,
			ActiveRuns:  manager.ActiveRuns,
			RunsRoot:    store.Root(),
			Logger:      logger,
		})
		if _, err := server.Start(); err != nil {
			fmt.Fprintln(stderr, "rbi run:", err)
			return operations.ExitInvalidArgs
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(sctx); err != nil {
				logger.Warn("Monitoring server shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	batch := queue.Run(ctx, flags.Refs)

	enc := json.NewEncoder(stdout)
	for _, r := range batch.Runs {
		if err := enc.Encode(r); err != nil {
			logger.Warn("Failed to print run summary", slog.String("error", err.Error()))
		}
	}

	if _, err := exporter.WriteSummaryCSV(store.Root(), batch.Runs, logger); err != nil {
		logger.Error("Failed to write batch summary", slog.String("error", err.Error()))
	}
	if flags.SummaryXLSX {
		if _, err := exporter.WriteSummaryXLSX(store.Root(), batch.Runs, logger); err != nil {
			logger.Error("Failed to write summary workbook", slog.String("error", err.Error()))
		}
	}

	return batch.ExitCode()
}
