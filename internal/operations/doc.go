// Package operations drives the stage graph of a run and the batch of runs
// started by one CLI invocation.
//
// Core Components:
//
// Step: one pipeline stage (ingest, research, synthesis, debug, optimize).
// Steps communicate only through RunState, and every output they produce is
// written to the run directory before the next step reads it.
//
// Registry: holds the registered steps and returns them in dependency order.
//
// Manager: executes the steps of one run in strict order under the run's
// wall-clock timeout, records stage timings in the manifest, decides which
// failures are terminal and seals the run with exactly one terminal status.
//
// StatusBroadcaster: keeps a snapshot per run and publishes progress frames
// (one per stage transition and per attempt) to any number of sinks.
//
// JobQueue: runs a batch of references, sequentially by default or on a
// bounded pool of workers, and collects one RunResult per reference.
//
// Example usage:
//
//	manager := operations.NewManager(deps, operations.ConfigFromApp(cfg), broadcaster, logger)
//	queue := operations.NewJobQueue(cfg.Pipeline.Workers, operations.NewMemoryJobStore(), manager, logger)
//	batch := queue.Run(ctx, refs)
//	os.Exit(batch.ExitCode())
package operations
