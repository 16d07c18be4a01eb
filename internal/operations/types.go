package operations

import "time"

// Step names shown in the manifest and the progress stream
const (
	StageNameIngest    = "Source Ingestion"
	StageNameResearch  = "Strategy Research"
	StageNameSynthesis = "Backtest Synthesis"
	StageNameDebug     = "Debug Loop"
	StageNameOptimize  = "Optimization Loop"
)

// Run-relative paths of the stage documents
const (
	BriefFile = "brief.txt"
	SpecFile  = "spec.txt"
)

// Default timeouts
const (
	DefaultRunTimeout = 30 * time.Minute
)

// ExecutionMode defines how the runs of a batch are scheduled
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
)
