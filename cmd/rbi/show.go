package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/artifacts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// ShowOutput is what `rbi show` prints: the run summary, the optimization
// summary and the stage graph rebuilt from disk
type ShowOutput struct {
	Run          domain.RunResult            `json:"run"`
	Optimization *domain.OptimizationSummary `json:"optimization,omitempty"`
	Graph        artifacts.Graph             `json:"graph"`
	Verified     bool                        `json:"verified"`
	Error        string                      `json:"error,omitempty"`
}

// cmdShow replays a run directory. It exits 2 when an artifact fails digest
// verification and 3 when the directory holds no readable manifest.
func cmdShow(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: rbi show <run-dir>")
		return operations.ExitInvalidArgs
	}
	dir := args[0]

	graph, mf, err := artifacts.Replay(dir)
	if mf == nil {
		fmt.Fprintln(stderr, "rbi show:", err)
		return operations.ExitInvalidArgs
	}

	out := ShowOutput{
		Run:          operations.ResultFromManifest(mf, dir, mf.UpdatedAt.Sub(mf.CreatedAt)),
		Optimization: mf.Optimization,
		Graph:        graph,
		Verified:     err == nil,
	}
	code := operations.ExitOK
	if err != nil {
		out.Graph = artifacts.BuildGraph(mf)
		out.Error = err.Error()
		code = operations.ExitRunsFailed
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(stderr, "rbi show:", err)
		return operations.ExitInvalidArgs
	}
	return code
}
