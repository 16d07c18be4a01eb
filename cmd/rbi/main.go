// Command rbi turns trading-strategy sources into debugged, optimized
// backtest programs.
//
//	rbi run <ref> [<ref> ...] [flags]
//	rbi show <run-dir>
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts"
)

const usage = `usage:
  rbi run <ref> [<ref> ...] [flags]   research, synthesize, debug and optimize each ref
  rbi show <run-dir>                  print the summary and stage graph of a run
  rbi version

A ref is a URL, a YouTube link, a PDF or text file path, or raw strategy text.
A ref starting with @ names a file holding one ref per line.
Run "rbi run -h" for the run flags.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches the subcommand and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return operations.ExitInvalidArgs
	}
	switch args[0] {
	case "run":
		return cmdRun(args[1:], stdout, stderr)
	case "show":
		return cmdShow(args[1:], stdout, stderr)
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return operations.ExitOK
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return operations.ExitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return operations.ExitInvalidArgs
	}
}
