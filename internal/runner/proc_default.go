//go:build !unix

package runner

import (
	"errors"
	"os/exec"
	"syscall"
)

const isolationSupported = false

func sysProcAttr(bool) *syscall.SysProcAttr { return nil }

func isolationRefused(error) bool { return false }

func limitAddressSpace(int, uint64) error {
	return errors.New("per-process rlimits are not supported on this platform")
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
