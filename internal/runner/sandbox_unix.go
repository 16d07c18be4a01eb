//go:build unix && !linux

package runner

import (
	"errors"
	"syscall"
)

const isolationSupported = false

func sysProcAttr(bool) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func isolationRefused(error) bool { return false }

func limitAddressSpace(int, uint64) error {
	return errors.New("per-process rlimits are only applied on linux")
}
