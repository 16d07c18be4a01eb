//go:build unix

package runner

import (
	"errors"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// killGroup kills the child and everything it spawned
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
