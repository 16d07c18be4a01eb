//go:build linux

package runner

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const isolationSupported = true

// sysProcAttr puts the child in its own process group and, when isolate is
// set, in fresh user and network namespaces. The new network namespace has
// only a loopback device that is down, so every connection attempt fails.
func sysProcAttr(isolate bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if isolate {
		attr.Cloneflags = uintptr(unix.CLONE_NEWUSER | unix.CLONE_NEWNET)
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getuid(), HostID: os.Getuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getgid(), HostID: os.Getgid(), Size: 1}}
	}
	return attr
}

// isolationRefused reports whether a start failure came from the kernel
// refusing unprivileged namespaces (sysctl, AppArmor or seccomp in containers)
func isolationRefused(err error) bool {
	return errors.Is(err, unix.EPERM) || errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EACCES)
}

func limitAddressSpace(pid int, bytes uint64) error {
	lim := &unix.Rlimit{Cur: bytes, Max: bytes}
	return unix.Prlimit(pid, unix.RLIMIT_AS, lim, nil)
}
