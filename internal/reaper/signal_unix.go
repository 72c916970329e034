//go:build !windows

package reaper

import (
	"os"
	"syscall"
)

// killGroup SIGKILLs the process group, falling back to the single pid when
// the group signal fails. Errors are ignored; the target may already be gone.
func killGroup(pid int) {
	if pid <= 0 {
		return
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

// processAlive reports whether a process with the pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// reraise restores the default disposition by re-sending the signal to self.
func reraise(sig os.Signal) {
	if s, ok := sig.(syscall.Signal); ok {
		_ = syscall.Kill(os.Getpid(), s)
		return
	}
	os.Exit(1)
}
