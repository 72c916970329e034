//go:build windows

package reaper

import (
	"os"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// killGroup terminates the process by pid. Windows has no process groups in
// the Unix sense; children of the child are not chased.
func killGroup(pid int) {
	if pid <= 0 {
		return
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = p.Kill()
}

// processAlive reports whether a process with the pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

func reraise(sig os.Signal) {
	os.Exit(1)
}
