//go:build windows

package service

import (
	"os"
	"os/exec"
)

func configureSysProcAttr(cmd *exec.Cmd) {}

// terminateGroup has no graceful equivalent on Windows; terminate directly.
func terminateGroup(pid int) { killGroup(pid) }

func killGroup(pid int) {
	p, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = p.Kill()
}
