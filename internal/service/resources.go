package service

import (
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

// checkResources enforces the spec's GPU requirement before anything is
// spawned. RAM/VRAM minimums are advisory: shortfalls are logged, not fatal.
func checkResources(spec Spec) error {
	r := spec.Resources
	if r == nil {
		return nil
	}
	vramMB, hasGPU := gpuMemoryMB()
	if r.GPU && !hasGPU {
		return newError(spec.Name, KindResources, "requires a GPU but none was detected")
	}
	if r.MinVRAMMB > 0 && hasGPU && vramMB < r.MinVRAMMB {
		slog.Warn("less VRAM than requested", "name", spec.Name, "want_mb", r.MinVRAMMB, "have_mb", vramMB)
	}
	if r.MinRAMMB > 0 {
		if vm, err := mem.VirtualMemory(); err == nil {
			haveMB := int(vm.Total / (1024 * 1024))
			if haveMB < r.MinRAMMB {
				slog.Warn("less RAM than requested", "name", spec.Name, "want_mb", r.MinRAMMB, "have_mb", haveMB)
			}
		}
	}
	return nil
}

// gpuMemoryMB queries nvidia-smi for total VRAM. A missing or failing tool
// means "no GPU", never an error.
func gpuMemoryMB() (int, bool) {
	out, err := exec.Command("nvidia-smi", "--query-gpu=memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, false
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
