package service

import (
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Stats is a point-in-time snapshot of the service's process. MemoryMB is nil
// when the host does not expose process accounting or the process has exited.
type Stats struct {
	PID      int
	Uptime   time.Duration
	MemoryMB *float64
}

// Stats never fails; fields degrade to zero/nil when unavailable.
func (s *Service) Stats() Stats {
	st := Stats{
		PID:    s.pid,
		Uptime: time.Since(s.p.startedAt),
	}
	if !s.p.alive() {
		return st
	}
	if mb, ok := residentMemoryMB(s.pid); ok {
		st.MemoryMB = &mb
	}
	return st
}

// residentMemoryMB reads the process's resident set size via gopsutil.
func residentMemoryMB(pid int) (float64, bool) {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0, false
	}
	mi, err := p.MemoryInfo()
	if err != nil || mi == nil {
		return 0, false
	}
	return float64(mi.RSS) / (1024 * 1024), true
}
