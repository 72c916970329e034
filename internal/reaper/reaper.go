// Package reaper tracks every process the harness spawns for the lifetime of
// the test run and force-kills whatever is still registered when the run is
// torn down or interrupted. It is the mechanism that keeps crashed or
// interrupted test runs from leaving child services behind.
package reaper

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Adelost/harness/internal/journal"
	"github.com/Adelost/harness/internal/metrics"
)

type entry struct {
	name string
	pid  int
}

// Registry is a process-wide set of live child processes. Insertions happen
// at launch, removals on each child's own exit; Sweep kills and clears
// everything left.
type Registry struct {
	mu      sync.Mutex
	procs   map[int]entry
	sigCh   chan os.Signal
	sigDone chan struct{}
	journal *journal.Journal
}

func New() *Registry {
	return &Registry{procs: make(map[int]entry)}
}

// defaultRegistry covers the whole test-run process, regardless of which test
// created a service.
var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Add registers a spawned process. It must be called before any other
// consumer can observe the process handle.
func (r *Registry) Add(pid int, name string) {
	if pid <= 0 {
		return
	}
	r.mu.Lock()
	r.procs[pid] = entry{name: name, pid: pid}
	r.mu.Unlock()
}

// Remove deregisters a process, normally on its own exit.
func (r *Registry) Remove(pid int) {
	r.mu.Lock()
	delete(r.procs, pid)
	r.mu.Unlock()
}

// Len reports how many processes are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// SetJournal attaches a spawn journal used by Install's stale sweep.
func (r *Registry) SetJournal(j *journal.Journal) {
	r.mu.Lock()
	r.journal = j
	r.mu.Unlock()
}

// Sweep force-kills every registered process group and clears the set. Kill
// errors on already-dead processes are ignored; Sweep never fails.
func (r *Registry) Sweep() {
	r.mu.Lock()
	victims := make([]entry, 0, len(r.procs))
	for _, e := range r.procs {
		victims = append(victims, e)
	}
	r.procs = make(map[int]entry)
	r.mu.Unlock()

	for _, e := range victims {
		slog.Warn("reaping leftover service process", "name", e.name, "pid", e.pid)
		killGroup(e.pid)
	}
	metrics.AddZombiesReaped(len(victims))
}

// Install hooks SIGINT and SIGTERM so that an interrupted run sweeps its
// children before dying, and kills stale children recorded by previous runs
// in the attached journal. It is idempotent per registry.
func (r *Registry) Install() {
	r.mu.Lock()
	if r.sigCh != nil {
		r.mu.Unlock()
		return
	}
	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	r.sigCh = ch
	r.sigDone = done
	j := r.journal
	r.mu.Unlock()

	r.sweepStaleFrom(context.Background(), j)

	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-ch:
			r.Sweep()
			// Restore default disposition and re-raise so the run still dies
			// with the conventional exit status.
			signal.Stop(ch)
			reraise(sig)
		case <-done:
		}
	}()
}

// Uninstall detaches the signal handler without sweeping.
func (r *Registry) Uninstall() {
	r.mu.Lock()
	ch, done := r.sigCh, r.sigDone
	r.sigCh, r.sigDone = nil, nil
	r.mu.Unlock()
	if ch != nil {
		signal.Stop(ch)
		close(done)
	}
}

// Shutdown sweeps and detaches; intended for a TestMain defer.
func (r *Registry) Shutdown() {
	r.Uninstall()
	r.Sweep()
}

// SweepStale kills children recorded by previous runs using the attached
// journal. See sweepStaleFrom.
func (r *Registry) SweepStale(ctx context.Context) {
	r.mu.Lock()
	j := r.journal
	r.mu.Unlock()
	r.sweepStaleFrom(ctx, j)
}

// StartUnix reports the kernel start time for pid as Unix seconds, 0 when
// unknown.
func StartUnix(pid int) int64 { return procStartUnix(pid) }

// Alive reports whether pid refers to a live process.
func Alive(pid int) bool { return processAlive(pid) }

// sweepStaleFrom kills children recorded by previous runs that are still
// around: the spawning run must be gone and the pid must still refer to the
// process recorded at spawn time (start-time identity check guards against
// pid reuse).
func (r *Registry) sweepStaleFrom(ctx context.Context, j *journal.Journal) {
	orphans, err := j.Orphans(ctx)
	if err != nil {
		slog.Warn("zombie journal scan failed", "error", err)
		return
	}
	reaped := 0
	for _, e := range orphans {
		if processAlive(e.RunnerPID) {
			// The run that spawned it is still alive; not ours to touch.
			continue
		}
		if processAlive(e.PID) && e.StartUnix != 0 && procStartUnix(e.PID) == e.StartUnix {
			slog.Warn("killing zombie from previous run", "name", e.Name, "pid", e.PID, "run", e.RunID)
			killGroup(e.PID)
			reaped++
		}
		_ = j.Resolve(ctx, e)
	}
	metrics.AddZombiesReaped(reaped)
}
