package service

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/Adelost/harness/internal/journal"
	"github.com/Adelost/harness/internal/metrics"
	"github.com/Adelost/harness/internal/reaper"
)

// proc is the live handle around one spawned child. It is created by launch
// and owned jointly by the Service built on top of it and the zombie
// registry; the monitor goroutine started in launch is the only caller of
// cmd.Wait.
type proc struct {
	name      string
	cmd       *exec.Cmd
	out       *Output
	startedAt time.Time
	waitDone  chan struct{} // closed by the monitor once the child is reaped

	mu      sync.Mutex
	exited  bool
	exitErr error
	counted bool // in the running gauge; the monitor undoes it on exit

	registry *reaper.Registry
	journal  *journal.Journal
}

// launch spawns the spec's command with stdin disabled and both output
// streams captured. It returns as soon as the process is running; readiness
// is the caller's concern. The child is registered with the zombie registry
// before launch returns, so there is no window in which a spawned process is
// untracked.
func launch(spec Spec, mergedEnv []string, reg *reaper.Registry, jr *journal.Journal) (*proc, error) {
	if reg == nil {
		reg = reaper.Default()
	}
	// #nosec G204 -- the whole point is to run the caller's command
	cmd := exec.Command(spec.Command, spec.Args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd)

	out := &Output{}
	var closers []io.Closer
	stdout := out.StdoutWriter()
	stderr := out.StderrWriter()
	if spec.Log.Enabled() {
		fileOut, fileErr, err := spec.Log.Writers(spec.Name)
		if err != nil {
			return nil, newError(spec.Name, KindConfig, "log capture: %v", err)
		}
		if fileOut != nil {
			stdout = io.MultiWriter(stdout, fileOut)
			closers = append(closers, fileOut)
		}
		if fileErr != nil {
			stderr = io.MultiWriter(stderr, fileErr)
			closers = append(closers, fileErr)
		}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		e := newError(spec.Name, KindSpawn, "failed to start %q: %v", spec.Command, err)
		e.Err = err
		return nil, e
	}

	pid := cmd.Process.Pid
	p := &proc{
		name:      spec.Name,
		cmd:       cmd,
		out:       out,
		startedAt: time.Now(),
		waitDone:  make(chan struct{}),
		registry:  reg,
		journal:   jr,
	}
	// Register before any other consumer can observe the handle.
	reg.Add(pid, spec.Name)
	_ = jr.RecordSpawn(context.Background(), spec.Name, pid, reaper.StartUnix(pid))

	go p.monitor(closers)
	return p, nil
}

// monitor owns cmd.Wait. It records the terminal state, releases the child
// from the zombie registry and closes any mirror writers.
func (p *proc) monitor(closers []io.Closer) {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.exitErr = err
	counted := p.counted
	p.mu.Unlock()
	if counted {
		metrics.DecRunning()
	}
	for _, c := range closers {
		_ = c.Close()
	}
	p.registry.Remove(p.pid())
	_ = p.journal.RecordExit(context.Background(), p.pid())
	close(p.waitDone)
}

// markRunning counts the child in the running gauge once readiness
// succeeded. The mutex orders it against the monitor: whichever runs second
// settles the gauge, so a child that exits right after readiness nets zero.
func (p *proc) markRunning() {
	p.mu.Lock()
	alreadyExited := p.exited
	p.counted = true
	p.mu.Unlock()
	metrics.IncRunning()
	if alreadyExited {
		metrics.DecRunning()
	}
}

func (p *proc) pid() int { return p.cmd.Process.Pid }

// alive is a pure check against the recorded terminal state; it performs no
// I/O and never blocks.
func (p *proc) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

// exitCode returns the child's exit code once it has exited. The second
// result is false while it is still running.
func (p *proc) exitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exited {
		return 0, false
	}
	if p.cmd.ProcessState != nil {
		return p.cmd.ProcessState.ExitCode(), true
	}
	return -1, true
}

// stop sends SIGTERM to the process group, waits up to wait for a voluntary
// exit and escalates to SIGKILL. Stopping an already-exited child is a no-op.
func (p *proc) stop(ctx context.Context, wait time.Duration) error {
	if !p.alive() {
		return nil
	}
	terminateGroup(p.pid())
	select {
	case <-p.waitDone:
		return nil
	case <-ctx.Done():
	case <-time.After(wait):
	}
	return p.kill()
}

// kill SIGKILLs the process group and waits for the monitor to reap it, so
// that alive() is false by the time kill returns.
func (p *proc) kill() error {
	if !p.alive() {
		return nil
	}
	killGroup(p.pid())
	select {
	case <-p.waitDone:
	case <-time.After(2 * time.Second):
		// best-effort; the zombie registry still holds the pid
	}
	return nil
}
