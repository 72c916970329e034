package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adelost/harness/internal/env"
	"github.com/Adelost/harness/internal/journal"
	"github.com/Adelost/harness/internal/metrics"
	"github.com/Adelost/harness/internal/reaper"
)

const healthRequestTimeout = 2 * time.Second

// Options carries the shared collaborators a Start call wires into the
// handle. Zero values fall back to the process-wide registry, no journal and
// the plain OS environment.
type Options struct {
	Registry *reaper.Registry
	Journal  *journal.Journal
	Env      *env.Env
}

// Service is the live handle for one started service. It exists only after
// readiness succeeded; failed starts never produce a handle.
type Service struct {
	name        string
	pid         int
	startup     time.Duration
	healthURL   string
	stopTimeout time.Duration
	p           *proc
}

// Start spawns the spec's command, waits for readiness and returns the live
// handle. Every failure is name-tagged; on readiness timeout the child is
// force-killed before the error is returned.
func Start(ctx context.Context, spec Spec, opts Options) (*Service, error) {
	if err := spec.Validate(); err != nil {
		metrics.IncStartFailure(spec.Name, string(KindOf(err)))
		return nil, err
	}
	if err := checkResources(spec); err != nil {
		metrics.IncStartFailure(spec.Name, string(KindOf(err)))
		return nil, err
	}

	e := opts.Env
	if e == nil {
		e = env.New()
	}
	p, err := launch(spec, e.Merge(spec.Env), opts.Registry, opts.Journal)
	if err != nil {
		metrics.IncStartFailure(spec.Name, string(KindOf(err)))
		return nil, err
	}

	begin := time.Now()
	if err := awaitReady(ctx, p, spec); err != nil {
		metrics.IncStartFailure(spec.Name, string(KindOf(err)))
		return nil, err
	}
	startup := time.Since(begin)
	p.markRunning()
	metrics.IncStart(spec.Name)
	metrics.ObserveReadyDuration(spec.Name, startup.Seconds())
	slog.Debug("service ready", "name", spec.Name, "pid", p.pid(), "startup", startup)

	return &Service{
		name:        spec.Name,
		pid:         p.pid(),
		startup:     startup,
		healthURL:   spec.HealthURL,
		stopTimeout: spec.stopTimeout(),
		p:           p,
	}, nil
}

// Name returns the service's unique name.
func (s *Service) Name() string { return s.name }

// PID returns the child's process id.
func (s *Service) PID() int { return s.pid }

// Startup returns the time from spawn until readiness.
func (s *Service) Startup() time.Duration { return s.startup }

// Stdout returns the standard output captured so far.
func (s *Service) Stdout() string { return s.p.out.Stdout() }

// Stderr returns the standard error captured so far.
func (s *Service) Stderr() string { return s.p.out.Stderr() }

// IsAlive reports whether the child has not yet exited. It is a pure check
// against recorded state and performs no I/O.
func (s *Service) IsAlive() bool { return s.p.alive() }

// IsHealthy probes the configured health URL; a 2xx answer within 2s means
// healthy, anything else (including transport errors) means unhealthy. With
// no health URL it degrades to IsAlive. It never returns an error.
func (s *Service) IsHealthy(ctx context.Context) bool {
	if s.healthURL == "" {
		return s.IsAlive()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.healthURL, nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: healthRequestTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Stop terminates the service gracefully, escalating to SIGKILL after the
// spec's stop timeout. Stopping an already-stopped service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	if !s.p.alive() {
		return nil
	}
	err := s.p.stop(ctx, s.stopTimeout)
	metrics.IncStop(s.name)
	return err
}
