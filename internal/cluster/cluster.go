// Package cluster starts and stops an ordered group of services. Later
// members may depend on earlier ones, so starts are strictly sequential and
// teardown always runs in reverse start order.
package cluster

import (
	"context"
	"log/slog"

	"github.com/Adelost/harness/internal/service"
)

// Cluster is an ordered sequence of running services.
type Cluster struct {
	services []*service.Service
}

// Start brings up every spec in order, waiting for each member's readiness
// before starting the next. It is all-or-nothing: when a member fails, every
// already-started member is stopped in reverse order (best-effort, stop
// errors swallowed) and the member's original failure is returned.
func Start(ctx context.Context, specs []service.Spec, opts service.Options) (*Cluster, error) {
	started := make([]*service.Service, 0, len(specs))
	for _, spec := range specs {
		s, err := service.Start(ctx, spec, opts)
		if err != nil {
			rollback(ctx, started)
			return nil, err
		}
		started = append(started, s)
	}
	return &Cluster{services: started}, nil
}

// rollback tears down partially-started members in reverse order. Stop
// failures are logged and discarded so they never mask the start failure.
func rollback(ctx context.Context, started []*service.Service) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil {
			slog.Warn("rollback stop failed", "name", started[i].Name(), "error", err)
		}
	}
}

// Services returns the members in start order.
func (c *Cluster) Services() []*service.Service {
	return append([]*service.Service(nil), c.services...)
}

// Get returns the member with the given name, or nil.
func (c *Cluster) Get(name string) *service.Service {
	for _, s := range c.services {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// StopAll stops every member in reverse start order. Individual stop failures
// are collected but do not prevent later members from getting their stop
// attempt; the first failure is returned.
func (c *Cluster) StopAll(ctx context.Context) error {
	var firstErr error
	for i := len(c.services) - 1; i >= 0; i-- {
		if err := c.services[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop is an alias for StopAll so a Cluster satisfies the same teardown
// interface as a single service.
func (c *Cluster) Stop(ctx context.Context) error { return c.StopAll(ctx) }

// IsHealthy reports the logical AND of every member's health.
func (c *Cluster) IsHealthy(ctx context.Context) bool {
	for _, s := range c.services {
		if !s.IsHealthy(ctx) {
			return false
		}
	}
	return true
}
