// Package harness starts external service processes for integration tests,
// waits for them to become ready, and guarantees they are torn down even when
// the test run crashes or is interrupted.
package harness

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adelost/harness/internal/cluster"
	cfg "github.com/Adelost/harness/internal/config"
	"github.com/Adelost/harness/internal/journal"
	"github.com/Adelost/harness/internal/logger"
	"github.com/Adelost/harness/internal/metrics"
	"github.com/Adelost/harness/internal/reaper"
	iapi "github.com/Adelost/harness/internal/server"
	"github.com/Adelost/harness/internal/service"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = service.Spec

type Ready = service.Ready

type Resources = service.Resources

type Service = service.Service

type Stats = service.Stats

type Cluster = cluster.Cluster

type Options = service.Options

// Start spawns the service described by spec and blocks until it is ready or
// the start timeout elapses. Failed starts never return a handle; the spawned
// process (if any) is killed before the error is reported.
func Start(spec Spec) (*Service, error) {
	return StartContext(context.Background(), spec)
}

func StartContext(ctx context.Context, spec Spec) (*Service, error) {
	return service.Start(ctx, spec, service.Options{Journal: activeJournal.Load()})
}

// StartCluster starts the given specs strictly in order. If any member fails
// to become ready, the already-started members are stopped in reverse order
// and the original failure is returned.
func StartCluster(specs []Spec) (*Cluster, error) {
	return StartClusterContext(context.Background(), specs)
}

func StartClusterContext(ctx context.Context, specs []Spec) (*Cluster, error) {
	return cluster.Start(ctx, specs, service.Options{Journal: activeJournal.Load()})
}

// Stopper is satisfied by both *Service and *Cluster.
type Stopper interface {
	Stop(ctx context.Context) error
}

// AutoCleanup ties s's teardown to the end of the test (or suite, when called
// from TestMain helpers with a testing.TB wrapper). Stop errors fail nothing;
// an already-stopped s is a no-op.
func AutoCleanup(t testing.TB, s Stopper) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
}

// Measure runs fn and returns its result paired with the elapsed wall time.
func Measure[T any](fn func() (T, error)) (T, time.Duration, error) {
	start := time.Now()
	v, err := fn()
	return v, time.Since(start), err
}

// Perf holds caller thresholds for AssertPerformance. Zero values disable the
// corresponding check.
type Perf struct {
	MaxStartup  time.Duration
	MaxMemoryMB float64
}

// AssertPerformance compares s's recorded startup time and current resident
// memory against the given thresholds and returns a name-tagged error on the
// first violation.
func AssertPerformance(s *Service, p Perf) error {
	if p.MaxStartup > 0 && s.Startup() > p.MaxStartup {
		return fmt.Errorf("[%s] Startup too slow: %v > %v", s.Name(), s.Startup().Round(time.Millisecond), p.MaxStartup)
	}
	if p.MaxMemoryMB > 0 {
		st := s.Stats()
		if st.MemoryMB != nil && *st.MemoryMB > p.MaxMemoryMB {
			return fmt.Errorf("[%s] Memory too high: %.1fMB > %.1fMB", s.Name(), *st.MemoryMB, p.MaxMemoryMB)
		}
	}
	return nil
}

// activeJournal is shared between UseJournal/Shutdown and every Start call;
// atomic because tests may start services while TestMain tears down.
var activeJournal atomic.Pointer[journal.Journal]

// Install hooks SIGINT/SIGTERM so every process spawned through this package
// is force-killed before the signal is re-raised. Call once, typically from
// TestMain, paired with a deferred Shutdown.
func Install() { reaper.Default().Install() }

// Shutdown sweeps any process still registered and detaches the signal
// handlers. Safe to call multiple times.
func Shutdown() {
	reaper.Default().Shutdown()
	if j := activeJournal.Swap(nil); j != nil {
		_ = j.Close()
	}
}

// UseJournal enables the crash-proof spawn journal at path. Zombies recorded
// by previous runs that died without cleaning up are killed on the next
// Install. Journal failures degrade supervision, they never break it.
func UseJournal(path string) error {
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	activeJournal.Store(j)
	reaper.Default().SetJournal(j)
	return nil
}

// SetupLogging installs the package's colored slog handler as the default
// logger. level is one of debug, info, warn, error.
func SetupLogging(level string, color bool) { logger.Setup(level, color) }

type Config = cfg.Config

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing status/stop/healthz/metrics
// endpoints over the given cluster.
func NewHTTPServer(addr, basePath string, c *Cluster) *http.Server {
	return iapi.NewServer(addr, basePath, c)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
