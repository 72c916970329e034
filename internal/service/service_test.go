//go:build !windows

package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adelost/harness/internal/metrics"
	"github.com/Adelost/harness/internal/reaper"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func shSpec(name, script string) Spec {
	return Spec{Name: name, Command: "sh", Args: []string{"-c", script}}
}

func mustStop(t *testing.T, s *Service) {
	t.Helper()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop %s: %v", s.Name(), err)
	}
}

func TestStartResolvesOnSignal(t *testing.T) {
	requireUnix(t)
	spec := shSpec("web", "echo Ready on port 4321; sleep 30")
	spec.Ready = Ready{Signal: "Ready on port"}
	spec.StartTimeout = 5 * time.Second

	s, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsAlive() {
		t.Fatalf("service should be alive after readiness")
	}
	if s.PID() <= 0 {
		t.Fatalf("pid not recorded: %d", s.PID())
	}
	if !strings.Contains(s.Stdout(), "Ready on port 4321") {
		t.Fatalf("stdout not captured: %q", s.Stdout())
	}
	mustStop(t, s)
	if s.IsAlive() {
		t.Fatalf("service alive after stop")
	}
	// Idempotent: a second stop resolves without error.
	mustStop(t, s)
}

func TestStartMatchesSignalOnStderr(t *testing.T) {
	requireUnix(t)
	spec := shSpec("errsig", "echo listening 1>&2; sleep 30")
	spec.Ready = Ready{Signal: "listening"}
	spec.StartTimeout = 5 * time.Second

	s, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mustStop(t, s)
	if !strings.Contains(s.Stderr(), "listening") {
		t.Fatalf("stderr not captured: %q", s.Stderr())
	}
}

func TestStartRejectsOnEarlyExit(t *testing.T) {
	requireUnix(t)
	spec := shSpec("crasher", "echo boom; exit 3")
	spec.Ready = Ready{Signal: "never-printed"}
	spec.StartTimeout = 5 * time.Second

	_, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err == nil {
		t.Fatalf("expected early-exit error")
	}
	if KindOf(err) != KindEarlyExit {
		t.Fatalf("kind = %q, want early_exit (%v)", KindOf(err), err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "[crasher]") || !strings.Contains(msg, "code 3") || !strings.Contains(msg, "boom") {
		t.Fatalf("diagnostic incomplete: %q", msg)
	}
}

func TestStartSignalRaceWithExit(t *testing.T) {
	requireUnix(t)
	// The signal and the exit arrive essentially together; the match must win.
	spec := shSpec("oneshot", "echo ready-now")
	spec.Ready = Ready{Signal: "ready-now"}
	spec.StartTimeout = 5 * time.Second

	s, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	mustStop(t, s)
}

func TestStartTimesOutAndKills(t *testing.T) {
	requireUnix(t)
	reg := reaper.New()
	spec := shSpec("stuck", "sleep 30")
	spec.Ready = Ready{Signal: "never"}
	spec.StartTimeout = 300 * time.Millisecond

	_, err := Start(context.Background(), spec, Options{Registry: reg})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("kind = %q, want timeout (%v)", KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "Not ready within") || !strings.Contains(err.Error(), "[stuck]") {
		t.Fatalf("diagnostic incomplete: %q", err.Error())
	}
	// The child was force-killed and reaped: nothing is left registered.
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Fatalf("timed-out child still registered")
	}
}

func TestStartConfigErrorSpawnsNothing(t *testing.T) {
	requireUnix(t)
	reg := reaper.New()
	spec := shSpec("misconfigured", "sleep 30")

	_, err := Start(context.Background(), spec, Options{Registry: reg})
	if err == nil || !IsConfig(err) {
		t.Fatalf("expected config error, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("config error must not leave a process behind")
	}
}

func TestStartSpawnError(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "ghost", Command: "/nonexistent/binary-xyz", Ready: Ready{Signal: "x"}}
	_, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err == nil || KindOf(err) != KindSpawn {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if !strings.Contains(err.Error(), "[ghost]") {
		t.Fatalf("spawn error not name-tagged: %q", err.Error())
	}
}

func TestStartURLReadiness(t *testing.T) {
	requireUnix(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	spec := shSpec("urlsvc", "sleep 30")
	spec.Ready = Ready{URL: srv.URL, Interval: 30 * time.Millisecond}
	spec.StartTimeout = 5 * time.Second

	s, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mustStop(t, s)
	if hits.Load() < 3 {
		t.Fatalf("readiness resolved after %d probes", hits.Load())
	}
}

func TestStartURLEarlyExit(t *testing.T) {
	requireUnix(t)
	spec := shSpec("urlcrash", "exit 7")
	spec.Ready = Ready{URL: "http://127.0.0.1:1/never", Interval: 30 * time.Millisecond}
	spec.StartTimeout = 5 * time.Second

	_, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err == nil || KindOf(err) != KindEarlyExit {
		t.Fatalf("expected early-exit error, got %v", err)
	}
	if !strings.Contains(err.Error(), "code 7") {
		t.Fatalf("exit code missing: %q", err.Error())
	}
}

func TestIsHealthy(t *testing.T) {
	requireUnix(t)
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	spec := shSpec("healthsvc", "echo up; sleep 30")
	spec.Ready = Ready{Signal: "up"}
	spec.HealthURL = srv.URL
	spec.StartTimeout = 5 * time.Second

	s, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mustStop(t, s)

	ctx := context.Background()
	if s.IsHealthy(ctx) {
		t.Fatalf("unhealthy endpoint reported healthy")
	}
	healthy.Store(true)
	if !s.IsHealthy(ctx) {
		t.Fatalf("healthy endpoint reported unhealthy")
	}
}

func TestIsHealthyFallsBackToAlive(t *testing.T) {
	requireUnix(t)
	spec := shSpec("plain", "echo up; sleep 30")
	spec.Ready = Ready{Signal: "up"}
	spec.StartTimeout = 5 * time.Second

	s, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsHealthy(context.Background()) {
		t.Fatalf("alive service without health URL should be healthy")
	}
	mustStop(t, s)
	if s.IsHealthy(context.Background()) {
		t.Fatalf("stopped service should not be healthy")
	}
}

func TestStats(t *testing.T) {
	requireUnix(t)
	spec := shSpec("statsvc", "echo up; sleep 30")
	spec.Ready = Ready{Signal: "up"}
	spec.StartTimeout = 5 * time.Second

	s, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := s.Stats()
	if st.PID != s.PID() || st.Uptime <= 0 {
		t.Fatalf("stats snapshot wrong: %+v", st)
	}
	if runtime.GOOS == "linux" && st.MemoryMB == nil {
		t.Fatalf("resident memory should be readable on linux")
	}
	if st.MemoryMB != nil && *st.MemoryMB <= 0 {
		t.Fatalf("memory should be positive, got %v", *st.MemoryMB)
	}

	mustStop(t, s)
	st = s.Stats()
	if st.MemoryMB != nil {
		t.Fatalf("memory should be nil after exit")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	requireUnix(t)
	// Ignores SIGTERM; must fall to SIGKILL within the stop timeout.
	spec := shSpec("stubborn", "trap '' TERM; echo up; sleep 30")
	spec.Ready = Ready{Signal: "up"}
	spec.StartTimeout = 5 * time.Second
	spec.StopTimeout = 200 * time.Millisecond

	s, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	begin := time.Now()
	mustStop(t, s)
	if s.IsAlive() {
		t.Fatalf("service alive after escalation")
	}
	if time.Since(begin) > 5*time.Second {
		t.Fatalf("stop escalation took too long: %v", time.Since(begin))
	}
}

func TestStartHonorsContextCancellation(t *testing.T) {
	requireUnix(t)
	reg := reaper.New()
	spec := shSpec("slowpoke", "sleep 30")
	spec.Ready = Ready{Signal: "never-printed"}
	spec.StartTimeout = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	begin := time.Now()
	_, err := Start(ctx, spec, Options{Registry: reg})
	elapsed := time.Since(begin)
	if err == nil {
		t.Fatalf("expected an error from a canceled start")
	}
	// Well before the 10s start window: cancellation settled the wait, the
	// deadline did not.
	if elapsed > 5*time.Second {
		t.Fatalf("Start ignored cancellation, returned after %v", elapsed)
	}
	if KindOf(err) != KindCanceled {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindCanceled)
	}
	if !strings.Contains(err.Error(), "[slowpoke]") {
		t.Fatalf("error not name-tagged: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in the chain, got %v", err)
	}
	// The child was killed, not left running for the rest of the window.
	deadline := time.Now().Add(3 * time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := reg.Len(); n != 0 {
		t.Fatalf("%d process(es) left running after canceled start", n)
	}
}

func TestStartURLHonorsContextCancellation(t *testing.T) {
	requireUnix(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := reaper.New()
	spec := shSpec("url-slow", "sleep 30")
	spec.Ready = Ready{URL: srv.URL, Interval: 50 * time.Millisecond}
	spec.StartTimeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	begin := time.Now()
	_, err := Start(ctx, spec, Options{Registry: reg})
	if err == nil {
		t.Fatalf("expected an error from a canceled start")
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("Start ignored cancellation, returned after %v", elapsed)
	}
	if KindOf(err) != KindCanceled {
		t.Fatalf("kind = %q, want %q", KindOf(err), KindCanceled)
	}
}

func runningGaugeValue(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "harness_service_running" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("harness_service_running not found")
	return 0
}

func TestRunningGaugeSettlesOnSelfExit(t *testing.T) {
	requireUnix(t)
	promReg := prometheus.NewRegistry()
	if err := metrics.Register(promReg); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	base := runningGaugeValue(t, promReg)

	spec := shSpec("oneshot", "echo ready; sleep 0.2")
	spec.Ready = Ready{Signal: "ready"}
	spec.StartTimeout = 5 * time.Second
	s, err := Start(context.Background(), spec, Options{Registry: reaper.New()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := runningGaugeValue(t, promReg); got != base+1 {
		t.Fatalf("gauge after start = %v, want %v", got, base+1)
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.IsAlive() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.IsAlive() {
		t.Fatalf("child did not exit on its own")
	}
	for runningGaugeValue(t, promReg) != base && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runningGaugeValue(t, promReg); got != base {
		t.Fatalf("gauge after self-exit = %v, want %v", got, base)
	}
	// Stopping a service that already exited must not move the gauge again.
	mustStop(t, s)
	if got := runningGaugeValue(t, promReg); got != base {
		t.Fatalf("gauge after stop of exited service = %v, want %v", got, base)
	}
}
