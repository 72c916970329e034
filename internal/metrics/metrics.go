package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register and
// every helper no-ops until then, so test binaries that never opt in pay
// nothing.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of services that became ready.",
		}, []string{"name"},
	)
	serviceStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "service",
			Name:      "start_failures_total",
			Help:      "Number of failed service starts by failure reason.",
		}, []string{"name", "reason"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of service stops (graceful or kill).",
		}, []string{"name"},
	)
	readyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "harness",
			Subsystem: "service",
			Name:      "ready_duration_seconds",
			Help:      "Time from spawn until the readiness condition was met.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	runningServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "harness",
			Subsystem: "service",
			Name:      "running",
			Help:      "Services currently registered as running.",
		},
	)
	zombiesReaped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "harness",
			Subsystem: "reaper",
			Name:      "zombies_reaped_total",
			Help:      "Processes force-killed by the zombie sweep.",
		},
	)
)

// Register registers all collectors with r. Safe to call multiple times;
// AlreadyRegistered from a shared registry is ignored.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStartFailures, serviceStops, readyDuration, runningServices, zombiesReaped}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer; callers wire the route themselves.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

// IncRunning and DecRunning bracket a service's running lifetime: up once it
// became ready, down once its process exited, however that happened.
func IncRunning() {
	if regOK.Load() {
		runningServices.Inc()
	}
}

func DecRunning() {
	if regOK.Load() {
		runningServices.Dec()
	}
}

func IncStartFailure(name, reason string) {
	if regOK.Load() {
		serviceStartFailures.WithLabelValues(name, reason).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func ObserveReadyDuration(name string, seconds float64) {
	if regOK.Load() {
		readyDuration.WithLabelValues(name).Observe(seconds)
	}
}

func AddZombiesReaped(n int) {
	if regOK.Load() && n > 0 {
		zombiesReaped.Add(float64(n))
	}
}
