package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	polls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "svcmon",
			Subsystem: "reconcile",
			Name:      "poll_total",
			Help:      "Number of reconciliation polls.",
		},
	)
	pollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "svcmon",
			Subsystem: "reconcile",
			Name:      "poll_duration_seconds",
			Help:      "Time spent in one reconciliation poll, including registry calls.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	structureChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "svcmon",
			Subsystem: "reconcile",
			Name:      "structure_changes_total",
			Help:      "Number of polls where the set of tracked services changed.",
		},
	)
	configErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "svcmon",
			Subsystem: "reconcile",
			Name:      "config_errors_total",
			Help:      "Number of polls where the service list could not be read.",
		},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcmon",
			Subsystem: "service",
			Name:      "commands_total",
			Help:      "Start/stop commands issued, by action and result (ok|failed).",
		}, []string{"action", "result"},
	)
	trackedServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "svcmon",
			Subsystem: "service",
			Name:      "tracked",
			Help:      "Number of services currently tracked from the service list.",
		},
	)
	serviceStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "svcmon",
			Subsystem: "service",
			Name:      "status",
			Help:      "Current status of tracked services (1 = current status, 0 = otherwise).",
		}, []string{"service", "status"},
	)
)

var statuses = []string{"running", "stopped", "unknown"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{polls, pollDuration, structureChanges, configErrors, commands, trackedServices, serviceStatus}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObservePoll(seconds float64, structureChanged bool) {
	if !regOK.Load() {
		return
	}
	polls.Inc()
	pollDuration.Observe(seconds)
	if structureChanged {
		structureChanges.Inc()
	}
}

func IncConfigError() {
	if regOK.Load() {
		configErrors.Inc()
	}
}

func IncCommand(action string, ok bool) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	commands.WithLabelValues(action, result).Inc()
}

func SetTracked(n int) {
	if regOK.Load() {
		trackedServices.Set(float64(n))
	}
}

// SetServiceStatus marks status as the current one for service and clears the others.
func SetServiceStatus(service, status string) {
	if !regOK.Load() {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		serviceStatus.WithLabelValues(service, s).Set(v)
	}
}

// ForgetService drops the status series of a service that is no longer tracked.
func ForgetService(service string) {
	if !regOK.Load() {
		return
	}
	for _, s := range statuses {
		serviceStatus.DeleteLabelValues(service, s)
	}
}
