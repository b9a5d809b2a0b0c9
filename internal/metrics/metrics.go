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

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "naidesk",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of start requests by result (spawned, already_running, not_found, spawn_failed).",
		}, []string{"result"},
	)
	workerTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "naidesk",
			Subsystem: "worker",
			Name:      "terminations_total",
			Help:      "Number of worker terminations by strategy and result.",
		}, []string{"strategy", "result"},
	)
	workerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "naidesk",
			Subsystem: "worker",
			Name:      "running",
			Help:      "1 while the worker slot holds a live process.",
		},
	)
	overlayOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "naidesk",
			Subsystem: "overlay",
			Name:      "operations_total",
			Help:      "Overlay operations by op and result (ok, noop, error).",
		}, []string{"op", "result"},
	)
	overlayOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "naidesk",
			Subsystem: "overlay",
			Name:      "open",
			Help:      "1 while the embedded surface exists.",
		},
	)
	remoteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "naidesk",
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Remote API calls by endpoint and result.",
		}, []string{"endpoint", "result"},
	)
	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "naidesk",
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Remote API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{workerStarts, workerTerminations, workerRunning, overlayOps, overlayOpen, remoteRequests, remoteDuration}
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

func IncWorkerStart(result string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(result).Inc()
	}
}

func IncWorkerTermination(strategy, result string) {
	if regOK.Load() {
		workerTerminations.WithLabelValues(strategy, result).Inc()
	}
}

func SetWorkerRunning(running bool) {
	if regOK.Load() {
		workerRunning.Set(boolToFloat(running))
	}
}

func IncOverlayOp(op, result string) {
	if regOK.Load() {
		overlayOps.WithLabelValues(op, result).Inc()
	}
}

func SetOverlayOpen(open bool) {
	if regOK.Load() {
		overlayOpen.Set(boolToFloat(open))
	}
}

func ObserveRemote(endpoint, result string, seconds float64) {
	if regOK.Load() {
		remoteRequests.WithLabelValues(endpoint, result).Inc()
		remoteDuration.WithLabelValues(endpoint).Observe(seconds)
	}
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
