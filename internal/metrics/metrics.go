// Package metrics declares the prometheus instruments shared by the
// dashboard components. Collectors register themselves on the default
// registry; /metrics is served with promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemoteFailures counts failed calls to the backend, by operation.
	RemoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventdash_remote_failures_total",
		Help: "Failed calls to the attendance backend.",
	}, []string{"op"})

	// Toggles counts manual status flips by outcome (confirmed, failed, stale).
	Toggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventdash_toggles_total",
		Help: "Manual attendance toggles by outcome.",
	}, []string{"outcome"})

	// Scans counts QR submissions by outcome (ok, not_found, conflict, error).
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventdash_scans_total",
		Help: "QR scan submissions by outcome.",
	}, []string{"outcome"})
)
