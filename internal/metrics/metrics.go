// Package metrics exposes the daemon's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MountOps counts mount lifecycle operations by type and result
	MountOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mergerd",
		Name:      "mount_operations_total",
		Help:      "Mount lifecycle operations by operation and result.",
	}, []string{"op", "result"})

	// RegisteredMounts tracks the number of entries currently in the
	// registry
	RegisteredMounts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mergerd",
		Name:      "registered_mounts",
		Help:      "Number of mounts currently recorded in the registry.",
	})
)
