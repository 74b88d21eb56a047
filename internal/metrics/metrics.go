// Package metrics defines the control plane's prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_connections_active",
		Help: "Number of currently open client connections",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "controlplane_connections_total",
		Help: "Total number of connections accepted since start",
	})

	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_workers_active",
		Help: "Number of currently registered workers",
	})

	PipelineInstancesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_pipeline_instances_active",
		Help: "Number of currently live pipeline instances",
	})

	EventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_events_dispatched_total",
			Help: "Total number of stream events dispatched, by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	InvariantViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controlplane_invariant_violations_total",
			Help: "Total number of fatal invariant violations detected, by invariant",
		},
		[]string{"invariant"},
	)

	SnapshotNonce = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "controlplane_snapshot_nonce",
		Help: "Most recently published ControlPlaneState nonce",
	})
)
