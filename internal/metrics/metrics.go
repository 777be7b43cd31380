package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters, exposed on /metrics.
var (
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_attendance_transitions_total",
		Help: "Attendance state transitions applied, by resulting state.",
	}, []string{"state"})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geoattend_alerts_total",
		Help: "Alerts appended to attendance records, by type.",
	}, []string{"type"})

	SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_sweep_runs_total",
		Help: "Completed sweep passes.",
	})

	SweepCheckouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_sweep_checkouts_total",
		Help: "Forced check-outs applied by the sweep job.",
	})

	LocationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geoattend_location_failures_total",
		Help: "Failed location fix acquisitions during monitoring.",
	})
)
