// Package metrics exposes Prometheus collectors for the resolution pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

var (
	PathResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workbench_path_resolutions_total",
			Help: "Total number of model path resolutions by path and outcome",
		},
		[]string{"path", "outcome"},
	)

	PathDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workbench_path_duration_seconds",
			Help:    "Duration of model path resolution in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120, 180},
		},
		[]string{"path"},
	)

	Consolidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workbench_consolidations_total",
			Help: "Total number of golden record consolidations by outcome",
		},
		[]string{"outcome"},
	)

	Retries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workbench_retries_total",
			Help: "Total number of record retries",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workbench_queue_depth",
			Help: "Number of work items waiting in the queue",
		},
	)

	DrainActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workbench_drain_active",
			Help: "1 while the queue scheduler is draining",
		},
	)
)

// ObservePath records a terminal path transition.
func ObservePath(path string, succeeded bool, seconds float64) {
	outcome := OutcomeCompleted
	if !succeeded {
		outcome = OutcomeFailed
	}
	PathResolutions.WithLabelValues(path, outcome).Inc()
	PathDuration.WithLabelValues(path).Observe(seconds)
}

// ObserveConsolidation records a terminal consolidation.
func ObserveConsolidation(succeeded bool) {
	outcome := OutcomeCompleted
	if !succeeded {
		outcome = OutcomeFailed
	}
	Consolidations.WithLabelValues(outcome).Inc()
}

// SetDraining flips the drain gauge.
func SetDraining(active bool) {
	if active {
		DrainActive.Set(1)
		return
	}
	DrainActive.Set(0)
}
