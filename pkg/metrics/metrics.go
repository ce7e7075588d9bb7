// Package metrics provides Prometheus metrics for the ISOS asset tracker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal tracks orchestrated operations by asset type, operation and result kind
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isos",
			Subsystem: "service",
			Name:      "operations_total",
			Help:      "Total number of asset operations by result",
		},
		[]string{"asset_type", "operation", "result"},
	)

	// OperationDuration tracks transaction duration in seconds, lock waits included
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "isos",
			Subsystem: "service",
			Name:      "operation_duration_seconds",
			Help:      "Duration of asset operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"asset_type", "operation"},
	)

	// HistoryEntriesTotal tracks appended audit entries
	HistoryEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isos",
			Subsystem: "history",
			Name:      "entries_total",
			Help:      "Total number of history entries appended",
		},
		[]string{"asset_type"},
	)

	// CyclesTotal tracks cycle transitions by direction and outcome
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isos",
			Subsystem: "cycle",
			Name:      "transitions_total",
			Help:      "Total number of ISOS OUT/IN transitions by outcome",
		},
		[]string{"asset_type", "direction", "outcome"},
	)

	// HTTPRequestsTotal tracks inbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isos",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks inbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "isos",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)
)

// ObserveOperation records the result and duration of one orchestrated operation.
func ObserveOperation(assetType, operation, result string, start time.Time) {
	OperationsTotal.WithLabelValues(assetType, operation, result).Inc()
	OperationDuration.WithLabelValues(assetType, operation).Observe(time.Since(start).Seconds())
}

// AddHistoryEntries records n appended history entries.
func AddHistoryEntries(assetType string, n int) {
	if n > 0 {
		HistoryEntriesTotal.WithLabelValues(assetType).Add(float64(n))
	}
}

// ObserveCycle records one OUT or IN transition.
func ObserveCycle(assetType, direction, outcome string) {
	CyclesTotal.WithLabelValues(assetType, direction, outcome).Inc()
}
