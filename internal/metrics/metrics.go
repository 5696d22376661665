// Package metrics exposes the engine's Prometheus instrumentation: one
// process-wide registry, grounded on the teacher's transfer-rate gauges in
// internal/sync/bandwidth.go, generalized from byte throughput to sync
// operation and conflict counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// OperationsActive reports the number of in-flight sync operations per
// family.
var OperationsActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sync_operations_active",
	Help: "Number of sync operations currently in flight, by entity family.",
}, []string{"family", "operation_type"})

// ConflictsTotal counts detected conflicts by family and conflict type.
var ConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "sync_conflicts_total",
	Help: "Total conflicts detected, by entity family and conflict type.",
}, []string{"family", "conflict_type"})

// ConflictsResolvedTotal counts resolved conflicts by family, strategy, and
// outcome (succeeded/failed).
var ConflictsResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "sync_conflicts_resolved_total",
	Help: "Total conflicts resolved, by entity family, strategy, and outcome.",
}, []string{"family", "strategy", "outcome"})

// UploadDuration observes the wall time of one uploaded record, by family.
var UploadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "sync_upload_duration_seconds",
	Help:    "Per-record upload duration, by entity family.",
	Buckets: prometheus.DefBuckets,
}, []string{"family"})

// OperationsTotal counts completed operations by family, type, and terminal
// status.
var OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "sync_operations_total",
	Help: "Total completed sync operations, by entity family, operation type, and status.",
}, []string{"family", "operation_type", "status"})

// Register adds every collector to reg. Call once at process start; reg is
// usually prometheus.DefaultRegisterer.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(OperationsActive, ConflictsTotal, ConflictsResolvedTotal, UploadDuration, OperationsTotal)
}
