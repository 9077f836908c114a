// Package telemetry holds the process-wide Prometheus collectors and the
// tracer used by the storage and API layers.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/elma1989/join"

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus collectors for mirrors, store writes and saves.
type Metrics struct {
	SnapshotsApplied *prometheus.CounterVec
	RefreshFailures  *prometheus.CounterVec
	MirrorSize       *prometheus.GaugeVec
	StoreOps         *prometheus.CounterVec
	StoreDuration    *prometheus.HistogramVec
	BatchFailures    *prometheus.CounterVec
	ActiveStreams    prometheus.Gauge
}

// NewMetrics registers the collectors once and returns the shared instance.
//
// Metrics:
//   - join_mirror_snapshots_total{collection}
//   - join_mirror_refresh_failures_total{collection}
//   - join_mirror_size{collection}
//   - join_store_ops_total{collection,op,result}
//   - join_store_op_duration_seconds{collection,op}
//   - join_batch_failures_total{policy}
//   - join_active_streams
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			SnapshotsApplied: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "join_mirror_snapshots_total",
					Help: "Total number of snapshots applied to collection mirrors",
				},
				[]string{"collection"},
			),
			RefreshFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "join_mirror_refresh_failures_total",
					Help: "Total number of failed mirror refreshes",
				},
				[]string{"collection"},
			),
			MirrorSize: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "join_mirror_size",
					Help: "Number of entities in the last applied snapshot",
				},
				[]string{"collection"},
			),
			StoreOps: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "join_store_ops_total",
					Help: "Total number of document store operations",
				},
				[]string{"collection", "op", "result"},
			),
			StoreDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "join_store_op_duration_seconds",
					Help:    "Duration of document store operations in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
				},
				[]string{"collection", "op"},
			),
			BatchFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "join_batch_failures_total",
					Help: "Total number of failed subtask writes during task saves",
				},
				[]string{"policy"},
			),
			ActiveStreams: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "join_active_streams",
					Help: "Number of open event streams",
				},
			),
		}
	})
	return globalMetrics
}

// Tracer returns the tracer from the global provider. It is resolved on every
// call so tests can swap the provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Result labels an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
