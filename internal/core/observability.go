package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder receives the outcome of each service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// StorageEventRecorder is optionally implemented by a MetricsRecorder that
// also tracks stored bytes and orphaned blobs.
type StorageEventRecorder interface {
	StoredBytes(n int64)
	Orphaned()
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// PrometheusMetrics exports operation latency and results, stored bytes and
// orphan counts.
type PrometheusMetrics struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	bytes     prometheus.Counter
	orphans   prometheus.Counter
}

var (
	_ MetricsRecorder      = (*PrometheusMetrics)(nil)
	_ StorageEventRecorder = (*PrometheusMetrics)(nil)
)

// NewPrometheusMetrics registers the collectors on reg. A nil reg uses the
// default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "filevault",
			Name:      "operation_duration_seconds",
			Help:      "Latency of filevault service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filevault",
			Name:      "operations_total",
			Help:      "Service operations by result.",
		}, []string{"operation", "result"}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filevault",
			Name:      "stored_bytes_total",
			Help:      "Bytes accepted by committed uploads.",
		}),
		orphans: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "filevault",
			Name:      "orphaned_blobs_total",
			Help:      "Blobs left behind by a failed compensation or cleanup.",
		}),
	}
}

func (m *PrometheusMetrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	m.durations.WithLabelValues(operation).Observe(duration.Seconds())
	m.results.WithLabelValues(operation, result).Inc()
}

func (m *PrometheusMetrics) StoredBytes(n int64) {
	if n > 0 {
		m.bytes.Add(float64(n))
	}
}

func (m *PrometheusMetrics) Orphaned() { m.orphans.Inc() }
