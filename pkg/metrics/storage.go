package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StorageMetrics observes the storage engine.
type StorageMetrics interface {
	// RecordOperation records one storage operation. outcome is a short
	// label such as "success", "denied", "not_found" or "error".
	RecordOperation(op, outcome string, duration time.Duration)

	// RecordBytes counts payload bytes; direction is "in" or "out".
	RecordBytes(direction string, n int64)

	// RecordTransferSize observes the size of one file transfer.
	RecordTransferSize(op string, n int64)
}

type storageMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bytes        *prometheus.CounterVec
	transferSize *prometheus.HistogramVec
}

func NewStorageMetrics(reg *prometheus.Registry) StorageMetrics {
	if reg == nil {
		return noopStorageMetrics{}
	}

	f := promauto.With(reg)
	return &storageMetrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Total number of storage operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Duration of storage operations in seconds",
			Buckets:   durationBuckets,
		}, []string{"operation"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "bytes_total",
			Help:      "Total file bytes streamed by direction",
		}, []string{"direction"}),
		transferSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "transfer_size_bytes",
			Help:      "Distribution of file transfer sizes",
			Buckets: []float64{
				4096,       // 4KB
				65536,      // 64KB
				1048576,    // 1MB
				10485760,   // 10MB
				104857600,  // 100MB
				1073741824, // 1GB
			},
		}, []string{"operation"}),
	}
}

func (m *storageMetrics) RecordOperation(op, outcome string, duration time.Duration) {
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *storageMetrics) RecordBytes(direction string, n int64) {
	if n > 0 {
		m.bytes.WithLabelValues(direction).Add(float64(n))
	}
}

func (m *storageMetrics) RecordTransferSize(op string, n int64) {
	m.transferSize.WithLabelValues(op).Observe(float64(n))
}

type noopStorageMetrics struct{}

func (noopStorageMetrics) RecordOperation(string, string, time.Duration) {}
func (noopStorageMetrics) RecordBytes(string, int64)                     {}
func (noopStorageMetrics) RecordTransferSize(string, int64)              {}
