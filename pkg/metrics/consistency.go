package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConsistencyMetrics observes the metadata/content consistency sweep.
type ConsistencyMetrics interface {
	RecordSweep(duration time.Duration, err error)

	// RecordRepairs counts fixed or detected issues by kind, for example
	// "missing_content" or "orphan_content".
	RecordRepairs(kind string, n int)
}

type consistencyMetrics struct {
	sweeps   *prometheus.CounterVec
	duration prometheus.Histogram
	repairs  *prometheus.CounterVec
	last     prometheus.Gauge
}

func NewConsistencyMetrics(reg *prometheus.Registry) ConsistencyMetrics {
	if reg == nil {
		return noopConsistencyMetrics{}
	}

	f := promauto.With(reg)
	return &consistencyMetrics{
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "sweeps_total",
			Help:      "Total number of consistency sweeps by status",
		}, []string{"status"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of consistency sweeps in seconds",
			Buckets:   durationBuckets,
		}),
		repairs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "issues_total",
			Help:      "Total number of inconsistencies found by kind",
		}, []string{"kind"}),
		last: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "last_sweep_timestamp_seconds",
			Help:      "Unix time of the last completed sweep",
		}),
	}
}

func (m *consistencyMetrics) RecordSweep(duration time.Duration, err error) {
	m.sweeps.WithLabelValues(status(err)).Inc()
	m.duration.Observe(duration.Seconds())
	if err == nil {
		m.last.SetToCurrentTime()
	}
}

func (m *consistencyMetrics) RecordRepairs(kind string, n int) {
	if n > 0 {
		m.repairs.WithLabelValues(kind).Add(float64(n))
	}
}

type noopConsistencyMetrics struct{}

func (noopConsistencyMetrics) RecordSweep(time.Duration, error) {}
func (noopConsistencyMetrics) RecordRepairs(string, int)        {}
