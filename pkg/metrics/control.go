package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ControlMetrics observes the control plane.
type ControlMetrics interface {
	// RecordRequest records one dispatched request. errorKind is empty on
	// success.
	RecordRequest(view string, duration time.Duration, errorKind string)

	// RecordReverseRequest records a server push and whether it reached a
	// socket.
	RecordReverseRequest(view string, delivered bool)

	SetSessions(count int)
}

type controlMetrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reverse         *prometheus.CounterVec
	sessions        prometheus.Gauge
}

func NewControlMetrics(reg *prometheus.Registry) ControlMetrics {
	if reg == nil {
		return noopControlMetrics{}
	}

	f := promauto.With(reg)
	return &controlMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "Total number of control requests by view, status and error kind",
		}, []string{"view", "status", "error_kind"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "request_duration_seconds",
			Help:      "Duration of control requests in seconds",
			Buckets:   durationBuckets,
		}, []string{"view"}),
		reverse: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "reverse_requests_total",
			Help:      "Total number of server-initiated pushes by view and delivery",
		}, []string{"view", "delivered"}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "sessions",
			Help:      "Current number of live sessions",
		}),
	}
}

func (m *controlMetrics) RecordRequest(view string, duration time.Duration, errorKind string) {
	st := "success"
	if errorKind != "" {
		st = "error"
	}
	m.requests.WithLabelValues(view, st, errorKind).Inc()
	m.requestDuration.WithLabelValues(view).Observe(duration.Seconds())
}

func (m *controlMetrics) RecordReverseRequest(view string, delivered bool) {
	label := "false"
	if delivered {
		label = "true"
	}
	m.reverse.WithLabelValues(view, label).Inc()
}

func (m *controlMetrics) SetSessions(count int) {
	m.sessions.Set(float64(count))
}

type noopControlMetrics struct{}

func (noopControlMetrics) RecordRequest(string, time.Duration, string) {}
func (noopControlMetrics) RecordReverseRequest(string, bool)           {}
func (noopControlMetrics) SetSessions(int)                             {}
