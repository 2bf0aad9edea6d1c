package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConnectionMetrics tracks the connection lifecycle of one listener.
type ConnectionMetrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed because the
	// shutdown timeout expired.
	RecordConnectionForceClosed()

	// RecordConnectionRejected counts connections refused at the
	// max_connections limit.
	RecordConnectionRejected()

	SetActiveConnections(count int32)
}

type connectionVecs struct {
	accepted    *prometheus.CounterVec
	closed      *prometheus.CounterVec
	forceClosed *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	active      *prometheus.GaugeVec
}

var (
	connVecsMu sync.Mutex
	connVecs   = map[*prometheus.Registry]*connectionVecs{}
)

// vecsFor registers the connection families once per registry; both
// planes share them under the "plane" label.
func vecsFor(reg *prometheus.Registry) *connectionVecs {
	connVecsMu.Lock()
	defer connVecsMu.Unlock()

	if v, ok := connVecs[reg]; ok {
		return v
	}

	f := promauto.With(reg)
	v := &connectionVecs{
		accepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of connections accepted",
		}, []string{"plane"}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Total number of connections closed",
		}, []string{"plane"}),
		forceClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_force_closed_total",
			Help:      "Total number of connections force-closed after the shutdown timeout",
		}, []string{"plane"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Total number of connections rejected at the connection limit",
		}, []string{"plane"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Current number of open connections",
		}, []string{"plane"}),
	}
	connVecs[reg] = v
	return v
}

type connectionMetrics struct {
	accepted    prometheus.Counter
	closed      prometheus.Counter
	forceClosed prometheus.Counter
	rejected    prometheus.Counter
	active      prometheus.Gauge
}

// NewConnectionMetrics returns metrics for the listener named plane.
func NewConnectionMetrics(reg *prometheus.Registry, plane string) ConnectionMetrics {
	if reg == nil {
		return noopConnectionMetrics{}
	}

	v := vecsFor(reg)
	return &connectionMetrics{
		accepted:    v.accepted.WithLabelValues(plane),
		closed:      v.closed.WithLabelValues(plane),
		forceClosed: v.forceClosed.WithLabelValues(plane),
		rejected:    v.rejected.WithLabelValues(plane),
		active:      v.active.WithLabelValues(plane),
	}
}

func (m *connectionMetrics) RecordConnectionAccepted()    { m.accepted.Inc() }
func (m *connectionMetrics) RecordConnectionClosed()      { m.closed.Inc() }
func (m *connectionMetrics) RecordConnectionForceClosed() { m.forceClosed.Inc() }
func (m *connectionMetrics) RecordConnectionRejected()    { m.rejected.Inc() }
func (m *connectionMetrics) SetActiveConnections(count int32) {
	m.active.Set(float64(count))
}

type noopConnectionMetrics struct{}

func (noopConnectionMetrics) RecordConnectionAccepted()        {}
func (noopConnectionMetrics) RecordConnectionClosed()          {}
func (noopConnectionMetrics) RecordConnectionForceClosed()     {}
func (noopConnectionMetrics) RecordConnectionRejected()        {}
func (noopConnectionMetrics) SetActiveConnections(count int32) {}
