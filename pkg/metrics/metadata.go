package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittostore/pkg/metadata"
)

// MetadataMetrics observes metadata store calls.
type MetadataMetrics interface {
	RecordOperation(operation string, duration time.Duration, err error)
}

type metadataMetrics struct {
	storeType  string
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetadataMetrics returns metrics labelled with the backend name.
func NewMetadataMetrics(reg *prometheus.Registry, storeType string) MetadataMetrics {
	if reg == nil {
		return noopMetadataMetrics{}
	}

	f := promauto.With(reg)
	return &metadataMetrics{
		storeType: storeType,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "operations_total",
			Help:      "Total number of metadata store operations",
		}, []string{"store_type", "operation", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "operation_duration_seconds",
			Help:      "Duration of metadata store operations in seconds",
			Buckets:   durationBuckets,
		}, []string{"store_type", "operation"}),
	}
}

func (m *metadataMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	st := status(err)
	if err != nil && metadata.IsNotFound(err) {
		st = "not_found"
	}
	m.operations.WithLabelValues(m.storeType, operation, st).Inc()
	m.duration.WithLabelValues(m.storeType, operation).Observe(duration.Seconds())
}

type noopMetadataMetrics struct{}

func (noopMetadataMetrics) RecordOperation(string, time.Duration, error) {}

// instrumentedMetadata times every call of the wrapped store.
type instrumentedMetadata struct {
	next metadata.Store
	m    MetadataMetrics
}

// InstrumentMetadata wraps store so each call is recorded in m. A noop m
// returns store unchanged.
func InstrumentMetadata(store metadata.Store, m MetadataMetrics) metadata.Store {
	if _, ok := m.(noopMetadataMetrics); ok || m == nil {
		return store
	}
	return &instrumentedMetadata{next: store, m: m}
}

func (s *instrumentedMetadata) observe(op string, start time.Time, err error) {
	s.m.RecordOperation(op, time.Since(start), err)
}

func (s *instrumentedMetadata) LookupDirectory(ctx context.Context, parent *int64, name string) (rec *metadata.DirectoryRecord, err error) {
	defer func(start time.Time) { s.observe("LookupDirectory", start, err) }(time.Now())
	return s.next.LookupDirectory(ctx, parent, name)
}

func (s *instrumentedMetadata) InsertDirectory(ctx context.Context, rec *metadata.DirectoryRecord) (err error) {
	defer func(start time.Time) { s.observe("InsertDirectory", start, err) }(time.Now())
	return s.next.InsertDirectory(ctx, rec)
}

func (s *instrumentedMetadata) DeleteDirectory(ctx context.Context, id int64) (err error) {
	defer func(start time.Time) { s.observe("DeleteDirectory", start, err) }(time.Now())
	return s.next.DeleteDirectory(ctx, id)
}

func (s *instrumentedMetadata) LookupFile(ctx context.Context, parent *int64, name string) (rec *metadata.FileRecord, err error) {
	defer func(start time.Time) { s.observe("LookupFile", start, err) }(time.Now())
	return s.next.LookupFile(ctx, parent, name)
}

func (s *instrumentedMetadata) ReplaceFile(ctx context.Context, rec *metadata.FileRecord) (err error) {
	defer func(start time.Time) { s.observe("ReplaceFile", start, err) }(time.Now())
	return s.next.ReplaceFile(ctx, rec)
}

func (s *instrumentedMetadata) DeleteFile(ctx context.Context, parent *int64, name string) (err error) {
	defer func(start time.Time) { s.observe("DeleteFile", start, err) }(time.Now())
	return s.next.DeleteFile(ctx, parent, name)
}

func (s *instrumentedMetadata) ListDirectories(ctx context.Context) (recs []metadata.DirectoryRecord, err error) {
	defer func(start time.Time) { s.observe("ListDirectories", start, err) }(time.Now())
	return s.next.ListDirectories(ctx)
}

func (s *instrumentedMetadata) ListFiles(ctx context.Context) (recs []metadata.FileRecord, err error) {
	defer func(start time.Time) { s.observe("ListFiles", start, err) }(time.Now())
	return s.next.ListFiles(ctx)
}

func (s *instrumentedMetadata) AppendAudit(ctx context.Context, rec *metadata.AuditRecord) (err error) {
	defer func(start time.Time) { s.observe("AppendAudit", start, err) }(time.Now())
	return s.next.AppendAudit(ctx, rec)
}

func (s *instrumentedMetadata) ListAudit(ctx context.Context, limit int) (recs []metadata.AuditRecord, err error) {
	defer func(start time.Time) { s.observe("ListAudit", start, err) }(time.Now())
	return s.next.ListAudit(ctx, limit)
}

func (s *instrumentedMetadata) Healthcheck(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("Healthcheck", start, err) }(time.Now())
	return s.next.Healthcheck(ctx)
}

func (s *instrumentedMetadata) Close() error {
	return s.next.Close()
}
