package config

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittostore/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// The collectors below are never nil; they are no-ops when disabled.
	ControlConnections metrics.ConnectionMetrics
	StorageConnections metrics.ConnectionMetrics
	Control            metrics.ControlMetrics
	Storage            metrics.StorageMetrics
	Metadata           metrics.MetadataMetrics
	Consistency        metrics.ConsistencyMetrics
}

// InitializeMetrics creates the metrics components on reg.
//
// When metrics are disabled, or reg is nil, every collector is a no-op and
// no server is created.
func InitializeMetrics(cfg *Config, reg *prometheus.Registry) *MetricsResult {
	if !cfg.Metrics.Enabled {
		reg = nil
	}

	result := &MetricsResult{
		ControlConnections: metrics.NewConnectionMetrics(reg, "control"),
		StorageConnections: metrics.NewConnectionMetrics(reg, "storage"),
		Control:            metrics.NewControlMetrics(reg),
		Storage:            metrics.NewStorageMetrics(reg),
		Metadata:           metrics.NewMetadataMetrics(reg, cfg.Metadata.Type),
		Consistency:        metrics.NewConsistencyMetrics(reg),
	}

	if reg != nil {
		result.Server = metrics.NewServer(metrics.ServerConfig{
			Host: cfg.Metrics.Host,
			Port: cfg.Metrics.Port,
		}, reg)
	}

	return result
}
