package config

import (
	"context"

	"github.com/marmos91/webhdfsfs/pkg/metadata/cache"
	"github.com/marmos91/webhdfsfs/pkg/metrics"
	promMetrics "github.com/marmos91/webhdfsfs/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// WebHDFS is the collector for the REST client (never nil)
	WebHDFS metrics.WebHDFSMetrics

	// Handles is the collector for open handles and flushes (never nil)
	Handles metrics.HandleMetrics

	// Bridge is the collector for POSIX operations (never nil)
	Bridge metrics.BridgeMetrics

	// Cache is the collector for the attribute cache (nil uses the cache's no-op)
	Cache cache.CacheMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server, with health reporting on /healthz
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
//
// Parameters:
//   - cfg: The complete configuration
//   - health: Probe of the remote endpoint; nil reports healthy
func InitializeMetrics(cfg *Config, health func(ctx context.Context) error) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			WebHDFS: metrics.NewNoopWebHDFSMetrics(),
			Handles: metrics.NewNoopHandleMetrics(),
			Bridge:  metrics.NewNoopBridgeMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port:   cfg.Server.Metrics.Port,
		Health: health,
	})

	return &MetricsResult{
		Server:  server,
		WebHDFS: promMetrics.NewWebHDFSMetrics(),
		Handles: promMetrics.NewHandleMetrics(),
		Bridge:  promMetrics.NewBridgeMetrics(),
		Cache:   metrics.NewCacheMetrics(),
	}
}
