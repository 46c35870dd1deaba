// Package metrics holds the Prometheus collectors of the mount.
//
// Collection is opt-in. Until InitRegistry runs, every constructor in this
// package and in pkg/metrics/prometheus hands back a no-op collector, so the
// bridge, the handle manager and the WebHDFS client can record unconditionally.
package metrics

import (
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "webhdfsfs"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry. Later calls are no-ops.
//
// The registry starts out with the Go runtime and process collectors plus a
// webhdfsfs_build_info gauge carrying the module version.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
			buildInfo(),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return registry != nil
}

func buildInfo() prometheus.Collector {
	version, goVersion := "(devel)", "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		goVersion = info.GoVersion
		if info.Main.Version != "" {
			version = info.Main.Version
		}
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information of the running webhdfsfs binary",
		ConstLabels: prometheus.Labels{"version": version, "goversion": goVersion},
	})
	g.Set(1)
	return g
}
