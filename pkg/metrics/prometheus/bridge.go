// Package prometheus provides Prometheus-backed implementations of the
// metrics interfaces declared in pkg/metrics.
package prometheus

import (
	"time"

	"github.com/marmos91/webhdfsfs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// bridgeMetrics is the Prometheus implementation of metrics.BridgeMetrics.
type bridgeMetrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	operationsInFlight *prometheus.GaugeVec
	bytesTransferred   *prometheus.CounterVec
}

// NewBridgeMetrics creates a new Prometheus-backed BridgeMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewBridgeMetrics() metrics.BridgeMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopBridgeMetrics()
	}

	reg := metrics.GetRegistry()

	return &bridgeMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhdfsfs_operations_total",
				Help: "Total number of filesystem operations by name and status",
			},
			[]string{"op", "status", "error_code"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "webhdfsfs_operation_duration_milliseconds",
				Help: "Duration of filesystem operations in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"op"},
		),
		operationsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webhdfsfs_operations_in_flight",
				Help: "Current number of filesystem operations being processed",
			},
			[]string{"op"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhdfsfs_bytes_transferred_total",
				Help: "Total bytes read or written through the mount",
			},
			[]string{"direction"},
		),
	}
}

func (m *bridgeMetrics) RecordOperation(op string, duration time.Duration, errorCode string) {
	status := "success"
	if errorCode != "" {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(op, status, errorCode).Inc()
	m.operationDuration.WithLabelValues(op).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *bridgeMetrics) RecordOperationStart(op string) {
	m.operationsInFlight.WithLabelValues(op).Inc()
}

func (m *bridgeMetrics) RecordOperationEnd(op string) {
	m.operationsInFlight.WithLabelValues(op).Dec()
}

func (m *bridgeMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
