package prometheus

import (
	"time"

	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// webhdfsMetrics is the Prometheus implementation of metrics.WebHDFSMetrics.
type webhdfsMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	retriesTotal     *prometheus.CounterVec
	authRefreshes    *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
}

// NewWebHDFSMetrics creates a new Prometheus-backed WebHDFSMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewWebHDFSMetrics() metrics.WebHDFSMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopWebHDFSMetrics()
	}

	reg := metrics.GetRegistry()

	return &webhdfsMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhdfsfs_webhdfs_requests_total",
				Help: "Total number of WebHDFS calls by operation and outcome",
			},
			[]string{"op", "status", "error_code"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "webhdfsfs_webhdfs_request_duration_milliseconds",
				Help: "Duration of WebHDFS calls in milliseconds, retries included",
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
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhdfsfs_webhdfs_retries_total",
				Help: "Total number of retried WebHDFS attempts",
			},
			[]string{"op", "reason"},
		),
		authRefreshes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhdfsfs_webhdfs_auth_refreshes_total",
				Help: "Total number of credential re-resolutions after an authentication failure",
			},
			[]string{"status"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhdfsfs_webhdfs_bytes_transferred_total",
				Help: "Total payload bytes moved by OPEN, CREATE and APPEND",
			},
			[]string{"direction"},
		),
	}
}

func (m *webhdfsMetrics) RecordRequest(op string, duration time.Duration, err error) {
	status := "success"
	errorCode := ""
	if err != nil {
		status = "error"
		errorCode = metadata.CodeOf(err).String()
	}

	m.requestsTotal.WithLabelValues(op, status, errorCode).Inc()
	m.requestDuration.WithLabelValues(op).Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *webhdfsMetrics) RecordRetry(op string, reason string) {
	m.retriesTotal.WithLabelValues(op, reason).Inc()
}

func (m *webhdfsMetrics) RecordAuthRefresh(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.authRefreshes.WithLabelValues(status).Inc()
}

func (m *webhdfsMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
