package metrics

import "time"

// WebHDFSMetrics provides observability for the WebHDFS transport client.
//
// This interface is optional - if not provided to the client, a no-op
// implementation is used with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	client, err := webhdfs.New(cfg, creds, prometheus.NewWebHDFSMetrics())
//
//	// Without metrics (no-op)
//	client, err := webhdfs.New(cfg, creds, nil)
type WebHDFSMetrics interface {
	// RecordRequest records a completed WebHDFS call (all attempts included).
	//
	// Parameters:
	//   - op: WebHDFS operation (e.g., "GETFILESTATUS", "APPEND")
	//   - duration: Time taken by the whole call
	//   - err: Error if the call failed, nil if successful
	RecordRequest(op string, duration time.Duration, err error)

	// RecordRetry records a retried attempt.
	//
	// Parameters:
	//   - op: WebHDFS operation
	//   - reason: "network", "status" or "exception"
	RecordRetry(op string, reason string)

	// RecordAuthRefresh records a credential re-resolution after an
	// authentication failure.
	RecordAuthRefresh(success bool)

	// RecordBytesTransferred records payload bytes moved by OPEN, CREATE
	// and APPEND.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytesTransferred(direction string, bytes int64)
}

// NewNoopWebHDFSMetrics returns a WebHDFSMetrics that records nothing.
func NewNoopWebHDFSMetrics() WebHDFSMetrics {
	return noopWebHDFSMetrics{}
}

type noopWebHDFSMetrics struct{}

func (noopWebHDFSMetrics) RecordRequest(op string, duration time.Duration, err error) {}
func (noopWebHDFSMetrics) RecordRetry(op string, reason string)                       {}
func (noopWebHDFSMetrics) RecordAuthRefresh(success bool)                             {}
func (noopWebHDFSMetrics) RecordBytesTransferred(direction string, bytes int64)       {}
