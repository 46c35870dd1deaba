package metrics

import "time"

// BridgeMetrics provides observability for POSIX operations handled by the
// operation bridge.
//
// This interface is optional - if not provided to the bridge, a no-op
// implementation is used with zero overhead.
type BridgeMetrics interface {
	// RecordOperation records a completed POSIX operation with its name,
	// duration, and outcome.
	//
	// Parameters:
	//   - op: Operation name (e.g., "getattr", "write", "rename")
	//   - duration: Time taken to process the operation
	//   - errorCode: Taxonomy name of the error, empty on success
	RecordOperation(op string, duration time.Duration, errorCode string)

	// RecordOperationStart increments the in-flight operation gauge.
	RecordOperationStart(op string)

	// RecordOperationEnd decrements the in-flight operation gauge.
	RecordOperationEnd(op string)

	// RecordBytesTransferred records bytes read or written by POSIX callers.
	//
	// Parameters:
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytesTransferred(direction string, bytes int64)
}

// NewNoopBridgeMetrics returns a BridgeMetrics that records nothing.
func NewNoopBridgeMetrics() BridgeMetrics {
	return noopBridgeMetrics{}
}

type noopBridgeMetrics struct{}

func (noopBridgeMetrics) RecordOperation(op string, duration time.Duration, errorCode string) {}
func (noopBridgeMetrics) RecordOperationStart(op string)                                      {}
func (noopBridgeMetrics) RecordOperationEnd(op string)                                        {}
func (noopBridgeMetrics) RecordBytesTransferred(direction string, bytes int64)                {}
