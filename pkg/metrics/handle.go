package metrics

import "time"

// HandleMetrics provides observability for open file handles and their
// write buffers.
type HandleMetrics interface {
	// SetOpenHandles updates the number of open handles.
	SetOpenHandles(count int)

	// SetBufferedBytes updates the total number of bytes buffered locally
	// and not yet acknowledged by the server.
	SetBufferedBytes(bytes int64)

	// RecordFlush records a flush of a write handle.
	//
	// Parameters:
	//   - kind: "create" or "append"
	//   - bytes: Number of bytes sent
	//   - duration: Time taken by the remote call
	//   - err: Error if the flush failed, nil if acknowledged
	RecordFlush(kind string, bytes int64, duration time.Duration, err error)

	// RecordJournaled records a dirty buffer saved to the journal after a
	// failed release.
	RecordJournaled(bytes int64)

	// RecordRecovered records a journaled buffer replayed at startup.
	RecordRecovered(bytes int64, err error)
}

// NewNoopHandleMetrics returns a HandleMetrics that records nothing.
func NewNoopHandleMetrics() HandleMetrics {
	return noopHandleMetrics{}
}

type noopHandleMetrics struct{}

func (noopHandleMetrics) SetOpenHandles(count int)                                                {}
func (noopHandleMetrics) SetBufferedBytes(bytes int64)                                            {}
func (noopHandleMetrics) RecordFlush(kind string, bytes int64, duration time.Duration, err error) {}
func (noopHandleMetrics) RecordJournaled(bytes int64)                                             {}
func (noopHandleMetrics) RecordRecovered(bytes int64, err error)                                  {}
