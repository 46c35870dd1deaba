package handle

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
)

const (
	flushKindCreate = "create"
	flushKindAppend = "append"
)

// delivery describes one flush taken under the handle lock.
type delivery struct {
	path       metadata.RemotePath
	kind       string
	data       []byte
	committed  int64
	unresolved int
	perm       os.FileMode
}

// outcome is what a delivery achieved.
type outcome struct {
	// acked is how many leading bytes of the delivery are known to be on
	// the server
	acked int

	// unknown is how many bytes after acked may or may not be on the server
	unknown int

	err error
}

// flush delivers the pending buffer of h and waits for the outcome or for
// ctx, whichever comes first.
func (m *Manager) flush(ctx context.Context, h *Handle) error {
	select {
	case h.flushSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		<-h.flushSem
		return nil
	}
	if len(h.buf) == 0 && (h.created || h.remoteEmpty) {
		if h.state == StateDirty {
			h.state = StateClean
		}
		h.mu.Unlock()
		<-h.flushSem
		return nil
	}

	d := delivery{
		path:       h.path,
		kind:       flushKindAppend,
		data:       h.buf[:len(h.buf):len(h.buf)],
		committed:  h.committed,
		unresolved: h.unresolved,
		perm:       h.perm,
	}
	if !h.created {
		d.kind = flushKindCreate
	}
	h.inflight = len(d.data)
	h.state = StateFlushing
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		// Detached: a cancelled caller must not abandon a half-applied write
		rctx, cancel := context.WithTimeout(context.Background(), m.cfg.FlushTimeout)
		defer cancel()

		out := m.deliver(rctx, d)
		m.apply(h, d, out)
		<-h.flushSem
		done <- out.err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Debug("Flush of %s continues in background: %v", d.path, ctx.Err())
		return ctx.Err()
	}
}

// deliver performs the remote calls of one flush.
func (m *Manager) deliver(ctx context.Context, d delivery) outcome {
	if d.kind == flushKindCreate {
		start := time.Now()
		err := m.transport.Create(ctx, d.path, d.data, webhdfs.CreateOptions{Overwrite: true, Permission: d.perm})
		m.metrics.RecordFlush(d.kind, int64(len(d.data)), time.Since(start), err)
		if err != nil {
			return outcome{err: err}
		}
		return outcome{acked: len(d.data)}
	}

	skip := 0
	if d.unresolved > 0 {
		applied, err := m.resolve(ctx, d.path, d.committed, d.unresolved)
		if err != nil {
			return outcome{unknown: d.unresolved, err: err}
		}
		if applied {
			skip = d.unresolved
		}
	}

	rest := d.data[skip:]
	if len(rest) == 0 {
		return outcome{acked: skip}
	}

	start := time.Now()
	err := m.transport.Append(ctx, d.path, rest)
	m.metrics.RecordFlush(d.kind, int64(len(rest)), time.Since(start), err)
	if err == nil {
		return outcome{acked: len(d.data)}
	}
	if !errors.Is(err, webhdfs.ErrOutcomeUnknown) {
		return outcome{acked: skip, err: err}
	}

	applied, rerr := m.resolve(ctx, d.path, d.committed+int64(skip), len(rest))
	switch {
	case rerr != nil:
		logger.Warn("Cannot resolve append outcome for %s: %v", d.path, rerr)
		return outcome{acked: skip, unknown: len(rest), err: err}
	case applied:
		logger.Info("Append to %s reached the server despite a transport error", d.path)
		return outcome{acked: len(d.data)}
	default:
		return outcome{acked: skip, err: err}
	}
}

// resolve decides whether an append of n bytes at offset committed reached
// the server by comparing the remote length against both outcomes.
func (m *Manager) resolve(ctx context.Context, p metadata.RemotePath, committed int64, n int) (bool, error) {
	attr, err := m.transport.GetFileStatus(ctx, p)
	if err != nil {
		return false, err
	}

	switch int64(attr.Size) {
	case committed + int64(n):
		return true, nil
	case committed:
		return false, nil
	default:
		return false, metadata.NewError(metadata.ErrRemoteProtocol, "append", p,
			"remote length %d matches neither %d nor %d", attr.Size, committed, committed+int64(n))
	}
}

// apply records the outcome of a delivery on the handle.
func (m *Manager) apply(h *Handle, d delivery, out outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateClosed {
		return
	}

	h.inflight = 0
	if out.acked > 0 || (d.kind == flushKindCreate && out.err == nil) {
		h.committed += int64(out.acked)
		h.created = true
		h.remoteEmpty = false
		h.buf = append([]byte(nil), h.buf[out.acked:]...)
		m.buffered.Add(-int64(out.acked))
	}
	h.unresolved = out.unknown
	h.lastErr = out.err

	if len(h.buf) == 0 && out.err == nil {
		h.state = StateClean
	} else {
		h.state = StateDirty
	}
	m.metrics.SetBufferedBytes(m.buffered.Load())
}
