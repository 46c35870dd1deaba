package handle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/journal"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/metrics"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
)

// Transport is the subset of the WebHDFS client used by handles.
type Transport interface {
	GetFileStatus(ctx context.Context, p metadata.RemotePath) (*metadata.FileAttr, error)
	Read(ctx context.Context, p metadata.RemotePath, offset, length int64) ([]byte, error)
	Create(ctx context.Context, p metadata.RemotePath, data []byte, opts webhdfs.CreateOptions) error
	Append(ctx context.Context, p metadata.RemotePath, data []byte) error
}

var _ Transport = (*webhdfs.Client)(nil)

// Config controls buffering and delivery of write handles.
type Config struct {
	// FlushThreshold triggers a flush from Write once this many bytes are
	// buffered and not in flight. 0 disables threshold flushes.
	FlushThreshold int64

	// FlushTimeout bounds one remote delivery. Deliveries run detached from
	// the caller's context.
	FlushTimeout time.Duration
}

// DefaultConfig returns the default handle configuration.
func DefaultConfig() Config {
	return Config{
		FlushThreshold: 64 << 20,
		FlushTimeout:   5 * time.Minute,
	}
}

// Manager owns the table of open handles.
//
// Thread Safety:
// The handle table is guarded by an RWMutex. Each handle guards its own
// buffer; flushes of one handle are serialized by its semaphore while
// handles are fully independent of each other.
type Manager struct {
	transport Transport
	journal   journal.Journal
	metrics   metrics.HandleMetrics
	cfg       Config

	nextID   atomic.Uint64
	buffered atomic.Int64

	mu      sync.RWMutex
	handles map[ID]*Handle
}

// NewManager creates a handle manager. j may be nil, in which case buffers
// that cannot be delivered on release are dropped after logging.
func NewManager(t Transport, j journal.Journal, cfg Config, m metrics.HandleMetrics) *Manager {
	if m == nil {
		m = metrics.NewNoopHandleMetrics()
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultConfig().FlushTimeout
	}
	return &Manager{
		transport: t,
		journal:   j,
		metrics:   m,
		cfg:       cfg,
		handles:   make(map[ID]*Handle),
	}
}

// Open registers a new handle. No remote call is made; the caller supplies
// what it observed about the remote file.
func (m *Manager) Open(p metadata.RemotePath, mode Mode, opts OpenOptions) (ID, error) {
	switch mode {
	case ModeRead, ModeWrite, ModeAppend:
	default:
		return 0, metadata.NewError(metadata.ErrInvalidArgument, "open", p, "invalid handle mode %d", int(mode))
	}

	h := &Handle{
		id:          ID(m.nextID.Add(1)),
		token:       uuid.NewString(),
		mode:        mode,
		perm:        opts.Permission,
		flushSem:    make(chan struct{}, 1),
		path:        p,
		state:       StateOpened,
		remoteEmpty: opts.Empty,
	}
	switch mode {
	case ModeRead:
		h.sizeAtOpen = opts.Size
	case ModeAppend:
		h.committed = opts.Size
		h.created = true
	}

	m.mu.Lock()
	m.handles[h.id] = h
	count := len(m.handles)
	m.mu.Unlock()

	m.metrics.SetOpenHandles(count)
	logger.Debug("Opened %s handle %d for %s (token %s)", mode, h.id, p, h.token)
	return h.id, nil
}

func (m *Manager) get(op string, id ID) (*Handle, error) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, &metadata.FSError{
			Code:    metadata.ErrBadHandle,
			Op:      op,
			Message: fmt.Sprintf("unknown handle %d", id),
		}
	}
	return h, nil
}

// Info returns a snapshot of an open handle.
func (m *Manager) Info(id ID) (Info, error) {
	h, err := m.get("info", id)
	if err != nil {
		return Info{}, err
	}
	return h.info(), nil
}

// Count returns the number of open handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// OpenSize returns the largest size seen through an open write or append
// handle on p. ok is false when p has no such handle.
func (m *Manager) OpenSize(p metadata.RemotePath) (size int64, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.handles {
		if h.mode == ModeRead {
			continue
		}
		h.mu.Lock()
		if h.path == p {
			if s := h.size(); !ok || s > size {
				size = s
			}
			ok = true
		}
		h.mu.Unlock()
	}
	return size, ok
}

// Repath points open handles at a renamed path. Handles under src (when src
// is a directory) follow it too.
func (m *Manager) Repath(src, dst metadata.RemotePath) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, h := range m.handles {
		h.mu.Lock()
		if rel, ok := relativeTo(src, h.path); ok {
			if rel == "" {
				h.path = dst
			} else {
				h.path = metadata.RemotePath(string(dst) + "/" + rel)
			}
		}
		h.mu.Unlock()
	}
}

func relativeTo(base, p metadata.RemotePath) (string, bool) {
	if p == base {
		return "", true
	}
	if !metadata.IsAncestor(base, p) {
		return "", false
	}
	prefix := string(base)
	if prefix != "/" {
		prefix += "/"
	}
	return string(p)[len(prefix):], true
}

// Write buffers data at offset.
//
// A write is accepted only if it starts inside or at the end of the local
// buffer that is not yet committed or in flight. Anything else would need to
// rewrite remote bytes or leave a hole and fails with
// ErrUnsupportedWritePattern; the buffer is left untouched in that case.
func (m *Manager) Write(ctx context.Context, id ID, offset int64, data []byte) (int, error) {
	h, err := m.get("write", id)
	if err != nil {
		return 0, err
	}
	if h.mode == ModeRead {
		return 0, &metadata.FSError{Code: metadata.ErrBadHandle, Op: "write", Path: string(h.path), Message: "handle not open for writing"}
	}

	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return 0, &metadata.FSError{Code: metadata.ErrBadHandle, Op: "write", Path: string(h.path), Message: "handle closed"}
	}

	start := h.committed + int64(h.inflight)
	end := h.committed + int64(len(h.buf))
	if offset < start || offset > end {
		p := h.path
		h.mu.Unlock()
		return 0, metadata.NewError(metadata.ErrUnsupportedWritePattern, "write", p,
			"write at offset %d outside writable range [%d, %d]", offset, start, end)
	}

	pos := int(offset - h.committed)
	oldLen := len(h.buf)
	if need := pos + len(data); need > oldLen {
		h.buf = append(h.buf, make([]byte, need-oldLen)...)
	}
	copy(h.buf[pos:], data)
	if h.state != StateFlushing {
		h.state = StateDirty
	}

	pending := int64(len(h.buf) - h.inflight)
	idle := h.inflight == 0
	growth := len(h.buf) - oldLen
	h.mu.Unlock()

	m.metrics.SetBufferedBytes(m.buffered.Add(int64(growth)))

	if m.cfg.FlushThreshold > 0 && idle && pending >= m.cfg.FlushThreshold {
		if err := m.flush(ctx, h); err != nil {
			// The bytes stay buffered; flush and release report the failure.
			logger.Warn("Threshold flush of %s failed: %v", h.path, err)
		}
	}

	return len(data), nil
}

// Read returns up to length bytes at offset.
//
// Read handles fetch from the server and never read past the size observed
// at open. Write handles combine the committed remote prefix with the local
// buffer.
func (m *Manager) Read(ctx context.Context, id ID, offset, length int64) ([]byte, error) {
	h, err := m.get("read", id)
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "read", h.path, "negative offset or length")
	}

	if h.mode == ModeRead {
		h.mu.Lock()
		p := h.path
		h.mu.Unlock()

		if offset >= h.sizeAtOpen || length == 0 {
			return []byte{}, nil
		}
		length = min(length, h.sizeAtOpen-offset)
		return m.transport.Read(ctx, p, offset, length)
	}

	h.mu.Lock()
	p := h.path
	committed := h.committed
	total := h.size()
	if offset >= total || length == 0 {
		h.mu.Unlock()
		return []byte{}, nil
	}
	end := min(offset+length, total)

	// Copy the buffered part while holding the lock
	var local []byte
	if end > committed {
		from := max(offset, committed) - committed
		local = append([]byte(nil), h.buf[from:end-committed]...)
	}
	h.mu.Unlock()

	if offset >= committed {
		return local, nil
	}

	remoteEnd := min(end, committed)
	remote, err := m.transport.Read(ctx, p, offset, remoteEnd-offset)
	if err != nil {
		return nil, err
	}
	return append(remote, local...), nil
}

// Truncate changes the logical size of a write handle.
//
// Size 0 restarts the handle as a fresh write: the next flush replaces the
// remote content. Other sizes may only cut or zero-extend the part of the
// buffer that is not committed or in flight.
func (m *Manager) Truncate(id ID, size int64) error {
	h, err := m.get("truncate", id)
	if err != nil {
		return err
	}
	if h.mode == ModeRead {
		return &metadata.FSError{Code: metadata.ErrBadHandle, Op: "truncate", Path: string(h.path), Message: "handle not open for writing"}
	}
	if size < 0 {
		return metadata.NewError(metadata.ErrInvalidArgument, "truncate", h.path, "negative size %d", size)
	}

	h.mu.Lock()
	oldLen := len(h.buf)

	switch {
	case size == 0 && h.inflight == 0:
		h.mode = ModeWrite
		h.committed = 0
		h.buf = nil
		h.created = false
		h.remoteEmpty = false
		h.unresolved = 0
		h.state = StateDirty

	case size >= h.committed+int64(h.inflight):
		newLen := int(size - h.committed)
		if newLen <= oldLen {
			h.buf = h.buf[:newLen]
		} else {
			h.buf = append(h.buf, make([]byte, newLen-oldLen)...)
		}
		if newLen != oldLen {
			h.state = StateDirty
		}

	default:
		floor := h.committed + int64(h.inflight)
		p := h.path
		h.mu.Unlock()
		return metadata.NewError(metadata.ErrUnsupportedWritePattern, "truncate", p,
			"cannot truncate to %d below delivered length %d", size, floor)
	}

	delta := len(h.buf) - oldLen
	h.mu.Unlock()

	m.metrics.SetBufferedBytes(m.buffered.Add(int64(delta)))
	return nil
}

// Flush delivers the buffered bytes of a handle.
//
// If ctx is cancelled while the remote call is running, Flush returns
// ctx.Err() and the call completes in the background; its outcome is still
// applied to the handle.
func (m *Manager) Flush(ctx context.Context, id ID) error {
	h, err := m.get("flush", id)
	if err != nil {
		return err
	}
	if h.mode == ModeRead {
		return nil
	}
	return m.flush(ctx, h)
}

// Release flushes and closes a handle.
//
// A failed delivery is retried once. If it still fails the buffer is saved
// to the journal and the delivery error is returned; the handle is closed
// either way.
func (m *Manager) Release(ctx context.Context, id ID) error {
	h, err := m.get("release", id)
	if err != nil {
		return err
	}

	var flushErr error
	if h.mode != ModeRead {
		flushErr = m.flush(ctx, h)
		if flushErr != nil && ctx.Err() == nil {
			logger.Warn("Flush of %s on release failed, retrying once: %v", h.path, flushErr)
			flushErr = m.flush(ctx, h)
		}
		if flushErr != nil {
			m.preserve(h, flushErr)
		}
	}

	m.mu.Lock()
	delete(m.handles, id)
	count := len(m.handles)
	m.mu.Unlock()

	h.mu.Lock()
	remaining := len(h.buf)
	h.buf = nil
	h.state = StateClosed
	h.mu.Unlock()

	m.metrics.SetBufferedBytes(m.buffered.Add(-int64(remaining)))
	m.metrics.SetOpenHandles(count)
	logger.Debug("Released handle %d for %s", id, h.path)

	return flushErr
}

// ReleaseAll releases every open handle. Used on unmount.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]ID, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.Release(ctx, id); err != nil && !metadata.IsCode(err, metadata.ErrBadHandle) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// preserve saves the undelivered buffer of h to the journal.
func (m *Manager) preserve(h *Handle, cause error) {
	// Wait for a detached delivery that may still own the in-flight prefix
	h.flushSem <- struct{}{}
	defer func() { <-h.flushSem }()

	h.mu.Lock()
	entry := journal.Entry{
		Token:   h.token,
		Path:    h.path,
		Kind:    journal.KindAppend,
		Offset:  h.committed,
		Data:    append([]byte(nil), h.buf...),
		Reason:  cause.Error(),
		SavedAt: time.Now(),
	}
	if !h.created {
		entry.Kind = journal.KindCreate
		entry.Offset = 0
	}
	unresolved := h.unresolved
	h.mu.Unlock()

	if len(entry.Data) == 0 && entry.Kind == journal.KindAppend {
		return
	}
	if unresolved > 0 {
		// The first unresolved bytes may already be on the server; replay
		// compares the remote length against both outcomes.
		logger.Warn("Journaling %s with %d bytes of unknown delivery state", h.path, unresolved)
	}

	if m.journal == nil {
		logger.Error("Dropping %d undelivered bytes of %s: journal disabled: %v", len(entry.Data), h.path, cause)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FlushTimeout)
	defer cancel()
	if err := m.journal.Save(ctx, entry); err != nil {
		logger.Error("Failed to journal %d bytes of %s: %v", len(entry.Data), h.path, err)
		return
	}

	m.metrics.RecordJournaled(int64(len(entry.Data)))
	logger.Warn("Journaled %d undelivered bytes of %s (token %s)", len(entry.Data), h.path, h.token)
}
