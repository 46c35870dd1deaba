// Package handle manages open files and their local write buffers.
//
// WebHDFS can only create a file from scratch or append to its end, while
// POSIX callers write arbitrary byte ranges through a file descriptor. A
// Manager bridges the two: writes are buffered per handle and delivered with
// CREATE or APPEND on flush, release, or when the buffer grows past a
// threshold. Writes that would need to modify bytes already on the server, or
// leave a hole, are rejected with ErrUnsupportedWritePattern.
package handle

import (
	"os"
	"sync"

	"github.com/marmos91/webhdfsfs/pkg/metadata"
)

// ID identifies an open handle. IDs are never reused within a process.
type ID uint64

// Mode is how a handle was opened.
type Mode int

const (
	// ModeRead serves byte ranges from the server; writes are rejected
	ModeRead Mode = iota + 1

	// ModeWrite produces a new remote content: the first flush issues
	// CREATE with overwrite, later flushes APPEND
	ModeWrite

	// ModeAppend extends an existing file: every flush issues APPEND
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a handle.
//
//	Opened -> Dirty (first write) -> Flushing -> Clean | Dirty
//	any    -> Closed (release)
type State int

const (
	StateOpened State = iota + 1
	StateDirty
	StateFlushing
	StateClean
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateDirty:
		return "dirty"
	case StateFlushing:
		return "flushing"
	case StateClean:
		return "clean"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OpenOptions describe the remote file at open time.
type OpenOptions struct {
	// Size is the remote length observed at open. Read handles never read
	// past it; append handles start writing at it.
	Size int64

	// Empty reports that the caller just left the remote file empty
	// (create or O_TRUNC). A write handle released without writes then
	// needs no remote call.
	Empty bool

	// Permission is used when a write handle creates the remote file
	Permission os.FileMode
}

// Info is a snapshot of a handle for inspection.
type Info struct {
	ID        ID
	Token     string
	Path      metadata.RemotePath
	Mode      Mode
	State     State
	Committed int64
	Buffered  int

	// LastError is the error of the most recent flush, nil after success
	LastError error
}

// Handle is one open file.
//
// The uncommitted bytes live in buf and logically start at file offset
// committed. The first inflight bytes of buf are being delivered by a flush;
// they are never modified until the flush finishes.
type Handle struct {
	id    ID
	token string
	mode  Mode
	perm  os.FileMode

	// sizeAtOpen bounds reads of read handles
	sizeAtOpen int64

	// flushSem serializes flushes; capacity 1
	flushSem chan struct{}

	mu          sync.Mutex
	path        metadata.RemotePath
	state       State
	committed   int64
	buf         []byte
	inflight    int
	created     bool
	remoteEmpty bool

	// unresolved is the length of a previous APPEND at offset committed
	// whose outcome is unknown; 0 when none
	unresolved int

	lastErr error
}

func (h *Handle) info() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		ID:        h.id,
		Token:     h.token,
		Path:      h.path,
		Mode:      h.mode,
		State:     h.state,
		Committed: h.committed,
		Buffered:  len(h.buf),
		LastError: h.lastErr,
	}
}

// size returns the logical file size seen through the handle.
// Must be called with h.mu held.
func (h *Handle) size() int64 {
	if h.mode == ModeRead {
		return h.sizeAtOpen
	}
	return h.committed + int64(len(h.buf))
}
