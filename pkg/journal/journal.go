// Package journal persists write buffers that could not be delivered to the
// server, so that data accepted by a write() call is never silently lost.
//
// A handle whose final flush fails saves its uncommitted bytes to the journal
// before reporting the error. On the next mount the handle manager replays
// every entry against the server and removes the ones that succeed.
package journal

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/webhdfsfs/pkg/metadata"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("journal: entry not found")

// Kind is the remote operation needed to deliver an entry.
type Kind string

const (
	// KindCreate replaces the whole remote file with Data
	KindCreate Kind = "create"

	// KindAppend appends Data at remote offset Offset
	KindAppend Kind = "append"
)

// Entry is one undelivered write buffer.
type Entry struct {
	// Token identifies the handle session that produced the entry
	Token string `json:"token"`

	// Path is the remote file the data belongs to
	Path metadata.RemotePath `json:"path"`

	// Kind selects CREATE or APPEND on replay
	Kind Kind `json:"kind"`

	// Offset is the remote length Data starts at (0 for KindCreate)
	Offset int64 `json:"offset"`

	// Data holds the uncommitted bytes
	Data []byte `json:"-"`

	// Reason is the error that made the flush fail
	Reason string `json:"reason"`

	// SavedAt is when the entry was written
	SavedAt time.Time `json:"saved_at"`
}

// Journal stores undelivered write buffers.
//
// Implementations must be safe for concurrent use.
type Journal interface {
	// Save stores or replaces the entry with e.Token.
	Save(ctx context.Context, e Entry) error

	// Remove deletes the entry with the given token. Removing a missing
	// entry is not an error.
	Remove(ctx context.Context, token string) error

	// List returns every entry, oldest first.
	List(ctx context.Context) ([]Entry, error)

	// Close releases resources held by the journal.
	Close() error
}

// MemoryJournal is a Journal kept in process memory. It is used when the
// persistent journal is disabled (entries then survive until the process
// exits) and in tests.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]Entry)}
}

func (j *MemoryJournal) Save(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now()
	}
	e.Data = append([]byte(nil), e.Data...)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.Token] = e
	return nil
}

func (j *MemoryJournal) Remove(ctx context.Context, token string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, token)
	return nil
}

func (j *MemoryJournal) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j.mu.Lock()
	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		e.Data = append([]byte(nil), e.Data...)
		out = append(out, e)
	}
	j.mu.Unlock()

	SortEntries(out)
	return out, nil
}

func (j *MemoryJournal) Close() error {
	return nil
}

// SortEntries orders entries oldest first, then by token.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(a, b int) bool {
		if !entries[a].SavedAt.Equal(entries[b].SavedAt) {
			return entries[a].SavedAt.Before(entries[b].SavedAt)
		}
		return entries[a].Token < entries[b].Token
	})
}
