package handle

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/webhdfsfs/pkg/journal"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Transport
// ============================================================================

type fakeTransport struct {
	mu      sync.Mutex
	files   map[metadata.RemotePath][]byte
	creates int
	appends int
	reads   int

	// failures makes the next N Create/Append calls fail with failErr
	failures int
	failErr  error

	// unknownOnce applies the next Append, then reports an unknown outcome
	unknownOnce bool

	// block, when set, holds Create/Append until closed
	block   chan struct{}
	started chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{files: make(map[metadata.RemotePath][]byte)}
}

func transientErr() error {
	return &metadata.FSError{Code: metadata.ErrTransientNetwork, Message: "retries exhausted after 3 attempts"}
}

func (f *fakeTransport) wait() {
	f.mu.Lock()
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
}

func (f *fakeTransport) injectFailure() error {
	if f.failures > 0 {
		f.failures--
		return f.failErr
	}
	return nil
}

func (f *fakeTransport) GetFileStatus(_ context.Context, p metadata.RemotePath) (*metadata.FileAttr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "GETFILESTATUS", p, "File does not exist")
	}
	return &metadata.FileAttr{Path: p, Type: metadata.FileTypeRegular, Size: uint64(len(data))}, nil
}

func (f *fakeTransport) Read(_ context.Context, p metadata.RemotePath, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	data, ok := f.files[p]
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "OPEN", p, "File does not exist")
	}
	if offset >= int64(len(data)) {
		return []byte{}, nil
	}
	end := min(offset+length, int64(len(data)))
	return append([]byte(nil), data[offset:end]...), nil
}

func (f *fakeTransport) Create(_ context.Context, p metadata.RemotePath, data []byte, opts webhdfs.CreateOptions) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if err := f.injectFailure(); err != nil {
		return err
	}
	if _, exists := f.files[p]; exists && !opts.Overwrite {
		return metadata.NewError(metadata.ErrAlreadyExists, "CREATE", p, "already exists")
	}
	f.files[p] = append([]byte(nil), data...)
	return nil
}

func (f *fakeTransport) Append(_ context.Context, p metadata.RemotePath, data []byte) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	if err := f.injectFailure(); err != nil {
		return err
	}
	existing, ok := f.files[p]
	if !ok {
		return metadata.NewError(metadata.ErrNotFound, "APPEND", p, "File does not exist")
	}
	f.files[p] = append(existing, data...)
	if f.unknownOnce {
		f.unknownOnce = false
		return &metadata.FSError{
			Code: metadata.ErrTransientNetwork,
			Op:   "APPEND",
			Err:  fmt.Errorf("%w: %w", webhdfs.ErrOutcomeUnknown, io.ErrUnexpectedEOF),
		}
	}
	return nil
}

func (f *fakeTransport) content(p metadata.RemotePath) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.files[p])
}

func (f *fakeTransport) counts() (creates, appends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.appends
}

func newTestManager(t *testing.T, tr *fakeTransport, j journal.Journal, threshold int64) *Manager {
	t.Helper()
	return NewManager(tr, j, Config{FlushThreshold: threshold, FlushTimeout: 10 * time.Second}, nil)
}

// ============================================================================
// Write Handles
// ============================================================================

func TestWriteModeReleaseCreatesFile(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := newTestManager(t, tr, nil, 0)

	id, err := m.Open("/data/out.txt", ModeWrite, OpenOptions{Empty: true})
	require.NoError(t, err)

	var offset int64
	for _, chunk := range []string{"hello ", "webhdfs ", "world"} {
		n, err := m.Write(ctx, id, offset, []byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
		offset += int64(n)
	}

	info, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StateDirty, info.State)
	assert.Equal(t, 19, info.Buffered)

	size, ok := m.OpenSize("/data/out.txt")
	require.True(t, ok)
	assert.Equal(t, int64(19), size)

	require.NoError(t, m.Release(ctx, id))
	assert.Equal(t, "hello webhdfs world", tr.content("/data/out.txt"))

	creates, appends := tr.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 0, appends)

	_, ok = m.OpenSize("/data/out.txt")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Count())
}

func TestReleaseWithoutWrites(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyRemoteFileNeedsNoCall", func(t *testing.T) {
		tr := newFakeTransport()
		m := newTestManager(t, tr, nil, 0)

		id, err := m.Open("/f", ModeWrite, OpenOptions{Empty: true})
		require.NoError(t, err)
		require.NoError(t, m.Release(ctx, id))

		creates, appends := tr.counts()
		assert.Zero(t, creates)
		assert.Zero(t, appends)
	})

	t.Run("UnknownRemoteStateIsReplaced", func(t *testing.T) {
		tr := newFakeTransport()
		tr.files["/f"] = []byte("stale")
		m := newTestManager(t, tr, nil, 0)

		id, err := m.Open("/f", ModeWrite, OpenOptions{})
		require.NoError(t, err)
		require.NoError(t, m.Release(ctx, id))
		assert.Equal(t, "", tr.content("/f"))
	})
}

func TestWritePatternRule(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		offset  int64
		wantErr bool
		want    string
	}{
		{name: "AtEnd", offset: 5, want: "01234abc"},
		{name: "InsideBuffer", offset: 2, want: "01abc"},
		{name: "AtStart", offset: 0, want: "abc34"},
		{name: "Sparse", offset: 6, wantErr: true},
		{name: "Negative", offset: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newFakeTransport()
			m := newTestManager(t, tr, nil, 0)

			id, err := m.Open("/f", ModeWrite, OpenOptions{Empty: true})
			require.NoError(t, err)
			_, err = m.Write(ctx, id, 0, []byte("01234"))
			require.NoError(t, err)

			_, err = m.Write(ctx, id, tt.offset, []byte("abc"))
			if tt.wantErr {
				assert.True(t, metadata.IsCode(err, metadata.ErrUnsupportedWritePattern), "got %v", err)
				tt.want = "01234"
			} else {
				require.NoError(t, err)
			}

			require.NoError(t, m.Release(ctx, id))
			assert.Equal(t, tt.want, tr.content("/f"))
		})
	}
}

func TestWriteBelowCommittedRejected(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := newTestManager(t, tr, nil, 0)

	id, err := m.Open("/f", ModeWrite, OpenOptions{Empty: true})
	require.NoError(t, err)
	_, err = m.Write(ctx, id, 0, []byte("first"))
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx, id))

	info, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StateClean, info.State)
	assert.Equal(t, int64(5), info.Committed)

	_, err = m.Write(ctx, id, 2, []byte("X"))
	assert.True(t, metadata.IsCode(err, metadata.ErrUnsupportedWritePattern))

	_, err = m.Write(ctx, id, 5, []byte("+second"))
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, id))

	assert.Equal(t, "first+second", tr.content("/f"))
	creates, appends := tr.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, appends)
}

func TestAppendMode(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.files["/log"] = []byte("line1\n")
	m := newTestManager(t, tr, nil, 0)

	id, err := m.Open("/log", ModeAppend, OpenOptions{Size: 6})
	require.NoError(t, err)

	_, err = m.Write(ctx, id, 0, []byte("overwrite"))
	assert.True(t, metadata.IsCode(err, metadata.ErrUnsupportedWritePattern))

	_, err = m.Write(ctx, id, 6, []byte("line2\n"))
	require.NoError(t, err)

	got, err := m.Read(ctx, id, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(got))

	got, err = m.Read(ctx, id, 3, 6)
	require.NoError(t, err)
	assert.Equal(t, "e1\nlin", string(got))

	require.NoError(t, m.Release(ctx, id))
	assert.Equal(t, "line1\nline2\n", tr.content("/log"))

	creates, appends := tr.counts()
	assert.Zero(t, creates)
	assert.Equal(t, 1, appends)
}

func TestThresholdFlush(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := newTestManager(t, tr, nil, 4)

	id, err := m.Open("/big", ModeWrite, OpenOptions{Empty: true})
	require.NoError(t, err)

	_, err = m.Write(ctx, id, 0, []byte("abcd"))
	require.NoError(t, err)

	creates, _ := tr.counts()
	assert.Equal(t, 1, creates, "crossing the threshold flushes")
	assert.Equal(t, "abcd", tr.content("/big"))

	_, err = m.Write(ctx, id, 4, []byte("ef"))
	require.NoError(t, err)
	_, appends := tr.counts()
	assert.Zero(t, appends, "below threshold stays buffered")

	_, err = m.Write(ctx, id, 6, []byte("gh"))
	require.NoError(t, err)
	_, appends = tr.counts()
	assert.Equal(t, 1, appends)

	_, err = m.Write(ctx, id, 8, []byte("i"))
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, id))

	assert.Equal(t, "abcdefghi", tr.content("/big"))
	creates, appends = tr.counts()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 2, appends)
}

// ============================================================================
// Read Handles
// ============================================================================

func TestReadHandleBoundedBySizeAtOpen(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.files["/r"] = []byte("0123456789")
	m := newTestManager(t, tr, nil, 0)

	id, err := m.Open("/r", ModeRead, OpenOptions{Size: 10})
	require.NoError(t, err)

	// The file grows after open
	tr.mu.Lock()
	tr.files["/r"] = []byte("0123456789abcdef")
	tr.mu.Unlock()

	got, err := m.Read(ctx, id, 4, 100)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(got))

	got, err = m.Read(ctx, id, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = m.Write(ctx, id, 0, []byte("x"))
	assert.True(t, metadata.IsCode(err, metadata.ErrBadHandle))

	require.NoError(t, m.Release(ctx, id))
	_, err = m.Read(ctx, id, 0, 1)
	assert.True(t, metadata.IsCode(err, metadata.ErrBadHandle))
}

// ============================================================================
// Failures, Journal and Recovery
// ============================================================================

func TestReleaseRetriesOnceThenSucceeds(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.failures, tr.failErr = 1, transientErr()
	m := newTestManager(t, tr, journal.NewMemory(), 0)

	id, err := m.Open("/f", ModeWrite, OpenOptions{Empty: true})
	require.NoError(t, err)
	_, err = m.Write(ctx, id, 0, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, id))
	assert.Equal(t, "payload", tr.content("/f"))
}

func TestReleaseFailureJournalsAndRecovers(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	j := journal.NewMemory()
	m := newTestManager(t, tr, j, 0)

	id, err := m.Open("/f", ModeWrite, OpenOptions{Empty: true})
	require.NoError(t, err)
	_, err = m.Write(ctx, id, 0, []byte("head"))
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx, id))

	_, err = m.Write(ctx, id, 4, []byte("-tail"))
	require.NoError(t, err)

	tr.mu.Lock()
	tr.failures, tr.failErr = 2, transientErr()
	tr.mu.Unlock()

	err = m.Release(ctx, id)
	require.Error(t, err)
	assert.True(t, metadata.IsCode(err, metadata.ErrTransientNetwork))
	assert.Equal(t, "head", tr.content("/f"))
	assert.Equal(t, 0, m.Count(), "the handle is closed even when delivery fails")

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.KindAppend, entries[0].Kind)
	assert.Equal(t, int64(4), entries[0].Offset)
	assert.Equal(t, "-tail", string(entries[0].Data))
	assert.NotEmpty(t, entries[0].Token)

	// Next mount
	m2 := newTestManager(t, tr, j, 0)
	report, err := m2.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, int64(5), report.Bytes)
	assert.Equal(t, "head-tail", tr.content("/f"))

	entries, err = j.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecoverCreateAndPartialAppend(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.files["/partial"] = []byte("abcdef")
	j := journal.NewMemory()

	require.NoError(t, j.Save(ctx, journal.Entry{Token: "c", Path: "/new", Kind: journal.KindCreate, Data: []byte("fresh")}))
	require.NoError(t, j.Save(ctx, journal.Entry{Token: "a", Path: "/partial", Kind: journal.KindAppend, Offset: 3, Data: []byte("defgh")}))
	require.NoError(t, j.Save(ctx, journal.Entry{Token: "x", Path: "/missing", Kind: journal.KindAppend, Offset: 0, Data: []byte("z")}))

	m := newTestManager(t, tr, j, 0)
	report, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Replayed)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, "fresh", tr.content("/new"))
	assert.Equal(t, "abcdefgh", tr.content("/partial"), "only the undelivered suffix is appended")

	entries, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Token)
}

func TestUnknownAppendOutcomeIsResolved(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.files["/f"] = []byte("base")
	m := newTestManager(t, tr, nil, 0)

	id, err := m.Open("/f", ModeAppend, OpenOptions{Size: 4})
	require.NoError(t, err)
	_, err = m.Write(ctx, id, 4, []byte("+more"))
	require.NoError(t, err)

	tr.mu.Lock()
	tr.unknownOnce = true
	tr.mu.Unlock()

	require.NoError(t, m.Flush(ctx, id))
	require.NoError(t, m.Release(ctx, id))

	assert.Equal(t, "base+more", tr.content("/f"), "acknowledged bytes are never re-issued")
	_, appends := tr.counts()
	assert.Equal(t, 1, appends)
}

func TestCancelledFlushCompletesInBackground(t *testing.T) {
	tr := newFakeTransport()
	tr.block = make(chan struct{})
	tr.started = make(chan struct{}, 1)
	m := newTestManager(t, tr, nil, 0)

	id, err := m.Open("/slow", ModeWrite, OpenOptions{Empty: true})
	require.NoError(t, err)
	_, err = m.Write(context.Background(), id, 0, []byte("abc"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-tr.started
		cancel()
	}()
	err = m.Flush(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	info, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, StateFlushing, info.State)

	// The in-flight prefix is frozen; the tail is still writable
	_, err = m.Write(context.Background(), id, 1, []byte("X"))
	assert.True(t, metadata.IsCode(err, metadata.ErrUnsupportedWritePattern))
	_, err = m.Write(context.Background(), id, 3, []byte("def"))
	require.NoError(t, err)

	// A second flush waits for the first one
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	assert.ErrorIs(t, m.Flush(waitCtx, id), context.DeadlineExceeded)

	close(tr.block)

	require.Eventually(t, func() bool {
		info, err := m.Info(id)
		return err == nil && info.Committed == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Release(context.Background(), id))
	assert.Equal(t, "abcdef", tr.content("/slow"))
}

func TestTruncateHandle(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.files["/t"] = []byte("old content")
	m := newTestManager(t, tr, nil, 0)

	id, err := m.Open("/t", ModeAppend, OpenOptions{Size: 11})
	require.NoError(t, err)

	_, err = m.Write(ctx, id, 11, []byte("+tail"))
	require.NoError(t, err)

	err = m.Truncate(id, 5)
	assert.True(t, metadata.IsCode(err, metadata.ErrUnsupportedWritePattern))

	require.NoError(t, m.Truncate(id, 13))
	size, _ := m.OpenSize("/t")
	assert.Equal(t, int64(13), size)

	require.NoError(t, m.Truncate(id, 0))
	_, err = m.Write(ctx, id, 0, []byte("new"))
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, id))

	assert.Equal(t, "new", tr.content("/t"))
}

func TestRepathFollowsRename(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := newTestManager(t, tr, nil, 0)

	a, err := m.Open("/dir/a", ModeWrite, OpenOptions{Empty: true})
	require.NoError(t, err)
	b, err := m.Open("/other", ModeWrite, OpenOptions{Empty: true})
	require.NoError(t, err)

	_, err = m.Write(ctx, a, 0, []byte("A"))
	require.NoError(t, err)
	_, err = m.Write(ctx, b, 0, []byte("B"))
	require.NoError(t, err)

	m.Repath("/dir", "/moved")

	require.NoError(t, m.ReleaseAll(ctx))
	assert.Equal(t, "A", tr.content("/moved/a"))
	assert.Equal(t, "B", tr.content("/other"))
	assert.Equal(t, 0, m.Count())
}

func TestConcurrentIndependentWriters(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	m := newTestManager(t, tr, nil, 16)

	const writers = 8
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := metadata.RemotePath(fmt.Sprintf("/w/%d", i))
			id, err := m.Open(p, ModeWrite, OpenOptions{Empty: true})
			if !assert.NoError(t, err) {
				return
			}
			var off int64
			for range 10 {
				chunk := []byte(fmt.Sprintf("%d-chunk;", i))
				_, err := m.Write(ctx, id, off, chunk)
				assert.NoError(t, err)
				off += int64(len(chunk))
			}
			assert.NoError(t, m.Release(ctx, id))
		}(i)
	}
	wg.Wait()

	for i := range writers {
		p := metadata.RemotePath(fmt.Sprintf("/w/%d", i))
		want := ""
		for range 10 {
			want += fmt.Sprintf("%d-chunk;", i)
		}
		assert.Equal(t, want, tr.content(p))
	}
}

func TestUnknownHandle(t *testing.T) {
	m := newTestManager(t, newFakeTransport(), nil, 0)

	err := m.Flush(context.Background(), 42)
	assert.True(t, metadata.IsCode(err, metadata.ErrBadHandle))
	err = m.Release(context.Background(), 42)
	assert.True(t, metadata.IsCode(err, metadata.ErrBadHandle))
}
