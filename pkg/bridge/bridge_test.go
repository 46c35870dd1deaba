package bridge

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/webhdfsfs/pkg/handle"
	"github.com/marmos91/webhdfsfs/pkg/journal"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/metadata/cache"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs/webhdfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// ============================================================================
// Test Fixture
// ============================================================================

type testEnv struct {
	srv     *webhdfstest.Server
	bridge  *Bridge
	cache   *cache.AttrCache
	journal *journal.MemoryJournal
}

func newTestEnv(t *testing.T, remoteRoot string) *testEnv {
	t.Helper()
	return newTestEnvWith(t, remoteRoot, func(c *webhdfs.Client) Transport { return c })
}

// newTestEnvWith lets a test put a wrapper between the bridge and the client.
func newTestEnvWith(t *testing.T, remoteRoot string, wrap func(*webhdfs.Client) Transport) *testEnv {
	t.Helper()

	srv := webhdfstest.NewServer(t)
	if remoteRoot != "/" {
		srv.Mkdir(remoteRoot)
	}

	client, err := webhdfs.New(webhdfs.Config{
		BaseURL:        srv.BaseURL(),
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	resolver, err := metadata.NewResolver(remoteRoot, "")
	require.NoError(t, err)

	attrCache := cache.New(cache.Config{
		TTL:         time.Minute,
		NegativeTTL: time.Minute,
		MaxEntries:  1000,
		Shards:      4,
	}, nil)
	j := journal.NewMemory()
	handles := handle.NewManager(client, j, handle.Config{FlushTimeout: 10 * time.Second}, nil)

	b, err := New(Options{
		Resolver:   resolver,
		Transport:  wrap(client),
		Cache:      attrCache,
		Handles:    handles,
		Identities: NewIdentityMapper(),
		StatfsTTL:  time.Minute,
	})
	require.NoError(t, err)

	return &testEnv{srv: srv, bridge: b, cache: attrCache, journal: j}
}

// writeFile creates local with content through the bridge.
func (e *testEnv) writeFile(t *testing.T, local string, content []byte) {
	t.Helper()
	ctx := context.Background()

	id, _, err := e.bridge.Create(ctx, local, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	require.NoError(t, err)
	n, err := e.bridge.Write(ctx, id, 0, content)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.NoError(t, e.bridge.Release(ctx, id))
}

// readFile reads local through a fresh read handle.
func (e *testEnv) readFile(t *testing.T, local string) []byte {
	t.Helper()
	ctx := context.Background()

	id, err := e.bridge.Open(ctx, local, unix.O_RDONLY)
	require.NoError(t, err)
	defer func() { require.NoError(t, e.bridge.Release(ctx, id)) }()

	var out bytes.Buffer
	for {
		chunk, err := e.bridge.Read(ctx, id, int64(out.Len()), 4)
		require.NoError(t, err)
		if len(chunk) == 0 {
			return out.Bytes()
		}
		out.Write(chunk)
	}
}

// ============================================================================
// Attributes and Caching
// ============================================================================

func TestGetattrAfterMkdirIsServedFromCache(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()

	created, err := env.bridge.Mkdir(ctx, "/tmp", 0o750)
	require.NoError(t, err)
	assert.True(t, created.IsDir())

	env.srv.ResetCounts()
	hitsBefore := env.cache.Stats().Hits

	attr, err := env.bridge.Getattr(ctx, "/tmp")
	require.NoError(t, err)
	assert.True(t, attr.IsDir())
	assert.Equal(t, uint32(unix.S_IFDIR|0o750), attr.Mode)

	assert.Zero(t, env.srv.TotalCount(), "no server round-trip within the TTL")
	assert.Greater(t, env.cache.Stats().Hits, hitsBefore)
}

func TestGetattrTranslation(t *testing.T) {
	env := newTestEnv(t, "/")
	env.srv.WriteFile("/data/file.bin", bytes.Repeat([]byte("x"), 1500))

	attr, err := env.bridge.Getattr(context.Background(), "data/file.bin")
	require.NoError(t, err)

	assert.Equal(t, uint32(unix.S_IFREG|0o644), attr.Mode)
	assert.Equal(t, uint64(1500), attr.Size)
	assert.Equal(t, uint64(3), attr.Blocks)
	assert.Equal(t, uint32(134217728), attr.Blksize)
	assert.Equal(t, uint32(1), attr.Nlink)
	assert.NotZero(t, attr.Ino)
	assert.Equal(t, attr.Mtime, attr.Ctime)

	dir, err := env.bridge.Getattr(context.Background(), "/data")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), dir.Nlink, "nlink is the children count")
	assert.Equal(t, uint32(minBlockSize), dir.Blksize)
}

func TestGetattrNegativeCache(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()

	_, err := env.bridge.Getattr(ctx, "/missing")
	assert.Equal(t, unix.ENOENT, ToErrno(err))

	env.srv.ResetCounts()
	_, err = env.bridge.Getattr(ctx, "/missing")
	assert.Equal(t, unix.ENOENT, ToErrno(err))
	assert.Zero(t, env.srv.TotalCount())

	// Creating through the bridge drops the negative entry
	env.writeFile(t, "/missing", []byte("now here"))
	attr, err := env.bridge.Getattr(ctx, "/missing")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), attr.Size)
}

func TestReaddirPopulatesCache(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.WriteFile("/d/b.txt", []byte("bb"))
	env.srv.WriteFile("/d/a.txt", []byte("a"))
	env.srv.Mkdir("/d/sub")

	entries, err := env.bridge.Readdir(ctx, "/d")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, uint32(unix.S_IFREG), entries[0].Mode)
	assert.Equal(t, "sub", entries[2].Name)
	assert.Equal(t, uint32(unix.S_IFDIR), entries[2].Mode)

	env.srv.ResetCounts()
	attr, err := env.bridge.Getattr(ctx, "/d/b.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), attr.Size)

	_, err = env.bridge.Readdir(ctx, "/d")
	require.NoError(t, err)
	assert.Zero(t, env.srv.TotalCount())

	_, err = env.bridge.Readdir(ctx, "/d/a.txt")
	assert.Equal(t, unix.ENOTDIR, ToErrno(err))
}

func TestPathEscapeRejected(t *testing.T) {
	env := newTestEnv(t, "/user/alice")

	_, err := env.bridge.Getattr(context.Background(), "../bob/secret")
	assert.Equal(t, unix.EINVAL, ToErrno(err))
	assert.Zero(t, env.srv.TotalCount())
}

func TestRemoteRootMapping(t *testing.T) {
	env := newTestEnv(t, "/user/alice")

	env.writeFile(t, "/notes.txt", []byte("mapped"))

	data, ok := env.srv.ReadFile("/user/alice/notes.txt")
	require.True(t, ok)
	assert.Equal(t, "mapped", string(data))
	assert.False(t, env.srv.Exists("/notes.txt"))
}

// ============================================================================
// Data Round-Trips
// ============================================================================

func TestCreateWriteReleaseRoundTrip(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	payload := []byte("round-trip fidelity across create, write and release\n")

	id, attr, err := env.bridge.Create(ctx, "/f.txt", unix.O_WRONLY|unix.O_CREAT, 0o640)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), attr.Size)
	assert.True(t, env.srv.Exists("/f.txt"), "create is visible immediately")

	_, err = env.bridge.Write(ctx, id, 0, payload[:10])
	require.NoError(t, err)
	_, err = env.bridge.Write(ctx, id, 10, payload[10:])
	require.NoError(t, err)

	// Buffered bytes show in getattr before delivery
	attr, err = env.bridge.Getattr(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), attr.Size)

	// And through the write handle itself
	back, err := env.bridge.Read(ctx, id, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, payload[:10], back)

	require.NoError(t, env.bridge.Release(ctx, id))

	attr, err = env.bridge.Getattr(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), attr.Size, "no stale size after release")
	assert.Equal(t, uint32(0o640), env.srv.Perm("/f.txt"))

	assert.Equal(t, payload, env.readFile(t, "/f.txt"))
}

func TestAppendConcatenates(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	b1 := []byte("first part;")
	b2 := []byte("second part")

	env.writeFile(t, "/log", b1)

	attr, err := env.bridge.Getattr(ctx, "/log")
	require.NoError(t, err)

	id, err := env.bridge.Open(ctx, "/log", unix.O_WRONLY|unix.O_APPEND)
	require.NoError(t, err)
	_, err = env.bridge.Write(ctx, id, int64(attr.Size), b2)
	require.NoError(t, err)
	require.NoError(t, env.bridge.Release(ctx, id))

	assert.Equal(t, append(append([]byte(nil), b1...), b2...), env.readFile(t, "/log"))
	assert.GreaterOrEqual(t, env.srv.DataCount("APPEND"), 1)
}

func TestOpenTruncReplacesContent(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.WriteFile("/cfg", []byte("old and long content"))

	id, err := env.bridge.Open(ctx, "/cfg", unix.O_WRONLY|unix.O_TRUNC)
	require.NoError(t, err)

	data, _ := env.srv.ReadFile("/cfg")
	assert.Empty(t, data, "O_TRUNC empties the file at open")

	_, err = env.bridge.Write(ctx, id, 0, []byte("new"))
	require.NoError(t, err)
	require.NoError(t, env.bridge.Release(ctx, id))

	assert.Equal(t, "new", string(env.readFile(t, "/cfg")))
}

func TestUnsupportedWritePattern(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.WriteFile("/existing", []byte("0123456789"))

	id, err := env.bridge.Open(ctx, "/existing", unix.O_RDWR)
	require.NoError(t, err)

	_, err = env.bridge.Write(ctx, id, 3, []byte("rewrite"))
	assert.Equal(t, unix.ENOTSUP, ToErrno(err))

	_, err = env.bridge.Write(ctx, id, 12, []byte("sparse"))
	assert.Equal(t, unix.ENOTSUP, ToErrno(err))

	_, err = env.bridge.Write(ctx, id, 10, []byte("AB"))
	require.NoError(t, err)
	require.NoError(t, env.bridge.Release(ctx, id))

	assert.Equal(t, "0123456789AB", string(env.readFile(t, "/existing")))
}

func TestOpenDirectoryForWriting(t *testing.T) {
	env := newTestEnv(t, "/")
	env.srv.Mkdir("/dir")

	_, err := env.bridge.Open(context.Background(), "/dir", unix.O_WRONLY)
	assert.Equal(t, unix.EISDIR, ToErrno(err))
}

func TestCreateExclusive(t *testing.T) {
	env := newTestEnv(t, "/")
	env.srv.WriteFile("/taken", []byte("x"))

	_, _, err := env.bridge.Create(context.Background(), "/taken", unix.O_WRONLY|unix.O_CREAT|unix.O_EXCL, 0o644)
	assert.Equal(t, unix.EEXIST, ToErrno(err))

	data, _ := env.srv.ReadFile("/taken")
	assert.Equal(t, "x", string(data))
}

func TestConcurrentWritersDoNotBleed(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()

	const files = 4
	want := make([][]byte, files)
	for i := range files {
		want[i] = bytes.Repeat([]byte(fmt.Sprintf("<%d>", i)), 200)
	}

	var wg sync.WaitGroup
	for i := range files {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			local := fmt.Sprintf("/concurrent-%d", i)
			id, _, err := env.bridge.Create(ctx, local, unix.O_WRONLY|unix.O_CREAT, 0o644)
			if !assert.NoError(t, err) {
				return
			}
			for off := 0; off < len(want[i]); off += 64 {
				end := min(off+64, len(want[i]))
				_, err := env.bridge.Write(ctx, id, int64(off), want[i][off:end])
				assert.NoError(t, err)
			}
			assert.NoError(t, env.bridge.Release(ctx, id))
		}(i)
	}
	wg.Wait()

	for i := range files {
		got, ok := env.srv.ReadFile(fmt.Sprintf("/concurrent-%d", i))
		require.True(t, ok)
		assert.Equal(t, want[i], got, "file %d", i)
	}
}

// ============================================================================
// Namespace Mutations
// ============================================================================

func TestRename(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.writeFile(t, "/a", []byte("contents of a"))

	before, err := env.bridge.Getattr(ctx, "/a")
	require.NoError(t, err)

	require.NoError(t, env.bridge.Rename(ctx, "/a", "/b"))

	_, err = env.bridge.Getattr(ctx, "/a")
	assert.Equal(t, unix.ENOENT, ToErrno(err))

	after, err := env.bridge.Getattr(ctx, "/b")
	require.NoError(t, err)
	assert.Equal(t, before.Size, after.Size)
	assert.Equal(t, before.Mode, after.Mode)
	assert.Equal(t, before.Ino, after.Ino)
}

func TestRenameReplaceSemantics(t *testing.T) {
	ctx := context.Background()

	t.Run("ReplacesFile", func(t *testing.T) {
		env := newTestEnv(t, "/")
		env.srv.WriteFile("/src", []byte("new"))
		env.srv.WriteFile("/dst", []byte("old"))

		require.NoError(t, env.bridge.Rename(ctx, "/src", "/dst"))
		data, _ := env.srv.ReadFile("/dst")
		assert.Equal(t, "new", string(data))
		assert.False(t, env.srv.Exists("/src"))
	})

	t.Run("ReplacesEmptyDirectory", func(t *testing.T) {
		env := newTestEnv(t, "/")
		env.srv.WriteFile("/srcdir/f", []byte("f"))
		env.srv.Mkdir("/dstdir")

		require.NoError(t, env.bridge.Rename(ctx, "/srcdir", "/dstdir"))
		assert.True(t, env.srv.Exists("/dstdir/f"))
		assert.False(t, env.srv.Exists("/dstdir/srcdir"))
	})

	t.Run("NonEmptyDirectory", func(t *testing.T) {
		env := newTestEnv(t, "/")
		env.srv.Mkdir("/srcdir")
		env.srv.WriteFile("/dstdir/keep", []byte("k"))

		err := env.bridge.Rename(ctx, "/srcdir", "/dstdir")
		assert.Equal(t, unix.ENOTEMPTY, ToErrno(err))
		assert.True(t, env.srv.Exists("/dstdir/keep"))
	})

	t.Run("FileOntoDirectory", func(t *testing.T) {
		env := newTestEnv(t, "/")
		env.srv.WriteFile("/f", []byte("f"))
		env.srv.Mkdir("/dir")

		err := env.bridge.Rename(ctx, "/f", "/dir")
		assert.Equal(t, unix.EISDIR, ToErrno(err))
	})

	t.Run("IntoItself", func(t *testing.T) {
		env := newTestEnv(t, "/")
		env.srv.Mkdir("/dir")

		err := env.bridge.Rename(ctx, "/dir", "/dir/inner")
		assert.Equal(t, unix.EINVAL, ToErrno(err))
	})

	t.Run("MissingSource", func(t *testing.T) {
		env := newTestEnv(t, "/")
		err := env.bridge.Rename(ctx, "/nope", "/other")
		assert.Equal(t, unix.ENOENT, ToErrno(err))
	})
}

func TestRenameReplacesInOneStep(t *testing.T) {
	env := newTestEnv(t, "/")
	env.srv.WriteFile("/src", []byte("new"))
	env.srv.WriteFile("/dst", []byte("old"))
	env.srv.ResetCounts()

	require.NoError(t, env.bridge.Rename(context.Background(), "/src", "/dst"))

	assert.Equal(t, 0, env.srv.Count("DELETE"), "destination replaced by the rename itself")
	assert.Equal(t, 1, env.srv.Count("RENAME"))
	data, _ := env.srv.ReadFile("/dst")
	assert.Equal(t, "new", string(data))
}

func TestRenameReplaceWithoutRenameOptions(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.RejectRenameOptions(true)

	env.srv.WriteFile("/a", []byte("a"))
	env.srv.WriteFile("/b", []byte("b"))
	require.NoError(t, env.bridge.Rename(ctx, "/a", "/b"))
	data, _ := env.srv.ReadFile("/b")
	assert.Equal(t, "a", string(data))
	assert.Equal(t, 1, env.srv.Count("DELETE"))

	// The refusal is remembered
	env.srv.WriteFile("/c", []byte("c"))
	env.srv.ResetCounts()
	require.NoError(t, env.bridge.Rename(ctx, "/c", "/b"))
	assert.Equal(t, 1, env.srv.Count("RENAME"))
	data, _ = env.srv.ReadFile("/b")
	assert.Equal(t, "c", string(data))
}

func TestRenameRejectedByServer(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingDestinationParent", func(t *testing.T) {
		env := newTestEnv(t, "/")
		env.srv.WriteFile("/a", []byte("a"))

		err := env.bridge.Rename(ctx, "/a", "/nodir/b")
		assert.Equal(t, unix.ENOENT, ToErrno(err))
		assert.True(t, env.srv.Exists("/a"))
	})

	t.Run("DestinationParentIsFile", func(t *testing.T) {
		env := newTestEnv(t, "/")
		env.srv.WriteFile("/a", []byte("a"))
		env.srv.WriteFile("/file", []byte("f"))

		err := env.bridge.Rename(ctx, "/a", "/file/b")
		assert.Equal(t, unix.ENOTDIR, ToErrno(err))
	})
}

func TestMkdirRequiresParent(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()

	_, err := env.bridge.Mkdir(ctx, "/p/q", 0o755)
	assert.Equal(t, unix.ENOENT, ToErrno(err))
	assert.False(t, env.srv.Exists("/p"), "missing parents must not be created")

	env.srv.WriteFile("/file", []byte("f"))
	_, err = env.bridge.Mkdir(ctx, "/file/q", 0o755)
	assert.Equal(t, unix.ENOTDIR, ToErrno(err))

	env.srv.Mkdir("/p")
	_, err = env.bridge.Mkdir(ctx, "/p/q", 0o755)
	require.NoError(t, err)
	assert.True(t, env.srv.IsDir("/p/q"))
}

func TestRenameDirectoryInvalidatesSubtree(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.WriteFile("/old/inner.txt", []byte("inner"))

	_, err := env.bridge.Getattr(ctx, "/old/inner.txt")
	require.NoError(t, err)

	require.NoError(t, env.bridge.Rename(ctx, "/old", "/new"))

	_, err = env.bridge.Getattr(ctx, "/old/inner.txt")
	assert.Equal(t, unix.ENOENT, ToErrno(err))

	attr, err := env.bridge.Getattr(ctx, "/new/inner.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), attr.Size)
}

func TestUnlinkErrors(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.WriteFile("/full/child", []byte("c"))

	err := env.bridge.Unlink(ctx, "/full")
	assert.True(t, metadata.IsCode(err, metadata.ErrDirectoryNotEmpty), "got %v", err)
	assert.Equal(t, unix.ENOTEMPTY, ToErrno(err))

	err = env.bridge.Unlink(ctx, "/does-not-exist")
	assert.True(t, metadata.IsNotFound(err), "got %v", err)
	assert.Equal(t, unix.ENOENT, ToErrno(err))

	require.NoError(t, env.bridge.Unlink(ctx, "/full/child"))
	assert.False(t, env.srv.Exists("/full/child"))
}

func TestRmdir(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.WriteFile("/full/child", []byte("c"))
	env.srv.Mkdir("/empty")

	assert.Equal(t, unix.ENOTDIR, ToErrno(env.bridge.Rmdir(ctx, "/full/child")))
	assert.Equal(t, unix.ENOTEMPTY, ToErrno(env.bridge.Rmdir(ctx, "/full")))
	assert.Equal(t, unix.EINVAL, ToErrno(env.bridge.Rmdir(ctx, "/")))

	require.NoError(t, env.bridge.Rmdir(ctx, "/empty"))
	assert.False(t, env.srv.Exists("/empty"))

	_, err := env.bridge.Getattr(ctx, "/empty")
	assert.Equal(t, unix.ENOENT, ToErrno(err))
}

func TestMkdirExisting(t *testing.T) {
	env := newTestEnv(t, "/")
	env.srv.Mkdir("/there")

	_, err := env.bridge.Mkdir(context.Background(), "/there", 0o755)
	assert.Equal(t, unix.EEXIST, ToErrno(err))
}

func TestChmodAndUtimens(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.WriteFile("/f", []byte("f"))
	env.srv.Mkdir("/shared")

	_, err := env.bridge.Getattr(ctx, "/f")
	require.NoError(t, err)

	require.NoError(t, env.bridge.Chmod(ctx, "/f", unix.S_IFREG|0o600))
	assert.Equal(t, uint32(0o600), env.srv.Perm("/f"))

	attr, err := env.bridge.Getattr(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint32(unix.S_IFREG|0o600), attr.Mode, "chmod invalidates the cached mode")

	require.NoError(t, env.bridge.Chmod(ctx, "/shared", 0o1777))
	assert.Equal(t, uint32(0o1777), env.srv.Perm("/shared"))

	mtime := time.UnixMilli(1700000000000)
	require.NoError(t, env.bridge.Utimens(ctx, "/f", nil, &mtime))
	assert.Equal(t, int64(1700000000000), env.srv.Mtime("/f"))

	attr, err = env.bridge.Getattr(ctx, "/f")
	require.NoError(t, err)
	assert.True(t, attr.Mtime.Equal(mtime))

	assert.Equal(t, unix.ENOENT, ToErrno(env.bridge.Chmod(ctx, "/missing", 0o644)))
}

func TestTruncate(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.WriteFile("/t", []byte("0123456789"))

	require.NoError(t, env.bridge.Truncate(ctx, "/t", 4))
	data, _ := env.srv.ReadFile("/t")
	assert.Equal(t, "0123", string(data))

	attr, err := env.bridge.Getattr(ctx, "/t")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), attr.Size)

	assert.Equal(t, unix.ENOTSUP, ToErrno(env.bridge.Truncate(ctx, "/t", 100)))

	require.NoError(t, env.bridge.Truncate(ctx, "/t", 0))
	data, _ = env.srv.ReadFile("/t")
	assert.Empty(t, data)
	assert.Equal(t, uint32(0o644), env.srv.Perm("/t"))
}

func TestTruncateHandle(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()

	id, _, err := env.bridge.Create(ctx, "/h", unix.O_WRONLY|unix.O_CREAT, 0o644)
	require.NoError(t, err)
	_, err = env.bridge.Write(ctx, id, 0, []byte("abcdef"))
	require.NoError(t, err)
	require.NoError(t, env.bridge.TruncateHandle(ctx, id, 3))
	require.NoError(t, env.bridge.Release(ctx, id))

	assert.Equal(t, "abc", string(env.readFile(t, "/h")))
}

func TestStatfs(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()
	env.srv.WriteFile("/a", make([]byte, 100))
	env.srv.WriteFile("/d/b", make([]byte, 50))

	stats, err := env.bridge.Statfs(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(450), stats.UsedBytes, "space consumed includes replication")
	assert.Equal(t, uint64(syntheticCapacity), stats.TotalBytes)
	assert.Equal(t, uint64(4), stats.UsedFiles)

	env.srv.ResetCounts()
	_, err = env.bridge.Statfs(ctx)
	require.NoError(t, err)
	assert.Zero(t, env.srv.Count("GETCONTENTSUMMARY"), "statistics are reused within the TTL")
}

func TestStatisticsQuota(t *testing.T) {
	stats := statistics(&webhdfs.ContentSummary{
		DirectoryCount: 2,
		FileCount:      8,
		Length:         1000,
		SpaceConsumed:  3000,
		Quota:          100,
		SpaceQuota:     1 << 20,
	})
	assert.Equal(t, uint64(1<<20), stats.TotalBytes)
	assert.Equal(t, uint64(3000), stats.UsedBytes)
	assert.Equal(t, uint64(100), stats.TotalFiles)
	assert.Equal(t, uint64(10), stats.UsedFiles)
}

// ============================================================================
// End-to-End Scenario
// ============================================================================

func TestMkdirEchoCatRmScenario(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()

	_, err := env.bridge.Mkdir(ctx, "/tmp", 0o755)
	require.NoError(t, err)

	// echo "hello" > /tmp/test
	id, _, err := env.bridge.Create(ctx, "/tmp/test", unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = env.bridge.Write(ctx, id, 0, []byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, env.bridge.Flush(ctx, id))
	require.NoError(t, env.bridge.Release(ctx, id))

	// cat /tmp/test
	assert.Equal(t, "hello\n", string(env.readFile(t, "/tmp/test")))

	// rm /tmp/test
	require.NoError(t, env.bridge.Unlink(ctx, "/tmp/test"))

	// cat /tmp/test
	_, err = env.bridge.Getattr(ctx, "/tmp/test")
	assert.Equal(t, unix.ENOENT, ToErrno(err))
	_, err = env.bridge.Open(ctx, "/tmp/test", unix.O_RDONLY)
	assert.Equal(t, unix.ENOENT, ToErrno(err))
}

func TestReleaseFailureIsJournaled(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()

	id, _, err := env.bridge.Create(ctx, "/doomed", unix.O_WRONLY|unix.O_CREAT, 0o644)
	require.NoError(t, err)
	_, err = env.bridge.Write(ctx, id, 0, []byte("precious"))
	require.NoError(t, err)

	// Every attempt of both deliveries fails
	env.srv.InjectFault("CREATE", webhdfstest.PhaseNamenode, webhdfstest.Fault{Status: 503, Times: 100})

	err = env.bridge.Release(ctx, id)
	assert.Equal(t, unix.EIO, ToErrno(err))

	entries, err := env.journal.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "precious", string(entries[0].Data))
	assert.Equal(t, metadata.RemotePath("/doomed"), entries[0].Path)
}

func TestBadHandle(t *testing.T) {
	env := newTestEnv(t, "/")
	ctx := context.Background()

	_, err := env.bridge.Read(ctx, 999, 0, 10)
	assert.Equal(t, unix.EBADF, ToErrno(err))
	assert.Equal(t, unix.EBADF, ToErrno(env.bridge.Release(ctx, 999)))
}

// ============================================================================
// Cache Races
// ============================================================================

// slowStat holds the first GETFILESTATUS of path until release is closed,
// answering with what the server said before the hold.
type slowStat struct {
	*webhdfs.Client
	path    metadata.RemotePath
	held    chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowStat) GetFileStatus(ctx context.Context, p metadata.RemotePath) (*metadata.FileAttr, error) {
	first := false
	if p == s.path {
		s.once.Do(func() { first = true })
	}
	if !first {
		return s.Client.GetFileStatus(ctx, p)
	}

	attr, err := s.Client.GetFileStatus(ctx, p)
	close(s.held)
	<-s.release
	return attr, err
}

func TestSlowStatDoesNotCacheSizeFromBeforeWrite(t *testing.T) {
	slow := &slowStat{path: "/f", held: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnvWith(t, "/", func(c *webhdfs.Client) Transport {
		slow.Client = c
		return slow
	})
	ctx := context.Background()
	env.srv.WriteFile("/f", []byte("old"))

	done := make(chan error, 1)
	go func() {
		_, err := env.bridge.Getattr(ctx, "/f")
		done <- err
	}()
	<-slow.held

	id, err := env.bridge.Open(ctx, "/f", unix.O_WRONLY|unix.O_TRUNC)
	require.NoError(t, err)
	_, err = env.bridge.Write(ctx, id, 0, []byte("newcontent"))
	require.NoError(t, err)
	require.NoError(t, env.bridge.Release(ctx, id))

	close(slow.release)
	require.NoError(t, <-done)

	attr, err := env.bridge.Getattr(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), attr.Size)
}
