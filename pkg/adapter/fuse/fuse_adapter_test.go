package fuse

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/webhdfsfs/pkg/bridge"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs/webhdfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFillAttr(t *testing.T) {
	mtime := time.Unix(1700000000, 500)
	atime := time.Unix(1600000000, 0)

	var out fuse.Attr
	fillAttr(&out, &bridge.Attr{
		Ino:     42,
		Mode:    unix.S_IFREG | 0o640,
		Size:    1025,
		Blocks:  3,
		Blksize: 1 << 20,
		Nlink:   1,
		Uid:     1000,
		Gid:     100,
		Atime:   atime,
		Mtime:   mtime,
		Ctime:   mtime,
	})

	assert.Equal(t, uint64(42), out.Ino)
	assert.Equal(t, uint32(unix.S_IFREG|0o640), out.Mode)
	assert.Equal(t, uint64(1025), out.Size)
	assert.Equal(t, uint64(3), out.Blocks)
	assert.Equal(t, uint32(1<<20), out.Blksize)
	assert.Equal(t, uint32(1000), out.Uid)
	assert.Equal(t, uint32(100), out.Gid)
	assert.Equal(t, uint64(1700000000), out.Mtime)
	assert.Equal(t, uint32(500), out.Mtimensec)
	assert.Equal(t, uint64(1600000000), out.Atime)
}

func TestFillStatfs(t *testing.T) {
	tests := []struct {
		name  string
		stats metadata.FilesystemStatistics
		want  fuse.StatfsOut
	}{
		{
			name:  "PartlyUsed",
			stats: metadata.FilesystemStatistics{TotalBytes: 40960, UsedBytes: 8192, TotalFiles: 100, UsedFiles: 7},
			want:  fuse.StatfsOut{Blocks: 10, Bfree: 8, Bavail: 8, Files: 100, Ffree: 93},
		},
		{
			name:  "OverQuota",
			stats: metadata.FilesystemStatistics{TotalBytes: 4096, UsedBytes: 8192, TotalFiles: 5, UsedFiles: 9},
			want:  fuse.StatfsOut{Blocks: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out fuse.StatfsOut
			fillStatfs(&out, &tt.stats)

			assert.Equal(t, tt.want.Blocks, out.Blocks)
			assert.Equal(t, tt.want.Bfree, out.Bfree)
			assert.Equal(t, tt.want.Bavail, out.Bavail)
			assert.Equal(t, tt.want.Files, out.Files)
			assert.Equal(t, tt.want.Ffree, out.Ffree)
			assert.Equal(t, uint32(statfsBlockSize), out.Bsize)
			assert.Equal(t, uint32(maxNameLen), out.NameLen)
		})
	}
}

func TestAdapterIdentity(t *testing.T) {
	a := New(Config{Mountpoint: "/mnt/hdfs"}, nil)

	assert.Equal(t, "FUSE", a.Protocol())
	assert.Equal(t, "/mnt/hdfs", a.Mountpoint())
	assert.Equal(t, "webhdfs", a.config.FSName)
	assert.Equal(t, time.Second, a.config.AttrTimeout)
}

func TestStopBeforeServe(t *testing.T) {
	a := New(Config{Mountpoint: t.TempDir()}, nil)
	assert.NoError(t, a.Stop(context.Background()))
	assert.NoError(t, a.Stop(context.Background()))
}

func TestServeMissingMountpoint(t *testing.T) {
	a := New(Config{Mountpoint: filepath.Join(t.TempDir(), "missing")}, nil)
	err := a.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mountpoint")
}

// ============================================================================
// Mounted Scenarios
// ============================================================================

// fuseAvailable skips tests that need a real FUSE mount when /dev/fuse is
// absent.
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

// testMount mounts a bridge over a fake WebHDFS server and returns the
// mountpoint. The filesystem is unmounted on cleanup.
func testMount(t *testing.T) (string, *webhdfstest.Server) {
	t.Helper()
	fuseAvailable(t)

	srv := webhdfstest.NewServer(t)
	client, err := webhdfs.New(webhdfs.Config{
		BaseURL:        srv.BaseURL(),
		Timeout:        5 * time.Second,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	mountpoint := t.TempDir()
	resolver, err := metadata.NewResolver("/", mountpoint)
	require.NoError(t, err)

	b, err := bridge.New(bridge.Options{Resolver: resolver, Transport: client})
	require.NoError(t, err)

	// Kernel caching would hide remote state from the assertions
	a := New(Config{
		Mountpoint:   mountpoint,
		EntryTimeout: time.Nanosecond,
		AttrTimeout:  time.Nanosecond,
	}, b)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()

	select {
	case <-a.Ready():
	case err := <-errCh:
		cancel()
		t.Skipf("skipping: mount failed: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("mount did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("Serve did not return after unmount")
		}
		assert.NoError(t, b.Close(context.Background()))
	})

	return mountpoint, srv
}

func TestMountMkdirEchoCatRm(t *testing.T) {
	mnt, srv := testMount(t)

	dir := filepath.Join(mnt, "logs")
	require.NoError(t, os.Mkdir(dir, 0o755))
	assert.True(t, srv.IsDir("/logs"))

	file := filepath.Join(dir, "today.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello\n"), 0o644))

	remote, ok := srv.ReadFile("/logs/today.txt")
	require.True(t, ok)
	assert.Equal(t, "hello\n", string(remote))

	got, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Size())
	assert.True(t, info.Mode().IsRegular())

	require.NoError(t, os.Remove(file))
	require.NoError(t, os.Remove(dir))
	assert.False(t, srv.Exists("/logs"))
}

func TestMountAppendAndRename(t *testing.T) {
	mnt, srv := testMount(t)

	file := filepath.Join(mnt, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("one\n"), 0o644))

	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.WriteString("two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	renamed := filepath.Join(mnt, "b.txt")
	require.NoError(t, os.Rename(file, renamed))

	data, ok := srv.ReadFile("/b.txt")
	require.True(t, ok)
	assert.Equal(t, "one\ntwo\n", string(data))
	assert.False(t, srv.Exists("/a.txt"))
}

func TestMountReaddirAndStatfs(t *testing.T) {
	mnt, srv := testMount(t)

	srv.Mkdir("/data")
	srv.WriteFile("/data/x", []byte("xx"))
	srv.WriteFile("/data/y", []byte("yyy"))

	entries, err := os.ReadDir(filepath.Join(mnt, "data"))
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"x", "y"}, names)

	var st unix.Statfs_t
	require.NoError(t, unix.Statfs(mnt, &st))
	assert.Equal(t, int64(statfsBlockSize), int64(st.Bsize))
	assert.Greater(t, st.Blocks, uint64(0))
}

func TestMountUnlinkMissing(t *testing.T) {
	mnt, _ := testMount(t)

	err := os.Remove(filepath.Join(mnt, "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
