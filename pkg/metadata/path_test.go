package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		root       string
		mountpoint string
		local      string
		want       RemotePath
		wantCode   ErrorCode
	}{
		{name: "mount root relative empty", root: "/", local: "", want: "/"},
		{name: "relative file", root: "/", local: "a/b.txt", want: "/a/b.txt"},
		{name: "absolute under mount root", root: "/", local: "/a/b", want: "/a/b"},
		{name: "remote root prefix", root: "/user/alice", local: "data/x", want: "/user/alice/data/x"},
		{name: "remote root trailing slash", root: "/user/alice/", local: "x", want: "/user/alice/x"},
		{name: "mountpoint stripped", root: "/", mountpoint: "/mnt/hdfs", local: "/mnt/hdfs/a", want: "/a"},
		{name: "mountpoint itself", root: "/data", mountpoint: "/mnt/hdfs", local: "/mnt/hdfs", want: "/data"},
		{name: "mountpoint sibling not stripped", root: "/", mountpoint: "/mnt/hdfs", local: "/mnt/hdfs2/a", want: "/mnt/hdfs2/a"},
		{name: "dot collapsed", root: "/", local: "a/./b/.", want: "/a/b"},
		{name: "dotdot collapsed", root: "/", local: "a/b/../c", want: "/a/c"},
		{name: "double slashes", root: "/", local: "a//b///c", want: "/a/b/c"},
		{name: "dotdot to root", root: "/r", local: "a/..", want: "/r"},
		{name: "escape above root", root: "/r", local: "../etc/passwd", wantCode: ErrInvalidPath},
		{name: "escape after descent", root: "/", local: "a/../../b", wantCode: ErrInvalidPath},
		{name: "nul byte", root: "/", local: "a\x00b", wantCode: ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResolver(tt.root, tt.mountpoint)
			require.NoError(t, err)

			got, err := r.Resolve(tt.local)
			if tt.wantCode != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	r, err := NewResolver("/base", "")
	require.NoError(t, err)

	a, err := r.Resolve("x/../y/z")
	require.NoError(t, err)
	b, err := r.Resolve("/y/./z")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNewResolverRejectsRelativeRoot(t *testing.T) {
	_, err := NewResolver("user/alice", "")
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidPath))
}

func TestRelative(t *testing.T) {
	r, err := NewResolver("/user/alice", "")
	require.NoError(t, err)

	rel, ok := r.Relative("/user/alice/a/b")
	assert.True(t, ok)
	assert.Equal(t, "a/b", rel)

	rel, ok = r.Relative("/user/alice")
	assert.True(t, ok)
	assert.Equal(t, "", rel)

	_, ok = r.Relative("/user/bob/a")
	assert.False(t, ok)

	root, err := NewResolver("/", "")
	require.NoError(t, err)
	rel, ok = root.Relative("/x/y")
	assert.True(t, ok)
	assert.Equal(t, "x/y", rel)
}

func TestParentAndBase(t *testing.T) {
	assert.Equal(t, RootPath, Parent("/"))
	assert.Equal(t, RootPath, Parent("/a"))
	assert.Equal(t, RemotePath("/a/b"), Parent("/a/b/c"))
	assert.Equal(t, "c", Base("/a/b/c"))
	assert.Equal(t, "/", Base("/"))
}

func TestJoin(t *testing.T) {
	p, err := Join("/a", "b")
	require.NoError(t, err)
	assert.Equal(t, RemotePath("/a/b"), p)

	p, err = Join("/", "b")
	require.NoError(t, err)
	assert.Equal(t, RemotePath("/b"), p)

	for _, bad := range []string{"", ".", "..", "x/y", "nul\x00"} {
		_, err := Join("/a", bad)
		assert.True(t, IsCode(err, ErrInvalidPath), "name %q", bad)
	}
}

func TestIsAncestor(t *testing.T) {
	assert.True(t, IsAncestor("/", "/a/b"))
	assert.True(t, IsAncestor("/a", "/a"))
	assert.True(t, IsAncestor("/a", "/a/b"))
	assert.False(t, IsAncestor("/a", "/ab"))
	assert.False(t, IsAncestor("/a/b", "/a"))
}
