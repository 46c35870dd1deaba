package fuse

import (
	"context"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/webhdfsfs/pkg/bridge"
	"github.com/marmos91/webhdfsfs/pkg/handle"
)

// fileHandle is an open file. It wraps a handle of the bridge's handle
// manager; buffering and delivery happen there.
type fileHandle struct {
	bridge *bridge.Bridge
	id     handle.ID
}

var (
	_ gofuse.FileReader   = (*fileHandle)(nil)
	_ gofuse.FileWriter   = (*fileHandle)(nil)
	_ gofuse.FileFlusher  = (*fileHandle)(nil)
	_ gofuse.FileFsyncer  = (*fileHandle)(nil)
	_ gofuse.FileReleaser = (*fileHandle)(nil)
)

func (f *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.bridge.Read(ctx, f.id, off, int64(len(dest)))
	if err != nil {
		return nil, bridge.ToErrno(err)
	}
	return fuse.ReadResultData(data), 0
}

func (f *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := f.bridge.Write(ctx, f.id, off, data)
	if err != nil {
		return 0, bridge.ToErrno(err)
	}
	return uint32(n), 0
}

// Flush runs on every close(2) of a descriptor; its error is what close
// returns.
func (f *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return bridge.ToErrno(f.bridge.Flush(ctx, f.id))
}

func (f *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return bridge.ToErrno(f.bridge.Flush(ctx, f.id))
}

func (f *fileHandle) Release(ctx context.Context) syscall.Errno {
	return bridge.ToErrno(f.bridge.Release(ctx, f.id))
}
