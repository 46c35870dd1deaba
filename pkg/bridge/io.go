package bridge

import (
	"context"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/handle"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
	"golang.org/x/sys/unix"
)

// ============================================================================
// Open and Create
// ============================================================================

// Open opens an existing file.
//
// The handle mode follows the flags:
//   - read-only access opens a read handle bounded by the current size
//   - O_TRUNC empties the remote file now and opens a write handle
//   - writing to an empty file opens a write handle
//   - writing to a non-empty file opens an append handle; writes must then
//     start at the current end of file
func (b *Bridge) Open(ctx context.Context, local string, flags int) (id handle.ID, err error) {
	defer b.observe("open", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return 0, err
	}

	// Opens always see the current remote size
	fa, err := b.fetch(ctx, p)
	if err != nil {
		return 0, err
	}
	if fa.IsDir() {
		return 0, metadata.NewError(metadata.ErrIsDirectory, "open", p, "is a directory")
	}

	acc := flags & unix.O_ACCMODE
	if acc != unix.O_WRONLY && acc != unix.O_RDWR {
		return b.handles.Open(p, handle.ModeRead, handle.OpenOptions{Size: int64(fa.Size)})
	}

	perm := fa.Mode
	switch {
	case flags&unix.O_TRUNC != 0:
		if fa.Size > 0 {
			if err := b.transport.Create(ctx, p, nil, webhdfs.CreateOptions{Overwrite: true, Permission: perm}); err != nil {
				return 0, err
			}
			b.cache.Invalidate(p)
		}
		return b.handles.Open(p, handle.ModeWrite, handle.OpenOptions{Empty: true, Permission: perm})

	case fa.Size == 0:
		return b.handles.Open(p, handle.ModeWrite, handle.OpenOptions{Empty: true, Permission: perm})

	default:
		return b.handles.Open(p, handle.ModeAppend, handle.OpenOptions{Size: int64(fa.Size), Permission: perm})
	}
}

// Create creates a file and opens a write handle on it.
//
// The empty file is created on the server immediately so it is visible to
// other clients; without O_EXCL an existing file is replaced.
func (b *Bridge) Create(ctx context.Context, local string, flags int, mode uint32) (id handle.ID, attr *Attr, err error) {
	defer b.observe("create", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return 0, nil, err
	}
	if p == b.resolver.Root() {
		return 0, nil, metadata.NewError(metadata.ErrIsDirectory, "create", p, "is a directory")
	}

	perm := fileModePerm(mode)
	opts := webhdfs.CreateOptions{
		Overwrite:  flags&unix.O_EXCL == 0,
		Permission: perm,
	}
	if err := b.transport.Create(ctx, p, nil, opts); err != nil {
		return 0, nil, err
	}
	b.cache.Invalidate(p)

	fa, err := b.fetch(ctx, p)
	if err != nil {
		return 0, nil, err
	}

	id, err = b.handles.Open(p, handle.ModeWrite, handle.OpenOptions{Empty: true, Permission: perm})
	if err != nil {
		return 0, nil, err
	}

	logger.Debug("create %s mode=%o handle=%d", p, mode, id)
	return id, b.toAttr(fa), nil
}

// ============================================================================
// Data
// ============================================================================

// Read returns up to length bytes at offset. Write handles serve bytes not
// yet delivered from their local buffer.
func (b *Bridge) Read(ctx context.Context, id handle.ID, offset, length int64) (data []byte, err error) {
	defer b.observe("read", "")(&err)

	data, err = b.handles.Read(ctx, id, offset, length)
	if err != nil {
		return nil, err
	}
	b.metrics.RecordBytesTransferred("read", int64(len(data)))
	return data, nil
}

// Write buffers data at offset.
//
// WebHDFS can only append, so a write must start inside or at the end of the
// part of the file not yet delivered to the server. Writes that would modify
// delivered bytes or leave a hole fail with ErrUnsupportedWritePattern
// (ENOTSUP), leaving the handle unchanged.
func (b *Bridge) Write(ctx context.Context, id handle.ID, offset int64, data []byte) (n int, err error) {
	defer b.observe("write", "")(&err)

	n, err = b.handles.Write(ctx, id, offset, data)
	if err != nil {
		return 0, err
	}
	b.metrics.RecordBytesTransferred("write", int64(n))
	return n, nil
}

// TruncateHandle changes the size of a file through an open write handle
// (ftruncate).
func (b *Bridge) TruncateHandle(ctx context.Context, id handle.ID, size uint64) (err error) {
	defer b.observe("ftruncate", "")(&err)

	info, err := b.handles.Info(id)
	if err != nil {
		return err
	}
	if info.Mode == handle.ModeRead {
		return metadata.NewError(metadata.ErrBadHandle, "ftruncate", info.Path, "handle not open for writing")
	}

	if err := b.handles.Truncate(id, int64(size)); err != nil {
		return err
	}
	b.cache.Invalidate(info.Path)
	return nil
}

// ============================================================================
// Flush and Release
// ============================================================================

// Flush delivers buffered writes of a handle. The cached attributes of the
// file are dropped before returning, so a following getattr sees the new
// size.
func (b *Bridge) Flush(ctx context.Context, id handle.ID) (err error) {
	defer b.observe("flush", "")(&err)

	info, err := b.handles.Info(id)
	if err != nil {
		return err
	}
	err = b.handles.Flush(ctx, id)
	b.invalidateAfterWrite(info)
	return err
}

// Release closes a handle, delivering buffered writes. A delivery failure is
// returned as a write error; the buffer is journaled when a journal is
// configured.
func (b *Bridge) Release(ctx context.Context, id handle.ID) (err error) {
	defer b.observe("release", "")(&err)

	info, err := b.handles.Info(id)
	if err != nil {
		return err
	}
	err = b.handles.Release(ctx, id)
	b.invalidateAfterWrite(info)
	return err
}

func (b *Bridge) invalidateAfterWrite(info handle.Info) {
	if info.Mode == handle.ModeRead {
		return
	}
	// The handle may have been renamed while flushing; use its current path
	if current, err := b.handles.Info(info.ID); err == nil {
		info.Path = current.Path
	}
	b.cache.Invalidate(info.Path)
}
