package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
)

// Capacity reported by Statfs when the remote root has no quota.
const (
	syntheticCapacity = 1 << 50
	syntheticFiles    = 1 << 32
)

// ============================================================================
// Attributes and Listings
// ============================================================================

// Getattr returns the attributes of a path.
//
// Attributes come from the cache when fresh. A path with an open write
// handle reports the size seen through that handle, including bytes not yet
// delivered.
func (b *Bridge) Getattr(ctx context.Context, local string) (attr *Attr, err error) {
	defer b.observe("getattr", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return nil, err
	}

	fa, err := b.stat(ctx, p)
	if err != nil {
		return nil, err
	}
	return b.toAttr(b.withOpenSize(fa)), nil
}

// Readdir lists a directory. The attributes of every child are cached, so
// the getattr calls that usually follow a listing need no round-trip.
func (b *Bridge) Readdir(ctx context.Context, local string) (entries []Dirent, err error) {
	defer b.observe("readdir", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return nil, err
	}

	children, ok := b.cache.LookupListing(p)
	if !ok {
		dir, err := b.stat(ctx, p)
		if err != nil {
			return nil, err
		}
		if !dir.IsDir() {
			return nil, metadata.NewError(metadata.ErrNotDirectory, "readdir", p, "not a directory")
		}

		tok := b.cache.Token()
		children, err = b.transport.ListStatus(ctx, p)
		if err != nil {
			return nil, err
		}
		b.cache.PutListing(p, children, tok)
	}

	entries = make([]Dirent, 0, len(children))
	for _, child := range children {
		entries = append(entries, Dirent{
			Name: child.Name,
			Ino:  inodeNumber(child.Attr),
			Mode: typeBits(child.Attr.Type),
		})
	}
	return entries, nil
}

// Statfs returns usage statistics of the remote root.
//
// WebHDFS reports usage but not capacity: the space and namespace quotas of
// the root are used when set, a large synthetic capacity otherwise.
func (b *Bridge) Statfs(ctx context.Context) (stats *metadata.FilesystemStatistics, err error) {
	defer b.observe("statfs", "")(&err)

	b.statfsMu.Lock()
	if b.statfs != nil && b.statfsTTL > 0 && time.Since(b.statfsAt) < b.statfsTTL {
		cached := *b.statfs
		b.statfsMu.Unlock()
		return &cached, nil
	}
	b.statfsMu.Unlock()

	summary, err := b.transport.GetContentSummary(ctx, b.resolver.Root())
	if err != nil {
		return nil, err
	}

	stats = statistics(summary)

	b.statfsMu.Lock()
	b.statfs = stats
	b.statfsAt = time.Now()
	b.statfsMu.Unlock()

	cached := *stats
	return &cached, nil
}

func statistics(s *webhdfs.ContentSummary) *metadata.FilesystemStatistics {
	used := uint64(max(s.SpaceConsumed, s.Length, 0))
	files := uint64(max(s.DirectoryCount+s.FileCount, 0))

	stats := &metadata.FilesystemStatistics{
		UsedBytes:  used,
		TotalBytes: max(syntheticCapacity, used),
		UsedFiles:  files,
		TotalFiles: max(syntheticFiles, files),
	}
	if s.SpaceQuota > 0 {
		stats.TotalBytes = max(uint64(s.SpaceQuota), used)
	}
	if s.Quota > 0 {
		stats.TotalFiles = max(uint64(s.Quota), files)
	}
	return stats
}

// ============================================================================
// Namespace Mutations
// ============================================================================

// Mkdir creates a directory and returns its attributes. The new attributes
// are cached, so an immediate getattr is served locally.
func (b *Bridge) Mkdir(ctx context.Context, local string, mode uint32) (attr *Attr, err error) {
	defer b.observe("mkdir", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return nil, err
	}

	// MKDIRS succeeds on existing directories; POSIX mkdir does not
	if _, err := b.fetch(ctx, p); err == nil {
		return nil, metadata.NewError(metadata.ErrAlreadyExists, "mkdir", p, "file exists")
	} else if !metadata.IsNotFound(err) {
		return nil, err
	}

	// MKDIRS also creates missing parents
	if err := b.requireDirectory(ctx, "mkdir", metadata.Parent(p)); err != nil {
		return nil, err
	}

	if err := b.transport.Mkdirs(ctx, p, fileModePerm(mode)); err != nil {
		return nil, err
	}
	b.cache.Invalidate(p)

	fa, err := b.fetch(ctx, p)
	if err != nil {
		return nil, err
	}

	logger.Debug("mkdir %s mode=%o", p, mode)
	return b.toAttr(fa), nil
}

// Rmdir removes an empty directory.
func (b *Bridge) Rmdir(ctx context.Context, local string) (err error) {
	defer b.observe("rmdir", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return err
	}
	if p == b.resolver.Root() {
		return metadata.NewError(metadata.ErrInvalidArgument, "rmdir", p, "cannot remove the mount root")
	}

	fa, err := b.fetch(ctx, p)
	if err != nil {
		return err
	}
	if !fa.IsDir() {
		return metadata.NewError(metadata.ErrNotDirectory, "rmdir", p, "not a directory")
	}

	if err := b.transport.Delete(ctx, p, false); err != nil {
		return err
	}

	b.forget(p, true)
	return nil
}

// Unlink removes a path with a non-recursive delete. A non-empty directory
// fails with ErrDirectoryNotEmpty and a missing path with ErrNotFound.
func (b *Bridge) Unlink(ctx context.Context, local string) (err error) {
	defer b.observe("unlink", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return err
	}
	if p == b.resolver.Root() {
		return metadata.NewError(metadata.ErrInvalidArgument, "unlink", p, "cannot remove the mount root")
	}

	err = b.transport.Delete(ctx, p, false)
	if err == nil || metadata.IsNotFound(err) {
		b.forget(p, false)
	}
	return err
}

// Rename moves src to dst with POSIX replace semantics: an existing
// destination file is replaced, an existing empty destination directory is
// replaced by a source directory, and a non-empty one fails with
// ErrDirectoryNotEmpty.
//
// A plain WebHDFS RENAME moves the source inside an existing destination
// directory and refuses to overwrite files, so replacing uses
// renameoptions=OVERWRITE. Against servers without that option the
// destination is deleted first, and the two steps are not atomic.
func (b *Bridge) Rename(ctx context.Context, srcLocal, dstLocal string) (err error) {
	defer b.observe("rename", srcLocal)(&err)

	src, err := b.resolve(srcLocal)
	if err != nil {
		return err
	}
	dst, err := b.resolve(dstLocal)
	if err != nil {
		return err
	}
	root := b.resolver.Root()
	if src == root || dst == root {
		return metadata.NewError(metadata.ErrInvalidArgument, "rename", src, "cannot rename the mount root")
	}

	srcAttr, err := b.fetch(ctx, src)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	if srcAttr.IsDir() && metadata.IsAncestor(src, dst) {
		return metadata.NewError(metadata.ErrInvalidArgument, "rename", src, "cannot move a directory into itself: %s", dst)
	}

	replace := false
	dstAttr, err := b.fetch(ctx, dst)
	switch {
	case err == nil:
		if err := b.replaceable(ctx, srcAttr, dstAttr); err != nil {
			return err
		}
		replace = true
	case !metadata.IsNotFound(err):
		return err
	}

	if err := b.move(ctx, src, dst, replace); err != nil {
		if errors.Is(err, webhdfs.ErrRenameRejected) {
			return b.explainRejectedRename(ctx, src, dst, err)
		}
		return err
	}

	b.forget(src, srcAttr.IsDir())
	b.cache.InvalidateSubtree(dst)
	b.handles.Repath(src, dst)

	logger.Debug("rename %s -> %s (replace=%v)", src, dst, replace)
	return nil
}

// move performs the remote rename of src to dst.
func (b *Bridge) move(ctx context.Context, src, dst metadata.RemotePath, replace bool) error {
	if !replace {
		return b.transport.Rename(ctx, src, dst)
	}

	if !b.noOverwriteRename.Load() {
		err := b.transport.RenameOverwrite(ctx, src, dst)
		if !metadata.IsCode(err, metadata.ErrInvalidArgument) {
			return err
		}
		b.noOverwriteRename.Store(true)
		logger.Info("Server refuses renameoptions=OVERWRITE, replacing with delete and rename: %v", err)
	}

	if err := b.transport.Delete(ctx, dst, false); err != nil {
		return err
	}
	b.cache.InvalidateSubtree(dst)
	return b.transport.Rename(ctx, src, dst)
}

// explainRejectedRename turns a RENAME answered with {"boolean": false}
// into the error POSIX rename would report. The server gives no reason, so
// the source and the destination's parent are checked again.
func (b *Bridge) explainRejectedRename(ctx context.Context, src, dst metadata.RemotePath, rejected error) error {
	if _, err := b.fetch(ctx, src); err != nil {
		return err
	}
	if err := b.requireDirectory(ctx, "rename", metadata.Parent(dst)); err != nil {
		return err
	}
	return rejected
}

// requireDirectory fails with ErrNotFound when dir does not exist and with
// ErrNotDirectory when it is a file.
func (b *Bridge) requireDirectory(ctx context.Context, op string, dir metadata.RemotePath) error {
	fa, err := b.fetch(ctx, dir)
	if err != nil {
		if metadata.IsNotFound(err) {
			return metadata.NewError(metadata.ErrNotFound, op, dir, "no such file or directory")
		}
		return err
	}
	if !fa.IsDir() {
		return metadata.NewError(metadata.ErrNotDirectory, op, dir, "not a directory")
	}
	return nil
}

// replaceable checks that src may replace the existing dst.
func (b *Bridge) replaceable(ctx context.Context, src, dst *metadata.FileAttr) error {
	switch {
	case dst.IsDir() && !src.IsDir():
		return metadata.NewError(metadata.ErrIsDirectory, "rename", dst.Path, "destination is a directory")
	case !dst.IsDir() && src.IsDir():
		return metadata.NewError(metadata.ErrNotDirectory, "rename", dst.Path, "destination is not a directory")
	case dst.IsDir():
		children, err := b.transport.ListStatus(ctx, dst.Path)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return metadata.NewError(metadata.ErrDirectoryNotEmpty, "rename", dst.Path, "directory not empty")
		}
	}
	return nil
}

// ============================================================================
// Attribute Mutations
// ============================================================================

// Chmod changes the permission bits of a path.
func (b *Bridge) Chmod(ctx context.Context, local string, mode uint32) (err error) {
	defer b.observe("chmod", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return err
	}

	if err := b.transport.SetPermission(ctx, p, fileModePerm(mode)); err != nil {
		return err
	}
	b.cache.Invalidate(p)
	return nil
}

// Utimens sets access and modification times. A nil time is left unchanged.
func (b *Bridge) Utimens(ctx context.Context, local string, atime, mtime *time.Time) (err error) {
	defer b.observe("utimens", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return err
	}

	var a, m time.Time
	if atime != nil {
		a = *atime
	}
	if mtime != nil {
		m = *mtime
	}
	if a.IsZero() && m.IsZero() {
		return nil
	}

	if err := b.transport.SetTimes(ctx, p, m, a); err != nil {
		return err
	}
	b.cache.Invalidate(p)
	return nil
}

// Truncate changes the length of a file by path.
//
// Shrinking uses TRUNCATE and truncating to zero recreates the file with
// its permission. Growing a file would leave a hole and fails with
// ErrUnsupportedWritePattern.
func (b *Bridge) Truncate(ctx context.Context, local string, size uint64) (err error) {
	defer b.observe("truncate", local)(&err)

	p, err := b.resolve(local)
	if err != nil {
		return err
	}

	fa, err := b.fetch(ctx, p)
	if err != nil {
		return err
	}
	if fa.IsDir() {
		return metadata.NewError(metadata.ErrIsDirectory, "truncate", p, "is a directory")
	}

	defer b.cache.Invalidate(p)

	switch {
	case size == fa.Size:
		return nil

	case size == 0:
		return b.transport.Create(ctx, p, nil, webhdfs.CreateOptions{Overwrite: true, Permission: fa.Mode})

	case size < fa.Size:
		done, err := b.transport.Truncate(ctx, p, int64(size))
		if err != nil {
			return err
		}
		if !done {
			logger.Debug("truncate %s to %d: block recovery in progress", p, size)
		}
		return nil

	default:
		return metadata.NewError(metadata.ErrUnsupportedWritePattern, "truncate", p,
			"cannot extend %d-byte file to %d bytes", fa.Size, size)
	}
}
