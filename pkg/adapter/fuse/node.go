package fuse

import (
	"context"
	"path"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/webhdfsfs/pkg/bridge"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"golang.org/x/sys/unix"
)

const (
	// statfsBlockSize is the unit of the block counts reported by statfs
	statfsBlockSize = 4096

	maxNameLen = 255
)

// node is a file or directory of the mount. It carries no state of its own:
// every request resolves the node's mount-relative path through the bridge.
type node struct {
	gofuse.Inode
	bridge *bridge.Bridge
}

var (
	_ gofuse.InodeEmbedder = (*node)(nil)
	_ gofuse.NodeGetattrer = (*node)(nil)
	_ gofuse.NodeSetattrer = (*node)(nil)
	_ gofuse.NodeLookuper  = (*node)(nil)
	_ gofuse.NodeReaddirer = (*node)(nil)
	_ gofuse.NodeMkdirer   = (*node)(nil)
	_ gofuse.NodeRmdirer   = (*node)(nil)
	_ gofuse.NodeUnlinker  = (*node)(nil)
	_ gofuse.NodeRenamer   = (*node)(nil)
	_ gofuse.NodeCreater   = (*node)(nil)
	_ gofuse.NodeOpener    = (*node)(nil)
	_ gofuse.NodeStatfser  = (*node)(nil)
)

// path returns the mount-relative path of the node ("" for the root).
func (n *node) path() string {
	return n.Path(nil)
}

func (n *node) child(name string) string {
	return path.Join(n.path(), name)
}

func (n *node) newChild(ctx context.Context, attr *bridge.Attr) *gofuse.Inode {
	return n.NewInode(ctx, &node{bridge: n.bridge}, gofuse.StableAttr{
		Mode: attr.Mode & syscall.S_IFMT,
		Ino:  attr.Ino,
	})
}

func (n *node) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.bridge.Getattr(ctx, n.path())
	if err != nil {
		return bridge.ToErrno(err)
	}
	fillAttr(&out.Attr, attr)
	return 0
}

// Setattr applies chmod, truncate and utimens. Ownership cannot be changed.
func (n *node) Setattr(ctx context.Context, fh gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p := n.path()

	if _, ok := in.GetUID(); ok {
		return syscall.ENOTSUP
	}
	if _, ok := in.GetGID(); ok {
		return syscall.ENOTSUP
	}

	if mode, ok := in.GetMode(); ok {
		if err := n.bridge.Chmod(ctx, p, mode); err != nil {
			return bridge.ToErrno(err)
		}
	}

	if size, ok := in.GetSize(); ok {
		var err error
		if f, isHandle := fh.(*fileHandle); isHandle {
			err = n.bridge.TruncateHandle(ctx, f.id, size)
		} else {
			err = n.bridge.Truncate(ctx, p, size)
		}
		if err != nil {
			return bridge.ToErrno(err)
		}
	}

	var atime, mtime *time.Time
	if t, ok := in.GetATime(); ok {
		atime = &t
	}
	if t, ok := in.GetMTime(); ok {
		mtime = &t
	}
	if atime != nil || mtime != nil {
		if err := n.bridge.Utimens(ctx, p, atime, mtime); err != nil {
			return bridge.ToErrno(err)
		}
	}

	return n.Getattr(ctx, fh, out)
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	attr, err := n.bridge.Getattr(ctx, n.child(name))
	if err != nil {
		return nil, bridge.ToErrno(err)
	}
	fillAttr(&out.Attr, attr)
	return n.newChild(ctx, attr), 0
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := n.bridge.Readdir(ctx, n.path())
	if err != nil {
		return nil, bridge.ToErrno(err)
	}

	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, fuse.DirEntry{Name: e.Name, Ino: e.Ino, Mode: e.Mode})
	}
	return gofuse.NewListDirStream(list), 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	attr, err := n.bridge.Mkdir(ctx, n.child(name), mode)
	if err != nil {
		return nil, bridge.ToErrno(err)
	}
	fillAttr(&out.Attr, attr)
	return n.newChild(ctx, attr), 0
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return bridge.ToErrno(n.bridge.Rmdir(ctx, n.child(name)))
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return bridge.ToErrno(n.bridge.Unlink(ctx, n.child(name)))
}

// Rename supports RENAME_NOREPLACE. RENAME_EXCHANGE has no remote
// equivalent.
func (n *node) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	src := n.child(name)
	dst := path.Join(newParent.EmbeddedInode().Path(nil), newName)

	if flags&unix.RENAME_EXCHANGE != 0 {
		return syscall.ENOTSUP
	}
	if flags&unix.RENAME_NOREPLACE != 0 {
		_, err := n.bridge.Getattr(ctx, dst)
		if err == nil {
			return syscall.EEXIST
		}
		if !metadata.IsNotFound(err) {
			return bridge.ToErrno(err)
		}
	}

	return bridge.ToErrno(n.bridge.Rename(ctx, src, dst))
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	id, attr, err := n.bridge.Create(ctx, n.child(name), int(flags), mode)
	if err != nil {
		return nil, nil, 0, bridge.ToErrno(err)
	}
	fillAttr(&out.Attr, attr)
	return n.newChild(ctx, attr), &fileHandle{bridge: n.bridge, id: id}, 0, 0
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	id, err := n.bridge.Open(ctx, n.path(), int(flags))
	if err != nil {
		return nil, 0, bridge.ToErrno(err)
	}
	return &fileHandle{bridge: n.bridge, id: id}, 0, 0
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	stats, err := n.bridge.Statfs(ctx)
	if err != nil {
		return bridge.ToErrno(err)
	}
	fillStatfs(out, stats)
	return 0
}

// fillAttr copies bridge attributes into a kernel reply.
func fillAttr(out *fuse.Attr, a *bridge.Attr) {
	out.Ino = a.Ino
	out.Mode = a.Mode
	out.Size = a.Size
	out.Blocks = a.Blocks
	out.Blksize = a.Blksize
	out.Nlink = a.Nlink
	out.Uid = a.Uid
	out.Gid = a.Gid
	out.SetTimes(&a.Atime, &a.Mtime, &a.Ctime)
}

// fillStatfs converts byte and file counts into statfs blocks.
func fillStatfs(out *fuse.StatfsOut, s *metadata.FilesystemStatistics) {
	out.Bsize = statfsBlockSize
	out.Frsize = statfsBlockSize
	out.NameLen = maxNameLen

	out.Blocks = s.TotalBytes / statfsBlockSize
	if s.TotalBytes > s.UsedBytes {
		out.Bfree = (s.TotalBytes - s.UsedBytes) / statfsBlockSize
	}
	out.Bavail = out.Bfree

	out.Files = s.TotalFiles
	if s.TotalFiles > s.UsedFiles {
		out.Ffree = s.TotalFiles - s.UsedFiles
	}
}
