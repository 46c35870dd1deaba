package metadata

import (
	"os"
	"time"
)

// RemotePath is a normalized absolute path on the remote filesystem.
//
// RemotePaths are always produced by a Resolver: they start with "/", never
// end with "/" (except the root itself) and contain no "." or ".." elements.
type RemotePath string

// String returns the path as a plain string.
func (p RemotePath) String() string {
	return string(p)
}

// FileType distinguishes the kinds of remote entities.
type FileType int

const (
	// FileTypeRegular is a regular file
	FileTypeRegular FileType = iota + 1

	// FileTypeDirectory is a directory
	FileTypeDirectory

	// FileTypeSymlink is a symbolic link (reported by WebHDFS, not created by the bridge)
	FileTypeSymlink
)

// String returns the WebHDFS spelling of the type.
func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "FILE"
	case FileTypeDirectory:
		return "DIRECTORY"
	case FileTypeSymlink:
		return "SYMLINK"
	default:
		return "UNKNOWN"
	}
}

// FileAttr holds the attributes of a remote entity as reported by
// GETFILESTATUS or LISTSTATUS.
//
// This is the value stored by the attribute cache. It is immutable once
// published: holders must Clone before modifying.
type FileAttr struct {
	// Path is the remote path the attributes belong to
	Path RemotePath

	// Type is file, directory or symlink
	Type FileType

	// Size is the file length in bytes (0 for directories)
	Size uint64

	// Mode holds the permission bits (0o777 plus sticky bit)
	Mode os.FileMode

	// Owner and Group are the remote user and group names
	Owner string
	Group string

	// Mtime and Atime are the remote modification and access times
	Mtime time.Time
	Atime time.Time

	// BlockSize is the remote block size (0 for directories)
	BlockSize uint64

	// Replication is the remote replication factor (0 for directories)
	Replication uint32

	// Children is the number of direct children (directories only, may be 0
	// when the server does not report it)
	Children uint32

	// FileID is the remote inode id (0 when the server does not report it)
	FileID uint64
}

// IsDir reports whether the entity is a directory.
func (a *FileAttr) IsDir() bool {
	return a != nil && a.Type == FileTypeDirectory
}

// Clone returns a copy of the attributes.
func (a *FileAttr) Clone() *FileAttr {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// DirEntry is one child returned by a directory listing.
type DirEntry struct {
	// Name is the child name (no slashes)
	Name string

	// Attr holds the child attributes reported alongside the listing
	Attr *FileAttr
}

// FilesystemStatistics contains usage statistics for statfs.
//
// Derived from GETCONTENTSUMMARY on the remote root. WebHDFS does not report
// the filesystem capacity to ordinary users, so quota values are used when
// set and a large synthetic capacity otherwise.
type FilesystemStatistics struct {
	// TotalBytes is the capacity in bytes (space quota or synthetic)
	TotalBytes uint64

	// UsedBytes is the consumed space in bytes (content length)
	UsedBytes uint64

	// TotalFiles is the namespace quota or a synthetic value
	TotalFiles uint64

	// UsedFiles is the number of files and directories under the root
	UsedFiles uint64
}
