package webhdfs

import (
	"os"
	"strconv"
	"time"

	"github.com/marmos91/webhdfsfs/pkg/metadata"
)

// FileStatus is the JSON representation of a WebHDFS FileStatus object.
type FileStatus struct {
	AccessTime       int64  `json:"accessTime"`
	BlockSize        int64  `json:"blockSize"`
	ChildrenNum      int32  `json:"childrenNum"`
	FileID           int64  `json:"fileId"`
	Group            string `json:"group"`
	Length           int64  `json:"length"`
	ModificationTime int64  `json:"modificationTime"`
	Owner            string `json:"owner"`
	PathSuffix       string `json:"pathSuffix"`
	Permission       string `json:"permission"`
	Replication      int32  `json:"replication"`
	Type             string `json:"type"`
}

// ToAttr converts the wire status into domain attributes for path p.
//
// Permission is an octal string ("755", "1777"); an unparsable value is a
// protocol error. Times are milliseconds since the epoch.
func (s *FileStatus) ToAttr(p metadata.RemotePath) (*metadata.FileAttr, error) {
	var mode uint64
	if s.Permission != "" {
		var err error
		mode, err = strconv.ParseUint(s.Permission, 8, 32)
		if err != nil {
			return nil, &metadata.FSError{
				Code:    metadata.ErrRemoteProtocol,
				Path:    string(p),
				Message: "invalid permission " + strconv.Quote(s.Permission),
				Err:     err,
			}
		}
	}

	attr := &metadata.FileAttr{
		Path:  p,
		Mode:  permToFileMode(uint32(mode)),
		Owner: s.Owner,
		Group: s.Group,
		Mtime: fromMillis(s.ModificationTime),
		Atime: fromMillis(s.AccessTime),
	}
	if s.FileID > 0 {
		attr.FileID = uint64(s.FileID)
	}
	if s.ChildrenNum > 0 {
		attr.Children = uint32(s.ChildrenNum)
	}

	switch s.Type {
	case "DIRECTORY":
		attr.Type = metadata.FileTypeDirectory
	case "SYMLINK":
		attr.Type = metadata.FileTypeSymlink
	case "FILE", "":
		attr.Type = metadata.FileTypeRegular
		if s.Length > 0 {
			attr.Size = uint64(s.Length)
		}
		if s.BlockSize > 0 {
			attr.BlockSize = uint64(s.BlockSize)
		}
		if s.Replication > 0 {
			attr.Replication = uint32(s.Replication)
		}
	default:
		return nil, &metadata.FSError{
			Code:    metadata.ErrRemoteProtocol,
			Path:    string(p),
			Message: "unknown file type " + strconv.Quote(s.Type),
		}
	}

	return attr, nil
}

// ContentSummary is the JSON representation of a WebHDFS ContentSummary.
//
// Quota and SpaceQuota are -1 when unset.
type ContentSummary struct {
	DirectoryCount int64 `json:"directoryCount"`
	FileCount      int64 `json:"fileCount"`
	Length         int64 `json:"length"`
	Quota          int64 `json:"quota"`
	SpaceConsumed  int64 `json:"spaceConsumed"`
	SpaceQuota     int64 `json:"spaceQuota"`
}

// RemoteException is the error payload returned by WebHDFS.
type RemoteException struct {
	Exception     string `json:"exception"`
	JavaClassName string `json:"javaClassName"`
	Message       string `json:"message"`
}

// CreateOptions controls CREATE.
type CreateOptions struct {
	// Overwrite replaces an existing file instead of failing with AlreadyExists
	Overwrite bool

	// Permission is applied to the new file; zero keeps the server default
	Permission os.FileMode
}

type fileStatusResponse struct {
	FileStatus FileStatus `json:"FileStatus"`
}

type listStatusResponse struct {
	FileStatuses struct {
		FileStatus []FileStatus `json:"FileStatus"`
	} `json:"FileStatuses"`
}

type booleanResponse struct {
	Boolean bool `json:"boolean"`
}

type contentSummaryResponse struct {
	ContentSummary ContentSummary `json:"ContentSummary"`
}

type remoteExceptionResponse struct {
	RemoteException RemoteException `json:"RemoteException"`
}

func permToFileMode(perm uint32) os.FileMode {
	mode := os.FileMode(perm & 0o777)
	if perm&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// FormatPermission renders a mode the way WebHDFS expects it (octal).
func FormatPermission(mode os.FileMode) string {
	perm := uint32(mode.Perm())
	if mode&os.ModeSticky != 0 {
		perm |= 0o1000
	}
	return strconv.FormatUint(uint64(perm), 8)
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return -1
	}
	return t.UnixMilli()
}
