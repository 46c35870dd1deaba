package bridge

import (
	"context"
	"errors"
	"syscall"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"golang.org/x/sys/unix"
)

// ============================================================================
// Error Mapping - Bridge Errors → POSIX errno
// ============================================================================

// ToErrno maps a bridge error to the errno returned to the calling process.
//
// Error Mapping:
//   - NotFound → ENOENT
//   - AlreadyExists → EEXIST
//   - PermissionDenied, AuthFailure → EACCES
//   - DirectoryNotEmpty → ENOTEMPTY
//   - TransientNetworkError, RemoteProtocolError → EIO
//   - UnsupportedWritePattern → ENOTSUP
//   - InvalidPath, InvalidArgument → EINVAL
//   - NotDirectory → ENOTDIR
//   - IsDirectory → EISDIR
//   - ReadOnly → EROFS
//   - BadHandle → EBADF
//   - context cancellation → EINTR
//   - anything else → EIO
//
// A nil error maps to 0.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch metadata.CodeOf(err) {
	case metadata.ErrNotFound:
		return unix.ENOENT
	case metadata.ErrAlreadyExists:
		return unix.EEXIST
	case metadata.ErrPermissionDenied, metadata.ErrAuthFailure:
		return unix.EACCES
	case metadata.ErrDirectoryNotEmpty:
		return unix.ENOTEMPTY
	case metadata.ErrTransientNetwork, metadata.ErrRemoteProtocol:
		return unix.EIO
	case metadata.ErrUnsupportedWritePattern:
		return unix.ENOTSUP
	case metadata.ErrInvalidPath, metadata.ErrInvalidArgument:
		return unix.EINVAL
	case metadata.ErrNotDirectory:
		return unix.ENOTDIR
	case metadata.ErrIsDirectory:
		return unix.EISDIR
	case metadata.ErrReadOnly:
		return unix.EROFS
	case metadata.ErrBadHandle:
		return unix.EBADF
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return unix.EINTR
	}

	logger.Error("Unclassified bridge error mapped to EIO: %v", err)
	return unix.EIO
}

// codeName returns the metric label for err.
func codeName(err error) string {
	if err == nil {
		return ""
	}
	if code := metadata.CodeOf(err); code != 0 {
		return code.String()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Canceled"
	}
	return "Unknown"
}
