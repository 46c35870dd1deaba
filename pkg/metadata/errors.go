package metadata

import (
	"errors"
	"fmt"
)

// FSError represents a domain error produced anywhere between the transport
// and the operation bridge.
//
// The transport client creates FSErrors from HTTP statuses and WebHDFS
// RemoteException payloads; the handle manager and the bridge create them for
// local rule violations (bad handle, unsupported write pattern, invalid path).
// The bridge translates Code to a POSIX errno at the boundary.
type FSError struct {
	// Code is the error category
	Code ErrorCode

	// Op is the operation that failed (e.g. "GETFILESTATUS", "write")
	Op string

	// Path is the remote path related to the error (if applicable)
	Path string

	// Exception is the remote Java exception class name, when the server
	// returned a RemoteException payload
	Exception string

	// Message is a human-readable error description
	Message string

	// Err is the underlying cause, if any
	Err error
}

// Error implements the error interface.
func (e *FSError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Exception != "" {
		msg = e.Exception + ": " + msg
	}
	if e.Path != "" {
		msg = msg + ": " + e.Path
	}
	if e.Op != "" {
		msg = e.Op + " " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *FSError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &FSError{Code: X}) match on the code alone.
func (e *FSError) Is(target error) bool {
	t, ok := target.(*FSError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Path == "" && t.Message == ""
}

// ErrorCode represents the category of a bridge error.
//
// These are generic categories mapped to POSIX errno values by the bridge.
type ErrorCode int

const (
	// ErrNotFound indicates the remote entity does not exist
	ErrNotFound ErrorCode = iota + 1

	// ErrAlreadyExists indicates a file/directory already exists at the path
	ErrAlreadyExists

	// ErrPermissionDenied indicates the server refused access to the path
	ErrPermissionDenied

	// ErrDirectoryNotEmpty indicates a non-recursive delete of a non-empty directory
	ErrDirectoryNotEmpty

	// ErrAuthFailure indicates the credential was rejected (HTTP 401/403)
	// Triggers one credential re-resolution before surfacing
	ErrAuthFailure

	// ErrTransientNetwork indicates a network fault that survived all retries
	ErrTransientNetwork

	// ErrUnsupportedWritePattern indicates a random-access or sparse write
	// that the append-only remote model cannot represent
	ErrUnsupportedWritePattern

	// ErrInvalidPath indicates a path escaping the mount root or otherwise malformed
	ErrInvalidPath

	// ErrRemoteProtocol indicates a malformed or unexpected server response
	ErrRemoteProtocol

	// ErrNotDirectory indicates a path component that should be a directory is not
	ErrNotDirectory

	// ErrIsDirectory indicates a file operation on a directory
	ErrIsDirectory

	// ErrInvalidArgument indicates the server rejected a parameter
	ErrInvalidArgument

	// ErrReadOnly indicates the remote namespace is read-only (safe mode)
	ErrReadOnly

	// ErrBadHandle indicates an unknown or already released handle
	ErrBadHandle
)

// String returns the taxonomy name of the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrPermissionDenied:
		return "PermissionDenied"
	case ErrDirectoryNotEmpty:
		return "DirectoryNotEmpty"
	case ErrAuthFailure:
		return "AuthFailure"
	case ErrTransientNetwork:
		return "TransientNetworkError"
	case ErrUnsupportedWritePattern:
		return "UnsupportedWritePattern"
	case ErrInvalidPath:
		return "InvalidPath"
	case ErrRemoteProtocol:
		return "RemoteProtocolError"
	case ErrNotDirectory:
		return "NotDirectory"
	case ErrIsDirectory:
		return "IsDirectory"
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrReadOnly:
		return "ReadOnly"
	case ErrBadHandle:
		return "BadHandle"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// NewError creates an FSError for a path.
func NewError(code ErrorCode, op string, path RemotePath, format string, args ...any) *FSError {
	return &FSError{
		Code:    code,
		Op:      op,
		Path:    string(path),
		Message: fmt.Sprintf(format, args...),
	}
}

// CodeOf extracts the ErrorCode of err. It returns 0 for nil errors and for
// errors that are not (or do not wrap) an *FSError.
func CodeOf(err error) ErrorCode {
	var fsErr *FSError
	if errors.As(err, &fsErr) {
		return fsErr.Code
	}
	return 0
}

// IsCode reports whether err is (or wraps) an *FSError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound is a shorthand for IsCode(err, ErrNotFound).
func IsNotFound(err error) bool {
	return IsCode(err, ErrNotFound)
}
