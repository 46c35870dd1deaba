package webhdfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/marmos91/webhdfsfs/pkg/metadata"
)

var (
	// ErrOutcomeUnknown is wrapped by errors from APPEND calls whose data
	// transfer lost its connection after the body was sent. The server may or
	// may not have applied the data; callers must check the remote length.
	ErrOutcomeUnknown = errors.New("webhdfs: append outcome unknown")

	// ErrRenameRejected is wrapped when RENAME answers {"boolean": false}.
	// WebHDFS does not say why; callers inspect source and destination.
	ErrRenameRejected = errors.New("webhdfs: rename rejected by server")
)

// exceptionCodes maps RemoteException class names to error codes.
var exceptionCodes = map[string]metadata.ErrorCode{
	"FileNotFoundException":            metadata.ErrNotFound,
	"FileAlreadyExistsException":       metadata.ErrAlreadyExists,
	"AccessControlException":           metadata.ErrPermissionDenied,
	"PathIsNotEmptyDirectoryException": metadata.ErrDirectoryNotEmpty,
	"ParentNotDirectoryException":      metadata.ErrNotDirectory,
	"InvalidPathException":             metadata.ErrInvalidPath,
	"IllegalArgumentException":         metadata.ErrInvalidArgument,
	"HadoopIllegalArgumentException":   metadata.ErrInvalidArgument,
	"UnsupportedOperationException":    metadata.ErrInvalidArgument,
	"SafeModeException":                metadata.ErrReadOnly,
	"StandbyException":                 metadata.ErrTransientNetwork,
	"RetriableException":               metadata.ErrTransientNetwork,
	"RecoveryInProgressException":      metadata.ErrTransientNetwork,
	"AlreadyBeingCreatedException":     metadata.ErrTransientNetwork,
	"SecurityException":                metadata.ErrAuthFailure,
	"AuthenticationException":          metadata.ErrAuthFailure,
}

// mapError converts a non-success HTTP response into an *metadata.FSError.
//
// The RemoteException class name wins over the status code when it is
// known. Otherwise the status decides: 401 and a bare 403 are
// authentication failures, 404 is NotFound, 400 is InvalidArgument and 5xx
// is transient. Anything else, including a 403 carrying an unknown
// RemoteException such as IOException, is a protocol error.
func mapError(op string, p metadata.RemotePath, status int, body []byte) error {
	fsErr := &metadata.FSError{
		Op:   op,
		Path: string(p),
	}

	var payload remoteExceptionResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.RemoteException.Exception != "" {
		fsErr.Exception = payload.RemoteException.Exception
		fsErr.Message = payload.RemoteException.Message
	}

	if code, ok := exceptionCodes[fsErr.Exception]; ok {
		fsErr.Code = code
		return fsErr
	}

	if strings.Contains(fsErr.Message, "is non empty") || strings.Contains(fsErr.Message, "directory is not empty") {
		fsErr.Code = metadata.ErrDirectoryNotEmpty
		return fsErr
	}

	if fsErr.Message == "" {
		fsErr.Message = fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	}

	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden && fsErr.Exception == "":
		fsErr.Code = metadata.ErrAuthFailure
	case status == http.StatusNotFound:
		fsErr.Code = metadata.ErrNotFound
	case status == http.StatusBadRequest:
		fsErr.Code = metadata.ErrInvalidArgument
	case status >= 500:
		fsErr.Code = metadata.ErrTransientNetwork
	default:
		fsErr.Code = metadata.ErrRemoteProtocol
	}
	return fsErr
}

// protocolError reports a malformed or unexpected server response.
func protocolError(op string, p metadata.RemotePath, err error, format string, args ...any) error {
	return &metadata.FSError{
		Code:    metadata.ErrRemoteProtocol,
		Op:      op,
		Path:    string(p),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// networkError reports a request that never produced an HTTP response.
func networkError(op string, p metadata.RemotePath, err error) error {
	return &metadata.FSError{
		Code:    metadata.ErrTransientNetwork,
		Op:      op,
		Path:    string(p),
		Message: "request failed",
		Err:     err,
	}
}

// isRetryable reports whether another attempt may succeed.
func isRetryable(err error) bool {
	if errors.Is(err, ErrOutcomeUnknown) {
		return false
	}
	return metadata.IsCode(err, metadata.ErrTransientNetwork)
}

// retryReason labels a retryable error for metrics.
func retryReason(err error) string {
	var fsErr *metadata.FSError
	if errors.As(err, &fsErr) {
		switch {
		case fsErr.Exception != "":
			return "exception"
		case fsErr.Err != nil:
			return "network"
		}
	}
	return "status"
}
