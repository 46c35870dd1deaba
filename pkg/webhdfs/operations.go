package webhdfs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/marmos91/webhdfsfs/pkg/metadata"
)

// WebHDFS operation names.
const (
	opGetFileStatus     = "GETFILESTATUS"
	opListStatus        = "LISTSTATUS"
	opGetContentSummary = "GETCONTENTSUMMARY"
	opOpen              = "OPEN"
	opCreate            = "CREATE"
	opAppend            = "APPEND"
	opMkdirs            = "MKDIRS"
	opDelete            = "DELETE"
	opRename            = "RENAME"
	opSetPermission     = "SETPERMISSION"
	opSetTimes          = "SETTIMES"
	opTruncate          = "TRUNCATE"
)

// GetFileStatus returns the attributes of p.
func (c *Client) GetFileStatus(ctx context.Context, p metadata.RemotePath) (*metadata.FileAttr, error) {
	data, err := c.do(ctx, &call{op: opGetFileStatus, method: http.MethodGet, path: p})
	if err != nil {
		return nil, err
	}

	var resp fileStatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, protocolError(opGetFileStatus, p, err, "decode FileStatus")
	}
	return resp.FileStatus.ToAttr(p)
}

// ListStatus returns the children of directory p with their attributes.
//
// Listing a file returns a single entry describing the file itself, as
// WebHDFS does.
func (c *Client) ListStatus(ctx context.Context, p metadata.RemotePath) ([]metadata.DirEntry, error) {
	data, err := c.do(ctx, &call{op: opListStatus, method: http.MethodGet, path: p})
	if err != nil {
		return nil, err
	}

	var resp listStatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, protocolError(opListStatus, p, err, "decode FileStatuses")
	}

	entries := make([]metadata.DirEntry, 0, len(resp.FileStatuses.FileStatus))
	for i := range resp.FileStatuses.FileStatus {
		st := &resp.FileStatuses.FileStatus[i]

		childPath := p
		name := st.PathSuffix
		if name != "" {
			childPath, err = metadata.Join(p, name)
			if err != nil {
				return nil, protocolError(opListStatus, p, err, "invalid entry name %q", name)
			}
		} else {
			name = metadata.Base(p)
		}

		attr, err := st.ToAttr(childPath)
		if err != nil {
			return nil, err
		}
		entries = append(entries, metadata.DirEntry{Name: name, Attr: attr})
	}
	return entries, nil
}

// GetContentSummary returns usage totals for the subtree rooted at p.
func (c *Client) GetContentSummary(ctx context.Context, p metadata.RemotePath) (*ContentSummary, error) {
	data, err := c.do(ctx, &call{op: opGetContentSummary, method: http.MethodGet, path: p})
	if err != nil {
		return nil, err
	}

	var resp contentSummaryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, protocolError(opGetContentSummary, p, err, "decode ContentSummary")
	}
	return &resp.ContentSummary, nil
}

// Read returns up to length bytes of p starting at offset. A read at or past
// the end of the file returns an empty slice.
func (c *Client) Read(ctx context.Context, p metadata.RemotePath, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return []byte{}, nil
	}

	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("length", strconv.FormatInt(length, 10))

	data, err := c.do(ctx, &call{
		op:       opOpen,
		method:   http.MethodGet,
		path:     p,
		params:   params,
		redirect: true,
		expect:   http.StatusOK,
		limit:    length,
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Create writes data as the whole content of p.
func (c *Client) Create(ctx context.Context, p metadata.RemotePath, data []byte, opts CreateOptions) error {
	params := url.Values{}
	params.Set("overwrite", strconv.FormatBool(opts.Overwrite))
	if opts.Permission != 0 {
		params.Set("permission", FormatPermission(opts.Permission))
	}
	if data == nil {
		data = []byte{}
	}

	_, err := c.do(ctx, &call{
		op:       opCreate,
		method:   http.MethodPut,
		path:     p,
		params:   params,
		redirect: true,
		body:     data,
		expect:   http.StatusCreated,
	})
	return err
}

// Append appends data to the existing file p.
//
// An error wrapping ErrOutcomeUnknown means the data may or may not have
// been applied.
func (c *Client) Append(ctx context.Context, p metadata.RemotePath, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	_, err := c.do(ctx, &call{
		op:       opAppend,
		method:   http.MethodPost,
		path:     p,
		redirect: true,
		body:     data,
		expect:   http.StatusOK,
	})
	return err
}

// Mkdirs creates p and any missing parents.
func (c *Client) Mkdirs(ctx context.Context, p metadata.RemotePath, perm os.FileMode) error {
	params := url.Values{}
	if perm != 0 {
		params.Set("permission", FormatPermission(perm))
	}

	ok, err := c.doBoolean(ctx, &call{op: opMkdirs, method: http.MethodPut, path: p, params: params})
	if err != nil {
		return err
	}
	if !ok {
		return protocolError(opMkdirs, p, nil, "server returned false")
	}
	return nil
}

// Delete removes p. A non-recursive delete of a non-empty directory fails
// with DirectoryNotEmpty; deleting a missing path fails with NotFound.
func (c *Client) Delete(ctx context.Context, p metadata.RemotePath, recursive bool) error {
	params := url.Values{}
	params.Set("recursive", strconv.FormatBool(recursive))

	ok, err := c.doBoolean(ctx, &call{op: opDelete, method: http.MethodDelete, path: p, params: params})
	if err != nil {
		return err
	}
	if !ok {
		return metadata.NewError(metadata.ErrNotFound, opDelete, p, "no such file or directory")
	}
	return nil
}

// Rename moves src to dst. A {"boolean": false} answer yields an error
// wrapping ErrRenameRejected.
func (c *Client) Rename(ctx context.Context, src, dst metadata.RemotePath) error {
	params := url.Values{}
	params.Set("destination", string(dst))

	ok, err := c.doBoolean(ctx, &call{op: opRename, method: http.MethodPut, path: src, params: params})
	if err != nil {
		return err
	}
	if !ok {
		return &metadata.FSError{
			Code:    metadata.ErrRemoteProtocol,
			Op:      opRename,
			Path:    string(src),
			Message: "rename to " + string(dst) + " rejected",
			Err:     ErrRenameRejected,
		}
	}
	return nil
}

// RenameOverwrite moves src to exactly dst, replacing an existing file or
// empty directory at dst in one step (renameoptions=OVERWRITE). Unlike
// Rename, failures come back as RemoteExceptions. Servers that predate the
// option answer with an InvalidArgument error.
func (c *Client) RenameOverwrite(ctx context.Context, src, dst metadata.RemotePath) error {
	params := url.Values{}
	params.Set("destination", string(dst))
	params.Set("renameoptions", "OVERWRITE")

	_, err := c.do(ctx, &call{op: opRename, method: http.MethodPut, path: src, params: params})
	return err
}

// SetPermission changes the permission bits of p.
func (c *Client) SetPermission(ctx context.Context, p metadata.RemotePath, perm os.FileMode) error {
	params := url.Values{}
	params.Set("permission", FormatPermission(perm))

	_, err := c.do(ctx, &call{op: opSetPermission, method: http.MethodPut, path: p, params: params})
	return err
}

// SetTimes changes the modification and access times of p. A zero time
// leaves the corresponding value unchanged.
func (c *Client) SetTimes(ctx context.Context, p metadata.RemotePath, mtime, atime time.Time) error {
	params := url.Values{}
	params.Set("modificationtime", strconv.FormatInt(toMillis(mtime), 10))
	params.Set("accesstime", strconv.FormatInt(toMillis(atime), 10))

	_, err := c.do(ctx, &call{op: opSetTimes, method: http.MethodPut, path: p, params: params})
	return err
}

// Truncate shrinks p to newLength. It returns false when the server has to
// run block recovery first; the new length becomes visible once recovery
// completes.
func (c *Client) Truncate(ctx context.Context, p metadata.RemotePath, newLength int64) (bool, error) {
	params := url.Values{}
	params.Set("newlength", strconv.FormatInt(newLength, 10))

	return c.doBoolean(ctx, &call{op: opTruncate, method: http.MethodPost, path: p, params: params})
}

// Ping checks that the endpoint answers and accepts the credentials.
func (c *Client) Ping(ctx context.Context, root metadata.RemotePath) error {
	_, err := c.GetFileStatus(ctx, root)
	return err
}

func (c *Client) doBoolean(ctx context.Context, cl *call) (bool, error) {
	data, err := c.do(ctx, cl)
	if err != nil {
		return false, err
	}

	var resp booleanResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, protocolError(cl.op, cl.path, err, "decode boolean")
	}
	return resp.Boolean, nil
}
