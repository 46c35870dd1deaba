// Package bridge implements POSIX filesystem operations on top of WebHDFS.
//
// A Bridge receives calls from the kernel dispatcher (see pkg/adapter/fuse),
// resolves local paths to remote paths, consults the attribute cache,
// performs the REST round-trips through the transport and translates results
// back to POSIX attributes and errno values.
//
// Every operation takes mount-relative local paths ("a/b" or "/a/b") and
// returns errors carrying a metadata.ErrorCode; ToErrno converts them at the
// dispatcher boundary.
package bridge

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/handle"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/metadata/cache"
	"github.com/marmos91/webhdfsfs/pkg/metrics"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
)

// Transport is the set of WebHDFS calls used by the bridge.
type Transport interface {
	handle.Transport

	ListStatus(ctx context.Context, p metadata.RemotePath) ([]metadata.DirEntry, error)
	GetContentSummary(ctx context.Context, p metadata.RemotePath) (*webhdfs.ContentSummary, error)
	Mkdirs(ctx context.Context, p metadata.RemotePath, perm os.FileMode) error
	Delete(ctx context.Context, p metadata.RemotePath, recursive bool) error
	Rename(ctx context.Context, src, dst metadata.RemotePath) error
	RenameOverwrite(ctx context.Context, src, dst metadata.RemotePath) error
	SetPermission(ctx context.Context, p metadata.RemotePath, perm os.FileMode) error
	SetTimes(ctx context.Context, p metadata.RemotePath, mtime, atime time.Time) error
	Truncate(ctx context.Context, p metadata.RemotePath, newLength int64) (bool, error)
}

var _ Transport = (*webhdfs.Client)(nil)

// Options configures a Bridge. Resolver and Transport are required; the other
// components get defaults when nil.
type Options struct {
	Resolver  *metadata.Resolver
	Transport Transport

	// Cache holds attributes and listings; nil disables caching
	Cache *cache.AttrCache

	// Handles owns open files; nil creates a manager without journal
	Handles *handle.Manager

	// Identities maps owner/group names to uid/gid
	Identities *IdentityMapper

	Metrics metrics.BridgeMetrics

	// StatfsTTL is how long filesystem statistics are reused
	StatfsTTL time.Duration
}

// Bridge dispatches POSIX operations. It is safe for concurrent use; each
// call runs on the caller's goroutine.
type Bridge struct {
	resolver  *metadata.Resolver
	transport Transport
	cache     *cache.AttrCache
	handles   *handle.Manager
	ids       *IdentityMapper
	metrics   metrics.BridgeMetrics

	statfsTTL time.Duration
	statfsMu  sync.Mutex
	statfs    *metadata.FilesystemStatistics
	statfsAt  time.Time

	// set once the server refused renameoptions=OVERWRITE
	noOverwriteRename atomic.Bool
}

// New creates a Bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Resolver == nil {
		return nil, errors.New("bridge: resolver is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("bridge: transport is required")
	}

	b := &Bridge{
		resolver:  opts.Resolver,
		transport: opts.Transport,
		cache:     opts.Cache,
		handles:   opts.Handles,
		ids:       opts.Identities,
		metrics:   opts.Metrics,
		statfsTTL: opts.StatfsTTL,
	}
	if b.cache == nil {
		b.cache = cache.New(cache.Config{}, nil)
	}
	if b.handles == nil {
		b.handles = handle.NewManager(opts.Transport, nil, handle.DefaultConfig(), nil)
	}
	if b.ids == nil {
		b.ids = NewIdentityMapper()
	}
	if b.metrics == nil {
		b.metrics = metrics.NewNoopBridgeMetrics()
	}

	logger.Debug("Bridge ready: remote root %s", b.resolver.Root())
	return b, nil
}

// Handles returns the handle manager used by the bridge.
func (b *Bridge) Handles() *handle.Manager {
	return b.handles
}

// Cache returns the attribute cache used by the bridge.
func (b *Bridge) Cache() *cache.AttrCache {
	return b.cache
}

// Close releases every open handle, delivering buffered writes.
func (b *Bridge) Close(ctx context.Context) error {
	return b.handles.ReleaseAll(ctx)
}

// observe records metrics and logs the outcome of an operation. Use as
//
//	defer b.observe("getattr", path)(&err)
func (b *Bridge) observe(op, local string) func(*error) {
	start := time.Now()
	b.metrics.RecordOperationStart(op)

	return func(errp *error) {
		err := *errp
		b.metrics.RecordOperationEnd(op)
		b.metrics.RecordOperation(op, time.Since(start), codeName(err))

		if err == nil {
			return
		}

		var fsErr *metadata.FSError
		switch {
		case metadata.IsNotFound(err):
			logger.Debug("%s %q: %v", op, local, err)
		case errors.As(err, &fsErr) && fsErr.Exception != "":
			logger.Warn("%s %q failed: remote %s: %v", op, local, fsErr.Exception, err)
		default:
			logger.Warn("%s %q failed: %v", op, local, err)
		}
	}
}

// resolve maps a local path, rejecting escapes from the mount root.
func (b *Bridge) resolve(local string) (metadata.RemotePath, error) {
	return b.resolver.Resolve(local)
}

// stat returns attributes for p, from the cache when possible.
func (b *Bridge) stat(ctx context.Context, p metadata.RemotePath) (*metadata.FileAttr, error) {
	if attr, ok := b.cache.Lookup(p); ok {
		if attr == nil {
			return nil, metadata.NewError(metadata.ErrNotFound, "getattr", p, "no such file or directory (cached)")
		}
		return attr, nil
	}
	return b.fetch(ctx, p)
}

// fetch reads attributes from the server and refreshes the cache. The
// answer is not cached when p was invalidated while the request was out.
func (b *Bridge) fetch(ctx context.Context, p metadata.RemotePath) (*metadata.FileAttr, error) {
	tok := b.cache.Token()
	attr, err := b.transport.GetFileStatus(ctx, p)
	if err != nil {
		if metadata.IsNotFound(err) {
			b.cache.PutNegative(p, tok)
		}
		return nil, err
	}
	b.cache.Put(p, attr, tok)
	return attr, nil
}

// forget invalidates p and records it as missing after a delete or rename.
func (b *Bridge) forget(p metadata.RemotePath, subtree bool) {
	if subtree {
		b.cache.InvalidateSubtree(p)
	} else {
		b.cache.Invalidate(p)
	}
	b.cache.PutNegative(p, b.cache.Token())
}

// withOpenSize reports the size seen through open write handles.
func (b *Bridge) withOpenSize(attr *metadata.FileAttr) *metadata.FileAttr {
	if attr.IsDir() {
		return attr
	}
	size, ok := b.handles.OpenSize(attr.Path)
	if !ok || uint64(size) == attr.Size {
		return attr
	}
	overlay := attr.Clone()
	overlay.Size = uint64(size)
	return overlay
}
