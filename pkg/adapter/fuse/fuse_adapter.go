// Package fuse mounts a bridge.Bridge through the kernel FUSE interface.
//
// Every kernel request is dispatched on its own goroutine by go-fuse; the
// node and handle types in this package translate requests into bridge
// calls and bridge errors into errno values.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/adapter"
	"github.com/marmos91/webhdfsfs/pkg/bridge"
)

// Config holds the FUSE mount options.
type Config struct {
	// Mountpoint is the local directory to mount on. It must exist.
	Mountpoint string

	// FSName is the filesystem name shown in the mount table
	FSName string

	// AllowOther permits other users to access the mount.
	// Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// EntryTimeout is how long the kernel caches name lookups
	EntryTimeout time.Duration

	// AttrTimeout is how long the kernel caches attributes
	AttrTimeout time.Duration

	// Debug logs every kernel request
	Debug bool
}

func (c *Config) applyDefaults() {
	if c.FSName == "" {
		c.FSName = "webhdfs"
	}
	if c.EntryTimeout == 0 {
		c.EntryTimeout = time.Second
	}
	if c.AttrTimeout == 0 {
		c.AttrTimeout = time.Second
	}
}

// FUSEAdapter serves a bridge at a local mountpoint.
//
// Thread safety:
// Stop may be called concurrently with Serve and more than once.
type FUSEAdapter struct {
	config Config
	bridge *bridge.Bridge

	mu        sync.Mutex
	server    *fuse.Server
	stopped   bool
	unmounted bool

	// ready is closed once the kernel has accepted the mount
	ready     chan struct{}
	readyOnce sync.Once
}

var _ adapter.Adapter = (*FUSEAdapter)(nil)

// New creates a FUSE adapter for b.
func New(config Config, b *bridge.Bridge) *FUSEAdapter {
	config.applyDefaults()
	return &FUSEAdapter{
		config: config,
		bridge: b,
		ready:  make(chan struct{}),
	}
}

// Serve mounts the filesystem and blocks until it is unmounted.
//
// Cancelling ctx unmounts. An external unmount (fusermount -u) also makes
// Serve return nil.
func (a *FUSEAdapter) Serve(ctx context.Context) error {
	info, err := os.Stat(a.config.Mountpoint)
	if err != nil {
		return fmt.Errorf("mountpoint %s: %w", a.config.Mountpoint, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mountpoint %s: not a directory", a.config.Mountpoint)
	}

	entryTimeout := a.config.EntryTimeout
	attrTimeout := a.config.AttrTimeout

	root := &node{bridge: a.bridge}
	server, err := gofuse.Mount(a.config.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     a.config.FSName,
			Name:       "webhdfsfs",
			AllowOther: a.config.AllowOther,
			Debug:      a.config.Debug,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mount %s: %w", a.config.Mountpoint, err)
	}

	a.mu.Lock()
	a.server = server
	stopped := a.stopped
	a.mu.Unlock()

	logger.Info("Mounted %s on %s", a.config.FSName, a.config.Mountpoint)
	a.readyOnce.Do(func() { close(a.ready) })

	if stopped {
		// Stop raced with the mount
		if err := a.unmount(); err != nil {
			logger.Warn("Unmount of %s failed: %v", a.config.Mountpoint, err)
		}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("FUSE shutdown signal received: %v", ctx.Err())
			if err := a.Stop(context.Background()); err != nil {
				logger.Warn("Unmount of %s failed: %v", a.config.Mountpoint, err)
			}
		case <-done:
		}
	}()

	server.Wait()
	close(done)

	a.mu.Lock()
	a.unmounted = true
	a.mu.Unlock()

	logger.Info("Unmounted %s", a.config.Mountpoint)
	return nil
}

// Stop unmounts the filesystem. Unmounting fails while files are open on it;
// the call can then be repeated.
func (a *FUSEAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return a.unmount()
}

func (a *FUSEAdapter) unmount() error {
	a.mu.Lock()
	server := a.server
	done := a.unmounted
	a.mu.Unlock()

	if server == nil || done {
		return nil
	}

	logger.Debug("Unmounting %s", a.config.Mountpoint)
	if err := server.Unmount(); err != nil {
		return errors.Join(fmt.Errorf("unmount %s", a.config.Mountpoint), err)
	}
	return nil
}

// Ready is closed once the filesystem is mounted.
func (a *FUSEAdapter) Ready() <-chan struct{} {
	return a.ready
}

// Protocol returns "FUSE".
func (a *FUSEAdapter) Protocol() string {
	return "FUSE"
}

// Mountpoint returns the local mount directory.
func (a *FUSEAdapter) Mountpoint() string {
	return a.config.Mountpoint
}
