package adapter

import (
	"context"
)

// Adapter exposes the bridge through a kernel-facing protocol and is managed
// by the mount server.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration and
//     the bridge it dispatches to
//  2. Startup: Serve() mounts and blocks until the filesystem is unmounted
//  3. Shutdown: Stop() unmounts; Serve() then returns
//
// Thread safety:
// Implementations must be safe for concurrent use. Stop() may be called
// concurrently with Serve(), and more than once.
type Adapter interface {
	// Serve mounts the filesystem and blocks until it is unmounted, either
	// by Stop, by context cancellation, or externally (fusermount -u).
	//
	// Returns:
	//   - nil on a clean unmount
	//   - error if the mount fails
	Serve(ctx context.Context) error

	// Stop unmounts the filesystem.
	//
	// Implementations must:
	//   - Be safe to call multiple times (idempotent)
	//   - Be safe to call concurrently with Serve()
	//   - Be safe to call before Serve() has mounted
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Mountpoint returns the local directory the adapter mounts on.
	Mountpoint() string
}
