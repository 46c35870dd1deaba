package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/adapter"
	"github.com/marmos91/webhdfsfs/pkg/bridge"
	"github.com/marmos91/webhdfsfs/pkg/journal"
	"github.com/marmos91/webhdfsfs/pkg/metrics"
)

// unmountRetryInterval is the pause between unmount attempts while the
// mount is busy.
const unmountRetryInterval = 500 * time.Millisecond

// Options configures a MountServer.
type Options struct {
	// Bridge serves the POSIX operations (required)
	Bridge *bridge.Bridge

	// Adapter mounts the bridge (required)
	Adapter adapter.Adapter

	// Probe checks that the remote endpoint is reachable and the credentials
	// are accepted before mounting. Nil skips the check.
	Probe func(ctx context.Context) error

	// Journal is closed on shutdown (optional)
	Journal journal.Journal

	// Metrics serves /metrics and /healthz while mounted (optional)
	Metrics *metrics.Server

	// ShutdownTimeout bounds unmounting and the delivery of buffered writes
	ShutdownTimeout time.Duration
}

// MountServer runs one mount from start to finish.
//
// Lifecycle:
//  1. Probe the remote endpoint; failure aborts before anything is mounted
//  2. Replay buffers left in the journal by a previous run
//  3. Start the metrics server, if configured
//  4. Mount and serve until the context is cancelled or the filesystem is
//     unmounted externally
//  5. Unmount, deliver buffered writes (journaling what cannot be
//     delivered), stop metrics, close the journal
//
// Serve may only be called once.
type MountServer struct {
	opts Options

	serveOnce sync.Once
}

// New creates a MountServer.
func New(opts Options) (*MountServer, error) {
	if opts.Bridge == nil {
		return nil, errors.New("server: bridge is required")
	}
	if opts.Adapter == nil {
		return nil, errors.New("server: adapter is required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &MountServer{opts: opts}, nil
}

// Serve runs the mount and blocks until it ends.
//
// Returns:
//   - nil after a clean unmount (context cancellation or external unmount)
//   - error if the probe or the mount fails, or buffered writes could not
//     be delivered on shutdown
func (s *MountServer) Serve(ctx context.Context) error {
	err := errors.New("server: Serve already called")
	s.serveOnce.Do(func() {
		err = s.serve(ctx)
	})
	return err
}

func (s *MountServer) serve(ctx context.Context) error {
	a := s.opts.Adapter

	if s.opts.Probe != nil {
		if err := s.opts.Probe(ctx); err != nil {
			s.closeJournal()
			return fmt.Errorf("remote endpoint check failed: %w", err)
		}
		logger.Debug("Remote endpoint reachable")
	}

	report, err := s.opts.Bridge.Handles().Recover(ctx)
	if err != nil {
		// Entries stay in the journal for the next mount
		logger.Warn("Journal replay incomplete: %v", err)
	} else if report.Replayed > 0 || report.Failed > 0 {
		logger.Info("Journal replay: %d replayed (%d bytes), %d kept for later",
			report.Replayed, report.Bytes, report.Failed)
	}

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	var metricsDone chan struct{}
	if s.opts.Metrics != nil {
		metricsDone = make(chan struct{})
		go func() {
			defer close(metricsDone)
			if err := s.opts.Metrics.Start(metricsCtx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	logger.Info("Starting %s mount on %s", a.Protocol(), a.Mountpoint())

	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.Serve(serveCtx)
	}()

	var result error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		if err := s.stopAdapter(); err != nil {
			// The mount stays busy; buffered writes are still delivered
			result = fmt.Errorf("unmount %s: %w", a.Mountpoint(), err)
		} else if err := <-serveErr; err != nil {
			result = fmt.Errorf("%s adapter error: %w", a.Protocol(), err)
		}

	case err := <-serveErr:
		if err != nil {
			logger.Error("%s adapter failed: %v", a.Protocol(), err)
			result = fmt.Errorf("%s adapter error: %w", a.Protocol(), err)
		} else {
			logger.Info("%s mount on %s was unmounted", a.Protocol(), a.Mountpoint())
		}
	}

	if err := s.drain(); err != nil && result == nil {
		result = err
	}

	stopMetrics()
	if metricsDone != nil {
		<-metricsDone
	}
	s.closeJournal()

	logger.Info("Mount server stopped")
	return result
}

// stopAdapter unmounts, retrying while the mount is busy until the shutdown
// timeout expires.
func (s *MountServer) stopAdapter() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	a := s.opts.Adapter
	for {
		err := a.Stop(ctx)
		if err == nil {
			return nil
		}

		logger.Warn("Unmount of %s failed, retrying: %v", a.Mountpoint(), err)
		select {
		case <-ctx.Done():
			logger.Error("Giving up unmounting %s after %v; run 'fusermount -u %s'",
				a.Mountpoint(), s.opts.ShutdownTimeout, a.Mountpoint())
			return err
		case <-time.After(unmountRetryInterval):
		}
	}
}

// drain delivers the buffers of handles still open. Buffers that cannot be
// delivered are journaled by the handle manager.
func (s *MountServer) drain() error {
	handles := s.opts.Bridge.Handles()
	if n := handles.Count(); n > 0 {
		logger.Info("Delivering buffered writes of %d open handle(s)", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.opts.Bridge.Close(ctx); err != nil {
		logger.Error("Buffered writes not delivered on shutdown: %v", err)
		return fmt.Errorf("deliver buffered writes: %w", err)
	}
	return nil
}

func (s *MountServer) closeJournal() {
	if s.opts.Journal == nil {
		return
	}
	if err := s.opts.Journal.Close(); err != nil {
		logger.Warn("Closing journal: %v", err)
	}
}
