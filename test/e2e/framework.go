package e2e

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/adapter/fuse"
	"github.com/marmos91/webhdfsfs/pkg/config"
	"github.com/marmos91/webhdfsfs/pkg/journal"
	"github.com/marmos91/webhdfsfs/pkg/server"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs/webhdfstest"
)

// TestContext provides a complete testing environment with:
// - A fake WebHDFS endpoint
// - A running mount server wired from configuration
// - Cleanup mechanisms
type TestContext struct {
	T         *testing.T
	Config    *TestConfig
	Remote    *webhdfstest.Server
	Server    *server.MountServer
	Adapter   *fuse.FUSEAdapter
	Journal   journal.Journal
	MountPath string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	serveErr  error
	tempDirs  []string
	mounted   bool
}

// NewTestContext creates a new test environment with the specified configuration.
// It starts the fake endpoint and mounts it. The test is skipped when FUSE
// is not available.
func NewTestContext(t *testing.T, config *TestConfig) *TestContext {
	t.Helper()

	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TestContext{
		T:      t,
		Config: config,
		Remote: webhdfstest.NewServer(t),
		ctx:    ctx,
		cancel: cancel,
	}

	tc.startServer()
	tc.waitForMount()

	return tc
}

// startServer builds every component from configuration, the way the
// webhdfsfs command does, and serves the mount in the background.
func (tc *TestContext) startServer() {
	tc.T.Helper()

	// Always use ERROR level to keep test output clean
	logger.SetLevel("ERROR")

	tc.MountPath = tc.CreateTempDir("webhdfsfs-e2e-mount-*")
	cfg := tc.Config.BuildConfig(tc.Remote.BaseURL(), tc)

	creds, err := config.CreateCredentialSource(cfg, nil)
	if err != nil {
		tc.T.Fatalf("Failed to resolve credentials: %v", err)
	}

	var client *webhdfs.Client
	probe := func(ctx context.Context) error {
		return client.Ping(ctx, "/")
	}
	m := config.InitializeMetrics(cfg, probe)

	client, err = config.CreateClient(cfg, creds, m.WebHDFS)
	if err != nil {
		tc.T.Fatalf("Failed to create client: %v", err)
	}

	tc.Journal, err = config.CreateJournal(tc.ctx, &cfg.Handles.Journal)
	if err != nil {
		tc.T.Fatalf("Failed to create journal: %v", err)
	}

	handles := config.CreateHandleManager(&cfg.Handles, client, tc.Journal, m.Handles)
	b, err := config.CreateBridge(cfg, config.BridgeComponents{
		Mountpoint: tc.MountPath,
		Transport:  client,
		Cache:      config.CreateCache(&cfg.Cache, m.Cache),
		Handles:    handles,
		Metrics:    m.Bridge,
	})
	if err != nil {
		tc.T.Fatalf("Failed to create bridge: %v", err)
	}

	tc.Adapter, err = config.CreateAdapter(cfg, tc.MountPath, b)
	if err != nil {
		tc.T.Fatalf("Failed to create adapter: %v", err)
	}

	tc.Server, err = server.New(server.Options{
		Bridge:          b,
		Adapter:         tc.Adapter,
		Probe:           probe,
		Journal:         tc.Journal,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		tc.T.Fatalf("Failed to create mount server: %v", err)
	}

	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		tc.serveErr = tc.Server.Serve(tc.ctx)
	}()
}

// waitForMount waits until the kernel mount is in place
func (tc *TestContext) waitForMount() {
	tc.T.Helper()

	done := make(chan struct{})
	go func() {
		tc.wg.Wait()
		close(done)
	}()

	select {
	case <-tc.Adapter.Ready():
		tc.mounted = true
	case <-done:
		tc.removeTempDirs()
		tc.T.Skipf("skipping: mount failed: %v", tc.serveErr)
	case <-time.After(10 * time.Second):
		tc.cancel()
		tc.T.Fatal("Timeout waiting for the mount")
	}
}

// Cleanup unmounts, stops the server, and removes temporary files
func (tc *TestContext) Cleanup() {
	tc.T.Helper()

	tc.Unmount()

	if tc.serveErr != nil {
		tc.T.Errorf("Mount server error: %v", tc.serveErr)
	}

	tc.removeTempDirs()
}

// Unmount stops the mount and waits for buffered writes to be delivered.
func (tc *TestContext) Unmount() {
	tc.T.Helper()

	if !tc.mounted {
		return
	}
	tc.cancel()
	tc.wg.Wait()
	tc.mounted = false
}

func (tc *TestContext) removeTempDirs() {
	for _, dir := range tc.tempDirs {
		_ = os.RemoveAll(dir)
	}
	tc.tempDirs = nil
}

// Path returns the absolute path for a relative path within the mount
func (tc *TestContext) Path(relativePath string) string {
	return filepath.Join(tc.MountPath, relativePath)
}

// CreateTempDir creates a temporary directory and registers it for cleanup
func (tc *TestContext) CreateTempDir(prefix string) string {
	tc.T.Helper()

	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		tc.T.Fatalf("Failed to create temp directory: %v", err)
	}
	tc.tempDirs = append(tc.tempDirs, dir)
	return dir
}

// GetConfig returns the test configuration
func (tc *TestContext) GetConfig() *TestConfig {
	return tc.Config
}
