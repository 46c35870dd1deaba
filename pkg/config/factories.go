package config

import (
	"context"
	"fmt"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/bridge"
	"github.com/marmos91/webhdfsfs/pkg/credential"
	"github.com/marmos91/webhdfsfs/pkg/handle"
	"github.com/marmos91/webhdfsfs/pkg/journal"
	"github.com/marmos91/webhdfsfs/pkg/journal/badger"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/metadata/cache"
	"github.com/marmos91/webhdfsfs/pkg/metrics"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
	"github.com/mitchellh/mapstructure"
)

// CreateJournal creates the dirty-buffer journal based on configuration.
//
// Supported types:
//   - "none": Undeliverable buffers are dropped (returns nil)
//   - "memory": Kept for the lifetime of the process only
//   - "badger": Persisted with BadgerDB and replayed on the next mount
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Journal configuration
//
// Returns:
//   - journal.Journal: Initialized journal, nil for "none"
//   - error: Configuration or initialization error
func CreateJournal(ctx context.Context, cfg *JournalConfig) (journal.Journal, error) {
	switch cfg.Type {
	case "none":
		logger.Warn("Write journal disabled: buffers that cannot be delivered will be lost")
		return nil, nil
	case "memory":
		return journal.NewMemory(), nil
	case "badger":
		return createBadgerJournal(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown journal type: %q (supported: none, memory, badger)", cfg.Type)
	}
}

// createBadgerJournal creates a BadgerDB-backed journal.
func createBadgerJournal(ctx context.Context, options map[string]any) (journal.Journal, error) {
	type BadgerJournalConfig struct {
		Path     string `mapstructure:"path"`
		InMemory bool   `mapstructure:"in_memory"`
	}

	var journalCfg BadgerJournalConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &journalCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode badger journal config: %w", err)
	}

	if journalCfg.Path == "" && !journalCfg.InMemory {
		return nil, fmt.Errorf("badger journal: path is required")
	}

	j, err := badger.Open(ctx, badger.Config{
		DBPath:   journalCfg.Path,
		InMemory: journalCfg.InMemory,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger journal: %w", err)
	}
	return j, nil
}

// CredentialLoader returns the credential loader described by cfg.
//
// Values set in the webhdfs section act as the lowest-precedence source.
func CredentialLoader(cfg *Config) credential.Loader {
	return credential.Loader{
		IniFile:   cfg.Credentials.IniFile,
		NetrcFile: cfg.Credentials.NetrcFile,
		Config: credential.Credential{
			BaseURL:  cfg.WebHDFS.BaseURL,
			CACert:   cfg.WebHDFS.CACert,
			AuthType: cfg.WebHDFS.AuthType,
			Username: cfg.WebHDFS.Username,
		},
	}
}

// CreateCredentialSource resolves the credentials for the mount.
//
// The prompter is only used when credentials.prompt is enabled; pass nil when
// no terminal is available.
func CreateCredentialSource(cfg *Config, prompter credential.Prompter) (*credential.Source, error) {
	if cfg.Credentials.Prompt != nil && !*cfg.Credentials.Prompt {
		prompter = nil
	}
	return credential.NewSource(CredentialLoader(cfg), prompter)
}

// CreateClient creates the WebHDFS client.
//
// The endpoint and CA bundle come from the resolved credential, so that
// HDFS_BASEURL and the credential file take precedence over this file.
func CreateClient(cfg *Config, creds *credential.Source, m metrics.WebHDFSMetrics) (*webhdfs.Client, error) {
	c := creds.Credential()

	client, err := webhdfs.New(webhdfs.Config{
		BaseURL:        c.BaseURL,
		UserAgent:      cfg.WebHDFS.UserAgent,
		Timeout:        cfg.WebHDFS.Timeout,
		MaxRetries:     cfg.WebHDFS.MaxRetries,
		RetryBaseDelay: cfg.WebHDFS.RetryBaseDelay,
		RetryMaxDelay:  cfg.WebHDFS.RetryMaxDelay,
		RateLimit:      cfg.WebHDFS.RateLimit,
		RateBurst:      cfg.WebHDFS.RateBurst,
		CACertFile:     c.CACert,
	}, creds, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebHDFS client: %w", err)
	}
	return client, nil
}

// CreateCache creates the attribute cache. A disabled cache stores nothing.
func CreateCache(cfg *CacheConfig, m cache.CacheMetrics) *cache.AttrCache {
	if cfg.Enabled != nil && !*cfg.Enabled {
		return cache.New(cache.Config{}, m)
	}
	return cache.New(cache.Config{
		TTL:         cfg.AttrTTL,
		NegativeTTL: cfg.NegativeTTL,
		MaxEntries:  cfg.MaxEntries,
		Shards:      cfg.Shards,
	}, m)
}

// CreateHandleManager creates the handle manager.
func CreateHandleManager(cfg *HandlesConfig, t handle.Transport, j journal.Journal, m metrics.HandleMetrics) *handle.Manager {
	return handle.NewManager(t, j, handle.Config{
		FlushThreshold: int64(cfg.FlushThreshold),
		FlushTimeout:   cfg.FlushTimeout,
	}, m)
}

// BridgeComponents are the collaborators a Bridge is assembled from.
type BridgeComponents struct {
	Mountpoint string
	Transport  bridge.Transport
	Cache      *cache.AttrCache
	Handles    *handle.Manager
	Metrics    metrics.BridgeMetrics
}

// CreateBridge creates the bridge for a mount of cfg.WebHDFS.Root at
// c.Mountpoint.
func CreateBridge(cfg *Config, c BridgeComponents) (*bridge.Bridge, error) {
	resolver, err := metadata.NewResolver(cfg.WebHDFS.Root, c.Mountpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid remote root: %w", err)
	}

	return bridge.New(bridge.Options{
		Resolver:   resolver,
		Transport:  c.Transport,
		Cache:      c.Cache,
		Handles:    c.Handles,
		Identities: bridge.NewIdentityMapper(),
		Metrics:    c.Metrics,
		StatfsTTL:  cfg.Cache.StatfsTTL,
	})
}
