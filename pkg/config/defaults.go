package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/webhdfsfs/pkg/credential"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Switches that default to on are pointers, so an explicit false survives
//   - Journal-specific defaults are handled by the journal factory
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyWebHDFSDefaults(&cfg.WebHDFS)
	applyCredentialsDefaults(&cfg.Credentials)
	applyCacheDefaults(&cfg.Cache)
	applyHandlesDefaults(&cfg.Handles)
	applyMountDefaults(&cfg.Mount)
	applyServerDefaults(&cfg.Server)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyWebHDFSDefaults sets REST client defaults.
func applyWebHDFSDefaults(cfg *WebHDFSConfig) {
	if cfg.Root == "" {
		cfg.Root = "/"
	}
	if cfg.AuthType == "" {
		cfg.AuthType = credential.AuthAuto
	}
	cfg.AuthType = strings.ToLower(cfg.AuthType)

	if cfg.UserAgent == "" {
		cfg.UserAgent = "webhdfsfs"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}

	// RateLimit defaults to 0 (unlimited)
	if cfg.RateLimit > 0 && cfg.RateBurst == 0 {
		cfg.RateBurst = max(1, int(cfg.RateLimit))
	}
}

// applyCredentialsDefaults sets the credential lookup defaults.
func applyCredentialsDefaults(cfg *CredentialsConfig) {
	if cfg.IniFile == "" {
		cfg.IniFile = credential.DefaultIniPath()
	}
	if cfg.NetrcFile == "" {
		cfg.NetrcFile = credential.DefaultNetrcPath()
	}
	if cfg.Prompt == nil {
		cfg.Prompt = boolPtr(true)
	}
}

// applyCacheDefaults sets attribute cache defaults.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Enabled == nil {
		cfg.Enabled = boolPtr(true)
	}
	if cfg.AttrTTL == 0 {
		cfg.AttrTTL = 30 * time.Second
	}
	if cfg.NegativeTTL == 0 {
		cfg.NegativeTTL = 30 * time.Second
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.Shards == 0 {
		cfg.Shards = 32
	}
	if cfg.StatfsTTL == 0 {
		cfg.StatfsTTL = 30 * time.Second
	}
}

// applyHandlesDefaults sets write buffering defaults.
func applyHandlesDefaults(cfg *HandlesConfig) {
	if cfg.FlushThreshold == 0 {
		cfg.FlushThreshold = 64 << 20 // 64MiB
	}
	if cfg.FlushTimeout == 0 {
		cfg.FlushTimeout = 5 * time.Minute
	}
	applyJournalDefaults(&cfg.Journal)
}

// applyJournalDefaults sets journal defaults.
func applyJournalDefaults(cfg *JournalConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	// Initialize map if nil
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	// Apply defaults for the badger store (also used for config file generation)
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = filepath.Join(getStateDir(), "journal")
	}
}

// applyMountDefaults sets FUSE mount defaults.
func applyMountDefaults(cfg *MountConfig) {
	if cfg.FSName == "" {
		cfg.FSName = "webhdfs"
	}

	// AllowOther and Debug default to false

	if cfg.EntryTimeout == 0 {
		cfg.EntryTimeout = time.Second
	}
	if cfg.AttrTimeout == 0 {
		cfg.AttrTimeout = time.Second
	}
}

// applyServerDefaults sets lifecycle defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	// Metrics are disabled by default
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Handles: HandlesConfig{
			Journal: JournalConfig{
				Badger: make(map[string]any),
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
