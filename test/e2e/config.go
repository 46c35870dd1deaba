package e2e

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/marmos91/webhdfsfs/pkg/config"
)

// JournalType selects the dirty-buffer journal of a run
type JournalType string

const (
	JournalNone   JournalType = "none"
	JournalMemory JournalType = "memory"
	JournalBadger JournalType = "badger"
)

// TestContextProvider is an interface for providing test context dependencies
type TestContextProvider interface {
	CreateTempDir(prefix string) string
	GetConfig() *TestConfig
}

// TestConfig holds the configuration for a test run
type TestConfig struct {
	Name         string
	Journal      JournalType
	CacheEnabled bool

	// FlushThreshold forces intermediate flushes of large writes (0 = default)
	FlushThreshold config.ByteSize
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	cache := "nocache"
	if tc.CacheEnabled {
		cache = "cache"
	}
	return fmt.Sprintf("%s/%s", tc.Journal, cache)
}

// BuildConfig returns a mount configuration pointing at baseURL.
func (tc *TestConfig) BuildConfig(baseURL string, testCtx TestContextProvider) *config.Config {
	cfg := config.GetDefaultConfig()

	cfg.Logging.Level = "ERROR"
	cfg.WebHDFS.BaseURL = baseURL
	cfg.WebHDFS.AuthType = "none"
	cfg.WebHDFS.RetryBaseDelay = time.Millisecond
	cfg.WebHDFS.RetryMaxDelay = 10 * time.Millisecond

	// No credential files or prompts from the machine running the tests
	prompt := false
	cfg.Credentials.IniFile = ""
	cfg.Credentials.NetrcFile = ""
	cfg.Credentials.Prompt = &prompt

	enabled := tc.CacheEnabled
	cfg.Cache.Enabled = &enabled

	if tc.FlushThreshold > 0 {
		cfg.Handles.FlushThreshold = tc.FlushThreshold
	}

	cfg.Handles.Journal.Type = string(tc.Journal)
	if tc.Journal == JournalBadger {
		cfg.Handles.Journal.Badger = map[string]any{
			"path": filepath.Join(testCtx.CreateTempDir("webhdfsfs-journal-*"), "journal"),
		}
	}

	// Kernel caching would hide remote state from the assertions
	cfg.Mount.EntryTimeout = time.Nanosecond
	cfg.Mount.AttrTimeout = time.Nanosecond
	cfg.Server.ShutdownTimeout = 10 * time.Second

	return cfg
}

// AllConfigurations returns all test configurations to run
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{
			Name:         "memory-cache",
			Journal:      JournalMemory,
			CacheEnabled: true,
		},
		{
			Name:         "memory-nocache",
			Journal:      JournalMemory,
			CacheEnabled: false,
		},
		{
			Name:           "badger-cache",
			Journal:        JournalBadger,
			CacheEnabled:   true,
			FlushThreshold: 256 * 1024,
		},
	}
}

// GetConfiguration returns a specific configuration by name
func GetConfiguration(name string) *TestConfig {
	for _, cfg := range AllConfigurations() {
		if cfg.Name == name {
			return cfg
		}
	}
	return nil
}
