package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete webhdfsfs configuration.
//
// This structure captures all configurable aspects of a mount:
//   - Logging configuration
//   - The WebHDFS endpoint and client behavior
//   - Where credentials are looked up
//   - Attribute cache, write buffering and the dirty-buffer journal
//   - FUSE mount options
//   - Lifecycle and metrics settings
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (WEBHDFSFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Credentials (user names, passwords, tokens) have their own lookup chain,
// see pkg/credential.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// WebHDFS configures the remote endpoint and the REST client
	WebHDFS WebHDFSConfig `mapstructure:"webhdfs" yaml:"webhdfs"`

	// Credentials configures where credentials are looked up
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`

	// Cache configures the attribute cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Handles configures write buffering
	Handles HandlesConfig `mapstructure:"handles" yaml:"handles"`

	// Mount contains FUSE mount options
	Mount MountConfig `mapstructure:"mount" yaml:"mount"`

	// Server contains lifecycle and metrics settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// WebHDFSConfig configures the REST endpoint and client behavior.
type WebHDFSConfig struct {
	// BaseURL is the REST endpoint, e.g. https://gateway:8443/gateway/default/webhdfs/v1
	// May be left empty when the credential file or HDFS_BASEURL provides it.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`

	// Root is the remote directory exposed at the mountpoint
	Root string `mapstructure:"root" yaml:"root" validate:"required,startswith=/"`

	// AuthType selects the authentication scheme
	// Valid values: auto, basic, bearer, pseudo, none
	AuthType string `mapstructure:"auth_type" yaml:"auth_type" validate:"required,oneof=auto basic bearer pseudo none"`

	// Username is the default user (pseudo auth, or basic auth without a
	// credential file)
	Username string `mapstructure:"username" yaml:"username,omitempty"`

	// CACert is a PEM bundle trusted in addition to the system roots
	CACert string `mapstructure:"ca_cert" yaml:"ca_cert,omitempty"`

	// UserAgent is sent with every request
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// Timeout bounds metadata requests
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`

	// MaxRetries is the number of extra attempts for transient failures
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0,lte=20"`

	// RetryBaseDelay is the first backoff delay; it doubles per attempt
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay" validate:"gt=0"`

	// RetryMaxDelay caps the backoff delay
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`

	// RateLimit is the sustained request rate in requests/second (0 = unlimited)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`

	// RateBurst is the token bucket size
	RateBurst int `mapstructure:"rate_burst" yaml:"rate_burst" validate:"gte=0"`
}

// CredentialsConfig configures where credentials are looked up.
type CredentialsConfig struct {
	// IniFile is the credential file ([DEFAULT] section with HDFS_* keys)
	IniFile string `mapstructure:"ini_file" yaml:"ini_file"`

	// NetrcFile is the .netrc file consulted for the WebHDFS host
	NetrcFile string `mapstructure:"netrc_file" yaml:"netrc_file"`

	// Prompt asks for missing credentials on the terminal
	Prompt *bool `mapstructure:"prompt" yaml:"prompt"`
}

// CacheConfig configures the attribute cache.
type CacheConfig struct {
	// Enabled turns attribute, negative and listing caching on
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// AttrTTL is how long attributes and listings are served from the cache
	AttrTTL time.Duration `mapstructure:"attr_ttl" yaml:"attr_ttl" validate:"gte=0"`

	// NegativeTTL is how long "does not exist" results are cached
	NegativeTTL time.Duration `mapstructure:"negative_ttl" yaml:"negative_ttl" validate:"gte=0"`

	// MaxEntries bounds the number of cached entries
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries" validate:"gte=0"`

	// Shards is the number of independently locked partitions
	Shards int `mapstructure:"shards" yaml:"shards" validate:"gte=0,lte=1024"`

	// StatfsTTL is how long filesystem statistics are reused
	StatfsTTL time.Duration `mapstructure:"statfs_ttl" yaml:"statfs_ttl" validate:"gte=0"`
}

// HandlesConfig configures write buffering.
type HandlesConfig struct {
	// FlushThreshold flushes a write handle once this many bytes are
	// buffered. Accepts sizes such as "64MiB".
	FlushThreshold ByteSize `mapstructure:"flush_threshold" yaml:"flush_threshold" validate:"gte=0"`

	// FlushTimeout bounds a single delivery to the server
	FlushTimeout time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout" validate:"gt=0"`

	// Journal keeps buffers that could not be delivered
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
}

// JournalConfig specifies the dirty-buffer journal.
//
// The Type field determines which implementation is used.
// Only the corresponding type-specific configuration section is used.
type JournalConfig struct {
	// Type specifies which journal implementation to use
	// Valid values: none, memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=none memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// MountConfig contains FUSE mount options.
type MountConfig struct {
	// FSName is the filesystem name shown in mount tables
	FSName string `mapstructure:"fs_name" yaml:"fs_name"`

	// AllowOther lets other users access the mount (requires user_allow_other)
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// EntryTimeout is how long the kernel caches name lookups
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout" validate:"gte=0"`

	// AttrTimeout is how long the kernel caches attributes
	AttrTimeout time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout" validate:"gte=0"`

	// Debug logs every FUSE request
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig contains lifecycle settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for buffered writes and
	// the unmount on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of /metrics and /healthz
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// ByteSize is a size in bytes. Configuration values may be plain numbers or
// strings such as "64MiB" or "1GB".
type ByteSize int64

// String formats the size with IEC units.
func (b ByteSize) String() string {
	if b < 0 {
		return fmt.Sprintf("%d B", int64(b))
	}
	return humanize.IBytes(uint64(b))
}

// MarshalYAML writes the size in human-readable form.
func (b ByteSize) MarshalYAML() (any, error) {
	return b.String(), nil
}

// UnmarshalYAML accepts both numbers and human-readable sizes.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if err := node.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	v, err := humanize.ParseBytes(node.Value)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", node.Value, err)
	}
	*b = ByteSize(v)
	return nil
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (WEBHDFSFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// decodeHook converts strings to durations, byte sizes and slices.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToByteSizeHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// stringToByteSizeHookFunc parses human-readable sizes into ByteSize.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		n, err := humanize.ParseBytes(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", data, err)
		}
		return ByteSize(n), nil
	}
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use WEBHDFSFS_ prefix and underscores
	// Example: WEBHDFSFS_WEBHDFS_BASE_URL=https://gateway:8443/webhdfs/v1
	v.SetEnvPrefix("WEBHDFSFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only covers keys viper already knows about
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/webhdfsfs/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// bindEnvKeys registers every leaf key of t with viper's environment lookup.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		switch field.Type.Kind() {
		case reflect.Struct:
			bindEnvKeys(v, field.Type, key)
		case reflect.Map:
			// Type-specific option maps are file-only
		default:
			_ = v.BindEnv(key)
		}
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		// An explicit path that does not exist is also fine
		if configPath != "" && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		// Other errors are problems
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "webhdfsfs")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "webhdfsfs")
}

// getStateDir returns the directory for persistent runtime state (journal).
//
// Uses XDG_STATE_HOME if set, otherwise ~/.local/state.
func getStateDir() string {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "webhdfsfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "webhdfsfs")
	}

	return filepath.Join(home, ".local", "state", "webhdfsfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
