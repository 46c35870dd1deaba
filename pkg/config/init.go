package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by InitConfig when the file already exists and
// force is not set.
var ErrConfigExists = errors.New("config file already exists")

// sectionComments documents the top-level sections of a generated file.
var sectionComments = map[string]string{
	"logging": "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json),\n" +
		"output (stdout, stderr or a file path)",
	"webhdfs": "WebHDFS endpoint. base_url may be left empty when ~/.config/webhdfs.ini\n" +
		"or HDFS_BASEURL provides it. root is the remote directory shown at the\n" +
		"mountpoint. auth_type: auto, basic, bearer, pseudo or none",
	"credentials": "Credential lookup, highest precedence first: HDFS_* environment\n" +
		"variables, the .netrc entry of the WebHDFS host, ini_file, this file.\n" +
		"Missing user names and passwords are prompted for when prompt is true",
	"cache": "Attribute cache. Entries are reused for attr_ttl; files known not to\n" +
		"exist for negative_ttl",
	"handles": "Write buffering. Buffers are sent once flush_threshold bytes are\n" +
		"pending and on close. Buffers that cannot be delivered are kept in the\n" +
		"journal (none, memory or badger) and replayed on the next mount",
	"mount":  "FUSE mount options",
	"server": "Shutdown and Prometheus metrics (/metrics, /healthz)",
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. Without force, an existing file is
// left untouched and ErrConfigExists is returned.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s (use --force to overwrite)", ErrConfigExists, path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above each top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	if doc.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key := doc.Content[i]
			if comment, ok := sectionComments[key.Value]; ok {
				key.HeadComment = comment
			}
		}
	}

	var b strings.Builder
	b.WriteString("# webhdfsfs Configuration File\n")
	b.WriteString("#\n")
	b.WriteString("# Every value can be overridden with a WEBHDFSFS_* environment variable,\n")
	b.WriteString("# e.g. WEBHDFSFS_WEBHDFS_BASE_URL or WEBHDFSFS_LOGGING_LEVEL.\n\n")

	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return b.String(), nil
}
