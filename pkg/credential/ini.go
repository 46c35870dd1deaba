package credential

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

// DefaultIniPath returns ~/.config/webhdfs.ini.
func DefaultIniPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "webhdfs.ini")
}

// LoadIni reads the [DEFAULT] section of a credential file. Keys are returned
// upper-case, since files written by other tools may have lower-cased them.
// A missing file yields an empty map.
func LoadIni(path string) (map[string]string, error) {
	values := make(map[string]string)
	if path == "" {
		return values, nil
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		Loose:               true,
		IgnoreInlineComment: true,
	}, path)
	if err != nil {
		return nil, fmt.Errorf("load credential file %s: %w", path, err)
	}

	for _, key := range f.Section(ini.DefaultSection).Keys() {
		values[strings.ToUpper(key.Name())] = key.String()
	}
	return values, nil
}

// SaveIni writes values as the [DEFAULT] section of a credential file. The
// file holds a password and is created with mode 0600.
func SaveIni(path string, values map[string]string) error {
	f := ini.Empty()
	sec := f.Section(ini.DefaultSection)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if values[k] == "" {
			continue
		}
		if _, err := sec.NewKey(k, values[k]); err != nil {
			return fmt.Errorf("credential key %s: %w", k, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create credential file: %w", err)
	}
	if _, err := f.WriteTo(out); err != nil {
		_ = out.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	return out.Close()
}
