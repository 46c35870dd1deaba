package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jdx/go-netrc"
)

// Machine is one entry of a .netrc file.
type Machine struct {
	Name     string // empty for the default entry
	Login    string
	Password string
	Account  string
}

// Netrc is a parsed .netrc file.
type Netrc struct {
	file *netrc.Netrc
}

// Lookup returns the entry for host, falling back to the default entry.
// Host names match case-insensitively.
func (n *Netrc) Lookup(host string) (Machine, bool) {
	if n == nil || n.file == nil {
		return Machine{}, false
	}

	m := n.file.Machine(host)
	if m == nil {
		m = n.file.Machine(strings.ToLower(host))
	}
	if m == nil {
		m = n.file.Machine("default")
	}
	if m == nil {
		return Machine{}, false
	}

	entry := Machine{
		Name:     m.Name,
		Login:    m.Get("login"),
		Password: m.Get("password"),
		Account:  m.Get("account"),
	}
	if m.IsDefault {
		entry.Name = ""
	}
	return entry, true
}

// LoadNetrc reads a .netrc file. A missing file yields nil without error.
func LoadNetrc(path string) (*Netrc, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("stat netrc: %w", err)
	}

	f, err := netrc.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse netrc %s: %w", path, err)
	}
	return &Netrc{file: f}, nil
}

// DefaultNetrcPath returns $NETRC or ~/.netrc.
func DefaultNetrcPath() string {
	if p := os.Getenv("NETRC"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".netrc")
}
