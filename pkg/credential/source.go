package credential

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
)

// Loader reads the credential inputs from disk and the environment.
type Loader struct {
	// IniFile is the credential file path ("" skips it)
	IniFile string

	// NetrcFile is the .netrc path ("" skips it)
	NetrcFile string

	// Config holds values from the configuration file
	Config Credential

	// Environ returns the process environment; nil uses os.Environ
	Environ func() []string
}

// Load gathers the inputs for Resolve.
func (l Loader) Load() (Inputs, error) {
	in := Inputs{Config: l.Config}

	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	in.Env = hdfsEnv(environ())

	values, err := LoadIni(l.IniFile)
	if err != nil {
		return Inputs{}, err
	}
	in.Ini = values

	if l.NetrcFile != "" {
		n, err := LoadNetrc(l.NetrcFile)
		if err != nil {
			logger.Warn("Ignoring %s: %v", l.NetrcFile, err)
		}
		in.Netrc = n
	}
	return in, nil
}

func hdfsEnv(environ []string) map[string]string {
	env := make(map[string]string)
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, "HDFS_") {
			env[k] = v
		}
	}
	return env
}

// Source is a webhdfs.CredentialSource backed by a Loader.
//
// Refresh re-reads every input, so credentials rotated in the environment,
// .netrc or the credential file are picked up after an authentication
// failure. When the inputs did not change and a prompter is available, the
// secret is asked for again.
type Source struct {
	loader   Loader
	prompter Prompter

	mu sync.Mutex
	// loaded is what the inputs resolved to before prompting
	loaded  Credential
	current Credential
}

var _ webhdfs.CredentialSource = (*Source)(nil)

// NewSource resolves the initial credential. A nil prompter disables
// prompting; missing values are then reported as an error.
func NewSource(l Loader, p Prompter) (*Source, error) {
	s := &Source{loader: l, prompter: p}

	loaded, err := s.load()
	if err != nil {
		return nil, err
	}
	c, err := s.complete(loaded)
	if err != nil {
		return nil, err
	}
	s.loaded, s.current = loaded, c

	logger.Info("Credentials: %s", c)
	return s, nil
}

// Credential returns the current credential.
func (s *Source) Credential() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Authenticator implements webhdfs.CredentialSource.
func (s *Source) Authenticator(ctx context.Context) (webhdfs.Authenticator, error) {
	return s.Credential().Authenticator(), nil
}

// Refresh implements webhdfs.CredentialSource.
//
// Concurrent requests rejected with the same secret all end up here. Only
// the first one replaces the credential; the others get the replacement.
func (s *Source) Refresh(ctx context.Context, rejected webhdfs.Authenticator) (webhdfs.Authenticator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rejected != nil && s.current.Authenticator() != rejected {
		return s.current.Authenticator(), nil
	}

	loaded, err := s.load()
	if err != nil {
		return nil, err
	}

	var c Credential
	if !loaded.Equal(s.loaded) {
		// Rotated outside the process
		if c, err = s.complete(loaded); err != nil {
			return nil, err
		}
	} else {
		c = s.current
		switch {
		case s.prompter == nil:
			return nil, webhdfs.ErrCannotRefresh
		case c.AuthType == AuthBearer:
			c.Token = ""
		case c.AuthType == AuthBasic:
			c.Password = ""
		default:
			return nil, webhdfs.ErrCannotRefresh
		}
		if c, err = Complete(c, s.prompter); err != nil {
			return nil, fmt.Errorf("refresh credentials: %w", err)
		}
	}

	s.loaded, s.current = loaded, c
	logger.Info("Credentials refreshed: %s", c)
	return c.Authenticator(), nil
}

func (s *Source) load() (Credential, error) {
	in, err := s.loader.Load()
	if err != nil {
		return Credential{}, err
	}
	return Resolve(in), nil
}

func (s *Source) complete(loaded Credential) (Credential, error) {
	c, err := Complete(loaded, s.prompter)
	if err != nil {
		return Credential{}, err
	}
	if err := c.Validate(); err != nil {
		return Credential{}, err
	}
	return c, nil
}
