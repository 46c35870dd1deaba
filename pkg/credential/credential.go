// Package credential resolves the endpoint and credentials used to talk to
// WebHDFS.
//
// Values come from four places, highest precedence first:
//
//  1. environment variables (HDFS_BASEURL, HDFS_USERNAME, ...)
//  2. the .netrc entry of the WebHDFS host (username and password only)
//  3. the webhdfs.ini credential file ([DEFAULT] section)
//  4. the webhdfs section of the configuration file
//
// Resolve merges already loaded inputs and performs no I/O. Loading, terminal
// prompting and re-resolution after an authentication failure live in Loader,
// Prompter and Source.
package credential

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/marmos91/webhdfsfs/pkg/webhdfs"
)

// Auth scheme names accepted in the configuration.
const (
	AuthAuto   = "auto"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthPseudo = "pseudo"
	AuthNone   = "none"
)

// Keys of the credential file and the matching environment variables.
const (
	KeyHost     = "HDFS_HOST"
	KeyBaseURL  = "HDFS_BASEURL"
	KeyCert     = "HDFS_CERT"
	KeyUsername = "HDFS_USERNAME"
	KeyPassword = "HDFS_PASSWORD"
	KeyToken    = "HDFS_TOKEN"
)

// Origins recorded in Credential.UserOrigin.
const (
	OriginEnv    = "env"
	OriginNetrc  = "netrc"
	OriginIni    = "ini"
	OriginConfig = "config"
	OriginPrompt = "prompt"
)

// ErrNoBaseURL is returned when no source provides the endpoint URL.
var ErrNoBaseURL = errors.New("credential: no WebHDFS base URL configured (HDFS_BASEURL or webhdfs.base_url)")

// Credential is a resolved endpoint and identity. It is a value: a new
// resolution produces a new Credential.
type Credential struct {
	// BaseURL is the REST endpoint
	BaseURL string

	// Host is the WebHDFS host name, used for the .netrc lookup
	Host string

	// CACert is an optional PEM bundle path
	CACert string

	// AuthType is one of basic, bearer, pseudo, none (auto is resolved)
	AuthType string

	Username string
	Password string
	Token    string

	// UserOrigin records where Username came from
	UserOrigin string
}

// Inputs holds everything Resolve merges.
type Inputs struct {
	// Env holds the HDFS_* environment variables
	Env map[string]string

	// Netrc is the parsed .netrc file (nil when absent)
	Netrc *Netrc

	// Ini holds the [DEFAULT] section of the credential file, upper-case keys
	Ini map[string]string

	// Config holds values from the configuration file; AuthType "" or auto
	// selects the scheme from the available secrets
	Config Credential
}

// Resolve merges the inputs by precedence. It performs no I/O.
func Resolve(in Inputs) Credential {
	c := Credential{
		BaseURL:  first(in.Env[KeyBaseURL], in.Ini[KeyBaseURL], in.Config.BaseURL),
		CACert:   first(in.Env[KeyCert], in.Ini[KeyCert], in.Config.CACert),
		Token:    first(in.Env[KeyToken], in.Ini[KeyToken], in.Config.Token),
		AuthType: strings.ToLower(in.Config.AuthType),
	}
	c.Host = first(in.Env[KeyHost], in.Ini[KeyHost], in.Config.Host, hostOf(c.BaseURL))

	var netrcUser, netrcPass string
	if in.Netrc != nil && c.Host != "" {
		if m, ok := in.Netrc.Lookup(c.Host); ok {
			netrcUser, netrcPass = m.Login, m.Password
		}
	}

	switch {
	case in.Env[KeyUsername] != "":
		c.Username, c.UserOrigin = in.Env[KeyUsername], OriginEnv
	case netrcUser != "":
		c.Username, c.UserOrigin = netrcUser, OriginNetrc
	case in.Ini[KeyUsername] != "":
		c.Username, c.UserOrigin = in.Ini[KeyUsername], OriginIni
	case in.Config.Username != "":
		c.Username, c.UserOrigin = in.Config.Username, OriginConfig
	}
	c.Password = first(in.Env[KeyPassword], netrcPass, in.Ini[KeyPassword], in.Config.Password)

	if c.AuthType == "" || c.AuthType == AuthAuto {
		if c.Token != "" {
			c.AuthType = AuthBearer
		} else {
			c.AuthType = AuthBasic
		}
	}
	return c
}

// Missing lists the fields the auth scheme needs but the credential lacks,
// as credential file keys.
func (c Credential) Missing() []string {
	var missing []string
	switch c.AuthType {
	case AuthBasic:
		if c.Username == "" {
			missing = append(missing, KeyUsername)
		}
		if c.Password == "" {
			missing = append(missing, KeyPassword)
		}
	case AuthBearer:
		if c.Token == "" {
			missing = append(missing, KeyToken)
		}
	case AuthPseudo:
		if c.Username == "" {
			missing = append(missing, KeyUsername)
		}
	}
	return missing
}

// Validate checks that the credential can be used.
func (c Credential) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	switch c.AuthType {
	case AuthBasic, AuthBearer, AuthPseudo, AuthNone:
	default:
		return fmt.Errorf("credential: unknown auth type %q", c.AuthType)
	}
	if missing := c.Missing(); len(missing) > 0 {
		return fmt.Errorf("credential: %s authentication requires %s", c.AuthType, strings.Join(missing, ", "))
	}
	return nil
}

// Authenticator returns the request authenticator for the scheme.
func (c Credential) Authenticator() webhdfs.Authenticator {
	switch c.AuthType {
	case AuthBasic:
		return webhdfs.BasicAuth{Username: c.Username, Password: c.Password}
	case AuthBearer:
		return webhdfs.BearerToken{Token: c.Token}
	case AuthPseudo:
		return webhdfs.PseudoAuth{User: c.Username}
	default:
		return webhdfs.NoAuth{}
	}
}

// Equal reports whether two credentials authenticate identically.
func (c Credential) Equal(o Credential) bool {
	return c.AuthType == o.AuthType && c.Username == o.Username &&
		c.Password == o.Password && c.Token == o.Token
}

// String returns a description without secrets.
func (c Credential) String() string {
	user := c.Username
	if user == "" {
		user = "-"
	}
	return fmt.Sprintf("%s auth as %s (from %s) at %s", c.AuthType, user, first(c.UserOrigin, "-"), c.BaseURL)
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func hostOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
