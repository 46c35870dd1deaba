package webhdfs

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
)

// Authenticator applies credentials to an outgoing request.
//
// Authenticators are applied to every request, including the data transfer
// that follows a namenode redirect.
type Authenticator interface {
	Apply(req *http.Request)
}

// NoAuth sends requests without credentials. Session cookies set by the
// server are still replayed by the client's cookie jar.
type NoAuth struct{}

func (NoAuth) Apply(req *http.Request) {}

// BasicAuth uses HTTP Basic Authentication, as expected by Knox-style
// gateways in front of WebHDFS.
type BasicAuth struct {
	Username string
	Password string
}

// Apply adds the Basic auth header to the request.
func (a BasicAuth) Apply(req *http.Request) {
	if a.Username == "" && a.Password == "" {
		return
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	req.Header.Set("Authorization", "Basic "+credentials)
}

// BearerToken uses Bearer token authentication.
type BearerToken struct {
	Token string
}

// Apply adds the Bearer token header to the request.
func (a BearerToken) Apply(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// PseudoAuth uses Hadoop simple authentication: the user name travels in the
// user.name query parameter.
type PseudoAuth struct {
	User string
}

// Apply sets the user.name query parameter.
func (a PseudoAuth) Apply(req *http.Request) {
	if a.User == "" {
		return
	}
	q := req.URL.Query()
	q.Set("user.name", a.User)
	req.URL.RawQuery = q.Encode()
}

// ErrCannotRefresh is returned by credential sources that have nothing new to
// offer after an authentication failure.
var ErrCannotRefresh = errors.New("webhdfs: credentials cannot be refreshed")

// CredentialSource supplies the Authenticator used by the client.
//
// After an AuthFailure the client calls Refresh exactly once per call and
// retries with the returned Authenticator.
type CredentialSource interface {
	// Authenticator returns the current credentials.
	Authenticator(ctx context.Context) (Authenticator, error)

	// Refresh re-resolves the credentials after rejected was refused by the
	// server. When the current credentials already differ from rejected,
	// another call refreshed them in the meantime and they are returned as is.
	Refresh(ctx context.Context, rejected Authenticator) (Authenticator, error)
}

// StaticCredentials is a CredentialSource that never changes.
type StaticCredentials struct {
	Auth Authenticator
}

func (s StaticCredentials) Authenticator(context.Context) (Authenticator, error) {
	if s.Auth == nil {
		return NoAuth{}, nil
	}
	return s.Auth, nil
}

func (s StaticCredentials) Refresh(context.Context, Authenticator) (Authenticator, error) {
	return nil, ErrCannotRefresh
}
