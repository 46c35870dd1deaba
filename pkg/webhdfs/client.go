// Package webhdfs implements the WebHDFS REST transport used by the mount.
//
// Every exported method performs one logical WebHDFS operation. The client
// hides the namenode-to-datanode redirect of OPEN, CREATE and APPEND,
// applies authentication to every hop, paces requests, retries transient
// failures with exponential backoff and maps RemoteException payloads to the
// error taxonomy of pkg/metadata.
package webhdfs

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/marmos91/webhdfsfs/internal/ratelimiter"
	"github.com/marmos91/webhdfsfs/pkg/metadata"
	"github.com/marmos91/webhdfsfs/pkg/metrics"
)

// apiPrefix is appended to base URLs that carry no path.
const apiPrefix = "/webhdfs/v1"

// Config configures the WebHDFS client.
type Config struct {
	// BaseURL is the REST endpoint including the /webhdfs/v1 prefix, for
	// example https://gateway:8443/gateway/default/webhdfs/v1. A URL without
	// a path gets /webhdfs/v1 appended.
	BaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds metadata requests. Data transfers are bounded by the
	// caller's context only.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts for transient failures.
	MaxRetries int

	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration

	// RateLimit is the sustained request rate (requests/second, 0 = unlimited).
	RateLimit float64

	// RateBurst is the token bucket size.
	RateBurst int

	// CACertFile is a PEM bundle trusted in addition to the system roots.
	CACertFile string

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// DefaultConfig returns a client config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "webhdfsfs",
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 200 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

// Client is a rate-limited, retry-capable WebHDFS client.
//
// Thread safety:
// A Client is safe for concurrent use. It keeps no per-call state besides the
// cookie jar, which is itself concurrency-safe.
type Client struct {
	cfg        Config
	base       *url.URL
	creds      CredentialSource
	metaClient *http.Client
	dataClient *http.Client
	limiter    *ratelimiter.RateLimiter
	metrics    metrics.WebHDFSMetrics
}

// New creates a WebHDFS client.
//
// Parameters:
//   - cfg: Endpoint, retry and TLS configuration
//   - creds: Credential source; nil sends unauthenticated requests
//   - m: Metrics sink; nil uses a no-op implementation
func New(cfg Config, creds CredentialSource, m metrics.WebHDFSMetrics) (*Client, error) {
	defaults := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}

	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	transport := cfg.Transport
	if transport == nil {
		t, err := newTransport(cfg.CACertFile)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	noRedirect := func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	if creds == nil {
		creds = StaticCredentials{}
	}
	if m == nil {
		m = metrics.NewNoopWebHDFSMetrics()
	}

	return &Client{
		cfg:   cfg,
		base:  base,
		creds: creds,
		metaClient: &http.Client{
			Transport:     transport,
			Jar:           jar,
			Timeout:       cfg.Timeout,
			CheckRedirect: noRedirect,
		},
		dataClient: &http.Client{
			Transport:     transport,
			Jar:           jar,
			CheckRedirect: noRedirect,
		},
		limiter: ratelimiter.New(cfg.RateLimit, cfg.RateBurst),
		metrics: m,
	}, nil
}

// BaseURL returns the normalized endpoint URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("webhdfs: base URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("webhdfs: invalid base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhdfs: base URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("webhdfs: base URL %q has no host", raw)
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	if u.Path == "" {
		u.Path = apiPrefix
	}
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newTransport(caCertFile string) (*http.Transport, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if caCertFile == "" {
		return t, nil
	}

	pem, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle %s: %w", caCertFile, err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle %s contains no certificates", caCertFile)
	}

	t.TLSClientConfig = &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	return t, nil
}

// call describes one logical WebHDFS operation.
type call struct {
	op     string
	method string
	path   metadata.RemotePath
	params url.Values

	// redirect marks OPEN, CREATE and APPEND: phase 1 hits the namenode,
	// phase 2 transfers data to the Location it returns.
	redirect bool

	// body is sent in phase 2
	body []byte

	// expect is the status required from the final response (0 = any 2xx)
	expect int

	// limit bounds how much of the response body is read (0 = all)
	limit int64
}

// do runs a call with pacing, retries and one credential refresh.
func (c *Client) do(ctx context.Context, cl *call) ([]byte, error) {
	start := time.Now()

	data, err := c.doWithAuth(ctx, cl)

	c.metrics.RecordRequest(cl.op, time.Since(start), err)
	if err != nil {
		logger.Debug("WebHDFS %s %s failed after %v: %v", cl.op, cl.path, time.Since(start), err)
	}
	return data, err
}

func (c *Client) doWithAuth(ctx context.Context, cl *call) ([]byte, error) {
	auth, err := c.creds.Authenticator(ctx)
	if err != nil {
		return nil, &metadata.FSError{
			Code:    metadata.ErrAuthFailure,
			Op:      cl.op,
			Path:    string(cl.path),
			Message: "no credentials",
			Err:     err,
		}
	}

	data, err := c.doWithRetry(ctx, cl, auth)
	if !metadata.IsCode(err, metadata.ErrAuthFailure) {
		return data, err
	}

	refreshed, rerr := c.creds.Refresh(ctx, auth)
	c.metrics.RecordAuthRefresh(rerr == nil)
	if rerr != nil {
		if !errors.Is(rerr, ErrCannotRefresh) {
			logger.Warn("Credential refresh after %s failure: %v", cl.op, rerr)
		}
		return nil, err
	}

	logger.Info("Credentials rejected for %s %s, retrying with refreshed credentials", cl.op, cl.path)
	return c.doWithRetry(ctx, cl, refreshed)
}

func (c *Client) doWithRetry(ctx context.Context, cl *call, auth Authenticator) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s %s: rate limiter: %w", cl.op, cl.path, err)
		}

		data, err := c.attempt(ctx, cl, auth)
		if err == nil {
			return data, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", cl.op, cl.path, ctxErr)
		}
		if !isRetryable(err) {
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, &metadata.FSError{
				Code:    metadata.ErrTransientNetwork,
				Op:      cl.op,
				Path:    string(cl.path),
				Message: fmt.Sprintf("retries exhausted after %d attempts", attempt+1),
				Err:     err,
			}
		}

		c.metrics.RecordRetry(cl.op, retryReason(err))
		delay := c.backoff(attempt)
		logger.Debug("WebHDFS %s %s attempt %d failed (%v), retrying in %v", cl.op, cl.path, attempt+1, err, delay)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s %s: %w", cl.op, cl.path, ctx.Err())
		case <-time.After(delay):
		}
	}
}

// backoff returns base * 2^attempt, capped at RetryMaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.RetryBaseDelay
	for i := 0; i < attempt && delay < c.cfg.RetryMaxDelay; i++ {
		delay *= 2
	}
	if delay > c.cfg.RetryMaxDelay {
		delay = c.cfg.RetryMaxDelay
	}
	return delay
}

// attempt performs one try of a call, both phases included.
func (c *Client) attempt(ctx context.Context, cl *call, auth Authenticator) ([]byte, error) {
	target := c.opURL(cl)

	if !cl.redirect {
		resp, err := c.send(ctx, c.metaClient, cl.method, target, nil, auth)
		if err != nil {
			return nil, networkError(cl.op, cl.path, err)
		}
		return c.finish(cl, resp)
	}

	// Phase 1: ask the namenode where the data goes.
	resp, err := c.send(ctx, c.metaClient, cl.method, target, nil, auth)
	if err != nil {
		return nil, networkError(cl.op, cl.path, err)
	}

	switch {
	case isRedirect(resp.StatusCode):
		location := resp.Header.Get("Location")
		drain(resp)
		if location == "" {
			return nil, protocolError(cl.op, cl.path, nil, "redirect without Location header")
		}
		dataURL, err := target.Parse(location)
		if err != nil {
			return nil, protocolError(cl.op, cl.path, err, "invalid redirect location %q", location)
		}
		return c.transfer(ctx, cl, dataURL, auth)

	case cl.method == http.MethodGet && resp.StatusCode == http.StatusOK:
		// Gateways may proxy OPEN data without redirecting.
		return c.finish(cl, resp)

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		drain(resp)
		return nil, protocolError(cl.op, cl.path, nil, "expected redirect, got HTTP %d", resp.StatusCode)

	default:
		return c.finish(cl, resp)
	}
}

// transfer runs phase 2 of a redirected call against the data node.
func (c *Client) transfer(ctx context.Context, cl *call, dataURL *url.URL, auth Authenticator) ([]byte, error) {
	resp, err := c.send(ctx, c.dataClient, cl.method, dataURL, cl.body, auth)
	if err != nil {
		if cl.op == opAppend && len(cl.body) > 0 {
			// The body may have reached the datanode before the connection dropped.
			return nil, &metadata.FSError{
				Code:    metadata.ErrTransientNetwork,
				Op:      cl.op,
				Path:    string(cl.path),
				Message: "data transfer interrupted",
				Err:     fmt.Errorf("%w: %w", ErrOutcomeUnknown, err),
			}
		}
		return nil, networkError(cl.op, cl.path, err)
	}

	data, err := c.finish(cl, resp)
	if err == nil {
		switch cl.method {
		case http.MethodGet:
			c.metrics.RecordBytesTransferred("read", int64(len(data)))
		default:
			c.metrics.RecordBytesTransferred("write", int64(len(cl.body)))
		}
	}
	return data, err
}

// finish reads a final response and maps error statuses.
func (c *Client) finish(cl *call, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if success && cl.limit > 0 {
		reader = io.LimitReader(resp.Body, cl.limit)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		if success && cl.op == opAppend {
			// The server already answered; the append is applied.
			return nil, nil
		}
		return nil, networkError(cl.op, cl.path, fmt.Errorf("read response: %w", err))
	}

	if !success {
		if isRedirect(resp.StatusCode) {
			return nil, protocolError(cl.op, cl.path, nil, "unexpected redirect to %q", resp.Header.Get("Location"))
		}
		return nil, mapError(cl.op, cl.path, resp.StatusCode, data)
	}
	if cl.expect != 0 && resp.StatusCode != cl.expect {
		return nil, protocolError(cl.op, cl.path, nil, "expected HTTP %d, got %d", cl.expect, resp.StatusCode)
	}
	return data, nil
}

func (c *Client) send(ctx context.Context, hc *http.Client, method string, target *url.URL, body []byte, auth Authenticator) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	auth.Apply(req)

	return hc.Do(req)
}

// opURL builds the namenode URL for a call.
func (c *Client) opURL(cl *call) *url.URL {
	u := *c.base
	u.Path = c.base.Path + string(cl.path)
	if cl.path == metadata.RootPath {
		u.Path = c.base.Path + "/"
	}

	q := url.Values{}
	for k, v := range cl.params {
		q[k] = v
	}
	q.Set("op", cl.op)
	u.RawQuery = q.Encode()
	return &u
}

func isRedirect(status int) bool {
	return status == http.StatusTemporaryRedirect ||
		status == http.StatusFound ||
		status == http.StatusSeeOther ||
		status == http.StatusPermanentRedirect
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
