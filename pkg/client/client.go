// Package client provides the HTTP client for the storage backend REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fruitsalade/stash/pkg/protocol"
	"github.com/fruitsalade/stash/pkg/retry"
)

// Client is a bearer-token authenticated client for the storage backend.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu             sync.RWMutex
	authToken      string
	onUnauthorized func()
}

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	AuthToken string

	// RetryConfig applies to GET requests only; mutations are sent once.
	// The zero value performs a single attempt.
	RetryConfig retry.Config

	// Transport overrides the default transport, e.g. to add logging or metrics.
	Transport http.RoundTripper
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.Once()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = DefaultTransport()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		retryConfig: cfg.RetryConfig,
		authToken:   cfg.AuthToken,
	}
}

// DefaultTransport returns the transport used when Config.Transport is nil.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetAuthToken sets the bearer token for requests. An empty token disables auth.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

// AuthToken returns the current bearer token.
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// OnUnauthorized registers fn to be called when an authenticated request
// is answered with 401. It runs synchronously before the error is returned.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// applyAuth adds the auth header to a request if a token is set.
func (c *Client) applyAuth(req *http.Request) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken == "" {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	return true
}

func (c *Client) handleUnauthorized() {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// send executes req and converts transport failures and non-2xx replies
// into *NetworkError and *StatusError. On success the caller owns the body.
func (c *Client) send(req *http.Request, authenticated bool) (*http.Response, error) {
	if authenticated {
		authenticated = c.applyAuth(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}
	defer resp.Body.Close()

	statusErr := &StatusError{
		Method: req.Method,
		Path:   req.URL.Path,
		Code:   resp.StatusCode,
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp protocol.ErrorResponse
	if json.Unmarshal(data, &errResp) == nil {
		statusErr.Message = string(errResp.Message)
		if statusErr.Message == "" {
			statusErr.Message = errResp.Error
		}
	}

	if resp.StatusCode == http.StatusUnauthorized && authenticated {
		c.handleUnauthorized()
	}
	return nil, statusErr
}

// doJSON sends in as a JSON body (when non-nil) and decodes the reply into
// out (when non-nil). GET requests follow the configured retry policy.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, authenticated bool) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	attempt := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.send(req, authenticated)
		if err != nil {
			if method == http.MethodGet && isTransient(err) {
				return retry.Retryable(err)
			}
			return err
		}
		defer resp.Body.Close()

		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil
	}

	if method == http.MethodGet {
		return retry.Do(ctx, c.retryConfig, attempt)
	}
	return attempt()
}
