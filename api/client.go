// Package api holds the typed HTTP client for the backend's REST resources.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/internal/logging"
)

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// TokenSource returns the bearer token for a request. An empty token sends
// no Authorization header.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource authenticates requests with a bearer token.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.token = ts }
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithLogger sets the client logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client issues JSON requests against the backend. It holds no state
// besides its configuration and is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	token   TokenSource
	headers http.Header
	logger  logging.Logger
}

// New builds a Client rooted at baseURL, e.g. "https://api.example.com/v1".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api: invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: base url %q must be absolute", baseURL)
	}

	c := &Client{
		base:    u,
		http:    &http.Client{Timeout: 30 * time.Second},
		headers: make(http.Header),
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the root every path is resolved against.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Do sends one request. body, when non-nil, is encoded as JSON. A 2xx
// response is decoded into out unless out is nil or the response is empty.
// Other statuses return a *goerrors.Error built from the JSON error body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqID := uuid.NewString()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "encode request body")
		}
		payload = bytes.NewReader(raw)
	}

	target := c.base.JoinPath(strings.Split(strings.Trim(path, "/"), "/")...)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), payload)
	if err != nil {
		return err
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryAuth, "resolve access token")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn("request failed", "method", method, "path", path, "request_id", reqID, "err", err)
		return goerrors.Wrap(err, goerrors.CategoryExternal, method+" "+path+" failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "read response body")
	}

	c.logger.Debug("request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw, reqID)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "decode response body").
			WithCode(resp.StatusCode).
			WithTextCode(CodeDecodeFailed)
	}
	return nil
}
