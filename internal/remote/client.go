// Package remote sends requests to the clustered document-processing service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Header names understood by the remote service.
const (
	HeaderAPIKey        = "Acs-Api-Key"
	HeaderAffinityToken = "Accusoft-Affinity-Token"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Request describes one call to the remote service.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// AffinityToken routes the request to the node that holds the referenced blobs.
	AffinityToken string
	ContentType   string
	Body          io.Reader
}

// Client is the HTTP transport shared by sessions, submitters and pollers.
// It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key on every request. The key is passed through untouched.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout of the default *http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client = &http.Client{Timeout: d} }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Logger returns the client's logger so collaborators log through one sink.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Do sends req and reads the whole response body.
// Transport failures are returned unmodified; the status code is not interpreted.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, req.Body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, req)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "remote request",
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"affinity_token", req.AffinityToken,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Get issues a GET routed by affinityToken.
func (c *Client) Get(ctx context.Context, path, affinityToken string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, AffinityToken: affinityToken})
}

// PostJSON encodes v as the request body and issues a POST routed by affinityToken.
func (c *Client) PostJSON(ctx context.Context, path, affinityToken string, v any) (*Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return c.Do(ctx, Request{
		Method:        http.MethodPost,
		Path:          path,
		AffinityToken: affinityToken,
		ContentType:   "application/json",
		Body:          bytes.NewReader(b),
	})
}

func (c *Client) setHeaders(httpReq *http.Request, req Request) {
	if c.apiKey != "" {
		httpReq.Header.Set(HeaderAPIKey, c.apiKey)
	}
	if req.AffinityToken != "" {
		httpReq.Header.Set(HeaderAffinityToken, req.AffinityToken)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")
}
