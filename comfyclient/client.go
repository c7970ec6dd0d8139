// Package comfyclient talks to a running ComfyUI server: it fetches the
// object-info table, submits execution graphs, waits for them over the
// WebSocket status stream, and retrieves their outputs.
package comfyclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/petal-labs/promptc/objectinfo"
)

// DefaultHost is the address a local server listens on.
const DefaultHost = "127.0.0.1:8188"

// ErrNotFound is returned when the server has no record of a prompt.
var ErrNotFound = errors.New("comfyclient: not found")

// Client is a ComfyUI HTTP and WebSocket client. It is safe for concurrent
// use. Every client has its own client id, which the server uses to route
// status messages.
type Client struct {
	base     *url.URL
	token    string
	clientID string
	http     *http.Client
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the auth token sent as the token query parameter.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClientID overrides the generated client id.
func WithClientID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.clientID = id
		}
	}
}

// New creates a client for host, given as "host:port" or as an http(s) URL.
func New(host string, opts ...Option) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	base, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("comfyclient: parse host: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("comfyclient: unsupported scheme %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("comfyclient: host is empty")
	}

	c := &Client{
		base:     base,
		clientID: uuid.NewString(),
		http:     &http.Client{Timeout: 60 * time.Second},
		dialer:   websocket.DefaultDialer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Host returns the server address, used as the schema cache key.
func (c *Client) Host() string { return c.base.Host }

// ClientID returns the id this client registers its WebSocket under.
func (c *Client) ClientID() string { return c.clientID }

// ObjectInfo fetches the raw object-info table.
func (c *Client) ObjectInfo(ctx context.Context) ([]byte, error) {
	start := time.Now()
	body, err := c.get(ctx, "/object_info", nil)
	if err != nil {
		return nil, fmt.Errorf("comfyclient: object info: %w", err)
	}
	c.logger.Debug("object info fetched", "host", c.Host(), "bytes", len(body), "elapsed", time.Since(start).String())
	return body, nil
}

// SchemaProvider returns a provider that caches this server's object-info
// table in store, keyed by host.
func (c *Client) SchemaProvider(store objectinfo.Store, ttl time.Duration) *objectinfo.CachingProvider {
	return &objectinfo.CachingProvider{
		Key:    c.Host(),
		Load:   c.ObjectInfo,
		Store:  store,
		TTL:    ttl,
		Logger: c.logger,
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if query == nil {
		query = url.Values{}
	}
	if c.token != "" {
		query.Set("token", c.token)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, newServerError(resp.StatusCode, body)
	}
	return body, nil
}

// ServerError is an error response from the server. Prompt rejections carry
// the per-node validation errors.
type ServerError struct {
	Status     int                  `json:"-"`
	Type       string               `json:"type"`
	Message    string               `json:"message"`
	Details    string               `json:"details,omitempty"`
	NodeErrors map[string]NodeError `json:"node_errors,omitempty"`
}

// NodeError lists the validation errors of one submitted node.
type NodeError struct {
	ClassType string       `json:"class_type"`
	Errors    []ErrorEntry `json:"errors"`
}

// ErrorEntry is one validation error.
type ErrorEntry struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *ServerError) Error() string {
	var b strings.Builder
	b.WriteString("comfyui: ")
	if e.Status != 0 {
		fmt.Fprintf(&b, "status %d: ", e.Status)
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Type != "":
		b.WriteString(e.Type)
	default:
		b.WriteString(http.StatusText(e.Status))
	}
	if len(e.NodeErrors) > 0 {
		fmt.Fprintf(&b, " (%d node errors)", len(e.NodeErrors))
	}
	return b.String()
}

// errorBody is the server's error payload.
type errorBody struct {
	Error      json.RawMessage      `json:"error"`
	NodeErrors map[string]NodeError `json:"node_errors"`
}

func newServerError(status int, body []byte) *ServerError {
	se := &ServerError{Status: status}
	var eb errorBody
	if err := sonic.Unmarshal(body, &eb); err != nil {
		se.Message = truncate(strings.TrimSpace(string(body)), 500)
		return se
	}
	se.NodeErrors = eb.NodeErrors
	if len(eb.Error) == 0 {
		return se
	}
	// The error field is an object on prompt rejection, a string elsewhere.
	var msg string
	if err := sonic.Unmarshal(eb.Error, &msg); err == nil {
		se.Message = msg
		return se
	}
	var detail struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	}
	if err := sonic.Unmarshal(eb.Error, &detail); err == nil {
		se.Type, se.Message, se.Details = detail.Type, detail.Message, detail.Details
	}
	return se
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
