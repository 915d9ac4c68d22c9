// Package remote reaches a statesync server over its REST surface. A
// Backend built here lets a client-tier manager use the server as its
// authoritative store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"statesync/internal/endpoint"
	"statesync/internal/identity"
	"statesync/internal/state"
)

// DefaultTimeout bounds a single request when no HTTP client is supplied.
const DefaultTimeout = 30 * time.Second

// TransportError is a failure to reach the server or a server-side error.
// It matches state.ErrTransport with errors.Is.
type TransportError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Message)
	default:
		return fmt.Sprintf("%s: server returned %d", e.Op, e.Status)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == state.ErrTransport }

// Client holds the connection settings shared by every Backend of one server.
// Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	header     string
	userID     string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserID sets the identity sent with every request.
func WithUserID(id string) Option {
	return func(c *Client) { c.userID = id }
}

// WithIdentityHeader sets the header carrying the identity.
func WithIdentityHeader(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.header = name
		}
	}
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:8080", without a trailing slash or API path.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		header:     identity.DefaultHeader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Health reports whether the server answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, "health", http.MethodGet, "/api/health", nil, nil)
}

// Types lists the entity types the server exposes.
func (c *Client) Types(ctx context.Context) ([]endpoint.TypeInfo, error) {
	var types []endpoint.TypeInfo
	if err := c.call(ctx, "types", http.MethodGet, "/api/state", nil, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// call performs a request and decodes a JSON response into target.
func (c *Client) call(ctx context.Context, op, method, path string, body, target any) error {
	_, err := c.exchange(ctx, op, method, path, body, target)
	return err
}

// exchange is call that also returns the response status. A 204 leaves
// target untouched.
func (c *Client) exchange(ctx context.Context, op, method, path string, body, target any) (int, error) {
	resp, err := c.do(ctx, op, method, path, body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, c.statusError(op, resp)
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return resp.StatusCode, &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return resp.StatusCode, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to marshal request body: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(c.header, c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return resp, nil
}

func (c *Client) statusError(op string, resp *http.Response) error {
	msg := readMessage(resp.Body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s: %s: %w", op, msg, state.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %s: %w", op, msg, state.ErrConflict)
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %s: %w", op, msg, identity.ErrMissingIdentity)
	default:
		return &TransportError{Op: op, Status: resp.StatusCode, Message: msg}
	}
}

// readMessage extracts the error field of a JSON error body, falling back
// to the raw body text.
func readMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, state.ErrTransport)
}
