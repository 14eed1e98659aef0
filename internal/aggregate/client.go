package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-gateway/internal/proxy"
)

// maxBodyBytes caps a single source response.
const maxBodyBytes = 4 << 20

// Config holds the backend client configuration.
type Config struct {
	Timeout    time.Duration // Request timeout (default: 30s)
	HTTPClient *http.Client  // Custom HTTP client (optional)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Client fetches JSON documents from backend services.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new Client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Client{httpClient: httpClient}
}

// GetJSON issues a GET for the escaped path below base and returns the body,
// which must be valid JSON. Non-2xx answers are errors.
func (c *Client) GetJSON(ctx context.Context, base *url.URL, path string, header http.Header) (json.RawMessage, error) {
	u := *base
	u.RawPath = strings.TrimRight(base.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	p, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	u.Path = p

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", proxy.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", proxy.ErrUpstreamUnavailable, u.Host, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s answered %d", proxy.ErrUpstreamUnavailable, u.Host, resp.StatusCode)
	}
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s returned invalid json", proxy.ErrUpstreamUnavailable, u.Host)
	}
	return json.RawMessage(body), nil
}
