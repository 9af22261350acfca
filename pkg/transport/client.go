// Package transport implements the HTTP/JSON request-response RPC
// transport shared by the client-executor, executor-controller, and
// executor-peer surfaces.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client posts JSON request bodies to a fixed base address and decodes
// JSON response bodies, retrying transient (5xx or network) failures.
type Client struct {
	base       string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewClient returns a Client that talks to baseAddr (host:port, no
// scheme) with the given per-request timeout.
func NewClient(baseAddr string, timeout time.Duration) *Client {
	return &Client{
		base:   baseAddr,
		client: &http.Client{Timeout: timeout},
	}
}

// WithRetry configures retry attempts for transient failures. Retries
// are disabled by default.
func (c *Client) WithRetry(maxRetries int, retryDelay time.Duration) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if retryDelay < 0 {
		retryDelay = 0
	}
	c.maxRetries = maxRetries
	c.retryDelay = retryDelay
	return c
}

// Call posts req as JSON to path and decodes the JSON response into a
// freshly allocated Resp.
func Call[Resp any](ctx context.Context, c *Client, path string, req any) (*Resp, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithRetry(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Resp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doWithRetry(ctx context.Context, path string, body []byte) (*http.Response, error) {
	url := fmt.Sprintf("http://%s/%s", c.base, path)
	attempts := c.maxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("transient status: %d", resp.StatusCode)
			if resp.Body != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}

		if attempt == attempts-1 {
			break
		}
		if c.retryDelay > 0 {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, lastErr
}

// Health fetches /health from the client's base address.
func (c *Client) Health(ctx context.Context) (*HealthResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/health", c.base), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}

	var health HealthResult
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}

// HealthResult mirrors protocol.HealthResponse without importing it, so
// that transport has no dependency on the wire-message package.
type HealthResult struct {
	Status  string `json:"status"`
	Address string `json:"address"`
	Role    string `json:"role"`
}
