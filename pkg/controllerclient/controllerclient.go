// Package controllerclient is the typed HTTP client a site executor uses
// to reach the concurrency controller, grounded on the teacher's
// retrying HTTPClient and the original source's CentralClient.
package controllerclient

import (
	"context"
	"time"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/transport"
)

// Client talks to the concurrency controller's HTTP RPC surface.
type Client struct {
	transport *transport.Client
}

// New returns a Client bound to addr (host:port).
func New(addr string, timeout time.Duration) *Client {
	return &Client{transport: transport.NewClient(addr, timeout).WithRetry(2, 100*time.Millisecond)}
}

func (c *Client) RegisterSite(ctx context.Context, req *protocol.RegisterSiteRequest) (*protocol.RegisterSiteResponse, error) {
	return transport.Call[protocol.RegisterSiteResponse](ctx, c.transport, "register-site", req)
}

func (c *Client) RegisterTransaction(ctx context.Context, req *protocol.RegisterTransactionRequest) (*protocol.RegisterTransactionResponse, error) {
	return transport.Call[protocol.RegisterTransactionResponse](ctx, c.transport, "register-transaction", req)
}

func (c *Client) AcquireLock(ctx context.Context, req *protocol.AcquireLockRequest) (*protocol.AcquireLockResponse, error) {
	return transport.Call[protocol.AcquireLockResponse](ctx, c.transport, "acquire-lock", req)
}

func (c *Client) ReleaseLock(ctx context.Context, req *protocol.ReleaseLockRequest) (*protocol.ReleaseLockResponse, error) {
	return transport.Call[protocol.ReleaseLockResponse](ctx, c.transport, "release-lock", req)
}

func (c *Client) FinalizeTransaction(ctx context.Context, req *protocol.FinalizeTransactionRequest) (*protocol.FinalizeTransactionResponse, error) {
	return transport.Call[protocol.FinalizeTransactionResponse](ctx, c.transport, "finalize-transaction", req)
}

// Health checks the controller's /health route.
func (c *Client) Health(ctx context.Context) (*transport.HealthResult, error) {
	return c.transport.Health(ctx)
}
