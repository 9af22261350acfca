// Package siteclient is the typed HTTP client used to reach a site
// executor's two RPC surfaces: the peer-replication surface (used by the
// controller when fanning out a commit) and the client-facing surface
// (used by cmd/client and pkg/dbclient).
package siteclient

import (
	"context"
	"time"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/transport"
)

// Client talks to one site's HTTP RPC surface.
type Client struct {
	transport *transport.Client
}

// New returns a Client bound to addr (host:port).
func New(addr string, timeout time.Duration) *Client {
	return &Client{transport: transport.NewClient(addr, timeout).WithRetry(2, 100*time.Millisecond)}
}

// --- peer (replication) surface ----------------------------------------

func (c *Client) PrepareReplication(ctx context.Context, req *protocol.PrepareReplicationRequest) (*protocol.PrepareReplicationResponse, error) {
	return transport.Call[protocol.PrepareReplicationResponse](ctx, c.transport, "prepare-replication", req)
}

func (c *Client) FinalizeReplication(ctx context.Context, req *protocol.FinalizeReplicationRequest) (*protocol.FinalizeReplicationResponse, error) {
	return transport.Call[protocol.FinalizeReplicationResponse](ctx, c.transport, "finalize-replication", req)
}

// --- client-facing surface ----------------------------------------------

func (c *Client) RegisterClient(ctx context.Context, req *protocol.RegisterClientRequest) (*protocol.RegisterClientResponse, error) {
	return transport.Call[protocol.RegisterClientResponse](ctx, c.transport, "register-client", req)
}

func (c *Client) BeginTransaction(ctx context.Context, req *protocol.BeginTransactionRequest) (*protocol.BeginTransactionResponse, error) {
	return transport.Call[protocol.BeginTransactionResponse](ctx, c.transport, "begin-transaction", req)
}

func (c *Client) InvokeQuery(ctx context.Context, req *protocol.InvokeQueryRequest) (*protocol.InvokeQueryResponse, error) {
	return transport.Call[protocol.InvokeQueryResponse](ctx, c.transport, "invoke-query", req)
}

func (c *Client) FinalizeTransaction(ctx context.Context, req *protocol.ExecutorFinalizeTransactionRequest) (*protocol.ExecutorFinalizeTransactionResponse, error) {
	return transport.Call[protocol.ExecutorFinalizeTransactionResponse](ctx, c.transport, "finalize-transaction", req)
}

// Health checks the site's /health route.
func (c *Client) Health(ctx context.Context) (*transport.HealthResult, error) {
	return c.transport.Health(ctx)
}
