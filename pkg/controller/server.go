package controller

import (
	"net/http"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/transport"
)

// NewServer wires the Controller's operations onto a transport.Server
// under the route names the controller surface's RPCs are named after.
func NewServer(c *Controller, addr string) *transport.Server {
	s := transport.NewServer(addr, "controller")

	transport.Handle(s, "register-site", func(r *http.Request, req *protocol.RegisterSiteRequest) (*protocol.RegisterSiteResponse, int) {
		return c.RegisterSite(r.Context(), req), http.StatusOK
	})
	transport.Handle(s, "register-transaction", func(r *http.Request, req *protocol.RegisterTransactionRequest) (*protocol.RegisterTransactionResponse, int) {
		return c.RegisterTransaction(r.Context(), req), http.StatusOK
	})
	transport.Handle(s, "acquire-lock", func(r *http.Request, req *protocol.AcquireLockRequest) (*protocol.AcquireLockResponse, int) {
		return c.AcquireLock(r.Context(), req), http.StatusOK
	})
	transport.Handle(s, "release-lock", func(r *http.Request, req *protocol.ReleaseLockRequest) (*protocol.ReleaseLockResponse, int) {
		return c.ReleaseLock(r.Context(), req), http.StatusOK
	})
	transport.Handle(s, "finalize-transaction", func(r *http.Request, req *protocol.FinalizeTransactionRequest) (*protocol.FinalizeTransactionResponse, int) {
		return c.FinalizeTransaction(r.Context(), req), http.StatusOK
	})

	return s
}
