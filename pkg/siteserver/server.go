package siteserver

import (
	"net/http"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/transport"
)

// NewServer wires an Executor's client-facing and peer-facing RPCs onto
// a single transport.Server; both surfaces share one listen address, the
// way the original source's SiteManagerService exposes them on one
// gRPC service.
func NewServer(e *Executor, addr string) *transport.Server {
	s := transport.NewServer(addr, "site")

	transport.Handle(s, "register-client", func(r *http.Request, req *protocol.RegisterClientRequest) (*protocol.RegisterClientResponse, int) {
		return e.RegisterClient(r.Context(), req), http.StatusOK
	})
	transport.Handle(s, "begin-transaction", func(r *http.Request, req *protocol.BeginTransactionRequest) (*protocol.BeginTransactionResponse, int) {
		return e.BeginTransaction(r.Context(), req), http.StatusOK
	})
	transport.Handle(s, "invoke-query", func(r *http.Request, req *protocol.InvokeQueryRequest) (*protocol.InvokeQueryResponse, int) {
		return e.InvokeQuery(r.Context(), req), http.StatusOK
	})
	transport.Handle(s, "finalize-transaction", func(r *http.Request, req *protocol.ExecutorFinalizeTransactionRequest) (*protocol.ExecutorFinalizeTransactionResponse, int) {
		return e.FinalizeTransaction(r.Context(), req), http.StatusOK
	})

	transport.Handle(s, "prepare-replication", func(r *http.Request, req *protocol.PrepareReplicationRequest) (*protocol.PrepareReplicationResponse, int) {
		return e.PrepareReplication(r.Context(), req), http.StatusOK
	})
	transport.Handle(s, "finalize-replication", func(r *http.Request, req *protocol.FinalizeReplicationRequest) (*protocol.FinalizeReplicationResponse, int) {
		return e.FinalizeReplication(r.Context(), req), http.StatusOK
	})

	return s
}
