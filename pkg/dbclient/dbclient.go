// Package dbclient is a high-level client library for talking to one
// site's executor: register once, then run transactions against it.
// cmd/client is a thin CLI shell over this package.
package dbclient

import (
	"context"
	"fmt"
	"time"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/siteclient"
)

// Session is a connection to one site, with at most one in-flight
// transaction, matching spec.md §3's "a client may have at most one
// in-flight transaction at a time."
type Session struct {
	site          *siteclient.Client
	clientID      uint32
	transactionID *uint64
}

// Connect registers a new client with the site at addr.
func Connect(ctx context.Context, addr string, timeout time.Duration) (*Session, error) {
	site := siteclient.New(addr, timeout)
	resp, err := site.RegisterClient(ctx, &protocol.RegisterClientRequest{})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if resp.Ret != protocol.ReturnStatusOk {
		return nil, resp.Error
	}
	return &Session{site: site, clientID: resp.ClientID}, nil
}

// Begin opens a transaction, failing if one is already open.
func (s *Session) Begin(ctx context.Context, name *string) error {
	if s.transactionID != nil {
		return fmt.Errorf("a transaction is already open")
	}

	resp, err := s.site.BeginTransaction(ctx, &protocol.BeginTransactionRequest{ClientID: s.clientID, Name: name})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if resp.Ret != protocol.ReturnStatusOk {
		return resp.Error
	}
	id := resp.TransactionID
	s.transactionID = &id
	return nil
}

// QueryResult is the decoded outcome of Exec/Query: either rows or an
// affected-row count.
type QueryResult struct {
	Columns         []string
	Rows            []map[string]any
	AffectedRecords *int64
}

// Exec runs query against the open transaction, requesting a Shared
// lock per readSet entry not also in writeSet and an Exclusive lock per
// writeSet entry.
func (s *Session) Exec(ctx context.Context, query string, readSet, writeSet []string, hasResults bool) (*QueryResult, error) {
	if s.transactionID == nil {
		return s.execSingleStatement(ctx, query, readSet, writeSet, hasResults)
	}

	resp, err := s.site.InvokeQuery(ctx, &protocol.InvokeQueryRequest{
		ClientID:      s.clientID,
		TransactionID: *s.transactionID,
		Query:         query,
		ReadSet:       readSet,
		WriteSet:      writeSet,
		HasResults:    hasResults,
	})
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	if resp.Ret != protocol.ReturnStatusOk {
		return nil, resp.Error
	}
	return decodeQueryResponse(resp), nil
}

func (s *Session) execSingleStatement(ctx context.Context, query string, readSet, writeSet []string, hasResults bool) (*QueryResult, error) {
	resp, err := s.site.InvokeQuery(ctx, &protocol.InvokeQueryRequest{
		ClientID:              s.clientID,
		Query:                 query,
		ReadSet:               readSet,
		WriteSet:              writeSet,
		HasResults:            hasResults,
		SingleStmtTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	if resp.Ret != protocol.ReturnStatusOk {
		return nil, resp.Error
	}
	return decodeQueryResponse(resp), nil
}

func decodeQueryResponse(resp *protocol.InvokeQueryResponse) *QueryResult {
	out := &QueryResult{AffectedRecords: resp.AffectedRecords}
	if resp.Data != nil {
		out.Columns = resp.Data.ColumnNames
		out.Rows = resp.Data.Rows
	}
	return out
}

// Finalize commits or aborts the open transaction.
func (s *Session) Finalize(ctx context.Context, mode protocol.FinalizeMode) error {
	if s.transactionID == nil {
		return fmt.Errorf("no transaction is open")
	}

	resp, err := s.site.FinalizeTransaction(ctx, &protocol.ExecutorFinalizeTransactionRequest{
		ClientID:      s.clientID,
		TransactionID: *s.transactionID,
		Mode:          mode,
	})
	s.transactionID = nil
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if resp.Ret != protocol.ReturnStatusOk {
		return resp.Error
	}
	return nil
}

// Commit is a convenience wrapper for Finalize(Commit).
func (s *Session) Commit(ctx context.Context) error { return s.Finalize(ctx, protocol.FinalizeModeCommit) }

// Abort is a convenience wrapper for Finalize(Abort).
func (s *Session) Abort(ctx context.Context) error { return s.Finalize(ctx, protocol.FinalizeModeAbort) }

// InTransaction reports whether a transaction is currently open.
func (s *Session) InTransaction() bool { return s.transactionID != nil }
