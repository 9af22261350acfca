// Package siteserver implements the per-site Local Executor: it mediates
// between a client, the concurrency controller, the local embedded SQL
// engine, and commit-time replication.
package siteserver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kavindu-dev/distribtx/pkg/controllerclient"
	"github.com/kavindu-dev/distribtx/pkg/history"
	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/sqlengine"
)

// DefaultLockWaitTimeout is used when New is given a zero or negative
// lockWaitTimeout, matching config.DefaultSiteConfig's 30s default.
const DefaultLockWaitTimeout = 30 * time.Second

// Executor is one site's Local Executor.
type Executor struct {
	siteID          uint32
	engine          *sqlengine.Engine
	controller      *controllerclient.Client
	historyLogger   history.Logger
	clients         *clientRegistry
	txs             *txTable
	pending         *pendingReplications
	metrics         *metrics
	log             *zap.Logger
	lockWaitTimeout time.Duration
}

// New returns an Executor for siteID, backed by engine and talking to
// the controller via controllerClient. lockWaitTimeout bounds how long
// an AcquireLock RPC to the controller is allowed to take before the
// executor gives up and aborts the transaction locally.
func New(siteID uint32, engine *sqlengine.Engine, controllerClient *controllerclient.Client, logger history.Logger, log *zap.Logger, reg prometheus.Registerer, lockWaitTimeout time.Duration) *Executor {
	if lockWaitTimeout <= 0 {
		lockWaitTimeout = DefaultLockWaitTimeout
	}
	return &Executor{
		siteID:          siteID,
		engine:          engine,
		controller:      controllerClient,
		historyLogger:   logger,
		clients:         newClientRegistry(),
		txs:             newTxTable(),
		pending:         newPendingReplications(),
		metrics:         newMetrics(reg),
		log:             log,
		lockWaitTimeout: lockWaitTimeout,
	}
}

// SiteID returns the id this executor registered as with the controller.
func (e *Executor) SiteID() uint32 { return e.siteID }

// RegisterClient allocates a fresh client id. No controller interaction.
func (e *Executor) RegisterClient(ctx context.Context, req *protocol.RegisterClientRequest) *protocol.RegisterClientResponse {
	id := e.clients.register()
	e.log.Info("registered client", zap.Uint32("client_id", id))
	return &protocol.RegisterClientResponse{Ret: protocol.ReturnStatusOk, ClientID: id}
}

// BeginTransaction opens a local SQL transaction and registers it with
// the controller. On controller failure the local transaction is rolled
// back.
func (e *Executor) BeginTransaction(ctx context.Context, req *protocol.BeginTransactionRequest) *protocol.BeginTransactionResponse {
	tx, err := e.engine.Begin(ctx)
	if err != nil {
		return &protocol.BeginTransactionResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrSqlExecutionError, err)}
	}

	regResp, err := e.controller.RegisterTransaction(ctx, &protocol.RegisterTransactionRequest{SiteID: e.siteID, Name: req.Name})
	if err != nil {
		_ = tx.Rollback()
		return &protocol.BeginTransactionResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrControllerUnavailable, err)}
	}
	if regResp.Ret != protocol.ReturnStatusOk {
		_ = tx.Rollback()
		return &protocol.BeginTransactionResponse{Ret: protocol.ReturnStatusError, Error: regResp.Error}
	}

	e.txs.put(&localTx{clientID: req.ClientID, transactionID: regResp.TransactionID, tx: tx})
	e.metrics.inFlight.Inc()

	_ = e.historyLogger.Log(req.ClientID, e.siteID, regResp.TransactionID, "begin", "")
	e.log.Info("began transaction", zap.Uint64("transaction_id", regResp.TransactionID), zap.Uint32("client_id", req.ClientID))

	return &protocol.BeginTransactionResponse{Ret: protocol.ReturnStatusOk, TransactionID: regResp.TransactionID}
}

// InvokeQuery acquires the batch of locks implied by read_set/write_set,
// executes the statement locally, and appends it to the update history
// if it was a mutation.
func (e *Executor) InvokeQuery(ctx context.Context, req *protocol.InvokeQueryRequest) *protocol.InvokeQueryResponse {
	if req.SingleStmtTransaction {
		return e.invokeSingleStatement(ctx, req)
	}

	lt, err := e.txs.get(req.TransactionID)
	if err != nil {
		return &protocol.InvokeQueryResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrInvalidArgument, err)}
	}

	if resp := e.acquireLocksFor(ctx, req.TransactionID, req.ReadSet, req.WriteSet); resp != nil {
		return resp
	}

	result, err := lt.tx.Exec(ctx, req.Query, req.HasResults)
	if err != nil {
		e.metrics.sqlErrors.Inc()
		return &protocol.InvokeQueryResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrSqlExecutionError, err)}
	}

	if len(req.WriteSet) > 0 {
		_ = e.txs.appendStatement(req.TransactionID, req.Query)
	}

	_ = e.historyLogger.Log(req.ClientID, e.siteID, req.TransactionID, "query", queryDetail(req.ReadSet, req.WriteSet))

	return queryResultToResponse(result)
}

func (e *Executor) invokeSingleStatement(ctx context.Context, req *protocol.InvokeQueryRequest) *protocol.InvokeQueryResponse {
	begin := e.BeginTransaction(ctx, &protocol.BeginTransactionRequest{ClientID: req.ClientID})
	if begin.Ret != protocol.ReturnStatusOk {
		return &protocol.InvokeQueryResponse{Ret: protocol.ReturnStatusError, Error: begin.Error}
	}

	inner := *req
	inner.TransactionID = begin.TransactionID
	inner.SingleStmtTransaction = false
	resp := e.InvokeQuery(ctx, &inner)

	mode := protocol.FinalizeModeCommit
	if resp.Ret != protocol.ReturnStatusOk {
		mode = protocol.FinalizeModeAbort
	}
	finalize := e.FinalizeTransaction(ctx, &protocol.ExecutorFinalizeTransactionRequest{
		ClientID:      req.ClientID,
		TransactionID: begin.TransactionID,
		Mode:          mode,
	})
	if resp.Ret == protocol.ReturnStatusOk && finalize.Ret != protocol.ReturnStatusOk {
		return &protocol.InvokeQueryResponse{Ret: protocol.ReturnStatusError, Error: finalize.Error}
	}
	return resp
}

// acquireLocksFor batches one Shared lock per read_set∖write_set entry
// and one Exclusive lock per write_set entry into a single AcquireLock
// call, as the preserve-atomic-acquisition rule requires.
func (e *Executor) acquireLocksFor(ctx context.Context, transactionID uint64, readSet, writeSet []string) *protocol.InvokeQueryResponse {
	if len(readSet) == 0 && len(writeSet) == 0 {
		return nil
	}

	writeTables := make(map[string]struct{}, len(writeSet))
	for _, t := range writeSet {
		writeTables[t] = struct{}{}
	}

	var requests []protocol.LockRequest
	for _, t := range readSet {
		if _, isWrite := writeTables[t]; isWrite {
			continue
		}
		requests = append(requests, protocol.LockRequest{RecordName: t, Mode: protocol.LockModeShared})
	}
	for t := range writeTables {
		requests = append(requests, protocol.LockRequest{RecordName: t, Mode: protocol.LockModeExclusive})
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].RecordName < requests[j].RecordName })

	waitCtx, cancel := context.WithTimeout(ctx, e.lockWaitTimeout)
	defer cancel()

	resp, err := e.controller.AcquireLock(waitCtx, &protocol.AcquireLockRequest{
		SiteID:        e.siteID,
		TransactionID: transactionID,
		LockRequests:  requests,
	})
	if err != nil {
		return &protocol.InvokeQueryResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrControllerUnavailable, err)}
	}
	if resp.Ret != protocol.ReturnStatusOk {
		switch {
		case protocol.IsKind(resp.Error, protocol.ErrAbortedByDeadlock):
			e.abortLocalOnly(transactionID)
			e.metrics.deadlocked.Inc()
		case protocol.IsKind(resp.Error, protocol.ErrLockTimeout):
			e.abortLocalOnly(transactionID)
			e.metrics.lockTimeouts.Inc()
		}
		return &protocol.InvokeQueryResponse{Ret: protocol.ReturnStatusError, Error: resp.Error}
	}
	return nil
}

// abortLocalOnly rolls back and drops local bookkeeping for a
// transaction the controller has already aborted (and therefore already
// released locks for) on its own.
func (e *Executor) abortLocalOnly(transactionID uint64) {
	lt, err := e.txs.get(transactionID)
	if err != nil {
		return
	}
	_ = lt.tx.Rollback()
	e.txs.remove(transactionID)
	e.metrics.inFlight.Dec()
}

// FinalizeTransaction commits or aborts a transaction. On commit, the
// controller performs replication fan-out and only signals success once
// every peer has finalized; only then does the executor commit its own
// local transaction.
func (e *Executor) FinalizeTransaction(ctx context.Context, req *protocol.ExecutorFinalizeTransactionRequest) *protocol.ExecutorFinalizeTransactionResponse {
	lt, err := e.txs.get(req.TransactionID)
	if err != nil {
		return &protocol.ExecutorFinalizeTransactionResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrInvalidArgument, err)}
	}

	if req.Mode == protocol.FinalizeModeAbort {
		_ = lt.tx.Rollback()
		e.txs.remove(req.TransactionID)
		e.metrics.inFlight.Dec()
		e.metrics.aborted.Inc()

		_, _ = e.controller.FinalizeTransaction(ctx, &protocol.FinalizeTransactionRequest{
			SiteID:        e.siteID,
			TransactionID: req.TransactionID,
			FinalizeMode:  protocol.FinalizeModeAbort,
		})
		_ = e.historyLogger.Log(req.ClientID, e.siteID, req.TransactionID, "abort", "")
		return &protocol.ExecutorFinalizeTransactionResponse{Ret: protocol.ReturnStatusOk}
	}

	ccResp, err := e.controller.FinalizeTransaction(ctx, &protocol.FinalizeTransactionRequest{
		SiteID:        e.siteID,
		TransactionID: req.TransactionID,
		FinalizeMode:  protocol.FinalizeModeCommit,
		UpdateHistory: lt.updateHistory,
	})
	if err != nil {
		_ = lt.tx.Rollback()
		e.txs.remove(req.TransactionID)
		e.metrics.inFlight.Dec()
		e.metrics.aborted.Inc()
		return &protocol.ExecutorFinalizeTransactionResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrControllerUnavailable, err)}
	}
	if ccResp.Ret != protocol.ReturnStatusOk {
		_ = lt.tx.Rollback()
		e.txs.remove(req.TransactionID)
		e.metrics.inFlight.Dec()
		e.metrics.aborted.Inc()
		_ = e.historyLogger.Log(req.ClientID, e.siteID, req.TransactionID, "abort", "replication failed")
		return &protocol.ExecutorFinalizeTransactionResponse{Ret: protocol.ReturnStatusError, Error: ccResp.Error}
	}

	if err := lt.tx.Commit(); err != nil {
		e.metrics.sqlErrors.Inc()
		return &protocol.ExecutorFinalizeTransactionResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrSqlExecutionError, err)}
	}
	e.txs.remove(req.TransactionID)
	e.metrics.inFlight.Dec()
	e.metrics.committed.Inc()
	_ = e.historyLogger.Log(req.ClientID, e.siteID, req.TransactionID, "commit", "")

	return &protocol.ExecutorFinalizeTransactionResponse{Ret: protocol.ReturnStatusOk}
}

func queryDetail(readSet, writeSet []string) string {
	detail := ""
	if len(readSet) > 0 {
		detail += fmt.Sprintf("read=%v", readSet)
	}
	if len(writeSet) > 0 {
		if detail != "" {
			detail += ","
		}
		detail += fmt.Sprintf("write=%v", writeSet)
	}
	return detail
}

func queryResultToResponse(result *sqlengine.Result) *protocol.InvokeQueryResponse {
	if result.Rows != nil || result.Columns != nil {
		rowSet := &protocol.RowSet{ColumnNames: result.Columns, Rows: result.Rows}
		return &protocol.InvokeQueryResponse{Ret: protocol.ReturnStatusOk, Data: rowSet}
	}
	affected := result.AffectedRecords
	return &protocol.InvokeQueryResponse{Ret: protocol.ReturnStatusOk, AffectedRecords: &affected}
}
