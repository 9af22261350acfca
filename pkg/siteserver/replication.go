package siteserver

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/sqlengine"
)

// pendingReplications tracks open-but-not-finalized replication
// transactions, keyed by txn_token, between PrepareReplication and
// FinalizeReplication.
type pendingReplications struct {
	mu  sync.Mutex
	txs map[string]*sqlengine.Tx
}

func newPendingReplications() *pendingReplications {
	return &pendingReplications{txs: make(map[string]*sqlengine.Tx)}
}

// PrepareReplication opens a local transaction, applies every update
// statement, and holds it open under token pending FinalizeReplication.
func (e *Executor) PrepareReplication(ctx context.Context, req *protocol.PrepareReplicationRequest) *protocol.PrepareReplicationResponse {
	tx, err := e.engine.ApplyStatements(ctx, req.UpdateStatements)
	if err != nil {
		e.log.Error("failed to prepare replication", zap.String("txn_token", req.TxnToken), zap.Error(err))
		return &protocol.PrepareReplicationResponse{
			Ret:   protocol.ReturnStatusError,
			Error: protocol.NewApiError(protocol.ErrSqlExecutionError, "%v", err),
		}
	}

	e.pending.mu.Lock()
	e.pending.txs[req.TxnToken] = tx
	e.pending.mu.Unlock()

	if err := e.historyLogger.LogReplication(req.OriginatingSite, req.UpdateStatements); err != nil {
		e.log.Warn("failed to log replication event", zap.Error(err))
	}

	return &protocol.PrepareReplicationResponse{Ret: protocol.ReturnStatusOk, Ready: true}
}

// FinalizeReplication commits or rolls back the transaction opened by a
// prior PrepareReplication for the same token.
func (e *Executor) FinalizeReplication(ctx context.Context, req *protocol.FinalizeReplicationRequest) *protocol.FinalizeReplicationResponse {
	e.pending.mu.Lock()
	tx, ok := e.pending.txs[req.TxnToken]
	delete(e.pending.txs, req.TxnToken)
	e.pending.mu.Unlock()

	if !ok {
		return &protocol.FinalizeReplicationResponse{
			Ret:   protocol.ReturnStatusError,
			Error: protocol.NewApiError(protocol.ErrInvalidArgument, "no prepared replication for token %s", req.TxnToken),
		}
	}

	var err error
	if req.Mode == protocol.FinalizeModeCommit {
		err = tx.Commit()
	} else {
		err = tx.Rollback()
	}
	if err != nil {
		e.log.Error("failed to finalize replication", zap.String("txn_token", req.TxnToken), zap.String("mode", string(req.Mode)), zap.Error(err))
		return &protocol.FinalizeReplicationResponse{
			Ret:   protocol.ReturnStatusError,
			Error: protocol.NewApiError(protocol.ErrSqlExecutionError, "%v", err),
		}
	}

	return &protocol.FinalizeReplicationResponse{Ret: protocol.ReturnStatusOk}
}
