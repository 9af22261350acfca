package siteserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
)

func TestPrepareThenFinalizeCommitAppliesStatements(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	prepare := e.PrepareReplication(ctx, &protocol.PrepareReplicationRequest{
		TxnToken:         "tok-1",
		OriginatingSite:  1,
		UpdateStatements: []string{"INSERT INTO accounts (id, balance) VALUES (9, 9)"},
	})
	require.Equal(t, protocol.ReturnStatusOk, prepare.Ret)
	require.True(t, prepare.Ready)

	finalize := e.FinalizeReplication(ctx, &protocol.FinalizeReplicationRequest{TxnToken: "tok-1", Mode: protocol.FinalizeModeCommit})
	require.Equal(t, protocol.ReturnStatusOk, finalize.Ret)

	clientResp := e.RegisterClient(ctx, &protocol.RegisterClientRequest{})
	begin := e.BeginTransaction(ctx, &protocol.BeginTransactionRequest{ClientID: clientResp.ClientID})
	query := e.InvokeQuery(ctx, &protocol.InvokeQueryRequest{
		ClientID:      clientResp.ClientID,
		TransactionID: begin.TransactionID,
		Query:         "SELECT balance FROM accounts WHERE id = 9",
		ReadSet:       []string{"accounts"},
		HasResults:    true,
	})
	require.Equal(t, protocol.ReturnStatusOk, query.Ret)
	require.Len(t, query.Data.Rows, 1)
	_ = e.FinalizeTransaction(ctx, &protocol.ExecutorFinalizeTransactionRequest{
		ClientID:      clientResp.ClientID,
		TransactionID: begin.TransactionID,
		Mode:          protocol.FinalizeModeCommit,
	})
}

func TestFinalizeReplicationAbortRollsBack(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	prepare := e.PrepareReplication(ctx, &protocol.PrepareReplicationRequest{
		TxnToken:         "tok-2",
		OriginatingSite:  1,
		UpdateStatements: []string{"INSERT INTO accounts (id, balance) VALUES (10, 10)"},
	})
	require.Equal(t, protocol.ReturnStatusOk, prepare.Ret)

	finalize := e.FinalizeReplication(ctx, &protocol.FinalizeReplicationRequest{TxnToken: "tok-2", Mode: protocol.FinalizeModeAbort})
	require.Equal(t, protocol.ReturnStatusOk, finalize.Ret)

	clientResp := e.RegisterClient(ctx, &protocol.RegisterClientRequest{})
	begin := e.BeginTransaction(ctx, &protocol.BeginTransactionRequest{ClientID: clientResp.ClientID})
	query := e.InvokeQuery(ctx, &protocol.InvokeQueryRequest{
		ClientID:      clientResp.ClientID,
		TransactionID: begin.TransactionID,
		Query:         "SELECT balance FROM accounts WHERE id = 10",
		ReadSet:       []string{"accounts"},
		HasResults:    true,
	})
	require.Equal(t, protocol.ReturnStatusOk, query.Ret)
	require.Empty(t, query.Data.Rows)
	_ = e.FinalizeTransaction(ctx, &protocol.ExecutorFinalizeTransactionRequest{
		ClientID:      clientResp.ClientID,
		TransactionID: begin.TransactionID,
		Mode:          protocol.FinalizeModeCommit,
	})
}

func TestFinalizeReplicationRejectsUnknownToken(t *testing.T) {
	e := newTestExecutor(t)
	resp := e.FinalizeReplication(context.Background(), &protocol.FinalizeReplicationRequest{TxnToken: "never-prepared", Mode: protocol.FinalizeModeCommit})
	require.Equal(t, protocol.ReturnStatusError, resp.Ret)
}
