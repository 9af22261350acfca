package controller

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/txid"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	return New(Config{LivenessInterval: time.Hour, ReplicationTimeout: time.Second}, zap.NewNop(), prometheus.NewRegistry())
}

func TestRegisterSiteAssignsMonotonicIDsAndPeerLists(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	first := c.RegisterSite(ctx, &protocol.RegisterSiteRequest{Host: "127.0.0.1", Port: 7100})
	require.Equal(t, protocol.ReturnStatusOk, first.Ret)
	require.Empty(t, first.Peers)

	second := c.RegisterSite(ctx, &protocol.RegisterSiteRequest{Host: "127.0.0.1", Port: 7101})
	require.Equal(t, protocol.ReturnStatusOk, second.Ret)
	require.Len(t, second.Peers, 1)
	require.Equal(t, first.SiteID, second.Peers[0].SiteID)
}

func TestAcquireLockRequiresActiveTransaction(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	resp := c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: 999,
		LockRequests:  []protocol.LockRequest{{RecordName: "accounts", Mode: protocol.LockModeShared}},
	})
	require.Equal(t, protocol.ReturnStatusError, resp.Ret)
}

func TestAcquireAndReleaseLockRoundTrip(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	txResp := c.RegisterTransaction(ctx, &protocol.RegisterTransactionRequest{SiteID: 0})
	require.Equal(t, protocol.ReturnStatusOk, txResp.Ret)

	lockResp := c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: txResp.TransactionID,
		LockRequests:  []protocol.LockRequest{{RecordName: "accounts", Mode: protocol.LockModeExclusive}},
	})
	require.Equal(t, protocol.ReturnStatusOk, lockResp.Ret)
	require.True(t, lockResp.Acquired)

	releaseResp := c.ReleaseLock(ctx, &protocol.ReleaseLockRequest{TransactionID: txResp.TransactionID, RecordName: "accounts"})
	require.Equal(t, protocol.ReturnStatusOk, releaseResp.Ret)
}

func TestFinalizeTransactionAbortReleasesLocks(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	txResp := c.RegisterTransaction(ctx, &protocol.RegisterTransactionRequest{SiteID: 0})
	require.Equal(t, protocol.ReturnStatusOk, txResp.Ret)

	lockResp := c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: txResp.TransactionID,
		LockRequests:  []protocol.LockRequest{{RecordName: "accounts", Mode: protocol.LockModeExclusive}},
	})
	require.Equal(t, protocol.ReturnStatusOk, lockResp.Ret)

	finResp := c.FinalizeTransaction(ctx, &protocol.FinalizeTransactionRequest{
		SiteID:        0,
		TransactionID: txResp.TransactionID,
		FinalizeMode:  protocol.FinalizeModeAbort,
	})
	require.Equal(t, protocol.ReturnStatusOk, finResp.Ret)

	// The lock should be free for a second transaction to acquire immediately.
	tx2 := c.RegisterTransaction(ctx, &protocol.RegisterTransactionRequest{SiteID: 0})
	lockResp2 := c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: tx2.TransactionID,
		LockRequests:  []protocol.LockRequest{{RecordName: "accounts", Mode: protocol.LockModeExclusive}},
	})
	require.Equal(t, protocol.ReturnStatusOk, lockResp2.Ret)
}

func TestFinalizeTransactionCommitReplicatesToPeers(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	var gotPrepare, gotFinalize bool
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/prepare-replication":
			gotPrepare = true
			w.Write([]byte(`{"ret":"OK","ready":true}`))
		case "/finalize-replication":
			gotFinalize = true
			w.Write([]byte(`{"ret":"OK"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer peer.Close()

	originator := c.RegisterSite(ctx, &protocol.RegisterSiteRequest{Host: "127.0.0.1", Port: 1})
	host, port := splitTestAddr(t, peer.Listener.Addr().String())
	peerResp := c.RegisterSite(ctx, &protocol.RegisterSiteRequest{Host: host, Port: port})
	require.Equal(t, protocol.ReturnStatusOk, peerResp.Ret)

	txResp := c.RegisterTransaction(ctx, &protocol.RegisterTransactionRequest{SiteID: originator.SiteID})
	require.Equal(t, protocol.ReturnStatusOk, txResp.Ret)

	finResp := c.FinalizeTransaction(ctx, &protocol.FinalizeTransactionRequest{
		SiteID:        originator.SiteID,
		TransactionID: txResp.TransactionID,
		FinalizeMode:  protocol.FinalizeModeCommit,
		UpdateHistory: []string{"UPDATE accounts SET balance = balance - 10"},
	})
	require.Equal(t, protocol.ReturnStatusOk, finResp.Ret)
	require.True(t, gotPrepare)
	require.True(t, gotFinalize)
}

func TestAcquireLockAbortsOnDeadlock(t *testing.T) {
	c := newTestController(t)
	ctx := context.Background()

	txA := c.RegisterTransaction(ctx, &protocol.RegisterTransactionRequest{SiteID: 0})
	txB := c.RegisterTransaction(ctx, &protocol.RegisterTransactionRequest{SiteID: 0})

	require.Equal(t, protocol.ReturnStatusOk, c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: txA.TransactionID,
		LockRequests:  []protocol.LockRequest{{RecordName: "accounts", Mode: protocol.LockModeExclusive}},
	}).Ret)
	require.Equal(t, protocol.ReturnStatusOk, c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: txB.TransactionID,
		LockRequests:  []protocol.LockRequest{{RecordName: "orders", Mode: protocol.LockModeExclusive}},
	}).Ret)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.AcquireLock(context.Background(), &protocol.AcquireLockRequest{
			TransactionID: txB.TransactionID,
			LockRequests:  []protocol.LockRequest{{RecordName: "accounts", Mode: protocol.LockModeExclusive}},
		})
	}()
	time.Sleep(50 * time.Millisecond)

	resp := c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: txA.TransactionID,
		LockRequests:  []protocol.LockRequest{{RecordName: "orders", Mode: protocol.LockModeExclusive}},
	})
	require.Equal(t, protocol.ReturnStatusError, resp.Ret)
	require.True(t, protocol.IsKind(resp.Error, protocol.ErrAbortedByDeadlock))

	<-done
}

func TestAcquireLockTimesOutAndAbortsTransaction(t *testing.T) {
	c := New(Config{LivenessInterval: time.Hour, ReplicationTimeout: time.Second, LockWaitTimeout: 50 * time.Millisecond}, zap.NewNop(), prometheus.NewRegistry())
	ctx := context.Background()

	txA := c.RegisterTransaction(ctx, &protocol.RegisterTransactionRequest{SiteID: 0})
	txB := c.RegisterTransaction(ctx, &protocol.RegisterTransactionRequest{SiteID: 0})

	require.Equal(t, protocol.ReturnStatusOk, c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: txA.TransactionID,
		LockRequests:  []protocol.LockRequest{{RecordName: "accounts", Mode: protocol.LockModeExclusive}},
	}).Ret)

	resp := c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: txB.TransactionID,
		LockRequests:  []protocol.LockRequest{{RecordName: "accounts", Mode: protocol.LockModeExclusive}},
	})
	require.Equal(t, protocol.ReturnStatusError, resp.Ret)
	require.True(t, protocol.IsKind(resp.Error, protocol.ErrLockTimeout))

	// txB must have been aborted, not left Active: a fresh AcquireLock call
	// for it should now be rejected for having no active transaction.
	retry := c.AcquireLock(ctx, &protocol.AcquireLockRequest{
		TransactionID: txB.TransactionID,
		LockRequests:  []protocol.LockRequest{{RecordName: "orders", Mode: protocol.LockModeExclusive}},
	})
	require.Equal(t, protocol.ReturnStatusError, retry.Ret)
	require.True(t, protocol.IsKind(retry.Error, protocol.ErrInvalidArgument))

	// txA's accounts lock must still be held and releasable — txB's timed
	// out wait must not have corrupted the queue.
	require.NoError(t, c.locks.Release(txid.ID(txA.TransactionID), "accounts"))
}

func splitTestAddr(t *testing.T, addr string) (string, uint32) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 32)
	require.NoError(t, err)
	return host, uint32(port)
}
