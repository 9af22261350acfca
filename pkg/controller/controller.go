// Package controller implements the centralized concurrency controller:
// the global transaction registry, lock table, deadlock detection, and
// commit-time replication coordination.
package controller

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kavindu-dev/distribtx/pkg/locktable"
	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/txid"
)

// DefaultLockWaitTimeout is used when Config.LockWaitTimeout is zero,
// matching config.DefaultControllerConfig's 30s default.
const DefaultLockWaitTimeout = 30 * time.Second

// Controller owns the global lock table, transaction registry, and site
// registry, and coordinates commit-time replication fan-out.
type Controller struct {
	sites           *siteRegistry
	txs             *txRegistry
	locks           *locktable.LockTable
	idGen           *txid.Generator
	replication     *replicator
	liveness        *livenessTracker
	metrics         *metrics
	log             *zap.Logger
	lockWaitTimeout time.Duration
}

// Config controls controller behavior that is not part of its core
// algorithm: liveness polling cadence, the replication RPC timeout, and
// the default deadline a lock wait carries before the waiter is aborted
// with LockTimeout.
type Config struct {
	LivenessInterval   time.Duration
	ReplicationTimeout time.Duration
	LockWaitTimeout    time.Duration
	// DeadlockPolicy is informational only: the controller always
	// aborts the requester that closes a waits-for cycle. Any other
	// value is logged and otherwise ignored.
	DeadlockPolicy string
}

// New returns a Controller with an empty lock table and site registry.
func New(cfg Config, log *zap.Logger, reg prometheus.Registerer) *Controller {
	lockWaitTimeout := cfg.LockWaitTimeout
	if lockWaitTimeout <= 0 {
		lockWaitTimeout = DefaultLockWaitTimeout
	}

	if cfg.DeadlockPolicy != "" && cfg.DeadlockPolicy != "abort_requester" {
		log.Warn("deadlock-policy is not implemented, falling back to abort_requester",
			zap.String("configured", cfg.DeadlockPolicy))
	}

	sites := newSiteRegistry()
	c := &Controller{
		sites:           sites,
		txs:             newTxRegistry(),
		locks:           locktable.New(log),
		idGen:           txid.NewGenerator(),
		replication:     newReplicator(sites, cfg.ReplicationTimeout, log),
		liveness:        newLivenessTracker(sites, cfg.LivenessInterval, log),
		metrics:         newMetrics(reg),
		log:             log,
		lockWaitTimeout: lockWaitTimeout,
	}
	return c
}

// RegisterSite allocates a monotonic site id and returns the sites
// registered so far other than the caller. It does not start the
// liveness tracker; StartLiveness does.
func (c *Controller) RegisterSite(ctx context.Context, req *protocol.RegisterSiteRequest) *protocol.RegisterSiteResponse {
	id := c.sites.register(req.Host, req.Port)
	c.log.Info("registered site", zap.Uint32("site_id", id), zap.String("host", req.Host), zap.Uint32("port", req.Port))

	peers := c.sites.peersExcluding(id)
	out := make([]protocol.PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, protocol.PeerInfo{SiteID: p.id, Host: p.host, Port: p.port})
	}

	return &protocol.RegisterSiteResponse{Ret: protocol.ReturnStatusOk, SiteID: id, Peers: out}
}

// RegisterTransaction allocates a transaction id for siteID and records
// it as Active.
func (c *Controller) RegisterTransaction(ctx context.Context, req *protocol.RegisterTransactionRequest) *protocol.RegisterTransactionResponse {
	id := c.idGen.Next(req.SiteID)
	if err := c.locks.RegisterTransaction(id); err != nil {
		return &protocol.RegisterTransactionResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrInternalError, err)}
	}
	c.txs.register(id, req.SiteID, req.Name)
	c.metrics.activeTransactions.Inc()
	c.log.Info("registered transaction", zap.Stringer("txn", id), zap.Uint32("site_id", req.SiteID))
	return &protocol.RegisterTransactionResponse{Ret: protocol.ReturnStatusOk, TransactionID: uint64(id)}
}

// AcquireLock normalizes and sorts the batch, then grants each request
// in deterministic order, aborting the whole batch on deadlock.
func (c *Controller) AcquireLock(ctx context.Context, req *protocol.AcquireLockRequest) *protocol.AcquireLockResponse {
	id := txid.ID(req.TransactionID)

	if err := c.txs.requireActive(id); err != nil {
		return &protocol.AcquireLockResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrInvalidArgument, err)}
	}

	normalized := normalizeLockRequests(req.LockRequests)

	var granted []string
	for _, lr := range normalized {
		waitCtx, cancel := context.WithTimeout(ctx, c.lockWaitTimeout)
		result, err := c.locks.Acquire(waitCtx, id, lr.RecordName, lr.Mode)
		cancel()
		if err != nil {
			c.rollbackGranted(id, granted)
			c.finalizeLocked(id, protocol.FinalizeModeAbort, nil)
			c.metrics.transactionsAborted.Inc()

			if _, isDeadlock := err.(*locktable.DeadlockError); isDeadlock {
				c.metrics.deadlocksAborted.Inc()
				return &protocol.AcquireLockResponse{
					Ret:   protocol.ReturnStatusError,
					Error: protocol.NewApiError(protocol.ErrAbortedByDeadlock, "%v", err),
				}
			}

			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				c.metrics.lockTimeoutsAborted.Inc()
				return &protocol.AcquireLockResponse{
					Ret:   protocol.ReturnStatusError,
					Error: protocol.NewApiError(protocol.ErrLockTimeout, "timed out waiting for lock on %q: %v", lr.RecordName, err),
				}
			}
			return &protocol.AcquireLockResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrInternalError, err)}
		}

		if result == locktable.AcquiredLock {
			c.metrics.locksBlocked.Inc()
		}
		c.metrics.locksGranted.Inc()
		granted = append(granted, lr.RecordName)
	}

	return &protocol.AcquireLockResponse{Ret: protocol.ReturnStatusOk, Acquired: true}
}

// normalizeLockRequests deduplicates by record name (keeping the
// stronger mode) and sorts lexicographically, matching the controller's
// deterministic lock-ordering discipline.
func normalizeLockRequests(reqs []protocol.LockRequest) []protocol.LockRequest {
	byRecord := make(map[string]protocol.LockMode)
	for _, r := range reqs {
		if existing, ok := byRecord[r.RecordName]; !ok || r.Mode.Stronger(existing) {
			byRecord[r.RecordName] = r.Mode
		}
	}

	out := make([]protocol.LockRequest, 0, len(byRecord))
	for name, mode := range byRecord {
		out = append(out, protocol.LockRequest{RecordName: name, Mode: mode})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordName < out[j].RecordName })
	return out
}

func (c *Controller) rollbackGranted(id txid.ID, granted []string) {
	for _, resource := range granted {
		_ = c.locks.Release(id, resource)
	}
}

// ReleaseLock releases a single held lock.
func (c *Controller) ReleaseLock(ctx context.Context, req *protocol.ReleaseLockRequest) *protocol.ReleaseLockResponse {
	id := txid.ID(req.TransactionID)
	if err := c.locks.Release(id, req.RecordName); err != nil {
		return &protocol.ReleaseLockResponse{Ret: protocol.ReturnStatusError, Error: protocol.Wrap(protocol.ErrInvalidArgument, err)}
	}
	return &protocol.ReleaseLockResponse{Ret: protocol.ReturnStatusOk, Released: true}
}

// FinalizeTransaction drives the Active -> {Replicating -> {Committed,
// Aborted}, Aborted} state machine: on Commit it fans update_history out
// to every peer before releasing locks; on Abort it releases locks
// immediately.
func (c *Controller) FinalizeTransaction(ctx context.Context, req *protocol.FinalizeTransactionRequest) *protocol.FinalizeTransactionResponse {
	id := txid.ID(req.TransactionID)

	if req.FinalizeMode == protocol.FinalizeModeAbort {
		c.finalizeLocked(id, protocol.FinalizeModeAbort, nil)
		c.metrics.transactionsAborted.Inc()
		return &protocol.FinalizeTransactionResponse{Ret: protocol.ReturnStatusOk}
	}

	c.txs.setState(id, protocol.TransactionReplicating)
	if err := c.replication.fanOut(ctx, req.SiteID, req.UpdateHistory); err != nil {
		c.metrics.replicationFailures.Inc()
		c.finalizeLocked(id, protocol.FinalizeModeAbort, nil)
		c.metrics.transactionsAborted.Inc()
		return &protocol.FinalizeTransactionResponse{
			Ret:   protocol.ReturnStatusError,
			Error: protocol.NewApiError(protocol.ErrReplicationFailed, "%v", err),
		}
	}

	c.finalizeLocked(id, protocol.FinalizeModeCommit, nil)
	c.metrics.transactionsCommitted.Inc()
	return &protocol.FinalizeTransactionResponse{Ret: protocol.ReturnStatusOk}
}

// finalizeLocked releases every lock the transaction holds, sets its
// terminal state, and removes it from the live set.
func (c *Controller) finalizeLocked(id txid.ID, mode protocol.FinalizeMode, _ []string) {
	held, err := c.locks.LockSet(id)
	if err == nil {
		for resource := range held {
			_ = c.locks.Release(id, resource)
		}
	}

	if mode == protocol.FinalizeModeCommit {
		c.txs.setState(id, protocol.TransactionCommitted)
	} else {
		c.txs.setState(id, protocol.TransactionAborted)
	}

	c.locks.FinalizeTransaction(id)
	if _, err := c.txs.get(id); err == nil {
		c.metrics.activeTransactions.Dec()
	}
	c.txs.remove(id)
}

// StartLiveness begins polling registered sites' /health endpoints.
func (c *Controller) StartLiveness() { c.liveness.Start() }

// StopLiveness stops the liveness poller.
func (c *Controller) StopLiveness() { c.liveness.Stop() }

// LivenessSnapshot returns the last observed reachability per site id,
// for diagnostics. No HTTP route serves it.
func (c *Controller) LivenessSnapshot() map[uint32]bool { return c.liveness.Snapshot() }
