// Package locktable implements the controller's global lock table:
// table-granularity strict two-phase locking with shared/exclusive
// modes, lock promotion, FIFO waiter queues, and waits-for cycle
// detection for deadlock avoidance.
package locktable

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kavindu-dev/distribtx/pkg/protocol"
	"github.com/kavindu-dev/distribtx/pkg/txid"
)

// AcquireResult describes how a lock request on a single resource was
// satisfied.
type AcquireResult int

const (
	// HadLock means the transaction already held a compatible lock.
	HadLock AcquireResult = iota
	// AcquiredLock means the lock was newly granted through the wait
	// queue, either at once or after waiting.
	AcquiredLock
	// PromotedLock means an existing shared lock was promoted in place.
	PromotedLock
)

func (r AcquireResult) String() string {
	switch r {
	case HadLock:
		return "already had lock"
	case PromotedLock:
		return "promoted lock to exclusive"
	default:
		return "acquired lock"
	}
}

// DeadlockError is returned by Acquire when granting the request would
// close a cycle in the waits-for graph. The caller is expected to abort
// the requesting transaction (the "youngest transaction aborts" policy).
type DeadlockError struct {
	Transaction txid.ID
	Resource    string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("transaction %s would deadlock the system if it locked %s", e.Transaction, e.Resource)
}

// LockTable is the controller's single global lock table: one FIFO wait
// queue of resourceLock entries per resource name, guarded by a single
// mutex and a sync.Cond so that Acquire can block until it reaches the
// front of its queue instead of busy-polling.
type LockTable struct {
	mu        sync.Mutex
	cond      *sync.Cond
	resources map[string][]*resourceLock
	live      *liveTransactionSet
	log       *zap.Logger
}

// New returns an empty LockTable.
func New(log *zap.Logger) *LockTable {
	lt := &LockTable{
		resources: make(map[string][]*resourceLock),
		live:      newLiveTransactionSet(),
		log:       log,
	}
	lt.cond = sync.NewCond(&lt.mu)
	return lt
}

// RegisterTransaction adds id to the set of live (growing) transactions.
func (lt *LockTable) RegisterTransaction(id txid.ID) error {
	return lt.live.register(id)
}

// FinalizeTransaction removes id from the live-transaction set. Queue
// entries are not touched: the caller is responsible for having already
// released id's held locks via Release.
func (lt *LockTable) FinalizeTransaction(id txid.ID) {
	lt.live.remove(id)
}

// LockSet returns the resource names that id currently holds (is at the
// front of the queue for).
func (lt *LockTable) LockSet(id txid.ID) (map[string]struct{}, error) {
	if !lt.live.exists(id) {
		return nil, fmt.Errorf("transaction %s doesn't exist", id)
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()

	held := make(map[string]struct{})
	for resource, queue := range lt.resources {
		if len(queue) > 0 && queue[0].isLockedBy(id) {
			held[resource] = struct{}{}
		}
	}
	return held, nil
}

func (lt *LockTable) ensureResource(resource string) {
	if _, ok := lt.resources[resource]; !ok {
		lt.resources[resource] = nil
	}
}

// hasLockAlready reports whether the front entry of resource's queue
// already satisfies mode for id. Caller must hold lt.mu.
func (lt *LockTable) hasLockAlready(id txid.ID, resource string, mode protocol.LockMode) bool {
	queue := lt.resources[resource]
	if len(queue) == 0 {
		return false
	}
	front := queue[0]
	if mode == protocol.LockModeExclusive {
		return front.isLockedByExclusive(id)
	}
	return front.isLockedBy(id)
}

// attemptPromotion tries to upgrade a held shared front-lock to
// exclusive in place. It only succeeds when id is the sole holder of
// the front entry: promoting while other shared holders remain would
// hand id an exclusive lock while their reads are still outstanding, so
// that case falls through to enqueueLocked and blocks until they
// release. Caller must hold lt.mu.
func (lt *LockTable) attemptPromotion(id txid.ID, resource string, mode protocol.LockMode) bool {
	queue := lt.resources[resource]
	if len(queue) == 0 {
		return false
	}
	front := queue[0]
	if mode != protocol.LockModeExclusive || !front.isLockedByShared(id) || len(front.owners) != 1 {
		return false
	}

	exclusive, remainder := front.toExclusive(id)
	newQueue := make([]*resourceLock, 0, len(queue)+1)
	newQueue = append(newQueue, exclusive)
	if remainder != nil {
		newQueue = append(newQueue, remainder)
	}
	newQueue = append(newQueue, queue[1:]...)
	lt.resources[resource] = newQueue
	return true
}

// Acquire requests mode on resource for id, blocking until the lock is
// granted. It returns DeadlockError (without blocking) if granting the
// request would create a waits-for cycle.
func (lt *LockTable) Acquire(ctx context.Context, id txid.ID, resource string, mode protocol.LockMode) (AcquireResult, error) {
	if !lt.live.isGrowing(id) {
		return 0, fmt.Errorf("transaction %s is not growing, so it cannot acquire locks", id)
	}

	lt.mu.Lock()
	lt.ensureResource(resource)

	if lt.hasLockAlready(id, resource, mode) {
		lt.mu.Unlock()
		lt.log.Debug("transaction already holds lock", zap.Stringer("txn", id), zap.String("resource", resource))
		return HadLock, nil
	}

	if lt.attemptPromotion(id, resource, mode) {
		lt.mu.Unlock()
		lt.log.Info("promoted shared lock to exclusive", zap.Stringer("txn", id), zap.String("resource", resource))
		return PromotedLock, nil
	}

	if err := lt.detectDeadlockLocked(id, resource); err != nil {
		lt.mu.Unlock()
		return 0, err
	}

	lt.enqueueLocked(id, resource, mode)
	lt.log.Info("enqueued lock request", zap.Stringer("txn", id), zap.String("resource", resource), zap.String("mode", string(mode)))

	canceled := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		lt.mu.Lock()
		for {
			if canceled {
				lt.mu.Unlock()
				return
			}
			if lt.hasLockAlready(id, resource, mode) {
				break
			}
			lt.cond.Wait()
		}
		lt.mu.Unlock()
	}()
	lt.mu.Unlock()

	select {
	case <-done:
		lt.log.Info("acquired lock after waiting", zap.Stringer("txn", id), zap.String("resource", resource))
		return AcquiredLock, nil
	case <-ctx.Done():
		err := ctx.Err()
		lt.mu.Lock()
		canceled = true
		lt.dequeueWaiterLocked(id, resource)
		lt.cond.Broadcast()
		lt.mu.Unlock()
		<-done
		lt.log.Info("lock wait cancelled, dequeued waiter", zap.Stringer("txn", id), zap.String("resource", resource), zap.Error(err))
		return 0, err
	}
}

// dequeueWaiterLocked removes id's queued (not yet granted) entry for
// resource. Caller must hold lt.mu. It is a no-op if id is not queued
// for resource (e.g. it already reached the front between the select
// firing and this call).
func (lt *LockTable) dequeueWaiterLocked(id txid.ID, resource string) {
	queue := lt.resources[resource]
	out := make([]*resourceLock, 0, len(queue))
	for i, lock := range queue {
		if i == 0 {
			out = append(out, lock)
			continue
		}
		if lock.isLockedBy(id) && len(lock.owners) == 1 {
			continue
		}
		if lock.isLockedBy(id) {
			remaining := make([]txid.ID, 0, len(lock.owners))
			for _, o := range lock.owners {
				if o != id {
					remaining = append(remaining, o)
				}
			}
			lock.owners = remaining
		}
		out = append(out, lock)
	}
	lt.resources[resource] = out
}

func (lt *LockTable) enqueueLocked(id txid.ID, resource string, mode protocol.LockMode) {
	var lock *resourceLock
	if mode == protocol.LockModeExclusive {
		lock = newExclusiveLock(id)
	} else {
		lock = newSharedLock(id)
	}

	lt.resources[resource] = optimizeQueue(append(lt.resources[resource], lock))
}

// optimizeQueue repeatedly folds adjacent compatible entries (two shared
// entries, or a trailing exclusive promotion request) until no more
// folding is possible.
func optimizeQueue(queue []*resourceLock) []*resourceLock {
	for {
		folded, changed := optimizePass(queue)
		if !changed {
			return folded
		}
		queue = folded
	}
}

func optimizePass(queue []*resourceLock) ([]*resourceLock, bool) {
	if len(queue) < 2 {
		return queue, false
	}

	out := make([]*resourceLock, 0, len(queue))
	changed := false
	i := 0
	for i < len(queue) {
		if i+1 >= len(queue) {
			out = append(out, queue[i])
			i++
			continue
		}
		left, right := queue[i].tryJoinWith(queue[i+1])
		if right == nil {
			out = append(out, left)
			changed = true
			i += 2
			continue
		}
		out = append(out, left)
		i++
	}
	return out, changed
}

// Release releases id's hold on resource; it returns an error if id is
// not in the front (granted) entry of resource's queue. If id was
// still growing, this also transitions it into the shrinking phase,
// enforcing strict 2PL (no further acquisitions once any lock has been
// released).
func (lt *LockTable) Release(id txid.ID, resource string) error {
	if lt.live.isGrowing(id) {
		if err := lt.live.startShrinking(id); err != nil {
			return err
		}
	}

	lt.mu.Lock()
	defer func() {
		lt.cond.Broadcast()
		lt.mu.Unlock()
	}()

	queue, ok := lt.resources[resource]
	if !ok || len(queue) == 0 {
		return fmt.Errorf("transaction %s does not own the lock for %s", id, resource)
	}

	front := queue[0]
	if !front.isLockedBy(id) {
		return fmt.Errorf("transaction %s does not own the lock for %s", id, resource)
	}

	if front.shared {
		remaining := make([]txid.ID, 0, len(front.owners))
		for _, o := range front.owners {
			if o != id {
				remaining = append(remaining, o)
			}
		}
		if len(remaining) > 0 {
			front.owners = remaining
			// front may now have a sole owner whose own exclusive
			// promotion request is already queued behind it (blocked
			// by the co-holder that just released); re-optimize so that
			// request folds in now instead of waiting for another
			// enqueue to trigger it.
			lt.resources[resource] = optimizeQueue(queue)
			return nil
		}
	}

	lt.resources[resource] = queue[1:]
	return nil
}

// detectDeadlockLocked checks whether id joining resource's wait queue
// would create a waits-for cycle anywhere in the system, not just a
// direct mutual wait with resource's current owners. It builds the
// waits-for graph fresh from every resource's queue, adds the edges id
// would acquire by waiting on resource, and runs a full cycle search.
// Caller must hold lt.mu.
func (lt *LockTable) detectDeadlockLocked(id txid.ID, resource string) error {
	graph := newWaitForGraph()
	graph.buildFromQueues(lt.resources)

	if graph.wouldCauseDeadlock(id, lt.resourceOwners(resource)) {
		return &DeadlockError{Transaction: id, Resource: resource}
	}

	return nil
}

func (lt *LockTable) resourceOwners(resource string) []txid.ID {
	var out []txid.ID
	for _, lock := range lt.resources[resource] {
		out = append(out, lock.owners...)
	}
	return out
}
