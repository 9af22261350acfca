package locktable

import (
	"github.com/kavindu-dev/distribtx/pkg/txid"
)

// resourceLock is one entry of a resource's wait queue: either a set of
// shared owners (who acquired the resource together) or a single
// exclusive owner.
type resourceLock struct {
	shared bool
	// owners holds the transactions holding this queue entry. For a
	// shared entry this may contain more than one id; for an exclusive
	// entry it always holds exactly one.
	owners []txid.ID
}

func newSharedLock(id txid.ID) *resourceLock {
	return &resourceLock{shared: true, owners: []txid.ID{id}}
}

func newExclusiveLock(id txid.ID) *resourceLock {
	return &resourceLock{shared: false, owners: []txid.ID{id}}
}

func (l *resourceLock) isLockedBy(id txid.ID) bool {
	for _, o := range l.owners {
		if o == id {
			return true
		}
	}
	return false
}

func (l *resourceLock) isLockedByShared(id txid.ID) bool {
	return l.shared && l.isLockedBy(id)
}

func (l *resourceLock) isLockedByExclusive(id txid.ID) bool {
	return !l.shared && l.isLockedBy(id)
}

// isFirstLockedBy reports whether id was the first to join this queue
// entry, used to decide whether a trailing exclusive request can fold
// into a leading shared entry (see tryJoinWith).
func (l *resourceLock) isFirstLockedBy(id txid.ID) bool {
	return len(l.owners) > 0 && l.owners[0] == id
}

// toExclusive splits id out of a shared entry into its own exclusive
// entry, returning the remaining shared entry (or nil if id was the only
// owner). Calling this on an exclusive entry is a no-op.
func (l *resourceLock) toExclusive(id txid.ID) (exclusive *resourceLock, remainder *resourceLock) {
	if !l.shared {
		return l, nil
	}

	remaining := make([]txid.ID, 0, len(l.owners)-1)
	for _, o := range l.owners {
		if o != id {
			remaining = append(remaining, o)
		}
	}

	exclusive = newExclusiveLock(id)
	if len(remaining) == 0 {
		return exclusive, nil
	}
	return exclusive, &resourceLock{shared: true, owners: remaining}
}

// tryJoinWith attempts to fold other (the next entry in the queue) into
// l (the current entry). It mirrors the original queue-folding
// optimization: two shared entries always merge, and a trailing
// exclusive request merges into a leading shared entry only when that
// entry has no other holder. Folding while other shared holders remain
// would grant the exclusive lock out from under them, the same
// violation attemptPromotion guards against. Returns the folded left
// entry and, if folding was not possible, the untouched right entry.
func (l *resourceLock) tryJoinWith(other *resourceLock) (left *resourceLock, right *resourceLock) {
	switch {
	case l.shared && other.shared:
		return &resourceLock{shared: true, owners: append(append([]txid.ID{}, l.owners...), other.owners...)}, nil
	case l.shared && !other.shared && len(other.owners) == 1 && len(l.owners) == 1 && l.isFirstLockedBy(other.owners[0]):
		excl, remainder := l.toExclusive(other.owners[0])
		return excl, remainder
	default:
		return l, other
	}
}
