package locktable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kavindu-dev/distribtx/pkg/txid"
)

func TestTryJoinWithFoldsTwoSharedLocks(t *testing.T) {
	a := newSharedLock(txid.New(0, 1))
	b := newSharedLock(txid.New(0, 2))

	left, right := a.tryJoinWith(b)
	require.Nil(t, right)
	require.True(t, left.shared)
	require.Len(t, left.owners, 2)
}

func TestTryJoinWithFoldsPromotionRequest(t *testing.T) {
	holder := txid.New(0, 1)
	shared := newSharedLock(holder)
	promotion := newExclusiveLock(holder)

	left, right := shared.tryJoinWith(promotion)
	require.Nil(t, right)
	require.False(t, left.shared)
	require.True(t, left.isLockedByExclusive(holder))
}

func TestTryJoinWithLeavesIncompatibleEntriesUnmerged(t *testing.T) {
	a := newExclusiveLock(txid.New(0, 1))
	b := newExclusiveLock(txid.New(0, 2))

	left, right := a.tryJoinWith(b)
	require.NotNil(t, right)
	require.Same(t, a, left)
	require.Same(t, b, right)
}

func TestToExclusiveSplitsRemainingSharedOwners(t *testing.T) {
	holder := txid.New(0, 1)
	other := txid.New(0, 2)
	shared := &resourceLock{shared: true, owners: []txid.ID{holder, other}}

	exclusive, remainder := shared.toExclusive(holder)
	require.True(t, exclusive.isLockedByExclusive(holder))
	require.NotNil(t, remainder)
	require.True(t, remainder.isLockedBy(other))
	require.False(t, remainder.isLockedBy(holder))
}
