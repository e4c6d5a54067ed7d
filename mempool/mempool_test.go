package mempool

import (
	"testing"

	"github.com/mezonai/chainfork/block"
	"github.com/stretchr/testify/assert"
)

func tx(label string) *block.Transaction {
	return block.NewTransaction([]byte(label))
}

func TestMempool_AddAndBatch(t *testing.T) {
	mp := NewMempool()
	a, b, c := tx("a"), tx("b"), tx("c")

	assert.True(t, mp.Add(a))
	assert.True(t, mp.Add(b))
	assert.False(t, mp.Add(a))
	assert.True(t, mp.Add(c))
	assert.Equal(t, 3, mp.Len())

	batch := mp.GetBatch(2)
	assert.Equal(t, []*block.Transaction{a, b}, batch)
	assert.Len(t, mp.GetBatch(10), 3)

	assert.Equal(t, 1, mp.RemoveIncluded([]block.ID{b.ID, tx("zzz").ID}))
	assert.Equal(t, []*block.Transaction{a, c}, mp.GetBatch(10))
	assert.False(t, mp.Has(b.ID))
}

func TestMempool_RequeueExactlyOnce(t *testing.T) {
	mp := NewMempool()
	abandoned := tx("only-on-losing-branch")

	assert.True(t, mp.Requeue(abandoned, 104))
	assert.False(t, mp.Requeue(abandoned, 104))
	assert.Equal(t, 1, mp.Len())

	// included again on the new branch, then abandoned by a second reorg
	mp.RemoveIncluded([]block.ID{abandoned.ID})
	assert.Equal(t, 0, mp.Len())
	assert.True(t, mp.Requeue(abandoned, 106))
	assert.False(t, mp.Requeue(abandoned, 106))
	assert.Equal(t, 1, mp.Len())
}

func TestMempool_RequeueDedupClearedBelowMark(t *testing.T) {
	mp := NewMempool()
	abandoned := tx("abandoned")

	assert.True(t, mp.Requeue(abandoned, 104))
	// dropped from pending without being mined, so the history still holds
	mp.mu.Lock()
	delete(mp.pending, abandoned.ID)
	mp.order = nil
	mp.mu.Unlock()
	assert.False(t, mp.Requeue(abandoned, 105))

	mp.CleanUpBelow(104)
	assert.True(t, mp.Requeue(abandoned, 110))
}

func TestMempool_RequeueSkipsPending(t *testing.T) {
	mp := NewMempool()
	pending := tx("pending")
	mp.Add(pending)

	assert.False(t, mp.Requeue(pending, 3))
	assert.Equal(t, 1, mp.Len())
}

func TestDedupService_CleanUpBelow(t *testing.T) {
	ds := NewDedupService()
	x, y := tx("x").ID, tx("y").ID
	ds.Add(5, x)
	ds.Add(9, y)

	ds.CleanUpBelow(5)
	assert.False(t, ds.IsDuplicate(x))
	assert.True(t, ds.IsDuplicate(y))
	assert.Equal(t, 1, ds.Len())
}

func TestDedupService_Forget(t *testing.T) {
	ds := NewDedupService()
	x := tx("x").ID
	ds.Add(5, x)
	ds.Add(7, x)
	assert.Len(t, ds.byNumber, 1)

	ds.Forget(x)
	assert.False(t, ds.IsDuplicate(x))
	assert.Empty(t, ds.byNumber)
	assert.Equal(t, 0, ds.Len())
}
