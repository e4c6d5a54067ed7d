package blockstore

import (
	"testing"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/block/blocktest"
	"github.com/mezonai/chainfork/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, db.IterableProvider) {
	t.Helper()
	provider, err := db.NewMemLevelDBProvider()
	require.NoError(t, err)
	s, err := NewStore(provider)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, provider
}

func appendAll(t *testing.T, s *Store, blocks ...*block.Block) {
	t.Helper()
	for _, b := range blocks {
		require.NoError(t, s.Append(b), "append %s", b)
	}
}

func TestAppend_Errors(t *testing.T) {
	s, _ := newTestStore(t)
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()

	b1 := bld.Child(genesis)
	assert.ErrorIs(t, s.Append(b1), ErrOrphanBlock)

	appendAll(t, s, genesis, b1)
	assert.ErrorIs(t, s.Append(b1), ErrDuplicateBlock)
	assert.ErrorIs(t, s.Append(genesis), ErrDuplicateBlock)

	other := blocktest.NewBuilder()
	other.Producer = "someone"
	assert.ErrorIs(t, s.Append(other.Genesis()), ErrInvalidBlock)

	skip := block.AssembleBlock(5, b1.ID, "producer", genesis.Timestamp, nil)
	assert.ErrorIs(t, s.Append(skip), ErrInvalidBlock)

	assert.Equal(t, 2, s.Len())
}

func TestGetByNumberOnBranch(t *testing.T) {
	s, _ := newTestStore(t)
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	main := bld.Chain(genesis, 5)
	fork := bld.Chain(main[1], 2)
	appendAll(t, s, genesis)
	appendAll(t, s, main...)
	appendAll(t, s, fork...)

	got, err := s.GetByNumberOnBranch(3, main[4].ID)
	require.NoError(t, err)
	assert.Equal(t, main[2].ID, got.ID)

	got, err = s.GetByNumberOnBranch(3, fork[0].ID)
	require.NoError(t, err)
	assert.Equal(t, fork[0].ID, got.ID)

	got, err = s.GetByNumberOnBranch(2, fork[1].ID)
	require.NoError(t, err)
	assert.Equal(t, main[1].ID, got.ID)

	_, err = s.GetByNumberOnBranch(9, main[4].ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(block.ID{0xaa})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.True(t, s.IsAncestor(main[1].ID, fork[1].ID))
	assert.False(t, s.IsAncestor(main[2].ID, fork[1].ID))
	assert.Len(t, s.Leaves(), 2)
}

func TestDiscardBranch_KeepsSharedBlocks(t *testing.T) {
	s, _ := newTestStore(t)
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	a := bld.Chain(genesis, 4) // 1..4
	c := bld.Chain(a[1], 2)    // forks at 2: 3', 4'
	appendAll(t, s, genesis)
	appendAll(t, s, a...)
	appendAll(t, s, c...)

	removed, err := s.DiscardBranch(a[3].ID, genesis.ID)
	require.NoError(t, err)
	assert.Equal(t, []block.ID{a[3].ID, a[2].ID}, removed)

	assert.False(t, s.Contains(a[3].ID))
	assert.True(t, s.Contains(a[1].ID), "block shared with the other branch survives")
	assert.True(t, s.Contains(c[1].ID))
}

func TestRemove_TakesDescendants(t *testing.T) {
	s, provider := newTestStore(t)
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	a := bld.Chain(genesis, 3)
	c := bld.Chain(a[0], 2)
	appendAll(t, s, genesis)
	appendAll(t, s, a...)
	appendAll(t, s, c...)

	n, err := s.Remove([]block.ID{c[0].ID, {0xff}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, s.Contains(c[0].ID))
	assert.False(t, s.Contains(c[1].ID))
	assert.True(t, s.Contains(a[2].ID))
	assert.Equal(t, []block.ID{a[1].ID}, s.Children(a[0].ID))

	has, err := provider.Has(db.BlockKey(c[1].ID))
	require.NoError(t, err)
	assert.False(t, has)

	n, err = s.Remove(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPruneBelow_ArchivesCanonicalAndDropsStale(t *testing.T) {
	s, _ := newTestStore(t)
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	main := bld.Chain(genesis, 6)  // 1..6
	stale := bld.Chain(main[0], 3) // forks at 1: 2'..4'
	appendAll(t, s, genesis)
	appendAll(t, s, main...)
	appendAll(t, s, stale...)

	archived, deleted, err := s.PruneBelow(4, main[5].ID, []block.ID{main[5].ID})
	require.NoError(t, err)
	assert.Equal(t, 4, archived) // 0..3
	assert.Equal(t, 3, deleted)  // 2'..4', whole subtree
	assert.Equal(t, 3, s.Len())  // 4..6

	old, err := s.GetCanonicalArchived(2)
	require.NoError(t, err)
	assert.Equal(t, main[1].ID, old.ID)

	byBranch, err := s.GetByNumberOnBranch(1, main[5].ID)
	require.NoError(t, err)
	assert.Equal(t, main[0].ID, byBranch.ID)

	_, err = s.Get(stale[2].ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// the archive answers by id too
	got, err := s.Get(main[2].ID)
	require.NoError(t, err)
	assert.Equal(t, main[2].Number, got.Number)

	assert.ErrorIs(t, s.Append(main[3]), ErrDuplicateBlock)
	assert.ErrorIs(t, s.Append(main[2]), ErrDuplicateBlock)
	assert.ErrorIs(t, s.Append(bld.Child(main[2])), ErrPrunedAncestor)
}

func TestPruneBelow_KeepsAncestorsOfOtherHeads(t *testing.T) {
	s, _ := newTestStore(t)
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	main := bld.Chain(genesis, 6)
	other := bld.Chain(main[3], 1) // forks at 4
	appendAll(t, s, genesis)
	appendAll(t, s, main...)
	appendAll(t, s, other...)

	archived, deleted, err := s.PruneBelow(4, main[5].ID, []block.ID{main[5].ID, other[0].ID})
	require.NoError(t, err)
	assert.Zero(t, archived)
	assert.Zero(t, deleted)
	assert.True(t, s.Contains(genesis.ID))

	_, err = s.DiscardBranch(other[0].ID, main[3].ID)
	require.NoError(t, err)
	archived, _, err = s.PruneBelow(4, main[5].ID, []block.ID{main[5].ID})
	require.NoError(t, err)
	assert.Equal(t, 4, archived)
}

func TestLoad_RestoresTreeAndMeta(t *testing.T) {
	s, provider := newTestStore(t)
	bld := blocktest.NewBuilder()
	genesis := bld.Genesis()
	main := bld.Chain(genesis, 5)
	fork := bld.Chain(main[2], 2)
	appendAll(t, s, genesis)
	appendAll(t, s, main...)
	appendAll(t, s, fork...)

	archived, _, err := s.PruneBelow(2, main[4].ID, []block.ID{main[4].ID})
	require.NoError(t, err)
	require.Equal(t, 2, archived)
	require.NoError(t, s.SetMeta(2, main[4].ID))

	reopened, err := NewStore(provider)
	require.NoError(t, err)
	n, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, s.Len(), n)

	lib, head, found, err := reopened.Meta()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(2), lib)
	assert.Equal(t, main[4].ID, head)

	assert.Len(t, reopened.Leaves(), 2)
	got, err := reopened.GetByNumberOnBranch(0, fork[1].ID)
	require.NoError(t, err)
	assert.Equal(t, genesis.ID, got.ID)
	assert.ErrorIs(t, reopened.Append(main[0]), ErrDuplicateBlock)
	assert.ErrorIs(t, reopened.Append(main[1]), ErrDuplicateBlock)
}
