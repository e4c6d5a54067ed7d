package chain

import (
	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/blockstore"
	"github.com/mezonai/chainfork/forkchoice"
)

// canonicalView resolves confirmation support against one canonical head.
// It lives for a single recomputation.
type canonicalView struct {
	store  *blockstore.Store
	engine *forkchoice.Engine
	head   *block.Block
	cache  map[block.ID]uint64
}

func newCanonicalView(store *blockstore.Store, engine *forkchoice.Engine, head *block.Block) *canonicalView {
	return &canonicalView{
		store:  store,
		engine: engine,
		head:   head,
		cache:  make(map[block.ID]uint64),
	}
}

func (v *canonicalView) CanonicalSupport(id block.ID) (uint64, bool) {
	if n, ok := v.cache[id]; ok {
		return n, true
	}
	b, err := v.store.Get(id)
	if err != nil {
		return 0, false
	}
	if b.Number <= v.head.Number {
		if onBranch, err := v.store.GetByNumberOnBranch(b.Number, v.head.ID); err == nil && onBranch.ID == b.ID {
			v.cache[id] = b.Number
			return b.Number, true
		}
	}
	anc, err := v.engine.CommonAncestor(b, v.head)
	if err != nil {
		return 0, false
	}
	v.cache[id] = anc.Number
	return anc.Number, true
}
