package chain

import (
	"github.com/mezonai/chainfork/block"
)

type orphan struct {
	block *block.Block
	peer  string
}

// orphanPool buffers blocks whose parent is unknown, grouped by the missing
// parent. When full, the oldest group is evicted.
type orphanPool struct {
	max      int
	byParent map[block.ID][]orphan
	ids      map[block.ID]block.ID // orphan -> parent it waits on
	order    []block.ID            // parents, oldest first
	fetching map[block.ID]struct{}
}

func newOrphanPool(max int) *orphanPool {
	return &orphanPool{
		max:      max,
		byParent: make(map[block.ID][]orphan),
		ids:      make(map[block.ID]block.ID),
		fetching: make(map[block.ID]struct{}),
	}
}

func (p *orphanPool) has(id block.ID) bool {
	_, ok := p.ids[id]
	return ok
}

func (p *orphanPool) len() int {
	return len(p.ids)
}

// add returns the blocks evicted to make room.
func (p *orphanPool) add(b *block.Block, peer string) []*block.Block {
	var evicted []*block.Block
	for len(p.ids) >= p.max && len(p.order) > 0 {
		evicted = append(evicted, p.take(p.order[0])...)
	}
	if _, ok := p.byParent[b.PreviousID]; !ok {
		p.order = append(p.order, b.PreviousID)
	}
	p.byParent[b.PreviousID] = append(p.byParent[b.PreviousID], orphan{block: b, peer: peer})
	p.ids[b.ID] = b.PreviousID
	return evicted
}

// takeChildren removes and returns the orphans waiting directly on parent.
func (p *orphanPool) takeChildren(parent block.ID) []orphan {
	children := p.byParent[parent]
	if len(children) == 0 {
		return nil
	}
	delete(p.byParent, parent)
	p.dropOrder(parent)
	for _, o := range children {
		delete(p.ids, o.block.ID)
	}
	return children
}

func (p *orphanPool) take(parent block.ID) []*block.Block {
	children := p.takeChildren(parent)
	out := make([]*block.Block, len(children))
	for i, o := range children {
		out[i] = o.block
	}
	return out
}

// dropSubtree removes everything waiting on parent, directly or through
// other orphans.
func (p *orphanPool) dropSubtree(parent block.ID) []*block.Block {
	var dropped []*block.Block
	queue := []block.ID{parent}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, b := range p.take(id) {
			dropped = append(dropped, b)
			queue = append(queue, b.ID)
		}
	}
	return dropped
}

func (p *orphanPool) dropOrder(parent block.ID) {
	for i, id := range p.order {
		if id == parent {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// startFetch reports whether the caller should fetch parent, marking it in
// flight.
func (p *orphanPool) startFetch(parent block.ID) bool {
	if _, ok := p.fetching[parent]; ok {
		return false
	}
	p.fetching[parent] = struct{}{}
	return true
}

func (p *orphanPool) endFetch(parent block.ID) {
	delete(p.fetching, parent)
}
