package mempool

import (
	"github.com/mezonai/chainfork/block"
)

// DedupService remembers requeued transaction ids, indexed by the number of
// the block they were abandoned from. Callers hold the mempool lock.
type DedupService struct {
	seen     map[block.ID]uint64
	byNumber map[uint64]map[block.ID]struct{}
}

func NewDedupService() *DedupService {
	return &DedupService{
		seen:     make(map[block.ID]uint64),
		byNumber: make(map[uint64]map[block.ID]struct{}),
	}
}

func (ds *DedupService) IsDuplicate(id block.ID) bool {
	_, ok := ds.seen[id]
	return ok
}

func (ds *DedupService) Add(number uint64, ids ...block.ID) {
	set, ok := ds.byNumber[number]
	if !ok {
		set = make(map[block.ID]struct{})
		ds.byNumber[number] = set
	}
	for _, id := range ids {
		ds.Forget(id)
		ds.seen[id] = number
		set[id] = struct{}{}
	}
}

// Forget drops ids regardless of the block number they were recorded at.
func (ds *DedupService) Forget(ids ...block.ID) {
	for _, id := range ids {
		number, ok := ds.seen[id]
		if !ok {
			continue
		}
		delete(ds.seen, id)
		if set := ds.byNumber[number]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(ds.byNumber, number)
			}
		}
	}
}

func (ds *DedupService) CleanUpBelow(number uint64) {
	for n, ids := range ds.byNumber {
		if n > number {
			continue
		}
		for id := range ids {
			delete(ds.seen, id)
		}
		delete(ds.byNumber, n)
	}
}

func (ds *DedupService) Len() int {
	return len(ds.seen)
}
