package chain

import (
	"sort"

	"github.com/mezonai/chainfork/block"
)

// ChainState is an immutable snapshot. The controller builds a new one per
// step and swaps it in; readers must not modify what they get.
type ChainState struct {
	CanonicalHead    *block.Block
	LastIrreversible uint64
	// KnownHeads is sorted by id and always contains CanonicalHead.
	KnownHeads []*block.Block
}

func (s *ChainState) clone() *ChainState {
	heads := make([]*block.Block, len(s.KnownHeads))
	copy(heads, s.KnownHeads)
	return &ChainState{
		CanonicalHead:    s.CanonicalHead,
		LastIrreversible: s.LastIrreversible,
		KnownHeads:       heads,
	}
}

func (s *ChainState) HeadIDs() []block.ID {
	ids := make([]block.ID, len(s.KnownHeads))
	for i, h := range s.KnownHeads {
		ids[i] = h.ID
	}
	return ids
}

func (s *ChainState) hasHead(id block.ID) bool {
	for _, h := range s.KnownHeads {
		if h.ID == id {
			return true
		}
	}
	return false
}

func (s *ChainState) removeHead(id block.ID) {
	out := s.KnownHeads[:0]
	for _, h := range s.KnownHeads {
		if h.ID != id {
			out = append(out, h)
		}
	}
	s.KnownHeads = out
}

func (s *ChainState) addHead(b *block.Block) {
	if s.hasHead(b.ID) {
		return
	}
	s.KnownHeads = append(s.KnownHeads, b)
	sort.Slice(s.KnownHeads, func(i, j int) bool {
		return s.KnownHeads[i].ID.Less(s.KnownHeads[j].ID)
	})
}
