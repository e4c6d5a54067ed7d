package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/db"
	"github.com/mezonai/chainfork/jsonx"
	"github.com/mezonai/chainfork/logx"
)

var (
	ErrOrphanBlock    = errors.New("orphan block: parent unknown")
	ErrDuplicateBlock = errors.New("duplicate block")
	ErrNotFound       = errors.New("block not found")
	ErrInvalidBlock   = errors.New("invalid block")
	// ErrPrunedAncestor means the parent was archived below the irreversible
	// marker, so the block opens a branch that can never win.
	ErrPrunedAncestor = errors.New("parent already pruned below irreversible block")
)

const (
	MetaLastIrreversible = "lib"
	MetaCanonicalHead    = "head"
)

// Store keeps every block that is still reachable from a known head in
// memory, persisting each one through the provider. Irreversible canonical
// blocks that fall below the prune threshold are archived: their record stays
// in the provider, indexed by number, and they leave the in-memory tree.
type Store struct {
	mu       sync.RWMutex
	provider db.IterableProvider
	txm      *db.DBTxManager

	blocks   map[block.ID]*block.Block
	children map[block.ID]map[block.ID]struct{}

	archivedTop uint64
	hasArchive  bool
}

func NewStore(provider db.IterableProvider) (*Store, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	return &Store{
		provider: provider,
		txm:      db.NewDBTxManager(provider),
		blocks:   make(map[block.ID]*block.Block),
		children: make(map[block.ID]map[block.ID]struct{}),
	}, nil
}

// Append inserts b. Duplicates are detected before the parent check so a
// re-delivered archived block is reported as a duplicate, not an orphan.
func (s *Store) Append(b *block.Block) error {
	if b == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[b.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, b)
	}
	archived, err := s.isArchived(b.ID)
	if err != nil {
		return err
	}
	if archived {
		return fmt.Errorf("%w: %s (archived)", ErrDuplicateBlock, b)
	}

	if b.IsGenesis() {
		if len(s.blocks) > 0 || s.hasArchive {
			return fmt.Errorf("%w: genesis %s on non-empty store", ErrInvalidBlock, b)
		}
		return s.insert(b)
	}

	parent, ok := s.blocks[b.PreviousID]
	if !ok {
		parentArchived, err := s.isArchived(b.PreviousID)
		if err != nil {
			return err
		}
		if parentArchived {
			return fmt.Errorf("%w: %s", ErrPrunedAncestor, b)
		}
		return fmt.Errorf("%w: %s parent %s", ErrOrphanBlock, b, b.PreviousID.Short())
	}
	if b.Number != parent.Number+1 {
		return fmt.Errorf("%w: %s does not follow parent %s", ErrInvalidBlock, b, parent)
	}

	return s.insert(b)
}

func (s *Store) insert(b *block.Block) error {
	value, err := jsonx.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal block %s: %w", b, err)
	}
	err = s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		batch.Put(db.BlockKey(b.ID), value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store block %s: %w", b, err)
	}

	s.blocks[b.ID] = b
	if !b.IsGenesis() {
		s.link(b.PreviousID, b.ID)
	}
	logx.Debug("BLOCKSTORE", "Appended block ", b)
	return nil
}

func (s *Store) link(parent, child block.ID) {
	set, ok := s.children[parent]
	if !ok {
		set = make(map[block.ID]struct{})
		s.children[parent] = set
	}
	set[child] = struct{}{}
}

func (s *Store) unlink(parent, child block.ID) {
	if set, ok := s.children[parent]; ok {
		delete(set, child)
		if len(set) == 0 {
			delete(s.children, parent)
		}
	}
}

func (s *Store) isArchived(id block.ID) (bool, error) {
	if !s.hasArchive {
		return false, nil
	}
	ok, err := s.provider.Has(db.FinalByIDKey(id))
	if err != nil {
		return false, fmt.Errorf("failed to check archive for %s: %w", id.Short(), err)
	}
	return ok, nil
}

// Get looks in memory first, then in the archive.
func (s *Store) Get(id block.ID) (*block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.blocks[id]; ok {
		return b, nil
	}
	archived, err := s.isArchived(id)
	if err != nil {
		return nil, err
	}
	if !archived {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Short())
	}
	return s.readBlock(id)
}

// Contains reports in-memory presence only.
func (s *Store) Contains(id block.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[id]
	return ok
}

func (s *Store) readBlock(id block.ID) (*block.Block, error) {
	value, err := s.provider.Get(db.BlockKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s: %w", id.Short(), err)
	}
	if value == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Short())
	}
	var b block.Block
	if err := jsonx.Unmarshal(value, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block %s: %w", id.Short(), err)
	}
	return &b, nil
}

// GetByNumberOnBranch walks back from head to the block at number. Numbers
// below the in-memory window resolve through the archive, which only holds
// canonical blocks.
func (s *Store) GetByNumberOnBranch(number uint64, head block.ID) (*block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.blocks[head]
	if !ok {
		return nil, fmt.Errorf("%w: head %s", ErrNotFound, head.Short())
	}
	if number > cur.Number {
		return nil, fmt.Errorf("%w: number %d above head %s", ErrNotFound, number, cur)
	}
	for cur.Number > number {
		parent, ok := s.blocks[cur.PreviousID]
		if !ok {
			return s.archivedByNumber(number)
		}
		cur = parent
	}
	return cur, nil
}

// GetCanonicalArchived returns an archived irreversible block by number.
func (s *Store) GetCanonicalArchived(number uint64) (*block.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.archivedByNumber(number)
}

func (s *Store) archivedByNumber(number uint64) (*block.Block, error) {
	if !s.hasArchive || number > s.archivedTop {
		return nil, fmt.Errorf("%w: number %d", ErrNotFound, number)
	}
	raw, err := s.provider.Get(db.FinalKey(number))
	if err != nil {
		return nil, fmt.Errorf("failed to read archive index %d: %w", number, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: number %d", ErrNotFound, number)
	}
	id, err := block.IDFromBytes(raw)
	if err != nil {
		return nil, err
	}
	return s.readBlock(id)
}

// Children returns the in-memory children of id.
func (s *Store) Children(id block.ID) []block.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]block.ID, 0, len(s.children[id]))
	for child := range s.children[id] {
		out = append(out, child)
	}
	return out
}

// Leaves returns every in-memory block without children, sorted by id.
func (s *Store) Leaves() []*block.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*block.Block
	for id, b := range s.blocks {
		if len(s.children[id]) == 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// IsAncestor reports whether a is b or an ancestor of b within memory.
func (s *Store) IsAncestor(a, b block.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAncestorLocked(a, b)
}

func (s *Store) isAncestorLocked(a, b block.ID) bool {
	target, ok := s.blocks[a]
	if !ok {
		return false
	}
	cur, ok := s.blocks[b]
	for ok && cur.Number > target.Number {
		cur, ok = s.blocks[cur.PreviousID]
	}
	return ok && cur.ID == a
}

// DiscardBranch deletes the blocks from tip down to, not including, stop.
// The walk ends early at a block that still has other children, so blocks
// shared with another branch survive. It returns the removed ids, tip first.
func (s *Store) DiscardBranch(tip, stop block.ID) ([]block.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []block.ID
	err := s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		cur, ok := s.blocks[tip]
		for ok && cur.ID != stop {
			if len(s.children[cur.ID]) > 0 {
				break
			}
			batch.Delete(db.BlockKey(cur.ID))
			removed = append(removed, cur.ID)
			parentID := cur.PreviousID
			s.unlink(parentID, cur.ID)
			delete(s.blocks, cur.ID)
			cur, ok = s.blocks[parentID]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		logx.Info("BLOCKSTORE", fmt.Sprintf("Discarded %d blocks from branch %s", len(removed), tip.Short()))
	}
	return removed, nil
}

// Remove deletes the given blocks together with their descendants, which
// would otherwise be left without a parent. Unknown ids are ignored.
func (s *Store) Remove(ids []block.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doomed := make(map[block.ID]struct{})
	for _, id := range ids {
		if _, ok := s.blocks[id]; ok {
			s.collectSubtree(id, doomed)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	err := s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		for id := range doomed {
			batch.Delete(db.BlockKey(id))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to remove %d blocks: %w", len(doomed), err)
	}
	for id := range doomed {
		if b, ok := s.blocks[id]; ok {
			s.unlink(b.PreviousID, id)
			delete(s.blocks, id)
		}
		delete(s.children, id)
	}
	logx.Info("BLOCKSTORE", fmt.Sprintf("Removed %d blocks", len(doomed)))
	return len(doomed), nil
}

// PruneBelow reclaims blocks numbered below threshold. Canonical ancestors of
// canonicalHead are archived; anything else below threshold is deleted along
// with its descendants. Ancestors of the heads in keep are left untouched.
func (s *Store) PruneBelow(threshold uint64, canonicalHead block.ID, keep []block.ID) (archived, deleted int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	canonical := make(map[block.ID]struct{})
	for cur, ok := s.blocks[canonicalHead]; ok; cur, ok = s.blocks[cur.PreviousID] {
		canonical[cur.ID] = struct{}{}
	}
	protected := make(map[block.ID]struct{})
	for _, head := range keep {
		if head == canonicalHead {
			continue
		}
		for cur, ok := s.blocks[head]; ok; cur, ok = s.blocks[cur.PreviousID] {
			protected[cur.ID] = struct{}{}
		}
	}

	var toArchive []*block.Block
	toDelete := make(map[block.ID]struct{})
	for id, b := range s.blocks {
		if b.Number >= threshold {
			continue
		}
		if _, ok := protected[id]; ok {
			continue
		}
		if _, ok := canonical[id]; ok {
			toArchive = append(toArchive, b)
			continue
		}
		s.collectSubtree(id, toDelete)
	}

	err = s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		for _, b := range toArchive {
			batch.Put(db.FinalKey(b.Number), b.ID[:])
			num := make([]byte, 8)
			binary.BigEndian.PutUint64(num, b.Number)
			batch.Put(db.FinalByIDKey(b.ID), num)
		}
		for id := range toDelete {
			batch.Delete(db.BlockKey(id))
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune below %d: %w", threshold, err)
	}

	for _, b := range toArchive {
		s.unlink(b.PreviousID, b.ID)
		delete(s.blocks, b.ID)
		if !s.hasArchive || b.Number > s.archivedTop {
			s.archivedTop = b.Number
		}
		s.hasArchive = true
	}
	for id := range toDelete {
		if b, ok := s.blocks[id]; ok {
			s.unlink(b.PreviousID, id)
			delete(s.blocks, id)
		}
	}
	// archived parents no longer need a children entry
	for _, b := range toArchive {
		delete(s.children, b.ID)
	}

	if len(toArchive)+len(toDelete) > 0 {
		logx.Info("BLOCKSTORE", fmt.Sprintf("Pruned below %d: archived=%d deleted=%d remaining=%d",
			threshold, len(toArchive), len(toDelete), len(s.blocks)))
	}
	return len(toArchive), len(toDelete), nil
}

func (s *Store) collectSubtree(root block.ID, into map[block.ID]struct{}) {
	stack := []block.ID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := into[id]; seen {
			continue
		}
		into[id] = struct{}{}
		for child := range s.children[id] {
			stack = append(stack, child)
		}
	}
}

// SetMeta persists the irreversible number and canonical head together.
func (s *Store) SetMeta(lib uint64, head block.ID) error {
	return s.txm.WithBatch(func(batch db.DatabaseBatch) error {
		num := make([]byte, 8)
		binary.BigEndian.PutUint64(num, lib)
		batch.Put(db.MetaKey(MetaLastIrreversible), num)
		batch.Put(db.MetaKey(MetaCanonicalHead), head[:])
		return nil
	})
}

// Meta reads what SetMeta wrote; found is false on a fresh store.
func (s *Store) Meta() (lib uint64, head block.ID, found bool, err error) {
	got, err := s.provider.GetBatch([][]byte{
		db.MetaKey(MetaLastIrreversible),
		db.MetaKey(MetaCanonicalHead),
	})
	if err != nil {
		return 0, head, false, fmt.Errorf("failed to load metadata: %w", err)
	}
	rawLIB, okLIB := got[string(db.MetaKey(MetaLastIrreversible))]
	rawHead, okHead := got[string(db.MetaKey(MetaCanonicalHead))]
	if !okLIB || !okHead {
		return 0, head, false, nil
	}
	if len(rawLIB) != 8 {
		return 0, head, false, fmt.Errorf("invalid last irreversible value length: %d", len(rawLIB))
	}
	head, err = block.IDFromBytes(rawHead)
	if err != nil {
		return 0, head, false, err
	}
	return binary.BigEndian.Uint64(rawLIB), head, true, nil
}

// Load rebuilds the in-memory tree from the provider. Archived blocks stay
// on disk.
func (s *Store) Load() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	archived := make(map[block.ID]struct{})
	err := s.provider.IteratePrefix([]byte(db.PrefixFinalByID), func(key, value []byte) bool {
		id, err := block.IDFromBytes(key[len(db.PrefixFinalByID):])
		if err != nil || len(value) != 8 {
			logx.Warn("BLOCKSTORE", "Skipping malformed archive entry")
			return true
		}
		archived[id] = struct{}{}
		if n := binary.BigEndian.Uint64(value); !s.hasArchive || n > s.archivedTop {
			s.archivedTop = n
		}
		s.hasArchive = true
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan archive: %w", err)
	}

	var decodeErr error
	err = s.provider.IteratePrefix([]byte(db.PrefixBlock), func(key, value []byte) bool {
		id, err := block.IDFromBytes(key[len(db.PrefixBlock):])
		if err != nil {
			return true
		}
		if _, ok := archived[id]; ok {
			return true
		}
		var b block.Block
		if err := jsonx.Unmarshal(value, &b); err != nil {
			decodeErr = fmt.Errorf("failed to unmarshal block %s: %w", id.Short(), err)
			return false
		}
		s.blocks[b.ID] = &b
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan blocks: %w", err)
	}
	if decodeErr != nil {
		return 0, decodeErr
	}

	for id, b := range s.blocks {
		if !b.IsGenesis() {
			s.link(b.PreviousID, id)
		}
	}

	logx.Info("BLOCKSTORE", fmt.Sprintf("Loaded %d blocks, %d archived", len(s.blocks), len(archived)))
	return len(s.blocks), nil
}

func (s *Store) Close() error {
	return s.provider.Close()
}
