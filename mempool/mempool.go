package mempool

import (
	"sync"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/monitoring"
)

// Mempool is a thread-safe FIFO of pending transactions, unique by id.
type Mempool struct {
	mu      sync.Mutex
	order   []block.ID
	pending map[block.ID]*block.Transaction
	dedup   *DedupService
}

func NewMempool() *Mempool {
	return &Mempool{
		pending: make(map[block.ID]*block.Transaction),
		dedup:   NewDedupService(),
	}
}

// Add queues tx unless it is already pending.
func (m *Mempool) Add(tx *block.Transaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(tx)
}

func (m *Mempool) addLocked(tx *block.Transaction) bool {
	if _, ok := m.pending[tx.ID]; ok {
		return false
	}
	m.pending[tx.ID] = tx
	m.order = append(m.order, tx.ID)
	monitoring.SetMempoolSize(len(m.pending))
	return true
}

// Requeue returns a transaction from an abandoned block at number. A
// transaction is requeued at most once until it lands in a canonical block
// again; RemoveIncluded rearms it for the next reorg.
func (m *Mempool) Requeue(tx *block.Transaction, number uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dedup.IsDuplicate(tx.ID) {
		return false
	}
	if !m.addLocked(tx) {
		return false
	}
	m.dedup.Add(number, tx.ID)
	return true
}

// RemoveIncluded drops transactions that made it into a canonical block and
// forgets their requeue history.
func (m *Mempool) RemoveIncluded(ids []block.ID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dedup.Forget(ids...)
	removed := 0
	for _, id := range ids {
		if _, ok := m.pending[id]; ok {
			delete(m.pending, id)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.pending[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
	monitoring.SetMempoolSize(len(m.pending))
	return removed
}

// CleanUpBelow forgets requeue history for blocks at or below number.
func (m *Mempool) CleanUpBelow(number uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup.CleanUpBelow(number)
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mempool) Has(id block.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[id]
	return ok
}

// GetBatch returns up to max transactions in arrival order without removing
// them.
func (m *Mempool) GetBatch(max int) []*block.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) < max {
		max = len(m.order)
	}
	batch := make([]*block.Transaction, max)
	for i := 0; i < max; i++ {
		batch[i] = m.pending[m.order[i]]
	}
	return batch
}
