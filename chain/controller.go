package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/blockstore"
	"github.com/mezonai/chainfork/consensus"
	"github.com/mezonai/chainfork/events"
	"github.com/mezonai/chainfork/exception"
	"github.com/mezonai/chainfork/forkchoice"
	"github.com/mezonai/chainfork/logx"
	"github.com/mezonai/chainfork/monitoring"
	"golang.org/x/sync/errgroup"
)

var ErrNotInitialized = errors.New("chain not initialized")

type Outcome int

const (
	Applied Outcome = iota
	Duplicate
	Orphaned
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Orphaned:
		return "orphaned"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes what one ProcessBlock call did. Reason carries the
// recoverable error behind a Rejected, Orphaned or Duplicate outcome.
type Result struct {
	Outcome          Outcome
	Decision         *forkchoice.Decision
	LIBAdvanced      bool
	LastIrreversible uint64
	Reason           error
}

type Mempool interface {
	Requeue(tx *block.Transaction, number uint64) bool
	RemoveIncluded(ids []block.ID) int
	CleanUpBelow(number uint64)
}

type Publisher interface {
	Publish(event events.ChainEvent)
}

type Repairer interface {
	Fetch(ctx context.Context, peers []string, id block.ID) (*block.Block, error)
}

type PeerBook interface {
	FlagDivergent(peerID, reason string)
	RankPeers(candidates []string) []string
}

type Options struct {
	Mempool  Mempool
	Events   Publisher
	Repairer Repairer
	Peers    PeerBook
	// RepairPeers are asked for missing ancestors after the peer that sent
	// the orphan.
	RepairPeers       []string
	MaxOrphans        int
	VerifySignatures  bool
	ValidationWorkers int
}

type InboundBlock struct {
	Peer  string
	Block *block.Block
}

type noopPublisher struct{}

func (noopPublisher) Publish(events.ChainEvent) {}

type noopMempool struct{}

func (noopMempool) Requeue(*block.Transaction, uint64) bool { return false }
func (noopMempool) RemoveIncluded([]block.ID) int          { return 0 }
func (noopMempool) CleanUpBelow(uint64)                    {}

type arrival struct {
	number uint64
	at     time.Time
}

// Controller is the single writer over the block store, the fork choice
// engine and the confirmation tracker. Every mutation runs under mu and ends
// by swapping in a new ChainState; readers only load the snapshot.
type Controller struct {
	mu      sync.Mutex
	state   atomic.Pointer[ChainState]
	store   *blockstore.Store
	engine  *forkchoice.Engine
	tracker *consensus.Tracker
	opts    Options

	orphans  *orphanPool
	arrivals map[block.ID]arrival
	repairs  sync.WaitGroup

	// lifetime bounds ancestor fetches; it outlives the requests that
	// trigger them and ends with Close.
	lifetime context.Context
	stop     context.CancelFunc
}

func NewController(store *blockstore.Store, tracker *consensus.Tracker, opts Options) (*Controller, error) {
	if store == nil || tracker == nil {
		return nil, fmt.Errorf("store and tracker are required")
	}
	if opts.Events == nil {
		opts.Events = noopPublisher{}
	}
	if opts.Mempool == nil {
		opts.Mempool = noopMempool{}
	}
	if opts.MaxOrphans <= 0 {
		opts.MaxOrphans = 1024
	}
	if opts.ValidationWorkers <= 0 {
		opts.ValidationWorkers = 4
	}
	lifetime, stop := context.WithCancel(context.Background())
	return &Controller{
		store:    store,
		engine:   forkchoice.NewEngine(store),
		tracker:  tracker,
		opts:     opts,
		orphans:  newOrphanPool(opts.MaxOrphans),
		arrivals: make(map[block.ID]arrival),
		lifetime: lifetime,
		stop:     stop,
	}, nil
}

// Init restores the chain from the store, or starts a fresh one from
// genesis when the store holds no metadata.
func (c *Controller) Init(genesis *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.store.Load(); err != nil {
		return err
	}
	lib, headID, found, err := c.store.Meta()
	if err != nil {
		return err
	}
	if found {
		return c.restoreLocked(lib, headID)
	}

	if genesis == nil {
		return fmt.Errorf("%w: empty store and no genesis", ErrNotInitialized)
	}
	if err := genesis.Validate(); err != nil {
		return fmt.Errorf("invalid genesis: %w", err)
	}
	if !genesis.IsGenesis() {
		return fmt.Errorf("invalid genesis: %s has a parent", genesis)
	}
	if err := c.store.Append(genesis); err != nil && !errors.Is(err, blockstore.ErrDuplicateBlock) {
		return err
	}
	st := &ChainState{
		CanonicalHead:    genesis,
		LastIrreversible: genesis.Number,
		KnownHeads:       []*block.Block{genesis},
	}
	c.tracker.Reset(genesis.Number)
	c.commit(nil, st)
	logx.Info("CHAIN", "Initialized from genesis ", genesis)
	return nil
}

func (c *Controller) restoreLocked(lib uint64, headID block.ID) error {
	head, err := c.store.Get(headID)
	if err != nil {
		return fmt.Errorf("restore head: %w", err)
	}
	st := &ChainState{CanonicalHead: head, LastIrreversible: lib}
	for _, leaf := range c.store.Leaves() {
		if leaf.ID == head.ID {
			continue
		}
		anc, err := c.engine.CommonAncestor(leaf, head)
		if err != nil || anc.Number < lib {
			if _, err := c.store.DiscardBranch(leaf.ID, block.ZeroID); err != nil {
				return err
			}
			continue
		}
		st.addHead(leaf)
	}
	st.addHead(head)
	c.tracker.Reset(lib)
	c.commit(nil, st)
	logx.Info("CHAIN", fmt.Sprintf("Restored head=%s lib=%d heads=%d", head, lib, len(st.KnownHeads)))
	return nil
}

// Validate runs the stateless checks applied before a block reaches the
// serial step.
func (c *Controller) Validate(b *block.Block) error {
	if b == nil {
		return fmt.Errorf("%w: nil block", blockstore.ErrInvalidBlock)
	}
	if err := b.Validate(); err != nil {
		return fmt.Errorf("%w: %v", blockstore.ErrInvalidBlock, err)
	}
	if c.opts.VerifySignatures && !b.IsGenesis() {
		if err := b.VerifyProducerSignature(); err != nil {
			return fmt.Errorf("%w: %v", blockstore.ErrInvalidBlock, err)
		}
	}
	return nil
}

// ValidateParallel validates blocks on a bounded worker pool. The returned
// slice lines up with blocks; nil means valid.
func (c *Controller) ValidateParallel(ctx context.Context, blocks []*block.Block) []error {
	errs := make([]error, len(blocks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.ValidationWorkers)
	for i, b := range blocks {
		i, b := i, b
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = c.Validate(b)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// ProcessBlock runs one block through append, fork choice, reorg and
// irreversibility. Recoverable problems come back in Result.Reason with a
// nil error; a non-nil error is either a storage failure or
// consensus.ErrNonMonotonicLIB.
func (c *Controller) ProcessBlock(ctx context.Context, peer string, b *block.Block) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := c.Validate(b); err != nil {
		monitoring.RecordBlockOutcome(monitoring.BlockInvalid)
		logx.Warn("CHAIN", fmt.Sprintf("Invalid block from %s: %v", peer, err))
		return Result{Outcome: Rejected, Reason: err, LastIrreversible: c.LastIrreversible()}, nil
	}

	start := time.Now()
	c.mu.Lock()
	res, err := c.processLocked(peer, b)
	var fetch bool
	if res.Outcome == Orphaned && c.opts.Repairer != nil {
		fetch = c.orphans.startFetch(b.PreviousID)
	}
	c.mu.Unlock()
	monitoring.RecordControllerStep(time.Since(start))

	if fetch {
		c.startRepair(peer, b.PreviousID)
	}
	return res, err
}

func (c *Controller) processLocked(peer string, b *block.Block) (Result, error) {
	if c.state.Load() == nil {
		return Result{}, ErrNotInitialized
	}
	res, err := c.stepLocked(peer, b)
	if res.Outcome != Applied {
		return res, err
	}

	// descendants that were waiting on b, and on them in turn
	queue := []block.ID{b.ID}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for _, o := range c.orphans.takeChildren(parent) {
			childRes, childErr := c.stepLocked(o.peer, o.block)
			if childErr != nil {
				logx.Error("CHAIN", fmt.Sprintf("Buffered block %s failed: %v", o.block, childErr))
				if err == nil {
					err = childErr
				}
			}
			if childRes.Outcome == Applied {
				queue = append(queue, o.block.ID)
			}
		}
	}
	res.LastIrreversible = c.state.Load().LastIrreversible
	return res, err
}

func (c *Controller) stepLocked(peer string, b *block.Block) (Result, error) {
	prev := c.state.Load()

	if err := c.store.Append(b); err != nil {
		res := Result{Reason: err, LastIrreversible: prev.LastIrreversible}
		switch {
		case errors.Is(err, blockstore.ErrDuplicateBlock):
			res.Outcome = Duplicate
			monitoring.RecordBlockOutcome(monitoring.BlockDup)
			logx.Debug("CHAIN", "Ignoring duplicate ", b)
			return res, nil
		case errors.Is(err, blockstore.ErrOrphanBlock):
			res.Outcome = Orphaned
			if c.orphans.has(b.ID) {
				return res, nil
			}
			for _, ev := range c.orphans.add(b, peer) {
				monitoring.RecordOrphan(monitoring.OrphanEvicted)
				logx.Warn("CHAIN", "Evicted orphan ", ev)
			}
			monitoring.RecordBlockOutcome(monitoring.BlockOrphaned)
			logx.Info("CHAIN", fmt.Sprintf("Buffered orphan %s from %s, missing %s", b, peer, b.PreviousID.Short()))
			return res, nil
		case errors.Is(err, blockstore.ErrPrunedAncestor):
			res.Outcome = Rejected
			res.Reason = fmt.Errorf("%w: %v", forkchoice.ErrIrreversibleConflict, err)
			c.rejectDivergent(peer, b, res.Reason)
			return res, nil
		case errors.Is(err, blockstore.ErrInvalidBlock):
			res.Outcome = Rejected
			monitoring.RecordBlockOutcome(monitoring.BlockInvalid)
			logx.Warn("CHAIN", fmt.Sprintf("Rejected %s from %s: %v", b, peer, err))
			return res, nil
		default:
			return res, err
		}
	}
	c.arrivals[b.ID] = arrival{number: b.Number, at: time.Now()}

	decision, err := c.engine.Evaluate(forkchoice.State{Head: prev.CanonicalHead, LastIrreversible: prev.LastIrreversible}, b)
	if err != nil {
		if errors.Is(err, forkchoice.ErrIrreversibleConflict) {
			if _, derr := c.store.DiscardBranch(b.ID, block.ZeroID); derr != nil {
				return Result{}, derr
			}
			delete(c.arrivals, b.ID)
			c.rejectDivergent(peer, b, err)
			return Result{Outcome: Rejected, Reason: err, LastIrreversible: prev.LastIrreversible}, nil
		}
		return Result{}, err
	}

	st := prev.clone()
	switch decision.Kind {
	case forkchoice.Extend:
		st.removeHead(prev.CanonicalHead.ID)
		st.CanonicalHead = b
		st.addHead(b)
		c.opts.Mempool.RemoveIncluded(b.TxIDs())
		c.opts.Events.Publish(events.NewNewBlock(b))
	case forkchoice.NewCompetingHead:
		st.removeHead(b.PreviousID)
		st.addHead(b)
		logx.Info("CHAIN", "New competing head ", b, " forking at ", decision.CommonAncestor)
	case forkchoice.SwitchHead:
		if err := c.reorgLocked(st, decision); err != nil {
			return Result{}, err
		}
	}
	monitoring.RecordBlockOutcome(monitoring.BlockApplied)

	res := Result{Outcome: Applied, Decision: &decision}
	advanced, err := c.recomputeLocked(st)
	res.LIBAdvanced = advanced
	res.LastIrreversible = st.LastIrreversible
	c.commit(prev, st)
	return res, err
}

// reorgLocked moves st onto the branch ending at d.NewHead.
func (c *Controller) reorgLocked(st *ChainState, d forkchoice.Decision) error {
	abandoned, adopted, err := c.engine.Diff(d.OldHead, d.NewHead, d.CommonAncestor)
	if err != nil {
		return fmt.Errorf("reorg diff: %w", err)
	}

	st.removeHead(d.NewHead.PreviousID)
	st.CanonicalHead = d.NewHead
	st.addHead(d.NewHead)

	adoptedTxs := make(map[block.ID]struct{})
	var adoptedIDs []block.ID
	for _, b := range adopted {
		for _, id := range b.TxIDs() {
			adoptedTxs[id] = struct{}{}
			adoptedIDs = append(adoptedIDs, id)
		}
	}
	c.opts.Mempool.RemoveIncluded(adoptedIDs)

	var requeued []*events.TransactionRequeued
	for _, b := range abandoned {
		for _, tx := range b.Transactions {
			if _, ok := adoptedTxs[tx.ID]; ok {
				continue
			}
			if c.opts.Mempool.Requeue(tx, b.Number) {
				requeued = append(requeued, events.NewTransactionRequeued(tx.ID, b.Number))
			}
		}
	}
	monitoring.AddRequeuedTx(len(requeued))

	// the old head stays a known head unless nothing else holds its branch
	removed, err := c.store.DiscardBranch(d.OldHead.ID, d.CommonAncestor.ID)
	if err != nil {
		return err
	}
	if len(removed) > 0 && removed[0] == d.OldHead.ID {
		st.removeHead(d.OldHead.ID)
		for _, id := range removed {
			delete(c.arrivals, id)
		}
	}
	c.engine.ResetMemo()

	monitoring.RecordReorg(len(abandoned))
	logx.Info("CHAIN", fmt.Sprintf("Switched head %s -> %s at %s, abandoned=%d adopted=%d requeued=%d",
		d.OldHead, d.NewHead, d.CommonAncestor, len(abandoned), len(adopted), len(requeued)))

	c.opts.Events.Publish(events.NewBackFromFork(d.OldHead, d.NewHead, d.CommonAncestor, abandoned, adopted))
	for _, ev := range requeued {
		c.opts.Events.Publish(ev)
	}
	for _, b := range adopted {
		c.opts.Events.Publish(events.NewNewBlock(b))
	}
	return nil
}

func (c *Controller) rejectDivergent(peer string, b *block.Block, reason error) {
	monitoring.RecordBlockOutcome(monitoring.BlockRejected)
	logx.Warn("CHAIN", fmt.Sprintf("Discarded %s from %s: %v", b, peer, reason))
	if c.opts.Peers != nil && peer != "" {
		c.opts.Peers.FlagDivergent(peer, reason.Error())
	}
	for _, dropped := range c.orphans.dropSubtree(b.ID) {
		monitoring.RecordOrphan(monitoring.OrphanDiscarded)
		logx.Debug("CHAIN", "Dropped orphan ", dropped, " of divergent ", b)
	}
}

// recomputeLocked asks the tracker for a new LIB against st's canonical
// head and applies an advance to st.
func (c *Controller) recomputeLocked(st *ChainState) (bool, error) {
	if c.tracker.Halted() {
		return false, nil
	}
	lib, advanced, err := c.tracker.Recompute(newCanonicalView(c.store, c.engine, st.CanonicalHead))
	if err != nil {
		if errors.Is(err, consensus.ErrNonMonotonicLIB) {
			monitoring.SetIrreversibilityHalted(true)
			logx.Error("CHAIN", "Irreversibility halted: ", err)
			return false, err
		}
		if errors.Is(err, consensus.ErrHalted) {
			return false, nil
		}
		return false, err
	}
	if !advanced {
		return false, nil
	}
	if lib > st.CanonicalHead.Number {
		return false, fmt.Errorf("lib %d above canonical head %s", lib, st.CanonicalHead)
	}
	return true, c.advanceLocked(st, lib)
}

func (c *Controller) advanceLocked(st *ChainState, lib uint64) error {
	libBlock, err := c.store.GetByNumberOnBranch(lib, st.CanonicalHead.ID)
	if err != nil {
		return fmt.Errorf("lib block %d: %w", lib, err)
	}
	prevLIB := st.LastIrreversible
	st.LastIrreversible = lib

	for id, a := range c.arrivals {
		if a.number > lib {
			continue
		}
		if id == libBlock.ID {
			monitoring.RecordTimeToIrreversible(time.Since(a.at))
		}
		delete(c.arrivals, id)
	}

	// a conflicting head goes with its whole branch: the subtree rooted just
	// above the fork point holds nothing canonical
	var roots []block.ID
	for _, h := range append([]*block.Block(nil), st.KnownHeads...) {
		if h.ID == st.CanonicalHead.ID {
			continue
		}
		anc, err := c.engine.CommonAncestor(h, st.CanonicalHead)
		if err == nil && anc.Number >= lib {
			continue
		}
		if anc == nil {
			if _, err := c.store.DiscardBranch(h.ID, block.ZeroID); err != nil {
				return err
			}
		} else if root, err := c.store.GetByNumberOnBranch(anc.Number+1, h.ID); err == nil {
			roots = append(roots, root.ID)
		}
		st.removeHead(h.ID)
		logx.Info("CHAIN", "Dropped head ", h, " conflicting with lib ", lib)
	}
	if _, err := c.store.Remove(roots); err != nil {
		return err
	}

	archived, deleted, err := c.store.PruneBelow(lib, st.CanonicalHead.ID, st.HeadIDs())
	if err != nil {
		return err
	}
	c.tracker.Prune(lib)
	c.opts.Mempool.CleanUpBelow(lib)
	c.engine.ResetMemo()

	logx.Info("CHAIN", fmt.Sprintf("LIB %d -> %d (%s) archived=%d deleted=%d", prevLIB, lib, libBlock.ID.Short(), archived, deleted))
	c.opts.Events.Publish(events.NewNewIrreversible(lib, libBlock.ID))
	return nil
}

// commit persists metadata when it moved and publishes st.
func (c *Controller) commit(prev, st *ChainState) {
	if prev == nil || prev.CanonicalHead.ID != st.CanonicalHead.ID || prev.LastIrreversible != st.LastIrreversible {
		if err := c.store.SetMeta(st.LastIrreversible, st.CanonicalHead.ID); err != nil {
			logx.Error("CHAIN", "Failed to persist chain metadata: ", err)
		}
	}
	c.state.Store(st)
	monitoring.SetHeadNumber(st.CanonicalHead.Number)
	monitoring.SetLastIrreversible(st.LastIrreversible)
	monitoring.SetKnownHeads(len(st.KnownHeads))
}

// ProcessConfirmation records c and recomputes the irreversible block.
func (c *Controller) ProcessConfirmation(ctx context.Context, conf *consensus.Confirmation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if conf == nil {
		return false, fmt.Errorf("nil confirmation")
	}
	if c.opts.VerifySignatures {
		if err := conf.Verify(); err != nil {
			return false, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state.Load()
	if prev == nil {
		return false, ErrNotInitialized
	}
	if err := c.tracker.RecordConfirmation(conf); err != nil {
		return false, err
	}
	monitoring.IncreaseConfirmationCount()

	st := prev.clone()
	advanced, err := c.recomputeLocked(st)
	if advanced {
		c.commit(prev, st)
	}
	return advanced, err
}

// SetValidators replaces the validator set between steps.
func (c *Controller) SetValidators(vs *consensus.ValidatorSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.SetValidators(vs)
	logx.Info("CHAIN", fmt.Sprintf("Validator set updated, %d validators", vs.Len()))
}

// ResumeIrreversibility clears a halt after operator intervention.
func (c *Controller) ResumeIrreversibility() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.state.Load(); st != nil {
		c.tracker.Reset(st.LastIrreversible)
	}
	monitoring.SetIrreversibilityHalted(false)
	logx.Warn("CHAIN", "Irreversibility resumed by operator")
}

func (c *Controller) startRepair(peer string, missing block.ID) {
	c.repairs.Add(1)
	exception.SafeGo("chain-repair", func() {
		defer c.repairs.Done()
		c.repair(c.lifetime, peer, missing)
	})
}

func (c *Controller) repair(ctx context.Context, peer string, missing block.ID) {
	candidates := make([]string, 0, len(c.opts.RepairPeers)+1)
	if peer != "" {
		candidates = append(candidates, peer)
	}
	for _, p := range c.opts.RepairPeers {
		if p != peer {
			candidates = append(candidates, p)
		}
	}
	if c.opts.Peers != nil {
		candidates = c.opts.Peers.RankPeers(candidates)
	}

	fetched, err := c.opts.Repairer.Fetch(ctx, candidates, missing)

	c.mu.Lock()
	c.orphans.endFetch(missing)
	if err != nil {
		dropped := c.orphans.dropSubtree(missing)
		c.mu.Unlock()
		for range dropped {
			monitoring.RecordOrphan(monitoring.OrphanDiscarded)
		}
		logx.Warn("CHAIN", fmt.Sprintf("Repair of %s failed, discarded %d orphans: %v", missing.Short(), len(dropped), err))
		return
	}
	c.mu.Unlock()

	monitoring.RecordOrphan(monitoring.OrphanRepaired)
	if _, err := c.ProcessBlock(ctx, peer, fetched); err != nil {
		logx.Error("CHAIN", fmt.Sprintf("Repaired block %s failed: %v", fetched, err))
		c.mu.Lock()
		dropped := c.orphans.dropSubtree(missing)
		c.mu.Unlock()
		for range dropped {
			monitoring.RecordOrphan(monitoring.OrphanDiscarded)
		}
	}
}

// WaitForRepairs blocks until in-flight ancestor fetches finish.
func (c *Controller) WaitForRepairs() {
	c.repairs.Wait()
}

// Close cancels in-flight ancestor fetches and waits for them to return.
func (c *Controller) Close() {
	c.stop()
	c.repairs.Wait()
}

// Run consumes the inbound feeds serially until ctx is done or both feeds
// are closed. A halted irreversibility is logged and the loop keeps running
// fork choice.
func (c *Controller) Run(ctx context.Context, blocks <-chan InboundBlock, confirmations <-chan *consensus.Confirmation) error {
	for blocks != nil || confirmations != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-blocks:
			if !ok {
				blocks = nil
				continue
			}
			if _, err := c.ProcessBlock(ctx, in.Peer, in.Block); err != nil {
				logx.Error("CHAIN", fmt.Sprintf("Block %s from %s: %v", in.Block, in.Peer, err))
			}
		case conf, ok := <-confirmations:
			if !ok {
				confirmations = nil
				continue
			}
			if _, err := c.ProcessConfirmation(ctx, conf); err != nil {
				logx.Warn("CHAIN", "Confirmation rejected: ", err)
			}
		}
	}
	return nil
}

func (c *Controller) State() *ChainState {
	return c.state.Load()
}

func (c *Controller) Head() *block.Block {
	if st := c.state.Load(); st != nil {
		return st.CanonicalHead
	}
	return nil
}

func (c *Controller) LastIrreversible() uint64 {
	if st := c.state.Load(); st != nil {
		return st.LastIrreversible
	}
	return 0
}

func (c *Controller) Halted() bool {
	return c.tracker.Halted()
}

func (c *Controller) Status(number uint64) consensus.Status {
	return c.tracker.Status(number)
}

func (c *Controller) Tracker() *consensus.Tracker {
	return c.tracker
}

// BlockByNumber returns the canonical block at number. A snapshot whose head
// was discarded by a concurrent reorg is retried against the next one.
func (c *Controller) BlockByNumber(number uint64) (*block.Block, error) {
	var err error
	for i := 0; i < 3; i++ {
		st := c.state.Load()
		if st == nil {
			return nil, ErrNotInitialized
		}
		if number > st.CanonicalHead.Number {
			return nil, fmt.Errorf("%w: number %d above head %d", blockstore.ErrNotFound, number, st.CanonicalHead.Number)
		}
		var b *block.Block
		b, err = c.store.GetByNumberOnBranch(number, st.CanonicalHead.ID)
		if err == nil {
			return b, nil
		}
		if c.state.Load() == st {
			return nil, err
		}
	}
	return nil, err
}

// BlockByID returns a block from any known branch or the archive.
func (c *Controller) BlockByID(id block.ID) (*block.Block, error) {
	return c.store.Get(id)
}
