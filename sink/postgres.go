package sink

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/events"
	"github.com/mezonai/chainfork/jsonx"
	"github.com/mezonai/chainfork/logx"
	"github.com/mezonai/chainfork/monitoring"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	DefaultBlocksPerCommit = 1000

	insertEventSQL = `INSERT INTO events_queue (event, block_num, payload, batch_id, created_at) VALUES ($1, $2, $3, $4, $5)`

	connectAttempts = 5
	connectDelay    = 3 * time.Second
	flushTimeout    = 30 * time.Second
)

// Open connects to Postgres, retrying a few times while the server comes up.
func Open(dsn string) (*sql.DB, error) {
	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if attempt > 0 {
			logx.Warn("SINK", fmt.Sprintf("Retrying database connection (attempt %d/%d): %v", attempt+1, connectAttempts, lastErr))
			time.Sleep(connectDelay)
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			lastErr = errors.WithMessage(err, "open database")
			continue
		}
		if err := db.Ping(); err != nil {
			db.Close()
			lastErr = errors.WithMessage(err, "ping database")
			continue
		}
		return db, nil
	}
	return nil, errors.WithMessagef(lastErr, "connect after %d attempts", connectAttempts)
}

// Migrate applies the embedded events_queue schema.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.WithMessage(err, "load migrations")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return errors.WithMessage(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return errors.WithMessage(err, "init migrations")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.WithMessage(err, "apply migrations")
	}
	return nil
}

type row struct {
	event    events.EventType
	blockNum uint64
	payload  []byte
	at       time.Time
}

// PostgresSink appends chain events to events_queue. In live mode every
// event is committed on its own. After BeginMassiveSync events accumulate
// and are committed every blocksPerCommit NEW_BLOCK events, and once more
// when the MASSIVE_SYNC event arrives, which also returns the sink to live
// mode.
type PostgresSink struct {
	db              *sql.DB
	blocksPerCommit int

	mu      sync.Mutex
	massive bool
	pending []row
	blocks  int
}

func NewPostgresSink(db *sql.DB, blocksPerCommit int) *PostgresSink {
	if blocksPerCommit <= 0 {
		blocksPerCommit = DefaultBlocksPerCommit
	}
	return &PostgresSink{db: db, blocksPerCommit: blocksPerCommit}
}

// Attach registers the sink as a synchronous listener on bus.
func (s *PostgresSink) Attach(bus *events.EventBus) events.SubscriberID {
	return bus.Listen(s.Handle)
}

func (s *PostgresSink) BeginMassiveSync() {
	s.mu.Lock()
	s.massive = true
	s.mu.Unlock()
	logx.Info("SINK", fmt.Sprintf("Massive sync started, committing every %d blocks", s.blocksPerCommit))
}

func (s *PostgresSink) InMassiveSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.massive
}

func (s *PostgresSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Handle queues ev and commits when the current mode asks for it. Commit
// failures are logged; the rows stay queued for the next attempt.
func (s *PostgresSink) Handle(ev events.ChainEvent) {
	payload, err := jsonx.Marshal(payloadOf(ev))
	if err != nil {
		logx.Error("SINK", fmt.Sprintf("Failed to encode %s event at block %d: %v", ev.Type(), ev.BlockNumber(), err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, row{event: ev.Type(), blockNum: ev.BlockNumber(), payload: payload, at: ev.Timestamp()})
	if ev.Type() == events.EventNewBlock {
		s.blocks++
	}

	switch {
	case ev.Type() == events.EventMassiveSync:
		s.massive = false
		if err := s.flushLocked(); err != nil {
			logx.Error("SINK", "Final massive sync commit failed: ", err)
			return
		}
		logx.Info("SINK", fmt.Sprintf("Massive sync finished at block %d", ev.BlockNumber()))
	case !s.massive, s.blocks >= s.blocksPerCommit:
		if err := s.flushLocked(); err != nil {
			logx.Error("SINK", "Commit failed: ", err)
		}
	}
}

// Flush commits everything queued.
func (s *PostgresSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *PostgresSink) flushLocked() error {
	if len(s.pending) == 0 {
		return nil
	}
	start := time.Now()
	batchID := uuid.New().String()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "begin events batch")
	}
	for _, r := range s.pending {
		if _, err := tx.ExecContext(ctx, insertEventSQL, string(r.event), int64(r.blockNum), r.payload, batchID, r.at); err != nil {
			tx.Rollback()
			return errors.WithMessagef(err, "insert %s event at block %d", r.event, r.blockNum)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WithMessage(err, "commit events batch")
	}

	monitoring.RecordSinkFlush(time.Since(start))
	logx.Debug("SINK", fmt.Sprintf("Committed %d events (%d blocks) batch=%s", len(s.pending), s.blocks, batchID))
	s.pending = s.pending[:0]
	s.blocks = 0
	return nil
}

// Close commits what is queued and closes the database.
func (s *PostgresSink) Close() error {
	flushErr := s.Flush()
	if err := s.db.Close(); err != nil && flushErr == nil {
		return err
	}
	return flushErr
}

type blockPayload struct {
	Block *block.Block `json:"block"`
}

type forkPayload struct {
	OldHead        block.ID   `json:"old_head"`
	NewHead        block.ID   `json:"new_head"`
	CommonAncestor block.ID   `json:"common_ancestor"`
	Abandoned      []block.ID `json:"abandoned"`
	Adopted        []block.ID `json:"adopted"`
}

type irreversiblePayload struct {
	BlockID block.ID `json:"block_id"`
}

type requeuePayload struct {
	TxID block.ID `json:"tx_id"`
}

func payloadOf(ev events.ChainEvent) interface{} {
	switch e := ev.(type) {
	case *events.NewBlock:
		return blockPayload{Block: e.Block}
	case *events.BackFromFork:
		return forkPayload{
			OldHead:        e.OldHead.ID,
			NewHead:        e.NewHead.ID,
			CommonAncestor: e.CommonAncestor.ID,
			Abandoned:      e.Abandoned,
			Adopted:        e.Adopted,
		}
	case *events.NewIrreversible:
		return irreversiblePayload{BlockID: e.BlockID}
	case *events.TransactionRequeued:
		return requeuePayload{TxID: e.TxID}
	default:
		return struct{}{}
	}
}
