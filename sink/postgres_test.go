package sink

import (
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/block/blocktest"
	"github.com/mezonai/chainfork/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSink(t *testing.T, blocksPerCommit int) (*PostgresSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresSink(db, blocksPerCommit), mock
}

func expectInsert(mock sqlmock.Sqlmock, event events.EventType, number int64) {
	mock.ExpectExec("INSERT INTO events_queue").
		WithArgs(string(event), number, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestPostgresSink_LiveCommitsEachEvent(t *testing.T) {
	s, mock := newMockSink(t, 0)
	bus := events.NewEventBus()
	s.Attach(bus)

	bld := blocktest.NewBuilder()
	g := bld.Genesis()
	b1 := bld.Child(g)

	mock.ExpectBegin()
	expectInsert(mock, events.EventNewBlock, 1)
	mock.ExpectCommit()
	mock.ExpectBegin()
	expectInsert(mock, events.EventNewIrreversible, 1)
	mock.ExpectCommit()

	bus.Publish(events.NewNewBlock(b1))
	bus.Publish(events.NewNewIrreversible(1, b1.ID))

	assert.Equal(t, 0, s.Pending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_MassiveSyncBatches(t *testing.T) {
	s, mock := newMockSink(t, 2)
	bld := blocktest.NewBuilder()
	chain := bld.Chain(bld.Genesis(), 3)

	s.BeginMassiveSync()
	require.True(t, s.InMassiveSync())

	mock.ExpectBegin()
	expectInsert(mock, events.EventNewBlock, 1)
	expectInsert(mock, events.EventNewIrreversible, 1)
	expectInsert(mock, events.EventNewBlock, 2)
	mock.ExpectCommit()

	s.Handle(events.NewNewBlock(chain[0]))
	s.Handle(events.NewNewIrreversible(1, chain[0].ID))
	assert.Equal(t, 2, s.Pending())
	s.Handle(events.NewNewBlock(chain[1]))
	assert.Equal(t, 0, s.Pending())

	mock.ExpectBegin()
	expectInsert(mock, events.EventNewBlock, 3)
	expectInsert(mock, events.EventMassiveSync, 3)
	mock.ExpectCommit()

	s.Handle(events.NewNewBlock(chain[2]))
	assert.Equal(t, 1, s.Pending())
	s.Handle(events.NewMassiveSync(3))

	assert.False(t, s.InMassiveSync())
	assert.Equal(t, 0, s.Pending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_FailedCommitKeepsRows(t *testing.T) {
	s, mock := newMockSink(t, 0)
	bld := blocktest.NewBuilder()
	g := bld.Genesis()
	b1 := bld.Child(g)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events_queue").WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	s.Handle(events.NewNewBlock(b1))
	assert.Equal(t, 1, s.Pending())

	mock.ExpectBegin()
	expectInsert(mock, events.EventNewBlock, 1)
	mock.ExpectCommit()
	require.NoError(t, s.Flush())
	assert.Equal(t, 0, s.Pending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPayloadOf_BackFromFork(t *testing.T) {
	bld := blocktest.NewBuilder()
	g := bld.Genesis()
	a := bld.Child(g)
	b := bld.Child(g)
	ev := events.NewBackFromFork(a, b, g, []*block.Block{a}, []*block.Block{b})

	p, ok := payloadOf(ev).(forkPayload)
	require.True(t, ok)
	assert.Equal(t, g.ID, p.CommonAncestor)
	assert.Equal(t, a.ID, p.Abandoned[0])
	assert.Equal(t, b.ID, p.Adopted[0])
}
