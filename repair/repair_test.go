package repair

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/block/blocktest"
	"github.com/mezonai/chainfork/repair/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:    attempts,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func TestFetch_RetriesAcrossPeers(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockSource(ctrl)

	bld := blocktest.NewBuilder()
	want := bld.Child(bld.Genesis())

	gomock.InOrder(
		source.EXPECT().
			FetchBlock(gomock.Any(), "peer-a", want.ID).
			Return(nil, errors.New("connection reset")),
		source.EXPECT().
			FetchBlock(gomock.Any(), "peer-b", want.ID).
			Return(nil, nil),
		source.EXPECT().
			FetchBlock(gomock.Any(), "peer-a", want.ID).
			Return(want, nil),
	)

	f := NewFetcher(source, fastConfig(5))
	got, err := f.Fetch(context.Background(), []string{"peer-a", "peer-b"}, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}

func TestFetch_GivesUpAfterMaxAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockSource(ctrl)

	bld := blocktest.NewBuilder()
	want := bld.Child(bld.Genesis())
	other := bld.Child(bld.Genesis())

	source.EXPECT().
		FetchBlock(gomock.Any(), "peer-a", want.ID).
		Return(other, nil).
		Times(3)

	f := NewFetcher(source, fastConfig(3))
	_, err := f.Fetch(context.Background(), []string{"peer-a"}, want.ID)
	assert.ErrorIs(t, err, ErrMaxAttempts)
	assert.Contains(t, err.Error(), ErrWrongBlock.Error())
}

func TestFetch_StopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockSource(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	source.EXPECT().
		FetchBlock(gomock.Any(), "peer-a", gomock.Any()).
		DoAndReturn(func(context.Context, string, block.ID) (*block.Block, error) {
			cancel()
			return nil, errors.New("timeout")
		}).
		Times(1)

	cfg := fastConfig(10)
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour
	f := NewFetcher(source, cfg)

	bld := blocktest.NewBuilder()
	_, err := f.Fetch(ctx, []string{"peer-a"}, bld.Genesis().ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetch_NoPeers(t *testing.T) {
	f := NewFetcher(nil, DefaultConfig())
	_, err := f.Fetch(context.Background(), nil, blocktest.NewBuilder().Genesis().ID)
	assert.ErrorIs(t, err, ErrNoPeers)
}

func TestDelay_Capped(t *testing.T) {
	f := NewFetcher(nil, Config{MaxAttempts: 1, BaseDelay: time.Second, MaxDelay: 4 * time.Second})
	assert.Equal(t, time.Second, f.delay(0))
	assert.Equal(t, 2*time.Second, f.delay(1))
	assert.Equal(t, 4*time.Second, f.delay(5))
}
