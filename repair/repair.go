package repair

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks github.com/mezonai/chainfork/repair Source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mezonai/chainfork/block"
	"github.com/mezonai/chainfork/logx"
	"golang.org/x/time/rate"
)

var (
	ErrMaxAttempts  = errors.New("missing block not fetched within max attempts")
	ErrNoPeers      = errors.New("no peers to fetch from")
	ErrWrongBlock   = errors.New("peer returned a different block")
	ErrBlockMissing = errors.New("peer does not have the block")
)

// Source fetches a single block by id from one peer.
type Source interface {
	FetchBlock(ctx context.Context, peer string, id block.ID) (*block.Block, error)
}

type Config struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
	// PeerRate and PeerBurst bound requests per peer per second.
	PeerRate  float64
	PeerBurst int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		BaseDelay:      200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		RequestTimeout: 3 * time.Second,
		PeerRate:       10,
		PeerBurst:      5,
	}
}

// Fetcher retries a missing-block request across peers with exponential
// backoff between attempts.
type Fetcher struct {
	source Source
	cfg    Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewFetcher(source Source, cfg Config) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Fetcher{
		source:   source,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *Fetcher) limiter(peer string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[peer]
	if !ok {
		limit := rate.Inf
		if f.cfg.PeerRate > 0 {
			limit = rate.Limit(f.cfg.PeerRate)
		}
		burst := f.cfg.PeerBurst
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(limit, burst)
		f.limiters[peer] = l
	}
	return l
}

func (f *Fetcher) delay(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * f.cfg.BaseDelay
	if d > f.cfg.MaxDelay || d < 0 {
		d = f.cfg.MaxDelay
	}
	return d
}

// Fetch asks peers in turn for id, starting with peers[0]. It gives up with
// ErrMaxAttempts after the configured number of attempts.
func (f *Fetcher) Fetch(ctx context.Context, peers []string, id block.ID) (*block.Block, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}

	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.delay(attempt - 1)):
			}
		}

		peer := peers[attempt%len(peers)]
		b, err := f.fetchOnce(ctx, peer, id)
		if err == nil {
			if attempt > 0 {
				logx.Info("REPAIR", fmt.Sprintf("Fetched block %s from %s after %d attempts", id.Short(), peer, attempt+1))
			}
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		logx.Warn("REPAIR", fmt.Sprintf("Attempt %d/%d for %s from %s failed: %v", attempt+1, f.cfg.MaxAttempts, id.Short(), peer, err))
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrMaxAttempts, id.Short(), f.cfg.MaxAttempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, peer string, id block.ID) (*block.Block, error) {
	if err := f.limiter(peer).Wait(ctx); err != nil {
		return nil, err
	}

	reqCtx := ctx
	if f.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.cfg.RequestTimeout)
		defer cancel()
	}

	b, err := f.source.FetchBlock(reqCtx, peer, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBlockMissing
	}
	if b.ID != id {
		return nil, fmt.Errorf("%w: asked %s got %s", ErrWrongBlock, id.Short(), b.ID.Short())
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
