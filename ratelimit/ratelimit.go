package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mezonai/chainfork/exception"
)

type Config struct {
	MaxRequests     int
	Window          time.Duration
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRequests:     20,
		Window:          time.Second,
		CleanupInterval: 5 * time.Minute,
	}
}

// SlidingWindow admits at most MaxRequests per key within any Window.
type SlidingWindow struct {
	cfg  Config
	now  func() time.Time
	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewSlidingWindow(cfg Config) *SlidingWindow {
	if cfg.MaxRequests <= 0 || cfg.Window <= 0 {
		d := DefaultConfig()
		cfg.MaxRequests, cfg.Window = d.MaxRequests, d.Window
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	return &SlidingWindow{cfg: cfg, now: time.Now, hits: make(map[string][]time.Time)}
}

// trim drops timestamps at or before cutoff; hits are kept in arrival order.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (sw *SlidingWindow) Allow(key string) bool {
	now := sw.now()
	sw.mu.Lock()
	defer sw.mu.Unlock()

	hits := trim(sw.hits[key], now.Add(-sw.cfg.Window))
	if len(hits) >= sw.cfg.MaxRequests {
		sw.hits[key] = hits
		return false
	}
	sw.hits[key] = append(hits, now)
	return true
}

// Count is the number of requests key made inside the current window.
func (sw *SlidingWindow) Count(key string) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(trim(sw.hits[key], sw.now().Add(-sw.cfg.Window)))
}

func (sw *SlidingWindow) Reset(key string) {
	sw.mu.Lock()
	delete(sw.hits, key)
	sw.mu.Unlock()
}

func (sw *SlidingWindow) cleanup() {
	cutoff := sw.now().Add(-sw.cfg.Window)
	sw.mu.Lock()
	defer sw.mu.Unlock()
	for key, hits := range sw.hits {
		if hits = trim(hits, cutoff); len(hits) == 0 {
			delete(sw.hits, key)
		} else {
			sw.hits[key] = hits
		}
	}
}

func (sw *SlidingWindow) keys() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.hits)
}

// RunCleanup forgets idle keys every CleanupInterval until ctx is done.
func (sw *SlidingWindow) RunCleanup(ctx context.Context) {
	exception.SafeGoCtx(ctx, "RateLimitCleanup", func(ctx context.Context) {
		ticker := time.NewTicker(sw.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.cleanup()
			}
		}
	})
}
