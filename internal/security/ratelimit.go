package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a fixed-window request cap per (token, client IP).
type RateLimiter interface {
	// Allow reports whether another request fits in the current window.
	Allow(ctx context.Context, token, clientIP string) (bool, error)
}

// memoryRateLimiter counts requests per key in fixed windows, in-process.
type memoryRateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	counts map[string]*windowCount
	stopCh chan struct{}
}

type windowCount struct {
	windowStart time.Time
	count       int
}

// NewMemoryRateLimiter creates an in-process fixed-window rate limiter.
func NewMemoryRateLimiter(limit int, window time.Duration) *memoryRateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &memoryRateLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]*windowCount),
		stopCh: make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) Allow(_ context.Context, token, clientIP string) (bool, error) {
	key := token + ":" + clientIP
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	wc, ok := rl.counts[key]
	if !ok || now.Sub(wc.windowStart) >= rl.window {
		rl.counts[key] = &windowCount{windowStart: now, count: 1}
		return true, nil
	}

	if wc.count >= rl.limit {
		return false, nil
	}
	wc.count++
	return true, nil
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * rl.window)
			rl.mu.Lock()
			for key, wc := range rl.counts {
				if wc.windowStart.Before(cutoff) {
					delete(rl.counts, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop terminates the background sweep goroutine
func (rl *memoryRateLimiter) Stop() {
	close(rl.stopCh)
}

// redisRateLimiter shares window counters across processes via INCR+EXPIRE.
type redisRateLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
}

// NewRedisRateLimiter creates a Redis-backed fixed-window rate limiter
func NewRedisRateLimiter(client redis.UniversalClient, limit int, window time.Duration) RateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &redisRateLimiter{client: client, limit: limit, window: window}
}

func (rl *redisRateLimiter) Allow(ctx context.Context, token, clientIP string) (bool, error) {
	windowID := time.Now().Unix() / int64(rl.window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%s:%d", token, clientIP, windowID)

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}
	if count == 1 {
		// First hit in the window owns setting the expiry
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			return false, fmt.Errorf("rate limiter: %w", err)
		}
	}
	return count <= int64(rl.limit), nil
}
