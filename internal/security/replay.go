package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayCache remembers (token, nonce) pairs for the retention window so a
// signed request can never be replayed. Implementations must be safe for
// concurrent use.
type ReplayCache interface {
	// Remember records the nonce and reports whether it was seen for the
	// first time. A false return means replay.
	Remember(ctx context.Context, token, nonce string) (bool, error)
}

// memoryReplayCache keeps nonces in-process. State is per process: running
// more than one instance needs the Redis-backed cache instead.
type memoryReplayCache struct {
	ttl    time.Duration
	mu     sync.Mutex
	nonces map[string]time.Time // "token:nonce" -> expiry
	stopCh chan struct{}
}

// NewMemoryReplayCache creates an in-process replay cache with background
// expiry.
func NewMemoryReplayCache(ttl time.Duration) *memoryReplayCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &memoryReplayCache{
		ttl:    ttl,
		nonces: make(map[string]time.Time),
		stopCh: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *memoryReplayCache) Remember(_ context.Context, token, nonce string) (bool, error) {
	key := token + ":" + nonce
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, seen := c.nonces[key]; seen && now.Before(expiry) {
		return false, nil
	}
	c.nonces[key] = now.Add(c.ttl)
	return true, nil
}

func (c *memoryReplayCache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, expiry := range c.nonces {
				if now.After(expiry) {
					delete(c.nonces, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// Stop terminates the background sweep goroutine
func (c *memoryReplayCache) Stop() {
	close(c.stopCh)
}

// redisReplayCache shares nonce state across processes via SETNX with TTL.
type redisReplayCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisReplayCache creates a Redis-backed replay cache
func NewRedisReplayCache(client redis.UniversalClient, ttl time.Duration) ReplayCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &redisReplayCache{client: client, ttl: ttl}
}

func (c *redisReplayCache) Remember(ctx context.Context, token, nonce string) (bool, error) {
	key := fmt.Sprintf("replay:%s:%s", token, nonce)
	first, err := c.client.SetNX(ctx, key, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay cache: %w", err)
	}
	return first, nil
}
