// Package replay provides the process-wide nonce cache that bounds the
// replay window of signed agent requests by wall-clock time.
package replay

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// DefaultSweepInterval matches the nonce cache cleanup cadence of the
// desktop protocol.
const DefaultSweepInterval = 10 * time.Minute

type shard struct {
	mu      sync.Mutex
	entries map[string]int64 // nonce -> first-seen unix ms
}

// Cache is a sharded nonce cache. Entries expire after twice the
// request timestamp tolerance, so a signature-valid request with a
// reused nonce stays rejected for the whole window in which its
// timestamp would still be accepted.
type Cache struct {
	shards    [shardCount]*shard
	tolerance time.Duration
	now       func() time.Time
}

// New builds a cache with the given timestamp tolerance and clock. A
// nil clock defaults to time.Now.
func New(tolerance time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	c := &Cache{tolerance: tolerance, now: now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]int64)}
	}
	return c
}

// Seen reports whether the nonce was already accepted and not yet swept.
func (c *Cache) Seen(nonce string) bool {
	s := c.shardFor(nonce)
	s.mu.Lock()
	_, ok := s.entries[nonce]
	s.mu.Unlock()
	return ok
}

// Record marks a nonce as accepted. Once Record returns, a repeated
// request with the same nonce is rejected until the sweep removes it.
func (c *Cache) Record(nonce string, timestampMs int64) {
	s := c.shardFor(nonce)
	s.mu.Lock()
	s.entries[nonce] = timestampMs
	s.mu.Unlock()
}

// CheckAndRecord atomically claims the nonce. The occupancy check and
// the store happen in one critical section, so of any number of racing
// requests carrying the same nonce exactly one gets true.
func (c *Cache) CheckAndRecord(nonce string, timestampMs int64) bool {
	s := c.shardFor(nonce)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[nonce]; ok {
		return false
	}
	s.entries[nonce] = timestampMs
	return true
}

// Sweep drops nonces older than twice the tolerance window. Deletion is
// per-entry under the shard lock, so nonces recorded mid-sweep by
// in-flight requests are never dropped.
func (c *Cache) Sweep(now time.Time) {
	cutoff := now.Add(-2 * c.tolerance).UnixMilli()
	for _, s := range c.shards {
		s.mu.Lock()
		for nonce, seenAt := range s.entries {
			if seenAt < cutoff {
				delete(s.entries, nonce)
			}
		}
		s.mu.Unlock()
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.now())
		}
	}
}

// Len returns the number of cached nonces.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

func (c *Cache) shardFor(nonce string) *shard {
	h := fnv.New32a()
	h.Write([]byte(nonce))
	return c.shards[h.Sum32()%shardCount]
}
