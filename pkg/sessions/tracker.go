// Package sessions maintains per-account agent connectivity state from
// periodic heartbeats and detects silent disconnects with a background
// liveness sweep.
package sessions

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// DefaultDisconnectThreshold assumes a 30s heartbeat cadence: two missed
// beats mean the agent is gone.
const (
	DefaultDisconnectThreshold = 60 * time.Second
	DefaultSweepInterval       = 60 * time.Second
)

// ChangeKind tags a connectivity state change.
type ChangeKind string

const (
	Connected    ChangeKind = "connected"
	Disconnected ChangeKind = "disconnected"
)

// StateChange describes one connect or disconnect transition. Duration
// is only set on disconnects.
type StateChange struct {
	AccountID string
	Kind      ChangeKind
	At        time.Time
	Start     time.Time
	Duration  time.Duration
}

// Sink receives state changes. It is called outside any tracker lock
// and must not block for long; persistence errors are the sink's
// problem, the tracker has already moved on.
type Sink func(StateChange)

type session struct {
	start         time.Time
	lastHeartbeat time.Time
}

const shardCount = 16

type shard struct {
	mu   sync.Mutex
	open map[string]*session
}

// Tracker keeps at most one open session per account. Closed sessions
// are immutable: the tracker forgets them as soon as the disconnect is
// emitted, so a second sweep cannot re-close them.
type Tracker struct {
	shards    [shardCount]*shard
	threshold time.Duration
	now       func() time.Time
	sink      Sink
}

func New(threshold time.Duration, now func() time.Time, sink Sink) *Tracker {
	if threshold <= 0 {
		threshold = DefaultDisconnectThreshold
	}
	if now == nil {
		now = time.Now
	}
	if sink == nil {
		sink = func(StateChange) {}
	}
	t := &Tracker{threshold: threshold, now: now, sink: sink}
	for i := range t.shards {
		t.shards[i] = &shard{open: make(map[string]*session)}
	}
	return t
}

// Heartbeat opens a session on the first signal after an absence, or
// refreshes the open one. A connect state change is emitted only when a
// session opens.
func (t *Tracker) Heartbeat(accountID string, now time.Time) {
	s := t.shardFor(accountID)
	s.mu.Lock()
	sess, ok := s.open[accountID]
	if ok {
		sess.lastHeartbeat = now
		s.mu.Unlock()
		return
	}
	s.open[accountID] = &session{start: now, lastHeartbeat: now}
	s.mu.Unlock()

	t.sink(StateChange{AccountID: accountID, Kind: Connected, At: now, Start: now})
}

// Disconnect closes the open session explicitly. No-op when the account
// has no open session.
func (t *Tracker) Disconnect(accountID string, now time.Time) {
	s := t.shardFor(accountID)
	s.mu.Lock()
	sess, ok := s.open[accountID]
	if ok {
		delete(s.open, accountID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.sink(StateChange{
		AccountID: accountID,
		Kind:      Disconnected,
		At:        now,
		Start:     sess.start,
		Duration:  now.Sub(sess.start),
	})
}

// Connected reports whether the account has an open session whose last
// heartbeat is within the disconnect threshold.
func (t *Tracker) Connected(accountID string, now time.Time) bool {
	s := t.shardFor(accountID)
	s.mu.Lock()
	sess, ok := s.open[accountID]
	alive := ok && now.Sub(sess.lastHeartbeat) <= t.threshold
	s.mu.Unlock()
	return alive
}

// Sweep closes every session whose last heartbeat is older than the
// threshold and emits exactly one disconnect per session. Sessions are
// removed from the map before emission, which makes the close
// idempotent across overlapping sweeps.
func (t *Tracker) Sweep(now time.Time) {
	for _, s := range t.shards {
		var closed []StateChange
		s.mu.Lock()
		for accountID, sess := range s.open {
			if now.Sub(sess.lastHeartbeat) > t.threshold {
				delete(s.open, accountID)
				closed = append(closed, StateChange{
					AccountID: accountID,
					Kind:      Disconnected,
					At:        now,
					Start:     sess.start,
					Duration:  now.Sub(sess.start),
				})
			}
		}
		s.mu.Unlock()
		for _, change := range closed {
			t.sink(change)
		}
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
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
			t.Sweep(t.now())
		}
	}
}

// OpenSessions returns the number of currently open sessions.
func (t *Tracker) OpenSessions() int {
	total := 0
	for _, s := range t.shards {
		s.mu.Lock()
		total += len(s.open)
		s.mu.Unlock()
	}
	return total
}

func (t *Tracker) shardFor(accountID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return t.shards[h.Sum32()%shardCount]
}
