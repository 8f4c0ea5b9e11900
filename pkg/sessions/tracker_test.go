package sessions

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type changeRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *changeRecorder) sink(c StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *changeRecorder) all() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.changes...)
}

func TestHeartbeat_OpensOnceThenRefreshes(t *testing.T) {
	rec := &changeRecorder{}
	tr := New(60*time.Second, nil, rec.sink)
	t0 := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	tr.Heartbeat("acct-1", t0)
	tr.Heartbeat("acct-1", t0.Add(30*time.Second))
	tr.Heartbeat("acct-1", t0.Add(60*time.Second))

	changes := rec.all()
	require.Len(t, changes, 1)
	require.Equal(t, Connected, changes[0].Kind)
	require.Equal(t, "acct-1", changes[0].AccountID)
	require.Equal(t, 1, tr.OpenSessions())
}

func TestSweep_ClosesSilentSessionWithDuration(t *testing.T) {
	rec := &changeRecorder{}
	tr := New(60*time.Second, nil, rec.sink)
	t0 := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	tr.Heartbeat("acct-1", t0)
	tr.Sweep(t0.Add(61 * time.Second))

	changes := rec.all()
	require.Len(t, changes, 2)
	require.Equal(t, Disconnected, changes[1].Kind)
	require.Equal(t, 61*time.Second, changes[1].Duration)
	require.Equal(t, t0, changes[1].Start)
	require.Equal(t, 0, tr.OpenSessions())

	// Second sweep is a no-op.
	tr.Sweep(t0.Add(2 * time.Minute))
	require.Len(t, rec.all(), 2)
}

func TestSweep_KeepsAliveSessions(t *testing.T) {
	rec := &changeRecorder{}
	tr := New(60*time.Second, nil, rec.sink)
	t0 := time.Now()

	tr.Heartbeat("alive", t0)
	tr.Heartbeat("silent", t0.Add(-2*time.Minute))

	tr.Sweep(t0.Add(30 * time.Second))

	require.Equal(t, 1, tr.OpenSessions())
	require.True(t, tr.Connected("alive", t0.Add(30*time.Second)))
	require.False(t, tr.Connected("silent", t0.Add(30*time.Second)))
}

func TestHeartbeatCadence_SweepClosesWithFullDuration(t *testing.T) {
	rec := &changeRecorder{}
	tr := New(60*time.Second, nil, rec.sink)
	t0 := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	// Heartbeat every 30s for 5 minutes, then silence.
	last := t0
	for i := 0; i <= 10; i++ {
		last = t0.Add(time.Duration(i) * 30 * time.Second)
		tr.Heartbeat("acct-1", last)
	}

	// Sweep one minute after the last heartbeat: threshold not crossed.
	tr.Sweep(last.Add(60 * time.Second))
	require.Equal(t, 1, tr.OpenSessions())

	// Next sweep closes it; duration covers the whole session.
	closeAt := last.Add(2 * time.Minute)
	tr.Sweep(closeAt)
	changes := rec.all()
	final := changes[len(changes)-1]
	require.Equal(t, Disconnected, final.Kind)
	require.Equal(t, closeAt.Sub(t0), final.Duration)
	require.GreaterOrEqual(t, final.Duration, 5*time.Minute)
}

func TestExplicitDisconnect(t *testing.T) {
	rec := &changeRecorder{}
	tr := New(60*time.Second, nil, rec.sink)
	t0 := time.Now()

	tr.Heartbeat("acct-1", t0)
	tr.Disconnect("acct-1", t0.Add(10*time.Second))
	tr.Disconnect("acct-1", t0.Add(20*time.Second))

	changes := rec.all()
	require.Len(t, changes, 2)
	require.Equal(t, Disconnected, changes[1].Kind)
	require.Equal(t, 10*time.Second, changes[1].Duration)
}

func TestReconnectAfterSweepOpensNewSession(t *testing.T) {
	rec := &changeRecorder{}
	tr := New(60*time.Second, nil, rec.sink)
	t0 := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	tr.Heartbeat("acct-1", t0)
	tr.Sweep(t0.Add(2 * time.Minute))
	tr.Heartbeat("acct-1", t0.Add(3*time.Minute))

	changes := rec.all()
	require.Len(t, changes, 3)
	require.Equal(t, Connected, changes[2].Kind)
	require.Equal(t, t0.Add(3*time.Minute), changes[2].Start)
}
