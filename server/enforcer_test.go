package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ggsecure/iris-server/pkg/alert"
	"github.com/ggsecure/iris-server/pkg/metrics"
)

func newTestEnforcer(t *testing.T) (*RestrictionEnforcer, *gorm.DB, *testClockServer) {
	t.Helper()
	db := openTestDB(t)
	clock := &testClockServer{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	e := NewRestrictionEnforcer(db, alert.NewLogDispatcher(zerolog.Nop()), "iris-scan", metrics.New(), zerolog.Nop(), clock.Now)
	return e, db, clock
}

type testClockServer struct {
	t time.Time
}

func (c *testClockServer) Now() time.Time { return c.t }

func (c *testClockServer) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestEnforcer_AppliesRestriction(t *testing.T) {
	e, db, clock := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.Apply(ctx, "acct-1", "cheat_process", "iris detection: cheat_process (critical)", 24*time.Hour))

	var r Restriction
	require.NoError(t, db.Where("account_id = ?", "acct-1").First(&r).Error)
	require.NotNil(t, r.ExpiresAt)
	assert.WithinDuration(t, clock.Now().Add(24*time.Hour), *r.ExpiresAt, time.Second)
	assert.Nil(t, r.LiftedAt)

	restricted, err := e.Restricted(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, restricted)
}

func TestEnforcer_NeverShortensActiveBan(t *testing.T) {
	e, db, clock := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.Apply(ctx, "acct-1", "tamper_detected", "tamper", 72*time.Hour))
	require.NoError(t, e.Apply(ctx, "acct-1", "cheat_window", "window", 24*time.Hour))

	var count int64
	require.NoError(t, db.Model(&Restriction{}).Where("account_id = ?", "acct-1").Count(&count).Error)
	assert.EqualValues(t, 1, count, "overlapping ban must not create a second record")

	var r Restriction
	require.NoError(t, db.Where("account_id = ?", "acct-1").First(&r).Error)
	require.NotNil(t, r.ExpiresAt)
	assert.WithinDuration(t, clock.Now().Add(72*time.Hour), *r.ExpiresAt, time.Second, "shorter ban must not shorten the window")
}

func TestEnforcer_ExtendsActiveBan(t *testing.T) {
	e, db, clock := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.Apply(ctx, "acct-1", "cheat_process", "first", 24*time.Hour))
	clock.Advance(time.Hour)
	require.NoError(t, e.Apply(ctx, "acct-1", "cheat_device", "second", 48*time.Hour))

	var r Restriction
	require.NoError(t, db.Where("account_id = ?", "acct-1").First(&r).Error)
	require.NotNil(t, r.ExpiresAt)
	assert.WithinDuration(t, clock.Now().Add(48*time.Hour), *r.ExpiresAt, time.Second)
	assert.Contains(t, r.Reason, "first")
	assert.Contains(t, r.Reason, "second")
}

func TestEnforcer_PermanentBan(t *testing.T) {
	e, db, clock := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.Apply(ctx, "acct-1", "manual", "permanent review ban", 0))

	var r Restriction
	require.NoError(t, db.Where("account_id = ?", "acct-1").First(&r).Error)
	assert.Nil(t, r.ExpiresAt, "a zero duration stores no expiry")

	restricted, err := e.Restricted(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, restricted)

	// A bounded overlap never shortens a permanent ban.
	require.NoError(t, e.Apply(ctx, "acct-1", "cheat_process", "later detection", 24*time.Hour))
	var count int64
	require.NoError(t, db.Model(&Restriction{}).Where("account_id = ?", "acct-1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
	require.NoError(t, db.Where("account_id = ?", "acct-1").First(&r).Error)
	assert.Nil(t, r.ExpiresAt)

	// The sweep never lifts it, no matter how late it runs.
	sweeper := newUnbanSweeper(db, alert.NewLogDispatcher(zerolog.Nop()), "iris-scan", zerolog.Nop(), clock.Now)
	clock.Advance(1000 * time.Hour)
	lifted, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, lifted)

	restricted, err = e.Restricted(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, restricted)
}

func TestEnforcer_BoundedBanUpgradesToPermanent(t *testing.T) {
	e, db, _ := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.Apply(ctx, "acct-1", "cheat_process", "bounded", 24*time.Hour))
	require.NoError(t, e.Apply(ctx, "acct-1", "manual", "made permanent", 0))

	var r Restriction
	require.NoError(t, db.Where("account_id = ?", "acct-1").First(&r).Error)
	assert.Nil(t, r.ExpiresAt, "a permanent overlap clears the expiry")
	assert.Contains(t, r.Reason, "bounded")
	assert.Contains(t, r.Reason, "made permanent")
}

func TestEnforcer_ExpiredBanDoesNotRestrict(t *testing.T) {
	e, _, clock := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.Apply(ctx, "acct-1", "cheat_process", "r", time.Hour))
	clock.Advance(2 * time.Hour)

	restricted, err := e.Restricted(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, restricted)

	// A fresh detection after expiry opens a new record.
	require.NoError(t, e.Apply(ctx, "acct-1", "cheat_process", "again", time.Hour))
	restricted, err = e.Restricted(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, restricted)
}

func TestEnforcer_Lift(t *testing.T) {
	e, db, _ := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.Apply(ctx, "acct-1", "cheat_process", "r", 24*time.Hour))
	var r Restriction
	require.NoError(t, db.Where("account_id = ?", "acct-1").First(&r).Error)

	require.NoError(t, e.Lift(ctx, r.ID, "admin"))
	restricted, err := e.Restricted(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, restricted)

	require.ErrorIs(t, e.Lift(ctx, r.ID, "admin"), gorm.ErrRecordNotFound, "double lift must fail")
}

func TestUnbanSweeper_LiftsOnlyExpired(t *testing.T) {
	e, db, clock := newTestEnforcer(t)
	ctx := context.Background()

	require.NoError(t, e.Apply(ctx, "acct-short", "cheat_process", "short", time.Hour))
	require.NoError(t, e.Apply(ctx, "acct-long", "cheat_process", "long", 48*time.Hour))

	sweeper := newUnbanSweeper(db, alert.NewLogDispatcher(zerolog.Nop()), "iris-scan", zerolog.Nop(), clock.Now)

	lifted, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, lifted, "nothing expired yet")

	clock.Advance(2 * time.Hour)
	lifted, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, lifted)

	var r Restriction
	require.NoError(t, db.Where("account_id = ?", "acct-short").First(&r).Error)
	require.NotNil(t, r.LiftedAt)
	assert.Equal(t, "auto", r.LiftedBy)

	restricted, err := e.Restricted(ctx, "acct-long")
	require.NoError(t, err)
	assert.True(t, restricted, "unexpired ban must survive the sweep")

	// Idempotent: a second sweep lifts nothing new.
	lifted, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, lifted)
}
