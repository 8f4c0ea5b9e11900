package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ggsecure/iris-server/pkg/alert"
)

// unbanSweeper lifts expired restrictions on a fixed cadence so bans
// end without operator action.
type unbanSweeper struct {
	db         *gorm.DB
	dispatcher alert.Dispatcher
	channel    string
	logger     zerolog.Logger
	now        func() time.Time
}

func newUnbanSweeper(db *gorm.DB, dispatcher alert.Dispatcher, channel string, logger zerolog.Logger, now func() time.Time) *unbanSweeper {
	if now == nil {
		now = time.Now
	}
	return &unbanSweeper{
		db:         db,
		dispatcher: dispatcher,
		channel:    channel,
		logger:     logger.With().Str("component", "unban").Logger(),
		now:        now,
	}
}

// SweepOnce lifts every restriction whose window has lapsed and emits
// one unban alert per account. Returns the number of lifted bans.
// Permanent bans have no expiry and are never swept.
func (u *unbanSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := u.now().UTC()

	var expired []Restriction
	if err := u.db.WithContext(ctx).
		Where("lifted_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?", now).
		Find(&expired).Error; err != nil {
		return 0, err
	}

	lifted := 0
	for _, r := range expired {
		result := u.db.WithContext(ctx).Model(&Restriction{}).
			Where("id = ? AND lifted_at IS NULL", r.ID).
			Updates(map[string]any{"lifted_at": now, "lifted_by": "auto"})
		if result.Error != nil {
			u.logger.Error().Err(result.Error).Uint("id", r.ID).Msg("failed to lift restriction")
			continue
		}
		if result.RowsAffected == 0 {
			continue // lifted concurrently
		}
		lifted++
		u.logger.Info().
			Str("account_id", r.AccountID).
			Uint("id", r.ID).
			Time("applied_at", r.AppliedAt).
			Msg("restriction expired, lifted")

		if err := u.dispatcher.Dispatch(ctx, u.channel, alert.Alert{
			Kind:      alert.KindUnban,
			AccountID: r.AccountID,
			Payload: map[string]any{
				"reason":    r.Reason,
				"appliedAt": r.AppliedAt,
			},
			Timestamp: now,
		}); err != nil {
			u.logger.Warn().Err(err).Str("account_id", r.AccountID).Msg("unban alert dropped")
		}
	}
	return lifted, nil
}

// Run sweeps until the context is cancelled.
func (u *unbanSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := u.SweepOnce(ctx); err != nil {
				u.logger.Error().Err(err).Msg("unban sweep failed")
			}
		}
	}
}
