package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ggsecure/iris-server/pkg/alert"
	"github.com/ggsecure/iris-server/pkg/metrics"
)

// RestrictionEnforcer persists shadow bans. Applying a restriction to
// an already restricted account only ever extends the window; a shorter
// overlapping ban never shortens an existing one.
type RestrictionEnforcer struct {
	db         *gorm.DB
	dispatcher alert.Dispatcher
	channel    string
	metrics    *metrics.Registry
	logger     zerolog.Logger
	now        func() time.Time
}

func NewRestrictionEnforcer(db *gorm.DB, dispatcher alert.Dispatcher, channel string, m *metrics.Registry, logger zerolog.Logger, now func() time.Time) *RestrictionEnforcer {
	if now == nil {
		now = time.Now
	}
	return &RestrictionEnforcer{
		db:         db,
		dispatcher: dispatcher,
		channel:    channel,
		metrics:    m,
		logger:     logger.With().Str("component", "enforcement").Logger(),
		now:        now,
	}
}

// Apply records the restriction and notifies the alert channel. The
// account keeps playing; matchmaking consumes the restriction state
// separately, the agent is never told. A zero duration means no
// automatic lift.
func (e *RestrictionEnforcer) Apply(ctx context.Context, accountID, category, reason string, duration time.Duration) error {
	now := e.now().UTC()
	var expiresAt *time.Time
	if duration > 0 {
		until := now.Add(duration)
		expiresAt = &until
	}

	var active Restriction
	err := e.db.WithContext(ctx).
		Where("account_id = ? AND lifted_at IS NULL AND (expires_at IS NULL OR expires_at > ?)", accountID, now).
		Order("expires_at desc").
		First(&active).Error
	switch {
	case err == nil:
		if !extendsBan(active.ExpiresAt, expiresAt) {
			return nil
		}
		if err := e.db.WithContext(ctx).Model(&active).Updates(map[string]any{
			"expires_at": expiresAt,
			"reason":     active.Reason + "; " + reason,
		}).Error; err != nil {
			return err
		}
		e.logger.Info().Str("account_id", accountID).Msg("restriction extended")
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	record := Restriction{
		AccountID: accountID,
		Reason:    reason,
		AppliedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := e.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	e.metrics.Enforcements.WithLabelValues(category).Inc()
	entry := e.logger.Info().
		Str("account_id", accountID).
		Str("reason", reason)
	if expiresAt != nil {
		entry = entry.Time("expires_at", *expiresAt)
	} else {
		entry = entry.Str("expires_at", "never")
	}
	entry.Msg("restriction applied")

	if err := e.dispatcher.Dispatch(ctx, e.channel, alert.Alert{
		Kind:      alert.KindRestriction,
		AccountID: accountID,
		Category:  category,
		Payload: map[string]any{
			"reason":    reason,
			"expiresAt": expiresAt,
		},
		Timestamp: now,
	}); err != nil {
		e.metrics.AlertFailures.Inc()
		e.logger.Warn().Err(err).Str("account_id", accountID).Msg("restriction alert dropped")
	}
	return nil
}

// extendsBan reports whether the proposed expiry reaches past the
// current one. A nil expiry is permanent: it extends any bounded ban,
// and nothing extends it.
func extendsBan(current, proposed *time.Time) bool {
	if current == nil {
		return false
	}
	if proposed == nil {
		return true
	}
	return proposed.After(*current)
}

// Restricted reports whether the account currently has an active ban.
func (e *RestrictionEnforcer) Restricted(ctx context.Context, accountID string) (bool, error) {
	var count int64
	err := e.db.WithContext(ctx).Model(&Restriction{}).
		Where("account_id = ? AND lifted_at IS NULL AND (expires_at IS NULL OR expires_at > ?)", accountID, e.now().UTC()).
		Count(&count).Error
	return count > 0, err
}

// Lift ends a restriction early. LiftedBy records who or what lifted
// it ("auto" for the expiry sweep).
func (e *RestrictionEnforcer) Lift(ctx context.Context, id uint, liftedBy string) error {
	now := e.now().UTC()
	result := e.db.WithContext(ctx).Model(&Restriction{}).
		Where("id = ? AND lifted_at IS NULL", id).
		Updates(map[string]any{"lifted_at": now, "lifted_by": liftedBy})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
