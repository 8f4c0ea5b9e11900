package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/ggsecure/iris-server/pkg/alert"
	"github.com/ggsecure/iris-server/pkg/detection"
	"github.com/ggsecure/iris-server/pkg/metrics"
	"github.com/ggsecure/iris-server/pkg/sessions"
)

// sessionSink persists connectivity transitions and fans them out to
// the alert channel. On disconnect it also clears the account's rolling
// detection counters.
type sessionSink struct {
	db         *gorm.DB
	dispatcher alert.Dispatcher
	channel    string
	pipeline   *detection.Pipeline
	metrics    *metrics.Registry
	logger     zerolog.Logger
}

func newSessionSink(db *gorm.DB, dispatcher alert.Dispatcher, channel string, pipeline *detection.Pipeline, m *metrics.Registry, logger zerolog.Logger) *sessionSink {
	return &sessionSink{
		db:         db,
		dispatcher: dispatcher,
		channel:    channel,
		pipeline:   pipeline,
		metrics:    m,
		logger:     logger.With().Str("component", "sessions").Logger(),
	}
}

// Handle is the sessions.Sink. It runs on heartbeat and sweep paths, so
// persistence failures are logged and swallowed rather than propagated.
func (s *sessionSink) Handle(change sessions.StateChange) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch change.Kind {
	case sessions.Connected:
		record := AgentSession{
			SessionID: uuid.NewString(),
			AccountID: change.AccountID,
			StartedAt: change.Start.UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			s.logger.Error().Err(err).Str("account_id", change.AccountID).Msg("failed to persist session open")
		}
		s.metrics.OpenSessions.Inc()

	case sessions.Disconnected:
		ended := change.At.UTC()
		if err := s.db.WithContext(ctx).Model(&AgentSession{}).
			Where("account_id = ? AND ended_at IS NULL", change.AccountID).
			Updates(map[string]any{
				"ended_at":   ended,
				"duration_s": int64(change.Duration.Seconds()),
			}).Error; err != nil {
			s.logger.Error().Err(err).Str("account_id", change.AccountID).Msg("failed to persist session close")
		}
		s.metrics.OpenSessions.Dec()
		s.pipeline.ResetAccount(change.AccountID)
	}

	if err := s.dispatcher.Dispatch(ctx, s.channel, alert.Alert{
		Kind:      alert.KindSessionState,
		AccountID: change.AccountID,
		Payload: map[string]any{
			"state":     string(change.Kind),
			"start":     change.Start.UTC(),
			"durationS": int64(change.Duration.Seconds()),
		},
		Timestamp: change.At.UTC(),
	}); err != nil {
		s.metrics.AlertFailures.Inc()
		s.logger.Warn().Err(err).Str("account_id", change.AccountID).Msg("session alert dropped")
	}
}
