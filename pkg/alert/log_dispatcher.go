package alert

import (
	"context"

	"github.com/rs/zerolog"
)

// LogDispatcher writes alerts to the structured log. Used when no
// webhook is configured, and in tests.
type LogDispatcher struct {
	logger zerolog.Logger
}

func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "alerts").Logger()}
}

func (d *LogDispatcher) Dispatch(_ context.Context, channel string, a Alert) error {
	event := d.logger.Info().
		Str("channel", channel).
		Str("kind", string(a.Kind)).
		Str("account_id", a.AccountID).
		Time("at", a.Timestamp)
	if a.Category != "" {
		event = event.Str("category", a.Category)
	}
	if a.RiskLevel != "" {
		event = event.Str("risk_level", a.RiskLevel)
	}
	if a.Payload != nil {
		event = event.Interface("payload", a.Payload)
	}
	event.Msg("alert dispatched")
	return nil
}

var _ Dispatcher = (*LogDispatcher)(nil)
