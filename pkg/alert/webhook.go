package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookDispatcher POSTs alerts as JSON to an external notification
// endpoint. Transport failures are retried exactly once; after that the
// alert is logged and dropped, because alerting must never block
// authentication or telemetry ingestion.
type WebhookDispatcher struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

func NewWebhookDispatcher(url string, logger zerolog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:    url,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger.With().Str("component", "alert-webhook").Logger(),
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, channel string, a Alert) error {
	body, err := json.Marshal(struct {
		Channel string `json:"channel"`
		Alert
	}{Channel: channel, Alert: a})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	err = d.post(ctx, body)
	if err == nil {
		return nil
	}
	d.logger.Warn().Err(err).Str("channel", channel).Msg("Alert dispatch failed, retrying once")

	if err = d.post(ctx, body); err != nil {
		d.logger.Error().Err(err).Str("channel", channel).Str("kind", string(a.Kind)).Msg("Alert dropped after retry")
		return err
	}
	return nil
}

func (d *WebhookDispatcher) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

var _ Dispatcher = (*WebhookDispatcher)(nil)
