package main

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// retrier resends failed backend calls with capped exponential backoff.
// Signed requests are safe to resend: every attempt carries a fresh
// timestamp and nonce, so a retry can never trip the replay guard.
type retrier struct {
	initial     time.Duration
	cap         time.Duration
	maxAttempts int
}

func newRetrier(initialMs, capMs, retries int) *retrier {
	if initialMs <= 0 {
		initialMs = 500
	}
	if capMs < initialMs {
		capMs = initialMs
	}
	if retries < 0 {
		retries = 0
	}
	return &retrier{
		initial:     time.Duration(initialMs) * time.Millisecond,
		cap:         time.Duration(capMs) * time.Millisecond,
		maxAttempts: retries + 1,
	}
}

func (r *retrier) do(send func() error, transient func(error) bool) error {
	for attempt := 1; ; attempt++ {
		err := send()
		if err == nil {
			return nil
		}
		if attempt >= r.maxAttempts || !transient(err) {
			return err
		}
		delay := r.delay(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("Server unreachable, backing off")
		time.Sleep(delay)
	}
}

// delay picks a uniformly random duration up to the capped exponential
// ceiling. Full jitter spreads a reconnecting agent fleet instead of
// letting it hammer a recovering backend in lockstep.
func (r *retrier) delay(attempt int) time.Duration {
	ceiling := float64(r.initial) * math.Pow(2, float64(attempt-1))
	if ceiling > float64(r.cap) {
		ceiling = float64(r.cap)
	}
	return time.Duration(rand.Int63n(int64(ceiling)) + 1)
}

// transientSendError reports whether the failure is worth resending:
// transport-level errors, and backend conditions the server recovers
// from on its own. Auth rejections are final and never resent.
func transientSendError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var busy backendBusyError
	return errors.As(err, &busy)
}

func shouldRetryStatus(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

// backendBusyError marks a response worth retrying: a 5xx or an
// explicit 429.
type backendBusyError struct {
	status int
}

func (e backendBusyError) Error() string {
	return "backend returned " + http.StatusText(e.status)
}
