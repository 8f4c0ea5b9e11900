package main

import (
	"errors"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestRetrierDelayStaysUnderCap(t *testing.T) {
	r := newRetrier(100, 800, 5)
	for attempt := 1; attempt <= 8; attempt++ {
		delay := r.delay(attempt)
		if delay <= 0 {
			t.Fatalf("delay must be positive, got %v", delay)
		}
		if delay > 800*time.Millisecond {
			t.Fatalf("delay exceeded cap: %v", delay)
		}
	}
}

func TestRetrierResendsTransientFailures(t *testing.T) {
	r := newRetrier(1, 2, 3)
	var sends int
	err := r.do(func() error {
		sends++
		if sends < 3 {
			return backendBusyError{status: http.StatusServiceUnavailable}
		}
		return nil
	}, transientSendError)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sends != 3 {
		t.Fatalf("expected 3 sends, got %d", sends)
	}
}

func TestRetrierGivesUpAfterBudget(t *testing.T) {
	r := newRetrier(1, 2, 2)
	var sends int
	err := r.do(func() error {
		sends++
		return backendBusyError{status: http.StatusBadGateway}
	}, transientSendError)
	if err == nil {
		t.Fatal("expected error once the retry budget is spent")
	}
	if sends != 3 {
		t.Fatalf("expected the initial send plus 2 retries, got %d", sends)
	}
}

func TestRetrierDoesNotResendRejections(t *testing.T) {
	r := newRetrier(1, 2, 5)
	var sends int
	rejection := errors.New("signature rejected")
	err := r.do(func() error {
		sends++
		return rejection
	}, transientSendError)
	if !errors.Is(err, rejection) {
		t.Fatalf("expected the rejection to surface, got %v", err)
	}
	if sends != 1 {
		t.Fatalf("an auth rejection must not be resent, got %d sends", sends)
	}
}

func TestTransientSendError(t *testing.T) {
	if transientSendError(nil) {
		t.Fatal("nil error is not transient")
	}
	if !transientSendError(backendBusyError{status: 503}) {
		t.Fatal("a busy backend is transient")
	}
	if !transientSendError(&net.DNSError{IsTemporary: true}) {
		t.Fatal("a transport error is transient")
	}
	if transientSendError(errors.New("token rejected")) {
		t.Fatal("a plain rejection is not transient")
	}
}

func TestShouldRetryStatus(t *testing.T) {
	cases := map[int]bool{
		http.StatusOK:                  false,
		http.StatusUnauthorized:        false,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
	}
	for status, want := range cases {
		got := shouldRetryStatus(&http.Response{StatusCode: status})
		if got != want {
			t.Fatalf("status %d: got %v, want %v", status, got, want)
		}
	}
	if shouldRetryStatus(nil) {
		t.Fatal("nil response is not retryable")
	}
}
