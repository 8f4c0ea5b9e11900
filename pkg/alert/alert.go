// Package alert defines the structured alerts emitted by the detection
// pipeline and the dispatcher fan-out. Rendering and destination
// formatting are the notification channel's concern, not ours.
package alert

import (
	"context"
	"time"
)

// Kind tags what an alert is about.
type Kind string

const (
	KindDetection    Kind = "detection"
	KindSessionState Kind = "session_state"
	KindRestriction  Kind = "restriction"
	KindUnban        Kind = "unban"
)

// Alert is the single outbound value type. Payload carries the
// category-specific structured data verbatim.
type Alert struct {
	Kind      Kind      `json:"kind"`
	AccountID string    `json:"accountId"`
	Category  string    `json:"category,omitempty"`
	RiskLevel string    `json:"riskLevel,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher fans an alert out to a named channel. Implementations must
// never block the caller's request path longer than their own timeout.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel string, a Alert) error
}
