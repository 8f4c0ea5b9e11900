package irissec

import "net/http"

// AuthError is a terminal authentication failure with a stable
// machine-readable code. The desktop client branches on Code, never on
// Message.
type AuthError struct {
	Code    string
	Message string
	Status  int
}

func (e *AuthError) Error() string {
	return e.Message
}

var (
	ErrMissingHeaders   = &AuthError{Code: "MISSING_HEADERS", Message: "missing security headers", Status: http.StatusUnauthorized}
	ErrInvalidTimestamp = &AuthError{Code: "INVALID_TIMESTAMP", Message: "request expired or invalid timestamp", Status: http.StatusUnauthorized}
	ErrReplayDetected   = &AuthError{Code: "REPLAY_DETECTED", Message: "request replay detected", Status: http.StatusUnauthorized}
	ErrInvalidSignature = &AuthError{Code: "INVALID_SIGNATURE", Message: "invalid request signature", Status: http.StatusUnauthorized}
	ErrInvalidFormat    = &AuthError{Code: "INVALID_FORMAT", Message: "invalid signature format", Status: http.StatusUnauthorized}
	ErrDecryptFailed    = &AuthError{Code: "DECRYPT_FAILED", Message: "failed to decrypt payload", Status: http.StatusBadRequest}
	ErrInternalSigning  = &AuthError{Code: "INTERNAL_ERROR", Message: "internal signature error", Status: http.StatusInternalServerError}
)
