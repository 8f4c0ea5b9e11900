package irissec

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Key-derivation parameters for the payload cipher. The salt is fixed by
// the wire protocol; both sides must derive the same AEAD key.
const (
	aeadKeySalt = "iris-salt"
	aeadKeyLen  = 32
	scryptN     = 16384
	scryptR     = 8
	scryptP     = 1
)

// Verifier holds the shared secret and the derived AEAD key. It is
// stateless and safe for concurrent use.
type Verifier struct {
	secret  []byte
	aeadKey []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("empty shared secret")
	}
	key, err := scrypt.Key([]byte(secret), []byte(aeadKeySalt), scryptN, scryptR, scryptP, aeadKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive aead key: %w", err)
	}
	return &Verifier{secret: []byte(secret), aeadKey: key}, nil
}

// Signature computes the request signature over
// METHOD|PATH|TIMESTAMP|NONCE|hex(SHA256(canonicalBody)) and returns it
// as lowercase hex. The canonical body is empty for read-only methods.
func (v *Verifier) Signature(method, path string, timestampMs int64, nonce string, body []byte) string {
	bodyHash := sha256.Sum256(canonicalBody(method, body))
	message := fmt.Sprintf("%s|%s|%d|%s|%s",
		strings.ToUpper(method), path, timestampMs, nonce, hex.EncodeToString(bodyHash[:]))
	return v.mac(message)
}

// ResponseSignature signs an outbound response body so the agent can
// authenticate replies symmetrically.
func (v *Verifier) ResponseSignature(path string, timestampMs int64, body []byte) string {
	bodyHash := sha256.Sum256(body)
	message := fmt.Sprintf("RESPONSE|%s|%d|%s", path, timestampMs, hex.EncodeToString(bodyHash[:]))
	return v.mac(message)
}

// VerifyHex compares two hex signatures in constant time. A length
// mismatch or malformed candidate is a verification failure, not an
// error.
func (v *Verifier) VerifyHex(candidate, expected string) bool {
	candidateBytes, err := hex.DecodeString(candidate)
	if err != nil {
		return false
	}
	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}
	if len(candidateBytes) != len(expectedBytes) {
		return false
	}
	return subtle.ConstantTimeCompare(candidateBytes, expectedBytes) == 1
}

// IsHex reports whether raw parses as a non-empty hex string of the
// expected HMAC-SHA256 length. Used by the gate to distinguish
// INVALID_FORMAT from INVALID_SIGNATURE.
func IsHex(raw string) bool {
	if len(raw) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

func (v *Verifier) mac(message string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func canonicalBody(method string, body []byte) []byte {
	switch strings.ToUpper(method) {
	case "GET", "DELETE":
		return nil
	}
	return body
}
