package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// enrollHasher derives the stored digest of one-time enrollment
// secrets. Plaintext secrets never hit the database; redemption hashes
// the presented secret and looks the digest up instead.
type enrollHasher struct {
	key []byte
}

func newEnrollHasher(key []byte) enrollHasher {
	return enrollHasher{key: append([]byte(nil), key...)}
}

// digest keys HMAC-SHA256 with the server's shared secret, so a copy
// of the database alone cannot mint redeemable tokens.
func (h enrollHasher) digest(secret string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
