package irissec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// EncryptedEnvelope is the wire shape for encrypted agent payloads. All
// fields except Encrypted are hex strings; Tag carries the 128-bit GCM
// auth tag separately from the ciphertext.
type EncryptedEnvelope struct {
	Encrypted bool   `json:"encrypted"`
	IV        string `json:"iv"`
	Tag       string `json:"tag"`
	Data      string `json:"data"`
}

const gcmIVLen = 12

// Decrypt opens an envelope with the derived AES-256-GCM key. The auth
// tag is checked before any plaintext is returned; every failure mode
// (bad hex, wrong IV length, tag mismatch) collapses into
// ErrDecryptFailed so callers reject with a single stable code.
func (v *Verifier) Decrypt(env EncryptedEnvelope) ([]byte, error) {
	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != gcmIVLen {
		return nil, fmt.Errorf("%w: bad iv", ErrDecryptFailed)
	}
	tag, err := hex.DecodeString(env.Tag)
	if err != nil {
		return nil, fmt.Errorf("%w: bad tag", ErrDecryptFailed)
	}
	data, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext", ErrDecryptFailed)
	}

	aead, err := v.aead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	if len(tag) != aead.Overhead() {
		return nil, fmt.Errorf("%w: bad tag length", ErrDecryptFailed)
	}

	// gcm.Open expects the tag appended to the ciphertext.
	plaintext, err := aead.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}

// Encrypt seals a plaintext into the envelope shape. Used by the
// reference agent and by tests; the server only decrypts.
func (v *Verifier) Encrypt(plaintext []byte) (EncryptedEnvelope, error) {
	aead, err := v.aead()
	if err != nil {
		return EncryptedEnvelope{}, err
	}
	iv := make([]byte, gcmIVLen)
	if _, err := rand.Read(iv); err != nil {
		return EncryptedEnvelope{}, err
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - aead.Overhead()
	return EncryptedEnvelope{
		Encrypted: true,
		IV:        hex.EncodeToString(iv),
		Tag:       hex.EncodeToString(sealed[split:]),
		Data:      hex.EncodeToString(sealed[:split]),
	}, nil
}

func (v *Verifier) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.aeadKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
