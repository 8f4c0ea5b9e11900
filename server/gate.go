package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ggsecure/iris-server/pkg/irissec"
	"github.com/ggsecure/iris-server/pkg/metrics"
	"github.com/ggsecure/iris-server/pkg/replay"
)

// Wire headers of the desktop protocol.
const (
	headerTimestamp         = "X-Iris-Timestamp"
	headerNonce             = "X-Iris-Nonce"
	headerSignature         = "X-Iris-Signature"
	headerClient            = "X-Iris-Client"
	headerResponseTimestamp = "X-Iris-Response-Timestamp"
	headerResponseSignature = "X-Iris-Response-Signature"

	clientMarker = "desktop"
)

// Gate authenticates agent requests: marker header, timestamp window,
// nonce replay, HMAC signature, and transparent payload decryption. It
// also signs every response body it lets through.
type Gate struct {
	verifier  *irissec.Verifier
	nonces    *replay.Cache
	tolerance time.Duration
	metrics   *metrics.Registry
	logger    zerolog.Logger
	now       func() time.Time
}

func NewGate(verifier *irissec.Verifier, nonces *replay.Cache, tolerance time.Duration, m *metrics.Registry, logger zerolog.Logger, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{
		verifier:  verifier,
		nonces:    nonces,
		tolerance: tolerance,
		metrics:   m,
		logger:    logger.With().Str("component", "gate").Logger(),
		now:       now,
	}
}

// RequireClient rejects anything that does not identify as the desktop
// agent. Applied to every /iris route, including the token-based ones.
func (g *Gate) RequireClient(c *gin.Context) {
	if c.GetHeader(headerClient) != clientMarker {
		g.reject(c, irissec.ErrMissingHeaders)
		return
	}
	c.Next()
}

// RequireSignature is the full verification chain for signed routes.
// The checks run in a fixed order so the agent always sees the same
// code for the same defect: headers, timestamp, replay, format,
// signature. The nonce is only burned after the signature proves the
// sender holds the secret.
func (g *Gate) RequireSignature(c *gin.Context) {
	tsRaw := c.GetHeader(headerTimestamp)
	nonce := c.GetHeader(headerNonce)
	sig := c.GetHeader(headerSignature)
	if tsRaw == "" || nonce == "" || sig == "" {
		g.reject(c, irissec.ErrMissingHeaders)
		return
	}

	timestampMs, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		g.reject(c, irissec.ErrInvalidTimestamp)
		return
	}
	drift := g.now().UnixMilli() - timestampMs
	if drift < 0 {
		drift = -drift
	}
	if drift > g.tolerance.Milliseconds() {
		g.reject(c, irissec.ErrInvalidTimestamp)
		return
	}

	// Cheap pre-filter; the authoritative claim happens after the
	// signature verifies.
	if g.nonces.Seen(nonce) {
		g.reject(c, irissec.ErrReplayDetected)
		return
	}

	if !irissec.IsHex(sig) {
		g.reject(c, irissec.ErrInvalidFormat)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		g.reject(c, irissec.ErrInternalSigning)
		return
	}

	expected := g.verifier.Signature(c.Request.Method, c.Request.URL.Path, timestampMs, nonce, body)
	if !g.verifier.VerifyHex(sig, expected) {
		g.reject(c, irissec.ErrInvalidSignature)
		return
	}

	// The claim is atomic, so two in-flight requests racing on the same
	// nonce cannot both pass.
	if !g.nonces.CheckAndRecord(nonce, timestampMs) {
		g.reject(c, irissec.ErrReplayDetected)
		return
	}

	plaintext, err := g.unwrap(body)
	if err != nil {
		g.reject(c, irissec.ErrDecryptFailed)
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(plaintext))
	c.Request.ContentLength = int64(len(plaintext))

	g.metrics.AuthVerdicts.WithLabelValues("ok").Inc()
	c.Next()
}

// unwrap transparently decrypts an encrypted envelope body. Plain JSON
// and empty bodies pass through untouched.
func (g *Gate) unwrap(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}
	var env irissec.EncryptedEnvelope
	if err := json.Unmarshal(body, &env); err != nil || !env.Encrypted {
		return body, nil
	}
	return g.verifier.Decrypt(env)
}

// SignResponses buffers the handler's response body so the response
// signature headers can still be set afterwards, then writes the
// signed body out in one shot.
func (g *Gate) SignResponses(c *gin.Context) {
	buf := &signingWriter{ResponseWriter: c.Writer}
	c.Writer = buf
	c.Next()
	c.Writer = buf.ResponseWriter

	ts := g.now().UnixMilli()
	buf.Header().Set(headerResponseTimestamp, strconv.FormatInt(ts, 10))
	buf.Header().Set(headerResponseSignature, g.verifier.ResponseSignature(c.Request.URL.Path, ts, buf.body.Bytes()))
	buf.flush()
}

func (g *Gate) reject(c *gin.Context, authErr *irissec.AuthError) {
	g.metrics.AuthVerdicts.WithLabelValues(authErr.Code).Inc()
	logger := requestLogger(c, g.logger)
	logger.Warn().
		Str("code", authErr.Code).
		Str("remote", c.ClientIP()).
		Msg(authErr.Message)
	c.AbortWithStatusJSON(authErr.Status, gin.H{
		"success": false,
		"code":    authErr.Code,
		"message": authErr.Message,
	})
}

// signingWriter captures the body while deferring the actual write.
type signingWriter struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *signingWriter) WriteHeader(status int) {
	w.status = status
}

func (w *signingWriter) Write(p []byte) (int, error) {
	return w.body.Write(p)
}

func (w *signingWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *signingWriter) flush() {
	if w.status != 0 {
		w.ResponseWriter.WriteHeader(w.status)
	}
	if w.body.Len() > 0 {
		w.ResponseWriter.Write(w.body.Bytes()) //nolint:errcheck
	}
}
