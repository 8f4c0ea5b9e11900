package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggsecure/iris-server/pkg/irissec"
	"github.com/ggsecure/iris-server/pkg/metrics"
	"github.com/ggsecure/iris-server/pkg/replay"
)

const testSecret = "gate-test-shared-secret"

func newTestGate(t *testing.T) (*Gate, *irissec.Verifier, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := irissec.NewVerifier(testSecret)
	require.NoError(t, err)

	nonces := replay.New(10*time.Minute, nil)
	gate := NewGate(verifier, nonces, 10*time.Minute, metrics.New(), zerolog.Nop(), nil)

	r := gin.New()
	signed := r.Group("/iris", gate.RequireClient, gate.SignResponses, gate.RequireSignature)
	signed.POST("/echo", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.JSON(http.StatusOK, gin.H{"echo": string(body)})
	})
	return gate, verifier, r
}

func signRequest(t *testing.T, verifier *irissec.Verifier, req *http.Request, nonce string, body []byte) {
	t.Helper()
	ts := time.Now().UnixMilli()
	req.Header.Set(headerClient, clientMarker)
	req.Header.Set(headerTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(headerNonce, nonce)
	req.Header.Set(headerSignature, verifier.Signature(req.Method, req.URL.Path, ts, nonce, body))
}

func TestGate_AcceptsValidSignedRequest(t *testing.T) {
	_, verifier, r := newTestGate(t)
	body := []byte(`{"hello":"world"}`)

	req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
	signRequest(t, verifier, req, "nonce-1", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `{\"hello\":\"world\"}`)
}

func TestGate_SignsResponses(t *testing.T) {
	_, verifier, r := newTestGate(t)
	body := []byte(`{"a":1}`)

	req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
	signRequest(t, verifier, req, "nonce-resp", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	tsRaw := w.Header().Get(headerResponseTimestamp)
	sig := w.Header().Get(headerResponseSignature)
	require.NotEmpty(t, tsRaw)
	require.NotEmpty(t, sig)

	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	require.NoError(t, err)
	expected := verifier.ResponseSignature("/iris/echo", ts, w.Body.Bytes())
	assert.True(t, verifier.VerifyHex(sig, expected), "response signature must verify over the exact body")
}

func TestGate_RejectsMissingClientMarker(t *testing.T) {
	_, verifier, r := newTestGate(t)
	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
	signRequest(t, verifier, req, "nonce-2", body)
	req.Header.Del(headerClient)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assertAuthCode(t, w, "MISSING_HEADERS")
}

func TestGate_RejectsMissingHeaders(t *testing.T) {
	_, _, r := newTestGate(t)

	req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(headerClient, clientMarker)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assertAuthCode(t, w, "MISSING_HEADERS")
}

func TestGate_RejectsStaleTimestamp(t *testing.T) {
	_, verifier, r := newTestGate(t)
	body := []byte(`{}`)
	nonce := "nonce-stale"
	ts := time.Now().Add(-11 * time.Minute).UnixMilli()

	req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
	req.Header.Set(headerClient, clientMarker)
	req.Header.Set(headerTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(headerNonce, nonce)
	req.Header.Set(headerSignature, verifier.Signature(http.MethodPost, "/iris/echo", ts, nonce, body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assertAuthCode(t, w, "INVALID_TIMESTAMP")
}

func TestGate_RejectsReplayedNonce(t *testing.T) {
	_, verifier, r := newTestGate(t)
	body := []byte(`{"n":1}`)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
		signRequest(t, verifier, req, "nonce-replay", body)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := send()
	require.Equal(t, http.StatusOK, first.Code)

	second := send()
	require.Equal(t, http.StatusUnauthorized, second.Code)
	assertAuthCode(t, second, "REPLAY_DETECTED")
}

func TestGate_ConcurrentSameNonceAcceptsExactlyOne(t *testing.T) {
	_, verifier, r := newTestGate(t)
	body := []byte(`{"n":3}`)

	const workers = 16
	var wg sync.WaitGroup
	var accepted atomic.Int32
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
			signRequest(t, verifier, req, "nonce-contested", body)
			<-start
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code == http.StatusOK {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, accepted.Load(), "a nonce is accepted at most once, even under concurrency")
}

func TestGate_FailedSignatureDoesNotBurnNonce(t *testing.T) {
	_, verifier, r := newTestGate(t)
	body := []byte(`{"n":2}`)
	nonce := "nonce-unburned"

	// Wrong signature first: rejected without recording the nonce.
	req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
	ts := time.Now().UnixMilli()
	req.Header.Set(headerClient, clientMarker)
	req.Header.Set(headerTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(headerNonce, nonce)
	req.Header.Set(headerSignature, verifier.Signature(http.MethodPost, "/iris/echo", ts, "other-nonce", body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assertAuthCode(t, w, "INVALID_SIGNATURE")

	// The same nonce must still be usable with a correct signature.
	req = httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
	signRequest(t, verifier, req, nonce, body)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGate_RejectsMalformedSignature(t *testing.T) {
	_, _, r := newTestGate(t)
	body := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
	req.Header.Set(headerClient, clientMarker)
	req.Header.Set(headerTimestamp, strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.Header.Set(headerNonce, "nonce-fmt")
	req.Header.Set(headerSignature, "not-hex-at-all")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assertAuthCode(t, w, "INVALID_FORMAT")
}

func TestGate_DecryptsEnvelopeBodies(t *testing.T) {
	_, verifier, r := newTestGate(t)

	plaintext := []byte(`{"secret":"payload"}`)
	env, err := verifier.Encrypt(plaintext)
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
	signRequest(t, verifier, req, "nonce-enc", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "secret", "handler must see the decrypted plaintext")
}

func TestGate_RejectsTamperedEnvelope(t *testing.T) {
	_, verifier, r := newTestGate(t)

	env, err := verifier.Encrypt([]byte(`{"secret":"payload"}`))
	require.NoError(t, err)
	env.Tag = "00000000000000000000000000000000"
	body, err := json.Marshal(env)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/iris/echo", bytes.NewReader(body))
	signRequest(t, verifier, req, "nonce-tampered", body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assertAuthCode(t, w, "DECRYPT_FAILED")
}

func assertAuthCode(t *testing.T, w *httptest.ResponseRecorder, code string) {
	t.Helper()
	var resp struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	assert.False(t, resp.Success)
	assert.Equal(t, code, resp.Code)
	assert.NotEmpty(t, resp.Message)
}
