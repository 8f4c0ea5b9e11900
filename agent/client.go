package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ggsecure/iris-server/pkg/irissec"
)

// irisClient signs, optionally encrypts, and sends agent requests, and
// authenticates the server's responses on the way back.
type irisClient struct {
	baseURL  string
	verifier *irissec.Verifier
	http     *http.Client
	retrier  *retrier
	token    string
	encrypt  bool
}

func newIrisClient(baseURL string, verifier *irissec.Verifier, timeout time.Duration, r *retrier, encrypt bool) *irisClient {
	return &irisClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		verifier: verifier,
		http:     &http.Client{Timeout: timeout},
		retrier:  r,
		encrypt:  encrypt,
	}
}

func (c *irisClient) setToken(token string) { c.token = token }

// postSigned sends a signed (and when enabled, encrypted) POST and
// decodes the JSON response into out. Retries follow the configured
// backoff for transport errors and 5xx responses.
func (c *irisClient) postSigned(path string, payload, out any) error {
	return c.retrier.do(func() error {
		return c.postSignedOnce(path, payload, out)
	}, transientSendError)
}

func (c *irisClient) postSignedOnce(path string, payload, out any) error {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	body := plaintext
	if c.encrypt {
		env, err := c.verifier.Encrypt(plaintext)
		if err != nil {
			return fmt.Errorf("encrypt payload: %w", err)
		}
		if body, err = json.Marshal(env); err != nil {
			return err
		}
	}

	ts := time.Now().UnixMilli()
	nonce := uuid.NewString()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Iris-Client", "desktop")
	req.Header.Set("X-Iris-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Iris-Nonce", nonce)
	req.Header.Set("X-Iris-Signature", c.verifier.Signature(http.MethodPost, path, ts, nonce, body))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if shouldRetryStatus(resp) {
		return backendBusyError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := c.verifyResponse(path, resp, respBody); err != nil {
		return err
	}
	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

// verifyResponse checks the server's response signature. A missing or
// bad signature means the reply did not come from the real backend.
func (c *irisClient) verifyResponse(path string, resp *http.Response, body []byte) error {
	tsRaw := resp.Header.Get("X-Iris-Response-Timestamp")
	sig := resp.Header.Get("X-Iris-Response-Signature")
	if tsRaw == "" || sig == "" {
		return fmt.Errorf("response missing signature headers")
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("bad response timestamp")
	}
	expected := c.verifier.ResponseSignature(path, ts, body)
	if !c.verifier.VerifyHex(sig, expected) {
		return fmt.Errorf("response signature mismatch")
	}
	return nil
}

// postToken sends a bearer-authenticated request on the unsigned
// liveness routes.
func (c *irisClient) postToken(method, path string, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Iris-Client", "desktop")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *irisClient) heartbeat() error {
	var resp struct {
		Time int64 `json:"time"`
	}
	if err := c.postToken(http.MethodPost, "/iris/heartbeat", &resp); err != nil {
		return err
	}
	drift := time.Now().UnixMilli() - resp.Time
	if drift < 0 {
		drift = -drift
	}
	if drift > 5*60*1000 {
		log.Warn().Int64("drift_ms", drift).Msg("Local clock drifting from server")
	}
	return nil
}
