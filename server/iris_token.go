package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// agentClaims binds the token to both the account and the hardware it
// was issued on.
type agentClaims struct {
	HWID string `json:"hwid,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates the long-lived agent tokens used on
// the unsigned liveness routes.
type TokenIssuer struct {
	secret      []byte
	ttl         time.Duration
	requireHWID bool
	now         func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration, requireHWID bool, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, requireHWID: requireHWID, now: now}
}

func (t *TokenIssuer) Issue(accountID, hwid string) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := agentClaims{
		HWID: hwid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    "iris-server",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns the bound account and hardware
// IDs. Algorithm confusion is rejected by pinning HS256.
func (t *TokenIssuer) Validate(raw string) (string, string, error) {
	var claims agentClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", "", fmt.Errorf("invalid token claims")
	}
	if t.requireHWID && claims.HWID == "" {
		return "", "", fmt.Errorf("token missing hardware binding")
	}
	return claims.Subject, claims.HWID, nil
}

// requireToken guards the skip-signature routes with the agent token.
func (s *Server) requireToken(c *gin.Context) {
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		respondError(c, http.StatusUnauthorized, "missing bearer token", s.logger)
		return
	}
	account, _, err := s.tokens.Validate(strings.TrimPrefix(authz, "Bearer "))
	if err != nil {
		respondError(c, http.StatusUnauthorized, "invalid or expired token", s.logger)
		return
	}
	c.Set(accountIDContextKey, account)
	c.Next()
}
