package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Server) registerEnrollmentRoutes(r *gin.Engine) {
	admin := r.Group("/v1/enroll", s.requireAdmin)
	admin.POST("/tokens", s.handleIssueToken)
	admin.GET("/tokens", s.handleListTokens)
	admin.DELETE("/tokens/:id", s.handleRevokeToken)
}

func (s *Server) requireAdmin(c *gin.Context) {
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	if !secureCompare(token, s.adminToken) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
		return
	}
	c.Next()
}

func (s *Server) handleIssueToken(c *gin.Context) {
	var req struct {
		Label            string `json:"label"`
		ExpiresInSeconds int64  `json:"expires_in_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw, err := generateEnrollmentSecret()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	expiresAt := time.Time{}
	if req.ExpiresInSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(req.ExpiresInSeconds) * time.Second)
	}

	record := EnrollmentToken{
		Label:     req.Label,
		TokenHash: s.tokenHasher.digest(raw),
		ExpiresAt: expiresAt,
	}

	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()

	if err := s.db.Create(&record).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         record.ID,
		"token":      raw,
		"label":      record.Label,
		"expires_at": record.ExpiresAt,
	})
}

func (s *Server) handleListTokens(c *gin.Context) {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()

	var tokens []EnrollmentToken
	if err := s.db.Order("created_at desc").Find(&tokens).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tokens"})
		return
	}

	resp := make([]gin.H, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, gin.H{
			"id":          t.ID,
			"label":       t.Label,
			"expires_at":  t.ExpiresAt,
			"used_at":     t.UsedAt,
			"redeemed_by": t.RedeemedBy,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRevokeToken(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token id"})
		return
	}

	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()

	var token EnrollmentToken
	if err := s.db.First(&token, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load token"})
		return
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"used_at":     now,
		"redeemed_by": fmt.Sprintf("revoked:%d", now.Unix()),
	}
	if err := s.db.Model(&token).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}

	c.Status(http.StatusNoContent)
}

// handleRegister exchanges a single-use enrollment token for the
// long-lived agent token. The request itself is already signature and
// replay checked by the gate; the rate limit caps brute forcing of
// leaked but expired tokens.
func (s *Server) handleRegister(c *gin.Context) {
	var req struct {
		Token     string `json:"token"`
		AccountID string `json:"accountId"`
		HWID      string `json:"hwid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Token == "" || req.AccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
		return
	}
	if s.requireHWID && req.HWID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hwid is required"})
		return
	}

	if !s.registerLimiter.Allow(c.ClientIP(), 10, time.Minute) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many registration attempts"})
		return
	}

	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()

	var token EnrollmentToken
	query := s.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("token_hash = ?", s.tokenHasher.digest(req.Token))
	if err := query.First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token lookup failed"})
		return
	}
	if token.UsedAt != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token already used"})
		return
	}
	if !token.ExpiresAt.IsZero() && time.Now().After(token.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
		return
	}

	now := time.Now().UTC()
	account := Account{AccountID: req.AccountID, HWID: req.HWID, LastSeen: now}
	if err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"hw_id", "last_seen", "updated_at"}),
	}).Create(&account).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist account"})
		return
	}

	agentToken, expiresAt, err := s.tokens.Issue(req.AccountID, req.HWID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	if err := s.db.Model(&token).Updates(map[string]interface{}{
		"used_at":     now,
		"redeemed_by": req.AccountID,
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark token used"})
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().
		Str("account_id", req.AccountID).
		Time("token_expires", expiresAt).
		Msg("agent registered")

	c.JSON(http.StatusOK, gin.H{
		"token":          agentToken,
		"expiresAt":      expiresAt,
		"serverVersion":  Version,
		"heartbeatEvery": 30,
	})
}

func generateEnrollmentSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func parseUintParam(raw string) (uint, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty")
	}
	id64, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id64), nil
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
