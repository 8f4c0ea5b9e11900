package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handlePing is the unauthenticated liveness probe. Agents use the
// returned server time to detect local clock drift before signing.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   s.now().UnixMilli(),
	})
}

// handleHeartbeat refreshes the account's session. First heartbeat
// after an absence opens a session and emits the connect transition.
func (s *Server) handleHeartbeat(c *gin.Context) {
	account := accountID(c)
	now := s.now()
	s.tracker.Heartbeat(account, now)

	if err := s.db.Model(&Account{}).
		Where("account_id = ?", account).
		Update("last_seen", now.UTC()).Error; err != nil {
		logger := requestLogger(c, s.logger)
		logger.Error().Err(err).Str("account_id", account).Msg("failed to update last seen")
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   now.UnixMilli(),
	})
}

// handleVerify confirms the agent token is still valid and reports the
// connection state. Restriction status is deliberately absent: the
// agent must not learn it is shadow banned.
func (s *Server) handleVerify(c *gin.Context) {
	account := accountID(c)
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"accountId": account,
		"connected": s.tracker.Connected(account, s.now()),
	})
}

// handleDisconnect closes the session explicitly on clean agent exit
// instead of waiting out the liveness sweep.
func (s *Server) handleDisconnect(c *gin.Context) {
	account := accountID(c)
	s.tracker.Disconnect(account, s.now())
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListSessions is the admin view of current and recent sessions.
func (s *Server) handleListSessions(c *gin.Context) {
	var records []AgentSession
	query := s.db.Order("started_at desc").Limit(200)
	if account := c.Query("account_id"); account != "" {
		query = query.Where("account_id = ?", account)
	}
	if c.Query("open") == "true" {
		query = query.Where("ended_at IS NULL")
	}
	if err := query.Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}

	resp := make([]gin.H, 0, len(records))
	for _, r := range records {
		entry := gin.H{
			"session_id": r.SessionID,
			"account_id": r.AccountID,
			"started_at": r.StartedAt,
		}
		if r.EndedAt != nil {
			entry["ended_at"] = r.EndedAt
			entry["duration_s"] = r.DurationS
		}
		resp = append(resp, entry)
	}
	c.JSON(http.StatusOK, gin.H{
		"open":     s.tracker.OpenSessions(),
		"sessions": resp,
	})
}
