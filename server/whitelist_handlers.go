package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func (s *Server) registerAdminRoutes(r *gin.Engine) {
	admin := r.Group("/v1", s.requireAdmin)
	admin.GET("/whitelist", s.handleListWhitelist)
	admin.POST("/whitelist", s.handleAddWhitelist)
	admin.DELETE("/whitelist/:id", s.handleRemoveWhitelist)
	admin.GET("/sessions", s.handleListSessions)
	admin.GET("/restrictions", s.handleListRestrictions)
	admin.POST("/restrictions", s.handleApplyRestriction)
	admin.DELETE("/restrictions/:id", s.handleLiftRestriction)
}

func (s *Server) handleListWhitelist(c *gin.Context) {
	entries, err := s.whitelist.List(c.Query("type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list whitelist"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleAddWhitelist(c *gin.Context) {
	var req struct {
		Type        string `json:"type"`
		Identifier  string `json:"identifier"`
		Secondary   string `json:"secondary"`
		DisplayName string `json:"display_name"`
		Note        string `json:"note"`
		AddedBy     string `json:"added_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" || req.Identifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type and identifier are required"})
		return
	}

	entry, err := s.whitelist.Add(WhitelistEntry{
		Type:        req.Type,
		Identifier:  req.Identifier,
		Secondary:   req.Secondary,
		DisplayName: req.DisplayName,
		Note:        req.Note,
		AddedBy:     req.AddedBy,
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "entry already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add entry"})
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().
		Str("type", entry.Type).
		Str("identifier", entry.Identifier).
		Str("added_by", entry.AddedBy).
		Msg("whitelist entry added")
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleRemoveWhitelist(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}
	if err := s.whitelist.Remove(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove entry"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListRestrictions(c *gin.Context) {
	var records []Restriction
	query := s.db.Order("applied_at desc").Limit(200)
	if account := c.Query("account_id"); account != "" {
		query = query.Where("account_id = ?", account)
	}
	if c.Query("active") == "true" {
		query = query.Where("lifted_at IS NULL AND (expires_at IS NULL OR expires_at > ?)", s.now().UTC())
	}
	if err := query.Find(&records).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list restrictions"})
		return
	}
	c.JSON(http.StatusOK, records)
}

// handleApplyRestriction is the manual ban path for operators.
func (s *Server) handleApplyRestriction(c *gin.Context) {
	var req struct {
		AccountID     string `json:"account_id"`
		Reason        string `json:"reason"`
		DurationHours int    `json:"duration_hours"`
		Permanent     bool   `json:"permanent"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AccountID == "" || req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account_id and reason are required"})
		return
	}
	duration := s.defaultBan
	switch {
	case req.Permanent:
		duration = 0 // no automatic lift
	case req.DurationHours > 0:
		duration = time.Duration(req.DurationHours) * time.Hour
	}

	if err := s.enforcer.Apply(c.Request.Context(), req.AccountID, "manual", req.Reason, duration); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply restriction"})
		return
	}
	c.Status(http.StatusCreated)
}

func (s *Server) handleLiftRestriction(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid restriction id"})
		return
	}
	liftedBy := c.Query("lifted_by")
	if liftedBy == "" {
		liftedBy = "admin"
	}
	if err := s.enforcer.Lift(c.Request.Context(), id, liftedBy); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "restriction not found or already lifted"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to lift restriction"})
		return
	}
	c.Status(http.StatusNoContent)
}
