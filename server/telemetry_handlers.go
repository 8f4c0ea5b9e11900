package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ggsecure/iris-server/pkg/detection"
)

// telemetryRequest is the decrypted wire shape of one scan report.
type telemetryRequest struct {
	Type       string                    `json:"type"`
	RiskScore  int                       `json:"riskScore"`
	RiskLevel  string                    `json:"riskLevel"`
	Found      bool                      `json:"found"`
	Detections []detection.Finding       `json:"detections,omitempty"`
	Flags      *detection.SecurityFlags  `json:"securityFlags,omitempty"`
	Tamper     *detection.TamperInfo     `json:"tamper,omitempty"`
	Timestamp  int64                     `json:"timestamp,omitempty"`
}

// handleTelemetry ingests one detection report. The response is a bare
// acknowledgement regardless of what the pipeline decided, so the wire
// carries no signal about suppression or enforcement.
func (s *Server) handleTelemetry(c *gin.Context) {
	var req telemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing detection type"})
		return
	}

	account := accountID(c)
	category := detection.Category(req.Type)
	level := detection.ParseRiskLevel(req.RiskLevel)
	s.metrics.Detections.WithLabelValues(string(category), level.String()).Inc()

	observedAt := s.now()
	if req.Timestamp > 0 {
		observedAt = time.UnixMilli(req.Timestamp)
	}

	var err error
	if category == detection.CategorySecurity && req.Flags != nil {
		err = s.pipeline.ReportSecurityFlags(c.Request.Context(), account, *req.Flags)
	} else {
		err = s.pipeline.Process(c.Request.Context(), account, detection.Event{
			Category:   category,
			RiskScore:  req.RiskScore,
			RiskLevel:  level,
			Found:      req.Found,
			Findings:   req.Detections,
			Tamper:     req.Tamper,
			ObservedAt: observedAt,
		})
	}
	if err != nil {
		// A failed restriction must stay invisible on the wire; the
		// next qualifying event retries it.
		s.pipelineFailure(c, err, account, req.Type)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// pipelineFailure records a processing error without surfacing it to
// the agent. A 5xx here would both leak enforcement state and make the
// agent's retrier resend the report.
func (s *Server) pipelineFailure(c *gin.Context, err error, account, kind string) {
	s.metrics.PipelineFailures.Inc()
	logger := requestLogger(c, s.logger)
	logger.Error().Err(err).
		Str("account_id", account).
		Str("type", kind).
		Msg("detection processing failed")
}

// handleMatchStatus ingests one game-liveness probe result.
func (s *Server) handleMatchStatus(c *gin.Context) {
	var req detection.GameStatus
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.pipeline.ReportMatchStatus(c.Request.Context(), accountID(c), req); err != nil {
		s.pipelineFailure(c, err, accountID(c), "match_status")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleFocus ingests one window-focus sample.
func (s *Server) handleFocus(c *gin.Context) {
	var req struct {
		Active    bool  `json:"active"`
		Timestamp int64 `json:"timestamp,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sample := detection.FocusSample{Active: req.Active}
	if req.Timestamp > 0 {
		sample.At = time.UnixMilli(req.Timestamp)
	}
	if err := s.pipeline.ReportFocus(c.Request.Context(), accountID(c), sample); err != nil {
		s.pipelineFailure(c, err, accountID(c), "focus")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
