package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ggsecure/iris-server/pkg/alert"
	"github.com/ggsecure/iris-server/pkg/config"
	"github.com/ggsecure/iris-server/pkg/detection"
	"github.com/ggsecure/iris-server/pkg/irissec"
	"github.com/ggsecure/iris-server/pkg/metrics"
	"github.com/ggsecure/iris-server/pkg/replay"
	"github.com/ggsecure/iris-server/pkg/sessions"
)

var (
	configPath = flag.String("config", "/etc/iris/server.yaml", "Config file path")
	Version    = "dev"
)

// Server carries the shared state behind every handler.
type Server struct {
	db        *gorm.DB
	logger    zerolog.Logger
	metrics   *metrics.Registry
	tokens    *TokenIssuer
	tracker   *sessions.Tracker
	pipeline  *detection.Pipeline
	whitelist *WhitelistStore
	enforcer  *RestrictionEnforcer
	now       func() time.Time

	tokenHasher     enrollHasher
	tokensMu        sync.Mutex
	registerLimiter *RateLimiter
	adminToken      string
	requireHWID     bool
	defaultBan      time.Duration
}

func main() {
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("invalid config")
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("iris server starting")

	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("failed to open database")
	}
	if err := db.AutoMigrate(&Account{}, &AgentSession{}, &WhitelistEntry{}, &Restriction{}, &EnrollmentToken{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}

	verifier, err := irissec.NewVerifier(cfg.Security.SharedSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize verifier")
	}

	m := metrics.New()
	tolerance := time.Duration(cfg.Security.ToleranceS) * time.Second
	nonces := replay.New(tolerance, nil)
	gate := NewGate(verifier, nonces, tolerance, m, logger, nil)

	var dispatcher alert.Dispatcher
	if cfg.Alerts.WebhookURL != "" {
		dispatcher = alert.NewWebhookDispatcher(cfg.Alerts.WebhookURL, logger)
	} else {
		dispatcher = alert.NewLogDispatcher(logger)
	}

	defaultBan := time.Duration(cfg.Detection.DefaultBanHours) * time.Hour
	enforcer := NewRestrictionEnforcer(db, dispatcher, cfg.Alerts.Channel, m, logger, nil)
	whitelist := NewWhitelistStore(db)

	banOverrides := make(map[detection.Category]time.Duration, len(cfg.Detection.BanOverrideHours))
	for category, hours := range cfg.Detection.BanOverrideHours {
		banOverrides[detection.Category(category)] = time.Duration(hours) * time.Hour
	}
	pipeline := detection.NewPipeline(detection.Config{
		Channel:           cfg.Alerts.Channel,
		Cooldown:          time.Duration(cfg.Detection.AlertCooldownS) * time.Second,
		DefaultBan:        defaultBan,
		BanOverrides:      banOverrides,
		MismatchThreshold: cfg.Detection.MismatchThreshold,
		FocusWindow:       cfg.Detection.FocusWindow,
		ActivityThreshold: cfg.Detection.ActivityThreshold,
		LowActivityCycles: cfg.Detection.LowActivityCycles,
	}, whitelist, dispatcher, enforcer, nil, logger)

	sink := newSessionSink(db, dispatcher, cfg.Alerts.Channel, pipeline, m, logger)
	tracker := sessions.New(time.Duration(cfg.Sessions.DisconnectThresholdS)*time.Second, nil, sink.Handle)

	srv := &Server{
		db:              db,
		logger:          logger,
		metrics:         m,
		tokens:          NewTokenIssuer(cfg.Security.JWTSecret, time.Duration(cfg.Security.TokenTTLDays)*24*time.Hour, cfg.Security.RequireHWIDBind, nil),
		tracker:         tracker,
		pipeline:        pipeline,
		whitelist:       whitelist,
		enforcer:        enforcer,
		now:             time.Now,
		tokenHasher:     newEnrollHasher([]byte(cfg.Security.SharedSecret)),
		registerLimiter: NewRateLimiter(),
		adminToken:      cfg.Security.AdminToken,
		requireHWID:     cfg.Security.RequireHWIDBind,
		defaultBan:      defaultBan,
	}

	r := gin.New()
	r.Use(gin.Recovery(), withRequestContext(logger))
	if len(cfg.Listen.CORSOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = cfg.Listen.CORSOrigins
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders,
			"Authorization", headerTimestamp, headerNonce, headerSignature, headerClient)
		r.Use(cors.New(corsCfg))
	}

	srv.registerRoutes(r, gate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := newUnbanSweeper(db, dispatcher, cfg.Alerts.Channel, logger, nil)
	go nonces.Run(ctx, replay.DefaultSweepInterval)
	go tracker.Run(ctx, time.Duration(cfg.Sessions.SweepIntervalS)*time.Second)
	go sweeper.Run(ctx, time.Duration(cfg.Detection.UnbanSweepS)*time.Second)

	httpSrv := &http.Server{
		Addr:              cfg.Listen.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Listen.Addr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}

func (s *Server) registerRoutes(r *gin.Engine, gate *Gate) {
	r.GET("/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": Version})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	iris := r.Group("/iris", gate.RequireClient)
	iris.GET("/ping", s.handlePing)

	liveness := iris.Group("", s.requireToken)
	liveness.POST("/heartbeat", s.handleHeartbeat)
	liveness.GET("/verify", s.handleVerify)

	signed := iris.Group("", gate.SignResponses, gate.RequireSignature)
	signed.POST("/register", s.handleRegister)

	authed := signed.Group("", s.requireToken)
	authed.POST("/telemetry", s.handleTelemetry)
	authed.POST("/match-status", s.handleMatchStatus)
	authed.POST("/focus", s.handleFocus)
	authed.POST("/disconnect", s.handleDisconnect)

	s.registerEnrollmentRoutes(r)
	s.registerAdminRoutes(r)
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.HumanReadable && !cfg.JSON {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
