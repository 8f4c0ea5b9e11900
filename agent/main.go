package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ggsecure/iris-server/pkg/config"
	"github.com/ggsecure/iris-server/pkg/detection"
	"github.com/ggsecure/iris-server/pkg/health"
	"github.com/ggsecure/iris-server/pkg/irissec"
)

var (
	configPath  = flag.String("config", "/etc/iris/agent.yaml", "Config file path")
	serverURL   = flag.String("server", "", "Iris server URL (overrides config)")
	enrollToken = flag.String("enroll", "", "One-time enrollment token")
	accountID   = flag.String("account", "", "Account ID (overrides config)")
	Version     = "dev"
)

type Agent struct {
	config *config.AgentConfig
	client *irisClient
}

func main() {
	flag.Parse()

	configureAgentLogger()
	log.Info().Str("version", Version).Msg("Iris Agent starting")

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// CLI overrides
	if *serverURL != "" {
		cfg.Server.URL = *serverURL
	}
	if *accountID != "" {
		cfg.Auth.AccountID = *accountID
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	applyAgentLogging(cfg.Logging)

	healthStatus := health.Check(cfg.Server.URL, cfg.Health.TimeDriftMaxS)
	if !healthStatus.Healthy {
		log.Warn().Interface("issues", healthStatus.Issues).Msg("Health check reported issues")
	}

	verifier, err := irissec.NewVerifier(cfg.Server.SharedSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize request signing")
	}

	agent := &Agent{
		config: cfg,
		client: newIrisClient(
			cfg.Server.URL,
			verifier,
			time.Duration(cfg.Server.RequestTimeout)*time.Second,
			newRetrier(cfg.Server.RetryInitialMs, cfg.Server.RetryMaxMs, cfg.Server.RetryMaxRetries),
			cfg.Scan.EncryptBodies,
		),
	}

	if err := agent.loadOrRegister(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize agent token")
	}
	log.Info().Str("account_id", cfg.Auth.AccountID).Str("server", cfg.Server.URL).Msg("Agent registered")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	agent.runLoop(stop)

	log.Info().Msg("Disconnecting")
	if err := agent.client.postSigned("/iris/disconnect", struct{}{}, nil); err != nil {
		log.Warn().Err(err).Msg("Clean disconnect failed")
	}
}

// runLoop drives the heartbeat cadence. Security flags are reported on
// the first beat and after that only when a cycle boundary passes;
// focus samples ride along every beat while a game process is set.
func (a *Agent) runLoop(stop <-chan os.Signal) {
	interval := time.Duration(a.config.Scan.HeartbeatS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.beat(true)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.beat(a.config.Scan.ReportFlags)
		}
	}
}

func (a *Agent) beat(reportFlags bool) {
	if err := a.client.heartbeat(); err != nil {
		log.Error().Err(err).Msg("Heartbeat failed")
		return
	}

	if reportFlags {
		flags := collectSecurityFlags()
		if err := a.client.postSigned("/iris/telemetry", map[string]any{
			"type":          string(detection.CategorySecurity),
			"securityFlags": flags,
			"timestamp":     time.Now().UnixMilli(),
		}, nil); err != nil {
			log.Error().Err(err).Msg("Security state report failed")
		}
	}

	if active, ok := sampleFocus(a.config.Scan.GameProcess); ok {
		if err := a.client.postSigned("/iris/focus", map[string]any{
			"active":    active,
			"timestamp": time.Now().UnixMilli(),
		}, nil); err != nil {
			log.Error().Err(err).Msg("Focus sample failed")
		}
	}
}

// loadOrRegister reuses a persisted agent token when one exists, and
// otherwise exchanges the one-time enrollment token for a fresh one.
func (a *Agent) loadOrRegister() error {
	if data, err := os.ReadFile(a.config.Auth.TokenPath); err == nil {
		token := strings.TrimSpace(string(data))
		if token != "" {
			a.client.setToken(token)
			if err := a.client.postToken("GET", "/iris/verify", nil); err == nil {
				log.Info().Msg("Loaded existing agent token")
				return nil
			}
			log.Warn().Msg("Persisted token rejected, re-registering")
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	token := *enrollToken
	if token == "" {
		return fmt.Errorf("no valid agent token and no enrollment token provided")
	}
	return a.register(token)
}

func (a *Agent) register(token string) error {
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := a.client.postSigned("/iris/register", map[string]string{
		"token":     token,
		"accountId": a.config.Auth.AccountID,
		"hwid":      a.config.Auth.HWID,
	}, &resp); err != nil {
		return err
	}
	if resp.Token == "" {
		return fmt.Errorf("registration returned no token")
	}

	a.client.setToken(resp.Token)
	if err := os.WriteFile(a.config.Auth.TokenPath, []byte(resp.Token), 0o600); err != nil {
		log.Warn().Err(err).Str("path", a.config.Auth.TokenPath).Msg("Failed to persist agent token")
	}
	log.Info().Time("expires_at", resp.ExpiresAt).Msg("Registration successful")
	return nil
}

func configureAgentLogger() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.DurationFieldUnit = time.Millisecond

	level := zerolog.InfoLevel
	if raw := strings.ToLower(strings.TrimSpace(os.Getenv("IRIS_AGENT_LOG_LEVEL"))); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	format := strings.ToLower(strings.TrimSpace(os.Getenv("IRIS_AGENT_LOG_FORMAT")))

	logger := newAgentLogger(format)
	log.Logger = logger.Level(level)
	zerolog.SetGlobalLevel(level)
}

func applyAgentLogging(cfg config.LoggingConfig) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil {
		level = parsed
	}

	format := "console"
	if cfg.JSON {
		format = "json"
	}

	logger := newAgentLogger(format)
	log.Logger = logger.Level(level)
	zerolog.SetGlobalLevel(level)
}

func newAgentLogger(format string) zerolog.Logger {
	if format == "json" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}
