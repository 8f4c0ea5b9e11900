package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Listen    ListenConfig    `yaml:"listen"`
	Database  DatabaseConfig  `yaml:"database"`
	Security  SecurityConfig  `yaml:"security"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Detection DetectionConfig `yaml:"detection"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ListenConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SecurityConfig struct {
	SharedSecret     string `yaml:"shared_secret"`
	SharedSecretFile string `yaml:"shared_secret_file"`
	JWTSecret        string `yaml:"jwt_secret"`
	AdminToken       string `yaml:"admin_token"`
	ToleranceS       int    `yaml:"timestamp_tolerance_s"`
	TokenTTLDays     int    `yaml:"token_ttl_days"`
	RequireHWIDBind  bool   `yaml:"require_hwid_bind"`
}

type SessionsConfig struct {
	DisconnectThresholdS int `yaml:"disconnect_threshold_s"`
	SweepIntervalS       int `yaml:"sweep_interval_s"`
}

type DetectionConfig struct {
	AlertCooldownS    int            `yaml:"alert_cooldown_s"`
	DefaultBanHours   int            `yaml:"default_ban_hours"`
	BanOverrideHours  map[string]int `yaml:"ban_override_hours"`
	MismatchThreshold int            `yaml:"mismatch_threshold"`
	FocusWindow       int            `yaml:"focus_window"`
	ActivityThreshold int            `yaml:"activity_threshold_pct"`
	LowActivityCycles int            `yaml:"low_activity_cycles"`
	UnbanSweepS       int            `yaml:"unban_sweep_s"`
}

type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	JSON          bool   `yaml:"json"`
	HumanReadable bool   `yaml:"human_readable"`
}

type AgentConfig struct {
	Server  AgentServerConfig `yaml:"server"`
	Auth    AgentAuthConfig   `yaml:"auth"`
	Scan    ScanConfig        `yaml:"scan"`
	Health  HealthConfig      `yaml:"health"`
	Logging LoggingConfig     `yaml:"logging"`
}

type AgentServerConfig struct {
	URL             string `yaml:"url"`
	SharedSecret    string `yaml:"shared_secret"`
	RequestTimeout  int    `yaml:"request_timeout_s"`
	RetryInitialMs  int    `yaml:"retry_initial_ms"`
	RetryMaxMs      int    `yaml:"retry_max_ms"`
	RetryMaxRetries int    `yaml:"retry_max_attempts"`
}

type AgentAuthConfig struct {
	AccountID string `yaml:"account_id"`
	HWID      string `yaml:"hwid"`
	TokenPath string `yaml:"token_path"`
}

type ScanConfig struct {
	HeartbeatS    int    `yaml:"heartbeat_s"`
	FocusSampleS  int    `yaml:"focus_sample_s"`
	GameProcess   string `yaml:"game_process"`
	ReportFlags   bool   `yaml:"report_security_flags"`
	EncryptBodies bool   `yaml:"encrypt_bodies"`
}

type HealthConfig struct {
	TimeDriftMaxS int `yaml:"time_drift_max_s"`
}

// DefaultServerConfig returns a server config with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen: ListenConfig{
			Addr: ":8443",
		},
		Database: DatabaseConfig{
			Path: "/var/lib/iris/iris.db",
		},
		Security: SecurityConfig{
			ToleranceS:   600,
			TokenTTLDays: 30,
		},
		Sessions: SessionsConfig{
			DisconnectThresholdS: 60,
			SweepIntervalS:       60,
		},
		Detection: DetectionConfig{
			AlertCooldownS:    60,
			DefaultBanHours:   24,
			MismatchThreshold: 3,
			FocusWindow:       10,
			ActivityThreshold: 20,
			LowActivityCycles: 3,
			UnbanSweepS:       60,
		},
		Alerts: AlertsConfig{
			Channel: "iris-scan",
		},
		Logging: LoggingConfig{
			Level:         "info",
			JSON:          true,
			HumanReadable: false,
		},
	}
}

// DefaultAgentConfig returns an agent config with sensible defaults
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Server: AgentServerConfig{
			URL:             "https://localhost:8443",
			RequestTimeout:  10,
			RetryInitialMs:  500,
			RetryMaxMs:      5000,
			RetryMaxRetries: 5,
		},
		Auth: AgentAuthConfig{
			TokenPath: "/var/lib/iris/agent.token",
		},
		Scan: ScanConfig{
			HeartbeatS:    30,
			FocusSampleS:  30,
			ReportFlags:   true,
			EncryptBodies: true,
		},
		Health: HealthConfig{
			TimeDriftMaxS: 120,
		},
		Logging: LoggingConfig{
			Level:         "info",
			JSON:          false,
			HumanReadable: true,
		},
	}
}

// LoadServer reads server config from file with env var overrides
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if addr := os.Getenv("IRIS_LISTEN_ADDR"); addr != "" {
		cfg.Listen.Addr = addr
	}
	if dbPath := os.Getenv("IRIS_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if secret := os.Getenv("IRIS_SHARED_SECRET"); secret != "" {
		cfg.Security.SharedSecret = secret
	}
	if secretFile := os.Getenv("IRIS_SHARED_SECRET_FILE"); secretFile != "" {
		cfg.Security.SharedSecretFile = secretFile
	}
	if jwtSecret := os.Getenv("IRIS_JWT_SECRET"); jwtSecret != "" {
		cfg.Security.JWTSecret = jwtSecret
	}
	if adminToken := os.Getenv("IRIS_ADMIN_TOKEN"); adminToken != "" {
		cfg.Security.AdminToken = adminToken
	}
	if webhook := os.Getenv("IRIS_WEBHOOK_URL"); webhook != "" {
		cfg.Alerts.WebhookURL = webhook
	}
	if level := os.Getenv("IRIS_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

// LoadAgent reads agent config from file with env var overrides
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	if url := os.Getenv("IRIS_SERVER_URL"); url != "" {
		cfg.Server.URL = url
	}
	if secret := os.Getenv("IRIS_SHARED_SECRET"); secret != "" {
		cfg.Server.SharedSecret = secret
	}
	if account := os.Getenv("IRIS_ACCOUNT_ID"); account != "" {
		cfg.Auth.AccountID = account
	}
	if hwid := os.Getenv("IRIS_HWID"); hwid != "" {
		cfg.Auth.HWID = hwid
	}
	if level := os.Getenv("IRIS_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

func (c *ServerConfig) Validate() error {
	if c.Security.SharedSecret == "" && c.Security.SharedSecretFile != "" {
		data, err := os.ReadFile(c.Security.SharedSecretFile)
		if err != nil {
			return &Error{"reading shared secret file: " + err.Error()}
		}
		c.Security.SharedSecret = strings.TrimSpace(string(data))
	}
	if c.Security.SharedSecret == "" {
		return ErrMissingSharedSecret
	}
	if c.Security.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if c.Listen.Addr == "" {
		c.Listen.Addr = ":8443"
	}
	if c.Security.ToleranceS <= 0 {
		c.Security.ToleranceS = 600
	}
	if c.Security.TokenTTLDays <= 0 {
		c.Security.TokenTTLDays = 30
	}
	if c.Sessions.DisconnectThresholdS <= 0 {
		c.Sessions.DisconnectThresholdS = 60
	}
	if c.Sessions.SweepIntervalS <= 0 {
		c.Sessions.SweepIntervalS = 60
	}
	if c.Detection.AlertCooldownS <= 0 {
		c.Detection.AlertCooldownS = 60
	}
	if c.Detection.DefaultBanHours <= 0 {
		c.Detection.DefaultBanHours = 24
	}
	if c.Detection.UnbanSweepS <= 0 {
		c.Detection.UnbanSweepS = 60
	}
	if c.Alerts.Channel == "" {
		c.Alerts.Channel = "iris-scan"
	}
	return nil
}

func (c *AgentConfig) Validate() error {
	if c.Server.URL == "" {
		return ErrMissingServerURL
	}
	if !strings.HasPrefix(c.Server.URL, "https://") && !strings.HasPrefix(c.Server.URL, "http://localhost") && !strings.HasPrefix(c.Server.URL, "http://127.0.0.1") {
		return &Error{"server URL must be https"}
	}
	if c.Server.SharedSecret == "" {
		return ErrMissingSharedSecret
	}
	if c.Auth.AccountID == "" {
		return &Error{"account_id is required"}
	}
	if c.Scan.HeartbeatS < 5 {
		return ErrInvalidHeartbeat
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 10
	}
	if c.Server.RetryInitialMs <= 0 {
		c.Server.RetryInitialMs = 500
	}
	if c.Server.RetryMaxMs <= 0 {
		c.Server.RetryMaxMs = 5000
	}
	if c.Server.RetryMaxRetries < 0 {
		c.Server.RetryMaxRetries = 5
	}
	if c.Server.RetryMaxMs < c.Server.RetryInitialMs {
		c.Server.RetryMaxMs = c.Server.RetryInitialMs
	}
	return nil
}

var (
	ErrMissingServerURL    = &Error{"server URL is required"}
	ErrMissingSharedSecret = &Error{"shared secret is required"}
	ErrMissingJWTSecret    = &Error{"JWT secret is required"}
	ErrInvalidHeartbeat    = &Error{"heartbeat interval must be >= 5s"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
