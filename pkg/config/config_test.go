package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8443", cfg.Listen.Addr)
	assert.Equal(t, 600, cfg.Security.ToleranceS)
	assert.Equal(t, 30, cfg.Security.TokenTTLDays)
	assert.Equal(t, "iris-scan", cfg.Alerts.Channel)
}

func TestLoadServer_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen:
  addr: ":9000"
security:
  shared_secret: file-secret
  jwt_secret: jwt-secret
detection:
  default_ban_hours: 48
  ban_override_hours:
    tamper_detected: 72
`), 0o600))
	t.Setenv("IRIS_SHARED_SECRET", "env-secret")

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen.Addr)
	assert.Equal(t, "env-secret", cfg.Security.SharedSecret, "env must win over file")
	assert.Equal(t, 48, cfg.Detection.DefaultBanHours)
	assert.Equal(t, 72, cfg.Detection.BanOverrideHours["tamper_detected"])
}

func TestServerValidate_RequiresSecrets(t *testing.T) {
	cfg := DefaultServerConfig()
	require.ErrorIs(t, cfg.Validate(), ErrMissingSharedSecret)

	cfg.Security.SharedSecret = "s"
	require.ErrorIs(t, cfg.Validate(), ErrMissingJWTSecret)

	cfg.Security.JWTSecret = "j"
	require.NoError(t, cfg.Validate())
}

func TestServerValidate_ReadsSecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("hunter2\n"), 0o600))

	cfg := DefaultServerConfig()
	cfg.Security.SharedSecretFile = path
	cfg.Security.JWTSecret = "j"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "hunter2", cfg.Security.SharedSecret)
}

func TestServerValidate_NormalizesZeroValues(t *testing.T) {
	cfg := &ServerConfig{}
	cfg.Security.SharedSecret = "s"
	cfg.Security.JWTSecret = "j"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 600, cfg.Security.ToleranceS)
	assert.Equal(t, 60, cfg.Sessions.DisconnectThresholdS)
	assert.Equal(t, 60, cfg.Detection.AlertCooldownS)
	assert.Equal(t, 24, cfg.Detection.DefaultBanHours)
}

func TestAgentValidate(t *testing.T) {
	cfg := DefaultAgentConfig()
	cfg.Server.SharedSecret = "s"
	cfg.Auth.AccountID = "acct-1"
	require.NoError(t, cfg.Validate())

	cfg.Scan.HeartbeatS = 1
	require.ErrorIs(t, cfg.Validate(), ErrInvalidHeartbeat)

	cfg.Scan.HeartbeatS = 30
	cfg.Server.URL = "http://example.com"
	require.Error(t, cfg.Validate(), "plain http only allowed for loopback")

	cfg.Server.URL = "http://localhost:8443"
	require.NoError(t, cfg.Validate())
}
