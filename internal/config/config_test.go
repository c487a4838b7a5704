package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
telegram:
  require_subscription: false
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, DriverSQLite, cfg.Database.Driver)
	require.True(t, cfg.Database.IsEmbedded())
	require.Equal(t, 3, cfg.Provisioning.MaxAttempts)
	require.Equal(t, "cloudspb.ru", cfg.Provisioning.EmailDomain)
	require.Equal(t, 10*time.Minute, cfg.Telegram.MinSubscription)
	require.Equal(t, 5, cfg.RateLimit.Requests)
	require.Equal(t, 5*time.Second, cfg.RateLimit.Window)
	require.True(t, cfg.Reconciler.DryRun)
	require.False(t, cfg.Reconciler.Enabled)
	require.Equal(t, 30*time.Minute, cfg.Reconciler.GracePeriod)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.False(t, cfg.Panel.Configured())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOSTBOT_SERVER_PORT", "9090")
	t.Setenv("HOSTBOT_ADMIN_IDS", "1, 2")
	t.Setenv("HOSTBOT_PROVISIONING_EMAIL_DOMAIN", "example.org")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "example.org", cfg.Provisioning.EmailDomain)

	ids, err := cfg.Admin.ParseIDs()
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids)
}

func TestAdminConfig_ParseIDs(t *testing.T) {
	ids, err := AdminConfig{IDs: ""}.ParseIDs()
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = AdminConfig{IDs: "10,,20 "}.ParseIDs()
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20}, ids)

	_, err = AdminConfig{IDs: "10,abc"}.ParseIDs()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:       ServerConfig{Port: 8080},
			Database:     DatabaseConfig{Driver: DriverSQLite, Path: "x.db"},
			Provisioning: ProvisioningConfig{MaxAttempts: 3, EmailDomain: "cloudspb.ru"},
			RateLimit:    RateLimitConfig{Enabled: true, Requests: 5, Window: time.Second},
			Logging:      LoggingConfig{Level: "info"},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without host", func(c *Config) {
			c.Database = DatabaseConfig{Driver: DriverPostgres, User: "u", Database: "d"}
		}},
		{"zero attempts", func(c *Config) { c.Provisioning.MaxAttempts = 0 }},
		{"missing email domain", func(c *Config) { c.Provisioning.EmailDomain = "" }},
		{"panel url without key", func(c *Config) { c.Panel.URL = "http://panel" }},
		{"subscription without token", func(c *Config) {
			c.Telegram.RequireSubscription = true
			c.Telegram.Channel = "@news"
		}},
		{"bad admin ids", func(c *Config) { c.Admin.IDs = "x" }},
		{"zero rate limit", func(c *Config) { c.RateLimit.Requests = 0 }},
		{"reconciler without interval", func(c *Config) { c.Reconciler.Enabled = true }},
		{"negative grace period", func(c *Config) { c.Reconciler.GracePeriod = -time.Second }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
