package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.Tolerance)
	assert.Equal(t, "@every 5m", cfg.Reconcile.Schedule)
	assert.False(t, cfg.AutoApproval.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfigFile(t, `
environment: staging
server:
  port: "9000"
  read_timeout: 20s
storage:
  driver: memory
auto_approval:
  enabled: true
  max_risk_score: 0.2
  allow_types: [restart]
notifications:
  slack:
    channel: "#ops"
`)

	t.Setenv("ORCH_SERVER__PORT", "9100")
	t.Setenv("ORCH_WEBHOOK__SIGNING_SECRET", "s3cret")
	t.Setenv("ORCH_AGENTS__TIMEOUT", "45s")
	t.Setenv("ORCH_CORS__ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "9100", cfg.Server.Port, "env overrides file")
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, Default().Server.WriteTimeout, cfg.Server.WriteTimeout, "untouched keys keep defaults")
	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.True(t, cfg.AutoApproval.Enabled)
	assert.Equal(t, 0.2, cfg.AutoApproval.MaxRiskScore)
	assert.Equal(t, []string{"restart"}, cfg.AutoApproval.AllowTypes)
	assert.Equal(t, "#ops", cfg.Notifications.Slack.Channel)
	assert.Equal(t, "s3cret", cfg.Webhook.SigningSecret)
	assert.Equal(t, 45*time.Second, cfg.Agents.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := writeConfigFile(t, "log:\n  level: debug\n")
	t.Setenv("ORCH_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidConfig(t *testing.T) {
	t.Setenv("ORCH_ENVIRONMENT", "production")
	t.Setenv("ORCH_WEBHOOK__ALLOW_INSECURE", "true")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook.allow_insecure cannot be enabled in production")
	assert.Contains(t, err.Error(), "webhook.signing_secret is required in production")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown storage driver",
			mutate:  func(c *Config) { c.Storage.Driver = "sqlite" },
			wantErr: "storage.driver",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: "database.url is required",
		},
		{
			name: "memory in production",
			mutate: func(c *Config) {
				c.Environment = "prod"
				c.Webhook.SigningSecret = "x"
				c.Storage.Driver = StorageDriverMemory
			},
			wantErr: "not allowed in production",
		},
		{
			name: "production with secret",
			mutate: func(c *Config) {
				c.Environment = "Production"
				c.Webhook.SigningSecret = "x"
			},
		},
		{
			name:   "insecure outside production",
			mutate: func(c *Config) { c.Webhook.AllowInsecure = true },
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format",
		},
		{
			name:    "risk score above one",
			mutate:  func(c *Config) { c.AutoApproval.MaxRiskScore = 1.5 },
			wantErr: "max_risk_score",
		},
		{
			name:    "reconcile without schedule",
			mutate:  func(c *Config) { c.Reconcile.Schedule = "" },
			wantErr: "reconcile.schedule",
		},
		{
			name:    "no workers",
			mutate:  func(c *Config) { c.Tasks.NumWorkers = 0 },
			wantErr: "tasks.num_workers",
		},
		{
			name:    "no update attempts",
			mutate:  func(c *Config) { c.Incidents.MaxUpdateAttempts = 0 },
			wantErr: "max_update_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChannelConfigured(t *testing.T) {
	assert.False(t, SlackConfig{}.Configured())
	assert.True(t, SlackConfig{BotToken: "xoxb"}.Configured())
	assert.False(t, JiraConfig{BaseURL: "https://x"}.Configured())
	assert.True(t, JiraConfig{BaseURL: "https://x", APIToken: "t"}.Configured())
}
