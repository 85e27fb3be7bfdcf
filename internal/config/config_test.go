package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DOCFLOW_STORAGE_SIGNING_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/docflow.db", cfg.Database.Path)
	assert.Equal(t, "local", cfg.Storage.Provider)
	assert.Equal(t, "s3cret", cfg.Storage.SigningSecret)
	assert.Equal(t, 3, cfg.Workflow.MaxRetries)
	assert.Equal(t, time.Second, cfg.Workflow.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Workflow.CapDelay)
	assert.Equal(t, 15*time.Minute, cfg.Workflow.TriggerTimeout)
	assert.Equal(t, 10*time.Second, cfg.Workflow.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Workflow.PollRetryDelay)
	assert.Equal(t, 10*time.Minute, cfg.Admin.Cooldown)
	assert.Equal(t, 2000, cfg.Documents.MinTaxYear)
	assert.Equal(t, "pdf:primary-form", cfg.Render.Templates["primary-form"])
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  provider: s3
  bucket: tax-docs
  region: us-east-1
engine:
  provider: webhook
  webhook_url: https://hooks.example.com/docflow
workflow:
  max_retries: 5
  trigger_timeout: 20m
render:
  templates:
    primary-form: pdf:form-6765
`)
	t.Setenv("DOCFLOW_SERVER_PORT", "9191")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIAEXAMPLE")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "s3", cfg.Storage.Provider)
	assert.Equal(t, "tax-docs", cfg.Storage.Bucket)
	assert.Equal(t, "AKIAEXAMPLE", cfg.Storage.AccessKeyID)
	assert.Equal(t, "sk_test_123", cfg.Stripe.APIKey)
	assert.Equal(t, 5, cfg.Workflow.MaxRetries)
	assert.Equal(t, 20*time.Minute, cfg.Workflow.TriggerTimeout)
	assert.Equal(t, "pdf:form-6765", cfg.Render.Templates["primary-form"])

	cc := cfg.ToContainerConfig()
	assert.Equal(t, "tax-docs", cc.Storage.Bucket)
	assert.Equal(t, 5, cc.Workflow.MaxRetries)
	assert.Equal(t, "https://hooks.example.com/docflow", cc.Engine.WebhookURL)
	assert.Equal(t, "sk_test_123", cc.Stripe.APIKey)
	assert.NoError(t, cc.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_LocalStoreNeedsSecret(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.signing_secret")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:    ServerConfig{Port: 8080},
			Database:  DatabaseConfig{Path: "x.db"},
			Logger:    LoggerConfig{Format: "json"},
			Storage:   StorageConfig{Provider: "gcs"},
			Workflow:  WorkflowConfig{MaxRetries: 3},
			Documents: DocumentsConfig{BundleConcurrency: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"database path", func(c *Config) { c.Database.Path = "" }},
		{"logger format", func(c *Config) { c.Logger.Format = "xml" }},
		{"retries", func(c *Config) { c.Workflow.MaxRetries = 0 }},
		{"bundle concurrency", func(c *Config) { c.Documents.BundleConcurrency = 0 }},
	}

	c := valid()
	require.NoError(t, c.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
