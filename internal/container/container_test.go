package container

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *Config {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "docflow.db")
	cfg.Storage.LocalDir = filepath.Join(dir, "objects")
	cfg.Storage.SigningSecret = "test-secret"
	cfg.Engine.WebhookURL = "http://127.0.0.1:1/hooks/docflow"
	cfg.Workflow.RetryScanInterval = 10 * time.Millisecond
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing signing secret", func(c *Config) { c.Storage.SigningSecret = "" }, "storage.signing_secret"},
		{"s3 without bucket", func(c *Config) { c.Storage.Provider = StorageProviderS3 }, "storage.bucket"},
		{"unknown storage", func(c *Config) { c.Storage.Provider = "ftp" }, "unknown storage.provider"},
		{"webhook without url", func(c *Config) { c.Engine.WebhookURL = "" }, "engine.webhook_url"},
		{"gcp without project", func(c *Config) { c.Engine.Provider = EngineProviderGCPWorkflows }, "engine.project_id"},
		{"unknown engine", func(c *Config) { c.Engine.Provider = "zapier" }, "unknown engine.provider"},
		{"no templates", func(c *Config) { c.Render.Templates = nil }, "render.templates"},
		{"zero retries", func(c *Config) { c.Workflow.MaxRetries = 0 }, "workflow.max_retries"},
		{"cap below base", func(c *Config) { c.Workflow.CapDelay = time.Millisecond }, "workflow.base_delay"},
		{"no cooldown", func(c *Config) { c.Admin.Cooldown = 0 }, "admin.cooldown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
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

func TestNewContainer_RejectsInvalidConfig(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Storage.Provider = ""
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_StartAndClose(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()))

	require.NotNil(t, c.Services())
	assert.NotNil(t, c.Services().Documents)
	assert.NotNil(t, c.Services().Admin)
	assert.NotNil(t, c.LocalStore())
	assert.Equal(t, 2, c.Workers().GetWorkerCount())

	health := c.Health()
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)

	trig, err := c.Services().Workflows.GetStatus(context.Background(), "missing")
	assert.Nil(t, trig)
	assert.Error(t, err)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(context.Background()))
}

func TestConvertToZapFields(t *testing.T) {
	fields := convertToZapFields("id", "D1", 42, "ignored", "error", errors.New("boom"), "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "id", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
}
