// Package container provides dependency injection and lifecycle management
// for the document generation and workflow service following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Storage providers
const (
	StorageProviderLocal = "local"
	StorageProviderS3    = "s3"
	StorageProviderGCS   = "gcs"
)

// Workflow engine providers
const (
	EngineProviderGCPWorkflows = "gcp_workflows"
	EngineProviderWebhook      = "webhook"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Object storage configuration
	Storage StorageConfig

	// Document rendering configuration
	Render RenderConfig

	// External workflow engine configuration
	Engine EngineConfig

	// Trigger lifecycle configuration
	Workflow WorkflowConfig

	// Document generation configuration
	Documents DocumentsConfig

	// Admin action configuration
	Admin AdminConfig

	// Stripe configuration, refunds are disabled without an API key
	Stripe StripeConfig

	// Server configuration
	Server ServerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// AutoMigrate applies embedded migrations on start
	AutoMigrate bool
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Provider string

	// S3 and GCS
	Bucket          string
	Region          string
	Endpoint        string
	KMSKeyID        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	CredentialsFile string

	// Local filesystem store
	LocalDir      string
	SigningSecret string
	PublicBaseURL string
}

// RenderConfig holds renderer settings.
type RenderConfig struct {
	// ServiceURL is the PDF render service; empty disables PDF templates
	ServiceURL  string
	Timeout     time.Duration
	TemplateDir string

	// Templates maps a document type to a template id
	Templates map[string]string
}

// EngineConfig selects and configures the external workflow engine.
type EngineConfig struct {
	Provider        string
	ProjectID       string
	Location        string
	WorkflowID      string
	CredentialsFile string
	WebhookURL      string
	WebhookToken    string
	Timeout         time.Duration
}

// WorkflowConfig holds retry, timeout and polling settings for triggers.
type WorkflowConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	CapDelay          time.Duration
	TriggerTimeout    time.Duration
	PollInterval      time.Duration
	PollRetryDelay    time.Duration
	RetryScanInterval time.Duration
	RetryBatchSize    int
}

// DocumentsConfig holds generation settings.
type DocumentsConfig struct {
	MinTaxYear        int
	BundleConcurrency int
}

// AdminConfig holds admin action settings.
type AdminConfig struct {
	// Cooldown is the duplicate-suppression window
	Cooldown time.Duration
}

// StripeConfig holds payment provider settings.
type StripeConfig struct {
	APIKey string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/docflow.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Storage: StorageConfig{
			Provider:      StorageProviderLocal,
			LocalDir:      "data/objects",
			PublicBaseURL: "http://localhost:8080",
		},
		Render: RenderConfig{
			Timeout: 60 * time.Second,
			Templates: map[string]string{
				"primary-form": "pdf:primary-form",
				"narrative":    "pdf:narrative",
				"memo":         "xlsx:memo",
			},
		},
		Engine: EngineConfig{
			Provider: EngineProviderWebhook,
			Location: "us-central1",
			Timeout:  30 * time.Second,
		},
		Workflow: WorkflowConfig{
			MaxRetries:        3,
			BaseDelay:         time.Second,
			CapDelay:          30 * time.Second,
			TriggerTimeout:    15 * time.Minute,
			PollInterval:      10 * time.Second,
			PollRetryDelay:    3 * time.Second,
			RetryScanInterval: 2 * time.Second,
			RetryBatchSize:    50,
		},
		Documents: DocumentsConfig{
			MinTaxYear:        2000,
			BundleConcurrency: 3,
		},
		Admin: AdminConfig{
			Cooldown: 10 * time.Minute,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Storage.Provider {
	case StorageProviderLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local provider")
		}
		if c.Storage.SigningSecret == "" {
			return fmt.Errorf("storage.signing_secret is required for the local provider")
		}
	case StorageProviderS3, StorageProviderGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the %s provider", c.Storage.Provider)
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}

	switch c.Engine.Provider {
	case EngineProviderGCPWorkflows:
		if c.Engine.ProjectID == "" || c.Engine.Location == "" || c.Engine.WorkflowID == "" {
			return fmt.Errorf("engine.project_id, engine.location and engine.workflow_id are required for gcp_workflows")
		}
	case EngineProviderWebhook:
		if c.Engine.WebhookURL == "" {
			return fmt.Errorf("engine.webhook_url is required for the webhook provider")
		}
	default:
		return fmt.Errorf("unknown engine.provider %q", c.Engine.Provider)
	}

	if len(c.Render.Templates) == 0 {
		return fmt.Errorf("render.templates must map at least one document type")
	}

	if c.Workflow.MaxRetries < 1 {
		return fmt.Errorf("workflow.max_retries must be at least 1")
	}
	if c.Workflow.BaseDelay <= 0 || c.Workflow.CapDelay < c.Workflow.BaseDelay {
		return fmt.Errorf("workflow.base_delay must be positive and not exceed workflow.cap_delay")
	}
	if c.Workflow.TriggerTimeout <= 0 {
		return fmt.Errorf("workflow.trigger_timeout must be positive")
	}

	if c.Admin.Cooldown <= 0 {
		return fmt.Errorf("admin.cooldown must be positive")
	}

	return nil
}
