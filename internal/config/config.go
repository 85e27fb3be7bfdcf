package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. DOCFLOW_SERVER_PORT
const EnvPrefix = "DOCFLOW"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Render    RenderConfig    `mapstructure:"render"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// StorageConfig holds object store configuration
type StorageConfig struct {
	Provider        string `mapstructure:"provider"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	KMSKeyID        string `mapstructure:"kms_key_id"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	CredentialsFile string `mapstructure:"credentials_file"`
	LocalDir        string `mapstructure:"local_dir"`
	SigningSecret   string `mapstructure:"signing_secret"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// RenderConfig holds renderer configuration
type RenderConfig struct {
	ServiceURL  string            `mapstructure:"service_url"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	TemplateDir string            `mapstructure:"template_dir"`
	Templates   map[string]string `mapstructure:"templates"`
}

// EngineConfig holds external workflow engine configuration
type EngineConfig struct {
	Provider        string        `mapstructure:"provider"`
	ProjectID       string        `mapstructure:"project_id"`
	Location        string        `mapstructure:"location"`
	WorkflowID      string        `mapstructure:"workflow_id"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	WebhookURL      string        `mapstructure:"webhook_url"`
	WebhookToken    string        `mapstructure:"webhook_token"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// WorkflowConfig holds trigger retry and polling configuration
type WorkflowConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	CapDelay          time.Duration `mapstructure:"cap_delay"`
	TriggerTimeout    time.Duration `mapstructure:"trigger_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollRetryDelay    time.Duration `mapstructure:"poll_retry_delay"`
	RetryScanInterval time.Duration `mapstructure:"retry_scan_interval"`
	RetryBatchSize    int           `mapstructure:"retry_batch_size"`
}

// AdminConfig holds admin action configuration
type AdminConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// DocumentsConfig holds document generation configuration
type DocumentsConfig struct {
	MinTaxYear        int `mapstructure:"min_tax_year"`
	BundleConcurrency int `mapstructure:"bundle_concurrency"`
}

// StripeConfig holds payment provider configuration
type StripeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Load loads configuration from file and environment variables. An empty
// configPath loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/docflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Storage defaults
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "data/objects")
	v.SetDefault("storage.public_base_url", "http://localhost:8080")
	v.SetDefault("storage.use_path_style", false)

	// Render defaults
	v.SetDefault("render.timeout", 60*time.Second)
	v.SetDefault("render.template_dir", "templates")
	v.SetDefault("render.templates", map[string]string{
		"primary-form": "pdf:primary-form",
		"narrative":    "pdf:narrative",
		"memo":         "xlsx:memo",
	})

	// Engine defaults
	v.SetDefault("engine.provider", "webhook")
	v.SetDefault("engine.location", "us-central1")
	v.SetDefault("engine.timeout", 30*time.Second)

	// Workflow defaults
	v.SetDefault("workflow.max_retries", 3)
	v.SetDefault("workflow.base_delay", time.Second)
	v.SetDefault("workflow.cap_delay", 30*time.Second)
	v.SetDefault("workflow.trigger_timeout", 15*time.Minute)
	v.SetDefault("workflow.poll_interval", 10*time.Second)
	v.SetDefault("workflow.poll_retry_delay", 3*time.Second)
	v.SetDefault("workflow.retry_scan_interval", 2*time.Second)
	v.SetDefault("workflow.retry_batch_size", 50)

	v.SetDefault("admin.cooldown", 10*time.Minute)

	v.SetDefault("documents.min_tax_year", 2000)
	v.SetDefault("documents.bundle_concurrency", 3)

	// Keys without a default still need registering so AutomaticEnv applies on Unmarshal
	for _, key := range []string{
		"storage.bucket", "storage.region", "storage.endpoint", "storage.kms_key_id",
		"render.service_url",
		"engine.project_id", "engine.workflow_id", "engine.credentials_file", "engine.webhook_url",
	} {
		v.SetDefault(key, "")
	}
}

// bindEnvVars binds secrets that are conventionally provided under their own names
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string][]string{
		"storage.signing_secret":    {"DOCFLOW_STORAGE_SIGNING_SECRET", "DOCFLOW_SIGNING_SECRET"},
		"storage.access_key_id":     {"DOCFLOW_STORAGE_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"},
		"storage.secret_access_key": {"DOCFLOW_STORAGE_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"},
		"storage.credentials_file":  {"DOCFLOW_STORAGE_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS"},
		"engine.webhook_token":      {"DOCFLOW_ENGINE_WEBHOOK_TOKEN"},
		"stripe.api_key":            {"DOCFLOW_STRIPE_API_KEY", "STRIPE_SECRET_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks values that viper cannot default sensibly. Provider-specific
// requirements are checked again by the container.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}

	if c.Storage.Provider == "local" && c.Storage.SigningSecret == "" {
		return errors.New("storage.signing_secret is required for the local provider")
	}
	if c.Workflow.MaxRetries < 1 {
		return errors.New("workflow.max_retries must be at least 1")
	}
	if c.Documents.BundleConcurrency < 1 {
		return errors.New("documents.bundle_concurrency must be at least 1")
	}

	return nil
}
