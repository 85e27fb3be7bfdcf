package config

import (
	"github.com/garyjia/taxcredit-docflow/internal/container"
	"github.com/garyjia/taxcredit-docflow/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	templates := make(map[string]string, len(c.Render.Templates))
	for docType, templateID := range c.Render.Templates {
		templates[docType] = templateID
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Storage: container.StorageConfig{
			Provider:        c.Storage.Provider,
			Bucket:          c.Storage.Bucket,
			Region:          c.Storage.Region,
			Endpoint:        c.Storage.Endpoint,
			KMSKeyID:        c.Storage.KMSKeyID,
			AccessKeyID:     c.Storage.AccessKeyID,
			SecretAccessKey: c.Storage.SecretAccessKey,
			UsePathStyle:    c.Storage.UsePathStyle,
			CredentialsFile: c.Storage.CredentialsFile,
			LocalDir:        c.Storage.LocalDir,
			SigningSecret:   c.Storage.SigningSecret,
			PublicBaseURL:   c.Storage.PublicBaseURL,
		},
		Render: container.RenderConfig{
			ServiceURL:  c.Render.ServiceURL,
			Timeout:     c.Render.Timeout,
			TemplateDir: c.Render.TemplateDir,
			Templates:   templates,
		},
		Engine: container.EngineConfig{
			Provider:        c.Engine.Provider,
			ProjectID:       c.Engine.ProjectID,
			Location:        c.Engine.Location,
			WorkflowID:      c.Engine.WorkflowID,
			CredentialsFile: c.Engine.CredentialsFile,
			WebhookURL:      c.Engine.WebhookURL,
			WebhookToken:    c.Engine.WebhookToken,
			Timeout:         c.Engine.Timeout,
		},
		Workflow: container.WorkflowConfig{
			MaxRetries:        c.Workflow.MaxRetries,
			BaseDelay:         c.Workflow.BaseDelay,
			CapDelay:          c.Workflow.CapDelay,
			TriggerTimeout:    c.Workflow.TriggerTimeout,
			PollInterval:      c.Workflow.PollInterval,
			PollRetryDelay:    c.Workflow.PollRetryDelay,
			RetryScanInterval: c.Workflow.RetryScanInterval,
			RetryBatchSize:    c.Workflow.RetryBatchSize,
		},
		Documents: container.DocumentsConfig{
			MinTaxYear:        c.Documents.MinTaxYear,
			BundleConcurrency: c.Documents.BundleConcurrency,
		},
		Admin: container.AdminConfig{
			Cooldown: c.Admin.Cooldown,
		},
		Stripe: container.StripeConfig{
			APIKey: c.Stripe.APIKey,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
	}
}

// ToLoggerConfig converts the logger section for utils.NewLogger.
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
		Service:    "docflow",
	}
}
