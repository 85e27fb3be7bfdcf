package container

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/dispatcher"
	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/application/service"
	"github.com/garyjia/taxcredit-docflow/internal/domain/content"
	"github.com/garyjia/taxcredit-docflow/internal/domain/event"
	"github.com/garyjia/taxcredit-docflow/internal/domain/workflow"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/external/gcpworkflows"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/external/stripepay"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/external/webhook"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/metrics"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/render"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/storage"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/worker"
	"github.com/garyjia/taxcredit-docflow/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// StorageBundle holds the object store. Closer is set when the store holds a
// client that must be released.
type StorageBundle struct {
	Store  port.ObjectStore
	Local  *storage.LocalObjectStore
	Closer io.Closer
}

// EngineBundle holds the workflow engine and its optional closer.
type EngineBundle struct {
	Engine port.WorkflowEngine
	Closer io.Closer
}

// ProvideDatabase opens the SQLite database and optionally applies migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		applied, err := database.NewMigrator(db, logger).Up()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Migrations applied", zap.Int("count", applied))
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Document: repository.NewDocumentRepository(db.DB, logger),
		Trigger:  repository.NewTriggerRepository(db.DB, logger),
		Audit:    repository.NewAuditRepository(db.DB, logger),
	}, nil
}

// ProvideStorage creates the configured object store.
func ProvideStorage(ctx context.Context, cfg *StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}

	switch cfg.Provider {
	case StorageProviderLocal:
		s, err := storage.NewLocalObjectStore(cfg.LocalDir, cfg.PublicBaseURL, cfg.SigningSecret, logger)
		if err != nil {
			return nil, err
		}
		return &StorageBundle{Store: s, Local: s}, nil

	case StorageProviderS3:
		s, err := storage.NewS3ObjectStore(storage.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			KMSKeyID:        cfg.KMSKeyID,
			UsePathStyle:    cfg.UsePathStyle,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &StorageBundle{Store: s}, nil

	case StorageProviderGCS:
		s, err := storage.NewGCSObjectStore(ctx, storage.GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
			KMSKeyName:      cfg.KMSKeyID,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &StorageBundle{Store: s, Closer: s}, nil
	}
	return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
}

// ProvideRenderer routes xlsx templates to excelize and everything else to the
// PDF render service.
func ProvideRenderer(cfg *RenderConfig, logger *zap.Logger) (port.Renderer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("render config is required")
	}

	xlsx := render.NewExcelRenderer(cfg.TemplateDir, logger)
	if cfg.ServiceURL == "" {
		logger.Warn("render.service_url not set, PDF templates will fail")
		return render.NewRouter(unconfiguredRenderer{}, xlsx), nil
	}
	return render.NewRouter(render.NewHTTPRenderer(cfg.ServiceURL, cfg.Timeout, logger), xlsx), nil
}

type unconfiguredRenderer struct{}

func (unconfiguredRenderer) Render(ctx context.Context, templateID string, data map[string]interface{}) (*port.RenderedDocument, error) {
	return nil, fmt.Errorf("no renderer configured for template %q", templateID)
}

// ProvideWorkflowEngine creates the configured external workflow engine.
func ProvideWorkflowEngine(ctx context.Context, cfg *EngineConfig, logger *zap.Logger) (*EngineBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine config is required")
	}

	switch cfg.Provider {
	case EngineProviderGCPWorkflows:
		e, err := gcpworkflows.NewEngine(ctx, gcpworkflows.Config{
			ProjectID:       cfg.ProjectID,
			Location:        cfg.Location,
			WorkflowID:      cfg.WorkflowID,
			CredentialsFile: cfg.CredentialsFile,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &EngineBundle{Engine: e, Closer: e}, nil

	case EngineProviderWebhook:
		e, err := webhook.NewEngine(webhook.Config{
			URL:     cfg.WebhookURL,
			Token:   cfg.WebhookToken,
			Timeout: cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &EngineBundle{Engine: e}, nil
	}
	return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
}

// ProvidePaymentGateway returns nil when no Stripe key is configured, which
// disables the refund action.
func ProvidePaymentGateway(cfg *StripeConfig, logger *zap.Logger) (port.PaymentGateway, error) {
	if cfg == nil || cfg.APIKey == "" {
		logger.Info("Stripe not configured, refunds disabled")
		return nil, nil
	}
	g, err := stripepay.NewGateway(cfg.APIKey, nil, logger)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ProvideDispatcher creates the event dispatcher and subscribes the logging handlers.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	d := dispatcher.NewDispatcher(
		dispatcher.WithLogger(&dispatcherLoggerAdapter{logger: logger}),
	)

	eventLogger := logger.Named("events")
	for _, t := range []event.Type{
		event.TypeDocumentGenerated,
		event.TypeDocumentFailed,
		event.TypeTriggerStatusChanged,
		event.TypeAdminActionRecorded,
	} {
		d.SubscribeNamed(t, "event_logger", logEventHandler(eventLogger))
	}
	return d, nil
}

func logEventHandler(logger *zap.Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		fields := []zap.Field{
			zap.String("event_id", evt.ID),
			zap.String("entity_type", evt.EntityType),
			zap.String("entity_id", evt.EntityID),
			zap.String("correlation_id", evt.CorrelationID),
		}
		for k, v := range evt.Payload {
			fields = append(fields, zap.Any(k, v))
		}
		if evt.Type == event.TypeDocumentFailed {
			logger.Warn(evt.Type.String(), fields...)
			return nil
		}
		logger.Info(evt.Type.String(), fields...)
		return nil
	}
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Store      port.ObjectStore
	Renderer   port.Renderer
	Engine     port.WorkflowEngine
	Poller     port.TriggerPoller
	Payments   port.PaymentGateway
	Dispatcher dispatcher.Dispatcher
	Metrics    port.Metrics
	Config     *Config
	Logger     *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := &zapLoggerAdapter{logger: deps.Logger}
	cfg := deps.Config

	documents := service.NewDocumentService(service.DocumentServiceDeps{
		Repo:       deps.Repos.Document,
		Store:      deps.Store,
		Renderer:   deps.Renderer,
		Keys:       content.NewKeyGenerator(),
		Dispatcher: deps.Dispatcher,
		Metrics:    deps.Metrics,
		Logger:     serviceLogger,
	}, service.DocumentServiceConfig{
		Templates:         cfg.Render.Templates,
		MinTaxYear:        cfg.Documents.MinTaxYear,
		BundleConcurrency: cfg.Documents.BundleConcurrency,
	})

	workflows := service.NewWorkflowService(service.WorkflowServiceDeps{
		Repo:       deps.Repos.Trigger,
		Engine:     deps.Engine,
		Poller:     deps.Poller,
		Dispatcher: deps.Dispatcher,
		Metrics:    deps.Metrics,
		Logger:     serviceLogger,
	}, service.WorkflowServiceConfig{
		Policy:          PolicyFromConfig(&cfg.Workflow),
		MaxRetries:      cfg.Workflow.MaxRetries,
		DispatchTimeout: cfg.Engine.Timeout,
	})

	audit := service.NewAuditLogger(deps.Repos.Audit, deps.Metrics, serviceLogger, nil)
	guard := service.NewActionGuard(audit, cfg.Admin.Cooldown, deps.Metrics, serviceLogger, nil)

	admin := service.NewAdminService(service.AdminServiceDeps{
		DocumentRepo: deps.Repos.Document,
		Documents:    documents,
		Workflows:    workflows,
		Payments:     deps.Payments,
		Guard:        guard,
		Audit:        audit,
		TxManager:    deps.TxManager,
		Dispatcher:   deps.Dispatcher,
		Logger:       serviceLogger,
	})

	return &ServiceBundle{
		Documents: documents,
		Workflows: workflows,
		Audit:     audit,
		Guard:     guard,
		Admin:     admin,
	}, nil
}

// PolicyFromConfig builds the trigger lifecycle policy.
func PolicyFromConfig(cfg *WorkflowConfig) workflow.Policy {
	return workflow.Policy{
		Backoff:        workflow.Backoff{Base: cfg.BaseDelay, Cap: cfg.CapDelay},
		TriggerTimeout: cfg.TriggerTimeout,
	}
}

// ProvideStatusPoller creates the poller. It is registered with the worker
// manager so it is stopped with the other workers.
func ProvideStatusPoller(cfg *WorkflowConfig, repo port.TriggerRepository, engine port.WorkflowEngine, m *metrics.Metrics, logger *zap.Logger) *worker.StatusPoller {
	return worker.NewStatusPoller(worker.StatusPollerConfig{
		PollInterval: cfg.PollInterval,
		RetryDelay:   cfg.PollRetryDelay,
	}, repo, engine, PolicyFromConfig(cfg), m, logger.Named("poller"))
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Poller    *worker.StatusPoller
	Workflows service.WorkflowService
	Config    *WorkflowConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Poller == nil {
		return nil, fmt.Errorf("status poller is required")
	}
	if deps.Workflows == nil {
		return nil, fmt.Errorf("workflow service is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)
	manager.Register(deps.Poller)
	manager.Register(worker.NewRetryWorker(worker.RetryWorkerConfig{
		ScanInterval: deps.Config.RetryScanInterval,
		BatchSize:    deps.Config.RetryBatchSize,
	}, deps.Workflows, deps.Logger.Named("retry")))

	return manager, nil
}

// zapLoggerAdapter adapts zap.Logger to the service.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

// NewServiceLogger wraps a zap logger for components that log key-value pairs
func NewServiceLogger(logger *zap.Logger) service.Logger {
	return &zapLoggerAdapter{logger: logger}
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// dispatcherLoggerAdapter adapts zap.Logger to the dispatcher.Logger interface.
type dispatcherLoggerAdapter struct {
	logger *zap.Logger
}

func (a *dispatcherLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *dispatcherLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
