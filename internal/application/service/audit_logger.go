package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

// AuditLogger appends administrative actions to the audit log
type AuditLogger interface {
	Record(ctx context.Context, e *entity.AuditLogEntry) error
	FindRecent(ctx context.Context, actorID, action, entityType, entityID string, window time.Duration) (*entity.AuditLogEntry, error)
	ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]*entity.AuditLogEntry, error)
}

type auditLoggerImpl struct {
	repo    port.AuditRepository
	metrics port.Metrics
	logger  Logger
	now     func() time.Time
}

// NewAuditLogger creates a new AuditLogger
func NewAuditLogger(repo port.AuditRepository, metrics port.Metrics, logger Logger, clock func() time.Time) AuditLogger {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &auditLoggerImpl{repo: repo, metrics: metrics, logger: logger, now: clock}
}

// Record assigns id, timestamp and fingerprint, then appends the entry. A failed
// write is logged and counted; the action it describes is not undone.
func (a *auditLoggerImpl) Record(ctx context.Context, e *entity.AuditLogEntry) error {
	if strings.TrimSpace(e.ActorID) == "" || e.EntityType == "" || e.EntityID == "" {
		return fmt.Errorf("%w: actor, entity type and entity id are required", ErrInvalidAdminRequest)
	}
	if !entity.IsValidAdminAction(e.Action) {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidAdminRequest, e.Action)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Outcome == "" {
		e.Outcome = entity.AuditOutcomeSucceeded
	}
	e.CreatedAt = a.now().UTC()
	e.Fingerprint = e.ComputeFingerprint()

	if err := a.repo.Append(ctx, e); err != nil {
		a.metrics.IncAuditWriteFailure()
		a.logger.Error("AUDIT WRITE FAILED after action was performed",
			"actor_id", e.ActorID,
			"action", e.Action,
			"entity_type", e.EntityType,
			"entity_id", e.EntityID,
			"fingerprint", e.Fingerprint,
			"after", e.After,
			"error", err)
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (a *auditLoggerImpl) FindRecent(ctx context.Context, actorID, action, entityType, entityID string, window time.Duration) (*entity.AuditLogEntry, error) {
	return a.repo.FindRecent(ctx, actorID, action, entityType, entityID, a.now().Add(-window))
}

func (a *auditLoggerImpl) ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]*entity.AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return a.repo.ListForEntity(ctx, entityType, entityID, limit)
}
