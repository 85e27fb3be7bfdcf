package port

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

// ErrStaleTrigger is returned when a conditional trigger update matched no row
// because another writer changed the trigger first.
var ErrStaleTrigger = errors.New("workflow trigger changed concurrently")

// DocumentRepository defines persistence operations for DocumentRecord
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.DocumentRecord) error
	GetByID(ctx context.Context, id string) (*entity.DocumentRecord, error)
	ListBySourceForm(ctx context.Context, sourceFormID string) ([]*entity.DocumentRecord, error)
	IncrementDownloadCount(ctx context.Context, id string) error
	RecordResend(ctx context.Context, id string, at time.Time) error
	MarkSuperseded(ctx context.Context, id, supersededBy string) error
}

// TriggerRepository defines persistence operations for WorkflowTrigger
type TriggerRepository interface {
	Create(ctx context.Context, t *entity.WorkflowTrigger) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowTrigger, error)
	// UpdateTransition writes t only if the stored row still has the expected
	// status and retry count. It returns ErrStaleTrigger otherwise.
	UpdateTransition(ctx context.Context, t *entity.WorkflowTrigger, expectedStatus string, expectedRetryCount int) error
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowTrigger, error)
	// ListByStatus pages through triggers in one status ordered by creation.
	// after is the last row of the previous page, or nil for the first page.
	ListByStatus(ctx context.Context, status string, after *entity.WorkflowTrigger, limit int) ([]*entity.WorkflowTrigger, error)
}

// AuditRepository defines append-only persistence for AuditLogEntry
type AuditRepository interface {
	Append(ctx context.Context, e *entity.AuditLogEntry) error
	FindRecent(ctx context.Context, actorID, action, entityType, entityID string, since time.Time) (*entity.AuditLogEntry, error)
	ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]*entity.AuditLogEntry, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
