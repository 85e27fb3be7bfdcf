package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
	"github.com/garyjia/taxcredit-docflow/internal/infrastructure/persistence/sqlite"
)

// AuditRepository implements port.AuditRepository. It only ever inserts.
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit log repository
func NewAuditRepository(db *sql.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

const auditColumns = `
	id, actor_id, action, entity_type, entity_id, before_state, after_state,
	reason, outcome, fingerprint, created_at`

// Append inserts one audit entry
func (r *AuditRepository) Append(ctx context.Context, e *entity.AuditLogEntry) error {
	query := `INSERT INTO audit_log_entries (` + auditColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		e.ID,
		e.ActorID,
		e.Action,
		e.EntityType,
		e.EntityID,
		e.Before,
		e.After,
		e.Reason,
		outcomeOrDefault(e.Outcome),
		e.Fingerprint,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.String("action", e.Action),
			zap.String("entity_id", e.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// FindRecent returns the newest succeeded entry created at or after since, or nil
func (r *AuditRepository) FindRecent(ctx context.Context, actorID, action, entityType, entityID string, since time.Time) (*entity.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_log_entries
		WHERE actor_id = ? AND action = ? AND entity_type = ? AND entity_id = ? AND created_at >= ?
			AND outcome = 'succeeded'
		ORDER BY created_at DESC
		LIMIT 1`

	e, err := scanAudit(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query,
		actorID, action, entityType, entityID, since.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to query recent audit entry", zap.String("action", action), zap.Error(err))
		return nil, fmt.Errorf("failed to query recent audit entry: %w", err)
	}
	return e, nil
}

// ListForEntity returns the newest entries for one entity
func (r *AuditRepository) ListForEntity(ctx context.Context, entityType, entityID string, limit int) ([]*entity.AuditLogEntry, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_log_entries
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditLogEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanAudit(row rowScanner) (*entity.AuditLogEntry, error) {
	var e entity.AuditLogEntry
	err := row.Scan(
		&e.ID,
		&e.ActorID,
		&e.Action,
		&e.EntityType,
		&e.EntityID,
		&e.Before,
		&e.After,
		&e.Reason,
		&e.Outcome,
		&e.Fingerprint,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func outcomeOrDefault(o string) string {
	if o == "" {
		return entity.AuditOutcomeSucceeded
	}
	return o
}

var _ port.AuditRepository = (*AuditRepository)(nil)
