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

// TriggerRepository implements port.TriggerRepository
type TriggerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTriggerRepository creates a new workflow trigger repository
func NewTriggerRepository(db *sql.DB, logger *zap.Logger) port.TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

const triggerColumns = `
	id, source_form_id, document_id, parent_trigger_id, execution_id, scenario_id,
	payload, status, retry_count, max_retries, next_retry_at, timeout_at,
	last_error, response_data, created_at, updated_at`

// Create inserts a new trigger
func (r *TriggerRepository) Create(ctx context.Context, t *entity.WorkflowTrigger) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	query := `INSERT INTO workflow_triggers (` + triggerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		t.ID,
		t.SourceFormID,
		nullString(t.DocumentID),
		nullString(t.ParentTriggerID),
		t.ExecutionID,
		t.ScenarioID,
		t.Payload,
		t.Status,
		t.RetryCount,
		t.MaxRetries,
		nullTime(t.NextRetryAt),
		nullTime(t.TimeoutAt),
		t.LastError,
		t.ResponseData,
		t.CreatedAt.UTC(),
		t.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create workflow trigger", zap.String("id", t.ID), zap.Error(err))
		return fmt.Errorf("failed to create workflow trigger: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the trigger does not exist
func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM workflow_triggers WHERE id = ?`

	t, err := scanTrigger(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get workflow trigger", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow trigger: %w", err)
	}
	return t, nil
}

// UpdateTransition persists the mutable lifecycle fields of t, guarded by the
// expected status and retry count. Terminal rows never match.
func (r *TriggerRepository) UpdateTransition(ctx context.Context, t *entity.WorkflowTrigger, expectedStatus string, expectedRetryCount int) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}

	query := `
		UPDATE workflow_triggers
		SET status = ?, retry_count = ?, next_retry_at = ?, timeout_at = ?,
			execution_id = ?, scenario_id = ?, last_error = ?, response_data = ?,
			updated_at = ?
		WHERE id = ? AND status = ? AND retry_count = ?
			AND status NOT IN ('completed', 'failed', 'timeout')
	`

	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		t.Status,
		t.RetryCount,
		nullTime(t.NextRetryAt),
		nullTime(t.TimeoutAt),
		t.ExecutionID,
		t.ScenarioID,
		t.LastError,
		t.ResponseData,
		t.UpdatedAt.UTC(),
		t.ID,
		expectedStatus,
		expectedRetryCount,
	)
	if err != nil {
		r.logger.Error("Failed to update workflow trigger",
			zap.String("id", t.ID),
			zap.String("to_status", t.Status),
			zap.Error(err))
		return fmt.Errorf("failed to update workflow trigger: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return port.ErrStaleTrigger
	}
	return nil
}

// ListDueRetries returns pending triggers whose next attempt is due
func (r *TriggerRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*entity.WorkflowTrigger, error) {
	query := `SELECT ` + triggerColumns + `
		FROM workflow_triggers
		WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?`
	return r.list(ctx, "list due retries", query, now.UTC(), limit)
}

// ListByStatus returns triggers in the given status, oldest first, starting
// after the (created_at, id) position of after
func (r *TriggerRepository) ListByStatus(ctx context.Context, status string, after *entity.WorkflowTrigger, limit int) ([]*entity.WorkflowTrigger, error) {
	if after == nil {
		query := `SELECT ` + triggerColumns + `
			FROM workflow_triggers
			WHERE status = ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?`
		return r.list(ctx, "list triggers by status", query, status, limit)
	}

	query := `SELECT ` + triggerColumns + `
		FROM workflow_triggers
		WHERE status = ? AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at ASC, id ASC
		LIMIT ?`
	createdAt := after.CreatedAt.UTC()
	return r.list(ctx, "list triggers by status", query, status, createdAt, createdAt, after.ID, limit)
}

func (r *TriggerRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*entity.WorkflowTrigger, error) {
	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Trigger query failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var triggers []*entity.WorkflowTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow trigger: %w", err)
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func scanTrigger(row rowScanner) (*entity.WorkflowTrigger, error) {
	var t entity.WorkflowTrigger
	var documentID, parentID sql.NullString
	var nextRetryAt, timeoutAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.SourceFormID,
		&documentID,
		&parentID,
		&t.ExecutionID,
		&t.ScenarioID,
		&t.Payload,
		&t.Status,
		&t.RetryCount,
		&t.MaxRetries,
		&nextRetryAt,
		&timeoutAt,
		&t.LastError,
		&t.ResponseData,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.DocumentID = documentID.String
	t.ParentTriggerID = parentID.String
	t.NextRetryAt = timePtr(nextRetryAt)
	t.TimeoutAt = timePtr(timeoutAt)
	return &t, nil
}

var _ port.TriggerRepository = (*TriggerRepository)(nil)
