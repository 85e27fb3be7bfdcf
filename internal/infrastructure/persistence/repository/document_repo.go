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

// DocumentRepository implements port.DocumentRepository
type DocumentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sql.DB, logger *zap.Logger) port.DocumentRepository {
	return &DocumentRepository{db: db, logger: logger}
}

const documentColumns = `
	id, document_type, customer_id, company_id, source_form_id, tax_year,
	storage_key, content_digest, size_bytes, mime_type, status, error_message,
	generation_ms, render_input, download_count, resend_count, last_resent_at,
	superseded_by, created_at, updated_at`

// Create inserts a document record
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.DocumentRecord) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = doc.CreatedAt

	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query,
		doc.ID,
		doc.DocumentType,
		doc.CustomerID,
		doc.CompanyID,
		doc.SourceFormID,
		doc.TaxYear,
		nullString(doc.StorageKey),
		nullString(doc.ContentDigest),
		doc.SizeBytes,
		doc.MimeType,
		doc.Status,
		doc.ErrorMessage,
		doc.GenerationMs,
		doc.RenderInput,
		doc.DownloadCount,
		doc.ResendCount,
		nullTime(doc.LastResentAt),
		nullString(doc.SupersededBy),
		doc.CreatedAt.UTC(),
		doc.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create document", zap.String("id", doc.ID), zap.Error(err))
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the document does not exist
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*entity.DocumentRecord, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = ?`

	doc, err := scanDocument(sqlite.ExecutorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get document", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListBySourceForm returns every generation for a source form, oldest first
func (r *DocumentRepository) ListBySourceForm(ctx context.Context, sourceFormID string) ([]*entity.DocumentRecord, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE source_form_id = ? ORDER BY created_at ASC`

	rows, err := sqlite.ExecutorFor(ctx, r.db).QueryContext(ctx, query, sourceFormID)
	if err != nil {
		r.logger.Error("Failed to list documents", zap.String("source_form_id", sourceFormID), zap.Error(err))
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*entity.DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// IncrementDownloadCount records one signed URL issued for the document
func (r *DocumentRepository) IncrementDownloadCount(ctx context.Context, id string) error {
	query := `UPDATE documents SET download_count = download_count + 1, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, "increment download count", query, time.Now().UTC(), id)
}

// RecordResend bumps the resend counter and stamps the resend time
func (r *DocumentRepository) RecordResend(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE documents SET resend_count = resend_count + 1, last_resent_at = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, "record resend", query, at.UTC(), at.UTC(), id)
}

// MarkSuperseded links a document to the regeneration that replaced it
func (r *DocumentRepository) MarkSuperseded(ctx context.Context, id, supersededBy string) error {
	query := `UPDATE documents SET superseded_by = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, "mark superseded", query, supersededBy, time.Now().UTC(), id)
}

func (r *DocumentRepository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	result, err := sqlite.ExecutorFor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Document update failed", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to %s: %w", op, sql.ErrNoRows)
	}
	return nil
}

func scanDocument(row rowScanner) (*entity.DocumentRecord, error) {
	var doc entity.DocumentRecord
	var storageKey, digest, supersededBy sql.NullString
	var lastResentAt sql.NullTime

	err := row.Scan(
		&doc.ID,
		&doc.DocumentType,
		&doc.CustomerID,
		&doc.CompanyID,
		&doc.SourceFormID,
		&doc.TaxYear,
		&storageKey,
		&digest,
		&doc.SizeBytes,
		&doc.MimeType,
		&doc.Status,
		&doc.ErrorMessage,
		&doc.GenerationMs,
		&doc.RenderInput,
		&doc.DownloadCount,
		&doc.ResendCount,
		&lastResentAt,
		&supersededBy,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.StorageKey = storageKey.String
	doc.ContentDigest = digest.String
	doc.SupersededBy = supersededBy.String
	doc.LastResentAt = timePtr(lastResentAt)
	return &doc, nil
}

var _ port.DocumentRepository = (*DocumentRepository)(nil)
