package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/taxcredit-docflow/internal/application/dispatcher"
	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/content"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
	"github.com/garyjia/taxcredit-docflow/internal/domain/event"
)

const (
	DefaultMinTaxYear        = 2000
	DefaultBundleConcurrency = 3
	DefaultURLTTL            = 5 * time.Minute
	MaxURLTTL                = 7 * 24 * time.Hour

	failurePersistTimeout = 10 * time.Second
)

// GenerateParams is the input of one document generation. It is stored verbatim
// on the record so the document can be regenerated later.
type GenerateParams struct {
	DocumentType string                 `json:"document_type"`
	CustomerID   string                 `json:"customer_id"`
	CompanyID    string                 `json:"company_id"`
	SourceFormID string                 `json:"source_form_id"`
	TaxYear      int                    `json:"tax_year"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// DocumentService renders, content-addresses and stores documents
type DocumentService interface {
	Generate(ctx context.Context, params GenerateParams) (*entity.DocumentRecord, error)
	GenerateBundle(ctx context.Context, params GenerateParams, documentTypes []string) ([]*entity.DocumentRecord, error)
	Get(ctx context.Context, id string) (*entity.DocumentRecord, error)
	GetSignedDownloadURL(ctx context.Context, id string, ttl time.Duration) (string, error)
	VerifyIntegrity(ctx context.Context, id string) error
}

// DocumentServiceConfig holds generation settings
type DocumentServiceConfig struct {
	// Templates maps a document type to the renderer template id
	Templates         map[string]string
	MinTaxYear        int
	BundleConcurrency int
}

// DocumentServiceDeps holds collaborators of the document service
type DocumentServiceDeps struct {
	Repo       port.DocumentRepository
	Store      port.ObjectStore
	Renderer   port.Renderer
	Keys       *content.KeyGenerator
	Dispatcher dispatcher.Dispatcher
	Metrics    port.Metrics
	Logger     Logger
	Clock      func() time.Time
}

type documentServiceImpl struct {
	repo       port.DocumentRepository
	store      port.ObjectStore
	renderer   port.Renderer
	keys       *content.KeyGenerator
	dispatcher dispatcher.Dispatcher
	metrics    port.Metrics
	logger     Logger
	now        func() time.Time
	cfg        DocumentServiceConfig
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(deps DocumentServiceDeps, cfg DocumentServiceConfig) DocumentService {
	if cfg.MinTaxYear == 0 {
		cfg.MinTaxYear = DefaultMinTaxYear
	}
	if cfg.BundleConcurrency <= 0 {
		cfg.BundleConcurrency = DefaultBundleConcurrency
	}
	if deps.Keys == nil {
		deps.Keys = content.NewKeyGenerator()
	}
	if deps.Metrics == nil {
		deps.Metrics = port.NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &documentServiceImpl{
		repo:       deps.Repo,
		store:      deps.Store,
		renderer:   deps.Renderer,
		keys:       deps.Keys,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Clock,
		cfg:        cfg,
	}
}

func (s *documentServiceImpl) validate(p GenerateParams) error {
	var problems []string
	if !entity.IsValidDocumentType(p.DocumentType) {
		problems = append(problems, fmt.Sprintf("unknown document type %q", p.DocumentType))
	}
	if p.TaxYear < s.cfg.MinTaxYear {
		problems = append(problems, fmt.Sprintf("tax year %d is before %d", p.TaxYear, s.cfg.MinTaxYear))
	}
	if strings.TrimSpace(p.CustomerID) == "" {
		problems = append(problems, "customer_id is required")
	}
	if strings.TrimSpace(p.CompanyID) == "" {
		problems = append(problems, "company_id is required")
	}
	if strings.TrimSpace(p.SourceFormID) == "" {
		problems = append(problems, "source_form_id is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidGenerateParams, strings.Join(problems, "; "))
	}
	return nil
}

func (s *documentServiceImpl) templateFor(docType string) string {
	if id, ok := s.cfg.Templates[docType]; ok && id != "" {
		return id
	}
	return docType
}

// Generate renders, hashes, uploads and persists one document. Failures in the
// first three steps are persisted as a failed record, which is returned together
// with a *GenerationError.
func (s *documentServiceImpl) Generate(ctx context.Context, p GenerateParams) (*entity.DocumentRecord, error) {
	if err := s.validate(p); err != nil {
		return nil, err
	}

	input, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGenerateParams, err)
	}

	start := s.now()
	rec := &entity.DocumentRecord{
		ID:           uuid.NewString(),
		DocumentType: p.DocumentType,
		CustomerID:   p.CustomerID,
		CompanyID:    p.CompanyID,
		SourceFormID: p.SourceFormID,
		TaxYear:      p.TaxYear,
		RenderInput:  string(input),
		CreatedAt:    start.UTC(),
	}

	rendered, err := s.renderer.Render(ctx, s.templateFor(p.DocumentType), renderData(p))
	if err == nil && (rendered == nil || len(rendered.Content) == 0) {
		err = errors.New("renderer returned an empty document")
	}
	if err != nil {
		return s.fail(ctx, rec, StageRender, err, start)
	}

	rec.ContentDigest = content.Digest(rendered.Content)
	rec.SizeBytes = int64(len(rendered.Content))
	rec.MimeType = rendered.MimeType
	key := s.keys.Next(p.CustomerID, p.TaxYear, p.DocumentType)

	err = s.store.Put(ctx, port.PutObjectInput{
		Key:         key,
		Content:     rendered.Content,
		ContentType: rendered.MimeType,
		Digest:      rec.ContentDigest,
		Metadata: map[string]string{
			"document-id":   rec.ID,
			"document-type": p.DocumentType,
			"tax-year":      fmt.Sprint(p.TaxYear),
		},
	})
	if err != nil {
		rec.StorageKey = key
		return s.fail(ctx, rec, StageUpload, err, start)
	}

	rec.StorageKey = key
	rec.Status = entity.DocumentStatusAvailable
	rec.GenerationMs = s.now().Sub(start).Milliseconds()

	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.Error("Document uploaded but record insert failed",
			"document_id", rec.ID,
			"storage_key", key,
			"error", err)
		s.metrics.ObserveGeneration(p.DocumentType, string(StagePersist), s.now().Sub(start))
		return nil, &GenerationError{Stage: StagePersist, Cause: err}
	}

	s.metrics.ObserveGeneration(p.DocumentType, "success", s.now().Sub(start))
	s.logger.Info("Document generated",
		"document_id", rec.ID,
		"document_type", rec.DocumentType,
		"storage_key", rec.StorageKey,
		"size_bytes", rec.SizeBytes,
		"generation_ms", rec.GenerationMs)

	s.publish(ctx, event.TypeDocumentGenerated, rec, map[string]interface{}{
		"document_type":  rec.DocumentType,
		"content_digest": rec.ContentDigest,
		"size_bytes":     rec.SizeBytes,
	})
	return rec, nil
}

func (s *documentServiceImpl) fail(ctx context.Context, rec *entity.DocumentRecord, stage GenerationStage, cause error, start time.Time) (*entity.DocumentRecord, error) {
	rec.Status = entity.DocumentStatusFailed
	rec.ErrorMessage = fmt.Sprintf("%s: %v", stage, cause)
	rec.GenerationMs = s.now().Sub(start).Milliseconds()

	s.logger.Error("Document generation failed",
		"document_id", rec.ID,
		"document_type", rec.DocumentType,
		"stage", stage,
		"error", cause)

	// The failure is recorded even if the caller's context is already gone.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failurePersistTimeout)
	defer cancel()

	if err := s.repo.Create(persistCtx, rec); err != nil {
		s.logger.Error("Failed to persist failed document record", "document_id", rec.ID, "error", err)
		s.metrics.ObserveGeneration(rec.DocumentType, string(StagePersist), s.now().Sub(start))
		return nil, &GenerationError{Stage: StagePersist, Cause: errors.Join(cause, err)}
	}

	s.metrics.ObserveGeneration(rec.DocumentType, string(stage), s.now().Sub(start))
	s.publish(ctx, event.TypeDocumentFailed, rec, map[string]interface{}{
		"document_type": rec.DocumentType,
		"stage":         string(stage),
		"error":         rec.ErrorMessage,
	})
	return rec, &GenerationError{Stage: stage, Cause: cause}
}

// GenerateBundle generates several document types for one source form with
// bounded concurrency. Each type is independent: one failure does not cancel
// the others. Records are returned in the order of documentTypes.
func (s *documentServiceImpl) GenerateBundle(ctx context.Context, p GenerateParams, documentTypes []string) ([]*entity.DocumentRecord, error) {
	if len(documentTypes) == 0 {
		return nil, fmt.Errorf("%w: at least one document type is required", ErrInvalidGenerateParams)
	}
	seen := make(map[string]bool, len(documentTypes))
	for _, dt := range documentTypes {
		if seen[dt] {
			return nil, fmt.Errorf("%w: duplicate document type %q", ErrInvalidGenerateParams, dt)
		}
		seen[dt] = true
		pp := p
		pp.DocumentType = dt
		if err := s.validate(pp); err != nil {
			return nil, err
		}
	}

	records := make([]*entity.DocumentRecord, len(documentTypes))
	errs := make([]error, len(documentTypes))

	var g errgroup.Group
	g.SetLimit(s.cfg.BundleConcurrency)
	for i, dt := range documentTypes {
		pp := p
		pp.DocumentType = dt
		g.Go(func() error {
			records[i], errs[i] = s.Generate(ctx, pp)
			return nil
		})
	}
	_ = g.Wait()

	return records, errors.Join(errs...)
}

func (s *documentServiceImpl) Get(ctx context.Context, id string) (*entity.DocumentRecord, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// GetSignedDownloadURL issues a time-limited URL for an available document.
// Ownership checks happen in the caller.
func (s *documentServiceImpl) GetSignedDownloadURL(ctx context.Context, id string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	if ttl > MaxURLTTL {
		ttl = MaxURLTTL
	}

	doc, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !doc.IsAvailable() {
		return "", fmt.Errorf("%w: status %s", ErrDocumentNotAvailable, doc.Status)
	}

	url, err := s.store.SignedURL(ctx, doc.StorageKey, ttl)
	if err != nil {
		return "", fmt.Errorf("sign download url: %w", err)
	}

	if err := s.repo.IncrementDownloadCount(ctx, doc.ID); err != nil {
		s.logger.Error("Failed to count download", "document_id", doc.ID, "error", err)
	}
	return url, nil
}

// VerifyIntegrity downloads the stored bytes and checks them against the recorded digest
func (s *documentServiceImpl) VerifyIntegrity(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !doc.IsAvailable() {
		return fmt.Errorf("%w: status %s", ErrDocumentNotAvailable, doc.Status)
	}

	b, err := s.store.Get(ctx, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("download document: %w", err)
	}
	if err := content.Verify(b, doc.ContentDigest); err != nil {
		s.logger.Error("Stored document failed digest verification", "document_id", doc.ID, "storage_key", doc.StorageKey)
		return err
	}
	return nil
}

func (s *documentServiceImpl) publish(ctx context.Context, t event.Type, doc *entity.DocumentRecord, payload map[string]interface{}) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.DispatchAsync(ctx, event.NewEvent(t, entity.EntityTypeDocument, doc.ID, payload))
}

func renderData(p GenerateParams) map[string]interface{} {
	data := make(map[string]interface{}, len(p.Data)+5)
	for k, v := range p.Data {
		data[k] = v
	}
	data["document_type"] = p.DocumentType
	data["customer_id"] = p.CustomerID
	data["company_id"] = p.CompanyID
	data["source_form_id"] = p.SourceFormID
	data["tax_year"] = p.TaxYear
	return data
}
