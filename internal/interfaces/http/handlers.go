package http

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/taxcredit-docflow/internal/application/service"
	"github.com/garyjia/taxcredit-docflow/internal/domain/content"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
	"github.com/garyjia/taxcredit-docflow/pkg/utils"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	documents service.DocumentService
	workflows service.WorkflowService
	admin     service.AdminService
	health    HealthReporter
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	documents service.DocumentService,
	workflows service.WorkflowService,
	admin service.AdminService,
	health HealthReporter,
	logger Logger,
) *Handlers {
	return &Handlers{
		documents: documents,
		workflows: workflows,
		admin:     admin,
		health:    health,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// DocumentSummary is returned by generation endpoints. The full storage key is
// not exposed; downloads go through signed URLs.
type DocumentSummary struct {
	ID             string `json:"id"`
	DocumentType   string `json:"document_type"`
	Status         string `json:"status"`
	StorageKeyHint string `json:"storage_key_hint,omitempty"`
	Size           int64  `json:"size"`
	Digest         string `json:"digest,omitempty"`
	Error          string `json:"error,omitempty"`
}

// GenerateRequest is the body of POST /api/documents
type GenerateRequest struct {
	DocumentType string                 `json:"document_type" binding:"required"`
	CustomerID   string                 `json:"customer_id" binding:"required"`
	CompanyID    string                 `json:"company_id" binding:"required"`
	SourceFormID string                 `json:"source_form_id" binding:"required"`
	TaxYear      int                    `json:"tax_year" binding:"required"`
	Data         map[string]interface{} `json:"data"`
}

// BundleRequest is the body of POST /api/documents/bundle
type BundleRequest struct {
	DocumentTypes []string               `json:"document_types" binding:"required"`
	CustomerID    string                 `json:"customer_id" binding:"required"`
	CompanyID     string                 `json:"company_id" binding:"required"`
	SourceFormID  string                 `json:"source_form_id" binding:"required"`
	TaxYear       int                    `json:"tax_year" binding:"required"`
	Data          map[string]interface{} `json:"data"`
}

// AdminActionBody is the body shared by all admin actions
type AdminActionBody struct {
	Reason  string `json:"reason" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}
	if h.health != nil && !h.health.Ready() {
		response.Status = "starting"
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Data: response})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// GenerateDocument handles POST /api/documents
func (h *Handlers) GenerateDocument(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	doc, err := h.documents.Generate(c.Request.Context(), service.GenerateParams{
		DocumentType: req.DocumentType,
		CustomerID:   req.CustomerID,
		CompanyID:    req.CompanyID,
		SourceFormID: req.SourceFormID,
		TaxYear:      req.TaxYear,
		Data:         req.Data,
	})
	if err != nil {
		var genErr *service.GenerationError
		if errors.As(err, &genErr) && doc != nil {
			h.logger.Error("Document generation failed", "document_id", doc.ID, "stage", genErr.Stage, "error", err)
			c.JSON(http.StatusBadGateway, Response{
				Success: false,
				Data:    toDocumentSummary(doc),
				Error:   "document generation failed at " + string(genErr.Stage),
			})
			return
		}
		h.writeError(c, "Failed to generate document", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: toDocumentSummary(doc)})
}

// GenerateBundle handles POST /api/documents/bundle. Partial failures return
// 207 with every record.
func (h *Handlers) GenerateBundle(c *gin.Context) {
	var req BundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	docs, err := h.documents.GenerateBundle(c.Request.Context(), service.GenerateParams{
		CustomerID:   req.CustomerID,
		CompanyID:    req.CompanyID,
		SourceFormID: req.SourceFormID,
		TaxYear:      req.TaxYear,
		Data:         req.Data,
	}, req.DocumentTypes)
	if err != nil && docs == nil {
		h.writeError(c, "Failed to generate bundle", err)
		return
	}

	summaries := make([]DocumentSummary, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			summaries = append(summaries, toDocumentSummary(d))
		}
	}

	if err != nil {
		h.logger.Error("Bundle generated with failures", "source_form_id", req.SourceFormID, "error", err)
		c.JSON(http.StatusMultiStatus, Response{Success: false, Data: summaries, Error: "some documents failed to generate"})
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: summaries})
}

// GetDocument handles GET /api/documents/:id
func (h *Handlers) GetDocument(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to get document", err)
		return
	}
	doc.RenderInput = ""
	c.JSON(http.StatusOK, Response{Success: true, Data: doc})
}

// GetDownloadURL handles GET /api/documents/:id/download-url?ttl=300
func (h *Handlers) GetDownloadURL(c *gin.Context) {
	ttl, err := utils.ParseTTLSeconds(c.Query("ttl"), service.DefaultURLTTL)
	if err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}

	url, err := h.documents.GetSignedDownloadURL(c.Request.Context(), c.Param("id"), ttl)
	if err != nil {
		h.writeError(c, "Failed to sign download url", err)
		return
	}

	effective := ttl
	if effective > service.MaxURLTTL {
		effective = service.MaxURLTTL
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{
		"url":         url,
		"expires_in":  int(effective.Seconds()),
		"document_id": c.Param("id"),
	}})
}

// VerifyDocument handles POST /api/documents/:id/verify
func (h *Handlers) VerifyDocument(c *gin.Context) {
	id := c.Param("id")
	err := h.documents.VerifyIntegrity(c.Request.Context(), id)
	if errors.Is(err, content.ErrDigestMismatch) {
		h.logger.Error("Stored document failed integrity check", "document_id", id, "error", err)
		c.JSON(http.StatusConflict, Response{Success: false, Data: gin.H{"document_id": id, "intact": false}, Error: "content digest mismatch"})
		return
	}
	if err != nil {
		h.writeError(c, "Failed to verify document", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"document_id": id, "intact": true}})
}

// DispatchWorkflow handles POST /api/workflows
func (h *Handlers) DispatchWorkflow(c *gin.Context) {
	var req service.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	t, err := h.workflows.Dispatch(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "Failed to dispatch workflow", err)
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true, Data: t})
}

// GetWorkflowStatus handles GET /api/workflows/:id
func (h *Handlers) GetWorkflowStatus(c *gin.Context) {
	t, err := h.workflows.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "Failed to get workflow status", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: t})
}

// ResendDocument handles POST /api/admin/documents/:id/resend
func (h *Handlers) ResendDocument(c *gin.Context) {
	h.adminAction(c, h.admin.ResendDocumentEmail)
}

// RegenerateDocument handles POST /api/admin/documents/:id/regenerate
func (h *Handlers) RegenerateDocument(c *gin.Context) {
	h.adminAction(c, h.admin.RegenerateDocument)
}

// RefundPayment handles POST /api/admin/payments/:id/refund
func (h *Handlers) RefundPayment(c *gin.Context) {
	if err := utils.ValidateIdentifier("payment id", c.Param("id")); err != nil {
		h.badRequest(c, err.Error(), err)
		return
	}
	h.adminAction(c, h.admin.RefundPayment)
}

// RedispatchWorkflow handles POST /api/admin/workflows/:id/redispatch
func (h *Handlers) RedispatchWorkflow(c *gin.Context) {
	h.adminAction(c, h.admin.RedispatchWorkflow)
}

// ListAudit handles GET /api/admin/audit?entity_type=document&entity_id=...
func (h *Handlers) ListAudit(c *gin.Context) {
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.badRequest(c, "limit must be a positive integer", err)
			return
		}
		limit = n
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	entries, err := h.admin.ListAudit(c.Request.Context(), c.Query("entity_type"), c.Query("entity_id"), limit)
	if err != nil {
		h.writeError(c, "Failed to list audit entries", err)
		return
	}
	if entries == nil {
		entries = []*entity.AuditLogEntry{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

type adminActionFunc func(ctx context.Context, req service.AdminActionRequest) (*service.AdminActionResult, error)

func (h *Handlers) adminAction(c *gin.Context, fn adminActionFunc) {
	var body AdminActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "reason and actor_id are required", err)
		return
	}

	res, err := fn(c.Request.Context(), service.AdminActionRequest{
		EntityID: c.Param("id"),
		Reason:   utils.SanitizeString(body.Reason),
		ActorID:  utils.SanitizeString(body.ActorID),
	})
	if err != nil {
		h.writeError(c, "Admin action failed", err)
		return
	}

	status := http.StatusOK
	if !res.IsDuplicate {
		status = http.StatusCreated
	}
	c.JSON(status, Response{Success: true, Data: res})
}

// writeError maps service errors to status codes
func (h *Handlers) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrDocumentNotFound), errors.Is(err, service.ErrTriggerNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
	case errors.Is(err, service.ErrTriggerNotTerminal):
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
	case service.IsClientError(err):
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
	case errors.Is(err, service.ErrRefundsDisabled):
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error(msg, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
	}
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	if err != nil {
		h.logger.Info("Rejected request", "path", c.FullPath(), "error", err)
	}
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

func toDocumentSummary(d *entity.DocumentRecord) DocumentSummary {
	s := DocumentSummary{
		ID:           d.ID,
		DocumentType: d.DocumentType,
		Status:       d.Status,
		Size:         d.SizeBytes,
		Digest:       d.ContentDigest,
		Error:        d.ErrorMessage,
	}
	if d.StorageKey != "" {
		s.StorageKeyHint = path.Dir(d.StorageKey) + "/"
	}
	return s
}
