package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/taxcredit-docflow/internal/application/dispatcher"
	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
	"github.com/garyjia/taxcredit-docflow/internal/domain/event"
)

// AdminActionRequest is the body shared by all admin actions
type AdminActionRequest struct {
	EntityID string `json:"-"`
	Reason   string `json:"reason"`
	ActorID  string `json:"actor_id"`
}

// AdminActionResult is returned by every admin action
type AdminActionResult struct {
	Action        string          `json:"action"`
	EntityID      string          `json:"entity_id"`
	IsDuplicate   bool            `json:"is_duplicate"`
	Result        json.RawMessage `json:"result"`
	AuditEntryID  string          `json:"audit_entry_id,omitempty"`
	AuditRecorded bool            `json:"audit_recorded"`
	PerformedAt   time.Time       `json:"performed_at"`
}

// AdminService exposes guarded, audited operator overrides
type AdminService interface {
	ResendDocumentEmail(ctx context.Context, req AdminActionRequest) (*AdminActionResult, error)
	RegenerateDocument(ctx context.Context, req AdminActionRequest) (*AdminActionResult, error)
	RefundPayment(ctx context.Context, req AdminActionRequest) (*AdminActionResult, error)
	RedispatchWorkflow(ctx context.Context, req AdminActionRequest) (*AdminActionResult, error)
	ListAudit(ctx context.Context, entityType, entityID string, limit int) ([]*entity.AuditLogEntry, error)
}

// AdminServiceDeps holds collaborators of the admin service
type AdminServiceDeps struct {
	DocumentRepo port.DocumentRepository
	Documents    DocumentService
	Workflows    WorkflowService
	Payments     port.PaymentGateway
	Guard        ActionGuard
	Audit        AuditLogger
	TxManager    port.TransactionManager
	Dispatcher   dispatcher.Dispatcher
	Logger       Logger
	Clock        func() time.Time
}

type adminServiceImpl struct {
	deps AdminServiceDeps
	now  func() time.Time
}

// NewAdminService creates a new AdminService
func NewAdminService(deps AdminServiceDeps) AdminService {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &adminServiceImpl{deps: deps, now: now}
}

func (s *adminServiceImpl) run(ctx context.Context, action, entityType string, req AdminActionRequest, fn ActionFunc) (*AdminActionResult, error) {
	res, err := s.deps.Guard.Run(ctx, GuardRequest{
		ActorID:    req.ActorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   req.EntityID,
		Reason:     req.Reason,
	}, fn)
	if err != nil {
		s.deps.Logger.Error("Admin action failed",
			"action", action,
			"entity_id", req.EntityID,
			"actor_id", req.ActorID,
			"error", err)
		return nil, err
	}

	out := &AdminActionResult{
		Action:        action,
		EntityID:      req.EntityID,
		IsDuplicate:   res.IsDuplicate,
		Result:        res.Result,
		AuditEntryID:  res.AuditEntryID,
		AuditRecorded: res.AuditRecorded,
		PerformedAt:   res.PerformedAt,
	}

	if !res.IsDuplicate {
		s.deps.Logger.Info("Admin action performed",
			"action", action,
			"entity_id", req.EntityID,
			"actor_id", req.ActorID,
			"audit_recorded", res.AuditRecorded)
		if s.deps.Dispatcher != nil {
			s.deps.Dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeAdminActionRecorded, entityType, req.EntityID, map[string]interface{}{
				"action":         action,
				"actor_id":       req.ActorID,
				"audit_entry_id": res.AuditEntryID,
			}))
		}
	}
	return out, nil
}

func (s *adminServiceImpl) loadDocument(ctx context.Context, id string) (*entity.DocumentRecord, error) {
	doc, err := s.deps.DocumentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// ResendDocumentEmail hands the document to the automation engine again for delivery
func (s *adminServiceImpl) ResendDocumentEmail(ctx context.Context, req AdminActionRequest) (*AdminActionResult, error) {
	return s.run(ctx, entity.AdminActionResendEmail, entity.EntityTypeDocument, req, func(ctx context.Context) (*ActionOutcome, error) {
		doc, err := s.loadDocument(ctx, req.EntityID)
		if err != nil {
			return nil, err
		}
		if !doc.IsAvailable() {
			return nil, fmt.Errorf("%w: status %s", ErrDocumentNotAvailable, doc.Status)
		}

		payload, err := json.Marshal(map[string]interface{}{
			"event":          "document.resend",
			"document_id":    doc.ID,
			"document_type":  doc.DocumentType,
			"customer_id":    doc.CustomerID,
			"company_id":     doc.CompanyID,
			"tax_year":       doc.TaxYear,
			"storage_key":    doc.StorageKey,
			"content_digest": doc.ContentDigest,
			"reason":         req.Reason,
		})
		if err != nil {
			return nil, err
		}

		trig, err := s.deps.Workflows.Dispatch(ctx, DispatchRequest{
			SourceFormID: doc.SourceFormID,
			DocumentID:   doc.ID,
			Payload:      payload,
		})
		if err != nil {
			return nil, fmt.Errorf("dispatch resend: %w", err)
		}

		now := s.now().UTC()
		if err := s.deps.DocumentRepo.RecordResend(ctx, doc.ID, now); err != nil {
			s.deps.Logger.Error("Failed to record resend", "document_id", doc.ID, "error", err)
		}

		return &ActionOutcome{
			Before: map[string]interface{}{
				"resend_count":   doc.ResendCount,
				"last_resent_at": doc.LastResentAt,
			},
			After: map[string]interface{}{
				"resend_count":   doc.ResendCount + 1,
				"last_resent_at": now,
				"trigger_id":     trig.ID,
				"trigger_status": trig.Status,
			},
		}, nil
	})
}

// RegenerateDocument replays the stored generation input into a new record and
// links the old record to it
func (s *adminServiceImpl) RegenerateDocument(ctx context.Context, req AdminActionRequest) (*AdminActionResult, error) {
	return s.run(ctx, entity.AdminActionRegenerateDoc, entity.EntityTypeDocument, req, func(ctx context.Context) (*ActionOutcome, error) {
		doc, err := s.loadDocument(ctx, req.EntityID)
		if err != nil {
			return nil, err
		}
		if doc.RenderInput == "" {
			return nil, fmt.Errorf("%w: document %s has no stored generation input", ErrInvalidAdminRequest, doc.ID)
		}

		var params GenerateParams
		if err := json.Unmarshal([]byte(doc.RenderInput), &params); err != nil {
			return nil, fmt.Errorf("decode generation input: %w", err)
		}

		before := map[string]interface{}{
			"document_id":    doc.ID,
			"status":         doc.Status,
			"storage_key":    doc.StorageKey,
			"content_digest": doc.ContentDigest,
		}

		fresh, err := s.deps.Documents.Generate(ctx, params)
		if err != nil {
			if fresh == nil {
				return nil, err
			}
			// A failed record was persisted; audit it alongside the error
			return &ActionOutcome{
				Before: before,
				After: map[string]interface{}{
					"document_id": fresh.ID,
					"status":      fresh.Status,
					"error":       fresh.ErrorMessage,
				},
			}, err
		}

		err = s.deps.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
			current, err := s.deps.DocumentRepo.GetByID(txCtx, doc.ID)
			if err != nil {
				return err
			}
			if current == nil || current.SupersededBy != "" {
				return nil
			}
			return s.deps.DocumentRepo.MarkSuperseded(txCtx, doc.ID, fresh.ID)
		})
		if err != nil {
			s.deps.Logger.Error("Failed to link regenerated document", "document_id", doc.ID, "new_document_id", fresh.ID, "error", err)
		}

		return &ActionOutcome{
			Before: before,
			After: map[string]interface{}{
				"document_id":    fresh.ID,
				"status":         fresh.Status,
				"storage_key":    fresh.StorageKey,
				"content_digest": fresh.ContentDigest,
			},
		}, nil
	})
}

// RefundPayment issues a full refund through the payment provider
func (s *adminServiceImpl) RefundPayment(ctx context.Context, req AdminActionRequest) (*AdminActionResult, error) {
	return s.run(ctx, entity.AdminActionRefund, entity.EntityTypePayment, req, func(ctx context.Context) (*ActionOutcome, error) {
		if s.deps.Payments == nil {
			return nil, ErrRefundsDisabled
		}

		before, err := s.deps.Payments.GetPayment(ctx, req.EntityID)
		if err != nil {
			return nil, fmt.Errorf("get payment: %w", err)
		}

		refund, err := s.deps.Payments.Refund(ctx, port.RefundRequest{
			PaymentID:      req.EntityID,
			Reason:         req.Reason,
			ActorID:        req.ActorID,
			IdempotencyKey: "docflow-refund-" + req.EntityID,
		})
		if err != nil {
			return nil, fmt.Errorf("refund payment: %w", err)
		}
		return &ActionOutcome{Before: before, After: refund}, nil
	})
}

// RedispatchWorkflow starts a new trigger from a terminal one
func (s *adminServiceImpl) RedispatchWorkflow(ctx context.Context, req AdminActionRequest) (*AdminActionResult, error) {
	return s.run(ctx, entity.AdminActionRedispatch, entity.EntityTypeTrigger, req, func(ctx context.Context) (*ActionOutcome, error) {
		old, err := s.deps.Workflows.GetStatus(ctx, req.EntityID)
		if err != nil {
			return nil, err
		}

		fresh, err := s.deps.Workflows.Redispatch(ctx, req.EntityID)
		if err != nil {
			return nil, err
		}
		return &ActionOutcome{
			Before: map[string]interface{}{
				"trigger_id":  old.ID,
				"status":      old.Status,
				"retry_count": old.RetryCount,
				"last_error":  old.LastError,
			},
			After: map[string]interface{}{
				"trigger_id":        fresh.ID,
				"parent_trigger_id": old.ID,
				"status":            fresh.Status,
			},
		}, nil
	})
}

func (s *adminServiceImpl) ListAudit(ctx context.Context, entityType, entityID string, limit int) ([]*entity.AuditLogEntry, error) {
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("%w: entity_type and entity_id are required", ErrInvalidAdminRequest)
	}
	entries, err := s.deps.Audit.ListForEntity(ctx, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// IsClientError reports whether err was caused by the request rather than a collaborator
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidGenerateParams,
		ErrInvalidDispatch,
		ErrInvalidAdminRequest,
		ErrDocumentNotAvailable,
		ErrTriggerNotTerminal,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
