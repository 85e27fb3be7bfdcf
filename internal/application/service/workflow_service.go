package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/taxcredit-docflow/internal/application/dispatcher"
	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
	"github.com/garyjia/taxcredit-docflow/internal/domain/event"
	"github.com/garyjia/taxcredit-docflow/internal/domain/workflow"
)

const (
	DefaultDispatchTimeout = 30 * time.Second
	DefaultRetryBatchSize  = 50
	DefaultResumeBatchSize = 500
	persistTimeout         = 10 * time.Second
)

// DispatchRequest creates a new workflow trigger
type DispatchRequest struct {
	SourceFormID    string          `json:"source_form_id"`
	DocumentID      string          `json:"document_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	MaxRetries      *int            `json:"max_retries,omitempty"`
	ParentTriggerID string          `json:"-"`
}

// WorkflowService hands generation events to the automation engine and drives
// dispatch retries
type WorkflowService interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*entity.WorkflowTrigger, error)
	GetStatus(ctx context.Context, id string) (*entity.WorkflowTrigger, error)
	RetryDue(ctx context.Context, limit int) (int, error)
	ResumePolling(ctx context.Context) (int, error)
	Redispatch(ctx context.Context, triggerID string) (*entity.WorkflowTrigger, error)
}

// WorkflowServiceConfig holds retry and timeout settings
type WorkflowServiceConfig struct {
	Policy          workflow.Policy
	MaxRetries      int
	DispatchTimeout time.Duration
	ResumeBatchSize int
}

// WorkflowServiceDeps holds collaborators of the workflow service
type WorkflowServiceDeps struct {
	Repo       port.TriggerRepository
	Engine     port.WorkflowEngine
	Poller     port.TriggerPoller
	Dispatcher dispatcher.Dispatcher
	Metrics    port.Metrics
	Logger     Logger
	Clock      func() time.Time
}

type workflowServiceImpl struct {
	repo       port.TriggerRepository
	engine     port.WorkflowEngine
	poller     port.TriggerPoller
	dispatcher dispatcher.Dispatcher
	metrics    port.Metrics
	logger     Logger
	now        func() time.Time
	cfg        WorkflowServiceConfig
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(deps WorkflowServiceDeps, cfg WorkflowServiceConfig) WorkflowService {
	if cfg.Policy.Backoff.Base <= 0 || cfg.Policy.Backoff.Cap <= 0 {
		cfg.Policy.Backoff = workflow.DefaultBackoff()
	}
	if cfg.Policy.TriggerTimeout <= 0 {
		cfg.Policy.TriggerTimeout = workflow.DefaultTriggerTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = entity.DefaultMaxRetries
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	if cfg.ResumeBatchSize <= 0 {
		cfg.ResumeBatchSize = DefaultResumeBatchSize
	}
	if deps.Metrics == nil {
		deps.Metrics = port.NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &workflowServiceImpl{
		repo:       deps.Repo,
		engine:     deps.Engine,
		poller:     deps.Poller,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Clock,
		cfg:        cfg,
	}
}

// Dispatch persists a pending trigger and makes the first dispatch attempt. The
// trigger is returned even when that attempt failed and a retry is scheduled.
func (s *workflowServiceImpl) Dispatch(ctx context.Context, req DispatchRequest) (*entity.WorkflowTrigger, error) {
	if strings.TrimSpace(req.SourceFormID) == "" {
		return nil, fmt.Errorf("%w: source_form_id is required", ErrInvalidDispatch)
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return nil, fmt.Errorf("%w: payload must be valid JSON", ErrInvalidDispatch)
	}
	maxRetries := s.cfg.MaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must not be negative", ErrInvalidDispatch)
		}
		maxRetries = *req.MaxRetries
	}

	now := s.now().UTC()
	// The retry worker takes over if the first attempt is never recorded
	lease := now.Add(s.cfg.DispatchTimeout + persistTimeout)
	t := &entity.WorkflowTrigger{
		ID:              uuid.NewString(),
		SourceFormID:    req.SourceFormID,
		DocumentID:      req.DocumentID,
		ParentTriggerID: req.ParentTriggerID,
		Payload:         string(req.Payload),
		Status:          entity.TriggerStatusPending,
		MaxRetries:      maxRetries,
		NextRetryAt:     &lease,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create workflow trigger: %w", err)
	}

	s.logger.Info("Workflow trigger created", "trigger_id", t.ID, "source_form_id", t.SourceFormID)

	if err := s.attempt(ctx, t); err != nil && !errors.Is(err, port.ErrStaleTrigger) {
		s.logger.Error("Dispatch attempt could not be recorded", "trigger_id", t.ID, "error", err)
	}
	return t, nil
}

// attempt makes one dispatch call for a pending trigger and persists the outcome.
// t is updated in place on success.
func (s *workflowServiceImpl) attempt(ctx context.Context, t *entity.WorkflowTrigger) error {
	expectedStatus, expectedRetries := t.Status, t.RetryCount
	next := t.Clone()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	res, dispatchErr := s.engine.Dispatch(callCtx, []byte(t.Payload))
	cancel()

	now := s.now().UTC()
	if dispatchErr != nil {
		s.metrics.IncDispatch("failure")
		if err := s.cfg.Policy.ApplyDispatchFailure(next, dispatchErr, now); err != nil {
			return err
		}
		s.logger.Error("Workflow dispatch failed",
			"trigger_id", t.ID,
			"retry_count", next.RetryCount,
			"max_retries", next.MaxRetries,
			"status", next.Status,
			"error", dispatchErr)
	} else {
		s.metrics.IncDispatch("success")
		out := workflow.DispatchOutcome{ExecutionID: res.ExecutionID, ScenarioID: res.ScenarioID, Response: res.Raw}
		if err := s.cfg.Policy.ApplyDispatchSuccess(next, out, now); err != nil {
			return err
		}
	}

	// The engine call already happened; record it even if the caller went away.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()

	if err := s.repo.UpdateTransition(persistCtx, next, expectedStatus, expectedRetries); err != nil {
		if dispatchErr == nil {
			s.logger.Error("Execution started but trigger update was lost",
				"trigger_id", t.ID,
				"execution_id", next.ExecutionID,
				"error", err)
		}
		return err
	}
	*t = *next

	if t.Status != expectedStatus {
		s.notify(ctx, t)
	}
	if t.Status == entity.TriggerStatusTriggered {
		s.logger.Info("Workflow dispatched", "trigger_id", t.ID, "execution_id", t.ExecutionID)
		s.poller.StartPolling(t.ID, s.notify)
	}
	return nil
}

// notify is the status change callback shared by dispatch and polling
func (s *workflowServiceImpl) notify(ctx context.Context, t *entity.WorkflowTrigger) {
	s.metrics.IncTriggerTransition(t.Status)
	s.logger.Info("Workflow trigger status changed",
		"trigger_id", t.ID,
		"status", t.Status,
		"retry_count", t.RetryCount)

	if s.dispatcher == nil {
		return
	}
	payload := map[string]interface{}{
		"status":         t.Status,
		"execution_id":   t.ExecutionID,
		"retry_count":    t.RetryCount,
		"last_error":     t.LastError,
		"source_form_id": t.SourceFormID,
		"document_id":    t.DocumentID,
	}
	s.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeTriggerStatusChanged, entity.EntityTypeTrigger, t.ID, payload))
}

func (s *workflowServiceImpl) GetStatus(ctx context.Context, id string) (*entity.WorkflowTrigger, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get workflow trigger: %w", err)
	}
	if t == nil {
		return nil, ErrTriggerNotFound
	}
	return t, nil
}

// RetryDue re-attempts dispatch for pending triggers whose backoff has elapsed.
// It returns the number of attempts made.
func (s *workflowServiceImpl) RetryDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultRetryBatchSize
	}
	due, err := s.repo.ListDueRetries(ctx, s.now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due retries: %w", err)
	}

	attempts := 0
	for _, t := range due {
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		attempts++
		if err := s.attempt(ctx, t); err != nil {
			if errors.Is(err, port.ErrStaleTrigger) {
				continue
			}
			s.logger.Error("Retry attempt could not be recorded", "trigger_id", t.ID, "error", err)
		}
	}
	return attempts, nil
}

// ResumePolling restarts polling for every triggered trigger, e.g. after a restart
func (s *workflowServiceImpl) ResumePolling(ctx context.Context) (int, error) {
	resumed := 0
	var after *entity.WorkflowTrigger
	for {
		page, err := s.repo.ListByStatus(ctx, entity.TriggerStatusTriggered, after, s.cfg.ResumeBatchSize)
		if err != nil {
			return resumed, fmt.Errorf("list triggered: %w", err)
		}
		for _, t := range page {
			s.poller.StartPolling(t.ID, s.notify)
		}
		resumed += len(page)
		if len(page) < s.cfg.ResumeBatchSize {
			break
		}
		after = page[len(page)-1]
	}
	if resumed > 0 {
		s.logger.Info("Resumed polling", "count", resumed)
	}
	return resumed, nil
}

// Redispatch creates a new trigger carrying the payload of a terminal one
func (s *workflowServiceImpl) Redispatch(ctx context.Context, triggerID string) (*entity.WorkflowTrigger, error) {
	old, err := s.GetStatus(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if !old.IsTerminal() {
		return nil, fmt.Errorf("%w: status %s", ErrTriggerNotTerminal, old.Status)
	}

	maxRetries := old.MaxRetries
	return s.Dispatch(ctx, DispatchRequest{
		SourceFormID:    old.SourceFormID,
		DocumentID:      old.DocumentID,
		Payload:         json.RawMessage(old.Payload),
		MaxRetries:      &maxRetries,
		ParentTriggerID: old.ID,
	})
}
