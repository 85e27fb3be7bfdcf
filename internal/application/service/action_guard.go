package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

// DefaultCooldown is how long an identical admin action is treated as a duplicate
const DefaultCooldown = 10 * time.Minute

// GuardRequest identifies one administrative action
type GuardRequest struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Reason     string
}

// ActionOutcome carries the state snapshots recorded for an action
type ActionOutcome struct {
	Before interface{}
	After  interface{}
}

// ActionFunc performs the guarded side effect. Returning a non-nil outcome
// together with an error marks a partial failure, which is audited as failed.
type ActionFunc func(ctx context.Context) (*ActionOutcome, error)

// GuardResult reports whether the action ran and what it produced
type GuardResult struct {
	IsDuplicate   bool
	Result        json.RawMessage
	AuditEntryID  string
	AuditRecorded bool
	PerformedAt   time.Time
}

// ActionGuard suppresses repeated admin actions inside a cooldown window and
// records each performed action in the audit log. The check is advisory: two
// requests racing inside the same instant may both run.
type ActionGuard interface {
	Run(ctx context.Context, req GuardRequest, fn ActionFunc) (*GuardResult, error)
}

type actionGuardImpl struct {
	audit    AuditLogger
	cooldown time.Duration
	metrics  port.Metrics
	logger   Logger
	now      func() time.Time
}

// NewActionGuard creates a new ActionGuard
func NewActionGuard(audit AuditLogger, cooldown time.Duration, metrics port.Metrics, logger Logger, clock func() time.Time) ActionGuard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &actionGuardImpl{audit: audit, cooldown: cooldown, metrics: metrics, logger: logger, now: clock}
}

func (g *actionGuardImpl) Run(ctx context.Context, req GuardRequest, fn ActionFunc) (*GuardResult, error) {
	if strings.TrimSpace(req.ActorID) == "" {
		return nil, fmt.Errorf("%w: actor_id is required", ErrInvalidAdminRequest)
	}
	if strings.TrimSpace(req.EntityID) == "" || req.EntityType == "" {
		return nil, fmt.Errorf("%w: entity is required", ErrInvalidAdminRequest)
	}
	if !entity.IsValidAdminAction(req.Action) {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidAdminRequest, req.Action)
	}

	prior, err := g.audit.FindRecent(ctx, req.ActorID, req.Action, req.EntityType, req.EntityID, g.cooldown)
	if err != nil {
		// Refuse rather than risk a double refund or resend.
		return nil, fmt.Errorf("check recent actions: %w", err)
	}
	if prior != nil {
		g.metrics.IncAdminAction(req.Action, true)
		g.logger.Info("Duplicate admin action suppressed",
			"actor_id", req.ActorID,
			"action", req.Action,
			"entity_id", req.EntityID,
			"prior_entry_id", prior.ID)
		return &GuardResult{
			IsDuplicate:   true,
			Result:        rawOrNull(prior.After),
			AuditEntryID:  prior.ID,
			AuditRecorded: true,
			PerformedAt:   prior.CreatedAt,
		}, nil
	}

	outcome, actionErr := fn(ctx)
	if actionErr != nil {
		if outcome != nil {
			g.recordFailure(ctx, req, outcome, actionErr)
		}
		return nil, actionErr
	}
	if outcome == nil {
		outcome = &ActionOutcome{}
	}

	before, err := json.Marshal(outcome.Before)
	if err != nil {
		return nil, fmt.Errorf("encode before snapshot: %w", err)
	}
	after, err := json.Marshal(outcome.After)
	if err != nil {
		return nil, fmt.Errorf("encode after snapshot: %w", err)
	}

	g.metrics.IncAdminAction(req.Action, false)
	entry := g.newEntry(req, string(before), string(after), entity.AuditOutcomeSucceeded)

	result := &GuardResult{Result: after, PerformedAt: g.now().UTC()}
	if err := g.record(ctx, entry); err != nil {
		// Recorded at error level by the audit logger; the side effect stands.
		return result, nil
	}
	result.AuditEntryID = entry.ID
	result.AuditRecorded = true
	result.PerformedAt = entry.CreatedAt
	return result, nil
}

// recordFailure audits an action that changed state before it failed. Failed
// entries never satisfy the cooldown, so the caller may retry at once.
func (g *actionGuardImpl) recordFailure(ctx context.Context, req GuardRequest, outcome *ActionOutcome, actionErr error) {
	before, err := json.Marshal(outcome.Before)
	if err != nil {
		before = []byte("null")
	}
	after, err := json.Marshal(map[string]interface{}{
		"state": outcome.After,
		"error": actionErr.Error(),
	})
	if err != nil {
		after = []byte("null")
	}
	entry := g.newEntry(req, string(before), string(after), entity.AuditOutcomeFailed)
	if err := g.record(ctx, entry); err != nil {
		return
	}
	g.logger.Info("Failed admin action audited",
		"actor_id", req.ActorID,
		"action", req.Action,
		"entity_id", req.EntityID,
		"audit_entry_id", entry.ID)
}

func (g *actionGuardImpl) newEntry(req GuardRequest, before, after, outcome string) *entity.AuditLogEntry {
	return &entity.AuditLogEntry{
		ActorID:    req.ActorID,
		Action:     req.Action,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Before:     before,
		After:      after,
		Reason:     req.Reason,
		Outcome:    outcome,
	}
}

// record writes on a detached context so a cancelled request still leaves a trail
func (g *actionGuardImpl) record(ctx context.Context, entry *entity.AuditLogEntry) error {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	return g.audit.Record(auditCtx, entry)
}

func rawOrNull(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}
