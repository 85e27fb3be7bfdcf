package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

type countingMetrics struct {
	auditFailures int
	adminActions  map[string]int
}

func (c *countingMetrics) ObserveGeneration(string, string, time.Duration) {}
func (c *countingMetrics) IncDispatch(string)                              {}
func (c *countingMetrics) IncTriggerTransition(string)                     {}
func (c *countingMetrics) SetActivePollers(int)                            {}
func (c *countingMetrics) IncAuditWriteFailure()                           { c.auditFailures++ }
func (c *countingMetrics) IncAdminAction(action string, duplicate bool) {
	if c.adminActions == nil {
		c.adminActions = make(map[string]int)
	}
	if duplicate {
		action += ":duplicate"
	}
	c.adminActions[action]++
}

func TestAuditLogger_Record(t *testing.T) {
	repo := &mockAuditRepo{}
	clock := newFakeClock()
	audit := NewAuditLogger(repo, nil, &mockLogger{}, clock.Now)

	e := &entity.AuditLogEntry{
		ActorID:    "admin-1",
		Action:     entity.AdminActionRefund,
		EntityType: entity.EntityTypePayment,
		EntityID:   "pi_1",
		Before:     `{"status":"succeeded"}`,
		After:      `{"refund_id":"re_1"}`,
	}
	require.NoError(t, audit.Record(context.Background(), e))

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, clock.Now(), e.CreatedAt)
	assert.Equal(t, e.ComputeFingerprint(), e.Fingerprint)
	assert.Equal(t, 1, repo.count())
}

func TestAuditLogger_RecordValidation(t *testing.T) {
	audit := NewAuditLogger(&mockAuditRepo{}, nil, &mockLogger{}, nil)

	err := audit.Record(context.Background(), &entity.AuditLogEntry{Action: entity.AdminActionRefund, EntityType: "payment", EntityID: "pi_1"})
	assert.ErrorIs(t, err, ErrInvalidAdminRequest)

	err = audit.Record(context.Background(), &entity.AuditLogEntry{ActorID: "a", Action: "delete_everything", EntityType: "payment", EntityID: "pi_1"})
	assert.ErrorIs(t, err, ErrInvalidAdminRequest)
}

func TestAuditLogger_WriteFailureIsLoud(t *testing.T) {
	repo := &mockAuditRepo{appendErr: errors.New("database is locked")}
	metrics := &countingMetrics{}
	logger := &mockLogger{}
	audit := NewAuditLogger(repo, metrics, logger, nil)

	err := audit.Record(context.Background(), &entity.AuditLogEntry{
		ActorID: "admin-1", Action: entity.AdminActionResendEmail, EntityType: entity.EntityTypeDocument, EntityID: "D1",
	})
	require.Error(t, err)
	assert.Equal(t, 1, metrics.auditFailures)
	assert.True(t, logger.HasError("AUDIT WRITE FAILED after action was performed"))
}

func TestAuditLogger_FindRecentWindow(t *testing.T) {
	repo := &mockAuditRepo{}
	clock := newFakeClock()
	audit := NewAuditLogger(repo, nil, &mockLogger{}, clock.Now)

	require.NoError(t, audit.Record(context.Background(), &entity.AuditLogEntry{
		ActorID: "admin-1", Action: entity.AdminActionResendEmail, EntityType: entity.EntityTypeDocument, EntityID: "D1",
	}))

	clock.Advance(9 * time.Minute)
	found, err := audit.FindRecent(context.Background(), "admin-1", entity.AdminActionResendEmail, entity.EntityTypeDocument, "D1", 10*time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, found)

	found, _ = audit.FindRecent(context.Background(), "admin-2", entity.AdminActionResendEmail, entity.EntityTypeDocument, "D1", 10*time.Minute)
	assert.Nil(t, found)

	clock.Advance(2 * time.Minute)
	found, _ = audit.FindRecent(context.Background(), "admin-1", entity.AdminActionResendEmail, entity.EntityTypeDocument, "D1", 10*time.Minute)
	assert.Nil(t, found)
}
