package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AuditLogEntry is an append-only record of one administrative action.
type AuditLogEntry struct {
	ID          string    `json:"id"`
	ActorID     string    `json:"actor_id"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Before      string    `json:"before,omitempty"`
	After       string    `json:"after,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Outcome     string    `json:"outcome"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// ComputeFingerprint hashes the identifying fields and the before snapshot.
func (e *AuditLogEntry) ComputeFingerprint() string {
	h := sha256.New()
	for _, part := range []string{e.ActorID, e.Action, e.EntityType, e.EntityID, e.Before} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsValidAdminAction reports whether a is one of the audited admin actions.
func IsValidAdminAction(a string) bool {
	switch a {
	case AdminActionResendEmail, AdminActionRegenerateDoc, AdminActionRefund, AdminActionRedispatch:
		return true
	}
	return false
}
