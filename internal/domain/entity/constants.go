package entity

// Document types
const (
	DocumentTypePrimaryForm = "primary-form"
	DocumentTypeNarrative   = "narrative"
	DocumentTypeMemo        = "memo"
)

// DocumentRecord status constants
const (
	DocumentStatusPending   = "pending"
	DocumentStatusAvailable = "available"
	DocumentStatusFailed    = "failed"
)

// WorkflowTrigger status constants
const (
	TriggerStatusPending   = "pending"
	TriggerStatusTriggered = "triggered"
	TriggerStatusCompleted = "completed"
	TriggerStatusFailed    = "failed"
	TriggerStatusTimeout   = "timeout"
)

// Admin actions recorded in the audit log
const (
	AdminActionResendEmail   = "resend_email"
	AdminActionRegenerateDoc = "regenerate_doc"
	AdminActionRefund        = "refund"
	AdminActionRedispatch    = "redispatch_workflow"
)

// Audit entry outcomes. A failed entry records an action that changed state
// before returning an error.
const (
	AuditOutcomeSucceeded = "succeeded"
	AuditOutcomeFailed    = "failed"
)

// Audited entity types
const (
	EntityTypeDocument = "document"
	EntityTypePayment  = "payment"
	EntityTypeTrigger  = "workflow_trigger"
)

// DefaultMaxRetries is the dispatch retry budget when none is configured.
const DefaultMaxRetries = 3
