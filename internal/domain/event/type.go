package event

// Type identifies the type of domain event
type Type string

const (
	TypeDocumentGenerated    Type = "document.generated"
	TypeDocumentFailed       Type = "document.failed"
	TypeTriggerStatusChanged Type = "trigger.status_changed"
	TypeAdminActionRecorded  Type = "admin.action_recorded"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeDocumentGenerated,
		TypeDocumentFailed,
		TypeTriggerStatusChanged,
		TypeAdminActionRecorded:
		return true
	default:
		return false
	}
}
