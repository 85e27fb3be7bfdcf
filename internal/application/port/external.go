package port

import (
	"context"

	"github.com/garyjia/taxcredit-docflow/internal/domain/entity"
)

// RenderedDocument is the output of a renderer
type RenderedDocument struct {
	Content  []byte
	MimeType string
}

// Renderer produces document bytes from a template and structured data
type Renderer interface {
	Render(ctx context.Context, templateID string, data map[string]interface{}) (*RenderedDocument, error)
}

// DispatchResult identifies the execution an engine started
type DispatchResult struct {
	ExecutionID string
	ScenarioID  string
	Raw         string
}

// ExecutionStatus is one status report in the engine-neutral vocabulary
// (pending, running, success, error, warning)
type ExecutionStatus struct {
	Status  string
	Message string
	Raw     string
}

// WorkflowEngine is the external automation engine
type WorkflowEngine interface {
	Dispatch(ctx context.Context, payload []byte) (*DispatchResult, error)
	QueryStatus(ctx context.Context, executionID, scenarioID string) (*ExecutionStatus, error)
}

// PaymentSnapshot is the state of a payment before a refund
type PaymentSnapshot struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Currency       string `json:"currency"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
}

// RefundRequest asks the payment provider for a full refund
type RefundRequest struct {
	PaymentID      string
	Reason         string
	ActorID        string
	IdempotencyKey string
}

// RefundResult is the refund created by the provider
type RefundResult struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

// PaymentGateway is the payment provider used by the refund admin action
type PaymentGateway interface {
	GetPayment(ctx context.Context, paymentID string) (*PaymentSnapshot, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// StatusChangeFunc is called after a trigger status change has been persisted
type StatusChangeFunc func(ctx context.Context, t *entity.WorkflowTrigger)

// TriggerPoller tracks triggered executions until they finish
type TriggerPoller interface {
	StartPolling(triggerID string, onStatusChange StatusChangeFunc)
	StopPolling(triggerID string)
}
