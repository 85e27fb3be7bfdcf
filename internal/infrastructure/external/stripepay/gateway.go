// Package stripepay adapts the Stripe API to the payment gateway used by admin refunds.
package stripepay

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

// Gateway implements port.PaymentGateway with a per-instance Stripe client
type Gateway struct {
	sc     *client.API
	logger *zap.Logger
}

// NewGateway creates a Gateway. backends may be nil to use the Stripe API.
func NewGateway(apiKey string, backends *stripe.Backends, logger *zap.Logger) (*Gateway, error) {
	if apiKey == "" {
		return nil, errors.New("stripe api key is required")
	}
	return &Gateway{sc: client.New(apiKey, backends), logger: logger}, nil
}

func (g *Gateway) GetPayment(ctx context.Context, paymentID string) (*port.PaymentSnapshot, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.sc.PaymentIntents.Get(paymentID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return &port.PaymentSnapshot{
		ID:             pi.ID,
		Status:         string(pi.Status),
		Currency:       string(pi.Currency),
		Amount:         pi.Amount,
		AmountReceived: pi.AmountReceived,
	}, nil
}

// Refund issues a full refund. The idempotency key makes a retried request
// return the first refund instead of creating another.
func (g *Gateway) Refund(ctx context.Context, req port.RefundRequest) (*port.RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.AddMetadata("actor_id", req.ActorID)
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	r, err := g.sc.Refunds.New(params)
	if err != nil {
		g.logger.Error("Stripe refund failed",
			zap.String("payment_intent", req.PaymentID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	g.logger.Info("Stripe refund created",
		zap.String("payment_intent", req.PaymentID),
		zap.String("refund_id", r.ID),
		zap.String("status", string(r.Status)))

	return &port.RefundResult{
		RefundID: r.ID,
		Status:   string(r.Status),
		Currency: string(r.Currency),
		Amount:   r.Amount,
	}, nil
}

var _ port.PaymentGateway = (*Gateway)(nil)
