package stripepay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"go.uber.org/zap"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backends := &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(srv.URL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		}),
	}
	g, err := NewGateway("sk_test_123", backends, zap.NewNop())
	require.NoError(t, err)
	return g
}

func TestGateway_GetPayment(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","status":"succeeded","currency":"usd","amount":49900,"amount_received":49900}`))
	})

	p, err := g.GetPayment(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, &port.PaymentSnapshot{ID: "pi_123", Status: "succeeded", Currency: "usd", Amount: 49900, AmountReceived: 49900}, p)
}

func TestGateway_RefundSendsIdempotencyKey(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		assert.Equal(t, "docflow-refund-pi_123", r.Header.Get("Idempotency-Key"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "requested_by_customer", r.PostForm.Get("reason"))
		assert.Equal(t, "admin-1", r.PostForm.Get("metadata[actor_id]"))
		assert.Equal(t, "duplicate charge", r.PostForm.Get("metadata[reason]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_1","object":"refund","status":"succeeded","currency":"usd","amount":49900}`))
	})

	res, err := g.Refund(context.Background(), port.RefundRequest{
		PaymentID:      "pi_123",
		Reason:         "duplicate charge",
		ActorID:        "admin-1",
		IdempotencyKey: "docflow-refund-pi_123",
	})
	require.NoError(t, err)
	assert.Equal(t, &port.RefundResult{RefundID: "re_1", Status: "succeeded", Currency: "usd", Amount: 49900}, res)
}

func TestGateway_RefundError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"charge_already_refunded","message":"Charge has already been refunded."}}`))
	})

	_, err := g.Refund(context.Background(), port.RefundRequest{PaymentID: "pi_123", ActorID: "admin-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already been refunded")
}

func TestNewGateway_RequiresKey(t *testing.T) {
	_, err := NewGateway("", nil, zap.NewNop())
	assert.Error(t, err)
}
