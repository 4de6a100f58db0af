package adapter

import (
	"context"
	"time"
)

// OrderRequest asks the gateway for an order object; Amount is in minor units (paise).
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]interface{}
}

type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
}

// GatewayPayment is the gateway's authoritative view of a payment.
type GatewayPayment struct {
	ID        string
	OrderID   string
	Amount    int64
	Currency  string
	Status    string // created | authorized | captured | refunded | failed
	Method    string
	CreatedAt time.Time
}

const (
	GatewayPaymentAuthorized = "authorized"
	GatewayPaymentCaptured   = "captured"
	GatewayPaymentFailed     = "failed"
)

// Settled reports whether the money is secured at the gateway.
func (p GatewayPayment) Settled() bool {
	return p.Status == GatewayPaymentCaptured || p.Status == GatewayPaymentAuthorized
}

// PaymentGateway is the hex port for the payment provider's server API.
type PaymentGateway interface {
	Name() string
	// PublicKey is the client-side key handed to the checkout widget. Never the secret.
	PublicKey() string

	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (GatewayPayment, error)
	OrderPayments(ctx context.Context, orderID string) ([]GatewayPayment, error)
}

// SignatureVerifier checks gateway signatures with the server-held secret.
type SignatureVerifier interface {
	VerifyPayment(orderID, paymentID, signature string) bool
	VerifyWebhook(body []byte, signature string) bool
}
