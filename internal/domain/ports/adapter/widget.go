package adapter

import "context"

// WidgetOptions is the client-side checkout widget configuration.
type WidgetOptions struct {
	Key            string        `json:"key"`
	Amount         int64         `json:"amount"` // minor units
	Currency       string        `json:"currency"`
	OrderID        string        `json:"order_id"`
	Name           string        `json:"name,omitempty"`
	Description    string        `json:"description,omitempty"`
	Prefill        WidgetPrefill `json:"prefill"`
	Theme          WidgetTheme   `json:"theme"`
	TimeoutSeconds int           `json:"timeout"`
	Retry          WidgetRetry   `json:"retry"`
}

type WidgetPrefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

type WidgetTheme struct {
	Color string `json:"color,omitempty"`
}

type WidgetRetry struct {
	Enabled  bool `json:"enabled"`
	MaxCount int  `json:"max_count"`
}

type WidgetEventKind string

const (
	WidgetCompleted WidgetEventKind = "completed"
	WidgetDismissed WidgetEventKind = "dismissed"
	// WidgetFailed is emitted once the widget gave up after its own retries.
	WidgetFailed WidgetEventKind = "failed"
)

// PaymentCallback is the success payload of the widget.
type PaymentCallback struct {
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	Signature        string `json:"signature"`
}

type WidgetEvent struct {
	Kind    WidgetEventKind
	Payment PaymentCallback
	Reason  string
}

// CheckoutWidget loads the gateway checkout script and opens the payment widget.
type CheckoutWidget interface {
	// Load is idempotent: once loaded it returns nil immediately.
	Load(ctx context.Context) error
	// Open starts a widget session; the channel yields exactly one terminal event and is then closed.
	// Cancelling ctx tears the session down without an event.
	Open(ctx context.Context, opts WidgetOptions) (<-chan WidgetEvent, error)
}
