package adapter

import (
	"context"
	"time"
)

type PurchaseEventType string

const (
	PurchaseCompleted PurchaseEventType = "purchase.completed"
	PurchaseFailed    PurchaseEventType = "purchase.failed"
	PurchaseCancelled PurchaseEventType = "purchase.cancelled"
)

// PurchaseEvent is emitted once per real status transition into a terminal state.
type PurchaseEvent struct {
	Type             PurchaseEventType `json:"type"`
	PurchaseID       string            `json:"purchase_id"`
	UserID           string            `json:"user_id"`
	TotalAmount      string            `json:"total_amount"`
	Currency         string            `json:"currency"`
	GatewayOrderID   string            `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string            `json:"gateway_payment_id,omitempty"`
	CouponCode       string            `json:"coupon_code,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev PurchaseEvent) error
	Close() error
}

// CartClearer is the cart collaborator's hook, signalled only after completion.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

// Locker serializes work on a key across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
