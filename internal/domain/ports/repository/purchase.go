package repository

import (
	"context"
	"time"

	"ai-reseller-checkout/internal/domain/model"
)

// -----------------------------
// Purchases
// -----------------------------

// PurchaseRepository persists purchases and their line items.
// Methods accept a Tx; NoTX (nil) runs on the pool. Lookups inside a tx lock the row.
type PurchaseRepository interface {
	// Create inserts the purchase and all of its items. Callers wrap it in a tx for atomicity.
	Create(ctx context.Context, tx Tx, p *model.Purchase) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Purchase, error)
	FindByGatewayOrderID(ctx context.Context, tx Tx, gatewayOrderID string) (*model.Purchase, error)
	// FindLiveByCartHash returns a pending/processing, unexpired purchase for the user's cart snapshot.
	FindLiveByCartHash(ctx context.Context, tx Tx, userID, cartHash string, now time.Time) (*model.Purchase, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Purchase, error)
	// ListProcessingOlderThan feeds the reconciler with purchases stuck behind an open widget.
	ListProcessingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Purchase, error)

	SetGatewayOrder(ctx context.Context, tx Tx, id, gatewayOrderID string) error
	// UpdateStatus persists status and payment metadata. Gatekeeping lives in the use case.
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.PaymentStatus, gatewayPaymentID, method *string) error
	// CancelExpired moves pending purchases past expires_at to cancelled. Empty userID sweeps all users.
	CancelExpired(ctx context.Context, tx Tx, userID string, now time.Time, limit int) ([]string, error)
}
