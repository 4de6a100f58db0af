package repository

import (
	"context"

	"ai-reseller-checkout/internal/domain/model"
)

// -----------------------------
// Coupons
// -----------------------------

type CouponRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Coupon) error
	// FindByCode looks up by canonical (upper-case) code.
	FindByCode(ctx context.Context, tx Tx, code string) (*model.Coupon, error)
	HasUsage(ctx context.Context, tx Tx, couponID, userID string) (bool, error)
	// RecordUsage inserts the ledger row; returns false when the (coupon, user) pair already exists.
	RecordUsage(ctx context.Context, tx Tx, u *model.CouponUsage) (bool, error)
	IncrementUses(ctx context.Context, tx Tx, couponID string) error
}
