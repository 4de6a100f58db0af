package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ai-reseller-checkout/internal/domain"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
	DiscountFreeMonths DiscountType = "free_months"
)

// Coupon is a discount code with a validity window and usage caps.
type Coupon struct {
	ID            string
	Code          string // canonical upper-case
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	FreeMonths    *int
	MaxUses       *int
	CurrentUses   int
	ValidFrom     time.Time
	ValidUntil    *time.Time
	IsActive      bool
	CreatedAt     time.Time
}

// CouponUsage is the ledger row proving a user redeemed a coupon on a completed purchase.
type CouponUsage struct {
	ID         string
	CouponID   string
	UserID     string
	PurchaseID string
	UsedAt     time.Time
}

func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewCoupon validates and constructs an active coupon.
func NewCoupon(code string, typ DiscountType, value decimal.Decimal, freeMonths, maxUses *int, validFrom time.Time, validUntil *time.Time) (*Coupon, error) {
	code = NormalizeCouponCode(code)
	if code == "" || value.IsNegative() {
		return nil, domain.ErrInvalidArgument
	}
	switch typ {
	case DiscountPercentage:
		if value.GreaterThan(decimal.NewFromInt(100)) {
			return nil, domain.ErrInvalidArgument
		}
	case DiscountFixed:
	case DiscountFreeMonths:
		if freeMonths == nil && !value.IsInteger() {
			return nil, domain.ErrInvalidArgument
		}
		if freeMonths != nil && *freeMonths <= 0 {
			return nil, domain.ErrInvalidArgument
		}
	default:
		return nil, domain.ErrInvalidArgument
	}
	if maxUses != nil && *maxUses <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	if validUntil != nil && !validUntil.After(validFrom) {
		return nil, domain.ErrInvalidArgument
	}
	return &Coupon{
		ID:            uuid.NewString(),
		Code:          code,
		DiscountType:  typ,
		DiscountValue: value,
		FreeMonths:    freeMonths,
		MaxUses:       maxUses,
		ValidFrom:     validFrom,
		ValidUntil:    validUntil,
		IsActive:      true,
		CreatedAt:     time.Now(),
	}, nil
}

// InWindow reports now ∈ [ValidFrom, ValidUntil).
func (c *Coupon) InWindow(now time.Time) bool {
	if now.Before(c.ValidFrom) {
		return false
	}
	return c.ValidUntil == nil || now.Before(*c.ValidUntil)
}

func (c *Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.CurrentUses >= *c.MaxUses
}

// Months is the number of free months granted by a free_months coupon.
// FreeMonths wins; otherwise DiscountValue carries the count.
func (c *Coupon) Months() int64 {
	if c.FreeMonths != nil {
		return int64(*c.FreeMonths)
	}
	return c.DiscountValue.IntPart()
}
