package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/repository"
	"ai-reseller-checkout/internal/infra/logging"
	"ai-reseller-checkout/internal/infra/metrics"
)

// Compile-time check
var _ CouponUseCase = (*couponUC)(nil)

// CouponResult carries the outcome of a validation. Err is a *domain.CouponError
// for rejections and a wrapped infrastructure error otherwise.
type CouponResult struct {
	Valid    bool
	Discount decimal.Decimal
	Coupon   *model.Coupon
	Err      error
}

type CouponUseCase interface {
	// Validate checks code for userID against the cart and computes the discount.
	Validate(ctx context.Context, code, userID string, cart []model.CartItem) CouponResult
	// Create registers a coupon definition (admin and seed path).
	Create(ctx context.Context, c *model.Coupon) error
}

type couponUC struct {
	coupons repository.CouponRepository
	log     *zerolog.Logger
	now     func() time.Time
}

func NewCouponUseCase(coupons repository.CouponRepository, logger *zerolog.Logger) *couponUC {
	return &couponUC{coupons: coupons, log: logger, now: time.Now}
}

func (u *couponUC) Validate(ctx context.Context, code, userID string, cart []model.CartItem) CouponResult {
	defer logging.TraceDuration(u.log, "CouponUC.Validate")()

	res := u.validate(ctx, code, userID, cart)
	switch {
	case res.Valid:
		metrics.IncCouponValidation("valid")
	case domain.CouponReasonOf(res.Err) != "":
		metrics.IncCouponValidation(string(domain.CouponReasonOf(res.Err)))
	default:
		metrics.IncCouponValidation("error")
	}
	return res
}

func (u *couponUC) validate(ctx context.Context, code, userID string, cart []model.CartItem) CouponResult {
	code = model.NormalizeCouponCode(code)
	if code == "" {
		return CouponResult{Err: domain.ErrCouponNotFound}
	}

	c, err := u.coupons.FindByCode(ctx, repository.NoTX, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CouponResult{Err: domain.ErrCouponNotFound}
		}
		u.log.Error().Err(err).Str("coupon", code).Msg("coupon lookup failed")
		return CouponResult{Err: err}
	}
	if !c.IsActive {
		return CouponResult{Err: domain.ErrCouponNotFound}
	}
	if !c.InWindow(u.now()) {
		return CouponResult{Err: domain.ErrCouponExpired}
	}

	used, err := u.coupons.HasUsage(ctx, repository.NoTX, c.ID, userID)
	if err != nil {
		u.log.Error().Err(err).Str("coupon", code).Msg("coupon usage lookup failed")
		return CouponResult{Err: err}
	}
	if used {
		return CouponResult{Err: domain.ErrCouponAlreadyUsed}
	}
	if c.Exhausted() {
		return CouponResult{Err: domain.ErrCouponLimitReached}
	}

	return CouponResult{Valid: true, Coupon: c, Discount: CouponDiscount(c, cart)}
}

// CouponDiscount applies the lowest-price-item rule. A single-item cart
// discounts the whole subtotal; a multi-item cart discounts only its cheapest
// line. The result never exceeds the subtotal.
func CouponDiscount(c *model.Coupon, cart []model.CartItem) decimal.Decimal {
	subtotal := model.Subtotal(cart)
	lowest, ok := model.LowestItem(cart)
	if !ok || c == nil {
		return decimal.Zero
	}
	base := lowest.Price
	if len(cart) == 1 {
		base = subtotal
	}

	var d decimal.Decimal
	switch c.DiscountType {
	case model.DiscountPercentage:
		d = base.Mul(c.DiscountValue).Div(hundred)
	case model.DiscountFixed:
		d = decimal.Min(c.DiscountValue, base)
	case model.DiscountFreeMonths:
		months := decimal.NewFromInt(c.Months())
		if lowest.IsMonthly() {
			d = lowest.Price.Mul(months)
		} else {
			d = Round2(lowest.Price.Div(decimal.NewFromInt(12))).Mul(months)
		}
		d = decimal.Min(d, lowest.Price)
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	return Round2(decimal.Min(d, subtotal))
}

func (u *couponUC) Create(ctx context.Context, c *model.Coupon) error {
	defer logging.TraceDuration(u.log, "CouponUC.Create")()
	if c == nil {
		return domain.ErrInvalidArgument
	}
	c.Code = model.NormalizeCouponCode(c.Code)
	if existing, err := u.coupons.FindByCode(ctx, repository.NoTX, c.Code); err == nil && existing != nil {
		return domain.ErrAlreadyExists
	}
	return u.coupons.Save(ctx, repository.NoTX, c)
}
