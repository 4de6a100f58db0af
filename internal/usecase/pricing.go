package usecase

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
)

var (
	hundred   = decimal.NewFromInt(100)
	tolerance = decimal.New(1, -2) // 0.01
)

// Quote is the priced breakdown of a cart snapshot.
type Quote struct {
	Subtotal           decimal.Decimal
	Discount           decimal.Decimal // amount actually taken off, never above Subtotal
	DiscountedSubtotal decimal.Decimal
	Tax                decimal.Decimal
	Total              decimal.Decimal
	TaxRate            decimal.Decimal

	// ItemTax is informational per-line tax; it does not feed Total.
	ItemTax []decimal.Decimal
}

// Round2 rounds half away from zero to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MinorUnits converts a rupee amount to paise.
func MinorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}

// Price applies discount and tax to items. Tax is computed on the discounted subtotal.
func Price(items []model.CartItem, discount, taxRate decimal.Decimal) Quote {
	subtotal := model.Subtotal(items)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	discount = Round2(decimal.Min(discount, subtotal))
	discounted := subtotal.Sub(discount)
	tax := Round2(discounted.Mul(taxRate))

	q := Quote{
		Subtotal:           subtotal,
		Discount:           discount,
		DiscountedSubtotal: discounted,
		Tax:                tax,
		Total:              discounted.Add(tax),
		TaxRate:            taxRate,
		ItemTax:            make([]decimal.Decimal, len(items)),
	}
	for i, it := range items {
		q.ItemTax[i] = Round2(it.Price.Mul(taxRate))
	}
	return q
}

// VerifyTotal recomputes the charge from the stored items and discount and
// checks it against TotalAmount within one paisa.
func VerifyTotal(p *model.Purchase, taxRate decimal.Decimal) error {
	if p == nil {
		return domain.ErrInvalidArgument
	}
	discounted := p.ItemsSubtotal().Sub(p.Discount())
	if discounted.IsNegative() {
		discounted = decimal.Zero
	}
	want := discounted.Add(Round2(discounted.Mul(taxRate)))
	if want.Sub(p.TotalAmount).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("%w: total %s does not match recomputed %s", domain.ErrInvalidArgument, p.TotalAmount.StringFixed(2), want.StringFixed(2))
	}
	return nil
}
