package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ai-reseller-checkout/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"    // order created, widget not opened yet
	PaymentStatusProcessing PaymentStatus = "processing" // widget opened, awaiting gateway outcome
	PaymentStatusCompleted  PaymentStatus = "completed"  // verified server-side
	PaymentStatusFailed     PaymentStatus = "failed"     // verification failure or gateway error
	PaymentStatusCancelled  PaymentStatus = "cancelled"  // dismissed by user or swept after expiry
)

var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCancelled, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

func (s PaymentStatus) String() string { return string(s) }

// CanTransitionTo reports whether from -> to is an edge of the purchase state machine.
func CanTransitionTo(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Purchase is the order aggregate tracking the payment lifecycle of one checkout attempt.
type Purchase struct {
	ID               string
	UserID           string
	TotalAmount      decimal.Decimal // tax-inclusive, final charge
	TaxRate          decimal.Decimal // rate TotalAmount was priced at
	Currency         string
	PaymentStatus    PaymentStatus
	PaymentMethod    *string
	GatewayOrderID   *string
	GatewayPaymentID *string
	ExpiresAt        time.Time
	CouponCode       *string
	CouponDiscount   *decimal.Decimal
	GSTNumber        *string
	CartHash         string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Items []PurchaseItem
}

// PurchaseItem is an immutable line owned by its Purchase.
type PurchaseItem struct {
	ID            string
	PurchaseID    string
	ServiceID     *string
	BundleID      *string
	AddonID       *string
	ItemName      string
	ItemPrice     decimal.Decimal
	BillingPeriod *BillingPeriod
	Position      int
}

// NewPurchase builds a pending purchase with its line items from a cart snapshot.
func NewPurchase(userID string, items []CartItem, total decimal.Decimal, currency string, now time.Time, ttl time.Duration) (*Purchase, error) {
	if userID == "" {
		return nil, domain.ErrAuthRequired
	}
	if len(items) == 0 {
		return nil, domain.ErrEmptyCart
	}
	if total.IsNegative() || currency == "" || ttl <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	p := &Purchase{
		ID:            uuid.NewString(),
		UserID:        userID,
		TotalAmount:   total,
		Currency:      currency,
		PaymentStatus: PaymentStatusPending,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, it := range items {
		pi, err := newPurchaseItem(p.ID, it, i)
		if err != nil {
			return nil, err
		}
		p.Items = append(p.Items, pi)
	}
	return p, nil
}

func newPurchaseItem(purchaseID string, it CartItem, pos int) (PurchaseItem, error) {
	if it.ID == "" || it.Price.IsNegative() || !it.Type.Valid() {
		return PurchaseItem{}, domain.ErrInvalidArgument
	}
	id := it.ID
	pi := PurchaseItem{
		ID:            uuid.NewString(),
		PurchaseID:    purchaseID,
		ItemName:      it.Name,
		ItemPrice:     it.Price,
		BillingPeriod: it.BillingPeriod,
		Position:      pos,
	}
	switch it.Type {
	case ItemTypeService:
		pi.ServiceID = &id
	case ItemTypeBundle:
		pi.BundleID = &id
	case ItemTypeAddon:
		pi.AddonID = &id
	}
	return pi, nil
}

// CloneItems copies line items under a new purchase id, keeping names and prices.
func (p *Purchase) CloneItems(newPurchaseID string) []PurchaseItem {
	out := make([]PurchaseItem, len(p.Items))
	for i, it := range p.Items {
		it.ID = uuid.NewString()
		it.PurchaseID = newPurchaseID
		out[i] = it
	}
	return out
}

// ItemsSubtotal sums the persisted item prices.
func (p *Purchase) ItemsSubtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range p.Items {
		sum = sum.Add(it.ItemPrice)
	}
	return sum
}

// IsExpired reports whether a pending order outlived its payment window.
func (p *Purchase) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// IsPayable reports whether the purchase can still be paid at now.
func (p *Purchase) IsPayable(now time.Time) bool {
	if p == nil {
		return false
	}
	if p.PaymentStatus != PaymentStatusPending && p.PaymentStatus != PaymentStatusProcessing {
		return false
	}
	return !p.IsExpired(now)
}

// ExpiresIn is the remaining payment window, clamped at zero.
func (p *Purchase) ExpiresIn(now time.Time) time.Duration {
	if p == nil || p.ExpiresAt.IsZero() {
		return 0
	}
	d := p.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (p *Purchase) Discount() decimal.Decimal {
	if p.CouponDiscount == nil {
		return decimal.Zero
	}
	return *p.CouponDiscount
}
