package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type ItemType string

const (
	ItemTypeService ItemType = "service"
	ItemTypeBundle  ItemType = "bundle"
	ItemTypeAddon   ItemType = "addon"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeService, ItemTypeBundle, ItemTypeAddon:
		return true
	}
	return false
}

type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingAnnual  BillingPeriod = "annual"
	BillingOneTime BillingPeriod = "one_time"
)

// CartItem is a read-only line of the cart snapshot taken at checkout time.
type CartItem struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Type          ItemType        `json:"type"`
	BillingPeriod *BillingPeriod  `json:"billing_period,omitempty"`
}

// IsMonthly reports whether the item is billed per month.
func (c CartItem) IsMonthly() bool {
	return c.BillingPeriod != nil && *c.BillingPeriod == BillingMonthly
}

// Subtotal sums item prices.
func Subtotal(items []CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Price)
	}
	return sum
}

// LowestItem returns the cheapest item; ties resolve to the earliest in cart order.
func LowestItem(items []CartItem) (CartItem, bool) {
	if len(items) == 0 {
		return CartItem{}, false
	}
	lowest := items[0]
	for _, it := range items[1:] {
		if it.Price.LessThan(lowest.Price) {
			lowest = it
		}
	}
	return lowest, true
}

// CartHash fingerprints a cart snapshot plus the requested coupon. Item order is ignored.
func CartHash(items []CartItem, couponCode string) string {
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, string(it.Type)+":"+it.ID+":"+it.Price.StringFixed(2))
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(strings.Join(keys, "|")))
	h.Write([]byte("#" + NormalizeCouponCode(couponCode)))
	return hex.EncodeToString(h.Sum(nil))
}
