package redis

import (
	"context"
	"fmt"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/ports/adapter"
)

var _ adapter.CartClearer = (*CartClearer)(nil)

// CartClearer drops the storefront's cached cart for a user once a purchase completes.
type CartClearer struct {
	client RedisClient
}

func NewCartClearer(client RedisClient) *CartClearer {
	return &CartClearer{client: client}
}

// CartKey is the key under which the storefront keeps a user's cart.
func CartKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func (c *CartClearer) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.ErrInvalidArgument
	}
	return c.client.Del(ctx, CartKey(userID))
}
