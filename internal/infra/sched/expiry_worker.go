package sched

import (
	"context"

	"ai-reseller-checkout/internal/infra/scheduler"
	"ai-reseller-checkout/internal/usecase"
)

var _ scheduler.Job = (*ExpirySweeper)(nil)

// ExpirySweeper cancels pending purchases whose payment window has closed, across all users.
type ExpirySweeper struct {
	orders usecase.OrderUseCase
	batch  int
}

func NewExpirySweeper(orders usecase.OrderUseCase, batch int) *ExpirySweeper {
	if batch <= 0 {
		batch = 500
	}
	return &ExpirySweeper{orders: orders, batch: batch}
}

func (w *ExpirySweeper) Name() string { return "expiry_sweep" }

func (w *ExpirySweeper) Run(ctx context.Context) (int, error) {
	return w.orders.CleanupAllExpired(ctx, w.batch)
}
