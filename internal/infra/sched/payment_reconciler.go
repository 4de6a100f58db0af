package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/repository"
	"ai-reseller-checkout/internal/infra/scheduler"
	"ai-reseller-checkout/internal/infra/worker"
	"ai-reseller-checkout/internal/usecase"
)

var _ scheduler.Job = (*PaymentReconciler)(nil)

// PaymentReconciler settles purchases left in processing when the browser never
// reported back: it asks the gateway for the order's payments and completes or cancels.
type PaymentReconciler struct {
	verify     usecase.VerifyUseCase
	purchases  repository.PurchaseRepository
	pool       *worker.Pool
	staleAfter time.Duration
	batch      int
	log        *zerolog.Logger
}

func NewPaymentReconciler(verify usecase.VerifyUseCase, purchases repository.PurchaseRepository, pool *worker.Pool, staleAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	lg := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{verify: verify, purchases: purchases, pool: pool, staleAfter: staleAfter, batch: 200, log: &lg}
}

func (w *PaymentReconciler) Name() string { return "payment_reconcile" }

func (w *PaymentReconciler) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.purchases.ListProcessingOlderThan(ctx, repository.NoTX, cutoff, w.batch)
	if err != nil {
		return 0, err
	}

	var (
		wg      sync.WaitGroup
		settled atomic.Int32
	)
	for _, p := range stale {
		p := p
		wg.Add(1)
		err := w.pool.Submit(ctx, func(ctx context.Context) error {
			defer wg.Done()
			return w.reconcile(ctx, p, &settled)
		})
		if err != nil {
			wg.Done()
			w.log.Warn().Err(err).Str("purchase_id", p.ID).Msg("could not queue reconciliation")
			break
		}
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return int(settled.Load()), nil
	case <-ctx.Done():
		return int(settled.Load()), ctx.Err()
	}
}

func (w *PaymentReconciler) reconcile(ctx context.Context, p *model.Purchase, settled *atomic.Int32) error {
	done, err := w.verify.Reconcile(ctx, p)
	if err != nil {
		w.log.Warn().Err(err).Str("purchase_id", p.ID).Msg("reconcile failed")
		return err
	}
	if done {
		settled.Add(1)
		w.log.Info().Str("purchase_id", p.ID).Msg("purchase reconciled")
	}
	return nil
}
