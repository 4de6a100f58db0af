package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/domain/ports/repository"
	"ai-reseller-checkout/internal/infra/logging"
	"ai-reseller-checkout/internal/infra/metrics"
)

// Compile-time check
var _ VerifyUseCase = (*verifyUC)(nil)

// VerifyInput is the verification request sent after the widget reports success.
type VerifyInput struct {
	GatewayPaymentID string `json:"gateway_payment_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	Signature        string `json:"signature"`
	PurchaseID       string `json:"purchase_id"`
}

type VerifyResult struct {
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Purchase *model.Purchase `json:"-"`
}

// VerifyUseCase is the server-side trust boundary. Only this use case completes purchases.
type VerifyUseCase interface {
	Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error)
	// HandleWebhook applies a signed gateway notification. body must be the raw request body.
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	// Reconcile completes or closes a processing purchase from the gateway's view of its order.
	Reconcile(ctx context.Context, p *model.Purchase) (bool, error)
}

type VerifyOptions struct {
	LockTTL time.Duration
	// LockWait bounds how long a client verification waits for a webhook or
	// reconcile run holding the same purchase.
	LockWait time.Duration
}

type verifyUC struct {
	orders    OrderUseCase
	purchases repository.PurchaseRepository
	gateway   adapter.PaymentGateway
	signer    adapter.SignatureVerifier
	locker    adapter.Locker
	opts      VerifyOptions
	log       *zerolog.Logger
	now       func() time.Time
}

func NewVerifyUseCase(
	orders OrderUseCase,
	purchases repository.PurchaseRepository,
	gateway adapter.PaymentGateway,
	signer adapter.SignatureVerifier,
	locker adapter.Locker,
	opts VerifyOptions,
	logger *zerolog.Logger,
) *verifyUC {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 10 * time.Second
	}
	return &verifyUC{
		orders:    orders,
		purchases: purchases,
		gateway:   gateway,
		signer:    signer,
		locker:    locker,
		opts:      opts,
		log:       logger,
		now:       time.Now,
	}
}

func lockKey(purchaseID string) string { return "lock:purchase:" + purchaseID }

const lockRetryInterval = 100 * time.Millisecond

// acquire takes the purchase lock, retrying while it is busy until wait elapses.
// Only domain.ErrLockBusy is retried; locker failures are returned as is.
func (u *verifyUC) acquire(ctx context.Context, key string, wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	for {
		tok, err := u.locker.TryLock(ctx, key, u.opts.LockTTL)
		switch {
		case err == nil:
			return tok, nil
		case !errors.Is(err, domain.ErrLockBusy):
			return "", fmt.Errorf("acquire purchase lock: %w", err)
		case !time.Now().Before(deadline):
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (u *verifyUC) withLock(ctx context.Context, purchaseID string, wait time.Duration, fn func() error) error {
	tok, err := u.acquire(ctx, lockKey(purchaseID), wait)
	if err != nil {
		return err
	}
	defer func() {
		// release on a fresh context so a cancelled request still frees the key
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := u.locker.Unlock(uctx, lockKey(purchaseID), tok); err != nil {
			u.log.Warn().Err(err).Str("purchase_id", purchaseID).Msg("release purchase lock")
		}
	}()
	return fn()
}

func (u *verifyUC) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	defer logging.TraceDuration(u.log, "VerifyUC.Verify")()

	if in.PurchaseID == "" {
		return nil, domain.ErrInvalidArgument
	}
	ctx = logging.WithGatewayOrderID(logging.WithPurchaseID(ctx, in.PurchaseID), in.GatewayOrderID)
	start := time.Now()

	var (
		res  *VerifyResult
		rerr error
	)
	// a webhook for the same payment may hold the key; wait for it rather than report a failure
	err := u.withLock(ctx, in.PurchaseID, u.opts.LockWait, func() error {
		res, rerr = u.verifyLocked(ctx, in, start)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, rerr
}

func (u *verifyUC) verifyLocked(ctx context.Context, in VerifyInput, start time.Time) (*VerifyResult, error) {
	log := logging.With(ctx, u.log)

	p, err := u.purchases.FindByID(ctx, repository.NoTX, in.PurchaseID)
	if err != nil {
		return nil, err
	}

	switch p.PaymentStatus {
	case model.PaymentStatusCompleted:
		if p.GatewayPaymentID != nil && *p.GatewayPaymentID == in.GatewayPaymentID &&
			u.signer.VerifyPayment(in.GatewayOrderID, in.GatewayPaymentID, in.Signature) {
			metrics.ObserveVerify("ok", "already_completed", time.Since(start))
			return &VerifyResult{Success: true, Purchase: p}, nil
		}
		return u.reject(ctx, p, "bad_state", start)
	case model.PaymentStatusFailed, model.PaymentStatusCancelled:
		metrics.ObserveVerify("fail", "bad_state", time.Since(start))
		log.Warn().Str("status", string(p.PaymentStatus)).Msg("verification on closed purchase")
		return &VerifyResult{Success: false, Error: domain.ErrNotPayable.Error(), Purchase: p}, domain.ErrNotPayable
	}

	if p.GatewayOrderID == nil || *p.GatewayOrderID != in.GatewayOrderID {
		return u.reject(ctx, p, "order_mismatch", start)
	}
	if in.GatewayPaymentID == "" || !u.signer.VerifyPayment(in.GatewayOrderID, in.GatewayPaymentID, in.Signature) {
		log.Debug().Str("signature", logging.Redact(in.Signature, false)).Msg("signature mismatch")
		return u.reject(ctx, p, "bad_signature", start)
	}

	pay, err := u.gateway.FetchPayment(ctx, in.GatewayPaymentID)
	if err != nil {
		// gateway outage is not an integrity failure; the reconciler settles it later
		metrics.ObserveVerify("fail", "fetch_error", time.Since(start))
		log.Error().Err(err).Msg("fetch payment for verification")
		return &VerifyResult{Success: false, Error: domain.ErrGatewayError.Error(), Purchase: p}, err
	}
	if reason := u.mismatch(p, pay, in.GatewayOrderID); reason != "" {
		return u.reject(ctx, p, reason, start)
	}

	done, err := u.complete(ctx, p, pay)
	if err != nil {
		return nil, err
	}
	if done.PaymentStatus != model.PaymentStatusCompleted {
		log.Error().
			Str("gateway_payment_id", pay.ID).
			Str("status", string(done.PaymentStatus)).
			Msg("settled payment on a purchase that can no longer complete; refund required")
		metrics.ObserveVerify("fail", "bad_state", time.Since(start))
		return &VerifyResult{Success: false, Error: domain.ErrNotPayable.Error(), Purchase: done}, domain.ErrNotPayable
	}

	metrics.ObserveVerify("ok", "", time.Since(start))
	log.Info().Str("gateway_payment_id", pay.ID).Str("method", pay.Method).Msg("payment verified")
	return &VerifyResult{Success: true, Purchase: done}, nil
}

// mismatch cross-checks the gateway's payment against the stored purchase. Empty means consistent.
func (u *verifyUC) mismatch(p *model.Purchase, pay adapter.GatewayPayment, orderID string) string {
	switch {
	case pay.OrderID != orderID:
		return "order_mismatch"
	case pay.Amount != MinorUnits(p.TotalAmount) || !strings.EqualFold(pay.Currency, p.Currency):
		return "amount_mismatch"
	case !pay.Settled():
		return "not_captured"
	}
	// priced rate, not the current config
	if err := VerifyTotal(p, p.TaxRate); err != nil {
		return "amount_mismatch"
	}
	return ""
}

// reject moves a non-terminal purchase to failed. Never retried.
func (u *verifyUC) reject(ctx context.Context, p *model.Purchase, reason string, start time.Time) (*VerifyResult, error) {
	metrics.ObserveVerify("fail", reason, time.Since(start))
	logging.With(logging.WithPurchaseID(ctx, p.ID), u.log).Warn().
		Str("reason", reason).
		Msg("payment verification failed")

	out := p
	if !p.PaymentStatus.IsTerminal() {
		failed, err := u.orders.UpdateStatus(ctx, p.ID, model.PaymentStatusFailed, nil, nil)
		if err != nil {
			return nil, err
		}
		out = failed
	}
	return &VerifyResult{Success: false, Error: domain.ErrVerificationFailed.Error(), Purchase: out}, domain.ErrVerificationFailed
}

// complete walks pending -> processing -> completed through the status gate.
func (u *verifyUC) complete(ctx context.Context, p *model.Purchase, pay adapter.GatewayPayment) (*model.Purchase, error) {
	if p.PaymentStatus == model.PaymentStatusPending {
		next, err := u.orders.UpdateStatus(ctx, p.ID, model.PaymentStatusProcessing, nil, nil)
		if err != nil {
			return nil, err
		}
		if next.PaymentStatus != model.PaymentStatusProcessing {
			return next, nil
		}
	}
	id := pay.ID
	var method *string
	if pay.Method != "" {
		m := pay.Method
		method = &m
	}
	return u.orders.UpdateStatus(ctx, p.ID, model.PaymentStatusCompleted, &id, method)
}

// -----------------------------
// Webhooks
// -----------------------------

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity webhookPayment `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type webhookPayment struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	CreatedAt int64  `json:"created_at"`
}

const (
	eventPaymentCaptured = "payment.captured"
	eventOrderPaid       = "order.paid"
	eventPaymentFailed   = "payment.failed"
)

func (u *verifyUC) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	defer logging.TraceDuration(u.log, "VerifyUC.HandleWebhook")()

	if !u.signer.VerifyWebhook(body, signature) {
		metrics.ObserveVerify("fail", "bad_webhook_signature", 0)
		u.log.Warn().Msg("webhook signature rejected")
		return domain.ErrVerificationFailed
	}
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: webhook body: %v", domain.ErrInvalidArgument, err)
	}
	if env.Payload.Payment == nil {
		u.log.Debug().Str("event", env.Event).Msg("webhook without payment entity ignored")
		return nil
	}
	wp := env.Payload.Payment.Entity
	orderID := wp.OrderID
	if orderID == "" && env.Payload.Order != nil {
		orderID = env.Payload.Order.Entity.ID
	}
	log := u.log.With().Str("event", env.Event).Str("gateway_order_id", orderID).Str("gateway_payment_id", wp.ID).Logger()

	switch env.Event {
	case eventPaymentCaptured, eventOrderPaid:
	case eventPaymentFailed:
		// the widget retries in place; closing happens on widget failure or expiry
		log.Info().Msg("gateway reported a failed payment attempt")
		return nil
	default:
		log.Debug().Msg("webhook event ignored")
		return nil
	}

	p, err := u.purchases.FindByGatewayOrderID(ctx, repository.NoTX, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("webhook for unknown gateway order")
			return nil
		}
		return err
	}

	pay := adapter.GatewayPayment{
		ID:       wp.ID,
		OrderID:  orderID,
		Amount:   wp.Amount,
		Currency: wp.Currency,
		Status:   wp.Status,
		Method:   wp.Method,
	}
	if env.Event == eventOrderPaid && pay.Status == "" {
		pay.Status = adapter.GatewayPaymentCaptured
	}
	return u.withLock(ctx, p.ID, 0, func() error {
		return u.settle(logging.WithPurchaseID(ctx, p.ID), p.ID, pay, "webhook")
	})
}

// settle completes purchaseID with a gateway-confirmed payment. Caller holds the purchase lock.
func (u *verifyUC) settle(ctx context.Context, purchaseID string, pay adapter.GatewayPayment, source string) error {
	start := time.Now()
	p, err := u.purchases.FindByID(ctx, repository.NoTX, purchaseID)
	if err != nil {
		return err
	}
	if p.PaymentStatus.IsTerminal() {
		if p.PaymentStatus != model.PaymentStatusCompleted {
			u.log.Error().Str("purchase_id", p.ID).Str("gateway_payment_id", pay.ID).Str("status", string(p.PaymentStatus)).
				Msg("settled payment on a closed purchase; refund required")
		}
		return nil
	}
	if reason := u.mismatch(p, pay, pay.OrderID); reason != "" {
		_, err := u.reject(ctx, p, reason, start)
		if errors.Is(err, domain.ErrVerificationFailed) {
			return nil
		}
		return err
	}
	done, err := u.complete(ctx, p, pay)
	if err != nil {
		return err
	}
	metrics.ObserveVerify("ok", source, time.Since(start))
	u.log.Info().Str("purchase_id", done.ID).Str("status", string(done.PaymentStatus)).Str("source", source).Msg("payment settled")
	return nil
}

// -----------------------------
// Reconciliation
// -----------------------------

func (u *verifyUC) Reconcile(ctx context.Context, p *model.Purchase) (bool, error) {
	defer logging.TraceDuration(u.log, "VerifyUC.Reconcile")()

	if p == nil || p.PaymentStatus != model.PaymentStatusProcessing || p.GatewayOrderID == nil {
		return false, nil
	}
	orderID := *p.GatewayOrderID

	pays, err := u.gateway.OrderPayments(ctx, orderID)
	if err != nil {
		return false, err
	}

	var settled *adapter.GatewayPayment
	for i := range pays {
		if pays[i].Settled() && pays[i].Amount == MinorUnits(p.TotalAmount) {
			settled = &pays[i]
			break
		}
	}

	changed := false
	err = u.withLock(ctx, p.ID, 0, func() error {
		if settled != nil {
			if settled.OrderID == "" {
				settled.OrderID = orderID
			}
			if err := u.settle(ctx, p.ID, *settled, "reconcile"); err != nil {
				return err
			}
			changed = true
			return nil
		}
		if p.IsExpired(u.now()) {
			out, err := u.orders.UpdateStatus(ctx, p.ID, model.PaymentStatusCancelled, nil, nil)
			if err != nil {
				return err
			}
			changed = out.PaymentStatus == model.PaymentStatusCancelled
		}
		return nil
	})
	return changed, err
}
