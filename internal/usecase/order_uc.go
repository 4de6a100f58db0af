package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/domain/ports/repository"
	"ai-reseller-checkout/internal/infra/logging"
	"ai-reseller-checkout/internal/infra/metrics"
)

// Compile-time check
var _ OrderUseCase = (*orderUC)(nil)

// OrderData is the order-creation payload handed to the client widget.
type OrderData struct {
	Success          bool      `json:"success"`
	PurchaseID       string    `json:"purchase_id"`
	GatewayOrderID   string    `json:"gateway_order_id"`
	Amount           int64     `json:"amount"` // minor units
	Currency         string    `json:"currency"`
	GatewayPublicKey string    `json:"gateway_public_key"`
	CouponWarning    string    `json:"coupon_warning,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type CreateOrderInput struct {
	UserID     string
	Items      []model.CartItem
	CouponCode *string
	GSTNumber  *string
}

// OrderUseCase owns the purchase state machine. UpdateStatus is the only path that mutates status.
type OrderUseCase interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*OrderData, error)
	UpdateStatus(ctx context.Context, purchaseID string, status model.PaymentStatus, gatewayPaymentID, method *string) (*model.Purchase, error)
	GetDetails(ctx context.Context, purchaseID string) (*model.Purchase, error)
	FindByGatewayOrder(ctx context.Context, gatewayOrderID string) (*model.Purchase, error)
	IsPayable(p *model.Purchase) bool
	CleanupExpired(ctx context.Context, userID string) (int, error)
	CleanupAllExpired(ctx context.Context, limit int) (int, error)
	// Reissue opens a fresh pending purchase from a dismissed one, keeping its priced items.
	Reissue(ctx context.Context, userID, purchaseID string) (*OrderData, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Purchase, error)
}

type OrderOptions struct {
	TaxRate  decimal.Decimal
	Currency string
	OrderTTL time.Duration
}

type orderUC struct {
	purchases repository.PurchaseRepository
	coupons   repository.CouponRepository
	tm        repository.TransactionManager
	validator CouponUseCase
	gateway   adapter.PaymentGateway
	events    adapter.EventPublisher
	opts      OrderOptions
	log       *zerolog.Logger
	now       func() time.Time
}

func NewOrderUseCase(
	purchases repository.PurchaseRepository,
	coupons repository.CouponRepository,
	tm repository.TransactionManager,
	validator CouponUseCase,
	gateway adapter.PaymentGateway,
	events adapter.EventPublisher,
	opts OrderOptions,
	logger *zerolog.Logger,
) *orderUC {
	if opts.OrderTTL <= 0 {
		opts.OrderTTL = 15 * time.Minute
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &orderUC{
		purchases: purchases,
		coupons:   coupons,
		tm:        tm,
		validator: validator,
		gateway:   gateway,
		events:    events,
		opts:      opts,
		log:       logger,
		now:       time.Now,
	}
}

func (u *orderUC) CreateOrder(ctx context.Context, in CreateOrderInput) (*OrderData, error) {
	defer logging.TraceDuration(u.log, "OrderUC.CreateOrder")()

	if in.UserID == "" {
		return nil, domain.ErrAuthRequired
	}
	if len(in.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}
	log := logging.With(ctx, u.log)

	if _, err := u.CleanupExpired(ctx, in.UserID); err != nil {
		return nil, fmt.Errorf("sweep expired purchases: %w", err)
	}

	code := ""
	if in.CouponCode != nil {
		code = model.NormalizeCouponCode(*in.CouponCode)
	}
	hash := model.CartHash(in.Items, code)

	existing, err := u.purchases.FindLiveByCartHash(ctx, repository.NoTX, in.UserID, hash, u.now())
	switch {
	case err == nil && existing != nil:
		metrics.IncPurchaseCreated("reused")
		if existing.GatewayOrderID == nil {
			return u.attachGatewayOrder(ctx, existing, "")
		}
		return u.orderData(existing, ""), nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	var (
		discount = decimal.Zero
		coupon   *model.Coupon
		warning  string
	)
	if code != "" {
		res := u.validator.Validate(ctx, code, in.UserID, in.Items)
		switch {
		case res.Valid:
			discount, coupon = res.Discount, res.Coupon
		case domain.CouponReasonOf(res.Err) != "":
			warning = res.Err.Error()
		default:
			log.Warn().Err(res.Err).Str("coupon", code).Msg("coupon validation unavailable; continuing at full price")
			warning = "coupon could not be applied"
		}
	}

	quote := Price(in.Items, discount, u.opts.TaxRate)
	p, err := model.NewPurchase(in.UserID, in.Items, quote.Total, u.opts.Currency, u.now(), u.opts.OrderTTL)
	if err != nil {
		return nil, err
	}
	p.CartHash = hash
	p.TaxRate = u.opts.TaxRate
	p.GSTNumber = in.GSTNumber
	if coupon != nil {
		c := coupon.Code
		d := quote.Discount
		p.CouponCode = &c
		p.CouponDiscount = &d
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		return u.purchases.Create(ctx, tx, p)
	})
	if err != nil {
		log.Error().Err(err).Msg("persist purchase failed")
		return nil, err
	}
	metrics.IncPurchaseCreated("created")
	log.Info().
		Str("purchase_id", p.ID).
		Str("total", p.TotalAmount.StringFixed(2)).
		Int("items", len(p.Items)).
		Msg("purchase created")

	return u.attachGatewayOrder(ctx, p, warning)
}

// attachGatewayOrder requests a gateway order for p. On failure p moves to failed.
func (u *orderUC) attachGatewayOrder(ctx context.Context, p *model.Purchase, warning string) (*OrderData, error) {
	order, err := u.gateway.CreateOrder(ctx, adapter.OrderRequest{
		Amount:   MinorUnits(p.TotalAmount),
		Currency: p.Currency,
		Receipt:  "rcpt_" + ulid.Make().String(),
		Notes: map[string]interface{}{
			"purchase_id": p.ID,
			"user_id":     p.UserID,
		},
	})
	if err != nil {
		metrics.IncPurchaseCreated("gateway_error")
		u.log.Error().Err(err).Str("purchase_id", p.ID).Msg("gateway order creation failed")
		if _, uerr := u.UpdateStatus(ctx, p.ID, model.PaymentStatusFailed, nil, nil); uerr != nil {
			u.log.Error().Err(uerr).Str("purchase_id", p.ID).Msg("mark purchase failed")
		}
		if errors.Is(err, domain.ErrGatewayError) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayError, err)
	}

	if err := u.purchases.SetGatewayOrder(ctx, repository.NoTX, p.ID, order.ID); err != nil {
		return nil, err
	}
	p.GatewayOrderID = &order.ID
	return u.orderData(p, warning), nil
}

func (u *orderUC) orderData(p *model.Purchase, warning string) *OrderData {
	od := &OrderData{
		Success:          true,
		PurchaseID:       p.ID,
		Amount:           MinorUnits(p.TotalAmount),
		Currency:         p.Currency,
		GatewayPublicKey: u.gateway.PublicKey(),
		CouponWarning:    warning,
		ExpiresAt:        p.ExpiresAt,
	}
	if p.GatewayOrderID != nil {
		od.GatewayOrderID = *p.GatewayOrderID
	}
	return od
}

func (u *orderUC) UpdateStatus(ctx context.Context, purchaseID string, status model.PaymentStatus, gatewayPaymentID, method *string) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "OrderUC.UpdateStatus")()

	if purchaseID == "" || !status.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	if status == model.PaymentStatusCompleted && (gatewayPaymentID == nil || *gatewayPaymentID == "") {
		return nil, fmt.Errorf("%w: completion requires a gateway payment id", domain.ErrInvalidArgument)
	}

	var (
		out      *model.Purchase
		from     model.PaymentStatus
		moved    bool
		redeemed *model.Coupon
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		p, err := u.purchases.FindByID(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		out, from = p, p.PaymentStatus

		if from.IsTerminal() {
			if from == model.PaymentStatusCompleted && status == model.PaymentStatusCompleted {
				return u.appendCompletionMeta(ctx, tx, p, gatewayPaymentID, method)
			}
			return nil
		}
		if from == status {
			return nil
		}
		if !model.CanTransitionTo(from, status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, status)
		}

		if err := u.purchases.UpdateStatus(ctx, tx, p.ID, status, gatewayPaymentID, method); err != nil {
			return err
		}
		if status == model.PaymentStatusCompleted && p.CouponCode != nil {
			if redeemed, err = u.redeemCoupon(ctx, tx, p); err != nil {
				return err
			}
		}

		p.PaymentStatus = status
		if gatewayPaymentID != nil {
			p.GatewayPaymentID = gatewayPaymentID
		}
		if method != nil {
			p.PaymentMethod = method
		}
		p.UpdatedAt = u.now()
		moved = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if moved {
		u.afterTransition(ctx, out, from, redeemed)
	}
	return out, nil
}

// appendCompletionMeta fills payment id or method on an already completed purchase. Nothing else changes.
func (u *orderUC) appendCompletionMeta(ctx context.Context, tx repository.Tx, p *model.Purchase, paymentID, method *string) error {
	var setID, setMethod *string
	if p.GatewayPaymentID == nil && paymentID != nil {
		setID = paymentID
	}
	if p.PaymentMethod == nil && method != nil && *method != "" {
		setMethod = method
	}
	if setID == nil && setMethod == nil {
		return nil
	}
	if err := u.purchases.UpdateStatus(ctx, tx, p.ID, model.PaymentStatusCompleted, setID, setMethod); err != nil {
		return err
	}
	if setID != nil {
		p.GatewayPaymentID = setID
	}
	if setMethod != nil {
		p.PaymentMethod = setMethod
	}
	return nil
}

// redeemCoupon writes the usage ledger row and bumps the counter, once per (coupon, user).
func (u *orderUC) redeemCoupon(ctx context.Context, tx repository.Tx, p *model.Purchase) (*model.Coupon, error) {
	c, err := u.coupons.FindByCode(ctx, tx, *p.CouponCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			u.log.Warn().Str("purchase_id", p.ID).Str("coupon", *p.CouponCode).Msg("coupon vanished before completion")
			return nil, nil
		}
		return nil, err
	}
	inserted, err := u.coupons.RecordUsage(ctx, tx, &model.CouponUsage{
		ID:         ulid.Make().String(),
		CouponID:   c.ID,
		UserID:     p.UserID,
		PurchaseID: p.ID,
		UsedAt:     u.now(),
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		u.log.Warn().Str("purchase_id", p.ID).Str("coupon", c.Code).Msg("coupon already redeemed by user; usage not counted twice")
		return nil, nil
	}
	if c.Exhausted() {
		// priced while a use was still left; the discount stands
		u.log.Warn().Str("purchase_id", p.ID).Str("coupon", c.Code).Int("uses", c.CurrentUses).Msg("coupon redeemed past max uses")
	}
	if err := u.coupons.IncrementUses(ctx, tx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

func (u *orderUC) afterTransition(ctx context.Context, p *model.Purchase, from model.PaymentStatus, redeemed *model.Coupon) {
	to := p.PaymentStatus
	metrics.IncTransition(string(from), string(to))
	u.log.Info().Str("purchase_id", p.ID).Str("from", string(from)).Str("to", string(to)).Msg("purchase status changed")
	if !to.IsTerminal() {
		return
	}

	metrics.IncSettled(string(to))
	if to == model.PaymentStatusCompleted {
		amount, _ := p.TotalAmount.Float64()
		metrics.AddSettledRevenue(p.Currency, amount)
	}
	if redeemed != nil {
		metrics.IncCouponRedemption(string(redeemed.DiscountType))
	}
	u.publish(ctx, purchaseEvent(p, u.now()))
}

func (u *orderUC) publish(ctx context.Context, ev adapter.PurchaseEvent) {
	if u.events == nil {
		return
	}
	if err := u.events.Publish(ctx, ev); err != nil {
		u.log.Error().Err(err).Str("purchase_id", ev.PurchaseID).Str("event", string(ev.Type)).Msg("publish purchase event")
	}
}

func purchaseEvent(p *model.Purchase, at time.Time) adapter.PurchaseEvent {
	ev := adapter.PurchaseEvent{
		PurchaseID:  p.ID,
		UserID:      p.UserID,
		TotalAmount: p.TotalAmount.StringFixed(2),
		Currency:    p.Currency,
		OccurredAt:  at,
	}
	switch p.PaymentStatus {
	case model.PaymentStatusCompleted:
		ev.Type = adapter.PurchaseCompleted
	case model.PaymentStatusFailed:
		ev.Type = adapter.PurchaseFailed
	default:
		ev.Type = adapter.PurchaseCancelled
	}
	if p.GatewayOrderID != nil {
		ev.GatewayOrderID = *p.GatewayOrderID
	}
	if p.GatewayPaymentID != nil {
		ev.GatewayPaymentID = *p.GatewayPaymentID
	}
	if p.CouponCode != nil {
		ev.CouponCode = *p.CouponCode
	}
	return ev
}

func (u *orderUC) GetDetails(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	defer logging.TraceDuration(u.log, "OrderUC.GetDetails")()
	if purchaseID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.purchases.FindByID(ctx, repository.NoTX, purchaseID)
}

func (u *orderUC) FindByGatewayOrder(ctx context.Context, gatewayOrderID string) (*model.Purchase, error) {
	if gatewayOrderID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.purchases.FindByGatewayOrderID(ctx, repository.NoTX, gatewayOrderID)
}

func (u *orderUC) IsPayable(p *model.Purchase) bool {
	return p.IsPayable(u.now())
}

func (u *orderUC) CleanupExpired(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, domain.ErrAuthRequired
	}
	return u.cancelExpired(ctx, userID, 0)
}

func (u *orderUC) CleanupAllExpired(ctx context.Context, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "OrderUC.CleanupAllExpired")()
	return u.cancelExpired(ctx, "", limit)
}

func (u *orderUC) cancelExpired(ctx context.Context, userID string, limit int) (int, error) {
	now := u.now()
	ids, err := u.purchases.CancelExpired(ctx, repository.NoTX, userID, now, limit)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		metrics.IncTransition(string(model.PaymentStatusPending), string(model.PaymentStatusCancelled))
		metrics.IncSettled(string(model.PaymentStatusCancelled))
		u.publish(ctx, adapter.PurchaseEvent{
			Type:       adapter.PurchaseCancelled,
			PurchaseID: id,
			UserID:     userID,
			OccurredAt: now,
		})
	}
	if len(ids) > 0 {
		metrics.AddExpiredSwept(len(ids))
		u.log.Info().Int("count", len(ids)).Str("user_id", userID).Msg("expired purchases cancelled")
	}
	return len(ids), nil
}

func (u *orderUC) Reissue(ctx context.Context, userID, purchaseID string) (*OrderData, error) {
	defer logging.TraceDuration(u.log, "OrderUC.Reissue")()

	if userID == "" {
		return nil, domain.ErrAuthRequired
	}
	old, err := u.purchases.FindByID(ctx, repository.NoTX, purchaseID)
	if err != nil {
		return nil, err
	}
	if old.UserID != userID {
		return nil, domain.ErrNotFound
	}
	now := u.now()

	switch {
	case old.IsPayable(now) && old.GatewayOrderID != nil:
		return u.orderData(old, ""), nil
	case old.PaymentStatus != model.PaymentStatusCancelled:
		return nil, domain.ErrNotPayable
	case old.IsExpired(now):
		return nil, domain.ErrOrderExpired
	}

	if live, err := u.purchases.FindLiveByCartHash(ctx, repository.NoTX, userID, old.CartHash, now); err == nil && live != nil && live.GatewayOrderID != nil {
		return u.orderData(live, ""), nil
	}

	np := &model.Purchase{
		UserID:         old.UserID,
		TotalAmount:    old.TotalAmount,
		TaxRate:        old.TaxRate,
		Currency:       old.Currency,
		PaymentStatus:  model.PaymentStatusPending,
		ExpiresAt:      now.Add(u.opts.OrderTTL),
		CouponCode:     old.CouponCode,
		CouponDiscount: old.CouponDiscount,
		GSTNumber:      old.GSTNumber,
		CartHash:       old.CartHash,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	np.ID = uuid.NewString()
	np.Items = old.CloneItems(np.ID)

	err = u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		return u.purchases.Create(ctx, tx, np)
	})
	if err != nil {
		return nil, err
	}
	metrics.IncPurchaseCreated("reissued")
	u.log.Info().Str("purchase_id", np.ID).Str("reissued_from", old.ID).Msg("purchase reissued")
	return u.attachGatewayOrder(ctx, np, "")
}

func (u *orderUC) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Purchase, error) {
	if userID == "" {
		return nil, domain.ErrAuthRequired
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return u.purchases.ListByUser(ctx, repository.NoTX, userID, limit)
}
