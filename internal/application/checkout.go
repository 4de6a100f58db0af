package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/infra/logging"
	"ai-reseller-checkout/internal/usecase"
)

var ErrClosed = errors.New("checkout closed")

// UserContext is the caller's identity. Both fields are required for every operation.
type UserContext struct {
	UserID      string
	AccessToken string
}

func (u UserContext) authenticated() bool { return u.UserID != "" && u.AccessToken != "" }

// UserDetails prefills the payment widget.
type UserDetails struct {
	Name    string
	Email   string
	Contact string
}

// Callbacks run one at a time, in order, on a dedicated goroutine. Any of them may be nil.
type Callbacks struct {
	OnSuccess func(p *model.Purchase)
	OnFailure func(msg string)
	OnCancel  func()
}

type Options struct {
	PollInterval  time.Duration
	WidgetTimeout time.Duration
	WidgetRetries int
	VerifyTimeout time.Duration
	// GatewayKey is the public key used when a payment is resumed from a stored purchase.
	GatewayKey   string
	MerchantName string
	ThemeColor   string
}

// State is the reactive snapshot exposed to the UI. CurrentPurchase must be treated as read-only.
type State struct {
	IsLoading       bool
	IsProcessing    bool
	CurrentPurchase *model.Purchase
	PaymentStatus   model.PaymentStatus
	Error           string
	Warning         string
}

type session struct {
	purchaseID string
	events     <-chan adapter.WidgetEvent
	cancel     context.CancelFunc
}

const requestTimeout = 15 * time.Second

// Checkout drives one user's checkout. All state changes go through a single event loop; see transition.
type Checkout struct {
	orders   OrderService
	verifier PaymentVerifier
	widget   adapter.CheckoutWidget
	cart     adapter.CartClearer
	cb       Callbacks
	opts     Options
	log      *zerolog.Logger

	gen    atomic.Uint64
	events chan event
	notify chan func()
	root   context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once

	mu    sync.RWMutex
	state State

	// owned by the loop goroutine
	pending    []func()
	pollID     string
	pollCancel context.CancelFunc
	active     *session
	cleared    map[string]struct{}
}

func NewCheckout(
	orders OrderService,
	verifier PaymentVerifier,
	widget adapter.CheckoutWidget,
	cart adapter.CartClearer,
	cb Callbacks,
	opts Options,
	logger *zerolog.Logger,
) *Checkout {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.WidgetTimeout <= 0 {
		opts.WidgetTimeout = 15 * time.Minute
	}
	if opts.WidgetRetries < 0 {
		opts.WidgetRetries = 0
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 30 * time.Second
	}
	l := logger.With().Str("component", "checkout").Logger()

	root, cancel := context.WithCancel(context.Background())
	c := &Checkout{
		orders:   orders,
		verifier: verifier,
		widget:   widget,
		cart:     cart,
		cb:       cb,
		opts:     opts,
		log:      &l,
		events:   make(chan event),
		notify:   make(chan func()),
		root:     root,
		cancel:   cancel,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		cleared:  make(map[string]struct{}),
	}
	go c.loop()
	go c.notifier()
	return c
}

// State returns the latest snapshot.
func (c *Checkout) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ExpiresIn is the remaining payment window of the current purchase, zero when there is none.
func (c *Checkout) ExpiresIn(now time.Time) time.Duration {
	return c.State().CurrentPurchase.ExpiresIn(now)
}

// CreateOrder prices the cart and opens a pending purchase. On failure the current purchase is left as it was.
func (c *Checkout) CreateOrder(ctx context.Context, user UserContext, cart []model.CartItem, couponCode, gstNumber *string) (*usecase.OrderData, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	gen := c.gen.Load()
	if !user.authenticated() {
		c.post(event{kind: evCreateFailed, gen: gen, err: domain.ErrAuthRequired})
		return nil, domain.ErrAuthRequired
	}
	ctx = logging.WithUserID(ctx, user.UserID)
	c.post(event{kind: evCreateStarted, gen: gen})

	od, err := c.orders.CreateOrder(ctx, usecase.CreateOrderInput{
		UserID:     user.UserID,
		Items:      cart,
		CouponCode: couponCode,
		GSTNumber:  gstNumber,
	})
	if err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Msg("create order failed")
		c.post(event{kind: evCreateFailed, gen: gen, err: err})
		return nil, err
	}
	p, err := c.orders.GetDetails(ctx, od.PurchaseID)
	if err != nil {
		c.post(event{kind: evCreateFailed, gen: gen, err: err})
		return nil, err
	}
	c.post(event{kind: evCreated, gen: gen, purchase: p, warning: od.CouponWarning})
	return od, nil
}

// ProcessPayment moves the purchase to processing and opens the widget. The outcome arrives through Callbacks.
func (c *Checkout) ProcessPayment(ctx context.Context, od *usecase.OrderData, user UserContext, details UserDetails) error {
	if c.closed() {
		return ErrClosed
	}
	gen := c.gen.Load()
	if od == nil || !od.Success || od.GatewayOrderID == "" || od.PurchaseID == "" {
		return c.reject(gen, nil, domain.ErrInvalidOrderData)
	}
	if !user.authenticated() {
		return c.reject(gen, nil, domain.ErrAuthRequired)
	}
	if !od.ExpiresAt.IsZero() && !time.Now().Before(od.ExpiresAt) {
		return c.reject(gen, nil, domain.ErrOrderExpired)
	}

	ctx = logging.WithPurchaseID(logging.WithUserID(ctx, user.UserID), od.PurchaseID)
	c.post(event{kind: evProcessStarted, gen: gen})

	if err := c.widget.Load(ctx); err != nil {
		return c.initFailed(ctx, gen, od.PurchaseID, err)
	}
	p, err := c.orders.UpdateStatus(ctx, od.PurchaseID, model.PaymentStatusProcessing, nil, nil)
	if err != nil {
		return c.initFailed(ctx, gen, od.PurchaseID, err)
	}
	if p.PaymentStatus != model.PaymentStatusProcessing {
		return c.reject(gen, p, domain.ErrNotPayable)
	}

	wctx, cancel := context.WithCancel(c.root)
	events, err := c.widget.Open(wctx, c.widgetOptions(od, details))
	if err != nil {
		cancel()
		return c.initFailed(ctx, gen, od.PurchaseID, err)
	}
	c.post(event{kind: evWidgetOpened, gen: gen, purchase: p, session: &session{
		purchaseID: p.ID,
		events:     events,
		cancel:     cancel,
	}})
	logging.With(ctx, c.log).Info().Str("gateway_order_id", od.GatewayOrderID).Msg("payment widget opened")
	return nil
}

// RetryPayment resumes payment of a stored purchase without re-pricing it.
// A dismissed purchase is reissued first so no row is reopened.
func (c *Checkout) RetryPayment(ctx context.Context, p *model.Purchase, user UserContext, details UserDetails) error {
	if c.closed() {
		return ErrClosed
	}
	gen := c.gen.Load()
	if p == nil || p.GatewayOrderID == nil || *p.GatewayOrderID == "" {
		return c.reject(gen, nil, domain.ErrInvalidOrderData)
	}
	if !user.authenticated() {
		return c.reject(gen, nil, domain.ErrAuthRequired)
	}

	cur, err := c.orders.GetDetails(ctx, p.ID)
	if err != nil {
		return c.reject(gen, nil, err)
	}
	if c.orders.IsPayable(cur) && cur.GatewayOrderID != nil {
		return c.ProcessPayment(ctx, &usecase.OrderData{
			Success:          true,
			PurchaseID:       cur.ID,
			GatewayOrderID:   *cur.GatewayOrderID,
			Amount:           usecase.MinorUnits(cur.TotalAmount),
			Currency:         cur.Currency,
			GatewayPublicKey: c.opts.GatewayKey,
			ExpiresAt:        cur.ExpiresAt,
		}, user, details)
	}

	od, err := c.orders.Reissue(ctx, user.UserID, cur.ID)
	if err != nil {
		return c.reject(gen, nil, err)
	}
	return c.ProcessPayment(ctx, od, user, details)
}

// GetPurchase reads the authoritative purchase and folds it into State when it is the current one.
func (c *Checkout) GetPurchase(ctx context.Context, purchaseID string) (*model.Purchase, error) {
	if c.closed() {
		return nil, ErrClosed
	}
	gen := c.gen.Load()
	p, err := c.orders.GetDetails(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	c.post(event{kind: evRefreshed, gen: gen, purchaseID: purchaseID, purchase: p})
	return p, nil
}

// Reset drops the current purchase, stops polling and tears the widget down.
// Results of calls still in flight are discarded when they arrive.
func (c *Checkout) Reset() {
	if c.closed() {
		return
	}
	c.post(event{kind: evReset, gen: c.gen.Add(1)})
}

// Close stops every goroutine owned by the checkout. Pending callbacks are dropped.
func (c *Checkout) Close() {
	c.once.Do(func() {
		close(c.quit)
		c.cancel()
		<-c.done
	})
}

func (c *Checkout) closed() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// post delivers ev and waits until its transition has been applied.
func (c *Checkout) post(ev event) {
	ev.ack = make(chan struct{})
	select {
	case c.events <- ev:
	case <-c.quit:
		return
	}
	select {
	case <-ev.ack:
	case <-c.quit:
	}
}

// send delivers ev from a background effect without waiting.
func (c *Checkout) send(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *Checkout) reject(gen uint64, p *model.Purchase, err error) error {
	c.post(event{kind: evInitFailed, gen: gen, purchase: p, err: err})
	return err
}

func (c *Checkout) initFailed(ctx context.Context, gen uint64, purchaseID string, cause error) error {
	log := logging.With(ctx, c.log)
	log.Error().Err(cause).Msg("payment initialisation failed")

	p, err := c.orders.UpdateStatus(context.WithoutCancel(ctx), purchaseID, model.PaymentStatusFailed, nil, nil)
	if err != nil {
		log.Warn().Err(err).Msg("mark purchase failed")
		p = nil
	}
	return c.reject(gen, p, cause)
}

func (c *Checkout) widgetOptions(od *usecase.OrderData, d UserDetails) adapter.WidgetOptions {
	key := od.GatewayPublicKey
	if key == "" {
		key = c.opts.GatewayKey
	}
	return adapter.WidgetOptions{
		Key:            key,
		Amount:         od.Amount,
		Currency:       od.Currency,
		OrderID:        od.GatewayOrderID,
		Name:           c.opts.MerchantName,
		Description:    "Order " + od.PurchaseID,
		Prefill:        adapter.WidgetPrefill{Name: d.Name, Email: d.Email, Contact: d.Contact},
		Theme:          adapter.WidgetTheme{Color: c.opts.ThemeColor},
		TimeoutSeconds: int(c.opts.WidgetTimeout / time.Second),
		Retry:          adapter.WidgetRetry{Enabled: c.opts.WidgetRetries > 0, MaxCount: c.opts.WidgetRetries},
	}
}

func (c *Checkout) loop() {
	defer close(c.done)
	var m machine
	for {
		var (
			out  chan func()
			next func()
		)
		if len(c.pending) > 0 {
			out, next = c.notify, c.pending[0]
		}

		select {
		case <-c.quit:
			c.stopPolling()
			c.closeWidget()
			return
		case ev := <-c.events:
			var fx []effect
			m, fx = transition(m, ev)
			c.mu.Lock()
			c.state = m.State
			c.mu.Unlock()
			for _, f := range fx {
				c.execute(m.gen, f)
			}
			if ev.ack != nil {
				close(ev.ack)
			}
		case out <- next:
			c.pending = c.pending[1:]
		}
	}
}

func (c *Checkout) notifier() {
	for {
		select {
		case <-c.quit:
			return
		case fn := <-c.notify:
			fn()
		}
	}
}

func (c *Checkout) execute(gen uint64, f effect) {
	switch f.kind {
	case fxNotifySuccess:
		if c.cb.OnSuccess != nil {
			p := f.purchase
			c.pending = append(c.pending, func() { c.cb.OnSuccess(p) })
		}
	case fxNotifyFailure:
		if c.cb.OnFailure != nil {
			msg := f.msg
			c.pending = append(c.pending, func() { c.cb.OnFailure(msg) })
		}
	case fxNotifyCancel:
		if c.cb.OnCancel != nil {
			c.pending = append(c.pending, c.cb.OnCancel)
		}
	case fxStartPolling:
		c.startPolling(gen, f.purchaseID)
	case fxStopPolling:
		c.stopPolling()
	case fxWatchWidget:
		c.closeWidget()
		c.active = f.session
		go c.watch(gen, f.session)
	case fxCloseWidget:
		c.closeWidget()
	case fxDiscardSession:
		f.session.cancel()
	case fxVerify:
		go c.verifyPayment(gen, f.purchaseID, f.payment)
	case fxRefresh:
		go c.refresh(gen, f.purchaseID)
	case fxClosePurchase:
		go c.closePurchase(gen, f.purchaseID, f.status, f.msg)
	case fxClearCart:
		if _, done := c.cleared[f.purchaseID]; done || c.cart == nil {
			return
		}
		c.cleared[f.purchaseID] = struct{}{}
		go c.clearCart(f.userID, f.purchaseID)
	}
}

func (c *Checkout) startPolling(gen uint64, purchaseID string) {
	if c.pollCancel != nil && c.pollID == purchaseID {
		return
	}
	c.stopPolling()
	ctx, cancel := context.WithCancel(c.root)
	c.pollID, c.pollCancel = purchaseID, cancel
	go c.poll(ctx, gen, purchaseID)
}

func (c *Checkout) stopPolling() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel, c.pollID = nil, ""
	}
}

func (c *Checkout) closeWidget() {
	if c.active != nil {
		c.active.cancel()
		c.active = nil
	}
}

func (c *Checkout) poll(ctx context.Context, gen uint64, purchaseID string) {
	t := time.NewTicker(c.opts.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ctx.Err() != nil {
				return
			}
			rctx, cancel := context.WithTimeout(ctx, requestTimeout)
			p, err := c.orders.GetDetails(rctx, purchaseID)
			cancel()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				c.log.Warn().Err(err).Str("purchase_id", purchaseID).Msg("poll purchase")
				continue
			}
			c.send(event{kind: evRefreshed, gen: gen, purchaseID: purchaseID, purchase: p})
		}
	}
}

func (c *Checkout) watch(gen uint64, s *session) {
	for ev := range s.events {
		c.send(event{kind: evWidget, gen: gen, purchaseID: s.purchaseID, widget: ev})
	}
}

// verifyPayment is not cancelled by Reset or Close; a late result is dropped by its generation.
func (c *Checkout) verifyPayment(gen uint64, purchaseID string, pay adapter.PaymentCallback) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.root), c.opts.VerifyTimeout)
	defer cancel()
	ctx = logging.WithPurchaseID(ctx, purchaseID)

	res, err := c.verifier.Verify(ctx, usecase.VerifyInput{
		GatewayPaymentID: pay.GatewayPaymentID,
		GatewayOrderID:   pay.GatewayOrderID,
		Signature:        pay.Signature,
		PurchaseID:       purchaseID,
	})
	if err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Msg("payment verification failed")
	}
	c.send(event{kind: evVerified, gen: gen, purchaseID: purchaseID, verify: res, err: err})
}

func (c *Checkout) refresh(gen uint64, purchaseID string) {
	ctx, cancel := context.WithTimeout(c.root, requestTimeout)
	defer cancel()
	p, err := c.orders.GetDetails(ctx, purchaseID)
	if err != nil {
		c.log.Warn().Err(err).Str("purchase_id", purchaseID).Msg("refresh purchase")
		return
	}
	c.send(event{kind: evRefreshed, gen: gen, purchaseID: purchaseID, purchase: p})
}

func (c *Checkout) closePurchase(gen uint64, purchaseID string, status model.PaymentStatus, msg string) {
	ctx, cancel := context.WithTimeout(c.root, requestTimeout)
	defer cancel()
	p, err := c.orders.UpdateStatus(ctx, purchaseID, status, nil, nil)
	if err != nil {
		c.log.Error().Err(err).Str("purchase_id", purchaseID).Str("status", string(status)).Msg("close purchase")
	}
	c.send(event{kind: evClosed, gen: gen, purchaseID: purchaseID, purchase: p, err: err, msg: msg})
}

func (c *Checkout) clearCart(userID, purchaseID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.root), requestTimeout)
	defer cancel()
	if err := c.cart.Clear(ctx, userID); err != nil {
		c.log.Error().Err(err).Str("user_id", userID).Str("purchase_id", purchaseID).Msg("clear cart after completion")
	}
}
