//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/domain/ports/repository"
	"ai-reseller-checkout/internal/usecase"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func now() time.Time { return time.Now().Truncate(time.Millisecond) }

var taxRate = decimal.RequireFromString("0.18")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func item(id, price string) model.CartItem {
	return model.CartItem{ID: id, Name: "Item " + id, Price: dec(price), Type: model.ItemTypeService}
}

func monthly(id, price string) model.CartItem {
	it := item(id, price)
	bp := model.BillingMonthly
	it.BillingPeriod = &bp
	return it
}

func clonePurchase(p *model.Purchase) *model.Purchase {
	cp := *p
	cp.Items = append([]model.PurchaseItem(nil), p.Items...)
	return &cp
}

// =============================
// Repositories
// =============================

// ---- Mock PurchaseRepository ----

type MockPurchaseRepo struct {
	mu   sync.Mutex
	data map[string]*model.Purchase

	CreateFunc       func(ctx context.Context, tx repository.Tx, p *model.Purchase) error
	UpdateStatusFunc func(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, paymentID, method *string) error

	StatusWrites int
}

var _ repository.PurchaseRepository = (*MockPurchaseRepo)(nil)

func NewMockPurchaseRepo() *MockPurchaseRepo {
	return &MockPurchaseRepo{data: map[string]*model.Purchase{}}
}

// Seed stores p as-is, bypassing the use case.
func (r *MockPurchaseRepo) Seed(p *model.Purchase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[p.ID] = clonePurchase(p)
}

func (r *MockPurchaseRepo) Get(id string) *model.Purchase {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil
	}
	return clonePurchase(p)
}

// Mutate edits the stored row in place.
func (r *MockPurchaseRepo) Mutate(id string, fn func(p *model.Purchase)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		fn(p)
	}
}

func (r *MockPurchaseRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *MockPurchaseRepo) Create(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	r.data[p.ID] = clonePurchase(p)
	return nil
}

func (r *MockPurchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (r *MockPurchaseRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, gatewayOrderID string) (*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.GatewayOrderID != nil && *p.GatewayOrderID == gatewayOrderID {
			return clonePurchase(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPurchaseRepo) FindLiveByCartHash(ctx context.Context, tx repository.Tx, userID, cartHash string, now time.Time) (*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.data {
		if p.UserID == userID && p.CartHash == cartHash && p.IsPayable(now) {
			return clonePurchase(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPurchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Purchase
	for _, p := range r.data {
		if p.UserID == userID {
			out = append(out, clonePurchase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPurchaseRepo) ListProcessingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Purchase
	for _, p := range r.data {
		if p.PaymentStatus == model.PaymentStatusProcessing && p.UpdatedAt.Before(olderThan) {
			out = append(out, clonePurchase(p))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPurchaseRepo) SetGatewayOrder(ctx context.Context, tx repository.Tx, id, gatewayOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.GatewayOrderID = &gatewayOrderID
	return nil
}

func (r *MockPurchaseRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus, paymentID, method *string) error {
	if r.UpdateStatusFunc != nil {
		return r.UpdateStatusFunc(ctx, tx, id, status, paymentID, method)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.StatusWrites++
	p.PaymentStatus = status
	if paymentID != nil {
		p.GatewayPaymentID = paymentID
	}
	if method != nil {
		p.PaymentMethod = method
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (r *MockPurchaseRepo) CancelExpired(ctx context.Context, tx repository.Tx, userID string, now time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, p := range r.data {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if userID != "" && p.UserID != userID {
			continue
		}
		if p.PaymentStatus == model.PaymentStatusPending && p.IsExpired(now) {
			p.PaymentStatus = model.PaymentStatusCancelled
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// ---- Mock CouponRepository ----

type MockCouponRepo struct {
	mu      sync.Mutex
	coupons map[string]*model.Coupon
	usages  map[string]*model.CouponUsage

	FindByCodeFunc func(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error)
}

var _ repository.CouponRepository = (*MockCouponRepo)(nil)

func NewMockCouponRepo() *MockCouponRepo {
	return &MockCouponRepo{coupons: map[string]*model.Coupon{}, usages: map[string]*model.CouponUsage{}}
}

func usageKey(couponID, userID string) string { return couponID + "|" + userID }

func (r *MockCouponRepo) Save(ctx context.Context, tx repository.Tx, c *model.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	r.coupons[c.Code] = &cp
	return nil
}

func (r *MockCouponRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
	if r.FindByCodeFunc != nil {
		return r.FindByCodeFunc(ctx, tx, code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MockCouponRepo) HasUsage(ctx context.Context, tx repository.Tx, couponID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.usages[usageKey(couponID, userID)]
	return ok, nil
}

func (r *MockCouponRepo) RecordUsage(ctx context.Context, tx repository.Tx, u *model.CouponUsage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := usageKey(u.CouponID, u.UserID)
	if _, ok := r.usages[k]; ok {
		return false, nil
	}
	cp := *u
	r.usages[k] = &cp
	return true, nil
}

func (r *MockCouponRepo) IncrementUses(ctx context.Context, tx repository.Tx, couponID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.coupons {
		if c.ID == couponID {
			c.CurrentUses++
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *MockCouponRepo) Uses(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.coupons[code]; ok {
		return c.CurrentUses
	}
	return -1
}

func (r *MockCouponRepo) UsageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.usages)
}

// seedCoupon stores a coupon that is valid from an hour ago.
func (r *MockCouponRepo) seedCoupon(code string, typ model.DiscountType, value string, maxUses *int) *model.Coupon {
	c, err := model.NewCoupon(code, typ, dec(value), nil, maxUses, time.Now().Add(-time.Hour), nil)
	if err != nil {
		panic(err)
	}
	_ = r.Save(context.Background(), repository.NoTX, c)
	return c
}

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	mu       sync.Mutex
	seq      int
	Orders   []adapter.OrderRequest
	Payments map[string]adapter.GatewayPayment

	CreateOrderFunc   func(ctx context.Context, req adapter.OrderRequest) (adapter.GatewayOrder, error)
	FetchPaymentFunc  func(ctx context.Context, paymentID string) (adapter.GatewayPayment, error)
	OrderPaymentsFunc func(ctx context.Context, orderID string) ([]adapter.GatewayPayment, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{Payments: map[string]adapter.GatewayPayment{}}
}

func (m *MockPaymentGateway) Name() string      { return "mock" }
func (m *MockPaymentGateway) PublicKey() string { return "rzp_test_public" }

func (m *MockPaymentGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (adapter.GatewayOrder, error) {
	m.mu.Lock()
	m.Orders = append(m.Orders, req)
	m.seq++
	n := m.seq
	m.mu.Unlock()
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	return adapter.GatewayOrder{ID: fmt.Sprintf("order_%d", n), Amount: req.Amount, Currency: req.Currency, Status: "created"}, nil
}

// Capture registers a settled payment for orderID, as the gateway would after a successful widget session.
func (m *MockPaymentGateway) Capture(orderID, paymentID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payments[paymentID] = adapter.GatewayPayment{
		ID: paymentID, OrderID: orderID, Amount: amount, Currency: "INR",
		Status: adapter.GatewayPaymentCaptured, Method: "upi", CreatedAt: time.Now(),
	}
}

func (m *MockPaymentGateway) FetchPayment(ctx context.Context, paymentID string) (adapter.GatewayPayment, error) {
	if m.FetchPaymentFunc != nil {
		return m.FetchPaymentFunc(ctx, paymentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Payments[paymentID]
	if !ok {
		return adapter.GatewayPayment{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *MockPaymentGateway) OrderPayments(ctx context.Context, orderID string) ([]adapter.GatewayPayment, error) {
	if m.OrderPaymentsFunc != nil {
		return m.OrderPaymentsFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []adapter.GatewayPayment
	for _, p := range m.Payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

// ---- Mock SignatureVerifier ----

// MockSigner accepts signatures produced by sign and the webhook signature "whsig".
type MockSigner struct{}

var _ adapter.SignatureVerifier = MockSigner{}

func sign(orderID, paymentID string) string { return "sig:" + orderID + "|" + paymentID }

func (MockSigner) VerifyPayment(orderID, paymentID, signature string) bool {
	return signature == sign(orderID, paymentID)
}

func (MockSigner) VerifyWebhook(body []byte, signature string) bool {
	return signature == "whsig"
}

// ---- Mock EventPublisher ----

type MockPublisher struct {
	mu     sync.Mutex
	Events []adapter.PurchaseEvent
}

var _ adapter.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, ev adapter.PurchaseEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) Count(t adapter.PurchaseEventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.Events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

var _ adapter.Locker = (*MockLocker)(nil)

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, bad := l.ErrOn[key]; bad {
		return "", err
	}
	if tok, ok := l.held[key]; ok && tok != "" {
		return "", domain.ErrLockBusy
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		return nil
	}
	return errors.New("unlock token mismatch")
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Wiring
// =============================

type checkoutDeps struct {
	purchases *MockPurchaseRepo
	coupons   *MockCouponRepo
	tm        *MockTxManager
	gateway   *MockPaymentGateway
	events    *MockPublisher
	locker    *MockLocker

	couponUC usecase.CouponUseCase
	orderUC  usecase.OrderUseCase
	verifyUC usecase.VerifyUseCase
}

func newCheckoutDeps() *checkoutDeps {
	d := &checkoutDeps{
		purchases: NewMockPurchaseRepo(),
		coupons:   NewMockCouponRepo(),
		tm:        NewMockTxManager(),
		gateway:   NewMockPaymentGateway(),
		events:    &MockPublisher{},
		locker:    NewMockLocker(),
	}
	log := newTestLogger()
	d.couponUC = usecase.NewCouponUseCase(d.coupons, log)
	d.orderUC = usecase.NewOrderUseCase(d.purchases, d.coupons, d.tm, d.couponUC, d.gateway, d.events,
		usecase.OrderOptions{TaxRate: taxRate, Currency: "INR", OrderTTL: 15 * time.Minute}, log)
	d.verifyUC = usecase.NewVerifyUseCase(d.orderUC, d.purchases, d.gateway, MockSigner{}, d.locker,
		usecase.VerifyOptions{LockTTL: time.Minute, LockWait: 300 * time.Millisecond}, log)
	return d
}

// openOrder creates an order and moves it to processing, as the checkout widget would.
func (d *checkoutDeps) openOrder(ctx context.Context, userID string, items []model.CartItem, coupon *string) *usecase.OrderData {
	od, err := d.orderUC.CreateOrder(ctx, usecase.CreateOrderInput{UserID: userID, Items: items, CouponCode: coupon})
	if err != nil {
		panic(err)
	}
	if _, err := d.orderUC.UpdateStatus(ctx, od.PurchaseID, model.PaymentStatusProcessing, nil, nil); err != nil {
		panic(err)
	}
	return od
}
