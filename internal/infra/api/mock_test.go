//go:build !integration

package api

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/infra/payment"
	"ai-reseller-checkout/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type mockOrderUC struct {
	CreateOrderFunc  func(ctx context.Context, in usecase.CreateOrderInput) (*usecase.OrderData, error)
	UpdateStatusFunc func(ctx context.Context, id string, status model.PaymentStatus, pid, method *string) (*model.Purchase, error)
	GetDetailsFunc   func(ctx context.Context, id string) (*model.Purchase, error)
	FindByOrderFunc  func(ctx context.Context, orderID string) (*model.Purchase, error)
	ReissueFunc      func(ctx context.Context, userID, purchaseID string) (*usecase.OrderData, error)
	ListByUserFunc   func(ctx context.Context, userID string, limit int) ([]*model.Purchase, error)
}

func (m *mockOrderUC) CreateOrder(ctx context.Context, in usecase.CreateOrderInput) (*usecase.OrderData, error) {
	return m.CreateOrderFunc(ctx, in)
}

func (m *mockOrderUC) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus, pid, method *string) (*model.Purchase, error) {
	return m.UpdateStatusFunc(ctx, id, status, pid, method)
}

func (m *mockOrderUC) GetDetails(ctx context.Context, id string) (*model.Purchase, error) {
	if m.GetDetailsFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.GetDetailsFunc(ctx, id)
}

func (m *mockOrderUC) FindByGatewayOrder(ctx context.Context, orderID string) (*model.Purchase, error) {
	if m.FindByOrderFunc == nil {
		return nil, domain.ErrNotFound
	}
	return m.FindByOrderFunc(ctx, orderID)
}

func (m *mockOrderUC) IsPayable(p *model.Purchase) bool { return p.IsPayable(time.Now()) }

func (m *mockOrderUC) CleanupExpired(ctx context.Context, userID string) (int, error) { return 0, nil }

func (m *mockOrderUC) CleanupAllExpired(ctx context.Context, limit int) (int, error) { return 0, nil }

func (m *mockOrderUC) Reissue(ctx context.Context, userID, purchaseID string) (*usecase.OrderData, error) {
	return m.ReissueFunc(ctx, userID, purchaseID)
}

func (m *mockOrderUC) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Purchase, error) {
	return m.ListByUserFunc(ctx, userID, limit)
}

type mockCouponUC struct {
	ValidateFunc func(ctx context.Context, code, userID string, cart []model.CartItem) usecase.CouponResult
}

func (m *mockCouponUC) Validate(ctx context.Context, code, userID string, cart []model.CartItem) usecase.CouponResult {
	return m.ValidateFunc(ctx, code, userID, cart)
}

func (m *mockCouponUC) Create(ctx context.Context, c *model.Coupon) error { return nil }

type mockVerifyUC struct {
	VerifyFunc        func(ctx context.Context, in usecase.VerifyInput) (*usecase.VerifyResult, error)
	HandleWebhookFunc func(ctx context.Context, body []byte, signature string) error
}

func (m *mockVerifyUC) Verify(ctx context.Context, in usecase.VerifyInput) (*usecase.VerifyResult, error) {
	return m.VerifyFunc(ctx, in)
}

func (m *mockVerifyUC) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	return m.HandleWebhookFunc(ctx, body, signature)
}

func (m *mockVerifyUC) Reconcile(ctx context.Context, p *model.Purchase) (bool, error) {
	return false, nil
}

type mockBridge struct {
	delivered map[string]payment.BridgeMessage
	opts      map[string]adapter.WidgetOptions
}

func newMockBridge() *mockBridge {
	return &mockBridge{delivered: map[string]payment.BridgeMessage{}, opts: map[string]adapter.WidgetOptions{}}
}

func (m *mockBridge) Deliver(orderID string, msg payment.BridgeMessage) error {
	if _, ok := m.opts[orderID]; !ok {
		return domain.ErrNotFound
	}
	m.delivered[orderID] = msg
	return nil
}

func (m *mockBridge) Options(orderID string) (adapter.WidgetOptions, bool) {
	o, ok := m.opts[orderID]
	return o, ok
}

type mockLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.keys = append(m.keys, key)
	return m.allow, m.err
}

// stubWidget opens sessions that end only when their context is cancelled.
type stubWidget struct {
	mu     sync.Mutex
	opened []adapter.WidgetOptions
}

func (w *stubWidget) Load(ctx context.Context) error { return nil }

func (w *stubWidget) Open(ctx context.Context, opts adapter.WidgetOptions) (<-chan adapter.WidgetEvent, error) {
	w.mu.Lock()
	w.opened = append(w.opened, opts)
	w.mu.Unlock()
	ch := make(chan adapter.WidgetEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
