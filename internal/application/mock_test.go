//go:build !integration

package application_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// fakeOrders keeps purchases in memory and enforces the same status gate as the order use case.
type fakeOrders struct {
	mu        sync.Mutex
	seq       int
	purchases map[string]*model.Purchase
	statuses  []model.PaymentStatus
	reissued  []string
	gets      int

	CreateOrderFunc func(ctx context.Context, in usecase.CreateOrderInput) (*usecase.OrderData, error)
	UpdateErr       error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{purchases: make(map[string]*model.Purchase)}
}

func (f *fakeOrders) newPurchase(userID string) *model.Purchase {
	f.seq++
	order := fmt.Sprintf("order_%d", f.seq)
	p := &model.Purchase{
		ID:             fmt.Sprintf("p-%d", f.seq),
		UserID:         userID,
		TotalAmount:    decimal.RequireFromString("944"),
		Currency:       "INR",
		PaymentStatus:  model.PaymentStatusPending,
		GatewayOrderID: &order,
		ExpiresAt:      time.Now().Add(15 * time.Minute),
	}
	f.purchases[p.ID] = p
	return p
}

func orderData(p *model.Purchase) *usecase.OrderData {
	return &usecase.OrderData{
		Success:          true,
		PurchaseID:       p.ID,
		GatewayOrderID:   *p.GatewayOrderID,
		Amount:           usecase.MinorUnits(p.TotalAmount),
		Currency:         p.Currency,
		GatewayPublicKey: "rzp_test_key",
		ExpiresAt:        p.ExpiresAt,
	}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, in usecase.CreateOrderInput) (*usecase.OrderData, error) {
	if f.CreateOrderFunc != nil {
		return f.CreateOrderFunc(ctx, in)
	}
	if len(in.Items) == 0 {
		return nil, domain.ErrEmptyCart
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return orderData(f.newPurchase(in.UserID)), nil
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, id string, status model.PaymentStatus, paymentID, method *string) (*model.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}
	p, ok := f.purchases[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !p.PaymentStatus.IsTerminal() && p.PaymentStatus != status {
		if !model.CanTransitionTo(p.PaymentStatus, status) {
			return nil, domain.ErrInvalidTransition
		}
		p.PaymentStatus = status
		if paymentID != nil {
			p.GatewayPaymentID = paymentID
		}
	}
	cp := *p
	return &cp, nil
}

func (f *fakeOrders) GetDetails(ctx context.Context, id string) (*model.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	p, ok := f.purchases[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeOrders) IsPayable(p *model.Purchase) bool { return p.IsPayable(time.Now()) }

func (f *fakeOrders) Reissue(ctx context.Context, userID, id string) (*usecase.OrderData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.purchases[id]
	if !ok || old.UserID != userID {
		return nil, domain.ErrNotFound
	}
	if old.PaymentStatus != model.PaymentStatusCancelled {
		return nil, domain.ErrNotPayable
	}
	f.reissued = append(f.reissued, id)
	return orderData(f.newPurchase(userID)), nil
}

// settle moves a purchase straight to a terminal status, as the verifier or a webhook would.
func (f *fakeOrders) settle(id string, status model.PaymentStatus) *model.Purchase {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.purchases[id]
	p.PaymentStatus = status
	if status == model.PaymentStatusCompleted {
		pay := "pay_" + id
		p.GatewayPaymentID = &pay
	}
	cp := *p
	return &cp
}

func (f *fakeOrders) status(id string) model.PaymentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purchases[id].PaymentStatus
}

func (f *fakeOrders) requested() []model.PaymentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PaymentStatus(nil), f.statuses...)
}

func (f *fakeOrders) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

type mockVerifier struct {
	VerifyFunc func(ctx context.Context, in usecase.VerifyInput) (*usecase.VerifyResult, error)
	calls      atomic.Int32
}

func (m *mockVerifier) Verify(ctx context.Context, in usecase.VerifyInput) (*usecase.VerifyResult, error) {
	m.calls.Add(1)
	return m.VerifyFunc(ctx, in)
}

// fakeWidget hands out one channel per opened order; tests push the widget outcome with emit.
type fakeWidget struct {
	mu       sync.Mutex
	LoadErr  error
	OpenErr  error
	loads    int
	opened   []adapter.WidgetOptions
	sessions map[string]*fakeSession
}

type fakeSession struct {
	ch        chan adapter.WidgetEvent
	once      sync.Once
	cancelled atomic.Bool
}

func (s *fakeSession) finish(ev *adapter.WidgetEvent) {
	s.once.Do(func() {
		if ev != nil {
			s.ch <- *ev
		}
		close(s.ch)
	})
}

func newFakeWidget() *fakeWidget {
	return &fakeWidget{sessions: make(map[string]*fakeSession)}
}

func (w *fakeWidget) Load(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loads++
	return w.LoadErr
}

func (w *fakeWidget) Open(ctx context.Context, opts adapter.WidgetOptions) (<-chan adapter.WidgetEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.OpenErr != nil {
		return nil, w.OpenErr
	}
	s := &fakeSession{ch: make(chan adapter.WidgetEvent, 1)}
	w.sessions[opts.OrderID] = s
	w.opened = append(w.opened, opts)
	go func() {
		<-ctx.Done()
		s.cancelled.Store(true)
		s.finish(nil)
	}()
	return s.ch, nil
}

func (w *fakeWidget) emit(orderID string, ev adapter.WidgetEvent) {
	w.mu.Lock()
	s := w.sessions[orderID]
	w.mu.Unlock()
	s.finish(&ev)
}

func (w *fakeWidget) session(orderID string) *fakeSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessions[orderID]
}

func (w *fakeWidget) openedOptions() []adapter.WidgetOptions {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]adapter.WidgetOptions(nil), w.opened...)
}

type mockCart struct {
	clears atomic.Int32
}

func (m *mockCart) Clear(ctx context.Context, userID string) error {
	m.clears.Add(1)
	return nil
}
