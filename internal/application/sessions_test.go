//go:build !integration

package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-reseller-checkout/internal/application"
	"ai-reseller-checkout/internal/domain"
)

func newSessions(t *testing.T, idle time.Duration) (*application.Sessions, *fakeOrders) {
	t.Helper()
	orders := newFakeOrders()
	widget := newFakeWidget()
	s := application.NewSessions(func(cb application.Callbacks) *application.Checkout {
		return application.NewCheckout(orders, &mockVerifier{}, widget, &mockCart{}, cb, application.Options{PollInterval: time.Hour}, newTestLogger())
	}, idle, newTestLogger())
	t.Cleanup(s.Close)
	return s, orders
}

func TestSessions_OnePerUser(t *testing.T) {
	s, _ := newSessions(t, time.Hour)

	a := s.Get("user-1")
	if s.Get("user-1") != a {
		t.Fatal("same user must get the same checkout")
	}
	if s.Get("user-2") == a {
		t.Fatal("users must not share a checkout")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", s.Len())
	}

	if !s.Drop("user-1") {
		t.Fatal("drop should report an existing session")
	}
	if _, err := a.CreateOrder(context.Background(), testUser, testCart, nil, nil); !errors.Is(err, application.ErrClosed) {
		t.Fatalf("dropped checkout must be closed, got %v", err)
	}
	if _, ok := s.View("user-1"); ok {
		t.Fatal("dropped session must not be visible")
	}
}

func TestSessions_RecordsOutcome(t *testing.T) {
	s, _ := newSessions(t, time.Hour)
	c := s.Get("user-1")

	_ = c.ProcessPayment(context.Background(), nil, testUser, testDetails)

	eventually(t, func() bool {
		v, ok := s.View("user-1")
		return ok && v.Outcome != nil
	}, "outcome should be recorded")
	v, _ := s.View("user-1")
	if v.Outcome.Kind != "failure" || v.Outcome.Message != domain.ErrInvalidOrderData.Error() {
		t.Fatalf("unexpected outcome %+v", v.Outcome)
	}
	if v.State.Error == "" {
		t.Fatal("state should carry the error")
	}
}

func TestSessions_RunClosesIdle(t *testing.T) {
	s, _ := newSessions(t, 5*time.Millisecond)
	c := s.Get("user-1")
	time.Sleep(20 * time.Millisecond)

	n, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || s.Len() != 0 {
		t.Fatalf("expected the idle session to be closed, closed=%d left=%d", n, s.Len())
	}
	if _, err := c.GetPurchase(context.Background(), "p-1"); !errors.Is(err, application.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if s.Name() != "checkout_session_gc" {
		t.Fatalf("unexpected job name %q", s.Name())
	}
}
