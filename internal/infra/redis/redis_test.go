//go:build !integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"ai-reseller-checkout/internal/config"
	"ai-reseller-checkout/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNewClient_AcceptsURLAndAddr(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	for _, url := range []string{mr.Addr(), "redis://" + mr.Addr() + "/0"} {
		c, err := NewClient(ctx, config.RedisConfig{URL: url})
		if err != nil {
			t.Fatalf("NewClient(%q): %v", url, err)
		}
		if err := c.Ping(ctx); err != nil {
			t.Fatal(err)
		}
		_ = c.Close()
	}
}

func TestRedisLocker(t *testing.T) {
	c, mr := newTestClient(t)
	l := NewLocker(c)
	ctx := context.Background()

	token, err := l.TryLock(ctx, "lock:purchase:p1", time.Minute)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	if _, err := l.TryLock(ctx, "lock:purchase:p1", time.Minute); !errors.Is(err, domain.ErrLockBusy) {
		t.Fatalf("expected ErrLockBusy, got %v", err)
	}

	if err := l.Unlock(ctx, "lock:purchase:p1", "someone-else"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("lock:purchase:p1") {
		t.Fatal("a foreign token must not release the lock")
	}

	if err := l.Unlock(ctx, "lock:purchase:p1", token); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("lock:purchase:p1") {
		t.Fatal("expected lock to be released")
	}
	if _, err := l.TryLock(ctx, "lock:purchase:p1", time.Minute); err != nil {
		t.Fatalf("expected lock to be free again, got %v", err)
	}
}

func TestRedisLocker_ExpiresWithTTL(t *testing.T) {
	c, mr := newTestClient(t)
	l := NewLocker(c)
	ctx := context.Background()

	if _, err := l.TryLock(ctx, "k", time.Second); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Second)
	if _, err := l.TryLock(ctx, "k", time.Second); err != nil {
		t.Fatalf("expected expired lock to be acquirable, got %v", err)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	c, mr := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()
	key := UserRouteKey("user-1", "coupons.validate")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: want allowed, got %v %v", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Fatal("fourth request in the window must be refused")
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); !ok {
		t.Fatal("expected a fresh window")
	}
}

func TestCartClearer_Clear(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	if err := mr.Set(CartKey("user-1"), `[{"id":"svc-1"}]`); err != nil {
		t.Fatal(err)
	}
	if err := mr.Set(CartKey("user-2"), `[]`); err != nil {
		t.Fatal(err)
	}

	cc := NewCartClearer(c)
	if err := cc.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mr.Exists(CartKey("user-1")) {
		t.Fatal("cart should be gone")
	}
	if !mr.Exists(CartKey("user-2")) {
		t.Fatal("other carts must stay")
	}
	if err := cc.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("clearing a missing cart is not an error: %v", err)
	}
	if err := cc.Clear(ctx, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
