//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/repository"
	"ai-reseller-checkout/internal/usecase"
)

func TestCouponUseCase_Validate_Rejections(t *testing.T) {
	ctx := context.Background()
	cart := []model.CartItem{item("a", "1000")}

	tests := []struct {
		name    string
		arrange func(r *MockCouponRepo) string
		want    *domain.CouponError
	}{
		{
			name:    "unknown code",
			arrange: func(r *MockCouponRepo) string { return "NOPE" },
			want:    domain.ErrCouponNotFound,
		},
		{
			name: "inactive coupon",
			arrange: func(r *MockCouponRepo) string {
				c := r.seedCoupon("OFF", model.DiscountPercentage, "10", nil)
				c.IsActive = false
				_ = r.Save(ctx, repository.NoTX, c)
				return "off"
			},
			want: domain.ErrCouponNotFound,
		},
		{
			name: "past validity window",
			arrange: func(r *MockCouponRepo) string {
				c := r.seedCoupon("OLD", model.DiscountPercentage, "10", nil)
				until := time.Now().Add(-time.Minute)
				c.ValidFrom = time.Now().Add(-48 * time.Hour)
				c.ValidUntil = &until
				_ = r.Save(ctx, repository.NoTX, c)
				return "OLD"
			},
			want: domain.ErrCouponExpired,
		},
		{
			name: "not yet valid",
			arrange: func(r *MockCouponRepo) string {
				c := r.seedCoupon("SOON", model.DiscountPercentage, "10", nil)
				c.ValidFrom = time.Now().Add(time.Hour)
				_ = r.Save(ctx, repository.NoTX, c)
				return "SOON"
			},
			want: domain.ErrCouponExpired,
		},
		{
			name: "already used by this user",
			arrange: func(r *MockCouponRepo) string {
				c := r.seedCoupon("SAVE20", model.DiscountPercentage, "20", intPtr(100))
				_, _ = r.RecordUsage(ctx, repository.NoTX, &model.CouponUsage{ID: "u1", CouponID: c.ID, UserID: "user-1", PurchaseID: "p0"})
				return "SAVE20"
			},
			want: domain.ErrCouponAlreadyUsed,
		},
		{
			name: "usage cap reached",
			arrange: func(r *MockCouponRepo) string {
				c := r.seedCoupon("ONCE", model.DiscountFixed, "50", intPtr(1))
				c.CurrentUses = 1
				_ = r.Save(ctx, repository.NoTX, c)
				return "ONCE"
			},
			want: domain.ErrCouponLimitReached,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := NewMockCouponRepo()
			uc := usecase.NewCouponUseCase(repo, newTestLogger())
			code := tc.arrange(repo)

			res := uc.Validate(ctx, code, "user-1", cart)

			if res.Valid {
				t.Fatal("expected coupon to be rejected")
			}
			if !errors.Is(res.Err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, res.Err)
			}
			if !errors.Is(res.Err, domain.ErrCouponInvalid) {
				t.Error("every rejection must match ErrCouponInvalid")
			}
			if !res.Discount.IsZero() {
				t.Errorf("rejected coupon must not discount, got %s", res.Discount)
			}
		})
	}
}

func TestCouponUseCase_Validate_RepositoryError(t *testing.T) {
	repo := NewMockCouponRepo()
	boom := errors.New("db down")
	repo.FindByCodeFunc = func(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
		return nil, boom
	}
	uc := usecase.NewCouponUseCase(repo, newTestLogger())

	res := uc.Validate(context.Background(), "SAVE20", "user-1", []model.CartItem{item("a", "10")})
	if res.Valid || !errors.Is(res.Err, boom) {
		t.Fatalf("expected infrastructure error to surface, got %+v", res)
	}
	if errors.Is(res.Err, domain.ErrCouponInvalid) {
		t.Fatal("infrastructure errors are not coupon rejections")
	}
}

func TestCouponDiscount_LowestItemRule(t *testing.T) {
	tests := []struct {
		name   string
		typ    model.DiscountType
		value  string
		months *int
		cart   []model.CartItem
		want   string
	}{
		{"percentage single item uses subtotal", model.DiscountPercentage, "20", nil, []model.CartItem{item("a", "1000")}, "200"},
		{"percentage multi item uses lowest", model.DiscountPercentage, "50", nil, []model.CartItem{item("a", "500"), item("b", "2000")}, "250"},
		{"fixed multi item capped at lowest", model.DiscountFixed, "100", nil, []model.CartItem{item("a", "500"), item("b", "2000")}, "100"},
		{"fixed larger than lowest", model.DiscountFixed, "800", nil, []model.CartItem{item("a", "500"), item("b", "2000")}, "500"},
		{"fixed single item capped at subtotal", model.DiscountFixed, "800", nil, []model.CartItem{item("a", "300")}, "300"},
		{"percentage rounds half up", model.DiscountPercentage, "15", nil, []model.CartItem{item("a", "0.3")}, "0.05"},
		{"free months on monthly item", model.DiscountFreeMonths, "0", intPtr(1), []model.CartItem{monthly("a", "499"), item("b", "2000")}, "499"},
		{"free months capped at lowest price", model.DiscountFreeMonths, "0", intPtr(3), []model.CartItem{monthly("a", "499"), item("b", "2000")}, "499"},
		{"free months on non-monthly uses twelfth", model.DiscountFreeMonths, "0", intPtr(2), []model.CartItem{item("a", "1200"), item("b", "5000")}, "200"},
		{"free months from discount value", model.DiscountFreeMonths, "1", nil, []model.CartItem{item("a", "1000")}, "83.33"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := model.NewCoupon("X", tc.typ, dec(tc.value), tc.months, nil, time.Now().Add(-time.Hour), nil)
			if err != nil {
				t.Fatalf("new coupon: %v", err)
			}
			got := usecase.CouponDiscount(c, tc.cart)
			if !got.Equal(dec(tc.want)) {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
			if got.GreaterThan(model.Subtotal(tc.cart)) {
				t.Fatalf("discount %s exceeds subtotal", got)
			}
		})
	}
}

func TestCouponUseCase_ValidateAndCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewMockCouponRepo()
	uc := usecase.NewCouponUseCase(repo, newTestLogger())

	c, err := model.NewCoupon(" flat100 ", model.DiscountFixed, dec("100"), nil, nil, time.Now().Add(-time.Minute), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := uc.Create(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := uc.Create(ctx, c); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on duplicate, got %v", err)
	}

	res := uc.Validate(ctx, "Flat100", "user-1", []model.CartItem{item("a", "500"), item("b", "2000")})
	if !res.Valid {
		t.Fatalf("expected valid coupon, got %v", res.Err)
	}
	if !res.Discount.Equal(dec("100")) {
		t.Fatalf("expected discount 100, got %s", res.Discount)
	}
	if res.Coupon.Code != "FLAT100" {
		t.Fatalf("expected canonical code, got %q", res.Coupon.Code)
	}
}
