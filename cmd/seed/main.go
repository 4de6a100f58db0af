package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"ai-reseller-checkout/internal/config"
	"ai-reseller-checkout/internal/domain"
	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/domain/ports/repository"
	pg "ai-reseller-checkout/internal/infra/db/postgres"
	"ai-reseller-checkout/internal/infra/logging"
	"ai-reseller-checkout/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	couponRepo := pg.NewCouponRepo(pool)
	couponUC := usecase.NewCouponUseCase(couponRepo, logger)

	one := 1
	seed := []struct {
		Code    string
		Type    model.DiscountType
		Value   string
		MaxUses *int
	}{
		{"SAVE20", model.DiscountPercentage, "20", &one},
		{"FLAT100", model.DiscountFixed, "100", nil},
	}

	for _, s := range seed {
		existing, err := couponRepo.FindByCode(ctx, repository.NoTX, s.Code)
		if err == nil {
			fmt.Printf("  - %s already present (id=%s, uses=%d)\n", existing.Code, existing.ID, existing.CurrentUses)
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			log.Fatalf("lookup coupon %q: %v", s.Code, err)
		}

		c, err := model.NewCoupon(s.Code, s.Type, decimal.RequireFromString(s.Value), nil, s.MaxUses, time.Now().Add(-time.Minute), nil)
		if err != nil {
			log.Fatalf("build coupon %q: %v", s.Code, err)
		}
		if err := couponUC.Create(ctx, c); err != nil {
			log.Fatalf("create coupon %q: %v", s.Code, err)
		}
		fmt.Printf("seeded: %s (id=%s, type=%s, value=%s)\n", c.Code, c.ID, c.DiscountType, c.DiscountValue)
	}

	fmt.Println("Seeding complete.")
}
