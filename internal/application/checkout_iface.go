package application

import (
	"context"

	"ai-reseller-checkout/internal/domain/model"
	"ai-reseller-checkout/internal/usecase"
)

// ---- small interfaces to decouple the orchestrator from concrete use cases ----
// These describe the minimal surface that Checkout needs, so tests can pass light-weight fakes.

type OrderService interface {
	CreateOrder(ctx context.Context, in usecase.CreateOrderInput) (*usecase.OrderData, error)
	UpdateStatus(ctx context.Context, purchaseID string, status model.PaymentStatus, gatewayPaymentID, method *string) (*model.Purchase, error)
	GetDetails(ctx context.Context, purchaseID string) (*model.Purchase, error)
	IsPayable(p *model.Purchase) bool
	Reissue(ctx context.Context, userID, purchaseID string) (*usecase.OrderData, error)
}

type PaymentVerifier interface {
	Verify(ctx context.Context, in usecase.VerifyInput) (*usecase.VerifyResult, error)
}

var (
	_ OrderService    = (usecase.OrderUseCase)(nil)
	_ PaymentVerifier = (usecase.VerifyUseCase)(nil)
)
