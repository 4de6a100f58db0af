package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"ai-reseller-checkout/internal/application"
	"ai-reseller-checkout/internal/config"
	"ai-reseller-checkout/internal/domain/ports/adapter"
	"ai-reseller-checkout/internal/infra/metrics"
	"ai-reseller-checkout/internal/infra/payment"
	"ai-reseller-checkout/internal/usecase"
)

// WidgetBridge relays browser widget callbacks into open widget sessions.
type WidgetBridge interface {
	Deliver(orderID string, msg payment.BridgeMessage) error
	Options(orderID string) (adapter.WidgetOptions, bool)
}

type Deps struct {
	Orders  usecase.OrderUseCase
	Coupons usecase.CouponUseCase
	Verify  usecase.VerifyUseCase
	Bridge  WidgetBridge
	Auth    *AuthManager
	Limiter Limiter
	// CouponRatePerMinute caps coupon validations per user; 0 means 30.
	CouponRatePerMinute int
	// Sessions hosts server-side checkouts; nil leaves the /checkout routes unmounted.
	Sessions *application.Sessions
	// Health reports readiness of backing stores; nil means always healthy.
	Health func(ctx context.Context) error
}

type Server struct {
	deps    Deps
	cfg     config.HTTPConfig
	log     *zerolog.Logger
	httpSrv *http.Server
}

func NewServer(deps Deps, cfg config.HTTPConfig, logger *zerolog.Logger) *Server {
	lg := logger.With().Str("component", "http").Logger()
	return &Server{deps: deps, cfg: cfg, log: &lg}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	couponRate := s.deps.CouponRatePerMinute
	if couponRate <= 0 {
		couponRate = 30
	}
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(timeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/razorpay", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.deps.Auth.RequireUser)

			r.Post("/orders", s.handleCreateOrder)
			r.Get("/purchases", s.handleListPurchases)
			r.Get("/purchases/{id}", s.handleGetPurchase)
			r.Patch("/purchases/{id}/status", s.handleUpdateStatus)
			r.Post("/purchases/{id}/reissue", s.handleReissue)
			r.With(RateLimit(s.deps.Limiter, "coupons.validate", couponRate, time.Minute, s.log)).
				Post("/coupons/validate", s.handleValidateCoupon)
			r.Post("/payments/verify", s.handleVerify)
			if s.deps.Sessions != nil {
				r.Post("/checkout", s.handleStartCheckout)
				r.Get("/checkout", s.handleCheckoutState)
				r.Delete("/checkout", s.handleDropCheckout)
				r.Post("/checkout/retry", s.handleRetryCheckout)
			}
			r.Get("/checkout/{orderID}/options", s.handleWidgetOptions)
			r.Post("/checkout/{orderID}/events", s.handleWidgetEvent)
		})
	})
	return r
}

// Start serves until Shutdown; http.ErrServerClosed is reported as nil.
func (s *Server) Start() error {
	port := s.cfg.Port
	if port == 0 {
		port = 8080
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
