// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-reseller-checkout/internal/application"
	"ai-reseller-checkout/internal/config"
	"ai-reseller-checkout/internal/infra/api"
	pg "ai-reseller-checkout/internal/infra/db/postgres"
	"ai-reseller-checkout/internal/infra/events"
	"ai-reseller-checkout/internal/infra/logging"
	"ai-reseller-checkout/internal/infra/metrics"
	"ai-reseller-checkout/internal/infra/payment"
	red "ai-reseller-checkout/internal/infra/redis"
	"ai-reseller-checkout/internal/infra/sched"
	"ai-reseller-checkout/internal/infra/scheduler"
	"ai-reseller-checkout/internal/infra/security"
	"ai-reseller-checkout/internal/infra/worker"
	"ai-reseller-checkout/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

var _ scheduler.Job = (*application.Sessions)(nil)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, insecure fallbacks)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Str("commit", commit).Bool("dev", cfg.Runtime.Dev).Msg("starting checkout service")

	// ---- Postgres ----
	if cfg.Database.AutoMigrate {
		if err := pg.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)
	rateLimiter := red.NewRateLimiter(redisClient)
	carts := red.NewCartClearer(redisClient)

	// ---- Encryption ----
	encKey := cfg.Security.EncryptionKey
	if encKey == "" {
		if !cfg.Runtime.Dev {
			logger.Fatal().Msg("security.encryption_key is required")
		}
		logger.Warn().Msg("security.encryption_key not set; using dev key (INSECURE)")
		encKey = "dev-only-encryption-key"
	}
	sealer, err := security.NewFieldSealer(encKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}

	// ---- Repositories ----
	purchaseRepo := pg.NewPurchaseRepo(pool, sealer)
	couponRepo := pg.NewCouponRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Gateway ----
	rp := cfg.Payment.Razorpay
	gateway, err := payment.NewRazorpayGateway(rp.KeyID, rp.KeySecret, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("razorpay gateway")
	}
	signer := payment.NewHMACVerifier(rp.KeySecret, rp.WebhookSecret)
	widget := payment.NewHostedWidget(rp.ScriptURL, &http.Client{Timeout: 10 * time.Second}, logger)

	// ---- Events ----
	publisher := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("close event publisher")
		}
	}()

	// ---- Use cases ----
	co := cfg.Checkout
	couponUC := usecase.NewCouponUseCase(couponRepo, logger)
	orderUC := usecase.NewOrderUseCase(purchaseRepo, couponRepo, txManager, couponUC, gateway, publisher, usecase.OrderOptions{
		TaxRate:  co.Rate(),
		Currency: co.Currency,
		OrderTTL: co.OrderTTL,
	}, logger)
	verifyUC := usecase.NewVerifyUseCase(orderUC, purchaseRepo, gateway, signer, locker, usecase.VerifyOptions{
		LockTTL:  cfg.Redis.LockTTL,
		LockWait: cfg.Redis.LockWait,
	}, logger)

	// ---- Hosted checkouts ----
	sessions := application.NewSessions(func(cb application.Callbacks) *application.Checkout {
		return application.NewCheckout(orderUC, verifyUC, widget, carts, cb, application.Options{
			PollInterval:  co.PollInterval,
			WidgetTimeout: co.WidgetTimeout,
			WidgetRetries: co.WidgetRetries,
			GatewayKey:    gateway.PublicKey(),
			MerchantName:  co.MerchantName,
			ThemeColor:    co.ThemeColor,
		}, logger)
	}, co.SessionIdle, logger)
	defer sessions.Close()

	// ---- Workers ----
	workers := worker.NewPool(cfg.Scheduler.Workers, logger)
	workers.Start(ctx)
	defer workers.Stop()

	sc := cfg.Scheduler
	jobs := []*scheduler.Scheduler{
		scheduler.NewScheduler(sc.SweepInterval, 30*time.Second, sched.NewExpirySweeper(orderUC, 0), logger),
		scheduler.NewScheduler(sc.ReconcileInterval, sc.ReconcileInterval,
			sched.NewPaymentReconciler(verifyUC, purchaseRepo, workers, sc.ReconcileStaleAfter, logger), logger),
		scheduler.NewScheduler(time.Minute, 10*time.Second, sessions, logger),
	}
	for _, j := range jobs {
		j.Start(ctx)
	}

	// ---- HTTP ----
	srv := api.NewServer(api.Deps{
		Orders:              orderUC,
		Coupons:             couponUC,
		Verify:              verifyUC,
		Bridge:              widget,
		Auth:                api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Limiter:             rateLimiter,
		CouponRatePerMinute: co.CouponRate,
		Sessions:            sessions,
		Health: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		},
	}, cfg.HTTP, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	for _, j := range jobs {
		j.Stop()
	}
	cancel()
}
