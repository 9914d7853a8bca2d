package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"paypal-billing-service/internal/client"
	"paypal-billing-service/internal/config"
	"paypal-billing-service/internal/repository"
	"paypal-billing-service/internal/server"
	"paypal-billing-service/internal/service"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Log, cfg.Environment)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := client.InitDatabase(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	paypalClient := client.NewPaypalClient(&cfg.Paypal)

	webhookEventRepo, err := newWebhookEventRepository(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	statusRepo := repository.NewStatusRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	retryRepo := repository.NewRetryRepository(db)
	deadLetterRepo := repository.NewDeadLetterRepository(db)

	publisher, err := client.InitDeadLetterPublisher(ctx, &cfg.DeadLetter)
	if err != nil {
		return fmt.Errorf("init dead letter publisher: %w", err)
	}
	if publisher == nil {
		logger.Info("dead letter publishing disabled")
	}

	trackerService := service.NewTrackerService(db, paypalClient, statusRepo, logger)
	customerService := service.NewCustomerService(paypalClient, customerRepo, logger)
	retryService := service.NewRetryService(
		retryRepo,
		deadLetterRepo,
		webhookEventRepo,
		publisher,
		cfg.Retry,
		cfg.Webhook,
		logger,
	)
	webhookService := service.NewWebhookService(
		paypalClient,
		webhookEventRepo,
		trackerService,
		customerService,
		retryService,
		cfg.Paypal,
		cfg.Webhook,
		logger,
	)
	subscriptionService := service.NewSubscriptionService(paypalClient, &cfg.Paypal, logger)

	if cfg.Paypal.WebhookSecret == "" && !cfg.Paypal.VerifyRemote {
		logger.Warn("no webhook signature verification configured; every webhook will be rejected")
	}

	srv := server.NewServer(server.Services{
		Webhooks:      webhookService,
		Retries:       retryService,
		Tracker:       trackerService,
		Customers:     customerService,
		Subscriptions: subscriptionService,
	}, server.Options{
		WebhookID:  cfg.Paypal.WebhookID,
		AdminToken: cfg.AdminToken,
		Logger:     logger,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		retryService.Run(ctx, webhookService)
	}()

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", serverAddr)
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("signal received, starting graceful shutdown")
	case err := <-serverErr:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

func newWebhookEventRepository(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *slog.Logger) (repository.WebhookEventRepository, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyRedis:
		rdb, err := client.InitRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		logger.Info("using redis for webhook idempotency", "addr", cfg.Redis.Addr)
		return repository.NewRedisWebhookEventRepository(rdb), nil
	case config.IdempotencyGorm, "":
		return repository.NewWebhookEventRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Idempotency.Backend)
	}
}
