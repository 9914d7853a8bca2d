package server

import (
	"context"
	"log/slog"
	"net/http"
	"paypal-billing-service/internal/handler"
	appmiddleware "paypal-billing-service/internal/middleware"
	"paypal-billing-service/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Services struct {
	Webhooks      service.WebhookService
	Retries       service.RetryService
	Tracker       service.TrackerService
	Customers     service.CustomerService
	Subscriptions service.SubscriptionService
}

type Options struct {
	WebhookID  string
	AdminToken string
	Logger     *slog.Logger
}

type Server struct {
	echo                *echo.Echo
	webhookHandler      *handler.WebhookHandler
	subscriptionHandler *handler.SubscriptionHandler
	adminHandler        *handler.AdminHandler
	adminToken          string
}

func NewServer(services Services, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(opts.Logger)

	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:                e,
		webhookHandler:      handler.NewWebhookHandler(services.Webhooks, opts.WebhookID, opts.Logger),
		subscriptionHandler: handler.NewSubscriptionHandler(services.Subscriptions, services.Tracker),
		adminHandler: handler.NewAdminHandler(
			services.Retries,
			services.Webhooks,
			services.Tracker,
			services.Customers,
			services.Subscriptions,
		),
		adminToken: opts.AdminToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- webhooks --------
	api.GET("/webhooks/paypal/health", s.webhookHandler.Health)
	api.POST("/webhooks/:provider", s.webhookHandler.Receive)

	// -------- subscriptions --------
	subscriptions := api.Group("/subscriptions")
	subscriptions.POST("", s.subscriptionHandler.CreateSubscription)
	subscriptions.GET("", s.subscriptionHandler.ListSubscriptions)
	subscriptions.GET("/:id", s.subscriptionHandler.GetSubscription)
	subscriptions.PATCH("/:id", s.subscriptionHandler.UpdateSubscription)
	subscriptions.POST("/:id/cancel", s.subscriptionHandler.CancelSubscription)
	subscriptions.GET("/:id/status", s.subscriptionHandler.GetStatus)
	subscriptions.GET("/:id/history", s.subscriptionHandler.GetHistory)
	subscriptions.GET("/:id/metrics", s.subscriptionHandler.GetMetrics)
	subscriptions.POST("/:id/sync", s.subscriptionHandler.SyncStatus)

	api.GET("/plans", s.subscriptionHandler.ListPlans)
	api.GET("/plans/:key", s.subscriptionHandler.GetPlan)

	// -------- operators --------
	admin := api.Group("/admin", appmiddleware.AdminTokenMiddleware(s.adminToken))
	admin.GET("/retries", s.adminHandler.ListRetries)
	admin.GET("/retries/stats", s.adminHandler.RetryStats)
	admin.POST("/retries/cleanup", s.adminHandler.CleanupRetries)
	admin.GET("/retries/:webhookID", s.adminHandler.GetRetry)
	admin.DELETE("/retries/:webhookID", s.adminHandler.CancelRetry)

	admin.GET("/dead-letters", s.adminHandler.ListDeadLetters)
	admin.POST("/dead-letters/:id/replay", s.adminHandler.ReplayDeadLetter)

	admin.GET("/status/summary", s.adminHandler.StatusSummary)
	admin.GET("/status/subscriptions", s.adminHandler.SubscriptionsByStatus)

	admin.GET("/customers", s.adminHandler.ListCustomers)
	admin.POST("/customers", s.adminHandler.CreateCustomer)
	admin.GET("/customers/:id", s.adminHandler.GetCustomer)
	admin.PATCH("/customers/:id", s.adminHandler.UpdateCustomer)
	admin.PUT("/customers/:id/status", s.adminHandler.UpdateCustomerStatus)
	admin.PUT("/customers/:id/paypal", s.adminHandler.LinkCustomer)
	admin.DELETE("/customers/:id", s.adminHandler.DeleteCustomer)

	admin.POST("/plans/:key/billing-plan", s.adminHandler.CreateBillingPlan)
	admin.GET("/billing-plans/:id", s.adminHandler.GetBillingPlan)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
